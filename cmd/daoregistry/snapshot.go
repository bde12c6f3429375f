package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/bitfsorg/daoregistry-go/config"
	"github.com/bitfsorg/daoregistry-go/paymail"
	"github.com/bitfsorg/daoregistry-go/registry"
	"github.com/bitfsorg/daoregistry-go/rpc"
	"github.com/bitfsorg/daoregistry-go/snapshot"
)

var snapshotCmd = cli.Command{
	Name:  "snapshot",
	Usage: "compute the holder snapshot and register it in batches",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "out", Usage: "write the computed snapshot to this file and stop"},
		&cli.StringFlag{Name: "in", Usage: "submit a snapshot file instead of scanning"},
		passwordFileFlag,
	},
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		log, closeLog, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer closeLog()

		var members []registry.Member
		if in := c.String("in"); in != "" {
			if members, err = snapshot.ReadFile(in); err != nil {
				return err
			}
			log.Info("snapshot loaded", zap.String("file", in), zap.Int("members", len(members)))
		} else {
			if members, err = buildSnapshot(c, cfg, log); err != nil {
				return err
			}
		}

		if out := c.String("out"); out != "" {
			if err := snapshot.WriteFile(out, members); err != nil {
				return err
			}
			log.Info("snapshot written", zap.String("file", out), zap.Int("members", len(members)))
			return nil
		}

		if cfg.Snapshot.RPCURL == "" {
			return fmt.Errorf("snapshot.rpc_url is not configured")
		}
		key, err := loadKey(c, cfg)
		if err != nil {
			return err
		}
		batches, err := snapshot.Chunk(members, cfg.Snapshot.BatchSize)
		if err != nil {
			return err
		}

		client := rpc.NewClient(rpc.ClientConfig{URL: cfg.Snapshot.RPCURL})
		sub, err := snapshot.NewSubmitter(client, key, cfg.Snapshot.BatchDelay, log)
		if err != nil {
			return err
		}
		n, err := sub.Submit(c.Context, batches, uint64(time.Now().UnixMilli()))
		if err != nil {
			return fmt.Errorf("%d of %d batches registered: %w", n, len(batches), err)
		}
		log.Info("snapshot registered", zap.Int("members", len(members)), zap.Int("batches", n))
		return nil
	},
}

func buildSnapshot(c *cli.Context, cfg config.Config, log *zap.Logger) ([]registry.Member, error) {
	if cfg.Snapshot.APIURL == "" {
		return nil, fmt.Errorf("snapshot.api_url is not configured: it must name a holder indexer that reports P2PKH addresses or paymail handles")
	}

	var dnsResolver paymail.DNSResolver = paymail.DefaultDNSResolver
	if upstream := cfg.Snapshot.DNSSECUpstream; upstream != "" {
		dnsResolver = paymail.NewDNSSECResolver(upstream, cfg.Snapshot.DNSSECTimeout)
		log.Info("resolving paymail hosts with DNSSEC", zap.String("upstream", upstream))
	}

	b, err := snapshot.NewBuilder(
		snapshot.NewAPIClient(cfg.Snapshot.APIURL, 0),
		paymail.NewResolver(dnsResolver),
		snapshot.BuilderConfig{
			TokenID:       cfg.Snapshot.TokenID,
			MinHold:       cfg.Snapshot.MinHold,
			MaxUnresolved: cfg.Snapshot.MaxUnresolved,
			CollectionID:  cfg.Snapshot.CollectionID,
			PageSize:      cfg.Snapshot.PageSize,
			MaxPages:      cfg.Snapshot.MaxPages,
			PageDelay:     cfg.Snapshot.PageDelay,
		},
		log,
	)
	if err != nil {
		return nil, err
	}
	return b.Build(c.Context)
}
