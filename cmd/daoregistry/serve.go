package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bitfsorg/daoregistry-go/logging"
	"github.com/bitfsorg/daoregistry-go/metrics"
	"github.com/bitfsorg/daoregistry-go/registry"
	"github.com/bitfsorg/daoregistry-go/rpc"
)

var serveCmd = cli.Command{
	Name:  "serve",
	Usage: "host the registry over JSON-RPC",
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

		store, err := registry.OpenBoltStore(filepath.Join(cfg.DataDir, "registry.db"))
		if err != nil {
			return err
		}
		defer store.Close()

		deployer, err := deployerAddress(cfg.Owner, store)
		if err != nil {
			return err
		}
		reg, err := registry.New(store, deployer)
		if err != nil {
			return err
		}
		if cfg.Owner != "" && reg.Owner() != deployer {
			log.Warn("configured owner ignored, database already has an owner",
				zap.String("configured", cfg.Owner),
				logging.Address("owner", reg.Owner()))
		}

		var m *metrics.Metrics
		if cfg.MetricsAddr != "" {
			m = metrics.New(prometheus.NewRegistry())
		}

		srv, err := rpc.NewServer(rpc.ServerConfig{
			Registry:        reg,
			Logger:          log,
			Metrics:         m,
			Mainnet:         cfg.Network == "mainnet",
			MaxRequestBytes: cfg.MaxRequestBytes,
		})
		if err != nil {
			return err
		}

		log.Info("registry ready",
			zap.String("owner", reg.Owner().Encode(cfg.Network == "mainnet")),
			zap.String("data_dir", cfg.DataDir))

		g, ctx := errgroup.WithContext(c.Context)
		g.Go(func() error { return srv.ListenAndServe(ctx, cfg.ListenAddr) })
		if m != nil {
			g.Go(func() error {
				log.Info("serving metrics", zap.String("addr", cfg.MetricsAddr))
				return m.Serve(ctx, cfg.MetricsAddr)
			})
		}
		return g.Wait()
	},
}

// deployerAddress returns the configured owner. It is required only when the
// store has no owner yet.
func deployerAddress(owner string, store registry.Store) (registry.Address, error) {
	if owner != "" {
		return registry.ParseAddress(owner)
	}
	existing, err := store.Owner()
	if errors.Is(err, registry.ErrNoOwner) {
		return registry.Address{}, fmt.Errorf("owner must be configured on first start")
	}
	return existing, err
}
