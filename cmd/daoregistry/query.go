package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/bitfsorg/daoregistry-go/config"
	"github.com/bitfsorg/daoregistry-go/registry"
	"github.com/bitfsorg/daoregistry-go/rpc"
)

var tokenFlag = &cli.StringFlag{Name: "token", Usage: "token identifier hint"}

var weightCmd = cli.Command{
	Name:      "weight",
	Usage:     "print the vote weight of an address",
	ArgsUsage: "<address>",
	Flags:     []cli.Flag{tokenFlag},
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return cli.ShowSubcommandHelp(c)
		}
		addr, err := registry.ParseAddress(c.Args().First())
		if err != nil {
			return err
		}
		client, err := queryClient(c)
		if err != nil {
			return err
		}
		w, err := client.GetDaoVoteWeight(c.Context, addr, tokenHint(c))
		if err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, w.String())
		return nil
	},
}

var membersCmd = cli.Command{
	Name:  "members",
	Usage: "list all members in registry order",
	Flags: []cli.Flag{tokenFlag},
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		members, err := newQueryClient(cfg).GetDaoMembers(c.Context, tokenHint(c))
		if err != nil {
			return err
		}
		mainnet := cfg.Network == "mainnet"
		for _, m := range members {
			fmt.Fprintf(c.App.Writer, "%s %s\n", m.Address.Encode(mainnet), m.Weight)
		}
		return nil
	},
}

func queryClient(c *cli.Context) (*rpc.Client, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	return newQueryClient(cfg), nil
}

func newQueryClient(cfg config.Config) *rpc.Client {
	return rpc.NewClient(rpc.ClientConfig{URL: cfg.Snapshot.RPCURL})
}
