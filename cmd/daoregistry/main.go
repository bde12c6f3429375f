package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/bitfsorg/daoregistry-go/config"
)

func main() {
	app := &cli.App{
		Name:  "daoregistry",
		Usage: "owner-gated DAO membership registry",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   config.ConfigPath(config.DefaultDataDir()),
				Usage:   "path to the YAML config file",
				EnvVars: []string{config.EnvPrefix + "CONFIG"},
			},
		},
		Commands: []*cli.Command{
			&serveCmd,
			&keygenCmd,
			&snapshotCmd,
			&weightCmd,
			&membersCmd,
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		cancel()
	}()

	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "runtime error: %+v\n", err)
		os.Exit(1)
	}
}
