package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/bitfsorg/daoregistry-go/config"
	"github.com/bitfsorg/daoregistry-go/keystore"
	"github.com/bitfsorg/daoregistry-go/logging"
	"github.com/bitfsorg/daoregistry-go/registry"
)

// passwordEnv holds the key file password for non-interactive use.
const passwordEnv = config.EnvPrefix + "KEY_PASSWORD"

var passwordFileFlag = &cli.StringFlag{
	Name:  "password-file",
	Usage: "read the key file password from this file instead of $" + passwordEnv,
}

func loadConfig(c *cli.Context) (config.Config, error) {
	return config.Load(c.String("config"))
}

func newLogger(cfg config.Config) (*zap.Logger, func(), error) {
	return logging.New(logging.Config{
		Level:    cfg.LogLevel,
		Encoding: cfg.LogEncoding,
		File:     cfg.LogFile,
	})
}

func keyFile(cfg config.Config) string {
	if cfg.Snapshot.KeyFile != "" {
		return cfg.Snapshot.KeyFile
	}
	return filepath.Join(cfg.DataDir, "owner.key")
}

func readPassword(c *cli.Context) (string, error) {
	if path := c.String(passwordFileFlag.Name); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read password file: %w", err)
		}
		return strings.TrimRight(string(data), "\r\n"), nil
	}
	pw, ok := os.LookupEnv(passwordEnv)
	if !ok || pw == "" {
		return "", fmt.Errorf("no key password: set $%s or --%s", passwordEnv, passwordFileFlag.Name)
	}
	return pw, nil
}

func loadKey(c *cli.Context, cfg config.Config) (*ec.PrivateKey, error) {
	pw, err := readPassword(c)
	if err != nil {
		return nil, err
	}
	return keystore.Load(keyFile(cfg), pw)
}

func tokenHint(c *cli.Context) *registry.TokenID {
	if !c.IsSet("token") {
		return nil
	}
	t := registry.TokenID(c.String("token"))
	return &t
}
