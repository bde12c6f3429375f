package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/bitfsorg/daoregistry-go/keystore"
	"github.com/bitfsorg/daoregistry-go/registry"
)

var keygenCmd = cli.Command{
	Name:  "keygen",
	Usage: "create an encrypted owner key and print its address",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "out", Usage: "key file path (default: snapshot.key_file or <data_dir>/owner.key)"},
		passwordFileFlag,
	},
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		path := c.String("out")
		if path == "" {
			path = keyFile(cfg)
		}
		pw, err := readPassword(c)
		if err != nil {
			return err
		}

		priv, err := keystore.GenerateKey()
		if err != nil {
			return err
		}
		if err := keystore.Save(path, priv, pw); err != nil {
			return err
		}
		addr, err := registry.AddressFromPublicKey(priv.PubKey())
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "key:     %s\naddress: %s\n", path, addr.Encode(cfg.Network == "mainnet"))
		return nil
	},
}
