package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rpcpool/tact-cas/archive"
	"github.com/rpcpool/tact-cas/cas"
	"github.com/rpcpool/tact-cas/config"
	"github.com/rpcpool/tact-cas/encoding"
	"github.com/rpcpool/tact-cas/hash"
	"github.com/urfave/cli/v2"
)

func newCmd_Get() *cli.Command {
	return &cli.Command{
		Name:        "get",
		Description: "resolve a content key or encoded key to decoded bytes on stdout",
		ArgsUsage:   "<dir> <encoding-ekey-hex>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "ckey", Usage: "hex CKey to resolve through the encoding table"},
			&cli.StringFlag{Name: "ekey", Usage: "hex EKey to resolve directly, bypassing the encoding table"},
		},
		Action: func(c *cli.Context) error {
			dir := c.Args().Get(0)
			encodingHex := c.Args().Get(1)
			if dir == "" || encodingHex == "" {
				return fmt.Errorf("get: usage: get <dir> <encoding-ekey-hex> [--ckey=... | --ekey=...]")
			}
			cfg := config.Default()

			store, err := archive.Open(dir, cfg)
			if err != nil {
				return fmt.Errorf("get: open archives: %w", err)
			}
			defer store.Close()

			f, err := os.Open(dir + string(os.PathSeparator) + encodingHex)
			if err != nil {
				return fmt.Errorf("get: open encoding table: %w", err)
			}
			defer f.Close()

			table, err := encoding.Open(f, nil)
			if err != nil {
				return fmt.Errorf("get: decode encoding table: %w", err)
			}

			reader := cas.NewReader(table, store, nil)

			var body io.Reader
			switch {
			case c.String("ckey") != "":
				ckey, err := hash.Parse(c.String("ckey"))
				if err != nil {
					return fmt.Errorf("get: parse --ckey: %w", err)
				}
				body, err = reader.OpenByCKey(c.Context, ckey)
				if err != nil {
					return fmt.Errorf("get: resolve ckey: %w", err)
				}
			case c.String("ekey") != "":
				ekey, err := hash.Parse(c.String("ekey"))
				if err != nil {
					return fmt.Errorf("get: parse --ekey: %w", err)
				}
				body, err = reader.OpenByEKey(c.Context, ekey)
				if err != nil {
					return fmt.Errorf("get: resolve ekey: %w", err)
				}
			default:
				return fmt.Errorf("get: one of --ckey or --ekey is required")
			}

			_, err = io.Copy(os.Stdout, body)
			return err
		},
	}
}
