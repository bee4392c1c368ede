package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/rpcpool/tact-cas/archive"
	"github.com/rpcpool/tact-cas/config"
	"github.com/rpcpool/tact-cas/encoding"
	"github.com/urfave/cli/v2"
)

func newCmd_Inspect() *cli.Command {
	return &cli.Command{
		Name:        "inspect",
		Description: "print archive and encoding-table statistics for a CAS directory",
		ArgsUsage:   "<dir>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "encoding",
				Usage: "hex EKey of the encoding table file to summarize, if any",
			},
		},
		Action: func(c *cli.Context) error {
			dir := c.Args().First()
			if dir == "" {
				return fmt.Errorf("inspect: missing <dir> argument")
			}
			cfg := config.Default()

			store, err := archive.Open(dir, cfg)
			if err != nil {
				return fmt.Errorf("inspect: open archives: %w", err)
			}
			defer store.Close()

			stats, err := store.Stats()
			if err != nil {
				return fmt.Errorf("inspect: stat archives: %w", err)
			}

			var totalBytes int64
			var totalRecords int
			fmt.Printf("archives: %d\n", len(stats))
			for _, s := range stats {
				fmt.Printf("  %-40s  %10s  %7d records\n",
					s.Blob, humanize.Bytes(uint64(s.Bytes)), s.NumRecords)
				totalBytes += s.Bytes
				totalRecords += s.NumRecords
			}
			fmt.Printf("total: %s across %d records\n", humanize.Bytes(uint64(totalBytes)), totalRecords)

			if encHex := c.String("encoding"); encHex != "" {
				f, err := os.Open(dir + string(os.PathSeparator) + encHex)
				if err != nil {
					return fmt.Errorf("inspect: open encoding table: %w", err)
				}
				defer f.Close()

				table, err := encoding.Open(f, nil)
				if err != nil {
					return fmt.Errorf("inspect: decode encoding table: %w", err)
				}
				numCKeys, numEKeys, numESpecs := table.Stats()
				fmt.Printf("encoding table %s: %d content keys, %d encoded keys, %d espec strings\n",
					encHex, numCKeys, numEKeys, numESpecs)
			}
			return nil
		},
	}
}
