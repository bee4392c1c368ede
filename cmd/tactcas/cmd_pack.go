package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rpcpool/tact-cas/blte"
	"github.com/rpcpool/tact-cas/cas"
	"github.com/rpcpool/tact-cas/config"
	"github.com/urfave/cli/v2"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

func newCmd_Pack() *cli.Command {
	return &cli.Command{
		Name:        "pack",
		Description: "BLTE-encode every file under a source directory and flush them into a fresh CAS directory",
		ArgsUsage:   "<src-dir> <out-dir>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "espec",
				Usage: "encoding specification applied to every packed file",
				Value: "z",
			},
		},
		Action: func(c *cli.Context) error {
			srcDir := c.Args().Get(0)
			outDir := c.Args().Get(1)
			if srcDir == "" || outDir == "" {
				return fmt.Errorf("pack: usage: pack <src-dir> <out-dir>")
			}
			espec, err := blte.ParseESpec(c.String("espec"))
			if err != nil {
				return fmt.Errorf("pack: parse --espec: %w", err)
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("pack: mkdir %s: %w", outDir, err)
			}

			var files []string
			if err := filepath.WalkDir(srcDir, walkFunc(&files)); err != nil {
				return fmt.Errorf("pack: walk %s: %w", srcDir, err)
			}

			cfg := config.Default()
			writer := cas.NewWriter(cfg)

			progress := mpb.New(mpb.WithWidth(60))
			bar := progress.AddBar(int64(len(files)),
				mpb.PrependDecorators(decor.Name("packing")),
				mpb.AppendDecorators(decor.CountersNoUnit("%d / %d"), decor.Percentage()),
			)

			var totalPlain int64
			for _, path := range files {
				plain, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("pack: read %s: %w", path, err)
				}
				if _, _, err := writer.Put(plain, espec); err != nil {
					return fmt.Errorf("pack: put %s: %w", path, err)
				}
				totalPlain += int64(len(plain))
				bar.Increment()
			}
			progress.Wait()

			encodingEKey, err := writer.Commit(c.Context, outDir)
			if err != nil {
				return fmt.Errorf("pack: commit: %w", err)
			}

			fmt.Printf("packed %d files (%s plaintext) into %s\n", len(files), decor.SizeB1000(totalPlain), outDir)
			fmt.Printf("encoding table: %s\n", encodingEKey.String())
			return nil
		},
	}
}

func walkFunc(files *[]string) func(path string, d os.DirEntry, err error) error {
	return func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		*files = append(*files, path)
		return nil
	}
}
