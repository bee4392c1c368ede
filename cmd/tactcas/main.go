// Command tactcas is a thin CLI over the tact-cas core, demonstrating the
// CasReader/CasWriter surface (spec.md §6) the way the teacher's faithful
// CLI demonstrates its CAR/CID store: one urfave/cli/v2 app, one subcommand
// per operation, a signal-cancelable context threaded through RunContext.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/rpcpool/tact-cas/internal/obs"
	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"
)

var gitCommitSHA = ""

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := obs.InitTracerProvider(ctx)
	if err != nil {
		klog.Fatalf("init tracing: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			klog.Errorf("shut down tracing: %v", err)
		}
	}()

	go func() {
		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, syscall.SIGTERM, syscall.SIGINT)

		select {
		case <-interrupt:
			fmt.Println()
			klog.Info("received interrupt signal")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(interrupt)
	}()

	app := &cli.App{
		Name:        "tactcas",
		Version:     gitCommitSHA,
		Description: "inspect, read and pack TACT-style content-addressed archive directories",
		Commands: []*cli.Command{
			newCmd_Inspect(),
			newCmd_Get(),
			newCmd_Pack(),
		},
	}

	sort.Sort(cli.CommandsByName(app.Commands))

	if err := app.RunContext(ctx, os.Args); err != nil {
		klog.Fatal(err)
	}
}
