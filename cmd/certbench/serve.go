package main

import (
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/buckleypaul/certbench/internal/api"
	"github.com/buckleypaul/certbench/internal/logging"
	"github.com/buckleypaul/certbench/internal/metrics"
)

const defaultAPIAddr = "127.0.0.1:8080"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bench headless behind the HTTP API",
	Long: `Serve supervises the device and exposes state, plugins, runs and the
live log feed over HTTP and WebSocket. Prometheus metrics are served on
/metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")

		root, cfg, err := workspace()
		if err != nil {
			return err
		}
		if addr == "" {
			addr = cfg.APIAddr
		}
		if addr == "" {
			addr = defaultAPIAddr
		}

		logger := newLogger(cfg, os.Stderr)
		m := metrics.New()
		b, err := newBench(root, cfg, logger, m)
		if err != nil {
			return err
		}
		srv := api.New(b, m, logging.WithComponent(logger, "api"))

		g, ctx := errgroup.WithContext(cmd.Context())
		g.Go(func() error { return b.Run(ctx) })
		g.Go(func() error { return srv.ListenAndServe(ctx, addr) })
		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default: api_addr from config, else "+defaultAPIAddr+")")
}
