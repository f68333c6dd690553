package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tailored-agentic-units/relay/relay"
	"github.com/tailored-agentic-units/relay/server"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		addr        string
		label       string
		capacity    int
		idleTimeout time.Duration
		maxLifetime time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.cfg.Server.Merge(&server.Config{Addr: addr})
			a.cfg.Relay.Merge(&relay.Config{
				Label:       label,
				Capacity:    capacity,
				IdleTimeout: idleTimeout,
				MaxLifetime: maxLifetime,
			})

			opts := []server.Option{server.WithObserver(a.observer)}
			if a.verbose {
				opts = append(opts, server.WithRequestLog())
			}
			srv := server.New(&a.cfg.Server, &a.cfg.Relay, opts...)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Fprintf(cmd.OutOrStdout(), "Starting chat server on %s...\n", a.cfg.Server.Addr)
			return srv.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides config)")
	cmd.Flags().StringVar(&label, "label", "", "Relayer label for outbound messages (overrides config)")
	cmd.Flags().IntVar(&capacity, "capacity", 0, "Per-session queue capacity (overrides config)")
	cmd.Flags().DurationVar(&idleTimeout, "idle-timeout", 0, "Close sessions idle this long (overrides config)")
	cmd.Flags().DurationVar(&maxLifetime, "max-lifetime", 0, "Close sessions older than this (overrides config)")

	return cmd
}
