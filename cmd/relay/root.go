package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tailored-agentic-units/relay/config"
	"github.com/tailored-agentic-units/relay/observability"
)

// app carries state shared by every command once the root has loaded the
// configuration.
type app struct {
	configFile string
	verbose    bool

	cfg      *config.Config
	logger   *slog.Logger
	observer observability.Observer
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "relay",
		Short: "Duplex message relay",
		Long: "relay runs a bidirectional chat relay over connect/gRPC and WebSocket, " +
			"an interactive client for it, and a few host utilities.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.configFile, "config", "", "Path to a TOML, JSON or YAML config file")
	rootCmd.PersistentFlags().BoolVar(&a.verbose, "verbose", false, "Enable debug logging to stderr")

	rootCmd.AddCommand(
		newVersionCmd(),
		newServeCmd(a),
		newChatCmd(a),
		newInfoCmd(),
		newProxyCmd(a),
		newConfigCmd(a),
	)

	return rootCmd
}

func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.LoadConfig(a.configFile)
	if err != nil {
		return err
	}
	if a.verbose {
		cfg.LogLevel = "debug"
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(cfg.LogLevel))); err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}

	a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: level,
	}))
	observability.RegisterObserver("slog", observability.NewSlogObserver(a.logger))

	obs, err := observability.GetObserver(cfg.Observer)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.observer = obs
	return nil
}
