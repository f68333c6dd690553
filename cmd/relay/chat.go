package main

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/tailored-agentic-units/relay/client"
)

func newChatCmd(a *app) *cobra.Command {
	var overrides client.Config
	var noPrompt bool

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with a relay server from the terminal",
		Long: "chat sends every line read from stdin to the server and prints each " +
			"message it sends back. Type \"exit\" to leave.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg.Client
			cfg.Merge(&overrides)
			if noPrompt {
				cfg.Prompt = false
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			stream, err := client.Connect(ctx, &cfg, a.observer)
			if err != nil {
				return fmt.Errorf("connect to %s: %w", cfg.Addr, err)
			}
			defer stream.Close()

			fmt.Fprintln(cmd.OutOrStdout(), "Connected to chat server...")
			return client.New(&cfg, a.observer).Chat(ctx, stream, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&overrides.Addr, "addr", "", "Server base URL (overrides config)")
	cmd.Flags().StringVar(&overrides.Transport, "transport", "", "Transport: rpc or ws (overrides config)")
	cmd.Flags().StringVar(&overrides.Protocol, "protocol", "", "RPC protocol: connect, grpc or grpcweb (overrides config)")
	cmd.Flags().StringVar(&overrides.Codec, "codec", "", "RPC codec: proto, json or cbor (overrides config)")
	cmd.Flags().StringVar(&overrides.Sender, "sender", "", "Sender label (overrides config)")
	cmd.Flags().BoolVar(&noPrompt, "no-prompt", false, "Do not prompt before each line")

	return cmd
}
