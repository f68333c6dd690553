package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpillora/requestlog"
	"github.com/spf13/cobra"
	"github.com/tailored-agentic-units/relay/proxy"
)

func newProxyCmd(a *app) *cobra.Command {
	var overrides proxy.Config

	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Run a reverse proxy to a single upstream",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg.Proxy
			cfg.Merge(&overrides)

			forwarder, err := proxy.NewForwarder(&cfg, nil, a.observer)
			if err != nil {
				return err
			}

			var handler http.Handler = forwarder
			if a.verbose {
				handler = requestlog.Wrap(handler)
			}

			ln, err := net.Listen("tcp", cfg.Listen)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", cfg.Listen, err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Upstream server: %s\n", cfg.Upstream)
			fmt.Fprintf(out, "Reverse proxy running on http://%s\n", ln.Addr())

			return serveHTTP(ctx, ln, handler, a.cfg.Server.ShutdownTimeout)
		},
	}

	cmd.Flags().StringVar(&overrides.Listen, "listen", "", "Listen address (overrides config)")
	cmd.Flags().StringVar(&overrides.Upstream, "upstream", "", "Upstream base URL (overrides config)")
	cmd.Flags().Int64Var(&overrides.MaxBodyBytes, "max-body-bytes", 0, "Request body limit in bytes (overrides config)")

	return cmd
}

// serveHTTP serves handler on ln until ctx is done, then shuts down
// gracefully within timeout.
func serveHTTP(ctx context.Context, ln net.Listener, handler http.Handler, timeout time.Duration) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serving := make(chan error, 1)
	go func() {
		serving <- srv.Serve(ln)
	}()

	select {
	case err := <-serving:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-serving; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
