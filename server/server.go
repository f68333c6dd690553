// Package server hosts relay sessions over HTTP. One listener carries the
// connect/gRPC chat service and the WebSocket endpoint, speaking HTTP/1.1
// and cleartext HTTP/2 so bidirectional RPC streams work without TLS.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/jpillora/requestlog"
	"github.com/tailored-agentic-units/relay/observability"
	"github.com/tailored-agentic-units/relay/relay"
	"github.com/tailored-agentic-units/relay/transport/rpc"
	"github.com/tailored-agentic-units/relay/transport/ws"
)

const (
	EventListening observability.EventType = "server.listening"
	EventStopped   observability.EventType = "server.stopped"
)

// Config holds listener settings.
type Config struct {
	Addr            string        `json:"addr" toml:"addr"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" toml:"shutdown_timeout"`
}

// DefaultConfig listens on [::1]:50051 and allows five seconds to drain.
func DefaultConfig() Config {
	return Config{
		Addr:            "[::1]:50051",
		ShutdownTimeout: 5 * time.Second,
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.Addr != "" {
		c.Addr = source.Addr
	}
	if source.ShutdownTimeout > 0 {
		c.ShutdownTimeout = source.ShutdownTimeout
	}
}

// Option customizes a Server.
type Option func(*Server)

// WithObserver sets the observer for server and session events.
func WithObserver(obs observability.Observer) Option {
	return func(s *Server) {
		if obs != nil {
			s.observer = obs
		}
	}
}

// WithRequestLog logs WebSocket and stats requests to stdout.
func WithRequestLog() Option {
	return func(s *Server) { s.requestLog = true }
}

// Server owns the session manager and the HTTP endpoints feeding it.
type Server struct {
	cfg        Config
	observer   observability.Observer
	requestLog bool

	manager  *relay.Manager
	listener *ws.Listener
	handler  http.Handler
}

// New builds a Server whose sessions use relayCfg.
func New(cfg *Config, relayCfg *relay.Config, opts ...Option) *Server {
	s := &Server{
		cfg:      *cfg,
		observer: observability.NoOpObserver{},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.manager = relay.NewManager(relayCfg, relay.WithObserver(s.observer))
	s.listener = ws.NewListener(64)

	mux := http.NewServeMux()
	mux.Handle(rpc.NewHandler(s.manager))
	mux.Handle(ws.Path, s.logged(s.listener))
	mux.Handle("GET /stats", s.logged(http.HandlerFunc(s.stats)))
	s.handler = mux

	return s
}

// Manager returns the session manager.
func (s *Server) Manager() *relay.Manager {
	return s.manager
}

// Handler returns the HTTP handler serving every endpoint.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down: WebSocket accepts
// stop, sessions are cancelled and drained, and finally the HTTP server
// closes. ln is closed on return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	protocols := new(http.Protocols)
	protocols.SetHTTP1(true)
	protocols.SetUnencryptedHTTP2(true)

	srv := &http.Server{
		Handler:           s.handler,
		Protocols:         protocols,
		ReadHeaderTimeout: 10 * time.Second,
	}

	observability.Emit(ctx, s.observer, observability.Event{
		Type:   EventListening,
		Level:  observability.LevelInfo,
		Source: "server",
		Data:   map[string]any{"addr": ln.Addr().String()},
	})

	accepting := make(chan error, 1)
	go func() {
		accepting <- s.manager.Serve(ctx, s.listener)
	}()

	serving := make(chan error, 1)
	go func() {
		serving <- srv.Serve(ln)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-serving:
	}

	_ = s.listener.Close()
	if err := <-accepting; err != nil && serveErr == nil {
		serveErr = err
	}

	shutdownErr := s.manager.Shutdown(s.cfg.ShutdownTimeout)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		shutdownErr = errors.Join(shutdownErr, fmt.Errorf("http shutdown: %w", err))
	}

	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		shutdownErr = errors.Join(serveErr, shutdownErr)
	}

	data := map[string]any{}
	if shutdownErr != nil {
		data["error"] = shutdownErr.Error()
	}
	observability.Emit(context.WithoutCancel(ctx), s.observer, observability.Event{
		Type:   EventStopped,
		Level:  observability.LevelInfo,
		Source: "server",
		Data:   data,
	})

	return shutdownErr
}

func (s *Server) logged(h http.Handler) http.Handler {
	if !s.requestLog {
		return h
	}
	return requestlog.Wrap(h)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.manager.Metrics())
}
