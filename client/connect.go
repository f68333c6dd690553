package client

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/tailored-agentic-units/relay/observability"
	"github.com/tailored-agentic-units/relay/transport/rpc"
	"github.com/tailored-agentic-units/relay/transport/ws"
)

const (
	TransportRPC = "rpc"
	TransportWS  = "ws"
)

// Connect opens a chat stream to cfg.Addr over the configured transport.
func Connect(ctx context.Context, cfg *Config, obs observability.Observer) (Stream, error) {
	switch cfg.Transport {
	case "", TransportRPC:
		opts, err := rpc.ClientOptions(cfg.Protocol, cfg.Codec)
		if err != nil {
			return nil, err
		}
		conn, err := rpc.NewClient(rpc.NewH2CClient(), cfg.Addr, opts...).Open(ctx)
		if err != nil {
			return nil, err
		}
		return conn, nil

	case TransportWS:
		target, err := WebSocketURL(cfg.Addr)
		if err != nil {
			return nil, err
		}
		retry := ws.RetryConfig{
			MaxRetries:  cfg.MaxRetries,
			MaxInterval: cfg.MaxRetryInterval,
		}
		conn, err := ws.DialRetry(ctx, target, retry, obs)
		if err != nil {
			return nil, err
		}
		return conn, nil

	default:
		return nil, fmt.Errorf("unknown transport: %s", cfg.Transport)
	}
}

// WebSocketURL derives the WebSocket endpoint from a server base URL:
// http becomes ws, https becomes wss, and an empty path becomes ws.Path.
func WebSocketURL(addr string) (string, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return "", fmt.Errorf("parse server address: %w", err)
	}

	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server address scheme: %q", u.Scheme)
	}

	if strings.Trim(u.Path, "/") == "" {
		u.Path = ws.Path
	}
	return u.String(), nil
}
