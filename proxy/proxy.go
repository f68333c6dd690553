// Package proxy forwards each inbound HTTP request to a fixed upstream and
// relays the response back unchanged. Request and response bodies are
// buffered whole; there is no streaming, caching or retrying.
package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tailored-agentic-units/relay/observability"
)

const (
	EventRequest  observability.EventType = "proxy.request"
	EventResponse observability.EventType = "proxy.response"
	EventError    observability.EventType = "proxy.error"
)

// ErrInvalidUpstream is returned for an upstream that is not an absolute
// http or https URL.
var ErrInvalidUpstream = errors.New("invalid upstream URL")

// Config holds proxy settings.
type Config struct {
	Listen       string `json:"listen" toml:"listen"`
	Upstream     string `json:"upstream" toml:"upstream"`
	MaxBodyBytes int64  `json:"max_body_bytes" toml:"max_body_bytes"`
}

// DefaultConfig returns the proxy defaults: listen on 127.0.0.1:3000,
// forward to http://127.0.0.1:8080, accept bodies up to 10 MiB.
func DefaultConfig() Config {
	return Config{
		Listen:       "127.0.0.1:3000",
		Upstream:     "http://127.0.0.1:8080",
		MaxBodyBytes: 10 << 20,
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.Listen != "" {
		c.Listen = source.Listen
	}
	if source.Upstream != "" {
		c.Upstream = source.Upstream
	}
	if source.MaxBodyBytes > 0 {
		c.MaxBodyBytes = source.MaxBodyBytes
	}
}

// Hop-by-hop headers apply to a single connection and are never forwarded.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Forwarder is an http.Handler that performs one upstream request per
// inbound request.
type Forwarder struct {
	upstream string
	maxBody  int64
	client   *http.Client
	observer observability.Observer
}

// NewForwarder validates cfg.Upstream and builds a Forwarder. A nil client
// uses http.DefaultClient; a nil observer discards events.
func NewForwarder(cfg *Config, client *http.Client, obs observability.Observer) (*Forwarder, error) {
	u, err := url.Parse(cfg.Upstream)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidUpstream, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidUpstream, cfg.Upstream)
	}

	if client == nil {
		client = http.DefaultClient
	}
	if obs == nil {
		obs = observability.NoOpObserver{}
	}

	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultConfig().MaxBodyBytes
	}

	return &Forwarder{
		upstream: strings.TrimRight(u.String(), "/"),
		maxBody:  maxBody,
		client:   client,
		observer: obs,
	}, nil
}

func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	target := f.upstream + r.URL.RequestURI()

	f.emit(ctx, EventRequest, observability.LevelInfo, map[string]any{
		"method": r.Method,
		"uri":    r.URL.RequestURI(),
		"target": target,
	})

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, f.maxBody))
	if err != nil {
		f.fail(w, r, http.StatusBadRequest, "Body error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, target, bytes.NewReader(body))
	if err != nil {
		f.fail(w, r, http.StatusBadGateway, "Upstream error", err)
		return
	}
	copyHeaders(req.Header, r.Header)

	resp, err := f.client.Do(req)
	if err != nil {
		f.fail(w, r, http.StatusBadGateway, "Upstream error", err)
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		f.fail(w, r, http.StatusBadGateway, "Upstream error", err)
		return
	}

	f.emit(ctx, EventResponse, observability.LevelInfo, map[string]any{
		"status": resp.StatusCode,
		"bytes":  len(respBody),
	})

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(respBody)
}

func (f *Forwarder) fail(w http.ResponseWriter, r *http.Request, status int, prefix string, err error) {
	f.emit(r.Context(), EventError, observability.LevelError, map[string]any{
		"status": status,
		"error":  err.Error(),
	})
	http.Error(w, fmt.Sprintf("%s: %v", prefix, err), status)
}

func (f *Forwarder) emit(ctx context.Context, t observability.EventType, level observability.Level, data map[string]any) {
	observability.Emit(ctx, f.observer, observability.Event{
		Type:   t,
		Level:  level,
		Source: "proxy",
		Data:   data,
	})
}

// copyHeaders copies src into dst, leaving out hop-by-hop headers and any
// header src's Connection field names.
func copyHeaders(dst, src http.Header) {
	skip := make(map[string]bool, len(hopHeaders))
	for _, h := range hopHeaders {
		skip[h] = true
	}
	for _, v := range src.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				skip[http.CanonicalHeaderKey(name)] = true
			}
		}
	}

	for name, values := range src {
		if skip[http.CanonicalHeaderKey(name)] {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}
