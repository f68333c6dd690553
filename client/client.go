// Package client implements the interactive side of a chat: lines typed by
// the user stream to the relay while every message coming back is printed.
//
// The outbound direction is itself a relay session whose source is a
// LineSource and whose sink is the transport stream, so it has the same
// bounded buffering and termination rules as the server side.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tailored-agentic-units/relay/observability"
	"github.com/tailored-agentic-units/relay/relay"
)

const (
	EventChatStart    observability.EventType = "client.chat.start"
	EventChatReceived observability.EventType = "client.chat.received"
	EventChatEnd      observability.EventType = "client.chat.end"
)

// Stream is a client-side chat stream. CloseSend tells the server that no
// more messages follow while responses keep arriving.
type Stream interface {
	relay.Conn
	CloseSend() error
}

// Config holds client settings.
type Config struct {
	// Addr is the server's base URL, e.g. http://[::1]:50051.
	Addr string `json:"addr" toml:"addr"`

	// Transport selects "rpc" or "ws".
	Transport string `json:"transport" toml:"transport"`

	// Protocol and Codec apply to the rpc transport.
	Protocol string `json:"protocol" toml:"protocol"`
	Codec    string `json:"codec" toml:"codec"`

	// MaxRetries and MaxRetryInterval bound reconnects of the ws
	// transport. A negative MaxRetries retries forever.
	MaxRetries       int           `json:"max_retries" toml:"max_retries"`
	MaxRetryInterval time.Duration `json:"max_retry_interval" toml:"max_retry_interval"`

	Sender   string `json:"sender" toml:"sender"`
	Capacity int    `json:"capacity" toml:"capacity"`
	Prompt   bool   `json:"prompt" toml:"prompt"`
}

// DefaultConfig returns the settings of the interactive client.
func DefaultConfig() Config {
	return Config{
		Addr:             "http://[::1]:50051",
		Transport:        TransportRPC,
		Protocol:         "connect",
		Codec:            "proto",
		MaxRetries:       3,
		MaxRetryInterval: 5 * time.Second,
		Sender:           "Client",
		Capacity:         128,
		Prompt:           true,
	}
}

// Merge applies non-zero values from source into c. Prompt is a toggle
// and is left alone.
func (c *Config) Merge(source *Config) {
	if source.Addr != "" {
		c.Addr = source.Addr
	}
	if source.Transport != "" {
		c.Transport = source.Transport
	}
	if source.Protocol != "" {
		c.Protocol = source.Protocol
	}
	if source.Codec != "" {
		c.Codec = source.Codec
	}
	if source.MaxRetries != 0 {
		c.MaxRetries = source.MaxRetries
	}
	if source.MaxRetryInterval > 0 {
		c.MaxRetryInterval = source.MaxRetryInterval
	}
	if source.Sender != "" {
		c.Sender = source.Sender
	}
	if source.Capacity > 0 {
		c.Capacity = source.Capacity
	}
}

// Client runs chats over streams supplied by a transport.
type Client struct {
	cfg      Config
	observer observability.Observer
}

// New creates a Client. A nil observer discards events.
func New(cfg *Config, obs observability.Observer) *Client {
	if obs == nil {
		obs = observability.NoOpObserver{}
	}
	return &Client{cfg: *cfg, observer: obs}
}

// Chat sends each line of in over stream and writes every inbound message
// to out as "Received message: <content> from <sender>". It returns once
// input has ended (end of input or the exit token) and the server has
// finished its side, or as soon as either direction fails.
func (c *Client) Chat(ctx context.Context, stream Stream, in io.Reader, out io.Writer) error {
	parent := ctx
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	out = &syncWriter{w: out}

	var prompt io.Writer
	if c.cfg.Prompt {
		prompt = out
	}
	src := NewLineSource(in, c.cfg.Sender, prompt)
	defer src.Close()

	sess, err := relay.NewSession(
		relay.Join(src, stream),
		&relay.Config{Capacity: c.cfg.Capacity},
		relay.WithTransform(relay.PassThrough),
		relay.WithObserver(c.observer),
	)
	if err != nil {
		return err
	}

	c.emit(ctx, EventChatStart, observability.LevelInfo, sess.ID(), nil)

	printed := make(chan error, 1)
	go func() {
		err := c.print(ctx, stream, out, sess.ID())
		// The server is done with us; stop reading input.
		cancel()
		printed <- err
	}()

	sendErr := sess.Run(ctx)
	if sess.Reason() == relay.ReasonSentinel {
		fmt.Fprintln(out, "Exiting chat...")
	}
	if errors.Is(sendErr, context.Canceled) {
		sendErr = nil
	}

	switch {
	case sendErr != nil:
		cancel()
	case ctx.Err() == nil:
		if err := stream.CloseSend(); err != nil {
			sendErr = fmt.Errorf("close send: %w", err)
			cancel()
		}
	}

	result := <-printed
	if result == nil {
		result = sendErr
	}
	if result == nil {
		result = parent.Err()
	}

	data := map[string]any{"reason": string(sess.Reason())}
	if result != nil {
		data["error"] = result.Error()
	}
	c.emit(ctx, EventChatEnd, observability.LevelInfo, sess.ID(), data)

	return result
}

// print writes inbound messages until the server ends the stream.
func (c *Client) print(ctx context.Context, stream Stream, out io.Writer, id string) error {
	for {
		msg, err := stream.Receive(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}

		c.emit(ctx, EventChatReceived, observability.LevelVerbose, id, map[string]any{
			"sender": msg.Sender,
		})
		fmt.Fprintf(out, "Received message: %s from %s\n", msg.Content, msg.Sender)
	}
}

func (c *Client) emit(ctx context.Context, t observability.EventType, level observability.Level, id string, data map[string]any) {
	observability.Emit(context.WithoutCancel(ctx), c.observer, observability.Event{
		Type:      t,
		Level:     level,
		Source:    "client",
		SessionID: id,
		Data:      data,
	})
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Write(p)
}
