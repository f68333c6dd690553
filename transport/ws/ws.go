// Package ws carries relay sessions over WebSocket connections. Each text
// frame holds one JSON-encoded message.
package ws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/tailored-agentic-units/relay/core/protocol"
	"github.com/tailored-agentic-units/relay/observability"
	"github.com/tailored-agentic-units/relay/relay"
)

const closeGrace = time.Second

// Path is where relay servers accept WebSocket connections.
const Path = "/ws"

// EventDialRetry is emitted before each reconnect attempt.
const EventDialRetry observability.EventType = "ws.dial.retry"

// Conn adapts a WebSocket connection to relay.Conn.
type Conn struct {
	ws        *websocket.Conn
	closeSent atomic.Bool
	closeOnce sync.Once
}

// NewConn wraps ws. The peer's close frame is not answered automatically:
// it surfaces as io.EOF from Receive, and the answer is sent by Close once
// every buffered message has been written.
func NewConn(ws *websocket.Conn) *Conn {
	ws.SetCloseHandler(func(int, string) error { return nil })
	return &Conn{ws: ws}
}

// Receive reads the next message. A normal close from the peer yields
// io.EOF. When ctx ends the pending read is interrupted.
func (c *Conn) Receive(ctx context.Context) (protocol.Message, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = c.ws.SetReadDeadline(time.Now())
	})
	defer stop()

	var msg protocol.Message
	if err := c.ws.ReadJSON(&msg); err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return protocol.Message{}, io.EOF
		}
		if ctx.Err() != nil {
			return protocol.Message{}, ctx.Err()
		}
		return protocol.Message{}, err
	}
	return msg, nil
}

// Send writes msg as a JSON text frame, bounded by ctx's deadline if any.
// When ctx ends the pending write is interrupted, which leaves the
// connection unusable for further writes.
func (c *Conn) Send(ctx context.Context, msg protocol.Message) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.ws.SetWriteDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.ws.SetWriteDeadline(time.Now())
	})
	defer stop()

	if err := c.ws.WriteJSON(msg); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// CloseSend tells the peer no more messages follow. Incoming messages can
// still be received until the peer closes as well.
func (c *Conn) CloseSend() error {
	if !c.closeSent.CompareAndSwap(false, true) {
		return nil
	}
	return c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeGrace),
	)
}

// Close sends a normal close frame if none was sent yet and closes the
// underlying connection.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		_ = c.CloseSend()
		err = c.ws.Close()
	})
	return err
}

// Listener upgrades HTTP requests to WebSocket connections and hands them
// to Accept, typically driven by relay.Manager.Serve.
type Listener struct {
	upgrader websocket.Upgrader
	conns    chan *Conn
	done     chan struct{}
	once     sync.Once
}

// NewListener creates a Listener that queues up to backlog upgraded
// connections not yet accepted.
func NewListener(backlog int) *Listener {
	return &Listener{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns: make(chan *Conn, backlog),
		done:  make(chan struct{}),
	}
}

func (l *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-l.done:
		http.Error(w, "listener closed", http.StatusServiceUnavailable)
		return
	default:
	}

	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		return
	}

	conn := NewConn(ws)
	select {
	case l.conns <- conn:
	case <-l.done:
		_ = conn.Close()
	}
}

// Accept returns the next upgraded connection, or net.ErrClosed after Close.
func (l *Listener) Accept(ctx context.Context) (relay.Conn, error) {
	select {
	case conn := <-l.conns:
		return conn, nil
	case <-l.done:
		return nil, net.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting connections. Queued connections are closed.
func (l *Listener) Close() error {
	l.once.Do(func() {
		close(l.done)
		for {
			select {
			case conn := <-l.conns:
				_ = conn.Close()
			default:
				return
			}
		}
	})
	return nil
}

// Dial opens a WebSocket connection to url.
func Dial(ctx context.Context, url string) (*Conn, error) {
	d := websocket.Dialer{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 45 * time.Second,
	}
	ws, _, err := d.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return NewConn(ws), nil
}

// RetryConfig bounds reconnect attempts. A negative MaxRetries retries
// forever; zero dials once.
type RetryConfig struct {
	MaxRetries  int
	MaxInterval time.Duration
}

// DialRetry dials url, backing off exponentially between failed attempts.
func DialRetry(ctx context.Context, url string, cfg RetryConfig, obs observability.Observer) (*Conn, error) {
	b := &backoff.Backoff{Max: cfg.MaxInterval}

	for {
		conn, err := Dial(ctx, url)
		if err == nil {
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		attempt := int(b.Attempt())
		if cfg.MaxRetries >= 0 && attempt >= cfg.MaxRetries {
			return nil, fmt.Errorf("dial %s failed after %d attempts: %w", url, attempt+1, err)
		}

		d := b.Duration()
		observability.Emit(ctx, obs, observability.Event{
			Type:   EventDialRetry,
			Level:  observability.LevelWarning,
			Source: "ws.DialRetry",
			Data: map[string]any{
				"error":   err.Error(),
				"attempt": attempt + 1,
				"delay":   d.String(),
			},
		})

		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, errors.Join(ctx.Err(), err)
		}
	}
}
