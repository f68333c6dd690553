package relay_test

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tailored-agentic-units/relay/core/protocol"
	"github.com/tailored-agentic-units/relay/relay"
)

// pipeConn is an in-memory relay.Conn. Messages written to in are received
// by the session; closing in ends the stream with io.EOF.
type pipeConn struct {
	in   chan inbound
	gate chan struct{}

	failAfter int
	sendErr   error

	mu     sync.Mutex
	out    []protocol.Message
	notify chan struct{}

	closed atomic.Bool
}

type inbound struct {
	msg protocol.Message
	err error
}

func newPipeConn() *pipeConn {
	return &pipeConn{
		in:        make(chan inbound),
		notify:    make(chan struct{}, 1),
		failAfter: -1,
	}
}

// blockSends makes Send wait until release is called or its ctx ends, like
// a peer that stopped reading.
func (c *pipeConn) blockSends() {
	c.gate = make(chan struct{})
}

func (c *pipeConn) release() {
	close(c.gate)
}

func (c *pipeConn) Receive(ctx context.Context) (protocol.Message, error) {
	select {
	case r, ok := <-c.in:
		if !ok {
			return protocol.Message{}, io.EOF
		}
		return r.msg, r.err
	case <-ctx.Done():
		return protocol.Message{}, ctx.Err()
	}
}

func (c *pipeConn) Send(ctx context.Context, msg protocol.Message) error {
	if c.gate != nil {
		select {
		case <-c.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failAfter >= 0 && len(c.out) >= c.failAfter {
		return c.sendErr
	}
	c.out = append(c.out, msg)

	select {
	case c.notify <- struct{}{}:
	default:
	}
	return nil
}

func (c *pipeConn) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *pipeConn) sent() []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Message(nil), c.out...)
}

func (c *pipeConn) feed(t *testing.T, msgs ...protocol.Message) {
	t.Helper()
	for _, msg := range msgs {
		select {
		case c.in <- inbound{msg: msg}:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out feeding %q", msg.Content)
		}
	}
}

func (c *pipeConn) fail(t *testing.T, err error) {
	t.Helper()
	select {
	case c.in <- inbound{err: err}:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out feeding receive error")
	}
}

// chanListener hands out connections pushed onto conns.
type chanListener struct {
	conns chan relay.Conn
	done  chan struct{}
	once  sync.Once
}

func newChanListener() *chanListener {
	return &chanListener{conns: make(chan relay.Conn), done: make(chan struct{})}
}

func (l *chanListener) Accept(ctx context.Context) (relay.Conn, error) {
	select {
	case conn := <-l.conns:
		return conn, nil
	case <-l.done:
		return nil, net.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *chanListener) Close() {
	l.once.Do(func() { close(l.done) })
}

func runSession(t *testing.T, s *relay.Session) <-chan error {
	t.Helper()
	result := make(chan error, 1)
	go func() {
		result <- s.Run(context.Background())
	}()
	return result
}

func waitResult(t *testing.T, result <-chan error) error {
	t.Helper()
	select {
	case err := <-result:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("session did not terminate")
		return nil
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func messages(sender string, contents ...string) []protocol.Message {
	msgs := make([]protocol.Message, len(contents))
	for i, c := range contents {
		msgs[i] = protocol.NewMessage(c, sender)
	}
	return msgs
}
