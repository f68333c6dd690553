package rpc

import (
	"context"
	"sync"

	"connectrpc.com/connect"
	"github.com/tailored-agentic-units/relay/core/protocol"
)

// receiver moves a blocking, context-unaware Receive onto its own goroutine
// so callers can abandon the wait when their context ends. The goroutine
// exits once the stream reports an error or stop is closed.
type receiver struct {
	recv      func() (*protocol.Message, error)
	results   chan received
	stop      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

type received struct {
	msg protocol.Message
	err error
}

func newReceiver(recv func() (*protocol.Message, error)) *receiver {
	return &receiver{
		recv:    recv,
		results: make(chan received),
		stop:    make(chan struct{}),
	}
}

func (r *receiver) receive(ctx context.Context) (protocol.Message, error) {
	r.startOnce.Do(func() { go r.pump() })

	select {
	case res := <-r.results:
		return res.msg, res.err
	case <-r.stop:
		return protocol.Message{}, context.Canceled
	case <-ctx.Done():
		return protocol.Message{}, ctx.Err()
	}
}

func (r *receiver) pump() {
	for {
		msg, err := r.recv()

		var res received
		if err != nil {
			res.err = err
		} else {
			res.msg = *msg
		}

		select {
		case r.results <- res:
		case <-r.stop:
			return
		}

		if err != nil {
			return
		}
	}
}

// send runs a blocking, context-unaware Send on its own goroutine. If ctx
// ends first the call is abandoned; the goroutine returns once the stream
// is torn down.
func send(ctx context.Context, fn func(*protocol.Message) error, msg protocol.Message) error {
	if ctx.Done() == nil {
		return fn(&msg)
	}

	result := make(chan error, 1)
	go func() { result <- fn(&msg) }()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *receiver) shutdown() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// ServerConn adapts the server side of a chat stream to relay.Conn.
type ServerConn struct {
	stream *connect.BidiStream[protocol.Message, protocol.Message]
	recv   *receiver
}

func NewServerConn(stream *connect.BidiStream[protocol.Message, protocol.Message]) *ServerConn {
	return &ServerConn{
		stream: stream,
		recv:   newReceiver(stream.Receive),
	}
}

// Receive returns the next client message; io.EOF once the client closes
// its side.
func (c *ServerConn) Receive(ctx context.Context) (protocol.Message, error) {
	return c.recv.receive(ctx)
}

func (c *ServerConn) Send(ctx context.Context, msg protocol.Message) error {
	return send(ctx, c.stream.Send, msg)
}

// Close stops waiting for client messages. The stream itself is finished
// by the handler returning.
func (c *ServerConn) Close() error {
	c.recv.shutdown()
	return nil
}

// ClientConn adapts the client side of a chat stream. It satisfies
// relay.Conn, so it can feed or drain a session directly.
type ClientConn struct {
	stream *connect.BidiStreamForClient[protocol.Message, protocol.Message]
	recv   *receiver
}

func NewClientConn(stream *connect.BidiStreamForClient[protocol.Message, protocol.Message]) *ClientConn {
	return &ClientConn{
		stream: stream,
		recv:   newReceiver(stream.Receive),
	}
}

// Receive returns the next server message; io.EOF once the server has
// finished the stream.
func (c *ClientConn) Receive(ctx context.Context) (protocol.Message, error) {
	return c.recv.receive(ctx)
}

// Send writes msg to the server. When the server has already closed the
// stream Send returns io.EOF and the cause surfaces on Receive.
func (c *ClientConn) Send(ctx context.Context, msg protocol.Message) error {
	return send(ctx, c.stream.Send, msg)
}

// CloseSend half-closes the stream: the server sees the end of its inbound
// stream while responses keep flowing.
func (c *ClientConn) CloseSend() error {
	return c.stream.CloseRequest()
}

// Close abandons both directions of the stream.
func (c *ClientConn) Close() error {
	c.recv.shutdown()
	_ = c.stream.CloseRequest()
	return c.stream.CloseResponse()
}
