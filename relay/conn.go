package relay

import (
	"context"

	"github.com/tailored-agentic-units/relay/core/protocol"
)

// Source is the incoming half of a connection. Receive blocks until the next
// message arrives and returns io.EOF when the stream ends normally or
// ErrSentinel when the peer asked to stop. Implementations must return
// promptly once ctx is done.
type Source interface {
	Receive(ctx context.Context) (protocol.Message, error)
}

// Sink is the outgoing half of a connection.
type Sink interface {
	Send(ctx context.Context, msg protocol.Message) error
}

// Conn is a duplex connection handle supplied by a transport. A session
// uses it but does not own it, except that a Conn implementing io.Closer is
// closed when its session terminates.
type Conn interface {
	Source
	Sink
}

// Listener yields connections for Manager.Serve. Accept returns net.ErrClosed
// once the listener is closed.
type Listener interface {
	Accept(ctx context.Context) (Conn, error)
}

type joined struct {
	Source
	Sink
}

// Join pairs an independent source and sink into a Conn, e.g. a terminal
// reader feeding a network stream.
func Join(src Source, sink Sink) Conn {
	return joined{Source: src, Sink: sink}
}
