package relay

import (
	"context"

	"github.com/tailored-agentic-units/relay/observability"
)

// read is the session's inbound flow. It is the only flow that moves the
// session out of Active on its own account, and it always closes the queue
// on exit so the writer can drain and finish.
func (s *Session) read(ctx context.Context) {
	for {
		msg, err := s.conn.Receive(ctx)
		if err != nil {
			reason, cause := s.classify(ctx, err)
			if reason == ReasonReceiveError {
				s.emit(ctx, EventReaderError, observability.LevelWarning, "relay.reader", map[string]any{
					"error":    err.Error(),
					"received": s.received.Load(),
				})
			}
			s.close(ctx, reason, cause)
			return
		}

		s.touch()
		s.received.Add(1)
		s.metrics.recordIn()

		s.emit(ctx, EventReaderMessage, observability.LevelVerbose, "relay.reader", map[string]any{
			"sender": msg.Sender,
			"length": len(msg.Content),
		})

		if err := s.queue.Enqueue(ctx, s.transform(msg)); err != nil {
			// A closed queue means the writer gave up; that is a normal
			// stop for the reader, not an error of its own.
			reason, cause := s.classify(ctx, err)
			s.close(ctx, reason, cause)
			return
		}
	}
}
