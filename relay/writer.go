package relay

import (
	"context"
	"errors"

	"github.com/tailored-agentic-units/relay/observability"
	"github.com/tailored-agentic-units/relay/queue"
)

// write is the session's outbound flow. It emits queued messages in order
// until the queue is closed and drained. A send failure aborts the flow
// immediately, closes the queue and cancels the reader.
//
// ctx outlives a cancelled reader so buffered messages are still delivered.
// It ends only at the session's maximum lifetime or on Abort, and then the
// flow stops with whatever is left in the queue.
func (s *Session) write(ctx context.Context) {
	for {
		msg, err := s.queue.Dequeue(ctx)
		if err != nil {
			if !errors.Is(err, queue.ErrClosed) {
				reason, cause := s.classify(ctx, err)
				s.close(ctx, reason, cause)
			}
			return
		}

		if ctx.Err() != nil {
			reason, cause := s.classify(ctx, ctx.Err())
			s.close(ctx, reason, cause)
			return
		}

		if err := s.conn.Send(ctx, msg); err != nil {
			if ctx.Err() != nil {
				reason, cause := s.classify(ctx, err)
				s.close(ctx, reason, cause)
				s.cancel(cause)
				return
			}
			s.emit(ctx, EventWriterError, observability.LevelError, "relay.writer", map[string]any{
				"error":    err.Error(),
				"sent":     s.sent.Load(),
				"buffered": s.queue.Len(),
			})
			s.close(ctx, ReasonSendError, err)
			s.cancel(err)
			return
		}

		s.sent.Add(1)
		s.metrics.recordOut()
	}
}
