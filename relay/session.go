// Package relay implements the duplex message relay: per-connection sessions
// that read inbound messages, reshape them, and stream them back out through
// a bounded queue, plus the manager that supervises those sessions.
//
// A session runs exactly two flows. The reader consumes the connection's
// Source, applies the Transform and enqueues the result; the writer drains
// the queue into the connection's Sink. The flows share nothing but the
// queue and a cancellation signal.
//
//	mgr := relay.NewManager(&cfg)
//	err := mgr.Handle(ctx, conn) // returns once the session terminates
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tailored-agentic-units/relay/core/protocol"
	"github.com/tailored-agentic-units/relay/observability"
	"github.com/tailored-agentic-units/relay/queue"
)

// State is a session lifecycle stage. States only move forward.
type State int32

const (
	StateActive State = iota
	StateClosing
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Reason labels why a session left Active. It is diagnostic only: every
// reason follows the same Closing → Terminated path.
type Reason string

const (
	ReasonStreamEnd        Reason = "stream_end"
	ReasonSentinel         Reason = "sentinel"
	ReasonReceiveError     Reason = "receive_error"
	ReasonSendError        Reason = "send_error"
	ReasonIdleTimeout      Reason = "idle_timeout"
	ReasonLifetimeExceeded Reason = "lifetime_exceeded"
	ReasonCanceled         Reason = "canceled"
	ReasonAborted          Reason = "aborted"
)

// Option customizes a session, or every session of a Manager.
type Option func(*options)

type options struct {
	transform Transform
	observer  observability.Observer
	metrics   *Metrics
}

// WithTransform replaces the label-derived transform.
func WithTransform(t Transform) Option {
	return func(o *options) { o.transform = t }
}

// WithObserver sets the event observer. The default discards events.
func WithObserver(obs observability.Observer) Option {
	return func(o *options) { o.observer = obs }
}

func withMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// Session relays one connection. It owns its queue and both flows; nothing
// outside the session reads or writes them.
type Session struct {
	id          string
	conn        Conn
	queue       *queue.Queue[protocol.Message]
	transform   Transform
	observer    observability.Observer
	metrics     *Metrics
	idleTimeout time.Duration
	maxLifetime time.Duration

	state    atomic.Int32
	started  atomic.Bool
	received atomic.Int64
	sent     atomic.Int64
	activity chan struct{}
	cancel   context.CancelCauseFunc
	done     chan struct{}

	aborted   chan struct{}
	abortOnce sync.Once

	mu     sync.Mutex
	reason Reason
	err    error
}

// NewSession creates an Active session for conn. The transform defaults to
// Tag(cfg.Label), or PassThrough when the label is empty.
func NewSession(conn Conn, cfg *Config, opts ...Option) (*Session, error) {
	o := options{
		transform: cfg.transform(),
		observer:  observability.NoOpObserver{},
	}
	for _, opt := range opts {
		opt(&o)
	}

	capacity := cfg.Capacity
	if capacity == 0 {
		capacity = defaultCapacity
	}
	q, err := queue.New[protocol.Message](capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create session queue: %w", err)
	}

	return &Session{
		id:          uuid.Must(uuid.NewV7()).String(),
		conn:        conn,
		queue:       q,
		transform:   o.transform,
		observer:    o.observer,
		metrics:     o.metrics,
		idleTimeout: cfg.IdleTimeout,
		maxLifetime: cfg.MaxLifetime,
		activity:    make(chan struct{}, 1),
		done:        make(chan struct{}),
		aborted:     make(chan struct{}),
	}, nil
}

// ID returns the session's UUIDv7 identifier.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Done is closed once the session is Terminated.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Reason returns why the session left Active, or "" while still Active.
func (s *Session) Reason() Reason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Err returns the terminal cause: nil for a normal stream end or sentinel,
// the transport or timeout error otherwise.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Run starts the reader and writer and blocks until both have exited and
// the session's resources are released. It returns Err().
//
// Cancelling ctx stops the reader only; the writer keeps draining what is
// already queued. The maximum lifetime and Abort end both flows, so a Send
// blocked on a stalled peer cannot hold the session open.
func (s *Session) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrSessionStarted
	}

	readCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	s.cancel = cancel

	writeCtx, abort := context.WithCancelCause(context.WithoutCancel(ctx))
	defer abort(nil)

	if s.maxLifetime > 0 {
		deadline := time.Now().Add(s.maxLifetime)
		var stopRead, stopWrite context.CancelFunc
		readCtx, stopRead = context.WithDeadlineCause(readCtx, deadline, ErrLifetimeExceeded)
		defer stopRead()
		writeCtx, stopWrite = context.WithDeadlineCause(writeCtx, deadline, ErrLifetimeExceeded)
		defer stopWrite()
	}

	s.emit(readCtx, EventSessionStart, observability.LevelInfo, "relay.session", map[string]any{
		"capacity": s.queue.Cap(),
	})

	var flows sync.WaitGroup
	flows.Add(2)
	go func() {
		defer flows.Done()
		s.read(readCtx)
	}()
	go func() {
		defer flows.Done()
		s.write(writeCtx)
	}()

	var watcher sync.WaitGroup
	watchCtx, stopWatch := context.WithCancel(readCtx)
	finished := make(chan struct{})
	watcher.Add(1)
	go func() {
		defer watcher.Done()
		select {
		case <-s.aborted:
			cancel(ErrSessionAborted)
			abort(ErrSessionAborted)
		case <-finished:
		}
	}()
	if s.idleTimeout > 0 {
		watcher.Add(1)
		go func() {
			defer watcher.Done()
			s.watchIdle(watchCtx)
		}()
	}

	flows.Wait()
	close(finished)
	stopWatch()
	watcher.Wait()

	s.release(readCtx)
	return s.Err()
}

// Abort ends the session without waiting for the queue to drain. Both
// flows are cancelled and undelivered messages are dropped. Aborting a
// session that has not started makes Run stop at once.
func (s *Session) Abort() {
	s.abortOnce.Do(func() {
		close(s.aborted)
	})
}

// close records the first reason, moves Active to Closing and closes the
// queue to new writes. Later calls keep the first reason.
func (s *Session) close(ctx context.Context, reason Reason, err error) {
	s.mu.Lock()
	if s.reason == "" {
		s.reason = reason
		s.err = err
	}
	s.mu.Unlock()

	s.queue.Close()

	if s.state.CompareAndSwap(int32(StateActive), int32(StateClosing)) {
		data := map[string]any{
			"reason":   string(s.Reason()),
			"buffered": s.queue.Len(),
		}
		if err != nil {
			data["error"] = err.Error()
		}
		s.emit(ctx, EventSessionClosing, observability.LevelVerbose, "relay.session", data)
	}
}

// classify maps a flow's stop condition to a reason and terminal error.
func (s *Session) classify(ctx context.Context, err error) (Reason, error) {
	switch {
	case errors.Is(err, io.EOF):
		return ReasonStreamEnd, nil
	case errors.Is(err, ErrSentinel):
		return ReasonSentinel, nil
	case ctx.Err() != nil:
		cause := context.Cause(ctx)
		switch {
		case errors.Is(cause, ErrIdleTimeout):
			return ReasonIdleTimeout, ErrIdleTimeout
		case errors.Is(cause, ErrLifetimeExceeded):
			return ReasonLifetimeExceeded, ErrLifetimeExceeded
		case errors.Is(cause, ErrSessionAborted):
			return ReasonAborted, ErrSessionAborted
		default:
			return ReasonCanceled, cause
		}
	case errors.Is(err, queue.ErrClosed):
		// Only the writer closes the queue while the reader still runs, and
		// it records its own reason first.
		return ReasonSendError, nil
	default:
		return ReasonReceiveError, err
	}
}

func (s *Session) release(ctx context.Context) {
	s.queue.Close()

	if closer, ok := s.conn.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			s.emit(ctx, EventConnCloseError, observability.LevelVerbose, "relay.session", map[string]any{
				"error": err.Error(),
			})
		}
	}

	s.state.Store(int32(StateTerminated))

	data := map[string]any{
		"reason":   string(s.Reason()),
		"received": s.received.Load(),
		"sent":     s.sent.Load(),
	}
	if err := s.Err(); err != nil {
		data["error"] = err.Error()
	}
	s.emit(context.WithoutCancel(ctx), EventSessionTerminated, observability.LevelInfo, "relay.session", data)

	close(s.done)
}

func (s *Session) touch() {
	select {
	case s.activity <- struct{}{}:
	default:
	}
}

func (s *Session) watchIdle(ctx context.Context) {
	timer := time.NewTimer(s.idleTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.activity:
			timer.Reset(s.idleTimeout)
		case <-timer.C:
			s.cancel(ErrIdleTimeout)
			return
		}
	}
}

func (s *Session) emit(ctx context.Context, t observability.EventType, level observability.Level, source string, data map[string]any) {
	observability.Emit(ctx, s.observer, observability.Event{
		Type:      t,
		Level:     level,
		Source:    source,
		SessionID: s.id,
		Data:      data,
	})
}
