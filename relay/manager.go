package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/tailored-agentic-units/relay/observability"
)

// Manager creates a session per connection and tracks it until it
// terminates. Sessions are independent: one failing or stalling never
// blocks another.
type Manager struct {
	cfg      Config
	opts     []Option
	observer observability.Observer
	metrics  *Metrics

	sessions map[string]*Session
	mu       sync.RWMutex
	closed   bool
	wg       sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates a Manager whose sessions use cfg and opts.
func NewManager(cfg *Config, opts ...Option) *Manager {
	o := options{observer: observability.NoOpObserver{}}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	metrics := NewMetrics()

	return &Manager{
		cfg:      *cfg,
		opts:     append(append([]Option{}, opts...), withMetrics(metrics)),
		observer: o.observer,
		metrics:  metrics,
		sessions: make(map[string]*Session),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Handle runs a session for conn and blocks until it terminates. It suits
// transports that hand over one connection per call, such as an RPC
// handler.
func (m *Manager) Handle(ctx context.Context, conn Conn) error {
	s, err := m.register(conn)
	if err != nil {
		return err
	}
	defer m.unregister(s)

	ctx, cancel := m.scope(ctx)
	defer cancel()

	return s.Run(ctx)
}

// Start runs a session for conn in the background and returns it once it
// is tracked.
func (m *Manager) Start(ctx context.Context, conn Conn) (*Session, error) {
	s, err := m.register(conn)
	if err != nil {
		return nil, err
	}

	ctx, cancel := m.scope(ctx)
	go func() {
		defer cancel()
		defer m.unregister(s)
		_ = s.Run(ctx)
	}()

	return s, nil
}

// Serve accepts connections from ln until ctx is done or ln is closed,
// starting a session for each. It returns nil on either of those.
func (m *Manager) Serve(ctx context.Context, ln Listener) error {
	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			observability.Emit(ctx, m.observer, observability.Event{
				Type:   EventAcceptError,
				Level:  observability.LevelError,
				Source: "relay.manager",
				Data:   map[string]any{"error": err.Error()},
			})
			return fmt.Errorf("accept failed: %w", err)
		}

		if _, err := m.Start(ctx, conn); err != nil {
			if closer, ok := conn.(io.Closer); ok {
				_ = closer.Close()
			}
			if errors.Is(err, ErrManagerClosed) {
				return nil
			}
			return err
		}
	}
}

// Get returns the tracked session with the given id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Count returns the number of tracked sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Range calls fn for each tracked session until fn returns false. The
// session set is snapshotted first, so fn may call back into the Manager.
func (m *Manager) Range(fn func(*Session) bool) {
	m.mu.RLock()
	snapshot := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		snapshot = append(snapshot, s)
	}
	m.mu.RUnlock()

	for _, s := range snapshot {
		if !fn(s) {
			return
		}
	}
}

// Metrics returns a snapshot of manager-wide counters.
func (m *Manager) Metrics() MetricsSnapshot {
	return m.metrics.Snapshot()
}

// Shutdown refuses new connections, cancels every session and waits up to
// timeout for them to terminate. Cancelled sessions still flush what they
// have buffered. Sessions still running after timeout are aborted, which
// drops their undelivered messages, and Shutdown waits up to timeout again
// for them before reporting an error.
func (m *Manager) Shutdown(timeout time.Duration) error {
	m.mu.Lock()
	m.closed = true
	active := len(m.sessions)
	m.mu.Unlock()

	observability.Emit(context.Background(), m.observer, observability.Event{
		Type:   EventManagerShutdown,
		Level:  observability.LevelInfo,
		Source: "relay.manager",
		Data:   map[string]any{"sessions": active},
	})

	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
	}

	aborted := 0
	m.Range(func(s *Session) bool {
		s.Abort()
		aborted++
		return true
	})

	observability.Emit(context.Background(), m.observer, observability.Event{
		Type:   EventManagerAbort,
		Level:  observability.LevelWarning,
		Source: "relay.manager",
		Data:   map[string]any{"sessions": aborted},
	})

	select {
	case <-done:
		return fmt.Errorf("session manager shutdown timeout after %v (%d sessions aborted)", timeout, aborted)
	case <-time.After(timeout):
		return fmt.Errorf("session manager shutdown timeout after %v (%d sessions remaining)", timeout, m.Count())
	}
}

func (m *Manager) register(conn Conn) (*Session, error) {
	s, err := NewSession(conn, &m.cfg, m.opts...)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}

	m.sessions[s.ID()] = s
	m.wg.Add(1)
	m.metrics.recordSessionStart()

	return s, nil
}

func (m *Manager) unregister(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s.ID())
	m.mu.Unlock()

	err := s.Err()
	m.metrics.recordSessionEnd(err != nil && !errors.Is(err, context.Canceled))
	m.wg.Done()
}

// scope derives a session context that also ends when the manager shuts
// down.
func (m *Manager) scope(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(m.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
