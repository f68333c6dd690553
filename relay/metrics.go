package relay

import "sync/atomic"

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	ActiveSessions int64 `json:"active_sessions"`
	TotalSessions  int64 `json:"total_sessions"`
	MessagesIn     int64 `json:"messages_in"`
	MessagesOut    int64 `json:"messages_out"`
	Failures       int64 `json:"failures"`
}

// Metrics counts manager-wide activity. Sessions update it concurrently;
// the record methods are no-ops on a nil *Metrics.
type Metrics struct {
	activeSessions atomic.Int64
	totalSessions  atomic.Int64
	messagesIn     atomic.Int64
	messagesOut    atomic.Int64
	failures       atomic.Int64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) recordSessionStart() {
	if m == nil {
		return
	}
	m.activeSessions.Add(1)
	m.totalSessions.Add(1)
}

func (m *Metrics) recordSessionEnd(failed bool) {
	if m == nil {
		return
	}
	m.activeSessions.Add(-1)
	if failed {
		m.failures.Add(1)
	}
}

func (m *Metrics) recordIn() {
	if m == nil {
		return
	}
	m.messagesIn.Add(1)
}

func (m *Metrics) recordOut() {
	if m == nil {
		return
	}
	m.messagesOut.Add(1)
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		ActiveSessions: m.activeSessions.Load(),
		TotalSessions:  m.totalSessions.Load(),
		MessagesIn:     m.messagesIn.Load(),
		MessagesOut:    m.messagesOut.Load(),
		Failures:       m.failures.Load(),
	}
}
