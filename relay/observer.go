package relay

import "github.com/tailored-agentic-units/relay/observability"

// Relay event types.
const (
	EventSessionStart      observability.EventType = "relay.session.start"
	EventSessionClosing    observability.EventType = "relay.session.closing"
	EventSessionTerminated observability.EventType = "relay.session.terminated"
	EventReaderMessage     observability.EventType = "relay.reader.message"
	EventReaderError       observability.EventType = "relay.reader.error"
	EventWriterError       observability.EventType = "relay.writer.error"
	EventConnCloseError    observability.EventType = "relay.conn.close_error"
	EventAcceptError       observability.EventType = "relay.manager.accept_error"
	EventManagerShutdown   observability.EventType = "relay.manager.shutdown"
	EventManagerAbort      observability.EventType = "relay.manager.abort"
)
