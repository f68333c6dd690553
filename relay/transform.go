package relay

import "github.com/tailored-agentic-units/relay/core/protocol"

// Transform reshapes a message between the reader and the queue. It must be
// pure: no state, no I/O.
type Transform func(protocol.Message) protocol.Message

// Tag rewrites content as "<label>: <content>" and stamps label as sender.
func Tag(label string) Transform {
	prefix := label + ": "
	return func(msg protocol.Message) protocol.Message {
		return protocol.NewMessage(prefix+msg.Content, label)
	}
}

// PassThrough returns every message unchanged.
func PassThrough(msg protocol.Message) protocol.Message {
	return msg
}
