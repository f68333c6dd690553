// Package protocol defines the wire-level message exchanged by the relay and
// the codecs used to put it on a stream.
package protocol

import "strings"

// ExitToken is the line that ends an interactive client's outbound stream.
const ExitToken = "exit"

// Message is the unit exchanged in either direction of a relay session.
// Messages are values: stages copy them and never modify one in place.
type Message struct {
	Content string `json:"content" cbor:"content"`
	Sender  string `json:"sender" cbor:"sender"`
}

// NewMessage creates a Message with the given content and sender label.
//
// Example:
//
//	msg := protocol.NewMessage("hello", "Client")
func NewMessage(content, sender string) Message {
	return Message{Content: content, Sender: sender}
}

// IsExit reports whether line is the exit token, ignoring case and
// surrounding whitespace.
func IsExit(line string) bool {
	return strings.EqualFold(strings.TrimSpace(line), ExitToken)
}
