package protocol_test

import (
	"bytes"
	"testing"

	"github.com/tailored-agentic-units/relay/core/protocol"
)

func TestNewMessage(t *testing.T) {
	msg := protocol.NewMessage("hello", "Client")

	if msg.Content != "hello" {
		t.Errorf("got content %q, want %q", msg.Content, "hello")
	}
	if msg.Sender != "Client" {
		t.Errorf("got sender %q, want %q", msg.Sender, "Client")
	}
}

func TestIsExit(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		expected bool
	}{
		{"lowercase", "exit", true},
		{"uppercase", "EXIT", true},
		{"mixed case", "ExIt", true},
		{"trailing newline", "exit\n", true},
		{"surrounding spaces", "  exit  ", true},
		{"prefix", "exit now", false},
		{"empty", "", false},
		{"other word", "quit", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := protocol.IsExit(tt.line); got != tt.expected {
				t.Errorf("IsExit(%q) = %v, want %v", tt.line, got, tt.expected)
			}
		})
	}
}

func TestProtoCodec_WireLayout(t *testing.T) {
	codec := protocol.ProtoCodec{}

	data, err := codec.Marshal(&protocol.Message{Content: "hello", Sender: "Client"})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	// field 1 (content), length 5; field 2 (sender), length 6
	want := append([]byte{0x0a, 0x05}, "hello"...)
	want = append(want, 0x12, 0x06)
	want = append(want, "Client"...)

	if !bytes.Equal(data, want) {
		t.Errorf("got bytes %x, want %x", data, want)
	}
}

func TestProtoCodec_EmptyMessage(t *testing.T) {
	codec := protocol.ProtoCodec{}

	data, err := codec.Marshal(protocol.Message{})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if len(data) != 0 {
		t.Errorf("got %d bytes for empty message, want 0", len(data))
	}

	msg := protocol.Message{Content: "stale"}
	if err := codec.Unmarshal(nil, &msg); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if msg != (protocol.Message{}) {
		t.Errorf("got %+v, want zero message", msg)
	}
}

func TestProtoCodec_SkipsUnknownFields(t *testing.T) {
	// field 3 varint 150, then field 1 "hi"
	data := []byte{0x18, 0x96, 0x01, 0x0a, 0x02, 'h', 'i'}

	var msg protocol.Message
	if err := (protocol.ProtoCodec{}).Unmarshal(data, &msg); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if msg.Content != "hi" {
		t.Errorf("got content %q, want %q", msg.Content, "hi")
	}
}

func TestProtoCodec_Errors(t *testing.T) {
	codec := protocol.ProtoCodec{}

	if _, err := codec.Marshal("not a message"); err == nil {
		t.Error("Marshal should reject non-message values")
	}

	var s string
	if err := codec.Unmarshal([]byte{0x0a, 0x01, 'x'}, &s); err == nil {
		t.Error("Unmarshal should reject non-message targets")
	}

	var msg protocol.Message
	if err := codec.Unmarshal([]byte{0x0a, 0x05, 'x'}, &msg); err == nil {
		t.Error("Unmarshal should fail on truncated input")
	}
}

func TestCodecs_PreserveMessage(t *testing.T) {
	want := protocol.NewMessage("Server: héllo, wörld", "Server")

	for _, codec := range protocol.Codecs() {
		t.Run(codec.Name(), func(t *testing.T) {
			data, err := codec.Marshal(&want)
			if err != nil {
				t.Fatalf("Marshal failed: %v", err)
			}

			var got protocol.Message
			if err := codec.Unmarshal(data, &got); err != nil {
				t.Fatalf("Unmarshal failed: %v", err)
			}
			if got != want {
				t.Errorf("got %+v, want %+v", got, want)
			}
		})
	}
}

func TestJSONCodec_FieldNames(t *testing.T) {
	data, err := (protocol.JSONCodec{}).Marshal(protocol.NewMessage("hello", "Client"))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	want := `{"content":"hello","sender":"Client"}`
	if string(data) != want {
		t.Errorf("got %s, want %s", data, want)
	}
}

func TestCodecByName(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"proto", false},
		{"json", false},
		{"cbor", false},
		{"xml", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codec, err := protocol.CodecByName(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CodecByName(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			}
			if !tt.wantErr && codec.Name() != tt.name {
				t.Errorf("got codec %q, want %q", codec.Name(), tt.name)
			}
		})
	}
}
