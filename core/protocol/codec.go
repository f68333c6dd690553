package protocol

import (
	"encoding/json"
	"fmt"

	cbor "github.com/fxamacker/cbor/v2"
	"google.golang.org/protobuf/encoding/protowire"
)

// Codec marshals Messages for a transport. The method set matches
// connect.Codec, so every Codec here can be handed to connect.WithCodec.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Field numbers of chat.ChatMessage in proto/chat.proto.
const (
	fieldContent protowire.Number = 1
	fieldSender  protowire.Number = 2
)

// ProtoCodec encodes Messages in the protobuf binary layout of
// chat.ChatMessage. Its name is "proto" so gRPC peers negotiate it as
// application/grpc+proto.
type ProtoCodec struct{}

func (ProtoCodec) Name() string { return "proto" }

func (ProtoCodec) Marshal(v any) ([]byte, error) {
	msg, err := messageValue(v)
	if err != nil {
		return nil, err
	}

	b := make([]byte, 0, len(msg.Content)+len(msg.Sender)+4)
	if msg.Content != "" {
		b = protowire.AppendTag(b, fieldContent, protowire.BytesType)
		b = protowire.AppendString(b, msg.Content)
	}
	if msg.Sender != "" {
		b = protowire.AppendTag(b, fieldSender, protowire.BytesType)
		b = protowire.AppendString(b, msg.Sender)
	}
	return b, nil
}

func (ProtoCodec) Unmarshal(data []byte, v any) error {
	target, ok := v.(*Message)
	if !ok {
		return fmt.Errorf("proto codec: unsupported type %T", v)
	}

	var msg Message
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("proto codec: %w", protowire.ParseError(n))
		}
		data = data[n:]

		if typ == protowire.BytesType && (num == fieldContent || num == fieldSender) {
			s, n := protowire.ConsumeString(data)
			if n < 0 {
				return fmt.Errorf("proto codec: field %d: %w", num, protowire.ParseError(n))
			}
			if num == fieldContent {
				msg.Content = s
			} else {
				msg.Sender = s
			}
			data = data[n:]
			continue
		}

		// Unknown fields are skipped.
		n = protowire.ConsumeFieldValue(num, typ, data)
		if n < 0 {
			return fmt.Errorf("proto codec: field %d: %w", num, protowire.ParseError(n))
		}
		data = data[n:]
	}

	*target = msg
	return nil
}

// JSONCodec encodes Messages as {"content": ..., "sender": ...}.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// CBORCodec encodes Messages as canonical CBOR (RFC 8949 core
// deterministic encoding).
type CBORCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewCBORCodec builds a CBORCodec with canonical encoding options.
func NewCBORCodec() (*CBORCodec, error) {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("cbor encode mode: %w", err)
	}
	dm, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("cbor decode mode: %w", err)
	}
	return &CBORCodec{enc: em, dec: dm}, nil
}

func (c *CBORCodec) Name() string { return "cbor" }

func (c *CBORCodec) Marshal(v any) ([]byte, error) {
	return c.enc.Marshal(v)
}

func (c *CBORCodec) Unmarshal(data []byte, v any) error {
	return c.dec.Unmarshal(data, v)
}

// Codecs returns every built-in codec, proto first.
func Codecs() []Codec {
	codecs := []Codec{ProtoCodec{}, JSONCodec{}}
	if c, err := NewCBORCodec(); err == nil {
		codecs = append(codecs, c)
	}
	return codecs
}

// CodecByName returns the built-in codec registered under name.
func CodecByName(name string) (Codec, error) {
	for _, c := range Codecs() {
		if c.Name() == name {
			return c, nil
		}
	}
	return nil, fmt.Errorf("unknown codec: %s", name)
}

func messageValue(v any) (Message, error) {
	switch m := v.(type) {
	case *Message:
		if m == nil {
			return Message{}, nil
		}
		return *m, nil
	case Message:
		return m, nil
	default:
		return Message{}, fmt.Errorf("proto codec: unsupported type %T", v)
	}
}
