// Package rpc exposes the relay as the connect service
// chat.ChatService/ChatMessageStreaming: one bidirectional stream per
// session, served over the Connect, gRPC and gRPC-Web protocols.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"github.com/tailored-agentic-units/relay/core/protocol"
	"github.com/tailored-agentic-units/relay/relay"
)

const (
	// ServiceName is the fully-qualified name of the chat service.
	ServiceName = "chat.ChatService"

	// ChatMessageStreamingProcedure is the bidirectional streaming method.
	ChatMessageStreamingProcedure = "/chat.ChatService/ChatMessageStreaming"
)

// NewHandler returns the mount path and handler for the chat service. Every
// stream is handed to m and served until its session terminates.
func NewHandler(m *relay.Manager, opts ...connect.HandlerOption) (string, http.Handler) {
	options := make([]connect.HandlerOption, 0, len(opts)+3)
	for _, codec := range protocol.Codecs() {
		options = append(options, connect.WithCodec(codec))
	}
	options = append(options, opts...)

	streaming := connect.NewBidiStreamHandler(
		ChatMessageStreamingProcedure,
		func(ctx context.Context, stream *connect.BidiStream[protocol.Message, protocol.Message]) error {
			return sessionError(m.Handle(ctx, NewServerConn(stream)))
		},
		options...,
	)

	return "/" + ServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case ChatMessageStreamingProcedure:
			streaming.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

// Client opens chat streams against a relay server.
type Client struct {
	client *connect.Client[protocol.Message, protocol.Message]
}

// NewClient creates a Client for the server at baseURL. The proto codec and
// the Connect protocol are used unless opts say otherwise.
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	options := append([]connect.ClientOption{connect.WithCodec(protocol.ProtoCodec{})}, opts...)
	return &Client{
		client: connect.NewClient[protocol.Message, protocol.Message](
			httpClient,
			strings.TrimRight(baseURL, "/")+ChatMessageStreamingProcedure,
			options...,
		),
	}
}

// Open starts a chat stream and sends the request headers, so the server
// session begins before the first message. The stream lives until ctx ends
// or both sides close it.
func (c *Client) Open(ctx context.Context) (*ClientConn, error) {
	stream := c.client.CallBidiStream(ctx)
	if err := stream.Send(nil); err != nil {
		_ = stream.CloseRequest()
		_ = stream.CloseResponse()
		return nil, fmt.Errorf("open chat stream: %w", err)
	}
	return NewClientConn(stream), nil
}

// ClientOptions translates a protocol name (connect, grpc, grpcweb) and a
// codec name (proto, json, cbor) into client options.
func ClientOptions(protocolName, codecName string) ([]connect.ClientOption, error) {
	var opts []connect.ClientOption

	switch protocolName {
	case "", "connect":
	case "grpc":
		opts = append(opts, connect.WithGRPC())
	case "grpcweb":
		opts = append(opts, connect.WithGRPCWeb())
	default:
		return nil, fmt.Errorf("unknown protocol: %s", protocolName)
	}

	if codecName != "" {
		codec, err := protocol.CodecByName(codecName)
		if err != nil {
			return nil, err
		}
		opts = append(opts, connect.WithCodec(codec))
	}

	return opts, nil
}

// NewH2CClient returns an HTTP client that speaks HTTP/2 without TLS, as
// bidirectional streams require HTTP/2.
func NewH2CClient() *http.Client {
	protocols := new(http.Protocols)
	protocols.SetUnencryptedHTTP2(true)
	return &http.Client{
		Transport: &http.Transport{Protocols: protocols},
	}
}

// sessionError maps a session's terminal error onto a connect status.
func sessionError(err error) error {
	if err == nil {
		return nil
	}

	var connectErr *connect.Error
	if errors.As(err, &connectErr) {
		return connectErr
	}

	switch {
	case errors.Is(err, relay.ErrIdleTimeout), errors.Is(err, relay.ErrLifetimeExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	case errors.Is(err, relay.ErrManagerClosed):
		return connect.NewError(connect.CodeUnavailable, err)
	case errors.Is(err, relay.ErrSessionAborted):
		return connect.NewError(connect.CodeAborted, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	default:
		return connect.NewError(connect.CodeUnknown, err)
	}
}
