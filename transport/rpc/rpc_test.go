package rpc_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/tailored-agentic-units/relay/core/protocol"
	"github.com/tailored-agentic-units/relay/relay"
	"github.com/tailored-agentic-units/relay/transport/rpc"
)

func newTestServer(t *testing.T) (*relay.Manager, string) {
	t.Helper()

	cfg := relay.DefaultConfig()
	m := relay.NewManager(&cfg)

	mux := http.NewServeMux()
	mux.Handle(rpc.NewHandler(m))

	srv := httptest.NewUnstartedServer(mux)
	protocols := new(http.Protocols)
	protocols.SetHTTP1(true)
	protocols.SetUnencryptedHTTP2(true)
	srv.Config.Protocols = protocols
	srv.Start()

	t.Cleanup(func() {
		_ = m.Shutdown(time.Second)
		srv.Close()
	})
	return m, srv.URL
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestChatStream_Protocols(t *testing.T) {
	_, url := newTestServer(t)

	tests := []struct {
		protocol string
		codec    string
	}{
		{"connect", "proto"},
		{"connect", "json"},
		{"connect", "cbor"},
		{"grpc", "proto"},
		{"grpc", "json"},
	}

	for _, tt := range tests {
		t.Run(tt.protocol+"/"+tt.codec, func(t *testing.T) {
			ctx := testContext(t)

			opts, err := rpc.ClientOptions(tt.protocol, tt.codec)
			if err != nil {
				t.Fatalf("ClientOptions failed: %v", err)
			}
			conn, err := rpc.NewClient(rpc.NewH2CClient(), url, opts...).Open(ctx)
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			defer conn.Close()

			if err := conn.Send(ctx, protocol.NewMessage("hello", "Client")); err != nil {
				t.Fatalf("Send failed: %v", err)
			}

			got, err := conn.Receive(ctx)
			if err != nil {
				t.Fatalf("Receive failed: %v", err)
			}
			want := protocol.NewMessage("Server: hello", "Server")
			if got != want {
				t.Errorf("got %+v, want %+v", got, want)
			}

			if err := conn.CloseSend(); err != nil {
				t.Fatalf("CloseSend failed: %v", err)
			}
			if _, err := conn.Receive(ctx); !errors.Is(err, io.EOF) {
				t.Errorf("Receive after CloseSend error = %v, want io.EOF", err)
			}
		})
	}
}

func TestChatStream_OrderAndDrain(t *testing.T) {
	_, url := newTestServer(t)
	ctx := testContext(t)

	conn, err := rpc.NewClient(rpc.NewH2CClient(), url).Open(ctx)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer conn.Close()

	const n = 50
	for i := range n {
		if err := conn.Send(ctx, protocol.NewMessage(fmt.Sprintf("m%d", i), "Client")); err != nil {
			t.Fatalf("Send %d failed: %v", i, err)
		}
	}
	if err := conn.CloseSend(); err != nil {
		t.Fatalf("CloseSend failed: %v", err)
	}

	for i := range n {
		msg, err := conn.Receive(ctx)
		if err != nil {
			t.Fatalf("Receive %d failed: %v", i, err)
		}
		if want := fmt.Sprintf("Server: m%d", i); msg.Content != want {
			t.Fatalf("message %d: got %q, want %q", i, msg.Content, want)
		}
	}

	if _, err := conn.Receive(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("final Receive error = %v, want io.EOF", err)
	}
}

func TestChatStream_ConcurrentSessions(t *testing.T) {
	m, url := newTestServer(t)
	client := rpc.NewClient(rpc.NewH2CClient(), url)

	const sessions = 4
	const perSession = 20

	ctx := testContext(t)

	var wg sync.WaitGroup
	errs := make(chan error, sessions)
	for i := range sessions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn, err := client.Open(ctx)
			if err != nil {
				errs <- err
				return
			}
			defer conn.Close()

			for j := range perSession {
				if err := conn.Send(ctx, protocol.NewMessage(fmt.Sprintf("s%d-%d", i, j), "Client")); err != nil {
					errs <- err
					return
				}
				msg, err := conn.Receive(ctx)
				if err != nil {
					errs <- err
					return
				}
				if want := fmt.Sprintf("Server: s%d-%d", i, j); msg.Content != want {
					errs <- fmt.Errorf("session %d: got %q, want %q", i, msg.Content, want)
					return
				}
			}
			_ = conn.CloseSend()
			if _, err := conn.Receive(ctx); !errors.Is(err, io.EOF) {
				errs <- fmt.Errorf("session %d: final Receive error = %v", i, err)
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}

	if got := m.Metrics().TotalSessions; got != sessions {
		t.Errorf("TotalSessions = %d, want %d", got, sessions)
	}
}

func TestNewHandler_UnknownProcedure(t *testing.T) {
	_, url := newTestServer(t)

	resp, err := http.Post(url+"/chat.ChatService/Unknown", "application/proto", nil)
	if err != nil {
		t.Fatalf("Post failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestClientOptions_Errors(t *testing.T) {
	if _, err := rpc.ClientOptions("carrier-pigeon", "proto"); err == nil {
		t.Error("ClientOptions should reject an unknown protocol")
	}
	if _, err := rpc.ClientOptions("grpc", "xml"); err == nil {
		t.Error("ClientOptions should reject an unknown codec")
	}
	if opts, err := rpc.ClientOptions("", ""); err != nil || len(opts) != 0 {
		t.Errorf("ClientOptions defaults = %v, %v; want no options", opts, err)
	}
}
