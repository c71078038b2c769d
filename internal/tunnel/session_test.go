package tunnel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aduki-Inc/Pori/internal/protocol"
)

func TestAuthenticatedURLAppendsToken(t *testing.T) {
	got, err := authenticatedURL("wss://example.com/tunnel", "abc123")
	if err != nil {
		t.Fatalf("authenticatedURL: %v", err)
	}
	if !strings.Contains(got, "token=abc123") {
		t.Errorf("got %q, want token query param", got)
	}
}

func TestRunEchoesHttpRequestResponse(t *testing.T) {
	upgrader := websocket.Upgrader{}
	codec := protocol.NewCodec(0)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		raw, _ := codec.Encode(protocol.Frame{
			Kind:      protocol.KindHTTPRequest,
			RequestID: "req-1",
			Method:    "GET",
			Target:    "/hello",
		})
		conn.WriteMessage(websocket.TextMessage, raw)

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		frame, err := codec.Decode(msg)
		if err != nil || frame.Kind != protocol.KindHTTPResponse || frame.RequestID != "req-1" {
			t.Errorf("unexpected response frame: %+v err=%v", frame, err)
		}

		shutdown, _ := codec.Encode(protocol.Frame{Kind: protocol.KindShutdown, Reason: "done"})
		conn.WriteMessage(websocket.TextMessage, shutdown)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	var statuses []Status
	sess := New(Config{ServerURL: wsURL, Token: "t", MaxFrame: 0}, func(st Status) {
		statuses = append(statuses, st)
	})

	handled := make(chan protocol.Frame, 1)
	handler := func(_ context.Context, f protocol.Frame) protocol.Frame {
		handled <- f
		return protocol.Frame{Kind: protocol.KindHTTPResponse, RequestID: f.RequestID, Status: 200}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	result := sess.Run(ctx, handler)
	if result.Cause != CauseClean {
		t.Errorf("Cause = %v, want Clean (err=%v)", result.Cause, result.Err)
	}

	select {
	case f := <-handled:
		if f.Method != "GET" || f.Target != "/hello" {
			t.Errorf("unexpected handled frame: %+v", f)
		}
	default:
		t.Fatal("handler was never invoked")
	}

	if statuses[len(statuses)-1] != StatusTerminated {
		t.Errorf("final status = %v, want Terminated", statuses[len(statuses)-1])
	}
}

func TestRunReturnsTransientOnDialFailure(t *testing.T) {
	sess := New(Config{ServerURL: "ws://127.0.0.1:1/tunnel", Token: "t"}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	result := sess.Run(ctx, func(_ context.Context, f protocol.Frame) protocol.Frame { return protocol.Frame{} })
	if result.Cause != CauseTransient {
		t.Errorf("Cause = %v, want Transient", result.Cause)
	}
}

func TestRunReturnsFatalOnHandshakeUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	sess := New(Config{ServerURL: wsURL, Token: "bad"}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	result := sess.Run(ctx, func(_ context.Context, f protocol.Frame) protocol.Frame { return protocol.Frame{} })
	if result.Cause != CauseFatal {
		t.Errorf("Cause = %v, want Fatal", result.Cause)
	}
}

func TestRunReturnsFatalOnAuthFailureFrame(t *testing.T) {
	upgrader := websocket.Upgrader{}
	codec := protocol.NewCodec(0)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		raw, _ := codec.Encode(protocol.Frame{Kind: protocol.KindAuthFailure, ErrorMessage: "bad token"})
		conn.WriteMessage(websocket.TextMessage, raw)
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	sess := New(Config{ServerURL: wsURL, Token: "bad"}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	result := sess.Run(ctx, func(_ context.Context, f protocol.Frame) protocol.Frame { return protocol.Frame{} })
	if result.Cause != CauseFatal {
		t.Errorf("Cause = %v, want Fatal (err=%v)", result.Cause, result.Err)
	}
}

func TestRunEchoesPingPayload(t *testing.T) {
	upgrader := websocket.Upgrader{}
	codec := protocol.NewCodec(0)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		raw, _ := codec.Encode(protocol.Frame{Kind: protocol.KindPing, PingPayload: []byte("ping-data")})
		conn.WriteMessage(websocket.TextMessage, raw)

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		frame, err := codec.Decode(msg)
		if err != nil || frame.Kind != protocol.KindPong || string(frame.PingPayload) != "ping-data" {
			t.Errorf("unexpected pong frame: %+v err=%v", frame, err)
		}

		shutdown, _ := codec.Encode(protocol.Frame{Kind: protocol.KindShutdown})
		conn.WriteMessage(websocket.TextMessage, shutdown)
	}))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	sess := New(Config{ServerURL: wsURL, Token: "t"}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	result := sess.Run(ctx, func(_ context.Context, f protocol.Frame) protocol.Frame { return protocol.Frame{} })
	if result.Cause != CauseClean {
		t.Errorf("Cause = %v, want Clean (err=%v)", result.Cause, result.Err)
	}
}
