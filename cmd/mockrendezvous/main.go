// Command mockrendezvous is a test-only fake rendezvous server. It
// holds one tunnel client connection at a time (a new connection
// replaces the previous one) using pori's wire envelope protocol and
// exposes a plain HTTP endpoint that drives a
// request through the tunnel and returns the proxied response, mirroring
// the role a real rendezvous server plays for the end-to-end tests in
// the root integration test. It is never installed alongside the
// production pori binary.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aduki-Inc/Pori/internal/protocol"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	responseTimeout = 10 * time.Second
	writeWait       = 5 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
)

type server struct {
	token string
	codec *protocol.Codec

	mu      sync.RWMutex
	conn    *websocket.Conn
	pending map[string]chan protocol.Frame
}

func main() {
	log.SetFlags(0)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	token := strings.TrimSpace(os.Getenv("MOCK_TOKEN"))
	if token == "" {
		token = "test-token"
	}

	s := &server{
		token:   token,
		codec:   protocol.NewCodec(0),
		pending: make(map[string]chan protocol.Frame),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/tunnel", s.handleTunnel)
	mux.HandleFunc("/drive", s.handleDrive)

	addr := ":" + port
	log.Printf("mockrendezvous listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, mux))
}

func (s *server) handleTunnel(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("token") != s.token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("upgrade error: %v", err)
		return
	}

	s.mu.Lock()
	old := s.conn
	s.conn = conn
	s.mu.Unlock()
	if old != nil {
		old.Close()
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.mu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
				s.mu.Unlock()
				if err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			break
		}
		frame, err := s.codec.Decode(msg)
		if err != nil {
			continue
		}
		if frame.Kind != protocol.KindHTTPResponse {
			continue
		}
		s.mu.Lock()
		if ch, ok := s.pending[frame.RequestID]; ok {
			ch <- frame
			delete(s.pending, frame.RequestID)
		}
		s.mu.Unlock()
	}
	close(done)

	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
}

// handleDrive sends one HttpRequest frame to the connected tunnel client
// and blocks until the matching HttpResponse arrives or the request
// times out, giving the integration test a plain HTTP call that
// round-trips through the whole tunnel.
func (s *server) handleDrive(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()

	if conn == nil {
		http.Error(w, "no tunnel connected", http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	target := r.URL.Query().Get("target")
	if target == "" {
		target = "/"
	}

	reqID := newID()
	respCh := make(chan protocol.Frame, 1)
	s.mu.Lock()
	s.pending[reqID] = respCh
	s.mu.Unlock()

	raw, err := s.codec.Encode(protocol.Frame{
		Kind:      protocol.KindHTTPRequest,
		RequestID: reqID,
		Method:    r.URL.Query().Get("method"),
		Target:    target,
		Headers:   map[string][]string(r.Header),
		Body:      body,
	})
	if err != nil {
		http.Error(w, "encode error", http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	writeErr := conn.WriteMessage(websocket.TextMessage, raw)
	s.mu.Unlock()
	if writeErr != nil {
		http.Error(w, "tunnel write error", http.StatusBadGateway)
		return
	}

	select {
	case resp := <-respCh:
		for k, vs := range resp.Headers {
			for _, v := range vs {
				w.Header().Add(k, v)
			}
		}
		w.WriteHeader(resp.Status)
		w.Write(resp.Body)
	case <-time.After(responseTimeout):
		s.mu.Lock()
		delete(s.pending, reqID)
		s.mu.Unlock()
		http.Error(w, "tunnel timeout", http.StatusGatewayTimeout)
	}
}

func newID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}
