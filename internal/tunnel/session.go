// Package tunnel implements the client-side tunnel session (spec.md
// §4.5, component C5): the authenticated WebSocket connection to the
// rendezvous server, its reader/writer loops, and its termination
// reporting back to the supervisor (C8). The reader/writer/ping
// structure follows the teacher's cmd/tun connect loop, generalized to
// the wire envelope protocol and to carrying proxied frames both ways.
package tunnel

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aduki-Inc/Pori/internal/protocol"
)

// Status mirrors the session's own view of its lifecycle, independent of
// stats.ConnectionStatus (which mirrors it for dashboard consumption).
type Status string

const (
	StatusIdle           Status = "idle"
	StatusConnecting     Status = "connecting"
	StatusAuthenticating Status = "authenticating"
	StatusConnected      Status = "connected"
	StatusTerminated     Status = "terminated"
)

// TerminationCause classifies why a session ended, so the supervisor can
// decide whether to reconnect (spec.md §4.8).
type TerminationCause string

const (
	CauseClean     TerminationCause = "clean"
	CauseTransient TerminationCause = "transient"
	CauseFatal     TerminationCause = "fatal"
)

// Result is returned by Run once the session has ended.
type Result struct {
	Cause TerminationCause
	Err   error
}

// Config configures a single connection attempt.
type Config struct {
	ServerURL    string
	Token        string
	TunnelID     string
	ClientID     string
	PingInterval time.Duration
	PongTimeout  time.Duration
	WriteWait    time.Duration
	MaxFrame     int
}

// Handler processes an inbound Http frame and returns the response frame
// to send back. It is supplied by the forward engine (C6).
type Handler func(ctx context.Context, f protocol.Frame) protocol.Frame

// Session owns one WebSocket connection attempt and its two pumps.
type Session struct {
	cfg   Config
	codec *protocol.Codec

	mu     sync.Mutex
	status Status

	onStatus func(Status)
}

// New builds a Session for a single connection attempt. onStatus, if
// non-nil, is invoked on every status transition (used to drive
// stats.State.SetConnectionStatus).
func New(cfg Config, onStatus func(Status)) *Session {
	codec := protocol.NewCodec(cfg.MaxFrame)
	codec.TunnelID = cfg.TunnelID
	codec.ClientID = cfg.ClientID
	return &Session{cfg: cfg, codec: codec, status: StatusIdle, onStatus: onStatus}
}

func (s *Session) setStatus(st Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
	if s.onStatus != nil {
		s.onStatus(st)
	}
}

// Status returns the session's current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Run dials the rendezvous server, authenticates, and pumps frames until
// the connection ends, the context is cancelled, or a fatal protocol
// error occurs. handle is called once per inbound Http frame.
func (s *Session) Run(ctx context.Context, handle Handler) Result {
	s.setStatus(StatusConnecting)

	dialURL, err := authenticatedURL(s.cfg.ServerURL, s.cfg.Token)
	if err != nil {
		s.setStatus(StatusTerminated)
		return Result{Cause: CauseFatal, Err: err}
	}

	s.setStatus(StatusAuthenticating)

	header := http.Header{}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, dialURL, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				s.setStatus(StatusTerminated)
				return Result{Cause: CauseFatal, Err: fmt.Errorf("dial %s: authentication rejected: %s", s.cfg.ServerURL, resp.Status)}
			}
		}
		s.setStatus(StatusTerminated)
		return Result{Cause: CauseTransient, Err: fmt.Errorf("dial %s: %w", s.cfg.ServerURL, err)}
	}
	defer conn.Close()

	pongTimeout := s.cfg.PongTimeout
	if pongTimeout <= 0 {
		pongTimeout = 60 * time.Second
	}
	writeWait := s.cfg.WriteWait
	if writeWait <= 0 {
		writeWait = 5 * time.Second
	}
	pingInterval := s.cfg.PingInterval
	if pingInterval <= 0 {
		pingInterval = (pongTimeout * 9) / 10
	}
	// The connection is dropped once no pong has arrived for one ping
	// interval plus the pong timeout.
	readWindow := pingInterval + pongTimeout

	conn.SetReadDeadline(time.Now().Add(readWindow))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readWindow))
		return nil
	})

	s.setStatus(StatusConnected)

	var writeMu sync.Mutex
	outbound := make(chan protocol.Frame, 64)
	done := make(chan struct{})
	var readErr error
	var fatalCause error

	writeFrame := func(f protocol.Frame) error {
		raw, err := s.codec.Encode(f)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(websocket.TextMessage, raw)
	}

	var pumpWG sync.WaitGroup
	pumpWG.Add(2)

	go func() {
		defer pumpWG.Done()
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
				writeMu.Unlock()
				if err != nil {
					return
				}
			case f, ok := <-outbound:
				if !ok {
					return
				}
				if err := writeFrame(f); err != nil {
					return
				}
			case <-done:
				s.drainOutbound(outbound, writeFrame)
				return
			}
		}
	}()

	go func() {
		defer pumpWG.Done()
		defer close(done)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				readErr = err
				return
			}

			frame, err := s.codec.Decode(msg)
			if err != nil {
				continue // malformed frame: log-and-drop, non-fatal (spec.md §9)
			}

			switch frame.Kind {
			case protocol.KindHTTPRequest:
				go func(f protocol.Frame) {
					resp := handle(ctx, f)
					select {
					case outbound <- resp:
					case <-done:
					}
				}(frame)
			case protocol.KindShutdown:
				return
			case protocol.KindAuthFailure:
				fatalCause = fmt.Errorf("authentication failed: %s", frame.ErrorMessage)
				return
			case protocol.KindPing:
				select {
				case outbound <- protocol.Frame{Kind: protocol.KindPong, PingPayload: frame.PingPayload}:
				case <-done:
				}
			default:
				// Pong, Stats, and unrecognized kinds require no action here.
			}
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
		writeMu.Lock()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
	}
	pumpWG.Wait()

	s.setStatus(StatusTerminated)

	if fatalCause != nil {
		return Result{Cause: CauseFatal, Err: fatalCause}
	}
	if ctx.Err() != nil {
		return Result{Cause: CauseClean}
	}
	if readErr != nil {
		if websocket.IsCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return Result{Cause: CauseClean}
		}
		return Result{Cause: CauseTransient, Err: readErr}
	}
	return Result{Cause: CauseClean}
}

// drainOutbound flushes any already-queued outbound frames for up to 5
// seconds before the connection closes (spec.md §4.5 grace drain).
func (s *Session) drainOutbound(outbound chan protocol.Frame, writeFrame func(protocol.Frame) error) {
	deadline := time.After(5 * time.Second)
	for {
		select {
		case f, ok := <-outbound:
			if !ok {
				return
			}
			_ = writeFrame(f)
		case <-deadline:
			return
		}
	}
}

// authenticatedURL appends the auth token as a URL query parameter unless
// the URL already carries one, per spec.md §4.5's URL-token
// authentication scheme.
func authenticatedURL(server, token string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	q := u.Query()
	if q.Get("token") == "" {
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
