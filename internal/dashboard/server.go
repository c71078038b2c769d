// Package dashboard implements the loopback-only HTTP dashboard (spec.md
// §4.7, component C7): a small status/control surface served next to the
// tunnel client, following the teacher's pattern of wrapping a plain
// net/http handler with github.com/jpillora/requestlog when verbose
// logging is on.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"time"

	"github.com/jpillora/requestlog"
	"go.uber.org/zap"

	"github.com/aduki-Inc/Pori/internal/stats"
)

// Endpoint describes one route of the dashboard API, for the
// /api/endpoints listing.
type Endpoint struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

// Config configures the dashboard server.
type Config struct {
	Addr           string
	Verbose        bool
	Endpoints      []Endpoint
	ConfigSnapshot func() map[string]any
	Reconnect      func() error
	Shutdown       func()
}

// Server is the loopback HTTP dashboard.
type Server struct {
	cfg  Config
	st   *stats.State
	log  *zap.SugaredLogger
	http *http.Server
}

// New builds a Server. It does not start listening until Run is called.
func New(cfg Config, st *stats.State, logger *zap.SugaredLogger) *Server {
	s := &Server{cfg: cfg, st: st, log: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/endpoints", s.handleEndpoints)
	mux.HandleFunc("/api/reconnect", s.handleReconnect)
	mux.HandleFunc("/api/shutdown", s.handleShutdown)
	mux.HandleFunc("/metrics", s.handleMetricsStream)

	var h http.Handler = withCORS(mux)
	if cfg.Verbose {
		h = requestlog.Wrap(h)
	}

	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      h,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // /metrics streams indefinitely
	}
	return s
}

// Run listens and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("dashboard listen %s: %w", s.http.Addr, err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.http.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "content-type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	sub, err := fs.Sub(staticAssets, "assets")
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	http.FileServer(http.FS(sub)).ServeHTTP(w, r)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.st.Snapshot()
	status := "ok"
	if snap.ConnectionStatus != stats.StatusConnected {
		status = "degraded"
	}
	writeJSON(w, map[string]any{
		"status":               status,
		"connection_status":    snap.ConnectionStatus,
		"uptime_seconds":       snap.UptimeSeconds,
		"requests_processed":   snap.RequestsProcessed,
		"websocket_reconnects": snap.WebsocketReconnects,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.st.Snapshot())
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if s.cfg.ConfigSnapshot == nil {
		writeJSON(w, map[string]any{})
		return
	}
	writeJSON(w, s.cfg.ConfigSnapshot())
}

func (s *Server) handleEndpoints(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.cfg.Endpoints)
}

func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.cfg.Reconnect == nil {
		http.Error(w, "reconnect not supported", http.StatusNotImplemented)
		return
	}
	if err := s.cfg.Reconnect(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
	if s.cfg.Shutdown != nil {
		go s.cfg.Shutdown()
	}
}

// handleMetricsStream pushes a stats snapshot once a second as
// newline-delimited JSON until the client disconnects.
func (s *Server) handleMetricsStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			enc := json.NewEncoder(w)
			if err := enc.Encode(s.st.Snapshot()); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
