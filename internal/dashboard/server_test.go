package dashboard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aduki-Inc/Pori/internal/stats"
)

func TestHandleStatsReturnsSnapshot(t *testing.T) {
	st := stats.New()
	s := New(Config{}, st, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	w := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var snap stats.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
}

func TestCORSPreflight(t *testing.T) {
	st := stats.New()
	s := New(Config{}, st, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/stats", nil)
	w := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("expected Access-Control-Allow-Origin: *")
	}
}

func TestEndpointsListing(t *testing.T) {
	st := stats.New()
	s := New(Config{Endpoints: []Endpoint{{Method: "GET", Path: "/health"}}}, st, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/endpoints", nil)
	w := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(w, req)

	var got []Endpoint
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got) != 1 || got[0].Path != "/health" {
		t.Errorf("got %+v", got)
	}
}

func TestReconnectNotSupportedByDefault(t *testing.T) {
	st := stats.New()
	s := New(Config{}, st, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/reconnect", nil)
	w := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusNotImplemented {
		t.Errorf("status = %d, want 501", w.Code)
	}
}

func TestShutdownInvokesCallback(t *testing.T) {
	st := stats.New()
	called := make(chan struct{})
	s := New(Config{Shutdown: func() { close(called) }}, st, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/shutdown", nil)
	w := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	<-called
}
