package origin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("url.Parse(%q): %v", raw, err)
	}
	return u
}

func TestForwardStripsHopByHopHeaders(t *testing.T) {
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		w.Header().Set("connection", "keep-alive")
		w.Header().Set("content-type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := New(Config{OriginURL: mustParse(t, srv.URL), VerifyTLS: true, MaxBodyBytes: 1024})

	inbound := map[string][]string{
		"Connection":          {"keep-alive"},
		"Proxy-Authorization": {"secret"},
		"X-Custom":            {"value"},
	}
	resp, err := c.Forward(context.Background(), http.MethodGet, "/", "req-1", inbound, nil)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}

	if gotHeaders.Get("Proxy-Authorization") != "" {
		t.Error("proxy-authorization should have been stripped from the outbound request")
	}
	if gotHeaders.Get("X-Custom") != "value" {
		t.Error("non-hop-by-hop header should pass through")
	}
	if gotHeaders.Get("X-Forwarded-By") != "pori" {
		t.Error("expected x-forwarded-by: pori to be added")
	}
	if gotHeaders.Get("X-Request-Id") != "req-1" {
		t.Error("expected x-request-id to be set from the request id")
	}
	if _, ok := resp.Headers["Connection"]; ok {
		t.Error("connection header should have been stripped from the response")
	}
	if resp.Headers["Content-Type"][0] != "text/plain" {
		t.Error("content-type should survive response filtering")
	}
}

func TestForwardBodySizeBoundary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("a", 8)))
	}))
	defer srv.Close()

	c := New(Config{OriginURL: mustParse(t, srv.URL), VerifyTLS: true, MaxBodyBytes: 8})
	if _, err := c.Forward(context.Background(), http.MethodGet, "/", "req-2", nil, nil); err != nil {
		t.Errorf("exactly max_body_bytes should succeed, got %v", err)
	}

	c2 := New(Config{OriginURL: mustParse(t, srv.URL), VerifyTLS: true, MaxBodyBytes: 7})
	_, err := c2.Forward(context.Background(), http.MethodGet, "/", "req-3", nil, nil)
	if err == nil {
		t.Fatal("expected error when body exceeds max_body_bytes")
	}
	oerr, ok := err.(*OriginError)
	if !ok || oerr.Kind != ErrPayloadTooLarge {
		t.Errorf("expected PayloadTooLarge, got %v", err)
	}
}

func TestForwardRequestBodySizeBoundary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(Config{OriginURL: mustParse(t, srv.URL), VerifyTLS: true, MaxBodyBytes: 8})
	if _, err := c.Forward(context.Background(), http.MethodPost, "/", "req-2b", nil, []byte(strings.Repeat("a", 8))); err != nil {
		t.Errorf("request body of exactly max_body_bytes should succeed, got %v", err)
	}

	_, err := c.Forward(context.Background(), http.MethodPost, "/", "req-2c", nil, []byte(strings.Repeat("a", 9)))
	if err == nil {
		t.Fatal("expected error when request body exceeds max_body_bytes")
	}
	oerr, ok := err.(*OriginError)
	if !ok || oerr.Kind != ErrPayloadTooLarge {
		t.Errorf("expected PayloadTooLarge, got %v", err)
	}
}

func TestForwardUnreachableOrigin(t *testing.T) {
	c := New(Config{OriginURL: mustParse(t, "http://127.0.0.1:1"), VerifyTLS: true, MaxBodyBytes: 1024, ConnectTimeout: 200 * time.Millisecond})
	_, err := c.Forward(context.Background(), http.MethodGet, "/", "req-4", nil, nil)
	if err == nil {
		t.Fatal("expected error for unreachable origin")
	}
	oerr, ok := err.(*OriginError)
	if !ok || oerr.Kind != ErrUnreachable {
		t.Errorf("expected Unreachable, got %v", err)
	}
}

func TestForwardTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(Config{OriginURL: mustParse(t, srv.URL), VerifyTLS: true, MaxBodyBytes: 1024, RequestTimeout: 10 * time.Millisecond})
	_, err := c.Forward(context.Background(), http.MethodGet, "/", "req-5", nil, nil)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	oerr, ok := err.(*OriginError)
	if !ok || oerr.Kind != ErrTimeout {
		t.Errorf("expected Timeout, got %v", err)
	}
}

func TestForwardPreservesQueryString(t *testing.T) {
	var gotURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURL = r.URL.RequestURI()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(Config{OriginURL: mustParse(t, srv.URL), VerifyTLS: true, MaxBodyBytes: 1024})
	if _, err := c.Forward(context.Background(), http.MethodGet, "/search?q=go&page=2", "req-6", nil, nil); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if gotURL != "/search?q=go&page=2" {
		t.Errorf("gotURL = %q, want /search?q=go&page=2", gotURL)
	}
}
