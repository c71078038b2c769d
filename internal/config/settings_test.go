package config

import "testing"

func TestValidateRejectsMissingTunnelURL(t *testing.T) {
	s := Defaults()
	s.Token = "t"
	s.OriginURL = "http://localhost:8080"
	if err := s.Validate(); err == nil {
		t.Fatal("expected error for missing tunnel url")
	}
}

func TestValidateRejectsBadScheme(t *testing.T) {
	s := Defaults()
	s.TunnelURL = "http://example.com/tunnel"
	s.Token = "t"
	s.OriginURL = "http://localhost:8080"
	if err := s.Validate(); err == nil {
		t.Fatal("expected error for non-ws tunnel scheme")
	}
}

func TestValidateAccepts(t *testing.T) {
	s := Defaults()
	s.TunnelURL = "wss://example.com/tunnel"
	s.Token = "t"
	s.OriginURL = "http://localhost:8080"
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestAuthenticatedTunnelURLAppendsToken(t *testing.T) {
	s := Defaults()
	s.TunnelURL = "wss://example.com/tunnel"
	s.Token = "secret"
	got, err := s.AuthenticatedTunnelURL()
	if err != nil {
		t.Fatalf("AuthenticatedTunnelURL: %v", err)
	}
	if got != "wss://example.com/tunnel?token=secret" {
		t.Errorf("got %q", got)
	}
}

func TestAuthenticatedTunnelURLPreservesExistingToken(t *testing.T) {
	s := Defaults()
	s.TunnelURL = "wss://example.com/tunnel?token=already"
	s.Token = "secret"
	got, err := s.AuthenticatedTunnelURL()
	if err != nil {
		t.Fatalf("AuthenticatedTunnelURL: %v", err)
	}
	if got != "wss://example.com/tunnel?token=already" {
		t.Errorf("got %q, want existing token preserved", got)
	}
}

func TestRedactedOmitsToken(t *testing.T) {
	s := Defaults()
	s.Token = "super-secret"
	r := s.Redacted()
	for k, v := range r {
		if k == "token" {
			t.Fatal("token must never appear in redacted settings")
		}
		if s, ok := v.(string); ok && s == "super-secret" {
			t.Fatalf("token value leaked under key %q", k)
		}
	}
}
