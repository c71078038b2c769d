// Package config builds the immutable Settings value consumed by every
// other package (spec.md §3/§6), following the teacher's env.go in style
// but layering CLI flags, environment overrides, and config files with
// explicit precedence, the way the rest of the retrieved corpus handles
// configuration.
package config

import (
	"fmt"
	"net/url"
	"time"
)

// Settings is the fully resolved, validated configuration. It is built
// once at process start and never mutated afterward.
type Settings struct {
	TunnelURL string
	Token     string

	OriginURL       string
	VerifyTLSOrigin bool

	ConnectTimeout time.Duration
	RequestTimeout time.Duration

	MaxOriginConnections int
	MaxReconnects        int

	DashboardEnabled   bool
	DashboardBindAddr  string
	DashboardPort      int

	PingInterval time.Duration
	PongTimeout  time.Duration

	MaxFrameBytes int
	MaxBodyBytes  int

	LogLevel string
}

// Defaults returns a Settings populated with every default named in
// spec.md §3, with TunnelURL/Token/OriginURL left empty for the caller to
// fill in.
func Defaults() Settings {
	return Settings{
		VerifyTLSOrigin:       false,
		ConnectTimeout:        10 * time.Second,
		RequestTimeout:        30 * time.Second,
		MaxOriginConnections:  10,
		MaxReconnects:         0,
		DashboardEnabled:      true,
		DashboardBindAddr:     "127.0.0.1",
		DashboardPort:         7616,
		PingInterval:          30 * time.Second,
		PongTimeout:           10 * time.Second,
		MaxFrameBytes:         1 << 20,
		MaxBodyBytes:          10 << 20,
		LogLevel:              "info",
	}
}

// Validate enforces the Configuration error class from spec.md §7:
// invalid URL scheme, empty token, or out-of-range port are all fatal at
// startup.
func (s Settings) Validate() error {
	if s.TunnelURL == "" {
		return fmt.Errorf("config: tunnel url is required")
	}
	u, err := url.Parse(s.TunnelURL)
	if err != nil {
		return fmt.Errorf("config: invalid tunnel url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("config: tunnel url scheme must be ws or wss, got %q", u.Scheme)
	}

	if s.Token == "" {
		return fmt.Errorf("config: token is required")
	}

	if s.OriginURL == "" {
		return fmt.Errorf("config: origin url is required")
	}
	ou, err := url.Parse(s.OriginURL)
	if err != nil {
		return fmt.Errorf("config: invalid origin url: %w", err)
	}
	if ou.Scheme != "http" && ou.Scheme != "https" {
		return fmt.Errorf("config: origin url scheme must be http or https, got %q", ou.Scheme)
	}

	if s.DashboardEnabled {
		if s.DashboardPort <= 0 || s.DashboardPort > 65535 {
			return fmt.Errorf("config: dashboard port out of range: %d", s.DashboardPort)
		}
	}

	if s.MaxOriginConnections <= 0 {
		return fmt.Errorf("config: max_origin_connections must be positive")
	}

	return nil
}

// AuthenticatedTunnelURL appends the token query parameter if the URL
// doesn't already carry one (spec.md §3/§6).
func (s Settings) AuthenticatedTunnelURL() (string, error) {
	u, err := url.Parse(s.TunnelURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	if q.Get("token") == "" {
		q.Set("token", s.Token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Redacted returns a map of non-secret settings safe to expose on the
// dashboard's /api/config route (spec.md §4.7: "token never disclosed").
func (s Settings) Redacted() map[string]any {
	return map[string]any{
		"tunnel_url":              s.TunnelURL,
		"origin_url":              s.OriginURL,
		"verify_tls_origin":       s.VerifyTLSOrigin,
		"connect_timeout_seconds": s.ConnectTimeout.Seconds(),
		"request_timeout_seconds": s.RequestTimeout.Seconds(),
		"max_origin_connections":  s.MaxOriginConnections,
		"max_reconnects":          s.MaxReconnects,
		"dashboard_enabled":       s.DashboardEnabled,
		"dashboard_bind_addr":     s.DashboardBindAddr,
		"dashboard_port":          s.DashboardPort,
		"ping_interval_seconds":   s.PingInterval.Seconds(),
		"pong_timeout_seconds":    s.PongTimeout.Seconds(),
		"max_frame_bytes":         s.MaxFrameBytes,
		"max_body_bytes":          s.MaxBodyBytes,
		"log_level":               s.LogLevel,
	}
}
