package config

import (
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// LoadEnvFile loads PORI_* variables from a dotenv-style file (adapted
// from the teacher's TUN_*-prefixed loader). Existing environment
// variables are never overwritten. Missing files are silently ignored.
// logger may be nil, in which case malformed lines are dropped silently
// (used only by tests that don't otherwise need a logger wired up).
func LoadEnvFile(name string, logger *zap.SugaredLogger) {
	data, err := os.ReadFile(name)
	if err != nil {
		return
	}
	for _, ln := range strings.Split(string(data), "\n") {
		line := strings.TrimSpace(ln)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		i := strings.IndexByte(line, '=')
		if i <= 0 {
			if logger != nil {
				logger.Warnw("malformed env line", "file", name, "line", line)
			}
			continue
		}
		k := strings.TrimSpace(line[:i])
		v := strings.TrimSpace(line[i+1:])
		v = strings.Trim(v, "\"'")
		if !strings.HasPrefix(k, "PORI_") && k != "RUST_LOG" {
			continue
		}
		if os.Getenv(k) == "" {
			_ = os.Setenv(k, v)
		}
	}
}

// ApplyEnv overlays PORI_* environment overrides onto s (spec.md §6).
// RUST_LOG is honored as a fallback for --log-level, matching the
// original tool's convention.
func ApplyEnv(s Settings) Settings {
	if v := os.Getenv("PORI_URL"); v != "" {
		s.TunnelURL = v
	}
	if v := os.Getenv("PORI_TOKEN"); v != "" {
		s.Token = v
	}
	if v := os.Getenv("PORI_PROTOCOL"); v != "" {
		s.OriginURL = rewriteScheme(s.OriginURL, v)
	}
	if v := os.Getenv("PORI_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			s.OriginURL = rewritePort(s.OriginURL, p)
		}
	}
	if v := os.Getenv("PORI_DASHBOARD_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			s.DashboardPort = p
		}
	}
	if v := os.Getenv("RUST_LOG"); v != "" {
		s.LogLevel = v
	}
	return s
}

func rewriteScheme(rawURL, scheme string) string {
	if rawURL == "" {
		return rawURL
	}
	if i := strings.Index(rawURL, "://"); i >= 0 {
		return scheme + rawURL[i:]
	}
	return rawURL
}

func rewritePort(rawURL string, port int) string {
	if rawURL == "" {
		return rawURL
	}
	i := strings.LastIndex(rawURL, ":")
	slash := strings.Index(rawURL, "://")
	if i <= slash+2 {
		return rawURL
	}
	host := rawURL[:i]
	return host + ":" + strconv.Itoa(port)
}
