package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// fileSettings mirrors the sectioned on-disk schema from spec.md §6.
// Only fields actually set in the file are applied over the existing
// Settings (zero values mean "unset").
type fileSettings struct {
	Websocket struct {
		URL           string  `yaml:"url" json:"url"`
		Token         string  `yaml:"token" json:"token"`
		PingInterval  float64 `yaml:"ping_interval" json:"ping_interval"`
		PongTimeout   float64 `yaml:"pong_timeout" json:"pong_timeout"`
		MaxFrameBytes int     `yaml:"max_frame_bytes" json:"max_frame_bytes"`
		MaxReconnects int     `yaml:"max_reconnects" json:"max_reconnects"`
	} `yaml:"websocket" json:"websocket"`

	LocalServer struct {
		OriginURL             string  `yaml:"origin_url" json:"origin_url"`
		VerifyTLS             bool    `yaml:"verify_tls" json:"verify_tls"`
		ConnectTimeout        float64 `yaml:"connect_timeout" json:"connect_timeout"`
		RequestTimeout        float64 `yaml:"request_timeout" json:"request_timeout"`
		MaxOriginConnections  int     `yaml:"max_origin_connections" json:"max_origin_connections"`
		MaxBodyBytes          int     `yaml:"max_body_bytes" json:"max_body_bytes"`
	} `yaml:"local_server" json:"local_server"`

	Dashboard struct {
		Enabled  *bool  `yaml:"enabled" json:"enabled"`
		BindAddr string `yaml:"bind_addr" json:"bind_addr"`
		Port     int    `yaml:"port" json:"port"`
	} `yaml:"dashboard" json:"dashboard"`

	Logging struct {
		Level string `yaml:"level" json:"level"`
	} `yaml:"logging" json:"logging"`
}

// discoveryPaths returns the auto-discovery search order from spec.md §6.
func discoveryPaths() []string {
	home, _ := os.UserHomeDir()
	var paths []string
	for _, ext := range []string{"yml", "yaml", "toml", "json"} {
		paths = append(paths, "./pori."+ext)
	}
	if home != "" {
		for _, ext := range []string{"yml", "yaml", "toml", "json"} {
			paths = append(paths, filepath.Join(home, ".pori."+ext))
		}
		for _, ext := range []string{"yml", "yaml", "toml"} {
			paths = append(paths, filepath.Join(home, ".config", "pori", "config."+ext))
		}
	}
	return paths
}

// LoadFile resolves the config file to use (explicit path if given,
// else the first auto-discovery candidate that exists) and merges its
// sections onto base. When no path is given and no candidate exists,
// base is returned unchanged with a nil error.
func LoadFile(base Settings, explicitPath string) (Settings, error) {
	path := explicitPath
	if path == "" {
		for _, candidate := range discoveryPaths() {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}
	if path == "" {
		return base, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if strings.HasSuffix(path, ".toml") {
		return base, fmt.Errorf("config: %s: TOML config files are not supported by this build", path)
	}

	var fs fileSettings
	if strings.HasSuffix(path, ".json") {
		if err := json.Unmarshal(data, &fs); err != nil {
			return base, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	} else {
		if err := yaml.Unmarshal(data, &fs); err != nil {
			return base, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	return applyFileSettings(base, fs), nil
}

func applyFileSettings(s Settings, fs fileSettings) Settings {
	if fs.Websocket.URL != "" {
		s.TunnelURL = fs.Websocket.URL
	}
	if fs.Websocket.Token != "" {
		s.Token = fs.Websocket.Token
	}
	if fs.Websocket.PingInterval > 0 {
		s.PingInterval = time.Duration(fs.Websocket.PingInterval * float64(time.Second))
	}
	if fs.Websocket.PongTimeout > 0 {
		s.PongTimeout = time.Duration(fs.Websocket.PongTimeout * float64(time.Second))
	}
	if fs.Websocket.MaxFrameBytes > 0 {
		s.MaxFrameBytes = fs.Websocket.MaxFrameBytes
	}
	if fs.Websocket.MaxReconnects > 0 {
		s.MaxReconnects = fs.Websocket.MaxReconnects
	}

	if fs.LocalServer.OriginURL != "" {
		s.OriginURL = fs.LocalServer.OriginURL
	}
	if fs.LocalServer.VerifyTLS {
		s.VerifyTLSOrigin = true
	}
	if fs.LocalServer.ConnectTimeout > 0 {
		s.ConnectTimeout = time.Duration(fs.LocalServer.ConnectTimeout * float64(time.Second))
	}
	if fs.LocalServer.RequestTimeout > 0 {
		s.RequestTimeout = time.Duration(fs.LocalServer.RequestTimeout * float64(time.Second))
	}
	if fs.LocalServer.MaxOriginConnections > 0 {
		s.MaxOriginConnections = fs.LocalServer.MaxOriginConnections
	}
	if fs.LocalServer.MaxBodyBytes > 0 {
		s.MaxBodyBytes = fs.LocalServer.MaxBodyBytes
	}

	if fs.Dashboard.Enabled != nil {
		s.DashboardEnabled = *fs.Dashboard.Enabled
	}
	if fs.Dashboard.BindAddr != "" {
		s.DashboardBindAddr = fs.Dashboard.BindAddr
	}
	if fs.Dashboard.Port > 0 {
		s.DashboardPort = fs.Dashboard.Port
	}

	if fs.Logging.Level != "" {
		s.LogLevel = fs.Logging.Level
	}

	return s
}
