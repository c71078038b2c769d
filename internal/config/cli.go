package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// cliOptions backs the cobra flags declared in spec.md §6; zero values
// mean "not set on the command line" so Resolve can tell a real override
// from cobra's flag defaults.
type cliOptions struct {
	url            string
	token          string
	protocol       string
	port           int
	dashboardPort  int
	logLevel       string
	configPath     string
	ymlPath        string
	noDashboard    bool
	timeoutSeconds int
	maxReconnects  int
	verifySSL      bool
	maxConnections int
}

// BuildCommand returns the root cobra.Command. run is invoked with the
// fully resolved Settings once flags are parsed; version is printed by
// cobra's built-in --version handling.
func BuildCommand(version string, run func(Settings) error) *cobra.Command {
	opts := &cliOptions{}

	cmd := &cobra.Command{
		Use:     "pori",
		Short:   "Client-side reverse tunnel to a rendezvous server",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := Resolve(cmd, opts)
			if err != nil {
				return err
			}
			return run(settings)
		},
	}

	cmd.Flags().StringVar(&opts.url, "url", "", "rendezvous server WebSocket URL")
	cmd.Flags().StringVar(&opts.token, "token", "", "tunnel authentication token")
	cmd.Flags().StringVar(&opts.protocol, "protocol", "", "local origin protocol: http or https")
	cmd.Flags().IntVar(&opts.port, "port", 0, "local origin port")
	cmd.Flags().IntVar(&opts.dashboardPort, "dashboard-port", 0, "dashboard HTTP listener port")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, or error")
	cmd.Flags().StringVar(&opts.configPath, "config", "", "path to a config file")
	cmd.Flags().StringVar(&opts.ymlPath, "yml", "", "path to a YAML config file (alias of --config)")
	cmd.Flags().BoolVar(&opts.noDashboard, "no-dashboard", false, "disable the local dashboard server")
	cmd.Flags().IntVar(&opts.timeoutSeconds, "timeout", 0, "origin request timeout in seconds")
	cmd.Flags().IntVar(&opts.maxReconnects, "max-reconnects", -1, "maximum reconnect attempts (0 = unbounded)")
	cmd.Flags().BoolVar(&opts.verifySSL, "verify-ssl", false, "verify the local origin's TLS certificate")
	cmd.Flags().IntVar(&opts.maxConnections, "max-connections", 0, "maximum concurrent origin connections")

	return cmd
}

// Resolve builds the final Settings following the precedence rule from
// spec.md §6: CLI > env > file > defaults.
func Resolve(cmd *cobra.Command, opts *cliOptions) (Settings, error) {
	s := Defaults()

	configPath := opts.configPath
	if configPath == "" {
		configPath = opts.ymlPath
	}
	if configPath == "" {
		configPath = os.Getenv("PORI_CONFIG")
	}
	if configPath == "" {
		configPath = os.Getenv("PORI_YML")
	}
	s, err := LoadFile(s, configPath)
	if err != nil {
		return Settings{}, err
	}

	s = ApplyEnv(s)

	if opts.url != "" {
		s.TunnelURL = opts.url
	}
	if opts.token != "" {
		s.Token = opts.token
	}
	if opts.protocol != "" {
		s.OriginURL = rewriteScheme(defaultOriginURL(s), opts.protocol)
	}
	if opts.port != 0 {
		s.OriginURL = rewritePort(defaultOriginURL(s), opts.port)
	}
	if opts.dashboardPort != 0 {
		s.DashboardPort = opts.dashboardPort
	}
	if opts.logLevel != "" {
		s.LogLevel = opts.logLevel
	}
	if cmd.Flags().Changed("no-dashboard") {
		s.DashboardEnabled = !opts.noDashboard
	}
	if opts.timeoutSeconds > 0 {
		s.RequestTimeout = time.Duration(opts.timeoutSeconds) * time.Second
	}
	if cmd.Flags().Changed("max-reconnects") {
		s.MaxReconnects = opts.maxReconnects
	}
	if cmd.Flags().Changed("verify-ssl") {
		s.VerifyTLSOrigin = opts.verifySSL
	}
	if opts.maxConnections > 0 {
		s.MaxOriginConnections = opts.maxConnections
	}

	if err := s.Validate(); err != nil {
		return Settings{}, fmt.Errorf("configuration error: %w", err)
	}
	return s, nil
}

// defaultOriginURL returns s.OriginURL, or a sane placeholder so
// --protocol/--port can be applied even before any origin_url is set.
func defaultOriginURL(s Settings) string {
	if s.OriginURL != "" {
		return s.OriginURL
	}
	return "http://localhost:80"
}
