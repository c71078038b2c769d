// Package supervisor implements the top-level lifecycle (spec.md §4.8,
// component C8): it wires the shared state, the dashboard server, and
// the reconnect loop around successive tunnel sessions, and coordinates
// graceful shutdown across all of them.
package supervisor

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aduki-Inc/Pori/internal/config"
	"github.com/aduki-Inc/Pori/internal/dashboard"
	"github.com/aduki-Inc/Pori/internal/forward"
	"github.com/aduki-Inc/Pori/internal/origin"
	"github.com/aduki-Inc/Pori/internal/protocol"
	"github.com/aduki-Inc/Pori/internal/reconnect"
	"github.com/aduki-Inc/Pori/internal/stats"
	"github.com/aduki-Inc/Pori/internal/tunnel"
)

// Exit codes from spec.md §6.
const (
	ExitClean         = 0
	ExitConfiguration = 1
	ExitFatalAuth     = 2
	ExitRuntime       = 3
)

// GracePeriod bounds how long Run waits for the dashboard and any
// residual worker to finish once shutdown begins (spec.md §4.8 default
// 10s).
const GracePeriod = 10 * time.Second

// Supervisor owns one process's worth of tunnel state.
type Supervisor struct {
	settings config.Settings
	logger   *zap.SugaredLogger
	state    *stats.State

	mu            sync.Mutex
	cancelAttempt context.CancelFunc
}

// New builds a Supervisor from resolved settings.
func New(settings config.Settings, logger *zap.SugaredLogger) *Supervisor {
	return &Supervisor{
		settings: settings,
		logger:   logger,
		state:    stats.New(),
	}
}

// Reconnect forces the current session to terminate as Transient and
// resets the backoff so the next attempt happens immediately. Called
// from the dashboard's /api/reconnect handler.
func (sv *Supervisor) Reconnect() error {
	sv.mu.Lock()
	cancel := sv.cancelAttempt
	sv.mu.Unlock()
	if cancel == nil {
		return fmt.Errorf("supervisor: no active session to reconnect")
	}
	cancel()
	return nil
}

// Shutdown fires the shared shutdown signal. Called from the dashboard's
// /api/shutdown handler; process signals instead cancel the context
// passed to Run.
func (sv *Supervisor) Shutdown() {
	sv.state.Shutdown()
	sv.mu.Lock()
	cancel := sv.cancelAttempt
	sv.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Run executes the ordered startup and reconnect loop described in
// spec.md §4.8 until a Clean or Fatal termination, or until parentCtx is
// cancelled, and returns the process exit code to use.
func (sv *Supervisor) Run(parentCtx context.Context) int {
	originURL, err := parseOriginURL(sv.settings.OriginURL)
	if err != nil {
		sv.logger.Errorf("invalid origin url: %v", err)
		return ExitConfiguration
	}

	originClient := origin.New(origin.Config{
		OriginURL:      originURL,
		VerifyTLS:      sv.settings.VerifyTLSOrigin,
		ConnectTimeout: sv.settings.ConnectTimeout,
		RequestTimeout: sv.settings.RequestTimeout,
		MaxConnections: sv.settings.MaxOriginConnections,
		MaxBodyBytes:   int64(sv.settings.MaxBodyBytes),
	})
	engine := forward.New(originClient, sv.state, sv.logger, forward.Config{
		MaxConcurrent: sv.settings.MaxOriginConnections,
	})

	var wg sync.WaitGroup
	if sv.settings.DashboardEnabled {
		dashCtx, dashCancel := context.WithCancel(parentCtx)
		defer dashCancel()
		go func() {
			select {
			case <-sv.state.Done():
				dashCancel()
			case <-dashCtx.Done():
			}
		}()
		srv := dashboard.New(dashboard.Config{
			Addr:           fmt.Sprintf("%s:%d", sv.settings.DashboardBindAddr, sv.settings.DashboardPort),
			Verbose:        sv.settings.LogLevel == "debug",
			ConfigSnapshot: sv.settings.Redacted,
			Reconnect:      sv.Reconnect,
			Shutdown:       sv.Shutdown,
			Endpoints: []dashboard.Endpoint{
				{Method: "GET", Path: "/"},
				{Method: "GET", Path: "/api/status"},
				{Method: "GET", Path: "/api/stats"},
				{Method: "GET", Path: "/api/config"},
				{Method: "GET", Path: "/api/endpoints"},
				{Method: "POST", Path: "/api/reconnect"},
				{Method: "POST", Path: "/api/shutdown"},
				{Method: "GET", Path: "/metrics"},
			},
		}, sv.state, sv.logger)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Run(dashCtx); err != nil {
				sv.logger.Errorf("dashboard server: %v", err)
			}
		}()
	}

	policy := reconnect.New(reconnect.Options{MaxAttempts: uint32(sv.settings.MaxReconnects)})

	exitCode := ExitClean
	var fatalErr error
	firstAttempt := true

loop:
	for policy.ShouldAttempt() && !sv.state.ShuttingDown() {
		select {
		case <-parentCtx.Done():
			break loop
		default:
		}

		if !firstAttempt {
			delay := policy.NextDelay()
			sv.state.SetConnectionStatus(stats.StatusReconnecting)
			select {
			case <-time.After(delay):
			case <-parentCtx.Done():
				break loop
			case <-sv.state.Done():
				break loop
			}
		}
		firstAttempt = false

		attemptCtx, cancel := context.WithCancel(parentCtx)
		sv.mu.Lock()
		sv.cancelAttempt = cancel
		sv.mu.Unlock()

		dialURL, err := sv.settings.AuthenticatedTunnelURL()
		if err != nil {
			sv.logger.Errorf("invalid tunnel url: %v", err)
			cancel()
			exitCode = ExitConfiguration
			break loop
		}

		session := tunnel.New(tunnel.Config{
			ServerURL:    dialURL,
			Token:        sv.settings.Token,
			PingInterval: sv.settings.PingInterval,
			PongTimeout:  sv.settings.PongTimeout,
			MaxFrame:     sv.settings.MaxFrameBytes,
		}, func(st tunnel.Status) {
			sv.onSessionStatus(st, policy)
		})

		result := session.Run(attemptCtx, func(ctx context.Context, f protocol.Frame) protocol.Frame {
			return engine.Handle(ctx, f)
		})
		// Only Reconnect cancels the attempt while neither the parent
		// context nor the shutdown signal has fired.
		forced := attemptCtx.Err() != nil && parentCtx.Err() == nil && !sv.state.ShuttingDown()
		cancel()

		if forced {
			sv.state.IncWebsocketReconnects()
			sv.logger.Warnf("session terminated by reconnect request")
			policy.Reset()
			firstAttempt = true
			continue
		}

		switch result.Cause {
		case tunnel.CauseClean:
			break loop
		case tunnel.CauseFatal:
			sv.logger.Errorf("fatal session error: %v", result.Err)
			fatalErr = result.Err
			exitCode = ExitFatalAuth
			break loop
		case tunnel.CauseTransient:
			sv.state.IncWebsocketReconnects()
			sv.logger.Warnf("session terminated, reconnecting: %v", result.Err)
		}
	}

	sv.state.SetConnectionStatus(stats.StatusShuttingDown)
	sv.state.Shutdown()

	waitCh := make(chan struct{})
	go func() { wg.Wait(); close(waitCh) }()
	select {
	case <-waitCh:
	case <-time.After(GracePeriod):
		sv.logger.Warn("grace period exceeded waiting for workers to stop")
	}

	if fatalErr != nil && exitCode == ExitClean {
		exitCode = ExitRuntime
	}
	return exitCode
}

func (sv *Supervisor) onSessionStatus(st tunnel.Status, policy *reconnect.Policy) {
	switch st {
	case tunnel.StatusConnecting:
		sv.state.SetConnectionStatus(stats.StatusConnecting)
	case tunnel.StatusAuthenticating:
		sv.state.SetConnectionStatus(stats.StatusAuthenticating)
	case tunnel.StatusConnected:
		policy.Reset()
		sv.state.SetConnectionStatus(stats.StatusConnected)
	case tunnel.StatusTerminated:
		sv.state.SetConnectionStatus(stats.StatusDisconnected)
	}
}

// State exposes the shared statistics record, e.g. for cmd/pori to log a
// final snapshot on exit.
func (sv *Supervisor) State() *stats.State { return sv.state }

func parseOriginURL(raw string) (*url.URL, error) {
	return url.Parse(raw)
}
