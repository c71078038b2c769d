// Command pori is the tunnel client: it holds a persistent authenticated
// connection to a rendezvous server and forwards inbound requests to a
// local origin.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aduki-Inc/Pori/internal/buildinfo"
	"github.com/aduki-Inc/Pori/internal/config"
	"github.com/aduki-Inc/Pori/internal/supervisor"
)

func main() {
	bootstrap, err := newLogger("info")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(supervisor.ExitConfiguration)
	}
	bootSugar := bootstrap.Sugar()
	config.LoadEnvFile(".env", bootSugar)
	config.LoadEnvFile("pori.env", bootSugar)
	bootstrap.Sync()

	cmd := config.BuildCommand(buildinfo.Version, run)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(supervisor.ExitConfiguration)
	}
}

func run(settings config.Settings) error {
	logger, err := newLogger(settings.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	sv := supervisor.New(settings, sugar)
	exitCode := sv.Run(ctx)

	snap := sv.State().Snapshot()
	sugar.Infow("pori exiting",
		"exit_code", exitCode,
		"requests_processed", snap.RequestsProcessed,
		"requests_successful", snap.RequestsSuccessful,
		"requests_failed", snap.RequestsFailed,
		"websocket_reconnects", snap.WebsocketReconnects,
	)

	if exitCode != supervisor.ExitClean {
		os.Exit(exitCode)
	}
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	return cfg.Build()
}
