package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/config"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/observability"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/server"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/server/ratelimit"
)

const (
	httpShutdownTimeout = 30 * time.Second
	poolDrainTimeout    = 2 * time.Minute
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long:  "Start an HTTP server that accepts prospecting requests, runs them on a bounded worker pool, and streams their progress.",
		RunE:  runServe,
	}
	cmd.Flags().Int("port", 0, "Port to listen on (overrides settings)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		settings.Port, _ = cmd.Flags().GetInt("port")
		if err := settings.Validate(); err != nil {
			return err
		}
	}

	logger, err := newLogger(settings, false)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics, err := observability.NewMetrics(ctx, "")
	if err != nil {
		return err
	}
	defer func() { _ = metrics.Shutdown(context.WithoutCancel(ctx)) }()

	a, err := newApp(ctx, settings, logger, appOptions{observer: metrics, recorder: metrics})
	if err != nil {
		return err
	}
	defer a.Close()

	auth, err := loadAuthenticator()
	if err != nil {
		return err
	}
	if auth == nil {
		logger.Warn("JWT_SECRET is not set; mutating routes are unauthenticated")
	}

	srv, err := server.New(server.Config{
		Port:        settings.Port,
		Runs:        a.coordinator,
		Projects:    a.projects,
		Logger:      logger,
		Keepalive:   settings.Keepalive(),
		CORSOrigins: settings.CORSOrigins,
		Auth:        auth,
		RateLimit:   ratelimit.LoadConfig(),
		Metrics:     metrics.Handler(),
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	serveErr := srv.Run(ctx, httpShutdownTimeout)

	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), poolDrainTimeout)
	defer cancel()
	logger.Info("draining worker pool", zap.Int("running", a.pool.Running()), zap.Int("queued", a.pool.Queued()))
	if err := a.pool.Shutdown(drainCtx); err != nil {
		logger.Warn("worker pool did not drain cleanly", zap.Error(err))
	}
	return serveErr
}

// loadAuthenticator returns nil when authentication is disabled.
func loadAuthenticator() (*server.Authenticator, error) {
	if !config.AuthEnabled() {
		return nil, nil
	}
	jwtCfg, err := config.NewJWTConfig()
	if err != nil {
		return nil, err
	}
	operator, err := config.LoadOperatorConfig(os.Getenv)
	if err != nil {
		return nil, err
	}
	passwords, err := config.NewPasswordConfig()
	if err != nil {
		return nil, err
	}
	return server.NewAuthenticator(jwtCfg, operator, passwords), nil
}
