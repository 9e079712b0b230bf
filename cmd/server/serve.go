package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"

	"github.com/keyxmakerx/bidhouse/internal/app"
	"github.com/keyxmakerx/bidhouse/internal/config"
	"github.com/keyxmakerx/bidhouse/internal/database"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "apply pending migrations before serving")
	return cmd
}

func runServe(ctx context.Context, migrate bool) error {
	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	setupLogging(cfg)

	slog.Info("starting bidhouse",
		slog.String("env", cfg.Env),
		slog.Int("port", cfg.Port),
	)

	// --- Error reporting ---
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.Env,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
		}); err != nil {
			slog.Error("sentry init failed", slog.Any("error", err))
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Connect to MariaDB ---
	db, err := database.NewMariaDB(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to MariaDB: %w", err)
	}
	defer db.Close()
	slog.Info("connected to MariaDB")

	if migrate {
		if err := database.RunMigrations(db, cfg.MigrationsPath); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
	}

	// --- Connect to Redis ---
	rdb, err := database.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connecting to Redis: %w", err)
	}
	defer rdb.Close()
	slog.Info("connected to Redis")

	// --- Create Application ---
	application := app.New(cfg, db, rdb)
	application.RegisterRoutes()

	// --- Graceful Shutdown ---
	errCh := make(chan error, 1)
	go func() {
		errCh <- application.Start()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down server...")

	// Give in-flight requests 10 seconds to complete.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := application.Echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced shutdown: %w", err)
	}
	return nil
}
