// Package app is the application bootstrap and dependency injection root.
// It creates and holds all shared infrastructure (DB pool, Redis client,
// metrics registry, Echo instance) and wires together the plugins.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/keyxmakerx/bidhouse/internal/apperror"
	"github.com/keyxmakerx/bidhouse/internal/config"
	"github.com/keyxmakerx/bidhouse/internal/middleware"
	"github.com/keyxmakerx/bidhouse/internal/observability"
)

// App holds all shared dependencies and the Echo HTTP server instance.
// Created once at startup in main.go and used to register all routes.
type App struct {
	// Config holds the loaded application configuration.
	Config *config.Config

	// DB is the MariaDB connection pool shared by all plugins.
	DB *sql.DB

	// Redis backs the attempt limiter and the HTTP rate limiter.
	Redis *redis.Client

	// Registry collects the Prometheus metrics served at /metrics.
	Registry *prometheus.Registry

	// Metrics holds the account workflow counters.
	Metrics *observability.Metrics

	// Echo is the HTTP server instance.
	Echo *echo.Echo
}

// New creates a new App instance with the given dependencies and configures
// the Echo server with global middleware and error handling.
func New(cfg *config.Config, db *sql.DB, rdb *redis.Client) *App {
	e := echo.New()

	// Disable Echo's default banner and startup message -- we log our own.
	e.HideBanner = true
	e.HidePort = true

	// Trust forwarding headers only from the reverse proxy so c.RealIP()
	// is the client. Rate limiting and the security log depend on it.
	middleware.TrustedProxies(e, cfg.TrustedProxies)

	reg := observability.NewRegistry()
	app := &App{
		Config:   cfg,
		DB:       db,
		Redis:    rdb,
		Registry: reg,
		Metrics:  observability.NewMetrics(reg),
		Echo:     e,
	}

	app.setupMiddleware()
	e.HTTPErrorHandler = app.errorHandler

	return app
}

// setupMiddleware registers global middleware on the Echo instance.
// Order matters: outermost (recovery) runs first.
func (a *App) setupMiddleware() {
	// Panic recovery -- outermost, so it also catches the panic the Sentry
	// middleware re-raises after reporting.
	a.Echo.Use(middleware.Recovery())

	a.Echo.Use(echomw.RequestID())
	a.Echo.Use(middleware.RequestLogger())

	// Sentry attaches a hub to each request; the error handler reports 5xx
	// through it. Without a DSN the SDK is a no-op.
	a.Echo.Use(sentryecho.New(sentryecho.Options{Repanic: true}))

	a.Echo.Use(echomw.BodyLimit("64K"))
	a.Echo.Use(middleware.SecurityHeaders(a.Config.IsProduction()))
	a.Echo.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: a.Config.CORSOrigins,
	}))
}

// errorHandler is the custom Echo error handler. It maps domain errors
// (AppError) to the JSON envelope every endpoint answers with. Server-side
// failures are logged with their cause and reported to Sentry.
func (a *App) errorHandler(err error, c echo.Context) {
	// Don't double-write if response is already committed.
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	message := "internal error"

	var appErr *apperror.AppError
	var echoErr *echo.HTTPError
	switch {
	case errors.As(err, &appErr):
		code = appErr.Code
		message = appErr.Message
	case errors.As(err, &echoErr):
		// Router errors (404, 405) and Echo's own binders.
		code = echoErr.Code
		if msg, ok := echoErr.Message.(string); ok {
			message = msg
		} else {
			message = http.StatusText(code)
		}
	}

	if code >= http.StatusInternalServerError {
		slog.Error("request failed",
			slog.Int("status", code),
			slog.Any("error", err),
			slog.String("path", c.Request().URL.Path),
			slog.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
		)
		if hub := sentryecho.GetHubFromContext(c); hub != nil {
			hub.CaptureException(err)
		}
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.JSON(code, map[string]any{
		"success": false,
		"message": message,
	})
}

// Ready checks the database and Redis. Used by /readyz.
func (a *App) Ready(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := a.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("mariadb: %w", err)
	}
	if err := a.Redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

// Start begins listening for HTTP requests on the configured port.
func (a *App) Start() error {
	addr := fmt.Sprintf(":%d", a.Config.Port)
	slog.Info("starting bidhouse server",
		slog.String("addr", addr),
		slog.String("env", a.Config.Env),
	)
	return a.Echo.Start(addr)
}
