package app

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/bidhouse/internal/observability"
	"github.com/keyxmakerx/bidhouse/internal/plugins/auth"
	"github.com/keyxmakerx/bidhouse/internal/plugins/security"
	"github.com/keyxmakerx/bidhouse/internal/plugins/smtp"
)

// RegisterRoutes builds every plugin from the shared infrastructure and
// mounts its routes. This is the single place where plugins are wired.
func (a *App) RegisterRoutes() {
	e := a.Echo
	cfg := a.Config

	// --- Health & metrics ---

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/readyz", func(c echo.Context) error {
		if err := a.Ready(c.Request().Context()); err != nil {
			slog.Warn("readiness check failed", slog.Any("error", err))
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
	})
	e.GET("/metrics", echo.WrapHandler(observability.Handler(a.Registry)))

	// --- Plugins ---

	dispatcher := smtp.NewDispatcher(smtp.NewTransport(cfg.SMTP), cfg.SMTP, a.Metrics)
	if cfg.SMTP.Host == "" {
		slog.Warn("SMTP_HOST not set, emails are written to the log instead of sent")
	}

	securitySvc := security.NewService(security.NewEventRepository(a.DB))

	tokens := auth.NewTokenIssuer(cfg.Auth.SecretKey, cfg.Auth.SessionTTL, cfg.Auth.RegistrationTokenTTL, nil)
	deps := auth.Deps{
		Store:       auth.NewStore(a.DB),
		Hasher:      auth.NewArgon2Hasher(),
		Codes:       auth.NewCodeGenerator(cfg.Auth.CodeLength, cfg.Auth.CodeTTL, nil),
		Tokens:      tokens,
		Notifier:    dispatcher,
		Attempts:    auth.NewRedisAttemptLimiter(a.Redis),
		MaxAttempts: cfg.Auth.VerifyMaxAttempts,
		Metrics:     a.Metrics,
	}
	authHandler := auth.NewHandler(auth.Services{
		Registration: auth.NewRegistrationService(deps),
		Verification: auth.NewVerificationService(deps),
		Reset:        auth.NewResetService(deps),
		Sessions:     auth.NewSessionService(deps),
		Operator:     auth.NewOperatorService(deps),
	}, securitySvc, auth.WithOperatorSignup(cfg.Auth.AllowOperatorSignup))
	if cfg.Auth.AllowOperatorSignup && !cfg.IsDevelopment() {
		slog.Warn("ALLOW_OPERATOR_SIGNUP is on, anyone can register an operator account")
	}

	auth.RegisterRoutes(e, authHandler, tokens, a.Redis)

	// Operator surface: session token with the operator role.
	operator := e.Group("/api/v1/operator", auth.RequireAuth(tokens), auth.RequireRole(auth.RoleOperator))
	auth.RegisterOperatorRoutes(operator, authHandler)
	security.RegisterRoutes(operator, security.NewHandler(securitySvc))
	smtp.RegisterRoutes(operator, smtp.NewHandler(dispatcher))
}
