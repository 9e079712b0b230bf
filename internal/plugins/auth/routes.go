package auth

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/keyxmakerx/bidhouse/internal/middleware"
)

// RegisterRoutes mounts the public account routes under /api/v1/auth.
// Code-bearing POST endpoints are rate-limited per IP to slow down guessing
// and credential stuffing.
func RegisterRoutes(e *echo.Echo, h *Handler, tokens *TokenIssuer, rdb redis.Cmdable) {
	g := e.Group("/api/v1/auth")

	g.POST("/register", h.Register, middleware.RateLimit(rdb, "register", 5, time.Minute))
	g.POST("/verify", h.Verify, middleware.RateLimit(rdb, "verify", 10, time.Minute))
	g.POST("/verify/resend", h.Resend, middleware.RateLimit(rdb, "resend", 3, time.Minute))
	g.POST("/reset/request", h.RequestReset, middleware.RateLimit(rdb, "reset", 3, time.Minute))
	g.POST("/reset/verify", h.VerifyReset, middleware.RateLimit(rdb, "reset-verify", 10, time.Minute))
	g.POST("/reset/replace", h.ReplacePassword, middleware.RateLimit(rdb, "reset-replace", 10, time.Minute))
	g.POST("/login", h.Login, middleware.RateLimit(rdb, "login", 10, time.Minute))

	g.GET("/me", h.Me, RequireAuth(tokens))
}

// RegisterOperatorRoutes mounts account administration on the operator
// group. The caller applies RequireAuth and RequireRole(RoleOperator).
func RegisterOperatorRoutes(operatorGroup *echo.Group, h *Handler) {
	operatorGroup.POST("/merchants", h.CreateMerchant)
	operatorGroup.POST("/merchants/:id/onboarding", h.TransitionOnboarding)
	operatorGroup.POST("/merchants/:id/violations", h.RecordViolation)
	operatorGroup.POST("/identities/:id/ban", h.Ban)
	operatorGroup.DELETE("/identities/:id/ban", h.Unban)
}
