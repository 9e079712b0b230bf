package smtp

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/bidhouse/internal/apperror"
)

// Status is the slice of the dispatcher the operator endpoints need.
type Status interface {
	Settings() Settings
	TestConnection(ctx context.Context) error
}

// Handler serves the operator view of the mail configuration.
// Operator-only -- routes are mounted on the operator group.
type Handler struct {
	status Status
}

// NewHandler creates a new SMTP handler.
func NewHandler(status Status) *Handler {
	return &Handler{status: status}
}

// Settings returns the redacted mail settings (GET /api/v1/operator/smtp).
func (h *Handler) Settings(c echo.Context) error {
	return c.JSON(http.StatusOK, h.status.Settings())
}

// TestConnection checks the mail server (POST /api/v1/operator/smtp/test).
func (h *Handler) TestConnection(c echo.Context) error {
	if err := h.status.TestConnection(c.Request().Context()); err != nil {
		slog.Warn("smtp connection test failed", slog.Any("error", err))
		return apperror.NewDispatchFailure("could not connect to the mail server")
	}
	return c.JSON(http.StatusOK, DispatchResult{Success: true, Message: "connection successful"})
}
