package security

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/bidhouse/internal/apperror"
)

// Handler serves the operator view of the security event log.
type Handler struct {
	service Service
}

// NewHandler creates a new security handler.
func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// List returns one page of events (GET /api/v1/operator/security-events).
// Query params: type (optional filter), page (1-based).
func (h *Handler) List(c echo.Context) error {
	page, _ := strconv.Atoi(c.QueryParam("page"))

	result, err := h.service.ListEvents(c.Request().Context(), c.QueryParam("type"), page)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// Stats returns aggregate counts (GET /api/v1/operator/security-events/stats).
func (h *Handler) Stats(c echo.Context) error {
	stats, err := h.service.GetStats(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

// ByIP counts recent events from one address
// (GET /api/v1/operator/security-events/ip/:ip?type=login.failed&window=1h).
func (h *Handler) ByIP(c echo.Context) error {
	eventType := c.QueryParam("type")
	if eventType == "" {
		eventType = EventLoginFailed
	}

	window := 24 * time.Hour
	if raw := c.QueryParam("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return apperror.NewValidation("window must be a duration such as 30m or 24h")
		}
		window = d
	}

	ip := c.Param("ip")
	count, err := h.service.RecentByIP(c.Request().Context(), ip, eventType, window)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"ip":         ip,
		"event_type": eventType,
		"window":     window.String(),
		"count":      count,
	})
}
