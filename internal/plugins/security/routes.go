package security

import "github.com/labstack/echo/v4"

// RegisterRoutes mounts the security event routes on the operator group.
// The caller applies the operator role guard.
func RegisterRoutes(operatorGroup *echo.Group, h *Handler) {
	operatorGroup.GET("/security-events", h.List)
	operatorGroup.GET("/security-events/stats", h.Stats)
	operatorGroup.GET("/security-events/ip/:ip", h.ByIP)
}
