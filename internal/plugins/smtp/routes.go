package smtp

import "github.com/labstack/echo/v4"

// RegisterRoutes sets up the SMTP operator routes on the given group.
// The caller applies the operator role guard.
func RegisterRoutes(operatorGroup *echo.Group, h *Handler) {
	operatorGroup.GET("/smtp", h.Settings)
	operatorGroup.POST("/smtp/test", h.TestConnection)
}
