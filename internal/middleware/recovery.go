package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"
)

// Recovery returns middleware that recovers from panics, logs the stack
// trace, and answers with the standard failure envelope. It sits outside
// the Sentry middleware, which reports the panic and re-panics into here.
func Recovery() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (returnErr error) {
			defer func() {
				if r := recover(); r != nil {
					if r == http.ErrAbortHandler {
						panic(r)
					}
					slog.Error("panic recovered",
						slog.Any("panic", r),
						slog.String("stack", string(debug.Stack())),
						slog.String("method", c.Request().Method),
						slog.String("path", c.Request().URL.Path),
					)

					if c.Response().Committed {
						return
					}
					returnErr = c.JSON(http.StatusInternalServerError, map[string]any{
						"success": false,
						"message": "internal error",
					})
				}
			}()

			return next(c)
		}
	}
}
