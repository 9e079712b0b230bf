// Package middleware provides HTTP middleware for the bidhouse API.
// ratelimit.go implements a per-IP fixed-window limiter whose counters live
// in Redis, so every API replica shares the same budget.
package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

// RateLimit returns middleware that allows maxRequests per client IP per
// window for the named scope, answering 429 beyond that. Redis errors let
// the request through; the limiter is not worth an outage.
func RateLimit(rdb redis.Cmdable, scope string, maxRequests int, window time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			key := fmt.Sprintf("ratelimit:%s:%s", scope, c.RealIP())

			// INCR and EXPIRE NX go out in one MULTI/EXEC so a counter
			// never lives past its window.
			var incr *redis.IntCmd
			_, err := rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				incr = pipe.Incr(ctx, key)
				pipe.ExpireNX(ctx, key, window)
				return nil
			})
			if err != nil {
				slog.Warn("rate limiter unavailable", slog.String("scope", scope), slog.Any("error", err))
				return next(c)
			}

			if count := incr.Val(); count > int64(maxRequests) {
				ttl, err := rdb.TTL(ctx, key).Result()
				if err != nil || ttl < 0 {
					ttl = window
				}
				c.Response().Header().Set("Retry-After", strconv.Itoa(int(ttl.Round(time.Second).Seconds())))
				return c.JSON(http.StatusTooManyRequests, map[string]any{
					"success": false,
					"message": "rate limit exceeded, try again later",
				})
			}
			return next(c)
		}
	}
}
