package auth

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/bidhouse/internal/apperror"
)

// contextKeyClaims stores the parsed session claims in the Echo context.
// Other plugins read them through GetClaims.
const contextKeyClaims = "auth_claims"

// RequireAuth returns middleware that accepts only a valid session token in
// the Authorization header and stores its claims in the context.
// Registration tokens are rejected. Account state is not re-read: a ban
// takes effect when the current session token expires.
func RequireAuth(tokens *TokenIssuer) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := bearerToken(c)
			if raw == "" {
				return apperror.NewUnauthorized("authentication required")
			}

			claims, err := tokens.Parse(raw, TokenSession)
			if err != nil {
				return err
			}

			c.Set(contextKeyClaims, claims)
			return next(c)
		}
	}
}

// RequireRole returns middleware that admits only the given roles. It must
// run after RequireAuth.
func RequireRole(roles ...Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims := GetClaims(c)
			if claims == nil {
				return apperror.NewUnauthorized("authentication required")
			}
			for _, r := range roles {
				if claims.Role == r {
					return next(c)
				}
			}
			return apperror.NewForbidden("your role cannot access this resource")
		}
	}
}

// GetClaims returns the session claims of the authenticated request, or nil
// when RequireAuth did not run.
func GetClaims(c echo.Context) *Claims {
	claims, ok := c.Get(contextKeyClaims).(*Claims)
	if !ok {
		return nil
	}
	return claims
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
func bearerToken(c echo.Context) string {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
