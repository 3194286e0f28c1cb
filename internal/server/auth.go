package server

import (
	"crypto/subtle"
	"strings"

	"github.com/labstack/echo/v4"

	"geminigate/internal/core"
)

// AuthMiddleware creates an Echo middleware that validates the master key
// if it's configured. If masterKey is empty, no authentication is required.
// Requests to skipPaths are always let through.
func AuthMiddleware(masterKey string, skipPaths []string) echo.MiddlewareFunc {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if masterKey == "" {
				return next(c)
			}
			if _, ok := skip[c.Request().URL.Path]; ok {
				return next(c)
			}

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return handleError(c, core.NewAuthenticationError("missing authorization header"))
			}

			const prefix = "Bearer "
			if !strings.HasPrefix(authHeader, prefix) {
				return handleError(c, core.NewAuthenticationError("invalid authorization header format, expected 'Bearer <token>'"))
			}

			token := strings.TrimPrefix(authHeader, prefix)
			if subtle.ConstantTimeCompare([]byte(token), []byte(masterKey)) != 1 {
				return handleError(c, core.NewAuthenticationError("invalid master key"))
			}

			return next(c)
		}
	}
}
