package middleware // reusable HTTP middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/carryconnect/carryconnect/internal/utils"
)

// UserIDKey is the echo context key holding the authenticated user's ID.
const UserIDKey = "user_id"

// JWTAuth validates an HS256 access token and stores its subject under
// UserIDKey.  The token is read from "Authorization: Bearer ..." or, for
// WebSocket upgrades where browsers cannot set headers, from the "token"
// query parameter.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw, ok := bearer(c)
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			sub, err := utils.ParseAccessToken(secret, raw)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}
			c.Set(UserIDKey, sub)
			return next(c)
		}
	}
}

func bearer(c echo.Context) (string, bool) {
	auth := c.Request().Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		raw := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		return raw, raw != ""
	}
	if raw := c.QueryParam("token"); raw != "" {
		return raw, true
	}
	return "", false
}

// JWTOptional is JWTAuth for public routes: a valid token sets UserIDKey,
// a missing or invalid one is ignored.
func JWTOptional(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if raw, ok := bearer(c); ok {
				if sub, err := utils.ParseAccessToken(secret, raw); err == nil {
					c.Set(UserIDKey, sub)
				}
			}
			return next(c)
		}
	}
}
