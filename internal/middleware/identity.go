package middleware

import "github.com/labstack/echo/v4"

// UserID returns the authenticated user's ID, or "" on public routes.
func UserID(c echo.Context) string {
	if s, ok := c.Get(UserIDKey).(string); ok {
		return s
	}
	return ""
}

// rateSubject identifies the caller for rate limiting.
func rateSubject(c echo.Context) string {
	if s := UserID(c); s != "" {
		return s
	}
	return "anon"
}
