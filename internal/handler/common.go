package handler // handler defines http handlers

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/carryconnect/carryconnect/internal/middleware"
	"github.com/carryconnect/carryconnect/internal/model"
	"github.com/carryconnect/carryconnect/internal/repository"
	"github.com/carryconnect/carryconnect/internal/service"
)

// getUserID returns the authenticated user's ID set by the JWT middleware.
func getUserID(c echo.Context) (string, error) {
	if id := middleware.UserID(c); id != "" {
		return id, nil
	}
	return "", errors.New("invalid user_id in context")
}

// writeError maps domain errors onto HTTP statuses.
func writeError(c echo.Context, err error) error {
	var ve *service.ValidationError
	switch {
	case errors.As(err, &ve):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": ve.Error(), "field": ve.Field})
	case errors.Is(err, service.ErrUnauthenticated):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthenticated"})
	case errors.Is(err, repository.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	case errors.Is(err, repository.ErrTripNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "trip not found"})
	case errors.Is(err, service.ErrTripUnavailable):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	case errors.Is(err, repository.ErrConflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": "trip is booked"})
	case errors.Is(err, repository.ErrTransient):
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "temporarily unavailable, try again"})
	}
	c.Logger().Errorf("%s %s: %v", c.Request().Method, c.Path(), err)
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}

// toCents converts a decimal amount to integer cents.  Amounts that are
// not finite or whose magnitude exceeds model.MaxAmountCents are rejected
// before conversion.
func toCents(amount float64) (int64, bool) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0, false
	}
	if math.Abs(amount) > float64(model.MaxAmountCents)/100 {
		return 0, false
	}
	return int64(math.Round(amount * 100)), true
}

// parsePrice reads a decimal query value such as "12.50" into cents.
func parsePrice(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	// every price is below the bound, so a larger filter filters nothing
	if f > float64(model.MaxAmountCents)/100 {
		return model.MaxAmountCents, true
	}
	return toCents(f)
}
