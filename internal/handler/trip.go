package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/carryconnect/carryconnect/internal/middleware"
	"github.com/carryconnect/carryconnect/internal/model"
	"github.com/carryconnect/carryconnect/internal/service"
)

// TripHandler serves trip listing, posting, deletion and booking.
type TripHandler struct {
	Trips    *service.TripService
	Bookings *service.BookingService
}

func NewTripHandler(trips *service.TripService, bookings *service.BookingService) *TripHandler {
	if trips == nil || bookings == nil {
		panic("nil service passed to NewTripHandler")
	}
	return &TripHandler{Trips: trips, Bookings: bookings}
}

type createTripReq struct {
	Origin       string  `json:"origin"`
	Destination  string  `json:"destination"`
	TravelDate   string  `json:"travel_date"`
	Mode         string  `json:"transport_mode"`
	PackageSize  string  `json:"package_size"`
	Price        float64 `json:"price"`
	Description  string  `json:"description"`
	OwnerName    string  `json:"owner_name"`
	OwnerContact string  `json:"owner_contact"`
}

type bookReq struct {
	WeightKg         float64 `json:"weight_kg"`
	PickupLocation   string  `json:"pickup_location"`
	DropoffLocation  string  `json:"dropoff_location"`
	AgreedPrice      float64 `json:"agreed_price"`
	RequesterName    string  `json:"requester_name"`
	RequesterContact string  `json:"requester_contact"`
}

// filterFromQuery reads the listing filter shared by GET /v1/trips and the
// live trips socket.
func filterFromQuery(c echo.Context) (model.TripFilter, bool) {
	maxPrice, ok := parsePrice(c.QueryParam("max_price"))
	if !ok {
		return model.TripFilter{}, false
	}
	return model.TripFilter{
		Origin:        strings.TrimSpace(c.QueryParam("origin")),
		Destination:   strings.TrimSpace(c.QueryParam("destination")),
		FromDate:      strings.TrimSpace(c.QueryParam("from_date")),
		PackageSize:   model.PackageSize(strings.ToLower(strings.TrimSpace(c.QueryParam("size")))),
		Mode:          model.TransportMode(strings.ToLower(strings.TrimSpace(c.QueryParam("mode")))),
		MaxPriceCents: maxPrice,
	}, true
}

// redact hides booking details from anyone but the two parties.
func redact(t model.Trip, viewer string) model.Trip {
	if t.Booking != nil && !t.IsParty(viewer) {
		t.Booking = nil
	}
	return t
}

// List handles GET /v1/trips.
func (h *TripHandler) List(c echo.Context) error {
	f, ok := filterFromQuery(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid max_price"})
	}
	trips, err := h.Trips.ListAvailable(c.Request().Context(), f)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"trips": trips})
}

// Get handles GET /v1/trips/:id.
func (h *TripHandler) Get(c echo.Context) error {
	t, err := h.Trips.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, redact(*t, middleware.UserID(c)))
}

// Create handles POST /v1/trips.
func (h *TripHandler) Create(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req createTripReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	price, ok := toCents(req.Price)
	if !ok {
		return writeError(c, &service.ValidationError{Field: "price", Reason: "out of range"})
	}
	t, err := h.Trips.Create(c.Request().Context(), uid, service.TripDraft{
		Origin:       req.Origin,
		Destination:  req.Destination,
		TravelDate:   strings.TrimSpace(req.TravelDate),
		Mode:         model.TransportMode(strings.ToLower(strings.TrimSpace(req.Mode))),
		PackageSize:  model.PackageSize(strings.ToLower(strings.TrimSpace(req.PackageSize))),
		PriceCents:   price,
		Description:  req.Description,
		OwnerName:    req.OwnerName,
		OwnerContact: req.OwnerContact,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, t)
}

// Delete handles DELETE /v1/trips/:id.
func (h *TripHandler) Delete(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	if err := h.Trips.Delete(c.Request().Context(), c.Param("id"), uid); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// MyTrips handles GET /v1/my-trips: the trips the caller posted.
func (h *TripHandler) MyTrips(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	trips, err := h.Trips.ListByOwner(c.Request().Context(), uid)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"trips": trips})
}

// MyBookings handles GET /v1/my-bookings: the trips the caller booked.
func (h *TripHandler) MyBookings(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	trips, err := h.Trips.ListBookedBy(c.Request().Context(), uid)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"trips": trips})
}

// Book handles POST /v1/trips/:id/book.  Losing the race answers 409 with
// "this trip is no longer available".
func (h *TripHandler) Book(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req bookReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	agreed, ok := toCents(req.AgreedPrice)
	if !ok {
		return writeError(c, &service.ValidationError{Field: "agreed_price", Reason: "out of range"})
	}
	t, err := h.Bookings.Book(c.Request().Context(), c.Param("id"), uid, service.BookingDetails{
		WeightKg:         req.WeightKg,
		PickupLocation:   req.PickupLocation,
		DropoffLocation:  req.DropoffLocation,
		AgreedPriceCents: agreed,
		RequesterName:    req.RequesterName,
		RequesterContact: req.RequesterContact,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, t)
}
