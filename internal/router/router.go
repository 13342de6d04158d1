// Package router registers the HTTP routes of the API.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/carryconnect/carryconnect/internal/handler"
	"github.com/carryconnect/carryconnect/internal/middleware"
)

// Handlers groups every handler the router wires.
type Handlers struct {
	Auth  *handler.AuthHandler
	Trips *handler.TripHandler
	Chat  *handler.ChatHandler
	WS    *handler.WSHandler
}

// Options carries the cross-cutting middleware.  Cache and RateLimit may
// be nil.
type Options struct {
	JWTSecret string
	Cache     echo.MiddlewareFunc
	RateLimit echo.MiddlewareFunc
}

func orPass(m echo.MiddlewareFunc) echo.MiddlewareFunc {
	if m == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return m
}

// RegisterRoutes registers unauthenticated infrastructure routes.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterAuth registers /v1/auth/* and the authenticated profile route.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, opt Options) {
	g := e.Group("/v1/auth", orPass(opt.RateLimit))
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh) // rotates the refresh token
	g.POST("/refresh-access", a.RefreshAccess)
	g.POST("/logout", a.Logout)
	e.POST("/v1/logout", a.Logout)

	e.GET("/v1/me", a.Me, middleware.JWTAuth(opt.JWTSecret))
}

// RegisterPublic registers browse endpoints that work without a session.
// A valid token, when present, unlocks booking details on GET /v1/trips/:id.
func RegisterPublic(e *echo.Echo, t *handler.TripHandler, ws *handler.WSHandler, opt Options) {
	e.GET("/v1/trips", t.List, orPass(opt.Cache))
	e.GET("/v1/trips/:id", t.Get, middleware.JWTOptional(opt.JWTSecret))
	e.GET("/v1/ws/trips", ws.TripsFeed)
}

// RegisterMember registers endpoints that require a valid access token.
func RegisterMember(e *echo.Echo, h Handlers, opt Options) {
	g := e.Group("/v1", middleware.JWTAuth(opt.JWTSecret), orPass(opt.RateLimit))
	g.POST("/trips", h.Trips.Create)
	g.DELETE("/trips/:id", h.Trips.Delete)
	g.GET("/my-trips", h.Trips.MyTrips)
	g.GET("/my-bookings", h.Trips.MyBookings)
	g.POST("/trips/:id/book", h.Trips.Book)

	g.GET("/trips/:id/messages", h.Chat.Messages)
	g.POST("/trips/:id/messages", h.Chat.Send)
	g.POST("/trips/:id/read", h.Chat.MarkRead)
	g.GET("/conversations", h.Chat.Conversations)

	// long-lived; not rate limited beyond the upgrade request
	g.GET("/ws/trips/:id/chat", h.WS.ChatSocket)
}

// Register wires every route group.
func Register(e *echo.Echo, h Handlers, opt Options) {
	RegisterRoutes(e)
	RegisterAuth(e, h.Auth, opt)
	RegisterPublic(e, h.Trips, h.WS, opt)
	RegisterMember(e, h, opt)
}
