// Package queue defines message payloads exchanged over the message broker.
package queue

import (
	"time"

	"github.com/carryconnect/carryconnect/internal/model"
)

// TripBookedQueue is the durable queue carrying TripBookedEvent.
const TripBookedQueue = "trip.booked"

// TripBookedEvent is published when a trip is booked.  It carries enough
// to log or notify without querying the primary database.
type TripBookedEvent struct {
	TripID           string  `json:"trip_id"`
	CarrierID        string  `json:"carrier_id"`
	RequesterID      string  `json:"requester_id"`
	Origin           string  `json:"origin"`
	Destination      string  `json:"destination"`
	TravelDate       string  `json:"travel_date"`
	WeightKg         float64 `json:"weight_kg"`
	AgreedPriceCents int64   `json:"agreed_price_cents"`
	BookedAt         string  `json:"booked_at"`
}

// NewTripBookedEvent builds the event for a booked trip.
func NewTripBookedEvent(t model.Trip) TripBookedEvent {
	ev := TripBookedEvent{
		TripID:      t.ID,
		CarrierID:   t.OwnerID,
		Origin:      t.Origin,
		Destination: t.Destination,
		TravelDate:  t.TravelDate,
	}
	if t.Booking != nil {
		ev.RequesterID = t.Booking.RequesterID
		ev.WeightKg = t.Booking.WeightKg
		ev.AgreedPriceCents = t.Booking.AgreedPriceCents
		ev.BookedAt = t.Booking.BookedAt.UTC().Format(time.RFC3339Nano)
	}
	return ev
}
