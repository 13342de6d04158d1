package model

import (
	"strings"
	"time"
)

// TripStatus is the lifecycle state of a trip.  A trip starts out
// available and moves to booked exactly once; no other transition exists.
type TripStatus string

const (
	TripAvailable TripStatus = "available"
	TripBooked    TripStatus = "booked"
)

// TransportMode is how the carrier travels.
type TransportMode string

const (
	ModeFlight TransportMode = "flight"
	ModeTrain  TransportMode = "train"
	ModeCar    TransportMode = "car"
	ModeBus    TransportMode = "bus"
)

// Valid reports whether m is one of the known transport modes.
func (m TransportMode) Valid() bool {
	switch m {
	case ModeFlight, ModeTrain, ModeCar, ModeBus:
		return true
	}
	return false
}

// PackageSize is the largest package class a carrier accepts.
type PackageSize string

const (
	SizeSmall      PackageSize = "small"
	SizeMedium     PackageSize = "medium"
	SizeLarge      PackageSize = "large"
	SizeExtraLarge PackageSize = "extra-large"
)

// Valid reports whether s is one of the known package size classes.
func (s PackageSize) Valid() bool {
	switch s {
	case SizeSmall, SizeMedium, SizeLarge, SizeExtraLarge:
		return true
	}
	return false
}

// MaxAmountCents bounds every price: asking, agreed and filter.
const MaxAmountCents int64 = 1_000_000_000

// DateLayout is the layout of Trip.TravelDate.
const DateLayout = "2006-01-02"

// Trip is one offer of carrying capacity posted by a carrier.
//
// Fields:
//
//	ID           – UUID assigned at creation.
//	TravelDate   – calendar day of travel, DateLayout.
//	PriceCents   – asking price in cents, always positive.
//	OwnerID      – the carrier.
//	Status       – available or booked.
//	Booking      – nil while available; set together with Status=booked.
type Trip struct {
	ID           string        `json:"id"`
	Origin       string        `json:"origin"`
	Destination  string        `json:"destination"`
	TravelDate   string        `json:"travel_date"`
	Mode         TransportMode `json:"transport_mode"`
	PackageSize  PackageSize   `json:"package_size"`
	PriceCents   int64         `json:"price_cents"`
	Description  string        `json:"description"`
	OwnerID      string        `json:"owner_id"`
	OwnerName    string        `json:"owner_name"`
	OwnerContact string        `json:"owner_contact"`
	Status       TripStatus    `json:"status"`
	Booking      *Booking      `json:"booking,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Booking holds the fields recorded when a sender books a trip.
type Booking struct {
	RequesterID      string    `json:"requester_id"`
	RequesterName    string    `json:"requester_name"`
	RequesterContact string    `json:"requester_contact"`
	WeightKg         float64   `json:"weight_kg"`
	PickupLocation   string    `json:"pickup_location"`
	DropoffLocation  string    `json:"dropoff_location"`
	AgreedPriceCents int64     `json:"agreed_price_cents"`
	BookedAt         time.Time `json:"booked_at"`
}

// Available reports whether the trip can still be booked.
func (t *Trip) Available() bool { return t.Status == TripAvailable }

// IsParty reports whether userID is the carrier or the booker of a booked
// trip.  Available trips have no parties: their conversation does not
// exist yet.
func (t *Trip) IsParty(userID string) bool {
	if t.Status != TripBooked || t.Booking == nil || userID == "" {
		return false
	}
	return userID == t.OwnerID || userID == t.Booking.RequesterID
}

// Counterpart returns the other party of a booked trip, or "" when userID
// is not a party.
func (t *Trip) Counterpart(userID string) string {
	if !t.IsParty(userID) {
		return ""
	}
	if userID == t.OwnerID {
		return t.Booking.RequesterID
	}
	return t.OwnerID
}

// TripFilter narrows a listing of available trips.  Zero-valued fields do
// not filter.  Origin and Destination match case-insensitive substrings.
type TripFilter struct {
	Origin        string
	Destination   string
	FromDate      string
	PackageSize   PackageSize
	Mode          TransportMode
	MaxPriceCents int64
}

// Match reports whether t passes every non-empty criterion of f.
func (f TripFilter) Match(t Trip) bool {
	if f.Origin != "" && !containsFold(t.Origin, f.Origin) {
		return false
	}
	if f.Destination != "" && !containsFold(t.Destination, f.Destination) {
		return false
	}
	// DateLayout sorts lexically.
	if f.FromDate != "" && t.TravelDate < f.FromDate {
		return false
	}
	if f.PackageSize != "" && t.PackageSize != f.PackageSize {
		return false
	}
	if f.Mode != "" && t.Mode != f.Mode {
		return false
	}
	if f.MaxPriceCents > 0 && t.PriceCents > f.MaxPriceCents {
		return false
	}
	return true
}

// Apply returns the trips of in that match f, preserving order.
func (f TripFilter) Apply(in []Trip) []Trip {
	out := make([]Trip, 0, len(in))
	for _, t := range in {
		if f.Match(t) {
			out = append(out, t)
		}
	}
	return out
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(strings.TrimSpace(sub)))
}
