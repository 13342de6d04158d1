package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/carryconnect/carryconnect/internal/live"
	"github.com/carryconnect/carryconnect/internal/model"
)

// TripEventKind classifies a change in the set of available trips.
type TripEventKind string

const (
	TripAdded   TripEventKind = "added"
	TripUpdated TripEventKind = "updated"
	TripRemoved TripEventKind = "removed"
)

// TripEvent is published on live.TopicTrips whenever a trip is created,
// booked or deleted.
type TripEvent struct {
	Kind TripEventKind `json:"type"`
	Trip model.Trip    `json:"trip"`
}

// TripDraft is the caller-supplied part of a new trip.  OwnerName and
// OwnerContact default to the owner's profile.
type TripDraft struct {
	Origin       string
	Destination  string
	TravelDate   string
	Mode         model.TransportMode
	PackageSize  model.PackageSize
	PriceCents   int64
	Description  string
	OwnerName    string
	OwnerContact string
}

// TripService implements the trip store operations on top of TripStore
// and announces changes on the live broker.
type TripService struct {
	trips    TripStore
	users    IdentityResolver
	broker   *live.Broker
	listings ListingCache
	now      func() time.Time
}

func NewTripService(trips TripStore, users IdentityResolver, broker *live.Broker) *TripService {
	return &TripService{trips: trips, users: users, broker: broker, now: serverNow}
}

// UseListingCache makes Create and Delete drop c before returning.
func (s *TripService) UseListingCache(c ListingCache) { s.listings = c }

func (s *TripService) validate(d *TripDraft) error {
	d.Origin = strings.TrimSpace(d.Origin)
	d.Destination = strings.TrimSpace(d.Destination)
	d.Description = strings.TrimSpace(d.Description)
	if d.Origin == "" {
		return invalid("origin", "required")
	}
	if d.Destination == "" {
		return invalid("destination", "required")
	}
	day, err := time.Parse(model.DateLayout, d.TravelDate)
	if err != nil {
		return invalid("travel_date", "must be YYYY-MM-DD")
	}
	today := s.now().UTC().Format(model.DateLayout)
	if day.Format(model.DateLayout) < today {
		return invalid("travel_date", "must not be in the past")
	}
	if !d.Mode.Valid() {
		return invalid("transport_mode", "must be one of flight, train, car, bus")
	}
	if !d.PackageSize.Valid() {
		return invalid("package_size", "must be one of small, medium, large, extra-large")
	}
	if d.PriceCents <= 0 {
		return invalid("price", "must be positive")
	}
	if d.PriceCents > model.MaxAmountCents {
		return invalid("price", "too large")
	}
	return nil
}

// Create validates d and stores it as a new available trip owned by
// ownerID.
func (s *TripService) Create(ctx context.Context, ownerID string, d TripDraft) (*model.Trip, error) {
	if ownerID == "" {
		return nil, ErrUnauthenticated
	}
	if err := s.validate(&d); err != nil {
		return nil, err
	}
	if strings.TrimSpace(d.OwnerName) == "" || strings.TrimSpace(d.OwnerContact) == "" {
		u, err := s.users.GetByID(ctx, ownerID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, ErrUnauthenticated
			}
			return nil, err
		}
		if strings.TrimSpace(d.OwnerName) == "" {
			d.OwnerName = u.DisplayName
		}
		if strings.TrimSpace(d.OwnerContact) == "" {
			d.OwnerContact = u.Contact
		}
	}
	t := &model.Trip{
		Origin:       d.Origin,
		Destination:  d.Destination,
		TravelDate:   d.TravelDate,
		Mode:         d.Mode,
		PackageSize:  d.PackageSize,
		PriceCents:   d.PriceCents,
		Description:  d.Description,
		OwnerID:      ownerID,
		OwnerName:    strings.TrimSpace(d.OwnerName),
		OwnerContact: strings.TrimSpace(d.OwnerContact),
	}
	if err := s.trips.Create(ctx, t); err != nil {
		return nil, err
	}
	dropListings(ctx, s.listings)
	s.broker.Publish(live.TopicTrips, TripEvent{Kind: TripAdded, Trip: *t})
	return t, nil
}

func (s *TripService) Get(ctx context.Context, id string) (*model.Trip, error) {
	return s.trips.GetByID(ctx, id)
}

// ListAvailable returns the available trips that pass f.
func (s *TripService) ListAvailable(ctx context.Context, f model.TripFilter) ([]model.Trip, error) {
	all, err := s.trips.ListAvailable(ctx)
	if err != nil {
		return nil, err
	}
	return f.Apply(all), nil
}

func (s *TripService) ListByOwner(ctx context.Context, ownerID string) ([]model.Trip, error) {
	return s.trips.ListByOwner(ctx, ownerID)
}

func (s *TripService) ListBookedBy(ctx context.Context, requesterID string) ([]model.Trip, error) {
	return s.trips.ListBookedBy(ctx, requesterID)
}

// Delete removes an available trip owned by requesterID.
func (s *TripService) Delete(ctx context.Context, tripID, requesterID string) error {
	if err := s.trips.DeleteByIDAndOwner(ctx, tripID, requesterID); err != nil {
		return err
	}
	dropListings(ctx, s.listings)
	s.broker.Publish(live.TopicTrips, TripEvent{Kind: TripRemoved, Trip: model.Trip{ID: tripID, OwnerID: requesterID}})
	return nil
}

// SubscribeAvailableTrips delivers the available trips matching pred as
// added events, then every later change that affects that set.  A trip
// that gets booked or stops matching is reported as removed.  A nil pred
// matches everything.  The feed is public, so delivered trips never carry
// booking details.
func (s *TripService) SubscribeAvailableTrips(ctx context.Context, pred func(model.Trip) bool, onChange func(TripEvent)) (live.Subscription, error) {
	if pred == nil {
		pred = func(model.Trip) bool { return true }
	}
	// touched only from the subscription's delivery goroutine
	known := make(map[string]bool)
	load := func() ([]live.Event, error) {
		trips, err := s.trips.ListAvailable(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]live.Event, 0, len(trips))
		for _, t := range trips {
			out = append(out, TripEvent{Kind: TripAdded, Trip: t})
		}
		return out, nil
	}
	return s.broker.SubscribeWithBacklog(live.TopicTrips, load, func(ev live.Event) {
		te, ok := ev.(TripEvent)
		if !ok {
			return
		}
		id := te.Trip.ID
		match := te.Kind != TripRemoved && te.Trip.Available() && pred(te.Trip)
		pub := te.Trip
		pub.Booking = nil
		switch {
		case match && known[id]:
			if te.Kind == TripAdded {
				// already delivered from the snapshot
				return
			}
			onChange(TripEvent{Kind: TripUpdated, Trip: pub})
		case match:
			known[id] = true
			onChange(TripEvent{Kind: TripAdded, Trip: pub})
		case known[id]:
			delete(known, id)
			onChange(TripEvent{Kind: TripRemoved, Trip: pub})
		}
	})
}
