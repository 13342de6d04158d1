package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/labstack/gommon/log"

	"github.com/carryconnect/carryconnect/internal/live"
	"github.com/carryconnect/carryconnect/internal/model"
	"github.com/carryconnect/carryconnect/internal/repository"
)

// BookingDetails is what a sender supplies when booking a trip.  A zero
// AgreedPriceCents means the trip's asking price.  Name and contact
// default to the requester's profile.
type BookingDetails struct {
	WeightKg         float64
	PickupLocation   string
	DropoffLocation  string
	AgreedPriceCents int64
	RequesterName    string
	RequesterContact string
}

func (d *BookingDetails) validate() error {
	d.PickupLocation = strings.TrimSpace(d.PickupLocation)
	d.DropoffLocation = strings.TrimSpace(d.DropoffLocation)
	if d.WeightKg <= 0 {
		return invalid("weight_kg", "must be positive")
	}
	if d.PickupLocation == "" {
		return invalid("pickup_location", "required")
	}
	if d.DropoffLocation == "" {
		return invalid("dropoff_location", "required")
	}
	if d.AgreedPriceCents < 0 {
		return invalid("agreed_price", "must be positive")
	}
	if d.AgreedPriceCents > model.MaxAmountCents {
		return invalid("agreed_price", "too large")
	}
	return nil
}

// BookingService coordinates the available -> booked transition.
type BookingService struct {
	trips       TripStore
	users       IdentityResolver
	broker      *live.Broker
	events      BookingEvents
	retry       RetryPolicy
	authTimeout time.Duration
	listings    ListingCache

	// in-flight trip.booked sends
	pending      sync.WaitGroup
	eventTimeout time.Duration
}

// NewBookingService wires the coordinator.  events may be nil when no
// message broker is configured.
func NewBookingService(trips TripStore, users IdentityResolver, broker *live.Broker, events BookingEvents, retry RetryPolicy, authTimeout time.Duration) *BookingService {
	if authTimeout <= 0 {
		authTimeout = 3 * time.Second
	}
	return &BookingService{
		trips:        trips,
		users:        users,
		broker:       broker,
		events:       events,
		retry:        retry,
		authTimeout:  authTimeout,
		eventTimeout: 10 * time.Second,
	}
}

// UseListingCache makes a successful Book drop c before returning.
func (s *BookingService) UseListingCache(c ListingCache) { s.listings = c }

// Book claims tripID for requesterID.  Exactly one of any number of
// concurrent callers succeeds; the others get ErrTripUnavailable.
func (s *BookingService) Book(ctx context.Context, tripID, requesterID string, d BookingDetails) (*model.Trip, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	u, err := s.resolve(ctx, requesterID)
	if err != nil {
		return nil, err
	}

	var current *model.Trip
	err = s.retry.Do(ctx, func(int) error {
		var gerr error
		current, gerr = s.trips.GetByID(ctx, tripID)
		return gerr
	})
	if err != nil {
		return nil, err
	}
	if current.OwnerID == requesterID {
		return nil, invalid("trip_id", "you cannot book your own trip")
	}
	if !current.Available() {
		return nil, ErrTripUnavailable
	}

	b := model.Booking{
		RequesterID:      requesterID,
		RequesterName:    firstNonEmpty(d.RequesterName, u.DisplayName),
		RequesterContact: firstNonEmpty(d.RequesterContact, u.Contact),
		WeightKg:         d.WeightKg,
		PickupLocation:   d.PickupLocation,
		DropoffLocation:  d.DropoffLocation,
		AgreedPriceCents: d.AgreedPriceCents,
	}
	if b.AgreedPriceCents == 0 {
		b.AgreedPriceCents = current.PriceCents
	}

	var booked *model.Trip
	err = s.retry.Do(ctx, func(attempt int) error {
		t, berr := s.trips.Book(ctx, tripID, b)
		if berr == nil {
			booked = t
			return nil
		}
		// an earlier attempt may have committed before its error surfaced
		if attempt > 1 && errors.Is(berr, repository.ErrConflict) &&
			t != nil && t.Booking != nil && t.Booking.RequesterID == requesterID {
			booked = t
			return nil
		}
		return berr
	})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrTripUnavailable
		}
		return nil, err
	}

	dropListings(ctx, s.listings)
	s.broker.Publish(live.TopicTrips, TripEvent{Kind: TripUpdated, Trip: *booked})
	if s.events != nil {
		s.pending.Add(1)
		go s.announce(*booked)
	}
	return booked, nil
}

// announce sends trip.booked off the request path.  It outlives the
// request but not eventTimeout.
func (s *BookingService) announce(t model.Trip) {
	defer s.pending.Done()
	ctx, cancel := context.WithTimeout(context.Background(), s.eventTimeout)
	defer cancel()
	if err := s.events.PublishTripBooked(ctx, t); err != nil {
		log.Warnf("booking %s: publish trip.booked failed: %v", t.ID, err)
	}
}

// WaitEvents blocks until every trip.booked send started so far has
// finished.
func (s *BookingService) WaitEvents() { s.pending.Wait() }

// resolve loads the requester's profile within authTimeout.  A timeout or
// unknown user is re-resolved once before giving up.
func (s *BookingService) resolve(ctx context.Context, userID string) (model.User, error) {
	if userID == "" {
		return model.User{}, ErrUnauthenticated
	}
	for i := 0; i < 2; i++ {
		rctx, cancel := context.WithTimeout(ctx, s.authTimeout)
		u, err := s.users.GetByID(rctx, userID)
		cancel()
		if err == nil {
			return u, nil
		}
		if ctx.Err() != nil {
			return model.User{}, ctx.Err()
		}
		if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, sql.ErrNoRows) {
			return model.User{}, err
		}
	}
	return model.User{}, ErrUnauthenticated
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
