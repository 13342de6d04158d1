package service

import (
	"context"
	"time"

	"github.com/labstack/gommon/log"

	"github.com/carryconnect/carryconnect/internal/model"
	"github.com/carryconnect/carryconnect/internal/repository"
)

// TripStore is the persistence the trip, booking and chat services need.
// *repository.TripRepo implements it.
type TripStore interface {
	Create(ctx context.Context, t *model.Trip) error
	GetByID(ctx context.Context, id string) (*model.Trip, error)
	ListAvailable(ctx context.Context) ([]model.Trip, error)
	ListByOwner(ctx context.Context, ownerID string) ([]model.Trip, error)
	ListBookedBy(ctx context.Context, requesterID string) ([]model.Trip, error)
	ListBookedForParty(ctx context.Context, userID string) ([]model.Trip, error)
	Book(ctx context.Context, id string, b model.Booking) (*model.Trip, error)
	DeleteByIDAndOwner(ctx context.Context, id, ownerID string) error
}

// MessageStore is implemented by *repository.MessageRepo.
type MessageStore interface {
	Append(ctx context.Context, m model.Message) error
	ListByTrip(ctx context.Context, tripID string) ([]model.Message, error)
	Latest(ctx context.Context, tripID string) (*model.Message, error)
}

// MarkerStore is implemented by *repository.ReadMarkerRepo.
type MarkerStore interface {
	Advance(ctx context.Context, tripID, userID string, at time.Time) (model.ReadMarker, bool, error)
	Get(ctx context.Context, tripID, userID string) (*model.ReadMarker, error)
	ListByTrip(ctx context.Context, tripID string) ([]model.ReadMarker, error)
}

// IdentityResolver loads a user profile.  *repository.UserRepo implements it.
type IdentityResolver interface {
	GetByID(ctx context.Context, id string) (model.User, error)
}

// BookingEvents receives committed bookings for asynchronous processing.
type BookingEvents interface {
	PublishTripBooked(ctx context.Context, t model.Trip) error
}

// ListingCache holds cached trip listings.  Writers drop it before they
// return, so the caller's next listing reflects the write.
// *middleware.ResponseCache implements it.
type ListingCache interface {
	Invalidate(ctx context.Context) error
}

func dropListings(ctx context.Context, c ListingCache) {
	if c == nil {
		return
	}
	if err := c.Invalidate(ctx); err != nil {
		log.Warnf("trip listing cache invalidation failed: %v", err)
	}
}

// authorizeParty loads tripID and checks that userID is one of its two
// parties.
func authorizeParty(ctx context.Context, trips TripStore, tripID, userID string) (*model.Trip, error) {
	t, err := trips.GetByID(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if !t.IsParty(userID) {
		return nil, repository.ErrForbidden
	}
	return t, nil
}

func serverNow() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }
