package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/carryconnect/carryconnect/internal/model"
)

// TripRepo provides persistence for trips.  The status column and the
// booking columns are only ever changed together by Book, which performs
// the availability check and the write in a single conditional UPDATE so
// that concurrent bookers cannot both succeed.
type TripRepo struct {
	db *sql.DB
}

// NewTripRepo returns a new TripRepo bound to the given database.
func NewTripRepo(db *sql.DB) *TripRepo { return &TripRepo{db: db} }

const tripColumns = `id, origin, destination, travel_date, transport_mode, package_size,
	price_cents, description, owner_id, owner_name, owner_contact, status,
	requester_id, requester_name, requester_contact, weight_kg,
	pickup_location, dropoff_location, agreed_price_cents, booked_at_us, created_at_us`

type rowScanner interface {
	Scan(dest ...any) error
}

// scanTrip reads one row selected with tripColumns.  Booking fields are
// attached only when the row is booked.
func scanTrip(rs rowScanner) (model.Trip, error) {
	var (
		t                          model.Trip
		mode, size, status         string
		reqID, reqName, reqContact sql.NullString
		pickup, dropoff            sql.NullString
		weight                     sql.NullFloat64
		agreed, bookedAt           sql.NullInt64
		createdAt                  int64
	)
	err := rs.Scan(
		&t.ID, &t.Origin, &t.Destination, &t.TravelDate, &mode, &size,
		&t.PriceCents, &t.Description, &t.OwnerID, &t.OwnerName, &t.OwnerContact, &status,
		&reqID, &reqName, &reqContact, &weight,
		&pickup, &dropoff, &agreed, &bookedAt, &createdAt,
	)
	if err != nil {
		return model.Trip{}, err
	}
	t.Mode = model.TransportMode(mode)
	t.PackageSize = model.PackageSize(size)
	t.Status = model.TripStatus(status)
	t.CreatedAt = fromMicros(createdAt)
	if t.Status == model.TripBooked {
		t.Booking = &model.Booking{
			RequesterID:      reqID.String,
			RequesterName:    reqName.String,
			RequesterContact: reqContact.String,
			WeightKg:         weight.Float64,
			PickupLocation:   pickup.String,
			DropoffLocation:  dropoff.String,
			AgreedPriceCents: agreed.Int64,
			BookedAt:         fromMicros(bookedAt.Int64),
		}
	}
	return t, nil
}

// Create inserts a new trip.  It assigns a fresh ID, sets the status to
// available and stamps CreatedAt; booking fields are left NULL.
func (r *TripRepo) Create(ctx context.Context, t *model.Trip) error {
	t.ID = uuid.NewString()
	t.Status = model.TripAvailable
	t.Booking = nil
	t.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
	const q = `INSERT INTO trips (id, origin, destination, travel_date, transport_mode, package_size,
		price_cents, description, owner_id, owner_name, owner_contact, status, created_at_us)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, q,
		t.ID, t.Origin, t.Destination, t.TravelDate, string(t.Mode), string(t.PackageSize),
		t.PriceCents, t.Description, t.OwnerID, t.OwnerName, t.OwnerContact, string(t.Status),
		toMicros(t.CreatedAt),
	)
	return classify(err)
}

// GetByID retrieves a trip by its ID.  It returns ErrTripNotFound if
// there is no matching row.
func (r *TripRepo) GetByID(ctx context.Context, id string) (*model.Trip, error) {
	return r.getByID(ctx, r.db, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *TripRepo) getByID(ctx context.Context, q queryer, id string) (*model.Trip, error) {
	t, err := scanTrip(q.QueryRowContext(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTripNotFound
		}
		return nil, classify(err)
	}
	return &t, nil
}

// ListAvailable returns every trip that can still be booked, ordered by
// travel date and then creation time.  When none exist it returns an empty
// slice.
func (r *TripRepo) ListAvailable(ctx context.Context) ([]model.Trip, error) {
	return r.list(ctx, `SELECT `+tripColumns+` FROM trips WHERE status = ?
		ORDER BY travel_date ASC, created_at_us ASC`, string(model.TripAvailable))
}

// ListByOwner returns all trips posted by ownerID, newest first.
func (r *TripRepo) ListByOwner(ctx context.Context, ownerID string) ([]model.Trip, error) {
	return r.list(ctx, `SELECT `+tripColumns+` FROM trips WHERE owner_id = ?
		ORDER BY created_at_us DESC`, ownerID)
}

// ListBookedBy returns all trips booked by requesterID, most recently
// booked first.
func (r *TripRepo) ListBookedBy(ctx context.Context, requesterID string) ([]model.Trip, error) {
	return r.list(ctx, `SELECT `+tripColumns+` FROM trips WHERE requester_id = ?
		ORDER BY booked_at_us DESC`, requesterID)
}

// ListBookedForParty returns the booked trips in which userID is either the
// carrier or the booker.  These are the trips that have a conversation.
func (r *TripRepo) ListBookedForParty(ctx context.Context, userID string) ([]model.Trip, error) {
	return r.list(ctx, `SELECT `+tripColumns+` FROM trips
		WHERE status = ? AND (owner_id = ? OR requester_id = ?)
		ORDER BY booked_at_us DESC`, string(model.TripBooked), userID, userID)
}

func (r *TripRepo) list(ctx context.Context, q string, args ...any) ([]model.Trip, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	out := make([]model.Trip, 0)
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// Book transitions an available trip to booked and records the booking
// fields.  The availability check and the write are one conditional
// UPDATE; when it affects no row the trip is re-read inside the same
// transaction to tell ErrTripNotFound from ErrConflict.  On success the
// booked trip is returned.  BookedAt is assigned here when zero.
func (r *TripRepo) Book(ctx context.Context, id string, b model.Booking) (*model.Trip, error) {
	if b.BookedAt.IsZero() {
		b.BookedAt = time.Now().UTC().Truncate(time.Microsecond)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify(err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	const q = `UPDATE trips SET status = ?, requester_id = ?, requester_name = ?, requester_contact = ?,
		weight_kg = ?, pickup_location = ?, dropoff_location = ?, agreed_price_cents = ?, booked_at_us = ?
		WHERE id = ? AND status = ?`
	res, err := tx.ExecContext(ctx, q,
		string(model.TripBooked), b.RequesterID, b.RequesterName, b.RequesterContact,
		b.WeightKg, b.PickupLocation, b.DropoffLocation, b.AgreedPriceCents, toMicros(b.BookedAt),
		id, string(model.TripAvailable),
	)
	if err != nil {
		return nil, classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, classify(err)
	}
	t, err := r.getByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return t, ErrConflict
	}
	if err := tx.Commit(); err != nil {
		return nil, classify(err)
	}
	committed = true
	return t, nil
}

// DeleteByIDAndOwner removes an available trip owned by ownerID.  The
// ownership and status checks are part of the DELETE itself.  When nothing
// was deleted the row is inspected: ErrTripNotFound if it does not exist,
// ErrConflict if it is booked (whoever asks), ErrForbidden if another user
// owns it.
func (r *TripRepo) DeleteByIDAndOwner(ctx context.Context, id, ownerID string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM trips WHERE id = ? AND owner_id = ? AND status = ?`,
		id, ownerID, string(model.TripAvailable))
	if err != nil {
		return classify(err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	var dbOwner, status string
	err = r.db.QueryRowContext(ctx, `SELECT owner_id, status FROM trips WHERE id = ?`, id).Scan(&dbOwner, &status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrTripNotFound
		}
		return classify(err)
	}
	if model.TripStatus(status) != model.TripAvailable {
		return ErrConflict
	}
	if dbOwner != ownerID {
		return ErrForbidden
	}
	// the row became deletable after the DELETE ran; report it as a race
	return ErrConflict
}
