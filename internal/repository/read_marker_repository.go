package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/carryconnect/carryconnect/internal/model"
)

// ReadMarkerRepo stores one read timestamp per (trip, user).  Markers only
// move forward: Advance never writes a value older than the stored one.
type ReadMarkerRepo struct {
	db *sql.DB
}

// NewReadMarkerRepo returns a new ReadMarkerRepo bound to the given database.
func NewReadMarkerRepo(db *sql.DB) *ReadMarkerRepo { return &ReadMarkerRepo{db: db} }

// Advance moves the marker of (tripID, userID) to at if that is later than
// the stored value, creating the marker when absent.  It returns the marker
// as stored afterwards and whether this call changed it.
func (r *ReadMarkerRepo) Advance(ctx context.Context, tripID, userID string, at time.Time) (model.ReadMarker, bool, error) {
	us := toMicros(at)
	res, err := r.db.ExecContext(ctx,
		`UPDATE read_markers SET read_at_us = ? WHERE trip_id = ? AND user_id = ? AND read_at_us < ?`,
		us, tripID, userID, us)
	if err != nil {
		return model.ReadMarker{}, false, classify(err)
	}
	changed := false
	if n, _ := res.RowsAffected(); n > 0 {
		changed = true
	} else {
		_, err = r.db.ExecContext(ctx,
			`INSERT INTO read_markers (trip_id, user_id, read_at_us) VALUES (?, ?, ?)`,
			tripID, userID, us)
		switch {
		case err == nil:
			changed = true
		case isDuplicateKey(err):
			// marker already present and not older than at, or a concurrent
			// insert won; retry the forward-only update once
			res, err = r.db.ExecContext(ctx,
				`UPDATE read_markers SET read_at_us = ? WHERE trip_id = ? AND user_id = ? AND read_at_us < ?`,
				us, tripID, userID, us)
			if err != nil {
				return model.ReadMarker{}, false, classify(err)
			}
			n, _ := res.RowsAffected()
			changed = n > 0
		default:
			return model.ReadMarker{}, false, classify(err)
		}
	}
	m, err := r.Get(ctx, tripID, userID)
	if err != nil {
		return model.ReadMarker{}, false, err
	}
	if m == nil {
		return model.ReadMarker{}, false, sql.ErrNoRows
	}
	return *m, changed, nil
}

// Get returns the marker of (tripID, userID), or nil when the user has
// never read the conversation.
func (r *ReadMarkerRepo) Get(ctx context.Context, tripID, userID string) (*model.ReadMarker, error) {
	var us int64
	err := r.db.QueryRowContext(ctx,
		`SELECT read_at_us FROM read_markers WHERE trip_id = ? AND user_id = ?`,
		tripID, userID).Scan(&us)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, classify(err)
	}
	return &model.ReadMarker{TripID: tripID, UserID: userID, ReadAt: fromMicros(us)}, nil
}

// ListByTrip returns the markers of every user who has read tripID.
func (r *ReadMarkerRepo) ListByTrip(ctx context.Context, tripID string) ([]model.ReadMarker, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT trip_id, user_id, read_at_us FROM read_markers WHERE trip_id = ? ORDER BY user_id`, tripID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	out := make([]model.ReadMarker, 0, 2)
	for rows.Next() {
		var m model.ReadMarker
		var us int64
		if err := rows.Scan(&m.TripID, &m.UserID, &us); err != nil {
			return nil, err
		}
		m.ReadAt = fromMicros(us)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}
