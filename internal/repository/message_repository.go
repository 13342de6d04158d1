package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/carryconnect/carryconnect/internal/model"
)

// MessageRepo stores the append-only chat log of each trip.  Rows are
// never updated or deleted.
type MessageRepo struct {
	db *sql.DB
}

// NewMessageRepo returns a new MessageRepo bound to the given database.
func NewMessageRepo(db *sql.DB) *MessageRepo { return &MessageRepo{db: db} }

// Append inserts m.  The caller assigns ID and SentAt.
func (r *MessageRepo) Append(ctx context.Context, m model.Message) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO messages (id, trip_id, sender_id, body, sent_at_us) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.TripID, m.SenderID, m.Text, toMicros(m.SentAt))
	return classify(err)
}

// ListByTrip returns the conversation of tripID ordered by send time, ties
// broken by ID.
func (r *MessageRepo) ListByTrip(ctx context.Context, tripID string) ([]model.Message, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, trip_id, sender_id, body, sent_at_us FROM messages
		 WHERE trip_id = ? ORDER BY sent_at_us ASC, id ASC`, tripID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	out := make([]model.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// Latest returns the newest message of tripID, or nil when the
// conversation is empty.
func (r *MessageRepo) Latest(ctx context.Context, tripID string) (*model.Message, error) {
	m, err := scanMessage(r.db.QueryRowContext(ctx,
		`SELECT id, trip_id, sender_id, body, sent_at_us FROM messages
		 WHERE trip_id = ? ORDER BY sent_at_us DESC, id DESC LIMIT 1`, tripID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, classify(err)
	}
	return &m, nil
}

func scanMessage(rs rowScanner) (model.Message, error) {
	var m model.Message
	var sentAt int64
	if err := rs.Scan(&m.ID, &m.TripID, &m.SenderID, &m.Text, &sentAt); err != nil {
		return model.Message{}, err
	}
	m.SentAt = fromMicros(sentAt)
	return m, nil
}
