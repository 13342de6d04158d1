package model

import "time"

// Message is one chat line in a trip's conversation.  SentAt is assigned by
// the server when the message is accepted; messages are never edited.
type Message struct {
	ID       string    `json:"id"`
	TripID   string    `json:"trip_id"`
	SenderID string    `json:"sender_id"`
	Text     string    `json:"text"`
	SentAt   time.Time `json:"sent_at"`
}

// Before reports whether m is ordered before o: earlier SentAt, ties broken
// by ID.
func (m Message) Before(o Message) bool {
	if !m.SentAt.Equal(o.SentAt) {
		return m.SentAt.Before(o.SentAt)
	}
	return m.ID < o.ID
}

// ReadMarker is the last time UserID read the conversation of TripID.
type ReadMarker struct {
	TripID string    `json:"trip_id"`
	UserID string    `json:"user_id"`
	ReadAt time.Time `json:"read_at"`
}

// IsUnread reports whether a conversation whose newest message is latest
// has unread content for me, given my read marker.  A nil latest, or a
// latest message I wrote myself, is never unread.
func IsUnread(latest *Message, myReadAt time.Time, me string) bool {
	if latest == nil || latest.SenderID == me {
		return false
	}
	return latest.SentAt.After(myReadAt)
}

// IsSeen reports whether m has been seen by the other party whose read
// marker is otherReadAt.  A zero otherReadAt means never read.
func IsSeen(m Message, otherReadAt time.Time) bool {
	if otherReadAt.IsZero() {
		return false
	}
	return !otherReadAt.Before(m.SentAt)
}
