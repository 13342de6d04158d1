package service

import (
	"context"
	"sort"
	"time"

	"github.com/carryconnect/carryconnect/internal/live"
	"github.com/carryconnect/carryconnect/internal/model"
)

// ConversationPreview summarises one conversation for its participant.
type ConversationPreview struct {
	Trip          model.Trip     `json:"trip"`
	CounterpartID string         `json:"counterpart_id"`
	Latest        *model.Message `json:"latest_message,omitempty"`
	Unread        bool           `json:"unread"`
}

// ReceiptService tracks per-user read markers of trip conversations.
type ReceiptService struct {
	trips    TripStore
	messages MessageStore
	markers  MarkerStore
	broker   *live.Broker
	now      func() time.Time
}

func NewReceiptService(trips TripStore, messages MessageStore, markers MarkerStore, broker *live.Broker) *ReceiptService {
	return &ReceiptService{trips: trips, messages: messages, markers: markers, broker: broker, now: serverNow}
}

// MarkRead moves userID's marker on tripID to the server's current time.
// The marker never moves backwards; an unchanged marker publishes nothing.
// It also never lands before the newest message, whose send time may run
// a microsecond ahead of the clock.
func (s *ReceiptService) MarkRead(ctx context.Context, tripID, userID string) (model.ReadMarker, error) {
	if _, err := authorizeParty(ctx, s.trips, tripID, userID); err != nil {
		return model.ReadMarker{}, err
	}
	at := s.now().UTC().Truncate(time.Microsecond)
	latest, err := s.messages.Latest(ctx, tripID)
	if err != nil {
		return model.ReadMarker{}, err
	}
	if latest != nil && latest.SentAt.After(at) {
		at = latest.SentAt
	}
	m, changed, err := s.markers.Advance(ctx, tripID, userID, at)
	if err != nil {
		return model.ReadMarker{}, err
	}
	if changed {
		s.broker.Publish(live.MarkerTopic(tripID), m)
	}
	return m, nil
}

// SubscribeReadMarkers delivers the current markers of tripID, then every
// forward move of either party's marker.
func (s *ReceiptService) SubscribeReadMarkers(ctx context.Context, tripID, userID string, onUpdate func(model.ReadMarker)) (live.Subscription, error) {
	if _, err := authorizeParty(ctx, s.trips, tripID, userID); err != nil {
		return nil, err
	}
	seen := make(map[string]time.Time)
	load := func() ([]live.Event, error) {
		ms, err := s.markers.ListByTrip(ctx, tripID)
		if err != nil {
			return nil, err
		}
		out := make([]live.Event, len(ms))
		for i, m := range ms {
			out[i] = m
		}
		return out, nil
	}
	return s.broker.SubscribeWithBacklog(live.MarkerTopic(tripID), load, func(ev live.Event) {
		m, ok := ev.(model.ReadMarker)
		if !ok {
			return
		}
		if prev, ok := seen[m.UserID]; ok && !m.ReadAt.After(prev) {
			return
		}
		seen[m.UserID] = m.ReadAt
		onUpdate(m)
	})
}

// Conversations lists the booked trips userID takes part in, most recent
// activity first.
func (s *ReceiptService) Conversations(ctx context.Context, userID string) ([]ConversationPreview, error) {
	trips, err := s.trips.ListBookedForParty(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]ConversationPreview, 0, len(trips))
	for _, t := range trips {
		latest, err := s.messages.Latest(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		mine, err := s.markers.Get(ctx, t.ID, userID)
		if err != nil {
			return nil, err
		}
		var myReadAt time.Time
		if mine != nil {
			myReadAt = mine.ReadAt
		}
		out = append(out, ConversationPreview{
			Trip:          t,
			CounterpartID: t.Counterpart(userID),
			Latest:        latest,
			Unread:        model.IsUnread(latest, myReadAt, userID),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return activity(out[i]).After(activity(out[j])) })
	return out, nil
}

func activity(p ConversationPreview) time.Time {
	if p.Latest != nil {
		return p.Latest.SentAt
	}
	if p.Trip.Booking != nil {
		return p.Trip.Booking.BookedAt
	}
	return p.Trip.CreatedAt
}
