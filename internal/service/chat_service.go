package service

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/carryconnect/carryconnect/internal/live"
	"github.com/carryconnect/carryconnect/internal/model"
)

// MaxMessageLen is the longest accepted message, in characters.
const MaxMessageLen = 2000

// MessageView is a message as shown to one party.  Seen is only ever true
// for the viewer's own messages.
type MessageView struct {
	model.Message
	Seen bool `json:"seen"`
}

// ChatService implements the per-trip conversation.
type ChatService struct {
	trips    TripStore
	messages MessageStore
	markers  MarkerStore
	broker   *live.Broker
	locks    *tripLocks
	now      func() time.Time
}

func NewChatService(trips TripStore, messages MessageStore, markers MarkerStore, broker *live.Broker) *ChatService {
	return &ChatService{
		trips:    trips,
		messages: messages,
		markers:  markers,
		broker:   broker,
		locks:    &tripLocks{},
		now:      serverNow,
	}
}

// Send appends text to the conversation of tripID.  The send time is
// assigned here and is strictly after the trip's previous message, so
// storage order, timestamp order and publish order agree.
func (s *ChatService) Send(ctx context.Context, tripID, senderID, text string) (model.Message, error) {
	if strings.TrimSpace(text) == "" {
		return model.Message{}, invalid("text", "required")
	}
	if utf8.RuneCountInString(text) > MaxMessageLen {
		return model.Message{}, invalid("text", "too long")
	}
	if _, err := authorizeParty(ctx, s.trips, tripID, senderID); err != nil {
		return model.Message{}, err
	}

	mu := s.locks.get(tripID)
	mu.Lock()
	defer mu.Unlock()

	latest, err := s.messages.Latest(ctx, tripID)
	if err != nil {
		return model.Message{}, err
	}
	at := s.now().UTC().Truncate(time.Microsecond)
	if latest != nil && !at.After(latest.SentAt) {
		at = latest.SentAt.Add(time.Microsecond)
	}
	m := model.Message{
		ID:       uuid.NewString(),
		TripID:   tripID,
		SenderID: senderID,
		Text:     text,
		SentAt:   at,
	}
	if err := s.messages.Append(ctx, m); err != nil {
		return model.Message{}, err
	}
	s.broker.Publish(live.ChatTopic(tripID), m)
	return m, nil
}

// Subscribe delivers the conversation backlog of tripID once, then every
// new message, in order and without duplicates.
func (s *ChatService) Subscribe(ctx context.Context, tripID, userID string, onMessage func(model.Message)) (live.Subscription, error) {
	if _, err := authorizeParty(ctx, s.trips, tripID, userID); err != nil {
		return nil, err
	}
	var (
		last    model.Message
		started bool
	)
	load := func() ([]live.Event, error) {
		msgs, err := s.messages.ListByTrip(ctx, tripID)
		if err != nil {
			return nil, err
		}
		out := make([]live.Event, len(msgs))
		for i, m := range msgs {
			out[i] = m
		}
		return out, nil
	}
	return s.broker.SubscribeWithBacklog(live.ChatTopic(tripID), load, func(ev live.Event) {
		m, ok := ev.(model.Message)
		if !ok {
			return
		}
		if started && !last.Before(m) {
			return
		}
		last, started = m, true
		onMessage(m)
	})
}

// History returns the conversation of tripID as seen by userID.
func (s *ChatService) History(ctx context.Context, tripID, userID string) ([]MessageView, error) {
	t, err := authorizeParty(ctx, s.trips, tripID, userID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.messages.ListByTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	other, err := s.markers.Get(ctx, tripID, t.Counterpart(userID))
	if err != nil {
		return nil, err
	}
	var otherReadAt time.Time
	if other != nil {
		otherReadAt = other.ReadAt
	}
	out := make([]MessageView, len(msgs))
	for i, m := range msgs {
		out[i] = MessageView{Message: m, Seen: m.SenderID == userID && model.IsSeen(m, otherReadAt)}
	}
	return out, nil
}

// tripLocks serializes sends per trip over a fixed set of stripes.
type tripLocks struct {
	stripes [64]sync.Mutex
}

func (l *tripLocks) get(tripID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(tripID))
	return &l.stripes[h.Sum32()%uint32(len(l.stripes))]
}
