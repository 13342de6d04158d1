// Package live is an in-process publish/subscribe broker used to push
// trip, message and read-marker changes to connected clients.
//
// Every subscription owns an unbounded FIFO and one delivery goroutine, so
// callbacks for a subscription run serially in publish order and Publish
// never blocks on a slow consumer.  There is no ordering across topics.
package live

import (
	"sync"
)

// Event is an opaque payload published on a topic.
type Event any

// Handler receives events for one subscription.  It must not block
// indefinitely; doing so delays later events of the same subscription.
type Handler func(Event)

// Subscription is the handle returned by Subscribe.  Cancel releases it;
// calling Cancel more than once is safe.  Events still queued when Cancel
// is called are dropped.  Cancel does not wait for the delivery goroutine:
// a callback that had already taken its event off the queue may still run
// once after Cancel returns, so callbacks must tolerate a released
// consumer.  Cancel may be called from inside a callback.
type Subscription interface {
	Cancel()
}

// Broker fans events out to topic subscribers.  The zero value is not
// usable; call NewBroker.
type Broker struct {
	mu     sync.RWMutex
	topics map[string]map[*subscriber]struct{}
}

// NewBroker returns an empty broker.
func NewBroker() *Broker {
	return &Broker{topics: make(map[string]map[*subscriber]struct{})}
}

// Topic names used across the application.
const TopicTrips = "trips"

// ChatTopic is the topic carrying new messages of one trip.
func ChatTopic(tripID string) string { return "chat:" + tripID }

// MarkerTopic is the topic carrying read-marker changes of one trip.
func MarkerTopic(tripID string) string { return "markers:" + tripID }

// Subscribe registers fn for events published on topic from now on.
func (b *Broker) Subscribe(topic string, fn Handler) Subscription {
	s := newSubscriber(b, topic, fn)
	b.add(s)
	go s.run(nil)
	return s
}

// SubscribeWithBacklog registers fn on topic, then calls load and delivers
// its result before any event published after registration.  Because the
// subscription is registered before load runs, nothing published in between
// is lost; an event may however appear both in the backlog and in the live
// queue, and fn must tolerate (or filter) such overlap.
//
// If load fails the subscription is cancelled and the error returned.
func (b *Broker) SubscribeWithBacklog(topic string, load func() ([]Event, error), fn Handler) (Subscription, error) {
	s := newSubscriber(b, topic, fn)
	b.add(s)
	backlog, err := load()
	if err != nil {
		s.Cancel()
		return nil, err
	}
	go s.run(backlog)
	return s, nil
}

// Publish enqueues ev for every current subscriber of topic.
func (b *Broker) Publish(topic string, ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.topics[topic] {
		s.enqueue(ev)
	}
}

// Subscribers returns the number of live subscriptions on topic.
func (b *Broker) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

func (b *Broker) add(s *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.topics[s.topic]
	if !ok {
		set = make(map[*subscriber]struct{})
		b.topics[s.topic] = set
	}
	set[s] = struct{}{}
}

func (b *Broker) remove(s *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set := b.topics[s.topic]
	delete(set, s)
	if len(set) == 0 {
		delete(b.topics, s.topic)
	}
}

type subscriber struct {
	broker *Broker
	topic  string
	fn     Handler

	mu     sync.Mutex
	queue  []Event
	closed bool
	wake   chan struct{}

	once sync.Once
	done chan struct{}
}

func newSubscriber(b *Broker, topic string, fn Handler) *subscriber {
	return &subscriber{
		broker: b,
		topic:  topic,
		fn:     fn,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (s *subscriber) enqueue(ev Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) Cancel() {
	s.once.Do(func() {
		s.broker.remove(s)
		s.mu.Lock()
		s.closed = true
		s.queue = nil
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *subscriber) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *subscriber) run(backlog []Event) {
	for _, ev := range backlog {
		if s.isClosed() {
			return
		}
		s.fn(ev)
	}
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		ev := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()
		s.fn(ev)
	}
}
