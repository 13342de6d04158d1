package live

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu  sync.Mutex
	got []Event
}

func (r *recorder) handle(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, ev)
}

func (r *recorder) events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.got...)
}

func TestBroker_DeliversInPublishOrder(t *testing.T) {
	b := NewBroker()
	var rec recorder
	sub := b.Subscribe("t", rec.handle)
	defer sub.Cancel()

	want := make([]Event, 0, 200)
	for i := 0; i < 200; i++ {
		b.Publish("t", i)
		want = append(want, i)
	}
	b.Publish("other", "ignored")

	require.Eventually(t, func() bool { return len(rec.events()) == 200 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, want, rec.events())
}

func TestBroker_CancelIsIdempotentAndStopsDelivery(t *testing.T) {
	b := NewBroker()
	var rec recorder
	sub := b.Subscribe("t", rec.handle)
	assert.Equal(t, 1, b.Subscribers("t"))

	sub.Cancel()
	sub.Cancel()
	assert.Equal(t, 0, b.Subscribers("t"))

	b.Publish("t", 1)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, rec.events())
}

func TestBroker_CancelDoesNotWaitForRunningCallback(t *testing.T) {
	b := NewBroker()
	started := make(chan struct{})
	release := make(chan struct{})
	var rec recorder
	sub := b.Subscribe("t", func(ev Event) {
		if ev == 0 {
			close(started)
			<-release
		}
		rec.handle(ev)
	})
	for i := 0; i < 3; i++ {
		b.Publish("t", i)
	}
	<-started

	cancelled := make(chan struct{})
	go func() {
		sub.Cancel()
		close(cancelled)
	}()
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("Cancel blocked on a running callback")
	}
	close(release)

	// the running callback finishes; the queued ones never start
	require.Eventually(t, func() bool { return len(rec.events()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []Event{0}, rec.events())
}

func TestBroker_CancelFromCallback(t *testing.T) {
	b := NewBroker()
	var rec recorder
	var sub Subscription
	ready := make(chan struct{})
	sub = b.Subscribe("t", func(ev Event) {
		<-ready
		rec.handle(ev)
		sub.Cancel()
	})
	b.Publish("t", 1)
	b.Publish("t", 2)
	close(ready)
	b.Publish("t", 3)

	require.Eventually(t, func() bool { return b.Subscribers("t") == 0 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []Event{1}, rec.events())
}

func TestBroker_SlowHandlerDoesNotBlockPublish(t *testing.T) {
	b := NewBroker()
	release := make(chan struct{})
	var rec recorder
	sub := b.Subscribe("t", func(ev Event) {
		<-release
		rec.handle(ev)
	})
	defer sub.Cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			b.Publish("t", i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}
	close(release)
	require.Eventually(t, func() bool { return len(rec.events()) == 1000 }, 2*time.Second, 5*time.Millisecond)
}

func TestBroker_BacklogBeforeLive(t *testing.T) {
	b := NewBroker()
	var rec recorder
	sub, err := b.SubscribeWithBacklog("t", func() ([]Event, error) {
		// published while loading: must follow the backlog
		b.Publish("t", "live")
		return []Event{"old1", "old2"}, nil
	}, rec.handle)
	require.NoError(t, err)
	defer sub.Cancel()

	require.Eventually(t, func() bool { return len(rec.events()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []Event{"old1", "old2", "live"}, rec.events())
}

func TestBroker_BacklogLoadError(t *testing.T) {
	b := NewBroker()
	boom := errors.New("boom")
	sub, err := b.SubscribeWithBacklog("t", func() ([]Event, error) { return nil, boom }, func(Event) {})
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, sub)
	assert.Equal(t, 0, b.Subscribers("t"))
}
