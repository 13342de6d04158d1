package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carryconnect/carryconnect/internal/live"
	"github.com/carryconnect/carryconnect/internal/model"
	"github.com/carryconnect/carryconnect/internal/repository"
	"github.com/carryconnect/carryconnect/internal/testutil"
)

type env struct {
	trips    *repository.TripRepo
	users    *repository.UserRepo
	broker   *live.Broker
	tripSvc  *TripService
	booking  *BookingService
	chat     *ChatService
	receipts *ReceiptService

	carrier, sender, sender2 string
}

func noSleep(context.Context, time.Duration) error { return nil }

func fastRetry() RetryPolicy {
	p := DefaultRetryPolicy()
	p.sleep = noSleep
	return p
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := testutil.NewDB(t)
	e := &env{
		trips:  repository.NewTripRepo(db),
		users:  repository.NewUserRepo(db),
		broker: live.NewBroker(),
	}
	msgs := repository.NewMessageRepo(db)
	markers := repository.NewReadMarkerRepo(db)
	e.tripSvc = NewTripService(e.trips, e.users, e.broker)
	e.booking = NewBookingService(e.trips, e.users, e.broker, nil, fastRetry(), time.Second)
	e.chat = NewChatService(e.trips, msgs, markers, e.broker)
	e.receipts = NewReceiptService(e.trips, msgs, markers, e.broker)

	ctx := context.Background()
	var err error
	e.carrier, err = e.users.Create(ctx, "carrier@example.com", "pw", "Carol", "+1 555 0100", 4)
	require.NoError(t, err)
	e.sender, err = e.users.Create(ctx, "sender@example.com", "pw", "Sam", "+1 555 0101", 4)
	require.NoError(t, err)
	e.sender2, err = e.users.Create(ctx, "sender2@example.com", "pw", "Sue", "+1 555 0102", 4)
	require.NoError(t, err)
	return e
}

func draft() TripDraft {
	return TripDraft{
		Origin:      "Lagos",
		Destination: "London",
		TravelDate:  "2099-05-01",
		Mode:        model.ModeFlight,
		PackageSize: model.SizeMedium,
		PriceCents:  4000,
	}
}

func details() BookingDetails {
	return BookingDetails{WeightKg: 3, PickupLocation: "Ikeja", DropoffLocation: "Camden"}
}

func (e *env) bookedTrip(t *testing.T) *model.Trip {
	t.Helper()
	ctx := context.Background()
	tr, err := e.tripSvc.Create(ctx, e.carrier, draft())
	require.NoError(t, err)
	booked, err := e.booking.Book(ctx, tr.ID, e.sender, details())
	require.NoError(t, err)
	return booked
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func TestTripService_CreateValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.tripSvc.now = func() time.Time { return time.Date(2030, 3, 10, 23, 0, 0, 0, time.UTC) }

	cases := map[string]func(*TripDraft){
		"price":          func(d *TripDraft) { d.PriceCents = 0 },
		"travel_date":    func(d *TripDraft) { d.TravelDate = "2030-03-09" },
		"origin":         func(d *TripDraft) { d.Origin = "  " },
		"destination":    func(d *TripDraft) { d.Destination = "" },
		"transport_mode": func(d *TripDraft) { d.Mode = "boat" },
		"package_size":   func(d *TripDraft) { d.PackageSize = "huge" },
	}
	for field, mutate := range cases {
		d := draft()
		mutate(&d)
		_, err := e.tripSvc.Create(ctx, e.carrier, d)
		var ve *ValidationError
		require.ErrorAs(t, err, &ve, field)
		assert.Equal(t, field, ve.Field)
		assert.ErrorIs(t, err, ErrValidation)
	}

	d := draft()
	d.PriceCents = model.MaxAmountCents + 1
	_, err := e.tripSvc.Create(ctx, e.carrier, d)
	assert.ErrorIs(t, err, ErrValidation, "price above the bound")

	d = draft()
	d.TravelDate = "2030-03-10"
	tr, err := e.tripSvc.Create(ctx, e.carrier, d)
	require.NoError(t, err, "today is allowed")
	assert.Equal(t, "Carol", tr.OwnerName)
	assert.Equal(t, "+1 555 0100", tr.OwnerContact)
}

type countingCache struct {
	mu    sync.Mutex
	drops int
}

func (c *countingCache) Invalidate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drops++
	return nil
}

func (c *countingCache) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drops
}

func TestWritesDropListingCacheBeforeReturning(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	cache := &countingCache{}
	e.tripSvc.UseListingCache(cache)
	e.booking.UseListingCache(cache)

	tr, err := e.tripSvc.Create(ctx, e.carrier, draft())
	require.NoError(t, err)
	assert.Equal(t, 1, cache.count())

	_, err = e.booking.Book(ctx, tr.ID, e.sender, details())
	require.NoError(t, err)
	assert.Equal(t, 2, cache.count())

	// failed writes leave the cache alone
	_, err = e.booking.Book(ctx, tr.ID, e.sender2, details())
	require.Error(t, err)
	require.Error(t, e.tripSvc.Delete(ctx, tr.ID, e.carrier))
	assert.Equal(t, 2, cache.count())

	other, err := e.tripSvc.Create(ctx, e.carrier, draft())
	require.NoError(t, err)
	require.NoError(t, e.tripSvc.Delete(ctx, other.ID, e.carrier))
	assert.Equal(t, 4, cache.count())
}

func TestTripService_ListAvailableFilters(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.tripSvc.Create(ctx, e.carrier, draft())
	require.NoError(t, err)
	d := draft()
	d.Origin, d.Mode, d.PriceCents = "Accra", model.ModeBus, 900
	_, err = e.tripSvc.Create(ctx, e.carrier, d)
	require.NoError(t, err)

	got, err := e.tripSvc.ListAvailable(ctx, model.TripFilter{Origin: "acc"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Accra", got[0].Origin)

	got, err = e.tripSvc.ListAvailable(ctx, model.TripFilter{MaxPriceCents: 1000, Mode: model.ModeBus})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = e.tripSvc.ListAvailable(ctx, model.TripFilter{})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestScenario_BookConflictDelete(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	tr, err := e.tripSvc.Create(ctx, e.carrier, draft())
	require.NoError(t, err)
	assert.Equal(t, model.TripAvailable, tr.Status)

	booked, err := e.booking.Book(ctx, tr.ID, e.sender, details())
	require.NoError(t, err)
	assert.Equal(t, model.TripBooked, booked.Status)
	require.NotNil(t, booked.Booking)
	assert.Equal(t, e.sender, booked.Booking.RequesterID)
	assert.Equal(t, "Sam", booked.Booking.RequesterName)
	assert.Equal(t, int64(4000), booked.Booking.AgreedPriceCents)

	_, err = e.booking.Book(ctx, tr.ID, e.sender2, details())
	assert.ErrorIs(t, err, ErrTripUnavailable)
	assert.ErrorIs(t, err, repository.ErrConflict)
	assert.Equal(t, "this trip is no longer available", err.Error())

	assert.ErrorIs(t, e.tripSvc.Delete(ctx, tr.ID, e.carrier), repository.ErrConflict)
	assert.ErrorIs(t, e.tripSvc.Delete(ctx, tr.ID, e.sender2), repository.ErrConflict)
	assert.ErrorIs(t, e.tripSvc.Delete(ctx, tr.ID, e.sender), repository.ErrConflict)

	mine, err := e.tripSvc.ListBookedBy(ctx, e.sender)
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}

func TestBooking_OwnTripAndValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tr, err := e.tripSvc.Create(ctx, e.carrier, draft())
	require.NoError(t, err)

	_, err = e.booking.Book(ctx, tr.ID, e.carrier, details())
	assert.ErrorIs(t, err, ErrValidation)

	bad := details()
	bad.WeightKg = 0
	_, err = e.booking.Book(ctx, tr.ID, e.sender, bad)
	assert.ErrorIs(t, err, ErrValidation)

	bad = details()
	bad.AgreedPriceCents = model.MaxAmountCents + 1
	_, err = e.booking.Book(ctx, tr.ID, e.sender, bad)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "agreed_price", ve.Field)

	_, err = e.booking.Book(ctx, "missing", e.sender, details())
	assert.ErrorIs(t, err, repository.ErrTripNotFound)

	_, err = e.booking.Book(ctx, tr.ID, "ghost", details())
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestBooking_ConcurrentExactlyOneSucceeds(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tr, err := e.tripSvc.Create(ctx, e.carrier, draft())
	require.NoError(t, err)

	const n = 12
	requesters := make([]string, n)
	for i := range requesters {
		requesters[i], err = e.users.Create(ctx, fmt.Sprintf("s%d@example.com", i), "pw", "S", "c", 4)
		require.NoError(t, err)
	}

	var ok, conflict atomic.Int32
	var wg sync.WaitGroup
	for _, r := range requesters {
		wg.Add(1)
		go func(r string) {
			defer wg.Done()
			_, err := e.booking.Book(ctx, tr.ID, r, details())
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrTripUnavailable):
				conflict.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(r)
	}
	wg.Wait()
	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(n-1), conflict.Load())
}

// flakyTrips fails the first failures Book calls with a transient error.
// When commit is set the failing call still books the trip first, as when
// a connection drops after COMMIT.
type flakyTrips struct {
	TripStore
	failures int
	commit   bool
	calls    atomic.Int32
}

func (f *flakyTrips) Book(ctx context.Context, id string, b model.Booking) (*model.Trip, error) {
	if int(f.calls.Add(1)) <= f.failures {
		if f.commit {
			_, _ = f.TripStore.Book(ctx, id, b)
		}
		return nil, fmt.Errorf("%w: driver: bad connection", repository.ErrTransient)
	}
	return f.TripStore.Book(ctx, id, b)
}

func TestBooking_RetriesTransient(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tr, err := e.tripSvc.Create(ctx, e.carrier, draft())
	require.NoError(t, err)

	flaky := &flakyTrips{TripStore: e.trips, failures: 2}
	svc := NewBookingService(flaky, e.users, e.broker, nil, fastRetry(), time.Second)
	booked, err := svc.Book(ctx, tr.ID, e.sender, details())
	require.NoError(t, err)
	assert.Equal(t, model.TripBooked, booked.Status)
	assert.Equal(t, int32(3), flaky.calls.Load())
}

func TestBooking_CommittedBeforeTransientErrorSucceeds(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tr, err := e.tripSvc.Create(ctx, e.carrier, draft())
	require.NoError(t, err)

	flaky := &flakyTrips{TripStore: e.trips, failures: 1, commit: true}
	svc := NewBookingService(flaky, e.users, e.broker, nil, fastRetry(), time.Second)
	booked, err := svc.Book(ctx, tr.ID, e.sender, details())
	require.NoError(t, err)
	assert.Equal(t, e.sender, booked.Booking.RequesterID)
}

func TestBooking_TransientExhausted(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tr, err := e.tripSvc.Create(ctx, e.carrier, draft())
	require.NoError(t, err)

	flaky := &flakyTrips{TripStore: e.trips, failures: 100}
	svc := NewBookingService(flaky, e.users, e.broker, nil, fastRetry(), time.Second)
	_, err = svc.Book(ctx, tr.ID, e.sender, details())
	assert.ErrorIs(t, err, repository.ErrTransient)
	assert.Equal(t, int32(4), flaky.calls.Load())
}

type slowResolver struct{ calls atomic.Int32 }

func (r *slowResolver) GetByID(ctx context.Context, _ string) (model.User, error) {
	r.calls.Add(1)
	<-ctx.Done()
	return model.User{}, ctx.Err()
}

func TestBooking_IdentityTimeoutIsUnauthenticated(t *testing.T) {
	e := newEnv(t)
	tr, err := e.tripSvc.Create(context.Background(), e.carrier, draft())
	require.NoError(t, err)

	res := &slowResolver{}
	svc := NewBookingService(e.trips, res, e.broker, nil, fastRetry(), 20*time.Millisecond)
	start := time.Now()
	_, err = svc.Book(context.Background(), tr.ID, e.sender, details())
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Equal(t, int32(2), res.calls.Load())
	assert.Less(t, time.Since(start), time.Second)

	cur, err := e.trips.GetByID(context.Background(), tr.ID)
	require.NoError(t, err)
	assert.True(t, cur.Available())
}

type recordingEvents struct {
	mu    sync.Mutex
	trips []model.Trip
	err   error
}

func (r *recordingEvents) PublishTripBooked(_ context.Context, t model.Trip) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trips = append(r.trips, t)
	return r.err
}

func TestBooking_PublishesEvents(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tr, err := e.tripSvc.Create(ctx, e.carrier, draft())
	require.NoError(t, err)

	ev := &recordingEvents{err: errors.New("broker down")}
	svc := NewBookingService(e.trips, e.users, e.broker, ev, fastRetry(), time.Second)
	_, err = svc.Book(ctx, tr.ID, e.sender, details())
	require.NoError(t, err, "event failures never fail the booking")
	svc.WaitEvents()
	ev.mu.Lock()
	defer ev.mu.Unlock()
	require.Len(t, ev.trips, 1)
	assert.Equal(t, tr.ID, ev.trips[0].ID)
}

type stalledEvents struct {
	release  chan struct{}
	deadline chan bool
}

func (s *stalledEvents) PublishTripBooked(ctx context.Context, _ model.Trip) error {
	_, ok := ctx.Deadline()
	s.deadline <- ok
	<-s.release
	return nil
}

func TestBooking_SlowEventSinkDoesNotDelayReply(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tr, err := e.tripSvc.Create(ctx, e.carrier, draft())
	require.NoError(t, err)

	ev := &stalledEvents{release: make(chan struct{}), deadline: make(chan bool, 1)}
	svc := NewBookingService(e.trips, e.users, e.broker, ev, fastRetry(), time.Second)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Book(ctx, tr.ID, e.sender, details())
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Book waited for the event sink")
	}
	assert.True(t, <-ev.deadline, "sends are bounded")

	close(ev.release)
	svc.WaitEvents()
}

func TestSubscribeAvailableTrips(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	first, err := e.tripSvc.Create(ctx, e.carrier, draft())
	require.NoError(t, err)
	d := draft()
	d.Origin = "Paris"
	_, err = e.tripSvc.Create(ctx, e.carrier, d)
	require.NoError(t, err)

	var mu sync.Mutex
	var got []TripEvent
	pred := func(t model.Trip) bool { return model.TripFilter{Origin: "lagos"}.Match(t) }
	sub, err := e.tripSvc.SubscribeAvailableTrips(ctx, pred, func(ev TripEvent) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev)
	})
	require.NoError(t, err)
	defer sub.Cancel()

	second, err := e.tripSvc.Create(ctx, e.carrier, draft())
	require.NoError(t, err)
	_, err = e.booking.Book(ctx, first.ID, e.sender, details())
	require.NoError(t, err)
	require.NoError(t, e.tripSvc.Delete(ctx, second.ID, e.carrier))

	events := func() []TripEvent {
		mu.Lock()
		defer mu.Unlock()
		return append([]TripEvent(nil), got...)
	}
	require.Eventually(t, func() bool { return len(events()) == 4 }, time.Second, 5*time.Millisecond)
	evs := events()
	assert.Equal(t, TripAdded, evs[0].Kind)
	assert.Equal(t, first.ID, evs[0].Trip.ID)
	assert.Equal(t, TripAdded, evs[1].Kind)
	assert.Equal(t, second.ID, evs[1].Trip.ID)
	assert.Equal(t, TripRemoved, evs[2].Kind)
	assert.Equal(t, first.ID, evs[2].Trip.ID)
	assert.Equal(t, TripRemoved, evs[3].Kind)
	assert.Equal(t, second.ID, evs[3].Trip.ID)
	for _, ev := range evs {
		assert.Nil(t, ev.Trip.Booking, "%s %s", ev.Kind, ev.Trip.ID)
	}
}

func TestChat_AccessControl(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	avail, err := e.tripSvc.Create(ctx, e.carrier, draft())
	require.NoError(t, err)
	_, err = e.chat.Send(ctx, avail.ID, e.carrier, "hi")
	assert.ErrorIs(t, err, repository.ErrForbidden, "no conversation before booking")

	tr := e.bookedTrip(t)
	_, err = e.chat.Send(ctx, tr.ID, e.sender2, "let me in")
	assert.ErrorIs(t, err, repository.ErrForbidden)
	_, err = e.chat.Subscribe(ctx, tr.ID, e.sender2, func(model.Message) {})
	assert.ErrorIs(t, err, repository.ErrForbidden)
	_, err = e.receipts.MarkRead(ctx, tr.ID, e.sender2)
	assert.ErrorIs(t, err, repository.ErrForbidden)
	_, err = e.chat.Send(ctx, "missing", e.sender, "hi")
	assert.ErrorIs(t, err, repository.ErrTripNotFound)

	_, err = e.chat.Send(ctx, tr.ID, e.sender, "   ")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestChat_OrderAndSubscribe(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tr := e.bookedTrip(t)

	fixed := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	e.chat.now = func() time.Time { return fixed }

	m1, err := e.chat.Send(ctx, tr.ID, e.sender, "one")
	require.NoError(t, err)
	m2, err := e.chat.Send(ctx, tr.ID, e.carrier, "two")
	require.NoError(t, err)
	assert.True(t, m2.SentAt.After(m1.SentAt), "same clock reading still orders strictly")

	var mu sync.Mutex
	var got []string
	sub, err := e.chat.Subscribe(ctx, tr.ID, e.carrier, func(m model.Message) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, m.Text)
	})
	require.NoError(t, err)

	_, err = e.chat.Send(ctx, tr.ID, e.sender, "three")
	require.NoError(t, err)

	texts := func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), got...)
	}
	require.Eventually(t, func() bool { return len(texts()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"one", "two", "three"}, texts())

	sub.Cancel()
	sub.Cancel()
	_, err = e.chat.Send(ctx, tr.ID, e.sender, "four")
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, texts(), 3)
}

func TestReceipts_MonotonicAndSubscribe(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tr := e.bookedTrip(t)
	c := &clock{now: time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)}
	e.receipts.now = c.Now

	var mu sync.Mutex
	var got []model.ReadMarker
	sub, err := e.receipts.SubscribeReadMarkers(ctx, tr.ID, e.sender, func(m model.ReadMarker) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, m)
	})
	require.NoError(t, err)
	defer sub.Cancel()

	m, err := e.receipts.MarkRead(ctx, tr.ID, e.carrier)
	require.NoError(t, err)
	assert.True(t, m.ReadAt.Equal(c.Now()))

	c.Set(c.Now().Add(-time.Hour))
	m, err = e.receipts.MarkRead(ctx, tr.ID, e.carrier)
	require.NoError(t, err)
	assert.True(t, m.ReadAt.Equal(time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)), "marker never moves back")

	c.Set(time.Date(2030, 1, 1, 13, 0, 0, 0, time.UTC))
	_, err = e.receipts.MarkRead(ctx, tr.ID, e.carrier)
	require.NoError(t, err)

	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(got)
	}
	require.Eventually(t, func() bool { return count() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, count(), "the no-op call publishes nothing")
}

func TestChat_SeenDerivation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tr := e.bookedTrip(t)

	t1 := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)
	c := &clock{now: t1}
	e.chat.now = c.Now
	e.receipts.now = c.Now

	_, err := e.chat.Send(ctx, tr.ID, e.sender, "first")
	require.NoError(t, err)

	// carrier reads between the two sends
	c.Set(t1.Add(30 * time.Second))
	_, err = e.receipts.MarkRead(ctx, tr.ID, e.carrier)
	require.NoError(t, err)

	c.Set(t2)
	_, err = e.chat.Send(ctx, tr.ID, e.sender, "second")
	require.NoError(t, err)

	views, err := e.chat.History(ctx, tr.ID, e.sender)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.True(t, views[0].Seen)
	assert.False(t, views[1].Seen)

	c.Set(t2.Add(time.Second))
	_, err = e.receipts.MarkRead(ctx, tr.ID, e.carrier)
	require.NoError(t, err)
	views, err = e.chat.History(ctx, tr.ID, e.sender)
	require.NoError(t, err)
	assert.True(t, views[0].Seen)
	assert.True(t, views[1].Seen)

	// the carrier never sees "seen" on messages they did not write
	views, err = e.chat.History(ctx, tr.ID, e.carrier)
	require.NoError(t, err)
	assert.False(t, views[0].Seen)
}

func TestScenario_UnreadThenRead(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tr := e.bookedTrip(t)

	_, err := e.chat.Send(ctx, tr.ID, e.sender, "hello")
	require.NoError(t, err)

	convs, err := e.receipts.Conversations(ctx, e.carrier)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.True(t, convs[0].Unread)
	assert.Equal(t, e.sender, convs[0].CounterpartID)
	require.NotNil(t, convs[0].Latest)
	assert.Equal(t, "hello", convs[0].Latest.Text)

	senderConvs, err := e.receipts.Conversations(ctx, e.sender)
	require.NoError(t, err)
	require.Len(t, senderConvs, 1)
	assert.False(t, senderConvs[0].Unread, "own message is never unread")

	views, err := e.chat.History(ctx, tr.ID, e.sender)
	require.NoError(t, err)
	assert.False(t, views[0].Seen)

	_, err = e.receipts.MarkRead(ctx, tr.ID, e.carrier)
	require.NoError(t, err)

	convs, err = e.receipts.Conversations(ctx, e.carrier)
	require.NoError(t, err)
	assert.False(t, convs[0].Unread)
	views, err = e.chat.History(ctx, tr.ID, e.sender)
	require.NoError(t, err)
	assert.True(t, views[0].Seen)
}

func TestRetryPolicy(t *testing.T) {
	p := RetryPolicy{Attempts: 6, Base: 100 * time.Millisecond, Max: 2 * time.Second}
	assert.Equal(t, 100*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, p.Backoff(2))
	assert.Equal(t, 800*time.Millisecond, p.Backoff(4))
	assert.Equal(t, 2*time.Second, p.Backoff(6))

	var slept []time.Duration
	p.sleep = func(_ context.Context, d time.Duration) error { slept = append(slept, d); return nil }
	calls := 0
	err := p.Do(context.Background(), func(int) error {
		calls++
		return repository.ErrConflict
	})
	assert.ErrorIs(t, err, repository.ErrConflict)
	assert.Equal(t, 1, calls, "conflict is never retried")
	assert.Empty(t, slept)

	calls = 0
	err = p.Do(context.Background(), func(n int) error {
		calls++
		if n < 3 {
			return repository.ErrTransient
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, slept)
}
