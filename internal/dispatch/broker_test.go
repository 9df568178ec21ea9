package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-dispatch/internal/booking"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/presence"
	"github.com/example/ride-dispatch/internal/protocol"
	"github.com/example/ride-dispatch/internal/storage"
)

type recordingSender struct {
	mu   sync.Mutex
	sent map[string][]protocol.Envelope
}

func newRecordingSender() *recordingSender {
	return &recordingSender{sent: make(map[string][]protocol.Envelope)}
}

func (r *recordingSender) Send(ctx context.Context, connRef string, env protocol.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent[connRef] = append(r.sent[connRef], env)
	return nil
}

func (r *recordingSender) events(connRef string) []protocol.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []protocol.EventKind
	for _, env := range r.sent[connRef] {
		out = append(out, env.Event)
	}
	return out
}

func brokerFixture(t *testing.T) (*Broker, *storage.MemoryStore, *presence.MemoryRegistry, *recordingSender) {
	t.Helper()
	store := storage.NewMemoryStore()
	registry := presence.NewMemoryRegistry()
	sender := newRecordingSender()
	svc := &booking.Service{Store: store, Registry: registry, Sender: sender}
	b := &Broker{Registry: registry, Bookings: svc, Sender: sender}
	return b, store, registry, sender
}

func TestOfferSkipsAbsentCandidates(t *testing.T) {
	ctx := context.Background()
	broker, _, registry, sender := brokerFixture(t)
	require.NoError(t, registry.Register(ctx, "d1", presence.KindDriver, "conn-d1"))

	data := models.Booking{ID: "b1", RiderID: "u1"}
	delivered, err := broker.Offer(ctx, []string{"d1", "d2", "d3"}, data)
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)

	assert.Equal(t, []protocol.EventKind{protocol.EvPickupRequested}, sender.events("conn-d1"))
	assert.Empty(t, sender.events("conn-d2"))
	assert.Empty(t, sender.events("conn-d3"))
}

func TestOfferPayloadCarriesBookingData(t *testing.T) {
	ctx := context.Background()
	broker, _, registry, sender := brokerFixture(t)
	require.NoError(t, registry.Register(ctx, "d1", presence.KindDriver, "conn-d1"))

	data := models.Booking{ID: "b1", RiderID: "u1", SrcText: "airport", Price: 42}
	_, err := broker.Offer(ctx, []string{"d1"}, data)
	require.NoError(t, err)

	envs := sender.sent["conn-d1"]
	require.Len(t, envs, 1)
	var p protocol.PickupRequested
	require.NoError(t, protocol.Decode(envs[0], &p))
	assert.Equal(t, "b1", p.BookingData.ID)
	assert.Equal(t, "airport", p.BookingData.SrcText)
}

func TestAcceptWinnerNotifiesRiderAndAssigns(t *testing.T) {
	ctx := context.Background()
	broker, store, registry, sender := brokerFixture(t)
	store.PutDriver(models.Driver{ID: "d1", IsAvailable: true})
	require.NoError(t, store.CreateBooking(ctx, &models.Booking{ID: "b1", RiderID: "u1", Status: models.StatusPending}))
	require.NoError(t, registry.Register(ctx, "u1", presence.KindRider, "conn-u1"))

	require.NoError(t, broker.Accept(ctx, "b1", "d1", "u1"))

	assert.Equal(t, []protocol.EventKind{protocol.EvBookingAccepted}, sender.events("conn-u1"))

	rider, err := registry.AssignedRider(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "u1", rider)

	b, err := store.GetBooking(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, b.Status)
	assert.Equal(t, "d1", b.DriverID)
}

func TestSecondAcceptIsAlreadyTaken(t *testing.T) {
	ctx := context.Background()
	broker, store, registry, _ := brokerFixture(t)
	store.PutDriver(models.Driver{ID: "d1", IsAvailable: true})
	store.PutDriver(models.Driver{ID: "d2", IsAvailable: true})
	require.NoError(t, store.CreateBooking(ctx, &models.Booking{ID: "b1", RiderID: "u1", Status: models.StatusPending}))
	require.NoError(t, registry.Register(ctx, "u1", presence.KindRider, "conn-u1"))

	require.NoError(t, broker.Accept(ctx, "b1", "d1", "u1"))
	err := broker.Accept(ctx, "b1", "d2", "u1")
	assert.ErrorIs(t, err, ErrAlreadyTaken)

	b, _ := store.GetBooking(ctx, "b1")
	assert.Equal(t, "d1", b.DriverID, "loser must not overwrite the winner")
}

// Concurrent race: N acceptors, exactly one winner, run with -race.
func TestConcurrentAcceptYieldsExactlyOneWinner(t *testing.T) {
	ctx := context.Background()
	broker, store, registry, _ := brokerFixture(t)
	drivers := []string{"d1", "d2", "d3", "d4", "d5", "d6", "d7", "d8"}
	for _, d := range drivers {
		store.PutDriver(models.Driver{ID: d, IsAvailable: true})
	}
	require.NoError(t, store.CreateBooking(ctx, &models.Booking{ID: "b1", RiderID: "u1", Status: models.StatusPending}))
	require.NoError(t, registry.Register(ctx, "u1", presence.KindRider, "conn-u1"))

	var wg sync.WaitGroup
	results := make(chan error, len(drivers))
	for _, d := range drivers {
		wg.Add(1)
		go func(driverID string) {
			defer wg.Done()
			results <- broker.Accept(ctx, "b1", driverID, "u1")
		}(d)
	}
	wg.Wait()
	close(results)

	wins, conflicts := 0, 0
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrAlreadyTaken):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, len(drivers)-1, conflicts)

	b, err := store.GetBooking(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, b.Status)
	assert.Contains(t, drivers, b.DriverID)

	winner, err := store.GetDriver(ctx, b.DriverID)
	require.NoError(t, err)
	assert.False(t, winner.IsAvailable)
}

func TestAcceptMissingBookingSurfacesNotFound(t *testing.T) {
	ctx := context.Background()
	broker, store, _, _ := brokerFixture(t)
	store.PutDriver(models.Driver{ID: "d1", IsAvailable: true})

	err := broker.Accept(ctx, "nope", "d1", "u1")
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRejectKeepsBookingPending(t *testing.T) {
	ctx := context.Background()
	broker, store, registry, sender := brokerFixture(t)
	require.NoError(t, store.CreateBooking(ctx, &models.Booking{ID: "b1", RiderID: "u1", Status: models.StatusPending}))
	require.NoError(t, registry.Register(ctx, "u1", presence.KindRider, "conn-u1"))

	require.NoError(t, broker.Reject(ctx, "b1", "d1", "u1"))

	b, err := store.GetBooking(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, b.Status)
	assert.Equal(t, []protocol.EventKind{protocol.EvBookingRejected}, sender.events("conn-u1"))
}
