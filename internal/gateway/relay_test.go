package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/presence"
	"github.com/example/ride-dispatch/internal/protocol"
)

type recordingWriter struct {
	mu   sync.Mutex
	envs []protocol.Envelope
}

func (w *recordingWriter) WriteEnvelope(env protocol.Envelope) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.envs = append(w.envs, env)
	return nil
}

func (w *recordingWriter) received() []protocol.Envelope {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]protocol.Envelope(nil), w.envs...)
}

// fakeConns stands in for the connection table: only the refs it holds
// count as locally owned.
type fakeConns map[string]*recordingWriter

func (f fakeConns) Writer(ref string) (EnvelopeWriter, bool) {
	w, ok := f[ref]
	if !ok {
		return nil, false
	}
	return w, true
}

func statusEnvelope(t *testing.T) protocol.Envelope {
	t.Helper()
	env, err := protocol.NewEnvelope(protocol.EvStatusUpdated, protocol.StatusUpdated{BookingID: "b1", NewStatus: "collected"})
	require.NoError(t, err)
	return env
}

func TestSendWritesLocallyOwnedConn(t *testing.T) {
	w := &recordingWriter{}
	r := &Relay{Conns: fakeConns{"conn-a": w}}

	require.NoError(t, r.Send(context.Background(), "conn-a", statusEnvelope(t)))

	got := w.received()
	require.Len(t, got, 1)
	assert.Equal(t, protocol.EvStatusUpdated, got[0].Event)
}

func TestSendUnknownConnWithoutRelayFails(t *testing.T) {
	r := &Relay{Conns: fakeConns{}}
	err := r.Send(context.Background(), "conn-elsewhere", statusEnvelope(t))
	assert.Error(t, err)
}

func TestDeliverWritesOnlyOwnedConns(t *testing.T) {
	w := &recordingWriter{}
	r := &Relay{Conns: fakeConns{"conn-a": w}}

	frame := func(ref string) string {
		b, err := json.Marshal(relayFrame{ConnRef: ref, Envelope: statusEnvelope(t)})
		require.NoError(t, err)
		return string(b)
	}

	// owned by another process: nothing to do here
	r.deliver(frame("conn-foreign"))
	assert.Empty(t, w.received())

	r.deliver(frame("conn-a"))
	require.Len(t, w.received(), 1)
}

func TestStreamLocationRoutesToAssignedRiderOnly(t *testing.T) {
	ctx := context.Background()
	registry := presence.NewMemoryRegistry()
	assigned := &recordingWriter{}
	bystander := &recordingWriter{}
	r := &Relay{
		Conns:    fakeConns{"conn-u1": assigned, "conn-u2": bystander},
		Registry: registry,
	}

	require.NoError(t, registry.Register(ctx, "u1", presence.KindRider, "conn-u1"))
	require.NoError(t, registry.Register(ctx, "u2", presence.KindRider, "conn-u2"))
	require.NoError(t, registry.Assign(ctx, "d1", "u1"))

	loc, err := json.Marshal(models.DriverLocation{DriverID: "d1", Lat: 51.5, Lon: -0.12})
	require.NoError(t, err)
	r.streamLocation(ctx, string(loc))

	got := assigned.received()
	require.Len(t, got, 1)
	assert.Equal(t, protocol.EvLocationUpdate, got[0].Event)

	var p protocol.LocationUpdate
	require.NoError(t, protocol.Decode(got[0], &p))
	assert.Equal(t, 51.5, p.Lat)
	assert.Equal(t, -0.12, p.Lon)

	assert.Empty(t, bystander.received(), "untracked rider must not receive the stream")
}

func TestStreamLocationUnassignedDriverIsDropped(t *testing.T) {
	ctx := context.Background()
	registry := presence.NewMemoryRegistry()
	w := &recordingWriter{}
	r := &Relay{Conns: fakeConns{"conn-u1": w}, Registry: registry}

	require.NoError(t, registry.Register(ctx, "u1", presence.KindRider, "conn-u1"))

	loc, err := json.Marshal(models.DriverLocation{DriverID: "d9", Lat: 1, Lon: 2})
	require.NoError(t, err)
	r.streamLocation(ctx, string(loc))

	assert.Empty(t, w.received())
}

func TestStreamLocationRiderOwnedElsewhere(t *testing.T) {
	ctx := context.Background()
	registry := presence.NewMemoryRegistry()
	r := &Relay{Conns: fakeConns{}, Registry: registry}

	require.NoError(t, registry.Register(ctx, "u1", presence.KindRider, "conn-on-other-gateway"))
	require.NoError(t, registry.Assign(ctx, "d1", "u1"))

	loc, err := json.Marshal(models.DriverLocation{DriverID: "d1", Lat: 1, Lon: 2})
	require.NoError(t, err)
	// must be a no-op: the process owning the rider's conn delivers
	r.streamLocation(ctx, string(loc))
}
