package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/location"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/storage"
)

// flakyCache fails Put a fixed number of times before succeeding.
type flakyCache struct {
	inner    location.Cache
	failPuts int
	puts     int
}

func (f *flakyCache) Get(ctx context.Context, driverID string) (*models.DriverLocation, error) {
	return f.inner.Get(ctx, driverID)
}

func (f *flakyCache) Put(ctx context.Context, loc models.DriverLocation) error {
	f.puts++
	if f.puts <= f.failPuts {
		return errors.New("cache down")
	}
	return f.inner.Put(ctx, loc)
}

type publishRecorder struct {
	published []models.DriverLocation
}

func (p *publishRecorder) PublishApplied(ctx context.Context, loc models.DriverLocation) error {
	p.published = append(p.published, loc)
	return nil
}

func report(t *testing.T, driverID string, lat, lon float64, at time.Time) []byte {
	t.Helper()
	b, err := json.Marshal(models.LocationReport{DriverID: driverID, Lat: lat, Lon: lon, ObservedAt: at})
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestApplyWritesDurableCacheAndPublishes(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	cache := location.NewMemoryCache()
	rec := &publishRecorder{}
	p := &Pipeline{Durable: store, Cache: cache, Publisher: rec, Delay: time.Millisecond}

	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := p.Apply(ctx, report(t, "d1", 51.5, -0.12, at)); err != nil {
		t.Fatalf("apply: %v", err)
	}

	durable, err := store.GetLocation(ctx, "d1")
	if err != nil {
		t.Fatalf("durable read: %v", err)
	}
	if durable.Lat != 51.5 || durable.Lon != -0.12 {
		t.Fatalf("unexpected durable position: %+v", durable)
	}

	cached, err := cache.Get(ctx, "d1")
	if err != nil {
		t.Fatalf("cache read: %v", err)
	}
	if !cached.ObservedAt.Equal(at) {
		t.Fatalf("cache observed_at = %v, want %v", cached.ObservedAt, at)
	}

	if len(rec.published) != 1 || rec.published[0].DriverID != "d1" {
		t.Fatalf("expected one fan-out publish, got %+v", rec.published)
	}
}

// Reports arriving T2 then T1 (T1 < T2) must leave both copies at T2.
func TestLateReportDoesNotRollBack(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	cache := location.NewMemoryCache()
	p := &Pipeline{Durable: store, Cache: cache, Delay: time.Millisecond}

	t2 := time.Date(2024, 6, 1, 12, 0, 10, 0, time.UTC)
	t1 := t2.Add(-5 * time.Second)

	if err := p.Apply(ctx, report(t, "d1", 2, 2, t2)); err != nil {
		t.Fatalf("apply t2: %v", err)
	}
	if err := p.Apply(ctx, report(t, "d1", 1, 1, t1)); !errors.Is(err, ErrStaleReport) {
		t.Fatalf("expected ErrStaleReport for late report, got %v", err)
	}

	cached, err := cache.Get(ctx, "d1")
	if err != nil {
		t.Fatalf("cache read: %v", err)
	}
	if cached.Lat != 2 || !cached.ObservedAt.Equal(t2) {
		t.Fatalf("cache rolled back: %+v", cached)
	}
	durable, _ := store.GetLocation(ctx, "d1")
	if durable.Lat != 2 {
		t.Fatalf("durable rolled back: %+v", durable)
	}
}

func TestDuplicateRedeliveryConverges(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	cache := location.NewMemoryCache()
	p := &Pipeline{Durable: store, Cache: cache, Delay: time.Millisecond}

	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	msg := report(t, "d1", 3, 4, at)
	if err := p.Apply(ctx, msg); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	// same observed_at is re-applied, not treated as stale
	if err := p.Apply(ctx, msg); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	cached, err := cache.Get(ctx, "d1")
	if err != nil {
		t.Fatalf("cache read: %v", err)
	}
	if cached.Lat != 3 || cached.Lon != 4 {
		t.Fatalf("unexpected position after redelivery: %+v", cached)
	}
}

func TestApplyRejectsInvalidReports(t *testing.T) {
	ctx := context.Background()
	p := &Pipeline{Durable: storage.NewMemoryStore(), Cache: location.NewMemoryCache(), Delay: time.Millisecond}

	cases := [][]byte{
		[]byte("not json"),
		report(t, "", 1, 1, time.Now()),
		report(t, "d1", 91, 0, time.Now()),
		report(t, "d1", 0, 181, time.Now()),
	}
	for _, raw := range cases {
		if err := p.Apply(ctx, raw); !errors.Is(err, ErrInvalidReport) {
			t.Fatalf("expected ErrInvalidReport for %q, got %v", raw, err)
		}
	}
}

func TestCacheRetrySucceedsAfterFailures(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	cache := &flakyCache{inner: location.NewMemoryCache(), failPuts: 2}
	p := &Pipeline{Durable: store, Cache: cache, Attempts: 3, Delay: time.Millisecond}

	if err := p.Apply(ctx, report(t, "d1", 5, 6, time.Now().UTC())); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if cache.puts != 3 {
		t.Fatalf("expected 3 put attempts, got %d", cache.puts)
	}
}

func TestCacheRetryExhaustedFails(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	cache := &flakyCache{inner: location.NewMemoryCache(), failPuts: 10}
	p := &Pipeline{Durable: store, Cache: cache, Attempts: 2, Delay: time.Millisecond}

	if err := p.Apply(ctx, report(t, "d1", 5, 6, time.Now().UTC())); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
}
