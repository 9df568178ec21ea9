package location

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/storage"
)

func TestReadPrefersCache(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache()
	store := storage.NewMemoryStore()
	svc := &Service{Cache: cache, Durable: store}

	cachedAt := time.Date(2024, 6, 1, 12, 0, 5, 0, time.UTC)
	if err := cache.Put(ctx, models.DriverLocation{DriverID: "d1", Lat: 1, Lon: 1, ObservedAt: cachedAt}); err != nil {
		t.Fatal(err)
	}
	// durable holds an older position; the cache must win
	if _, err := store.UpsertLocation(ctx, models.DriverLocation{DriverID: "d1", Lat: 9, Lon: 9, ObservedAt: cachedAt.Add(-time.Minute)}); err != nil {
		t.Fatal(err)
	}

	loc, err := svc.Read(ctx, "d1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if loc.Lat != 1 || loc.Lon != 1 {
		t.Fatalf("expected cached position, got %+v", loc)
	}
}

func TestReadFallsBackToDurableAndRepopulates(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache()
	store := storage.NewMemoryStore()
	svc := &Service{Cache: cache, Durable: store}

	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	if _, err := store.UpsertLocation(ctx, models.DriverLocation{DriverID: "d1", Lat: 7, Lon: 8, ObservedAt: at}); err != nil {
		t.Fatal(err)
	}

	loc, err := svc.Read(ctx, "d1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if loc.Lat != 7 || loc.Lon != 8 {
		t.Fatalf("unexpected position: %+v", loc)
	}

	// fallback must have warmed the cache
	cached, err := cache.Get(ctx, "d1")
	if err != nil {
		t.Fatalf("cache not repopulated: %v", err)
	}
	if cached.Lat != 7 {
		t.Fatalf("cache holds %+v", cached)
	}
}

func TestReadUnknownDriver(t *testing.T) {
	ctx := context.Background()
	svc := &Service{Cache: NewMemoryCache(), Durable: storage.NewMemoryStore()}

	if _, err := svc.Read(ctx, "ghost"); !errors.Is(err, ErrNoLocation) {
		t.Fatalf("expected ErrNoLocation, got %v", err)
	}
}
