package location

import (
	"context"
	"errors"
	"log/slog"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/storage"
)

// Service answers location reads cache-first, falling back to the
// durable record (after a cache eviction or process restart) and
// repopulating the cache on the way out.
type Service struct {
	Cache   Cache
	Durable storage.LocationStore
	Logger  *slog.Logger
}

func (s *Service) Read(ctx context.Context, driverID string) (*models.DriverLocation, error) {
	loc, err := s.Cache.Get(ctx, driverID)
	if err == nil {
		return loc, nil
	}
	if !errors.Is(err, ErrNoLocation) {
		// Degraded cache: fall through to the durable copy.
		s.logger().Warn("location cache read failed", "driver_id", driverID, "error", err)
	}

	loc, err = s.Durable.GetLocation(ctx, driverID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNoLocation
	}
	if err != nil {
		return nil, err
	}
	if err := s.Cache.Put(ctx, *loc); err != nil {
		s.logger().Warn("location cache repopulate failed", "driver_id", driverID, "error", err)
	}
	return loc, nil
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
