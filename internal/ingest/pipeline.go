package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/ride-dispatch/internal/location"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/storage"
)

// Publisher announces an applied location so gateways can stream it to
// the assigned rider. Backed by Redis pub/sub in production.
type Publisher interface {
	PublishApplied(ctx context.Context, loc models.DriverLocation) error
}

// Pipeline is the consumer side of location ingestion: durable upsert
// first, then cache overwrite, then live fan-out. Both writes enforce
// "apply only if observed_at >= stored" so redelivered or reordered
// reports converge on the true latest position.
type Pipeline struct {
	Durable   storage.LocationStore
	Cache     location.Cache
	Publisher Publisher
	Logger    *slog.Logger

	// Attempts/Delay govern cache write retries, mirroring the
	// durable store's own redelivery as the safety net.
	Attempts int
	Delay    time.Duration
}

// Apply processes one queue message. A nil error means the message can
// be committed; invalid payloads also commit (they will never become
// valid on redelivery).
func (p *Pipeline) Apply(ctx context.Context, raw []byte) error {
	var r models.LocationReport
	if err := json.Unmarshal(raw, &r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidReport, err)
	}
	if r.DriverID == "" || !(models.Coord{Lat: r.Lat, Lon: r.Lon}).Valid() {
		return fmt.Errorf("%w: driver=%q lat=%v lon=%v", ErrInvalidReport, r.DriverID, r.Lat, r.Lon)
	}
	if r.ObservedAt.IsZero() {
		// Legacy producers omit the timestamp; stamp on arrival so the
		// monotonic guard still has something to compare.
		r.ObservedAt = time.Now().UTC()
	}

	loc := models.DriverLocation{DriverID: r.DriverID, Lat: r.Lat, Lon: r.Lon, ObservedAt: r.ObservedAt}

	applied, err := p.Durable.UpsertLocation(ctx, loc)
	if err != nil {
		return fmt.Errorf("durable upsert %s: %w", r.DriverID, err)
	}
	if !applied {
		p.logger().Debug("stale report skipped", "driver_id", r.DriverID, "observed_at", r.ObservedAt)
		return ErrStaleReport
	}

	if err := p.cacheWithRetry(ctx, loc); err != nil {
		return fmt.Errorf("cache update %s: %w", r.DriverID, err)
	}

	if p.Publisher != nil {
		if err := p.Publisher.PublishApplied(ctx, loc); err != nil {
			// Best-effort: the rider misses one live update, the cache
			// and durable copy are already correct.
			p.logger().Warn("location fan-out publish failed", "driver_id", r.DriverID, "error", err)
		}
	}
	return nil
}

// Sentinel results for Apply. Both commit the message; they exist so
// the drain loop can count them separately.
var (
	ErrInvalidReport = errors.New("invalid location report")
	ErrStaleReport   = errors.New("stale location report")
)

// cacheWithRetry overwrites the cache entry unless it is already newer.
func (p *Pipeline) cacheWithRetry(ctx context.Context, loc models.DriverLocation) error {
	attempts, delay := p.Attempts, p.Delay
	if attempts <= 0 {
		attempts = 3
	}
	if delay <= 0 {
		delay = 200 * time.Millisecond
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		cached, err := p.Cache.Get(ctx, loc.DriverID)
		if err == nil && cached.ObservedAt.After(loc.ObservedAt) {
			return nil
		}
		err = p.Cache.Put(ctx, loc)
		if err == nil {
			return nil
		}
		lastErr = err
		time.Sleep(delay)
		delay *= 2
	}
	return lastErr
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}
