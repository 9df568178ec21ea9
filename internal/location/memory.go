package location

import (
	"context"
	"sync"

	"github.com/example/ride-dispatch/internal/models"
)

// MemoryCache backs tests and Redis-less runs.
type MemoryCache struct {
	mu   sync.RWMutex
	locs map[string]models.DriverLocation
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{locs: make(map[string]models.DriverLocation)}
}

func (c *MemoryCache) Get(ctx context.Context, driverID string) (*models.DriverLocation, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	loc, ok := c.locs[driverID]
	if !ok {
		return nil, ErrNoLocation
	}
	return &loc, nil
}

func (c *MemoryCache) Put(ctx context.Context, loc models.DriverLocation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.locs[loc.DriverID] = loc
	return nil
}
