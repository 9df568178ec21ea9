// Package location holds the fast-read copy of driver positions and
// the cache-first read path backing requestDriverLocation.
package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/models"
)

// ErrNoLocation is returned when neither the cache nor the durable
// store has a position for the driver.
var ErrNoLocation = errors.New("no location recorded")

// Cache is the most-recent-wins fast-read copy. It may lag the durable
// record by the ingestion delay.
type Cache interface {
	Get(ctx context.Context, driverID string) (*models.DriverLocation, error)
	Put(ctx context.Context, loc models.DriverLocation) error
}

func cacheKey(driverID string) string { return "driver:" + driverID + ":location" }

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, driverID string) (*models.DriverLocation, error) {
	raw, err := c.client.Get(ctx, cacheKey(driverID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoLocation
	}
	if err != nil {
		return nil, fmt.Errorf("cache get %s: %w", driverID, err)
	}
	var loc models.DriverLocation
	if err := json.Unmarshal([]byte(raw), &loc); err != nil {
		return nil, fmt.Errorf("cache decode %s: %w", driverID, err)
	}
	return &loc, nil
}

func (c *RedisCache) Put(ctx context.Context, loc models.DriverLocation) error {
	b, err := json.Marshal(loc)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, cacheKey(loc.DriverID), b, c.ttl).Err()
}
