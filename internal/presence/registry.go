// Package presence maintains the distributed mapping from logical
// participant identities to the connection currently representing them.
// Records live in Redis so any gateway process can route an event to
// any participant.
package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/observability"
)

// Kind distinguishes the two participant namespaces.
type Kind string

const (
	KindRider  Kind = "user"
	KindDriver Kind = "driver"
)

// ErrNotRegistered is returned by Lookup when a participant has never
// registered or has disconnected.
var ErrNotRegistered = errors.New("participant not registered")

// Registry is the shared identity -> connection mapping. Register and
// Deregister are the only writers; everything else reads via Lookup.
type Registry interface {
	Register(ctx context.Context, id string, kind Kind, connRef string) error
	Lookup(ctx context.Context, id string, kind Kind) (string, error)
	Deregister(ctx context.Context, connRef string) error

	// Assign records which rider is receiving a driver's location
	// stream. Cleared implicitly by overwrite on the next acceptance.
	Assign(ctx context.Context, driverID, riderID string) error
	AssignedRider(ctx context.Context, driverID string) (string, error)
}

func participantKey(kind Kind, id string) string { return string(kind) + ":" + id }
func connKey(connRef string) string              { return "conn:" + connRef }
func assignKey(driverID string) string           { return "driverAssignedToUser:" + driverID }

// RedisRegistry stores one key per participant plus a reverse set per
// connection so Deregister does not have to scan the keyspace the way
// the original disconnect handler did.
type RedisRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisRegistry(client *redis.Client, ttl time.Duration) *RedisRegistry {
	return &RedisRegistry{client: client, ttl: ttl}
}

func (r *RedisRegistry) Register(ctx context.Context, id string, kind Kind, connRef string) error {
	key := participantKey(kind, id)

	// Last-register-wins: drop the superseded connection's reverse
	// entry so its eventual Deregister cannot evict the new record.
	if prev, err := r.client.Get(ctx, key).Result(); err == nil && prev != "" && prev != connRef {
		_ = r.client.SRem(ctx, connKey(prev), key).Err()
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, key, connRef, r.ttl)
	pipe.SAdd(ctx, connKey(connRef), key)
	pipe.Expire(ctx, connKey(connRef), r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("register %s: %w", key, err)
	}
	observability.PresenceRegistrations.Inc()
	return nil
}

func (r *RedisRegistry) Lookup(ctx context.Context, id string, kind Kind) (string, error) {
	v, err := r.client.Get(ctx, participantKey(kind, id)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotRegistered
	}
	if err != nil {
		return "", fmt.Errorf("lookup %s:%s: %w", kind, id, err)
	}
	return v, nil
}

func (r *RedisRegistry) Deregister(ctx context.Context, connRef string) error {
	members, err := r.client.SMembers(ctx, connKey(connRef)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("deregister %s: %w", connRef, err)
	}
	for _, key := range members {
		// Only delete if the record still points at this connection;
		// a newer registration for the same id must survive.
		v, err := r.client.Get(ctx, key).Result()
		if err != nil || v != connRef {
			continue
		}
		if err := r.client.Del(ctx, key).Err(); err == nil {
			observability.PresenceEvictions.Inc()
		}
	}
	return r.client.Del(ctx, connKey(connRef)).Err()
}

func (r *RedisRegistry) Assign(ctx context.Context, driverID, riderID string) error {
	return r.client.Set(ctx, assignKey(driverID), riderID, r.ttl).Err()
}

func (r *RedisRegistry) AssignedRider(ctx context.Context, driverID string) (string, error) {
	v, err := r.client.Get(ctx, assignKey(driverID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotRegistered
	}
	if err != nil {
		return "", fmt.Errorf("assigned rider for %s: %w", driverID, err)
	}
	return v, nil
}
