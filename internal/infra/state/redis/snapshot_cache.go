package redisstate

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// SnapshotCache is a thin Redis cache in front of the durable snapshot
// repository, mirroring the cache-first strategy used for board state.
type SnapshotCache struct {
	client    *redis.Client
	keyPrefix string
}

func NewSnapshotCache(client *redis.Client, keyPrefix string) *SnapshotCache {
	if client == nil {
		panic("redis client cannot be nil for SnapshotCache")
	}
	if keyPrefix == "" {
		keyPrefix = "bs:"
	}
	return &SnapshotCache{client: client, keyPrefix: keyPrefix}
}

func (c *SnapshotCache) key(roomID string) string {
	return fmt.Sprintf("%ssnapshot:%s", c.keyPrefix, roomID)
}

// Get returns the cached payload, or an error that IsCacheMiss recognizes
// on a miss.
func (c *SnapshotCache) Get(ctx context.Context, roomID string) ([]byte, error) {
	payload, err := c.client.Get(ctx, c.key(roomID)).Bytes()
	if err == redis.Nil {
		return nil, errCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redisstate: snapshot cache get: %w", err)
	}
	return payload, nil
}

func (c *SnapshotCache) Set(ctx context.Context, roomID string, payload []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.key(roomID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redisstate: snapshot cache set: %w", err)
	}
	return nil
}

var errCacheMiss = cacheMiss{}

type cacheMiss struct{}

func (cacheMiss) Error() string { return "redisstate: snapshot cache miss" }

// IsCacheMiss reports whether err was returned because of a cache miss,
// as opposed to a genuine Redis failure.
func IsCacheMiss(err error) bool {
	_, ok := err.(cacheMiss)
	return ok
}
