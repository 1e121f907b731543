package screening

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Counter tracks request counts per identity key within a trailing window.
// Hit consumes one unit and returns the count including the current request.
type Counter interface {
	Hit(ctx context.Context, window, key string, interval time.Duration) (int64, error)
}

// RedisCounter shares window counts across instances via Redis. The count is
// kept in a key that expires after the interval, so limits hold within one
// window and reset on the next. A fixed window is a coarser approximation
// than the in-memory sliding window but holds up across replicas.
type RedisCounter struct {
	client *redis.Client
	prefix string
}

// NewRedisCounter creates a Redis-backed window counter.
func NewRedisCounter(client *redis.Client, prefix string) *RedisCounter {
	if prefix == "" {
		prefix = "screening"
	}
	return &RedisCounter{client: client, prefix: prefix}
}

// Hit increments the counter for the key, setting the expiry on first hit.
func (c *RedisCounter) Hit(ctx context.Context, window, key string, interval time.Duration) (int64, error) {
	redisKey := fmt.Sprintf("%s:%s:%s", c.prefix, window, key)

	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, interval)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis window hit: %w", err)
	}
	return incr.Val(), nil
}

// MemoryCounter is a process-local sliding window, used when no Redis is
// configured. Counts are exact within the interval: each hit records a
// timestamp and expired timestamps are pruned on access.
type MemoryCounter struct {
	mu      sync.Mutex
	entries map[string][]time.Time
	now     func() time.Time
}

// NewMemoryCounter creates an in-memory window counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		entries: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Hit records the request and returns the count inside the trailing interval.
func (c *MemoryCounter) Hit(_ context.Context, window, key string, interval time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	mapKey := window + ":" + key
	now := c.now()
	cutoff := now.Add(-interval)

	kept := c.entries[mapKey][:0]
	for _, ts := range c.entries[mapKey] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, now)
	c.entries[mapKey] = kept

	return int64(len(kept)), nil
}
