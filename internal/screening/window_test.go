package screening

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCounterSlidingWindow(t *testing.T) {
	c := NewMemoryCounter()
	now := time.Now()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		n, err := c.Hit(ctx, "signup", "k", 10*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(i), n)
	}

	// Entries outside the trailing window are pruned
	now = now.Add(11 * time.Minute)
	n, err := c.Hit(ctx, "signup", "k", 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMemoryCounterIsolatesKeysAndWindows(t *testing.T) {
	c := NewMemoryCounter()
	ctx := context.Background()

	n, err := c.Hit(ctx, "signup", "a", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = c.Hit(ctx, "signup", "b", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "different key gets its own count")

	n, err = c.Hit(ctx, "auth", "a", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "different window gets its own count")
}

func TestRedisCounterIncrements(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	c := NewRedisCounter(client, "test")
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		n, err := c.Hit(ctx, "signup", "k", 10*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(i), n)
	}

	// Count resets after the window expires
	mr.FastForward(11 * time.Minute)
	n, err := c.Hit(ctx, "signup", "k", 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRedisCounterErrorsWhenDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	mr.Close()

	c := NewRedisCounter(client, "test")
	_, err := c.Hit(context.Background(), "signup", "k", time.Minute)
	assert.Error(t, err)
}
