package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redis_rate/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalRateLimiter(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewLocalRateLimiter()
	limiter.now = func() time.Time { return now }
	limit := redis_rate.PerMinute(3)

	for i := 0; i < 3; i++ {
		res, err := limiter.Allow(context.Background(), "ip-a", limit)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Allowed, "request %d", i)
		assert.Equal(t, 2-i, res.Remaining)
	}

	res, err := limiter.Allow(context.Background(), "ip-a", limit)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Allowed)
	assert.InDelta(t, float64(20*time.Second), float64(res.RetryAfter), float64(time.Millisecond))

	// other keys have their own bucket
	res, err = limiter.Allow(context.Background(), "ip-b", limit)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Allowed)

	// one token refills every 20s
	now = now.Add(21 * time.Second)
	res, err = limiter.Allow(context.Background(), "ip-a", limit)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Allowed)
}

func TestLocalRateLimiter_BoundedKeys(t *testing.T) {
	limiter := NewLocalRateLimiter()
	limiter.maxKeys = 2
	limit := redis_rate.PerMinute(3)

	for _, key := range []string{"ip-a", "ip-b"} {
		res, err := limiter.Allow(context.Background(), key, limit)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Allowed, key)
	}

	// a new key does not fit while both buckets are live
	res, err := limiter.Allow(context.Background(), "ip-c", limit)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Allowed)
	assert.Equal(t, time.Minute, res.RetryAfter)
	assert.Equal(t, 2, limiter.Len())

	// known keys keep their buckets
	res, err = limiter.Allow(context.Background(), "ip-a", limit)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Allowed)
}

func TestLocalRateLimiter_IdleBucketsExpire(t *testing.T) {
	limiter := NewLocalRateLimiter()
	limiter.maxKeys = 1
	// a bucket of one refills within a second, the shortest idle expiry
	limit := redis_rate.Limit{Rate: 1, Burst: 1, Period: 100 * time.Millisecond}

	res, err := limiter.Allow(context.Background(), "ip-a", limit)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Allowed)

	res, err = limiter.Allow(context.Background(), "ip-b", limit)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Allowed)

	require.Eventually(t, func() bool {
		res, err := limiter.Allow(context.Background(), "ip-b", limit)
		return err == nil && res.Allowed == 1
	}, 3*time.Second, 50*time.Millisecond)
	assert.Equal(t, 1, limiter.Len())
}
