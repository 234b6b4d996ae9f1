package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis_rate/v9"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

const (
	localLimiterMaxKeys    = 10_000
	localLimiterSweepEvery = time.Minute
)

// LocalRateLimiter is an in-process RequestRateLimiter, used when no redis is
// configured. Limits are token buckets per key. A bucket expires once it has
// been idle long enough to be full again, and at most maxKeys buckets are
// tracked: new keys beyond that are limited until expired ones are swept.
type LocalRateLimiter struct {
	mu        sync.Mutex
	limiters  *cache.Cache
	maxKeys   int
	lastSweep time.Time
	now       func() time.Time
}

func NewLocalRateLimiter() *LocalRateLimiter {
	return &LocalRateLimiter{
		// no janitor goroutine, expired buckets are swept from Allow
		limiters: cache.New(cache.NoExpiration, 0),
		maxKeys:  localLimiterMaxKeys,
		now:      time.Now,
	}
}

func (l *LocalRateLimiter) Allow(_ context.Context, key string, limit redis_rate.Limit) (*redis_rate.Result, error) {
	limiter, ok := l.limiter(key, limit)
	if !ok {
		return &redis_rate.Result{
			Limit:      limit,
			Allowed:    0,
			Remaining:  0,
			RetryAfter: limit.Period,
			ResetAfter: limit.Period,
		}, nil
	}

	now := l.now()
	reservation := limiter.ReserveN(now, 1)
	if delay := reservation.DelayFrom(now); !reservation.OK() || delay > 0 {
		reservation.CancelAt(now)
		if !reservation.OK() {
			delay = limit.Period
		}
		return &redis_rate.Result{
			Limit:      limit,
			Allowed:    0,
			Remaining:  0,
			RetryAfter: delay,
			ResetAfter: limit.Period,
		}, nil
	}

	return &redis_rate.Result{
		Limit:      limit,
		Allowed:    1,
		Remaining:  int(limiter.TokensAt(now)),
		RetryAfter: -1,
	}, nil
}

// Len is the number of tracked buckets, expired ones included until swept.
func (l *LocalRateLimiter) Len() int {
	return l.limiters.ItemCount()
}

func (l *LocalRateLimiter) limiter(key string, limit redis_rate.Limit) (*rate.Limiter, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= localLimiterSweepEvery {
		l.limiters.DeleteExpired()
		l.lastSweep = now
	}

	every := limit.Period / time.Duration(max(limit.Rate, 1))
	burst := max(limit.Burst, 1)
	idleTTL := max(every*time.Duration(burst), time.Second)

	if cached, found := l.limiters.Get(key); found {
		limiter := cached.(*rate.Limiter)
		l.limiters.Set(key, limiter, idleTTL)
		return limiter, true
	}

	if l.limiters.ItemCount() >= l.maxKeys {
		l.limiters.DeleteExpired()
		if l.limiters.ItemCount() >= l.maxKeys {
			return nil, false
		}
	}

	limiter := rate.NewLimiter(rate.Every(every), burst)
	l.limiters.Set(key, limiter, idleTTL)
	return limiter, true
}
