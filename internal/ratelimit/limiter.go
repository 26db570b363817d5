// Package ratelimit limits requests per client IP.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// RedisLimiter is a fixed-window counter shared by every API replica.
type RedisLimiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
	prefix string
	log    *zap.Logger
	now    func() time.Time
}

func NewRedisLimiter(rdb *redis.Client, perMinute int, log *zap.Logger) *RedisLimiter {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisLimiter{rdb: rdb, limit: perMinute, window: time.Minute, prefix: "ratelimit:", log: log, now: time.Now}
}

var incrExpire = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// Allow fails open: a Redis error admits the request and is logged.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	now := l.now()
	slot := now.UnixNano() / int64(l.window)
	windowEnd := time.Unix(0, (slot+1)*int64(l.window))
	k := fmt.Sprintf("%s%s:%d", l.prefix, key, slot)

	n, err := incrExpire.Run(ctx, l.rdb, []string{k}, l.window.Milliseconds()).Int()
	if err != nil {
		l.log.Warn("rate limiter unavailable, allowing request", zap.Error(err))
		return Result{Allowed: true, Limit: l.limit, Remaining: l.limit}, err
	}
	res := Result{Allowed: n <= l.limit, Limit: l.limit, Remaining: max(l.limit-n, 0)}
	if !res.Allowed {
		res.RetryAfter = windowEnd.Sub(now)
	}
	return res, nil
}

// MemoryLimiter is a per-key token bucket for single-replica deployments.
type MemoryLimiter struct {
	limit int
	every rate.Limit

	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

const maxIdleBuckets = 10000

func NewMemoryLimiter(perMinute int) *MemoryLimiter {
	return &MemoryLimiter{
		limit:   perMinute,
		every:   rate.Limit(float64(perMinute) / 60),
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Result, error) {
	now := l.now()
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= maxIdleBuckets {
			l.sweep(now)
		}
		b = &bucket{lim: rate.NewLimiter(l.every, l.limit)}
		l.buckets[key] = b
	}
	b.seen = now
	l.mu.Unlock()

	res := Result{Limit: l.limit}
	if b.lim.AllowN(now, 1) {
		res.Allowed = true
		res.Remaining = int(math.Max(0, math.Floor(b.lim.TokensAt(now))))
		return res, nil
	}
	r := b.lim.ReserveN(now, 1)
	res.RetryAfter = r.DelayFrom(now)
	r.CancelAt(now)
	return res, nil
}

func (l *MemoryLimiter) sweep(now time.Time) {
	for k, b := range l.buckets {
		if now.Sub(b.seen) > time.Minute {
			delete(l.buckets, k)
		}
	}
}
