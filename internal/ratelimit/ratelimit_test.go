package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisLimiter(t *testing.T, limit int) (*RedisLimiter, *miniredis.Miniredis, *time.Time) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	now := time.Date(2025, 1, 1, 10, 0, 10, 0, time.UTC)
	l := NewRedisLimiter(rdb, limit, nil)
	l.now = func() time.Time { return now }
	return l, mr, &now
}

func TestRedisLimiterFixedWindow(t *testing.T) {
	l, _, now := newRedisLimiter(t, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := l.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 2-i, res.Remaining)
	}
	res, err := l.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 50*time.Second, res.RetryAfter)

	other, err := l.Allow(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, other.Allowed, "keys are independent")

	*now = now.Add(time.Minute)
	res, err = l.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, res.Allowed, "new window")
}

func TestRedisLimiterFailsOpen(t *testing.T) {
	l, mr, _ := newRedisLimiter(t, 1)
	mr.Close()

	res, err := l.Allow(context.Background(), "10.0.0.1")
	assert.Error(t, err)
	assert.True(t, res.Allowed)
}

func TestMemoryLimiter(t *testing.T) {
	l := NewMemoryLimiter(2)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	r1, _ := l.Allow(ctx, "a")
	r2, _ := l.Allow(ctx, "a")
	r3, _ := l.Allow(ctx, "a")
	assert.True(t, r1.Allowed)
	assert.True(t, r2.Allowed)
	assert.Equal(t, 0, r2.Remaining)
	assert.False(t, r3.Allowed)
	assert.InDelta(t, 30*time.Second, r3.RetryAfter, float64(time.Second))

	now = now.Add(31 * time.Second)
	r4, _ := l.Allow(ctx, "a")
	assert.True(t, r4.Allowed)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware(NewMemoryLimiter(1), "/health"))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/api/v1/tickets", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "192.168.1.9:5555"
		r.ServeHTTP(w, req)
		return w
	}

	first := do("/api/v1/tickets")
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Limit"))

	second := do("/api/v1/tickets")
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, second.Body.String())
	assert.NotEmpty(t, second.Header().Get("Retry-After"))

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, do("/health").Code)
	}
}
