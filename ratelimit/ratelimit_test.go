package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/tripguard/clock"
	"github.com/ceyewan/tripguard/testkit"
)

var start = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

// limiterFactories 每个后端用各自的时钟构造
func limiterFactories(t *testing.T) map[string]func(clock.Clock) Limiter {
	t.Helper()
	return map[string]func(clock.Clock) Limiter{
		DriverRedis: func(clk clock.Clock) Limiter {
			_, client := testkit.NewRedisClient(t)
			l, err := New(&Config{Driver: DriverRedis}, WithRedis(client), WithClock(clk),
				WithLogger(testkit.NewLogger()), WithMeter(testkit.NewMeter(t)))
			require.NoError(t, err)
			return l
		},
		DriverStandalone: func(clk clock.Clock) Limiter {
			l, err := New(&Config{}, WithClock(clk), WithLogger(testkit.NewLogger()))
			require.NoError(t, err)
			t.Cleanup(func() { _ = l.Close() })
			return l
		},
	}
}

func TestNew(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrConfigNil)

	_, err = New(&Config{Driver: "etcd"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(&Config{Driver: DriverRedis})
	assert.ErrorIs(t, err, ErrRedisRequired)
}

func TestAllowBurstThenRefill(t *testing.T) {
	for name, newLimiter := range limiterFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clk := clock.NewManual(start)
			l := newLimiter(clk)
			limit := Limit{Rate: 1, Burst: 2}

			for i := 0; i < 2; i++ {
				ok, err := l.Allow(ctx, "admin:ops:alice", limit)
				require.NoError(t, err)
				assert.True(t, ok, "burst request %d", i)
			}
			ok, err := l.Allow(ctx, "admin:ops:alice", limit)
			require.NoError(t, err)
			assert.False(t, ok, "bucket drained")

			ok, err = l.Allow(ctx, "admin:ops:bob", limit)
			require.NoError(t, err)
			assert.True(t, ok, "keys are independent")

			clk.Advance(time.Second)
			ok, err = l.Allow(ctx, "admin:ops:alice", limit)
			require.NoError(t, err)
			assert.True(t, ok, "one token refilled")
			ok, err = l.Allow(ctx, "admin:ops:alice", limit)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestAllowNRejectsOversizedRequest(t *testing.T) {
	for name, newLimiter := range limiterFactories(t) {
		t.Run(name, func(t *testing.T) {
			l := newLimiter(clock.NewManual(start))
			ok, err := l.AllowN(context.Background(), "k", Limit{Rate: 1, Burst: 3}, 4)
			require.NoError(t, err)
			assert.False(t, ok)

			ok, err = l.AllowN(context.Background(), "k", Limit{Rate: 1, Burst: 3}, 3)
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestAllowValidatesInput(t *testing.T) {
	for name, newLimiter := range limiterFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			l := newLimiter(clock.NewManual(start))

			_, err := l.Allow(ctx, "", Limit{Rate: 1, Burst: 1})
			assert.ErrorIs(t, err, ErrKeyEmpty)

			_, err = l.Allow(ctx, "k", Limit{Rate: 0, Burst: 1})
			assert.ErrorIs(t, err, ErrInvalidLimit)

			_, err = l.AllowN(ctx, "k", Limit{Rate: 1, Burst: 1}, 0)
			assert.ErrorIs(t, err, ErrInvalidLimit)
		})
	}
}

func TestStandaloneEvictsIdleBuckets(t *testing.T) {
	clk := clock.NewManual(start)
	l, err := New(&Config{IdleTimeout: time.Minute}, WithClock(clk))
	require.NoError(t, err)
	defer l.Close()
	sl := l.(*standaloneLimiter)

	_, err = sl.Allow(context.Background(), "k", Limit{Rate: 1, Burst: 1})
	require.NoError(t, err)
	assert.Equal(t, 0, sl.evictIdle(clk.Now().Add(30*time.Second)))
	assert.Equal(t, 1, sl.evictIdle(clk.Now().Add(2*time.Minute)))

	ok, err := sl.Allow(context.Background(), "k", Limit{Rate: 1, Burst: 1})
	require.NoError(t, err)
	assert.True(t, ok, "evicted bucket starts full")
}

func TestRedisFailureIsReported(t *testing.T) {
	mr, client := testkit.NewRedisClient(t)
	l, err := New(&Config{Driver: DriverRedis}, WithRedis(client))
	require.NoError(t, err)

	mr.Close()
	_, err = l.Allow(context.Background(), "k", Limit{Rate: 1, Burst: 1})
	assert.Error(t, err)
}

func TestGinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l, err := New(&Config{}, WithClock(clock.NewFixed(start)))
	require.NoError(t, err)
	defer l.Close()

	r := gin.New()
	r.Use(GinMiddleware(l,
		func(c *gin.Context) string { return c.GetHeader("X-Operator") },
		func(*gin.Context) Limit { return Limit{Rate: 0.5, Burst: 1} },
	))
	r.POST("/reset", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	do := func(operator string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/reset", nil)
		if operator != "" {
			req.Header.Set("X-Operator", operator)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusNoContent, do("alice").Code)
	w := do("alice")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "rate limit exceeded")

	assert.Equal(t, http.StatusNoContent, do("bob").Code)
	assert.Equal(t, http.StatusNoContent, do("").Code, "empty key bypasses")
	assert.Equal(t, http.StatusNoContent, do("").Code)
}

func TestGinMiddlewareFailsOpen(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mr, client := testkit.NewRedisClient(t)
	l, err := New(&Config{Driver: DriverRedis}, WithRedis(client))
	require.NoError(t, err)
	mr.Close()

	r := gin.New()
	r.Use(GinMiddleware(l, nil, func(*gin.Context) Limit { return Limit{Rate: 1, Burst: 1} }))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}
