package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ceyewan/tripguard/clock"
	"github.com/ceyewan/tripguard/clog"
	"github.com/ceyewan/tripguard/metrics"
)

// bucket 单个 key 的令牌桶，记录最后访问时间用于回收
type bucket struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	lastSeen time.Time
}

type standaloneLimiter struct {
	cfg       *Config
	logger    clog.Logger
	clock     clock.Clock
	decisions metrics.Counter
	buckets   sync.Map // key -> *bucket

	stopOnce sync.Once
	stopCh   chan struct{}
}

func newStandalone(cfg *Config, o *options, decisions metrics.Counter) *standaloneLimiter {
	l := &standaloneLimiter{
		cfg:       cfg,
		logger:    o.logger,
		clock:     o.clock,
		decisions: decisions,
		stopCh:    make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

func (l *standaloneLimiter) Allow(ctx context.Context, key string, limit Limit) (bool, error) {
	return l.AllowN(ctx, key, limit, 1)
}

func (l *standaloneLimiter) AllowN(ctx context.Context, key string, limit Limit, n int) (bool, error) {
	if key == "" {
		return false, ErrKeyEmpty
	}
	if !limit.Valid() || n <= 0 {
		return false, ErrInvalidLimit
	}

	now := l.clock.Now()
	b := l.bucket(key, limit, now)

	b.mu.Lock()
	allowed := b.limiter.AllowN(now, n)
	b.lastSeen = now
	b.mu.Unlock()

	l.decisions.Inc(ctx, metrics.L(LabelMode, DriverStandalone), result(allowed))
	if !allowed {
		l.logger.DebugContext(ctx, "rate limited",
			clog.String("key", key),
			clog.Float64("rate", limit.Rate),
			clog.Int("burst", limit.Burst))
	}
	return allowed, nil
}

// bucket 规则变化时使用新的桶
func (l *standaloneLimiter) bucket(key string, limit Limit, now time.Time) *bucket {
	cacheKey := fmt.Sprintf("%s:%v:%d", key, limit.Rate, limit.Burst)
	if v, ok := l.buckets.Load(cacheKey); ok {
		return v.(*bucket)
	}
	b := &bucket{
		limiter:  rate.NewLimiter(rate.Limit(limit.Rate), limit.Burst),
		lastSeen: now,
	}
	actual, _ := l.buckets.LoadOrStore(cacheKey, b)
	return actual.(*bucket)
}

func (l *standaloneLimiter) cleanupLoop() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.evictIdle(l.clock.Now())
		case <-l.stopCh:
			return
		}
	}
}

// evictIdle 回收超过 IdleTimeout 未访问的桶，返回回收数量
func (l *standaloneLimiter) evictIdle(now time.Time) int {
	count := 0
	l.buckets.Range(func(key, value any) bool {
		b := value.(*bucket)
		b.mu.Lock()
		idle := now.Sub(b.lastSeen)
		b.mu.Unlock()
		if idle > l.cfg.IdleTimeout {
			l.buckets.Delete(key)
			count++
		}
		return true
	})
	if count > 0 {
		l.logger.Debug("evicted idle buckets", clog.Int("count", count))
	}
	return count
}

func (l *standaloneLimiter) Close() error {
	l.stopOnce.Do(func() { close(l.stopCh) })
	return nil
}
