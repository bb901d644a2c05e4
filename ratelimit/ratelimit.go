// Package ratelimit 提供令牌桶限流，用于保护运维接口等低频高危操作。
//
// 两种后端共享 Limiter 接口：
//   - standalone: 基于 golang.org/x/time/rate 的进程内限流
//   - redis: 基于 Redis + Lua 的分布式限流，多实例共享配额
//
// 基本用法：
//
//	limiter, _ := ratelimit.New(&ratelimit.Config{Driver: ratelimit.DriverRedis},
//	    ratelimit.WithRedis(client), ratelimit.WithLogger(logger))
//	defer limiter.Close()
//
//	allowed, _ := limiter.Allow(ctx, "admin:ops:alice", ratelimit.Limit{Rate: 1, Burst: 5})
//
// Gin 中间件：
//
//	ops.Use(ratelimit.GinMiddleware(limiter, keyFunc, func(*gin.Context) ratelimit.Limit {
//	    return ratelimit.Limit{Rate: 1, Burst: 5}
//	}))
package ratelimit

import (
	"context"

	"github.com/ceyewan/tripguard/clog"
	"github.com/ceyewan/tripguard/metrics"
	"github.com/ceyewan/tripguard/xerrors"
)

// 指标
const (
	// MetricDecisions 限流判定次数，标签: mode, result
	MetricDecisions = "ratelimit_decisions_total"

	LabelMode   = "mode"
	LabelResult = "result"
)

// Limit 令牌桶规则
type Limit struct {
	Rate  float64 `mapstructure:"rate"`  // 每秒生成的令牌数
	Burst int     `mapstructure:"burst"` // 桶容量
}

func result(allowed bool) metrics.Label {
	if allowed {
		return metrics.L(LabelResult, "allowed")
	}
	return metrics.L(LabelResult, "denied")
}

// Valid 规则是否可用
func (l Limit) Valid() bool {
	return l.Rate > 0 && l.Burst > 0
}

// Limiter 限流器，方法并发安全
type Limiter interface {
	// Allow 尝试获取 1 个令牌，不阻塞
	Allow(ctx context.Context, key string, limit Limit) (bool, error)

	// AllowN 尝试获取 n 个令牌，不阻塞
	AllowN(ctx context.Context, key string, limit Limit, n int) (bool, error)

	// Close 释放后台资源，幂等
	Close() error
}

// New 按 cfg.Driver 创建限流器
func New(cfg *Config, opts ...Option) (Limiter, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}
	c := *cfg
	c.setDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	if c.Driver == DriverRedis && o.redis == nil {
		return nil, ErrRedisRequired
	}

	decisions, err := o.meter.Counter(MetricDecisions, "Rate limit decisions by result")
	if err != nil {
		return nil, xerrors.Wrap(err, "ratelimit: create counter")
	}

	o.logger.Info("rate limiter created",
		clog.String("driver", c.Driver),
		clog.String("prefix", c.Prefix))

	if c.Driver == DriverRedis {
		return newDistributed(&c, o, decisions), nil
	}
	return newStandalone(&c, o, decisions), nil
}
