package booking

import (
	"github.com/ceyewan/tripguard/breaker"
	"github.com/ceyewan/tripguard/clock"
	"github.com/ceyewan/tripguard/clog"
	"github.com/ceyewan/tripguard/idem"
	"github.com/ceyewan/tripguard/metrics"
)

// Option Orchestrator 选项
type Option func(*options)

type options struct {
	logger   clog.Logger
	meter    metrics.Meter
	clock    clock.Clock
	breakers map[string]breaker.Settings
	guard    *idem.Guard
}

// WithLogger 设置 Logger，自动添加 "booking" 命名空间
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("booking")
		}
	}
}

// WithMeter 设置指标
func WithMeter(meter metrics.Meter) Option {
	return func(o *options) {
		if meter != nil {
			o.meter = meter
		}
	}
}

// WithClock 注入时钟
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = clock.OrReal(c)
	}
}

// WithBreakerSettings 覆盖各依赖熔断器的配置，key 为熔断器名称
func WithBreakerSettings(settings map[string]breaker.Settings) Option {
	return func(o *options) {
		o.breakers = settings
	}
}

// WithIdempotency 按 BookingRequestID 去重：并发的重复尝试被拒绝，已确认的尝试直接回放结果
func WithIdempotency(guard *idem.Guard) Option {
	return func(o *options) {
		o.guard = guard
	}
}
