package compensation

import (
	"time"

	"github.com/ceyewan/tripguard/clock"
	"github.com/ceyewan/tripguard/clog"
	"github.com/ceyewan/tripguard/metrics"
)

// Option 协调器选项
type Option func(*options)

type options struct {
	logger  clog.Logger
	meter   metrics.Meter
	clock   clock.Clock
	timeout time.Duration
}

// WithLogger 设置 Logger，自动添加 "compensation" 命名空间
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("compensation")
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

// WithClock 注入时钟，用于审计记录时间
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = clock.OrReal(c)
	}
}

// WithTimeout 单次补偿的总超时，默认 30s
//
// 补偿不随调用方 Context 取消而中止，只受该超时约束。
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}
