package breaker

import (
	"github.com/ceyewan/tripguard/clock"
	"github.com/ceyewan/tripguard/clog"
	"github.com/ceyewan/tripguard/metrics"
)

// Option 组件初始化选项
type Option func(*options)

// StateChangeFunc 状态变更回调，在持有锁之外调用
type StateChangeFunc func(name string, from, to State)

type options struct {
	logger        clog.Logger
	meter         metrics.Meter
	clock         clock.Clock
	onStateChange StateChangeFunc
}

func defaultOptions() *options {
	return &options{
		logger: clog.Discard(),
		meter:  metrics.Discard(),
		clock:  clock.Real(),
	}
}

// WithLogger 设置 Logger，传入 nil 时使用 clog.Discard()
// 内部会自动添加 namespace: "breaker"
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger == nil {
			o.logger = clog.Discard()
		} else {
			o.logger = logger.WithNamespace("breaker")
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

// WithClock 注入时钟，测试中使用 clock.Manual 推进时间
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = clock.OrReal(c)
	}
}

// WithStateChangeHook 注册状态变更回调
func WithStateChangeHook(fn StateChangeFunc) Option {
	return func(o *options) {
		o.onStateChange = fn
	}
}
