package alert

import (
	"github.com/ceyewan/tripguard/clock"
	"github.com/ceyewan/tripguard/clog"
	"github.com/ceyewan/tripguard/featureflag"
	"github.com/ceyewan/tripguard/metrics"
)

// Option Manager 选项
type Option func(*options)

type options struct {
	logger clog.Logger
	meter  metrics.Meter
	clock  clock.Clock
	flags  featureflag.Provider
	slack  Channel
	email  Channel
}

// WithLogger 设置 Logger，自动添加 "alert" 命名空间
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("alert")
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

// WithClock 注入时钟，用于补全缺失的时间戳
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = clock.OrReal(c)
	}
}

// WithFlags 成功告警开关的数据源，未设置时成功告警总是发送
func WithFlags(p featureflag.Provider) Option {
	return func(o *options) {
		o.flags = p
	}
}

// WithSlack 设置 Slack 通道，nil 表示禁用
func WithSlack(ch Channel) Option {
	return func(o *options) {
		o.slack = ch
	}
}

// WithEmail 设置邮件升级通道，nil 表示禁用
func WithEmail(ch Channel) Option {
	return func(o *options) {
		o.email = ch
	}
}
