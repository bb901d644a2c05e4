package db

import (
	"go.opentelemetry.io/otel/trace"

	"github.com/ceyewan/tripguard/clog"
)

// Option 配置 DB 实例的选项
type Option func(*options)

type options struct {
	logger     clog.Logger
	tracer     trace.TracerProvider
	silentMode bool // 静默模式，禁用 SQL 日志输出
}

// WithLogger 注入日志记录器
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("db")
		}
	}
}

// WithTracer 注入 TracerProvider，未设置时 otelgorm 使用全局 provider
func WithTracer(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracer = tp
	}
}

// WithSilentMode 启用静默模式，禁用 SQL 日志输出
// 适用于测试环境或不需要 SQL 日志的场景
func WithSilentMode() Option {
	return func(o *options) {
		o.silentMode = true
	}
}
