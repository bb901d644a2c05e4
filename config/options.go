package config

import "github.com/ceyewan/tripguard/clog"

// Option 加载器选项
type Option func(*options)

type options struct {
	logger     clog.Logger
	allowEmpty bool
}

// WithLogger 注入日志记录器
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("config")
		}
	}
}

// WithAllowEmpty 允许没有任何配置来源，全部依赖默认值
func WithAllowEmpty() Option {
	return func(o *options) {
		o.allowEmpty = true
	}
}
