package clog

import "bytes"

// ContextField 定义从 Context 中提取字段的规则
type ContextField struct {
	Key       any    // Context 中存储的键
	FieldName string // 日志中的字段名
}

// Option 函数式选项
type Option func(*options)

type options struct {
	namespaceParts        []string
	contextFields         []ContextField
	buffer                *bytes.Buffer // 测试用
	enableTraceExtraction bool
}

// WithNamespace 设置日志命名空间，多级以 "." 连接
func WithNamespace(parts ...string) Option {
	return func(o *options) {
		o.namespaceParts = append(o.namespaceParts, parts...)
	}
}

// WithContextField 添加自定义的 Context 字段提取规则
func WithContextField(key any, fieldName string) Option {
	return func(o *options) {
		o.contextFields = append(o.contextFields, ContextField{Key: key, FieldName: fieldName})
	}
}

// WithBookingContext 提取预订链路的标准字段：trip_request_id、booking_id、user_id
func WithBookingContext() Option {
	return func(o *options) {
		o.contextFields = append(o.contextFields,
			ContextField{Key: tripRequestIDKey{}, FieldName: "trip_request_id"},
			ContextField{Key: bookingIDKey{}, FieldName: "booking_id"},
			ContextField{Key: userIDKey{}, FieldName: "user_id"},
		)
	}
}

// WithTraceContext 开启 OpenTelemetry trace_id/span_id 自动提取
func WithTraceContext() Option {
	return func(o *options) {
		o.enableTraceExtraction = true
	}
}

func applyOptions(opts ...Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
