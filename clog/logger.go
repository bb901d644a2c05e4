// Package clog 提供基于 slog 的结构化日志组件，支持命名空间和 Context 字段提取。
//
// 基本使用：
//
//	logger, _ := clog.New(&clog.Config{Level: "info", Format: "json"})
//	logger.Info("booking confirmed", clog.String("booking_id", id))
//
// 组件内部通过 WithNamespace 派生子 Logger：
//
//	logger = logger.WithNamespace("compensation")
//
// 带 Context 的日志会自动提取 trip_request_id、booking_id、user_id 以及 OTel trace_id：
//
//	ctx = clog.WithTripRequestID(ctx, tripID)
//	logger.InfoContext(ctx, "saga compensation started")
package clog

import "context"

// Logger 日志接口
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)

	// 带 Context 的版本会提取 Context 中配置的字段
	DebugContext(ctx context.Context, msg string, fields ...Field)
	InfoContext(ctx context.Context, msg string, fields ...Field)
	WarnContext(ctx context.Context, msg string, fields ...Field)
	ErrorContext(ctx context.Context, msg string, fields ...Field)
	FatalContext(ctx context.Context, msg string, fields ...Field)

	// With 创建带预设字段的子 Logger
	With(fields ...Field) Logger

	// WithNamespace 追加命名空间，以 "." 连接，例如 "tripguard.alert"
	WithNamespace(parts ...string) Logger

	// SetLevel 运行时调整日志级别
	SetLevel(level Level) error

	Flush()
}
