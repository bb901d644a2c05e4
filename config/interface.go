// Package config 提供统一的配置加载能力，基于 Viper 实现。
//
// 配置优先级：环境变量 > .env > 环境特定配置 (config.<env>.yaml) > 基础配置。
// 环境由 <PREFIX>_ENV 决定，例如 TRIPGUARD_ENV=prod 会叠加 config.prod.yaml。
//
//	loader, _ := config.New(&config.Config{Paths: []string{"./config"}})
//	if err := loader.Load(ctx); err != nil { ... }
//
//	var cfg app.Config
//	_ = loader.Unmarshal(&cfg)
//
//	ch, _ := loader.Watch(ctx, "alert.slack.webhook_url")
package config

import (
	"context"
	"time"
)

// Loader 配置加载器
type Loader interface {
	// Load 加载配置并启动文件监听
	Load(ctx context.Context) error

	// Get 获取原始配置值
	Get(key string) any

	// SetDefault 设置默认值，必须在 Unmarshal 之前调用
	SetDefault(key string, value any)

	// Unmarshal 将整个配置反序列化到结构体
	Unmarshal(v any) error

	// UnmarshalKey 将指定 Key 的配置反序列化到结构体
	UnmarshalKey(key string, v any) error

	// Watch 监听配置变化，通过 context 取消监听
	Watch(ctx context.Context, key string) (<-chan Event, error)

	// Validate 验证当前配置的有效性
	Validate() error
}

// Event 配置变更事件
type Event struct {
	Key       string
	Value     any
	OldValue  any
	Source    string // "file" | "env"
	Timestamp time.Time
}
