package db

import (
	"time"

	"github.com/ceyewan/tripguard/xerrors"
)

// Config DB 组件配置
type Config struct {
	// Driver 数据库驱动类型: "mysql" 或 "sqlite"，默认 "mysql"
	Driver string `mapstructure:"driver"`

	// SlowThreshold 超过该耗时的 SQL 以 warn 级别记录，默认 200ms
	SlowThreshold time.Duration `mapstructure:"slow_threshold"`

	// EnableTracing 注册 otelgorm 插件，为每条 SQL 创建 span
	EnableTracing bool `mapstructure:"enable_tracing"`

	// AutoMigrate 启动时自动迁移表结构，生产环境通常关闭
	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// setDefaults 设置配置的默认值（内部使用）
func (c *Config) setDefaults() {
	if c.Driver == "" {
		c.Driver = "mysql"
	}
	if c.SlowThreshold <= 0 {
		c.SlowThreshold = 200 * time.Millisecond
	}
}

// validate 验证配置的有效性（内部使用）
func (c *Config) validate() error {
	if c.Driver != "mysql" && c.Driver != "sqlite" {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "unsupported driver: %s (must be 'mysql' or 'sqlite')", c.Driver)
	}
	return nil
}
