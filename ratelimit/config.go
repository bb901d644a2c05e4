package ratelimit

import (
	"time"

	"github.com/ceyewan/tripguard/xerrors"
)

// 后端类型
const (
	DriverStandalone = "standalone"
	DriverRedis      = "redis"
)

// Config 限流器配置
type Config struct {
	Driver string `mapstructure:"driver"` // standalone | redis，默认 standalone

	// Prefix Redis Key 前缀，默认 "tripguard:ratelimit:"
	Prefix string `mapstructure:"prefix"`

	// CleanupInterval 与 IdleTimeout 仅作用于 standalone，回收长时间未访问的桶
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
}

func (c *Config) setDefaults() {
	if c.Driver == "" {
		c.Driver = DriverStandalone
	}
	if c.Prefix == "" {
		c.Prefix = "tripguard:ratelimit:"
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Minute
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 5 * time.Minute
	}
}

func (c *Config) validate() error {
	switch c.Driver {
	case DriverStandalone, DriverRedis:
		return nil
	default:
		return xerrors.Wrapf(ErrInvalidConfig, "unknown driver %q", c.Driver)
	}
}
