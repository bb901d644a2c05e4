package idem

import (
	"time"

	"github.com/ceyewan/tripguard/xerrors"
)

// DriverType 存储后端
type DriverType string

const (
	DriverRedis  DriverType = "redis"
	DriverMemory DriverType = "memory" // 仅单进程
)

// Config 幂等守卫配置
type Config struct {
	// Driver 默认 redis
	Driver DriverType `mapstructure:"driver"`

	// Prefix 存储键前缀，默认 "tripguard:idem:"
	Prefix string `mapstructure:"prefix"`

	// ResultTTL 成功结果保留时间，默认 24h
	ResultTTL time.Duration `mapstructure:"result_ttl"`

	// LockTTL 处理中锁的超时，默认 2m，应大于一次完整预订的耗时
	LockTTL time.Duration `mapstructure:"lock_ttl"`
}

func (c *Config) setDefaults() {
	if c.Driver == "" {
		c.Driver = DriverRedis
	}
	if c.Prefix == "" {
		c.Prefix = "tripguard:idem:"
	}
	if c.ResultTTL <= 0 {
		c.ResultTTL = 24 * time.Hour
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 2 * time.Minute
	}
}

func (c *Config) validate() error {
	switch c.Driver {
	case DriverRedis, DriverMemory:
		return nil
	default:
		return xerrors.Wrapf(ErrInvalidConfig, "unsupported driver %q", c.Driver)
	}
}
