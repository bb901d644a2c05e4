package admin

import (
	"time"

	"github.com/ceyewan/tripguard/ratelimit"
)

// Config 运维 HTTP 服务配置
type Config struct {
	Addr            string        `mapstructure:"addr"` // 默认 :8081
	ServiceName     string        `mapstructure:"service_name"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// OpsRateLimit 每个操作员修改类接口的令牌桶，默认 1/s，突发 5
	OpsRateLimit ratelimit.Limit `mapstructure:"ops_rate_limit"`
}

func (c *Config) setDefaults() {
	if c.Addr == "" {
		c.Addr = ":8081"
	}
	if c.ServiceName == "" {
		c.ServiceName = "tripguard-admin"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 5 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if !c.OpsRateLimit.Valid() {
		c.OpsRateLimit = ratelimit.Limit{Rate: 1, Burst: 5}
	}
}
