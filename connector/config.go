package connector

import (
	"fmt"
	"time"
)

const defaultName = "default"

// fallback 零值时写入默认值
func fallback[T comparable](v *T, def T) {
	var zero T
	if *v == zero {
		*v = def
	}
}

// required 返回第一个为空的必填项
func required(fields ...[2]string) error {
	for _, f := range fields {
		if f[1] == "" {
			return fmt.Errorf("缺少必填项 %s", f[0])
		}
	}
	return nil
}

// MySQLConfig 订单库连接配置，DSN 非空时忽略拆分字段
type MySQLConfig struct {
	Name     string `mapstructure:"name"`
	DSN      string `mapstructure:"dsn"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"` // 默认 3306
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`

	Charset         string        `mapstructure:"charset"`           // 默认 utf8mb4
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`   // 写入 DSN 的 timeout 参数，默认 5s
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`    // 默认 10
	MaxOpenConns    int           `mapstructure:"max_open_conns"`    // 默认 50
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"` // 默认 1h
}

func (c *MySQLConfig) validate() error {
	fallback(&c.Name, defaultName)
	fallback(&c.Port, 3306)
	fallback(&c.Charset, "utf8mb4")
	fallback(&c.ConnectTimeout, 5*time.Second)
	fallback(&c.MaxIdleConns, 10)
	fallback(&c.MaxOpenConns, 50)
	fallback(&c.ConnMaxLifetime, time.Hour)

	if c.DSN != "" {
		return nil
	}
	if c.Port < 0 {
		return fmt.Errorf("端口 %d 非法", c.Port)
	}
	return required(
		[2]string{"host", c.Host},
		[2]string{"username", c.Username},
		[2]string{"database", c.Database},
	)
}

func (c *MySQLConfig) dsn() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=True&loc=UTC&timeout=%s",
		c.Username, c.Password, c.Host, c.Port, c.Database, c.Charset, c.ConnectTimeout)
}

// SQLiteConfig 本地运行与测试使用的库，内存库写作 "file:<name>?mode=memory&cache=shared"
type SQLiteConfig struct {
	Name         string `mapstructure:"name"`
	Path         string `mapstructure:"path"`
	MaxOpenConns int    `mapstructure:"max_open_conns"` // 默认 1，SQLite 写入串行
}

func (c *SQLiteConfig) validate() error {
	fallback(&c.Name, defaultName)
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 1
	}
	return required([2]string{"path", c.Path})
}

// RedisConfig 特性开关、幂等记录与限流共用的 Redis
type RedisConfig struct {
	Name     string `mapstructure:"name"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	MaxRetries   int           `mapstructure:"max_retries"`    // 默认 3，-1 关闭重试
	PoolSize     int           `mapstructure:"pool_size"`      // 默认 10
	MinIdleConns int           `mapstructure:"min_idle_conns"` // 默认 0
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`   // 默认 5s
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`   // 默认 3s
	WriteTimeout time.Duration `mapstructure:"write_timeout"`  // 默认 3s
}

func (c *RedisConfig) validate() error {
	fallback(&c.Name, defaultName)
	fallback(&c.MaxRetries, 3)
	if c.PoolSize <= 0 {
		c.PoolSize = 10
	}
	if c.MinIdleConns < 0 {
		c.MinIdleConns = 0
	}
	fallback(&c.DialTimeout, 5*time.Second)
	fallback(&c.ReadTimeout, 3*time.Second)
	fallback(&c.WriteTimeout, 3*time.Second)

	if c.DB < 0 {
		return fmt.Errorf("db 编号 %d 非法", c.DB)
	}
	return required([2]string{"addr", c.Addr})
}

// NATSConfig 邮件升级通道使用的 NATS
type NATSConfig struct {
	Name     string `mapstructure:"name"`
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Token    string `mapstructure:"token"`

	Timeout       time.Duration `mapstructure:"timeout"`        // 默认 5s
	MaxReconnects int           `mapstructure:"max_reconnects"` // 默认 60
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"` // 默认 2s
	PingInterval  time.Duration `mapstructure:"ping_interval"`  // 默认 2m
	MaxPingsOut   int           `mapstructure:"max_pings_out"`  // 默认 2
}

func (c *NATSConfig) validate() error {
	fallback(&c.Name, defaultName)
	fallback(&c.Timeout, 5*time.Second)
	fallback(&c.MaxReconnects, 60)
	fallback(&c.ReconnectWait, 2*time.Second)
	fallback(&c.PingInterval, 2*time.Minute)
	fallback(&c.MaxPingsOut, 2)
	return required([2]string{"url", c.URL})
}
