package app

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ceyewan/tripguard/admin"
	"github.com/ceyewan/tripguard/alert"
	"github.com/ceyewan/tripguard/auth"
	"github.com/ceyewan/tripguard/breaker"
	"github.com/ceyewan/tripguard/clog"
	"github.com/ceyewan/tripguard/config"
	"github.com/ceyewan/tripguard/connector"
	"github.com/ceyewan/tripguard/db"
	"github.com/ceyewan/tripguard/idem"
	"github.com/ceyewan/tripguard/metrics"
	"github.com/ceyewan/tripguard/ratelimit"
	"github.com/ceyewan/tripguard/trace"
	"github.com/ceyewan/tripguard/xerrors"
)

// Config 应用配置，对应 config.yaml 的顶层结构
//
//	app:
//	  name: tripguard
//	  env: prod
//	database:
//	  driver: mysql
//	  mysql: {host: 127.0.0.1, username: root, database: tripguard}
//	redis:
//	  addr: 127.0.0.1:6379
//	breakers:
//	  payment: {preset: critical_api, recovery_timeout: 90s}
//	alert:
//	  high_value_threshold: "1000"
//	  slack: {webhook_url: https://hooks.slack.com/...}
type Config struct {
	App          Info                        `mapstructure:"app"`
	Log          clog.Config                 `mapstructure:"log"`
	Metrics      metrics.Config              `mapstructure:"metrics"`
	Trace        trace.Config                `mapstructure:"trace"`
	Database     DatabaseConfig              `mapstructure:"database"`
	Redis        *connector.RedisConfig      `mapstructure:"redis"` // 为空时开关使用静态值，幂等使用内存
	NATS         *connector.NATSConfig       `mapstructure:"nats"`  // 为空时不启用邮件升级
	Breakers     map[string]breaker.Settings `mapstructure:"breakers"`
	Offer        OfferConfig                 `mapstructure:"offer"`
	Compensation CompensationConfig          `mapstructure:"compensation"`
	Alert        AlertConfig                 `mapstructure:"alert"`
	Flags        FlagsConfig                 `mapstructure:"flags"`
	Idem         idem.Config                 `mapstructure:"idem"`
	RateLimit    ratelimit.Config            `mapstructure:"ratelimit"`
	Admin        admin.Config                `mapstructure:"admin"`
	Auth         *auth.Config                `mapstructure:"auth"` // 为空时运维接口只读
}

// Info 应用元信息
type Info struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

// DatabaseConfig 数据库配置，Driver 决定使用 MySQL 还是 SQLite
type DatabaseConfig struct {
	db.Config `mapstructure:",squash"`
	MySQL     connector.MySQLConfig  `mapstructure:"mysql"`
	SQLite    connector.SQLiteConfig `mapstructure:"sqlite"`
}

// OfferConfig 报价校验配置
type OfferConfig struct {
	BatchConcurrency int `mapstructure:"batch_concurrency"`
}

// CompensationConfig 补偿配置
type CompensationConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// AlertConfig 告警配置
type AlertConfig struct {
	// HighValueThreshold 十进制字符串，默认 "1000"
	HighValueThreshold string            `mapstructure:"high_value_threshold"`
	CriticalPatterns   []string          `mapstructure:"critical_patterns"`
	SuccessFlagKey     string            `mapstructure:"success_flag_key"`
	DispatchTimeout    time.Duration     `mapstructure:"dispatch_timeout"`
	Slack              alert.SlackConfig `mapstructure:"slack"`
	Email              alert.EmailConfig `mapstructure:"email"`
}

func (c AlertConfig) managerConfig() (*alert.Config, error) {
	out := &alert.Config{
		CriticalPatterns: c.CriticalPatterns,
		SuccessFlagKey:   c.SuccessFlagKey,
		DispatchTimeout:  c.DispatchTimeout,
	}
	if c.HighValueThreshold != "" {
		v, err := decimal.NewFromString(c.HighValueThreshold)
		if err != nil {
			return nil, xerrors.Wrapf(xerrors.ErrInvalidInput, "alert.high_value_threshold %q", c.HighValueThreshold)
		}
		out.HighValueThreshold = v
	}
	return out, nil
}

// FlagsConfig 开关配置
type FlagsConfig struct {
	HashKey  string          `mapstructure:"hash_key"`
	CacheTTL time.Duration   `mapstructure:"cache_ttl"`
	Static   map[string]bool `mapstructure:"static"` // 未配置 Redis 时使用
}

func (c *Config) setDefaults() {
	if c.App.Name == "" {
		c.App.Name = "tripguard"
	}
	if c.Metrics.ServiceName == "" {
		c.Metrics.ServiceName = c.App.Name
	}
	if c.Metrics.Version == "" {
		c.Metrics.Version = c.App.Version
	}
	if c.Trace.ServiceName == "" {
		c.Trace.ServiceName = c.App.Name
	}
	if c.Admin.ServiceName == "" {
		c.Admin.ServiceName = c.App.Name + "-admin"
	}
	if c.Idem.Driver == "" {
		c.Idem.Driver = idem.DriverMemory
		if c.Redis != nil {
			c.Idem.Driver = idem.DriverRedis
		}
	}
	if c.RateLimit.Driver == "" {
		c.RateLimit.Driver = ratelimit.DriverStandalone
		if c.Redis != nil {
			c.RateLimit.Driver = ratelimit.DriverRedis
		}
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "mysql", "sqlite":
	default:
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "database.driver %q", c.Database.Driver)
	}
	if c.Idem.Driver == idem.DriverRedis && c.Redis == nil {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "idem.driver redis requires redis")
	}
	if c.RateLimit.Driver == ratelimit.DriverRedis && c.Redis == nil {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "ratelimit.driver redis requires redis")
	}
	if len(c.Alert.Email.Recipients) > 0 && c.NATS == nil {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "alert.email requires nats")
	}
	return nil
}

// Load 通过 loader 读取配置文件、.env 与 TRIPGUARD_ 环境变量
func Load(ctx context.Context, loader config.Loader) (*Config, error) {
	loader.SetDefault("app.name", "tripguard")
	loader.SetDefault("log.level", "info")
	loader.SetDefault("log.format", "json")
	loader.SetDefault("log.output", "stdout")
	loader.SetDefault("database.driver", "mysql")
	loader.SetDefault("admin.addr", ":8081")

	if err := loader.Load(ctx); err != nil {
		return nil, xerrors.Wrap(err, "load config")
	}
	var cfg Config
	if err := loader.Unmarshal(&cfg); err != nil {
		return nil, xerrors.Wrap(err, "unmarshal config")
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
