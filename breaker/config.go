package breaker

import (
	"fmt"
	"strings"
	"time"
)

// Config 熔断器配置
//
//	breakers:
//	  payment:
//	    preset: critical_api
//	  search:
//	    failure_threshold: 10
//	    recovery_timeout: 30s
type Config struct {
	// FailureThreshold 连续失败次数阈值，同时决定失败率阈值 FailureThreshold/MinimumRequests
	FailureThreshold int `mapstructure:"failure_threshold" json:"failure_threshold"`

	// RecoveryTimeout 打开状态持续时间，之后进入半开探测
	RecoveryTimeout time.Duration `mapstructure:"recovery_timeout" json:"recovery_timeout"`

	// MonitoringPeriod 失败率统计窗口，历史记录保留两倍窗口
	MonitoringPeriod time.Duration `mapstructure:"monitoring_period" json:"monitoring_period"`

	// MinimumRequests 触发熔断前的最小请求数
	MinimumRequests int `mapstructure:"minimum_requests" json:"minimum_requests"`

	// SuccessThreshold 半开状态下关闭熔断所需的成功次数，同时限制并发探测数
	SuccessThreshold int `mapstructure:"success_threshold" json:"success_threshold"`
}

func (c *Config) validate() error {
	if c == nil {
		return ErrConfigNil
	}
	switch {
	case c.FailureThreshold <= 0:
		return fmt.Errorf("%w: failure_threshold must be positive", ErrInvalidConfig)
	case c.RecoveryTimeout <= 0:
		return fmt.Errorf("%w: recovery_timeout must be positive", ErrInvalidConfig)
	case c.MonitoringPeriod <= 0:
		return fmt.Errorf("%w: monitoring_period must be positive", ErrInvalidConfig)
	case c.MinimumRequests <= 0:
		return fmt.Errorf("%w: minimum_requests must be positive", ErrInvalidConfig)
	case c.SuccessThreshold <= 0:
		return fmt.Errorf("%w: success_threshold must be positive", ErrInvalidConfig)
	}
	return nil
}

// failureRateThreshold 窗口失败率阈值
func (c *Config) failureRateThreshold() float64 {
	return float64(c.FailureThreshold) / float64(c.MinimumRequests)
}

// 预设名称
const (
	PresetCriticalAPI = "critical_api"
	PresetSearchAPI   = "search_api"
	PresetNonCritical = "non_critical"
)

// CriticalAPI 支付、出票等关键外部接口：最严格
func CriticalAPI() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		MonitoringPeriod: 120 * time.Second,
		MinimumRequests:  10,
		SuccessThreshold: 3,
	}
}

// SearchAPI 搜索类只读接口：较宽松
func SearchAPI() Config {
	return Config{
		FailureThreshold: 10,
		RecoveryTimeout:  30 * time.Second,
		MonitoringPeriod: 60 * time.Second,
		MinimumRequests:  5,
		SuccessThreshold: 2,
	}
}

// NonCritical 非关键服务：最宽松
func NonCritical() Config {
	return Config{
		FailureThreshold: 15,
		RecoveryTimeout:  120 * time.Second,
		MonitoringPeriod: 300 * time.Second,
		MinimumRequests:  20,
		SuccessThreshold: 5,
	}
}

// Preset 按名称查找预设，名称不区分大小写
func Preset(name string) (Config, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case PresetCriticalAPI:
		return CriticalAPI(), true
	case PresetSearchAPI:
		return SearchAPI(), true
	case PresetNonCritical:
		return NonCritical(), true
	default:
		return Config{}, false
	}
}

// Settings 配置文件中的单个熔断器条目：可选预设加字段覆盖
type Settings struct {
	Preset string `mapstructure:"preset"`
	Config `mapstructure:",squash"`
}

// Resolve 以预设为基础，用非零字段覆盖；未指定预设时以 fallback 为基础
func (s Settings) Resolve(fallback Config) (Config, error) {
	base := fallback
	if s.Preset != "" {
		p, ok := Preset(s.Preset)
		if !ok {
			return Config{}, fmt.Errorf("%w: unknown preset %q", ErrInvalidConfig, s.Preset)
		}
		base = p
	}
	if s.FailureThreshold > 0 {
		base.FailureThreshold = s.FailureThreshold
	}
	if s.RecoveryTimeout > 0 {
		base.RecoveryTimeout = s.RecoveryTimeout
	}
	if s.MonitoringPeriod > 0 {
		base.MonitoringPeriod = s.MonitoringPeriod
	}
	if s.MinimumRequests > 0 {
		base.MinimumRequests = s.MinimumRequests
	}
	if s.SuccessThreshold > 0 {
		base.SuccessThreshold = s.SuccessThreshold
	}
	if err := base.validate(); err != nil {
		return Config{}, err
	}
	return base, nil
}
