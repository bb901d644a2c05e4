package alert

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultSuccessFlagKey 成功告警开关
const DefaultSuccessFlagKey = "enable_booking_success_alerts"

// DefaultCriticalPatterns 需要升级的失败原因关键字，大小写不敏感的子串匹配
var DefaultCriticalPatterns = []string{
	"payment_failed",
	"duffel_api_error",
	"database_error",
	"timeout",
	"system_error",
	"refund_failed",
}

// Config 告警配置
type Config struct {
	// HighValueThreshold 金额大于等于该值的失败会升级，默认 1000
	HighValueThreshold decimal.Decimal
	CriticalPatterns   []string
	SuccessFlagKey     string
	// DispatchTimeout 单个通道一次发送的超时
	DispatchTimeout time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		HighValueThreshold: decimal.NewFromInt(1000),
		CriticalPatterns:   append([]string(nil), DefaultCriticalPatterns...),
		SuccessFlagKey:     DefaultSuccessFlagKey,
		DispatchTimeout:    10 * time.Second,
	}
}

func (c *Config) setDefaults() {
	def := DefaultConfig()
	if c.HighValueThreshold.IsZero() {
		c.HighValueThreshold = def.HighValueThreshold
	}
	if len(c.CriticalPatterns) == 0 {
		c.CriticalPatterns = def.CriticalPatterns
	}
	if c.SuccessFlagKey == "" {
		c.SuccessFlagKey = def.SuccessFlagKey
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = def.DispatchTimeout
	}
	patterns := make([]string, 0, len(c.CriticalPatterns))
	for _, p := range c.CriticalPatterns {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			patterns = append(patterns, p)
		}
	}
	c.CriticalPatterns = patterns
}
