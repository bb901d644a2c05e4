// Package alert 负责预订成功、失败和警告事件的运营告警。
//
// Manager 把事件渲染成 Message 后异步投递到各个 Channel，调用方不会被告警发送阻塞：
//
//   - 成功告警受 enable_booking_success_alerts 开关控制，只发 Slack；
//   - 失败告警永不被关闭，金额达到阈值或原因命中关键模式时额外升级到邮件；
//   - 警告告警只发 Slack。
//
// 单个通道的失败只会被记录日志和指标，不会影响其他通道。
package alert

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Type 告警类型
type Type string

const (
	TypeSuccess Type = "success"
	TypeFailure Type = "failure"
	TypeWarning Type = "warning"
)

// Slack 附件颜色
const (
	ColorGood    = "good"
	ColorWarning = "warning"
	ColorDanger  = "danger"
)

// 升级原因
const (
	EscalationHighValue       = "high_value"
	EscalationCriticalFailure = "critical_failure"
)

// Alert 一次预订事件
type Alert struct {
	Type      Type            `json:"type"`
	BookingID string          `json:"booking_id"`
	UserID    string          `json:"user_id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Reason    string          `json:"reason,omitempty"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Message 渲染后的告警，由 Channel 投递
type Message struct {
	Title     string
	Text      string
	Color     string
	Escalated bool
	Alert     Alert
}

// Channel 告警通道
type Channel interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// ChannelFunc 函数适配器，主要用于测试
type ChannelFunc struct {
	ChannelName string
	Fn          func(ctx context.Context, msg Message) error
}

func (c ChannelFunc) Name() string { return c.ChannelName }

func (c ChannelFunc) Send(ctx context.Context, msg Message) error { return c.Fn(ctx, msg) }

// Dispatch 一次通知的投递计划
type Dispatch struct {
	// Suppressed 被开关关闭，未投递
	Suppressed       bool
	Escalated        bool
	EscalationReason string
	// Channels 已提交异步发送的通道
	Channels []string
}
