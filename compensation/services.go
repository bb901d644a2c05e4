package compensation

import (
	"context"
	"time"
)

// RefundRequest 退款请求
type RefundRequest struct {
	PaymentID string
	// AmountMinor 以币种最小单位表示，nil 表示全额退款
	AmountMinor    *int64
	Currency       string
	Reason         string
	Metadata       map[string]string
	IdempotencyKey string
}

// Refund 支付提供方返回的退款结果
type Refund struct {
	ID     string
	Status string
}

// Refunder 某个支付提供方的退款实现
type Refunder interface {
	Refund(ctx context.Context, req RefundRequest) (*Refund, error)
}

// RefunderFunc 将函数适配为 Refunder
type RefunderFunc func(ctx context.Context, req RefundRequest) (*Refund, error)

func (f RefunderFunc) Refund(ctx context.Context, req RefundRequest) (*Refund, error) {
	return f(ctx, req)
}

// StatusStore 更新预订请求状态
type StatusStore interface {
	UpdateBookingStatus(ctx context.Context, bookingRequestID, status, message string) error
}

// AuditRecord 每次补偿调用对应一条审计记录
type AuditRecord struct {
	ID                         string
	TripRequestID              string
	BookingRequestID           string
	CompensationType           string
	FailureStage               Stage
	FailureReason              string
	ActionsExecuted            []string
	Errors                     []string
	RequiresManualIntervention bool
	CreatedAt                  time.Time
}

// AuditLog 只追加的补偿审计日志
type AuditLog interface {
	Append(ctx context.Context, record *AuditRecord) error
}

// Notifier 向用户发送通知
type Notifier interface {
	SendNotification(ctx context.Context, userID, notificationType string, payload map[string]any) error
}

// NotifierFunc 将函数适配为 Notifier
type NotifierFunc func(ctx context.Context, userID, notificationType string, payload map[string]any) error

func (f NotifierFunc) SendNotification(ctx context.Context, userID, notificationType string, payload map[string]any) error {
	return f(ctx, userID, notificationType, payload)
}

// Services 补偿依赖的外部服务
//
// Store 与 Audit 必填；Notifier 为空时跳过通知；Refunders 按提供方索引。
type Services struct {
	Store     StatusStore
	Audit     AuditLog
	Notifier  Notifier
	Refunders map[Provider]Refunder
}
