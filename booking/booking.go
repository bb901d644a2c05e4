// Package booking 串联一次自动预订尝试：紧急开关、报价校验、扣款、出票、确认通知。
//
// 每个外部依赖都经过独立的命名熔断器；任一步失败时按失败阶段调用补偿协调器，
// 并把结果交给告警管理器。调用方只会看到面向用户的文案，人工介入标记只进入告警和审计。
package booking

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/ceyewan/tripguard/compensation"
	"github.com/ceyewan/tripguard/offer"
)

// 熔断器名称
const (
	BreakerSearch          = "search"
	BreakerPayment         = "payment"
	BreakerBookingProvider = "booking_provider"
	BreakerNotification    = "notification"
)

// Status 预订尝试的最终状态
type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
	StatusDisabled  Status = "disabled"
)

// 预订成功后写入的状态
const BookingStatusConfirmed = "booked"

// 面向用户的文案
const (
	MessageOfferUnavailable   = offer.UserMessage
	MessagePaymentFailed      = "Payment could not be processed. Please try again or use a different payment method."
	MessageBookingFailed      = "We could not complete your booking. Any charge will be refunded."
	MessageServiceUnavailable = "Booking is temporarily unavailable. Please try again shortly."
	MessageBookingDisabled    = "Automatic booking is temporarily paused. Please try again later."
)

// 告警原因，包含 alert 包的关键模式时会升级
const (
	ReasonOfferUnavailable = "offer_unavailable"
	ReasonSearchError      = "search_api_error"
	ReasonPaymentFailed    = "payment_failed"
	ReasonOrderFailed      = "duffel_api_error"
	ReasonRefundFailed     = "refund_failed"
	ReasonNotification     = "notification_failed"
	ReasonSystemError      = "system_error"
	ReasonOfferExpiring    = "offer_expiring_soon"
)

// Request 一次预订尝试的输入
type Request struct {
	TripRequestID    string
	BookingRequestID string
	UserID           string
	OfferID          string
	PaymentMethodID  string
	Metadata         map[string]string
}

// ChargeRequest 扣款请求
type ChargeRequest struct {
	BookingRequestID string
	UserID           string
	PaymentMethodID  string
	Amount           decimal.Decimal
	Currency         string
	IdempotencyKey   string
	Metadata         map[string]string
}

// PaymentGateway 支付网关。
//
// 扣款成功后应立即返回支付引用，不要在返回前做其他可能 panic 的工作：
// Charge 内部 panic 时编排器拿不到引用，按 unknown 阶段补偿也无法发起预防性退款，
// 只能转人工核对。
type PaymentGateway interface {
	Charge(ctx context.Context, req ChargeRequest) (compensation.PaymentReference, error)
}

// OrderRequest 出票请求
type OrderRequest struct {
	BookingRequestID string
	OfferID          string
	Payment          compensation.PaymentReference
	Amount           decimal.Decimal
	Currency         string
	IdempotencyKey   string
}

// OrderCreator 出票供应商
type OrderCreator interface {
	CreateOrder(ctx context.Context, req OrderRequest) (orderID string, err error)
}

// PaymentGatewayFunc 函数适配器
type PaymentGatewayFunc func(ctx context.Context, req ChargeRequest) (compensation.PaymentReference, error)

func (f PaymentGatewayFunc) Charge(ctx context.Context, req ChargeRequest) (compensation.PaymentReference, error) {
	return f(ctx, req)
}

// OrderCreatorFunc 函数适配器
type OrderCreatorFunc func(ctx context.Context, req OrderRequest) (string, error)

func (f OrderCreatorFunc) CreateOrder(ctx context.Context, req OrderRequest) (string, error) {
	return f(ctx, req)
}

// Outcome 预订尝试的结果
type Outcome struct {
	Status  Status                        `json:"status"`
	OrderID string                        `json:"order_id,omitempty"`
	Payment compensation.PaymentReference `json:"payment"`
	Offer   *offer.Result                 `json:"offer,omitempty"`
	// FailedStage 失败时所处的补偿阶段
	FailedStage  compensation.Stage   `json:"failed_stage,omitempty"`
	Compensation *compensation.Result `json:"compensation,omitempty"`
	UserMessage  string               `json:"user_message,omitempty"`
}
