package compensation

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Stage 预订流程中失败发生的阶段，决定哪些补偿动作是合法的
type Stage string

const (
	// StagePayment 扣款前或扣款本身失败，没有资金移动
	StagePayment Stage = "payment"
	// StageBooking 扣款成功但出票失败，必须退款
	StageBooking Stage = "booking"
	// StageNotification 出票成功，仅确认通知失败，绝不回滚预订
	StageNotification Stage = "notification"
	// StageUnknown 结果未知，走保守路径并总是需要人工介入
	StageUnknown Stage = "unknown"
)

// ParseStage 解析阶段，无法识别的值一律视为 StageUnknown
func ParseStage(s string) Stage {
	switch Stage(strings.ToLower(strings.TrimSpace(s))) {
	case StagePayment:
		return StagePayment
	case StageBooking:
		return StageBooking
	case StageNotification:
		return StageNotification
	default:
		return StageUnknown
	}
}

func (s Stage) String() string { return string(s) }

// Provider 支付提供方
type Provider string

const (
	ProviderStripe Provider = "stripe"
	ProviderDuffel Provider = "duffel"
)

// PaymentReference 带提供方标签的支付标识，零值表示没有发生扣款
type PaymentReference struct {
	Provider Provider `json:"provider,omitempty"`
	ID       string   `json:"id,omitempty"`
}

// StripePayment 构造 Stripe PaymentIntent 引用
func StripePayment(paymentIntentID string) PaymentReference {
	return PaymentReference{Provider: ProviderStripe, ID: paymentIntentID}
}

// DuffelPayment 构造 Duffel 支付引用
func DuffelPayment(paymentID string) PaymentReference {
	return PaymentReference{Provider: ProviderDuffel, ID: paymentID}
}

// ParsePaymentReference 按标识前缀推断提供方，用于只保存了裸 ID 的历史数据
//
// "pi_" 与 "ch_" 归属 Stripe，"pay_" 与 "pit_" 归属 Duffel。
func ParsePaymentReference(id string) (PaymentReference, error) {
	switch {
	case id == "":
		return PaymentReference{}, nil
	case strings.HasPrefix(id, "pi_"), strings.HasPrefix(id, "ch_"):
		return StripePayment(id), nil
	case strings.HasPrefix(id, "pay_"), strings.HasPrefix(id, "pit_"):
		return DuffelPayment(id), nil
	default:
		return PaymentReference{}, fmt.Errorf("%w: %q", ErrUnknownPaymentProvider, id)
	}
}

// IsZero 是否没有支付
func (p PaymentReference) IsZero() bool {
	return p.ID == ""
}

func (p PaymentReference) String() string {
	if p.IsZero() {
		return "none"
	}
	return string(p.Provider) + ":" + p.ID
}

// Context 补偿所需的预订上下文
type Context struct {
	TripRequestID    string           `json:"trip_request_id"`
	BookingRequestID string           `json:"booking_request_id,omitempty"`
	BookingAttemptID string           `json:"booking_attempt_id,omitempty"`
	Payment          PaymentReference `json:"payment"`
	OrderID          string           `json:"order_id,omitempty"`
	UserID           string           `json:"user_id"`
	Amount           *decimal.Decimal `json:"amount,omitempty"`
	Currency         string           `json:"currency,omitempty"`
}

// Result 补偿结果，Success 当且仅当没有错误
type Result struct {
	Success                    bool     `json:"success"`
	ActionsExecuted            []string `json:"actions_executed"`
	Errors                     []string `json:"errors"`
	RequiresManualIntervention bool     `json:"requires_manual_intervention"`
}

// 预订请求状态
const (
	StatusPaymentFailed        = "payment_failed"
	StatusBookingFailed        = "booking_failed"
	StatusRequiresManualReview = "requires_manual_review"
)

// 用户通知类型
const (
	NotificationPaymentFailed    = "payment_failed"
	NotificationBookingFailed    = "booking_failed"
	NotificationBookingConfirmed = "booking_confirmed"
)

// CompensationTypeSaga 审计记录的补偿类型
const CompensationTypeSaga = "saga_compensation"

// RefundReason 发送给支付提供方的退款原因
const RefundReason = "requested_by_customer"

// 各币种的小数位数，未列出的按 2 位处理
var currencyExponent = map[string]int32{
	"BIF": 0, "CLP": 0, "DJF": 0, "GNF": 0, "ISK": 0, "JPY": 0, "KMF": 0, "KRW": 0,
	"PYG": 0, "RWF": 0, "UGX": 0, "VND": 0, "VUV": 0, "XAF": 0, "XOF": 0, "XPF": 0,
	"BHD": 3, "IQD": 3, "JOD": 3, "KWD": 3, "LYD": 3, "OMR": 3, "TND": 3,
}

// MinorUnits 将金额换算为币种最小单位，四舍五入
func MinorUnits(amount decimal.Decimal, currency string) int64 {
	exp, ok := currencyExponent[strings.ToUpper(currency)]
	if !ok {
		exp = 2
	}
	return amount.Shift(exp).Round(0).IntPart()
}
