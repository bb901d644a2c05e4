// Package offer 在扣款前校验报价是否仍可安全使用。
//
// 报价由供应商给出过期时间，校验结果每次都基于最新拉取的报价和当前时钟重新计算，从不缓存。
// 剩余时间不超过 SafetyBuffer 即视为不可用，即使上游时间戳尚未到期：
// 扣款和出票本身需要时间，报价不能在交易途中过期。
//
//	v := offer.NewValidator(offer.WithClock(clk))
//	summary, result, err := v.ValidateForBooking(ctx, offerID, fetcher)
//	if errors.Is(err, offer.ErrOfferExpired) {
//		// 提示用户重新搜索
//	}
package offer

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// SafetyBuffer 剩余时间不超过该值的报价不可用于预订
	SafetyBuffer = 120 * time.Second

	// RefreshThreshold 剩余时间不超过该值时提示调用方刷新报价
	RefreshThreshold = 10 * time.Minute

	// WarningThreshold 剩余时间不超过该值时向用户提示即将过期
	WarningThreshold = 10 * time.Minute
)

// Summary 供应商返回的报价摘要
type Summary struct {
	ID            string          `json:"id"`
	ExpiresAt     string          `json:"expires_at"` // ISO-8601
	TotalAmount   decimal.Decimal `json:"total_amount"`
	TotalCurrency string          `json:"total_currency"`
}

// Result 报价校验结果
type Result struct {
	IsValid       bool          `json:"is_valid"`
	TimeRemaining time.Duration `json:"time_remaining"`
	ExpiresAt     time.Time     `json:"expires_at"`
	NeedsRefresh  bool          `json:"needs_refresh"`
	Error         string        `json:"error,omitempty"`
}

// Fetcher 拉取报价的最新状态，实现不得返回缓存数据
//
// 报价不存在时应返回包装了 ErrOfferNotFound 或 xerrors.ErrNotFound 的错误。
type Fetcher interface {
	GetOffer(ctx context.Context, offerID string) (*Summary, error)
}

// FetcherFunc 将函数适配为 Fetcher
type FetcherFunc func(ctx context.Context, offerID string) (*Summary, error)

func (f FetcherFunc) GetOffer(ctx context.Context, offerID string) (*Summary, error) {
	return f(ctx, offerID)
}

// Urgency 面向用户的紧迫程度
type Urgency string

const (
	UrgencyNormal   Urgency = "normal"
	UrgencyWarning  Urgency = "warning"
	UrgencyCritical Urgency = "critical"
	UrgencyExpired  Urgency = "expired"
)
