package offer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ceyewan/tripguard/clock"
	"github.com/ceyewan/tripguard/clog"
	"github.com/ceyewan/tripguard/metrics"
	"github.com/ceyewan/tripguard/xerrors"
)

const (
	// MetricValidationsTotal 预订入口校验次数 (Counter)
	MetricValidationsTotal = "offer_validations_total"

	outcomeValid    = "valid"
	outcomeRefresh  = "valid_needs_refresh"
	outcomeExpired  = "expired"
	outcomeNotFound = "not_found"
	outcomeError    = "fetch_error"

	defaultBatchConcurrency = 8
)

// 可接受的过期时间格式，不带时区的按 UTC 处理
var expiresAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
}

// Validator 报价校验器
type Validator struct {
	logger      clog.Logger
	clock       clock.Clock
	validations metrics.Counter
	concurrency int
}

// NewValidator 创建校验器
func NewValidator(opts ...Option) *Validator {
	o := &options{
		logger:      clog.Discard(),
		meter:       metrics.Discard(),
		clock:       clock.Real(),
		concurrency: defaultBatchConcurrency,
	}
	for _, opt := range opts {
		opt(o)
	}

	counter, err := o.meter.Counter(MetricValidationsTotal, "Offer validations performed before booking")
	if err != nil {
		o.logger.Warn("create offer metrics failed", clog.Error(err))
		counter, _ = metrics.Discard().Counter(MetricValidationsTotal, "")
	}

	return &Validator{
		logger:      o.logger,
		clock:       o.clock,
		validations: counter,
		concurrency: o.concurrency,
	}
}

// ValidateExpiration 根据报价摘要和当前时间计算校验结果，不产生副作用
func (v *Validator) ValidateExpiration(summary Summary) Result {
	expiresAt, err := parseExpiresAt(summary.ExpiresAt)
	if err != nil {
		return Result{
			IsValid:      false,
			NeedsRefresh: true,
			Error:        fmt.Sprintf("Invalid expiration date format: %q", summary.ExpiresAt),
		}
	}

	remaining := expiresAt.Sub(v.clock.Now())
	result := Result{TimeRemaining: remaining, ExpiresAt: expiresAt}

	switch {
	case remaining <= 0:
		result.NeedsRefresh = true
		result.Error = "Offer has expired"
	case remaining <= SafetyBuffer:
		result.NeedsRefresh = true
		result.Error = fmt.Sprintf("Offer expires in %s, too soon to complete booking safely", FormatTimeRemaining(remaining))
	case remaining <= RefreshThreshold:
		result.IsValid = true
		result.NeedsRefresh = true
	default:
		result.IsValid = true
	}
	return result
}

// ValidateForBooking 拉取最新报价并校验，扣款或下单前必须调用
//
// 报价过期返回包装 ErrOfferExpired 的 *UnavailableError，报价不存在返回包装 ErrOfferNotFound 的 *UnavailableError；
// 其它拉取错误（包括熔断拒绝）原样包装返回。
func (v *Validator) ValidateForBooking(ctx context.Context, offerID string, fetcher Fetcher) (*Summary, Result, error) {
	if offerID == "" {
		return nil, Result{}, xerrors.Wrap(xerrors.ErrInvalidInput, "offer: id is empty")
	}

	summary, err := fetcher.GetOffer(ctx, offerID)
	if err != nil {
		if errors.Is(err, ErrOfferNotFound) || errors.Is(err, xerrors.ErrNotFound) {
			v.record(ctx, outcomeNotFound)
			v.logger.WarnContext(ctx, "offer not found", clog.String("offer_id", offerID), clog.Error(err))
			notFound := notFoundError(offerID, err)
			return nil, notFound.Result, notFound
		}
		v.record(ctx, outcomeError)
		v.logger.ErrorContext(ctx, "fetch offer failed", clog.String("offer_id", offerID), clog.Error(err))
		return nil, Result{}, xerrors.Wrapf(err, "offer: fetch %s", offerID)
	}
	if summary == nil {
		v.record(ctx, outcomeNotFound)
		notFound := notFoundError(offerID, nil)
		return nil, notFound.Result, notFound
	}

	result := v.ValidateExpiration(*summary)
	if !result.IsValid {
		v.record(ctx, outcomeExpired)
		v.logger.WarnContext(ctx, "offer rejected before booking",
			clog.String("offer_id", offerID),
			clog.Duration("time_remaining", result.TimeRemaining),
			clog.String("reason", result.Error))
		return summary, result, expiredError(offerID, result)
	}

	if result.NeedsRefresh {
		v.record(ctx, outcomeRefresh)
		v.logger.InfoContext(ctx, "offer close to expiry, refresh recommended",
			clog.String("offer_id", offerID),
			clog.Duration("time_remaining", result.TimeRemaining))
	} else {
		v.record(ctx, outcomeValid)
	}
	return summary, result, nil
}

func (v *Validator) record(ctx context.Context, outcome string) {
	v.validations.Inc(ctx, metrics.L("outcome", outcome))
}

// ShouldWarn 报价仍可用但剩余时间不超过 WarningThreshold 时返回 true
func ShouldWarn(result Result) bool {
	return result.IsValid && result.TimeRemaining <= WarningThreshold
}

// UrgencyLevel 根据剩余时间划分紧迫程度
func UrgencyLevel(remaining time.Duration) Urgency {
	switch {
	case remaining <= 0:
		return UrgencyExpired
	case remaining <= SafetyBuffer:
		return UrgencyCritical
	case remaining <= WarningThreshold:
		return UrgencyWarning
	default:
		return UrgencyNormal
	}
}

// FormatTimeRemaining 格式化剩余时间："expired"、"45s"、"4m 05s"、"1h 02m"
func FormatTimeRemaining(remaining time.Duration) string {
	if remaining <= 0 {
		return "expired"
	}
	seconds := int64(math.Ceil(remaining.Seconds()))
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %02dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm %02ds", minutes, secs)
	default:
		return fmt.Sprintf("%ds", secs)
	}
}

func parseExpiresAt(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, errors.New("empty expires_at")
	}
	var lastErr error
	for _, layout := range expiresAtLayouts {
		t, err := time.Parse(layout, raw)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
