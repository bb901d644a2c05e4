package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/ceyewan/tripguard/alert"
	"github.com/ceyewan/tripguard/breaker"
	"github.com/ceyewan/tripguard/clock"
	"github.com/ceyewan/tripguard/clog"
	"github.com/ceyewan/tripguard/compensation"
	"github.com/ceyewan/tripguard/featureflag"
	"github.com/ceyewan/tripguard/idem"
	"github.com/ceyewan/tripguard/metrics"
	"github.com/ceyewan/tripguard/offer"
	"github.com/ceyewan/tripguard/xerrors"
)

// 指标名
const (
	MetricAttemptsTotal   = "booking_attempts_total"
	MetricAttemptDuration = "booking_attempt_duration_seconds"
)

// Deps 编排器依赖
//
// Notifier、Alerts、KillSwitch、Store 可为空，其余必填。
type Deps struct {
	Breakers    *breaker.Registry
	Validator   *offer.Validator
	Offers      offer.Fetcher
	Payments    PaymentGateway
	Orders      OrderCreator
	Compensator *compensation.Coordinator
	Notifier    compensation.Notifier
	Alerts      *alert.Manager
	KillSwitch  *featureflag.KillSwitch
	Store       compensation.StatusStore
}

// Orchestrator 自动预订编排器，并发安全
type Orchestrator struct {
	deps   Deps
	logger clog.Logger
	clock  clock.Clock
	tracer oteltrace.Tracer
	guard  *idem.Guard

	search       *breaker.CircuitBreaker
	payment      *breaker.CircuitBreaker
	provider     *breaker.CircuitBreaker
	notification *breaker.CircuitBreaker

	attempts metrics.Counter
	duration metrics.Histogram
}

// DefaultBreakerConfigs 各依赖默认使用的熔断预设
func DefaultBreakerConfigs() map[string]breaker.Config {
	return map[string]breaker.Config{
		BreakerSearch:          breaker.SearchAPI(),
		BreakerPayment:         breaker.CriticalAPI(),
		BreakerBookingProvider: breaker.CriticalAPI(),
		BreakerNotification:    breaker.NonCritical(),
	}
}

// New 创建编排器，并在 Registry 中注册四个依赖熔断器
func New(deps Deps, opts ...Option) (*Orchestrator, error) {
	switch {
	case deps.Breakers == nil:
		return nil, fmt.Errorf("%w: breaker registry", ErrMissingDependency)
	case deps.Validator == nil:
		return nil, fmt.Errorf("%w: offer validator", ErrMissingDependency)
	case deps.Offers == nil:
		return nil, fmt.Errorf("%w: offer fetcher", ErrMissingDependency)
	case deps.Payments == nil:
		return nil, fmt.Errorf("%w: payment gateway", ErrMissingDependency)
	case deps.Orders == nil:
		return nil, fmt.Errorf("%w: order creator", ErrMissingDependency)
	case deps.Compensator == nil:
		return nil, fmt.Errorf("%w: compensation coordinator", ErrMissingDependency)
	}

	o := &options{
		logger: clog.Discard(),
		meter:  metrics.Discard(),
		clock:  clock.Real(),
	}
	for _, opt := range opts {
		opt(o)
	}

	orc := &Orchestrator{
		deps:   deps,
		logger: o.logger,
		clock:  o.clock,
		tracer: otel.Tracer("tripguard/booking"),
		guard:  o.guard,
	}

	breakers := make(map[string]*breaker.CircuitBreaker, 4)
	for name, def := range DefaultBreakerConfigs() {
		cfg := def
		if s, ok := o.breakers[name]; ok {
			resolved, err := s.Resolve(def)
			if err != nil {
				return nil, xerrors.Wrapf(err, "breaker %s", name)
			}
			cfg = resolved
		}
		cb, err := deps.Breakers.Get(name, cfg)
		if err != nil {
			return nil, xerrors.Wrapf(err, "register breaker %s", name)
		}
		breakers[name] = cb
	}
	orc.search = breakers[BreakerSearch]
	orc.payment = breakers[BreakerPayment]
	orc.provider = breakers[BreakerBookingProvider]
	orc.notification = breakers[BreakerNotification]

	var err error
	if orc.attempts, err = o.meter.Counter(MetricAttemptsTotal, "Booking attempts by final status"); err != nil {
		return nil, err
	}
	if orc.duration, err = o.meter.Histogram(MetricAttemptDuration, "Booking attempt duration",
		metrics.WithUnit("s")); err != nil {
		return nil, err
	}
	return orc, nil
}

type attempt struct {
	req      Request
	out      *Outcome
	amount   decimal.Decimal
	currency string
}

// Attempt 执行一次预订尝试
//
// 失败时同时返回 Outcome 和错误：Outcome 携带补偿结果与用户文案，错误用于 errors.Is 分类。
// 配置了 WithIdempotency 时，只有确认成功的结果会被缓存，失败的尝试已经补偿完毕，可以重试。
func (o *Orchestrator) Attempt(ctx context.Context, req Request) (*Outcome, error) {
	if req.BookingRequestID == "" || req.UserID == "" || req.OfferID == "" {
		return nil, fmt.Errorf("%w: booking_request_id, user_id and offer_id are required", ErrInvalidRequest)
	}
	if o.guard == nil {
		return o.attempt(ctx, req)
	}

	var failed *Outcome
	out, replayed, err := idem.Do(ctx, o.guard, "booking:"+req.BookingRequestID,
		func(ctx context.Context) (*Outcome, error) {
			out, err := o.attempt(ctx, req)
			if err != nil {
				failed = out
			}
			return out, err
		})
	switch {
	case errors.Is(err, idem.ErrConcurrentRequest):
		o.logger.WarnContext(ctx, "duplicate booking attempt rejected",
			clog.String("booking_request_id", req.BookingRequestID))
		return nil, fmt.Errorf("%w: %w", ErrAttemptInProgress, err)
	case err != nil:
		return failed, err
	case replayed:
		o.logger.InfoContext(ctx, "confirmed booking replayed",
			clog.String("booking_request_id", req.BookingRequestID), clog.String("order_id", out.OrderID))
	}
	return out, nil
}

func (o *Orchestrator) attempt(ctx context.Context, req Request) (out *Outcome, err error) {
	ctx = clog.WithTripRequestID(ctx, req.TripRequestID)
	ctx = clog.WithBookingID(ctx, req.BookingRequestID)
	ctx = clog.WithUserID(ctx, req.UserID)
	ctx, span := o.tracer.Start(ctx, "booking.attempt", oteltrace.WithAttributes(
		attribute.String("booking_request_id", req.BookingRequestID),
		attribute.String("offer_id", req.OfferID),
	))
	start := o.clock.Now()
	a := &attempt{req: req, out: &Outcome{}}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("booking attempt panicked: %v", r)
			o.logger.ErrorContext(ctx, "booking attempt panicked", clog.Any("panic", r))
			out = o.fail(ctx, a, compensation.StageUnknown, ReasonSystemError, MessageServiceUnavailable, err)
		}
		span.SetAttributes(attribute.String("booking.status", string(out.Status)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		o.attempts.Inc(ctx, metrics.L("status", string(out.Status)))
		o.duration.Record(ctx, o.clock.Now().Sub(start).Seconds(), metrics.L("status", string(out.Status)))
	}()

	if err := o.checkKillSwitch(ctx, req.UserID); err != nil {
		o.logger.WarnContext(ctx, "booking attempt blocked by kill switch", clog.Error(err))
		a.out.Status = StatusDisabled
		a.out.UserMessage = MessageBookingDisabled
		return a.out, err
	}

	summary, result, err := o.validateOffer(ctx, req.OfferID)
	a.out.Offer = &result
	if err != nil {
		reason, message := ReasonOfferUnavailable, MessageOfferUnavailable
		if !offer.IsUnavailable(err) {
			reason, message = ReasonSearchError, MessageServiceUnavailable
		}
		return o.fail(ctx, a, compensation.StagePayment, reason, message, err), err
	}
	a.amount, a.currency = summary.TotalAmount, summary.TotalCurrency
	o.warnIfExpiring(ctx, a, result)

	payment, err := breaker.Do(ctx, o.payment, func(ctx context.Context) (compensation.PaymentReference, error) {
		return o.deps.Payments.Charge(ctx, ChargeRequest{
			BookingRequestID: req.BookingRequestID,
			UserID:           req.UserID,
			PaymentMethodID:  req.PaymentMethodID,
			Amount:           summary.TotalAmount,
			Currency:         summary.TotalCurrency,
			IdempotencyKey:   "charge:" + req.BookingRequestID,
			Metadata:         req.Metadata,
		})
	})
	if err != nil {
		err = xerrors.WithCode(fmt.Errorf("%w: %w", ErrPaymentFailed, err), xerrors.CodePaymentFailed)
		message := MessagePaymentFailed
		if breaker.IsOpen(err) {
			message = MessageServiceUnavailable
		}
		return o.fail(ctx, a, compensation.StagePayment, ReasonPaymentFailed, message, err), err
	}
	a.out.Payment = payment
	o.logger.InfoContext(ctx, "payment captured", clog.String("payment", payment.String()))

	orderID, err := o.createOrder(ctx, a, payment)
	if err != nil {
		err = xerrors.WithCode(fmt.Errorf("%w: %w", ErrOrderFailed, err), xerrors.CodeBookingFailed)
		return o.fail(ctx, a, compensation.StageBooking, ReasonOrderFailed, MessageBookingFailed, err), err
	}
	a.out.OrderID = orderID
	a.out.Status = StatusConfirmed
	o.markConfirmed(ctx, req.BookingRequestID, orderID)

	o.confirm(ctx, a)

	if o.deps.Alerts != nil {
		o.deps.Alerts.NotifySuccess(ctx, alert.Alert{
			BookingID: req.BookingRequestID,
			UserID:    req.UserID,
			Amount:    a.amount,
			Currency:  a.currency,
			Metadata:  o.alertMetadata(a, ""),
		})
	}
	o.logger.InfoContext(ctx, "booking confirmed", clog.String("order_id", orderID))
	return a.out, nil
}

func (o *Orchestrator) checkKillSwitch(ctx context.Context, userID string) error {
	ks := o.deps.KillSwitch
	if ks == nil {
		return nil
	}
	if err := ks.CanProceedWithAutoBooking(ctx, userID); err != nil {
		return fmt.Errorf("%w: %w", ErrBookingDisabled, err)
	}
	if !ks.PaymentProcessingEnabled(ctx) {
		return fmt.Errorf("%w: %w", ErrBookingDisabled, disabledComponent(featureflag.ComponentPaymentProcessing))
	}
	if !ks.BookingProviderEnabled(ctx) {
		return fmt.Errorf("%w: %w", ErrBookingDisabled, disabledComponent(featureflag.ComponentBookingProvider))
	}
	return nil
}

func disabledComponent(name string) *featureflag.DisabledError {
	return &featureflag.DisabledError{
		Components: []featureflag.DisabledComponent{{Name: name}},
		RetryAfter: featureflag.RetryAfter,
	}
}

// guardedFetcher 报价拉取经过搜索熔断器
func (o *Orchestrator) guardedFetcher() offer.Fetcher {
	return offer.FetcherFunc(func(ctx context.Context, offerID string) (*offer.Summary, error) {
		return breaker.Do(ctx, o.search, func(ctx context.Context) (*offer.Summary, error) {
			return o.deps.Offers.GetOffer(ctx, offerID)
		})
	})
}

func (o *Orchestrator) validateOffer(ctx context.Context, offerID string) (*offer.Summary, offer.Result, error) {
	return o.deps.Validator.ValidateForBooking(ctx, offerID, o.guardedFetcher())
}

func (o *Orchestrator) warnIfExpiring(ctx context.Context, a *attempt, result offer.Result) {
	if o.deps.Alerts == nil || !offer.ShouldWarn(result) {
		return
	}
	o.deps.Alerts.NotifyWarning(ctx, alert.Alert{
		BookingID: a.req.BookingRequestID,
		UserID:    a.req.UserID,
		Amount:    a.amount,
		Currency:  a.currency,
		Reason:    ReasonOfferExpiring + ": " + offer.FormatTimeRemaining(result.TimeRemaining) + " remaining",
	})
}

// createOrder 扣款后重新校验报价再出票，校验失败同样按出票失败处理
func (o *Orchestrator) createOrder(ctx context.Context, a *attempt, payment compensation.PaymentReference) (string, error) {
	_, result, err := o.validateOffer(ctx, a.req.OfferID)
	a.out.Offer = &result
	if err != nil {
		return "", xerrors.Wrap(err, "revalidate offer after payment")
	}

	return breaker.Do(ctx, o.provider, func(ctx context.Context) (string, error) {
		return o.deps.Orders.CreateOrder(ctx, OrderRequest{
			BookingRequestID: a.req.BookingRequestID,
			OfferID:          a.req.OfferID,
			Payment:          payment,
			Amount:           a.amount,
			Currency:         a.currency,
			IdempotencyKey:   "order:" + a.req.BookingRequestID,
		})
	})
}

func (o *Orchestrator) markConfirmed(ctx context.Context, bookingRequestID, orderID string) {
	if o.deps.Store == nil {
		return
	}
	if err := o.deps.Store.UpdateBookingStatus(ctx, bookingRequestID, BookingStatusConfirmed, ""); err != nil {
		o.logger.ErrorContext(ctx, "failed to mark booking confirmed",
			clog.String("order_id", orderID), clog.Error(err))
	}
}

// confirm 发送确认通知，失败走通知阶段补偿，预订保持成功
func (o *Orchestrator) confirm(ctx context.Context, a *attempt) {
	if o.deps.Notifier == nil {
		return
	}
	err := o.notification.Execute(ctx, func(ctx context.Context) error {
		return o.deps.Notifier.SendNotification(ctx, a.req.UserID, compensation.NotificationBookingConfirmed, map[string]any{
			"order_id":        a.out.OrderID,
			"trip_request_id": a.req.TripRequestID,
		})
	})
	if err == nil {
		return
	}

	o.logger.WarnContext(ctx, "booking confirmation failed", clog.Error(err))
	result := o.deps.Compensator.Execute(ctx, o.compensationContext(a), compensation.StageNotification, err.Error())
	a.out.Compensation = &result
	if o.deps.Alerts != nil {
		o.deps.Alerts.NotifyWarning(ctx, alert.Alert{
			BookingID: a.req.BookingRequestID,
			UserID:    a.req.UserID,
			Amount:    a.amount,
			Currency:  a.currency,
			Reason:    ReasonNotification + ": " + err.Error(),
			Metadata:  o.alertMetadata(a, compensation.StageNotification),
		})
	}
}

// fail 执行补偿、发送失败告警并填充 Outcome
func (o *Orchestrator) fail(ctx context.Context, a *attempt, stage compensation.Stage, reason, message string, cause error) *Outcome {
	result := o.deps.Compensator.Execute(ctx, o.compensationContext(a), stage, cause.Error())

	a.out.Status = StatusFailed
	a.out.FailedStage = stage
	a.out.Compensation = &result
	a.out.UserMessage = message

	if refundFailed(result) {
		reason += " " + ReasonRefundFailed
	}
	if o.deps.Alerts != nil {
		md := o.alertMetadata(a, stage)
		md["requires_manual_intervention"] = result.RequiresManualIntervention
		md["compensation_errors"] = result.Errors
		o.deps.Alerts.NotifyFailure(ctx, alert.Alert{
			BookingID: a.req.BookingRequestID,
			UserID:    a.req.UserID,
			Amount:    a.amount,
			Currency:  a.currency,
			Reason:    reason + ": " + cause.Error(),
			Metadata:  md,
		})
	}

	o.logger.ErrorContext(ctx, "booking attempt failed",
		clog.String("stage", stage.String()),
		clog.String("reason", reason),
		clog.Bool("manual_intervention", result.RequiresManualIntervention),
		clog.Error(cause))
	return a.out
}

func (o *Orchestrator) compensationContext(a *attempt) compensation.Context {
	cctx := compensation.Context{
		TripRequestID:    a.req.TripRequestID,
		BookingRequestID: a.req.BookingRequestID,
		Payment:          a.out.Payment,
		OrderID:          a.out.OrderID,
		UserID:           a.req.UserID,
		Currency:         a.currency,
	}
	if !a.amount.IsZero() {
		amount := a.amount
		cctx.Amount = &amount
	}
	return cctx
}

func (o *Orchestrator) alertMetadata(a *attempt, stage compensation.Stage) map[string]any {
	md := map[string]any{
		"trip_request_id": a.req.TripRequestID,
		"offer_id":        a.req.OfferID,
	}
	if !a.out.Payment.IsZero() {
		md["payment"] = a.out.Payment.String()
	}
	if a.out.OrderID != "" {
		md["order_id"] = a.out.OrderID
	}
	if stage != "" {
		md["stage"] = stage.String()
	}
	return md
}

func refundFailed(result compensation.Result) bool {
	for _, e := range result.Errors {
		if strings.Contains(e, "refund failed") {
			return true
		}
	}
	return false
}
