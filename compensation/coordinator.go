// Package compensation 实现预订 Saga 的补偿协调器。
//
// 预订流程（扣款、出票、通知）任一步失败时，调用方按失败阶段调用 Execute，
// 协调器执行该阶段允许的补偿动作，并为每次调用追加一条审计记录。
// Execute 从不返回错误也不会 panic，调用方只需检查 Result：
//
//	coord, _ := compensation.New(compensation.Services{
//		Store:     st,
//		Audit:     st,
//		Notifier:  notifier,
//		Refunders: map[compensation.Provider]compensation.Refunder{compensation.ProviderStripe: stripeRefunder},
//	}, compensation.WithLogger(logger))
//
//	result := coord.CompensateBookingFailure(ctx, cctx, "duffel_api_error: 500")
//	if result.RequiresManualIntervention {
//		// 进入人工处理队列
//	}
package compensation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/ceyewan/tripguard/clock"
	"github.com/ceyewan/tripguard/clog"
	"github.com/ceyewan/tripguard/metrics"
)

const (
	// MetricExecutionsTotal 补偿执行次数 (Counter)
	MetricExecutionsTotal = "compensation_executions_total"
	// MetricDuration 补偿耗时 (Histogram)
	MetricDuration = "compensation_duration_seconds"

	defaultTimeout = 30 * time.Second
	tracerName     = "tripguard/compensation"
)

// 审计与日志中使用的动作描述
const (
	actionStatusPaymentFailed    = "Updated booking request status to payment_failed"
	actionNotifiedPaymentFailed  = "Sent payment failure notification to user"
	actionRefundInitiated        = "Initiated payment refund due to booking failure"
	actionRefundFailed           = "Failed to process refund - manual intervention required"
	actionStatusBookingFailed    = "Updated booking request status to booking_failed"
	actionNotifiedBookingFailed  = "Sent booking failure notification to user"
	actionLoggedNotification     = "Logged notification failure for successful booking"
	actionNotificationRetried    = "Successfully retried booking confirmation notification"
	actionNotificationRetryFail  = "Failed to retry notification - user may need manual contact"
	actionPrecautionaryRefund    = "Executed precautionary refund for unknown failure"
	actionPrecautionaryRefundErr = "Failed precautionary refund - urgent manual review required"
	actionLoggedUnknown          = "Logged unknown failure for manual review"
	actionStatusManualReview     = "Updated booking request status to requires_manual_review"
)

// Coordinator 补偿协调器，可并发使用
type Coordinator struct {
	services   Services
	logger     clog.Logger
	clock      clock.Clock
	timeout    time.Duration
	tracer     oteltrace.Tracer
	executions metrics.Counter
	duration   metrics.Histogram
}

// New 创建补偿协调器
func New(services Services, opts ...Option) (*Coordinator, error) {
	if services.Store == nil || services.Audit == nil {
		return nil, ErrStoreRequired
	}

	o := &options{
		logger:  clog.Discard(),
		meter:   metrics.Discard(),
		clock:   clock.Real(),
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}

	executions, err := o.meter.Counter(MetricExecutionsTotal, "Saga compensations executed")
	if err != nil {
		return nil, err
	}
	duration, err := o.meter.Histogram(MetricDuration, "Saga compensation duration", metrics.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	if services.Refunders == nil {
		services.Refunders = map[Provider]Refunder{}
	}

	return &Coordinator{
		services:   services,
		logger:     o.logger,
		clock:      o.clock,
		timeout:    o.timeout,
		tracer:     otel.Tracer(tracerName),
		executions: executions,
		duration:   duration,
	}, nil
}

// run 单次补偿的累积状态
type run struct {
	cctx    Context
	reason  string
	actions []string
	errs    []string
	manual  bool
}

func (r *run) action(a string) {
	r.actions = append(r.actions, a)
}

func (r *run) fail(err error) {
	r.errs = append(r.errs, err.Error())
}

func (r *run) result() Result {
	return Result{
		Success:                    len(r.errs) == 0,
		ActionsExecuted:            append([]string{}, r.actions...),
		Errors:                     append([]string{}, r.errs...),
		RequiresManualIntervention: r.manual,
	}
}

// Execute 按失败阶段执行补偿，结果总会写入审计日志
//
// 补偿使用与调用方取消解耦的 Context，调用方超时不会中断退款。
func (c *Coordinator) Execute(ctx context.Context, cctx Context, stage Stage, reason string) Result {
	stage = ParseStage(string(stage))
	start := c.clock.Now()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()
	ctx = clog.WithTripRequestID(ctx, cctx.TripRequestID)
	if cctx.BookingRequestID != "" {
		ctx = clog.WithBookingID(ctx, cctx.BookingRequestID)
	}
	if cctx.UserID != "" {
		ctx = clog.WithUserID(ctx, cctx.UserID)
	}

	ctx, span := c.tracer.Start(ctx, "compensation.execute", oteltrace.WithAttributes(
		attribute.String("compensation.stage", stage.String()),
		attribute.String("trip_request_id", cctx.TripRequestID),
		attribute.Bool("compensation.has_payment", !cctx.Payment.IsZero()),
	))
	defer span.End()

	c.logger.InfoContext(ctx, "saga compensation started",
		clog.String("stage", stage.String()),
		clog.String("reason", reason),
		clog.String("payment", cctx.Payment.String()))

	r := &run{cctx: cctx, reason: reason}
	c.runStage(ctx, r, stage)
	result := r.result()

	c.appendAudit(ctx, cctx, stage, reason, result)

	outcome := "success"
	if !result.Success {
		outcome = "failure"
		span.SetStatus(codes.Error, "compensation finished with errors")
	}
	span.SetAttributes(attribute.Bool("compensation.manual_intervention", result.RequiresManualIntervention))

	labels := []metrics.Label{metrics.L("stage", stage.String()), metrics.L("outcome", outcome)}
	c.executions.Inc(ctx, labels...)
	c.duration.Record(ctx, c.clock.Now().Sub(start).Seconds(), metrics.L("stage", stage.String()))

	logFields := []clog.Field{
		clog.String("stage", stage.String()),
		clog.Int("actions", len(result.ActionsExecuted)),
		clog.Strings("errors", result.Errors),
		clog.Bool("manual_intervention", result.RequiresManualIntervention),
	}
	if result.RequiresManualIntervention {
		c.logger.ErrorContext(ctx, "saga compensation requires manual intervention", logFields...)
	} else {
		c.logger.InfoContext(ctx, "saga compensation finished", logFields...)
	}
	return result
}

func (c *Coordinator) runStage(ctx context.Context, r *run, stage Stage) {
	defer func() {
		if p := recover(); p != nil {
			r.fail(fmt.Errorf("compensation panicked: %v", p))
			r.manual = true
			c.logger.ErrorContext(ctx, "saga compensation panicked", clog.Any("panic", p))
		}
	}()

	switch stage {
	case StagePayment:
		c.compensatePayment(ctx, r)
	case StageBooking:
		c.compensateBooking(ctx, r)
	case StageNotification:
		c.compensateNotification(ctx, r)
	default:
		c.compensateUnknown(ctx, r)
		r.manual = true
	}
}

// 扣款阶段：没有资金移动，只更新状态并通知用户
func (c *Coordinator) compensatePayment(ctx context.Context, r *run) {
	if c.updateStatus(ctx, r, StatusPaymentFailed, r.reason) {
		r.action(actionStatusPaymentFailed)
	}

	err := c.notify(ctx, r, NotificationPaymentFailed, map[string]any{
		"reason":          r.reason,
		"trip_request_id": r.cctx.TripRequestID,
	})
	if err == nil {
		r.action(actionNotifiedPaymentFailed)
	}
}

// 出票阶段：已扣款，必须退款
func (c *Coordinator) compensateBooking(ctx context.Context, r *run) {
	hasPayment := !r.cctx.Payment.IsZero()
	if hasPayment {
		if err := c.refund(ctx, r.cctx); err != nil {
			r.action(actionRefundFailed)
			r.fail(fmt.Errorf("refund failed: %w", err))
			r.manual = true
		} else {
			r.action(actionRefundInitiated)
		}
	}

	if c.updateStatus(ctx, r, StatusBookingFailed, r.reason) {
		r.action(actionStatusBookingFailed)
	}

	err := c.notify(ctx, r, NotificationBookingFailed, map[string]any{
		"reason":           r.reason,
		"trip_request_id":  r.cctx.TripRequestID,
		"refund_initiated": hasPayment,
	})
	if err == nil {
		r.action(actionNotifiedBookingFailed)
	}
}

// 通知阶段：预订已成功，只重试一次确认通知
func (c *Coordinator) compensateNotification(ctx context.Context, r *run) {
	c.logger.WarnContext(ctx, "notification failed for successful booking", clog.String("reason", r.reason))
	r.action(actionLoggedNotification)

	if c.services.Notifier == nil || r.cctx.OrderID == "" {
		return
	}
	err := c.notify(ctx, r, NotificationBookingConfirmed, map[string]any{
		"order_id":        r.cctx.OrderID,
		"trip_request_id": r.cctx.TripRequestID,
	})
	if err != nil {
		r.action(actionNotificationRetryFail)
		return
	}
	r.action(actionNotificationRetried)
}

// 未知阶段：有支付就预防性退款，并标记人工复核
func (c *Coordinator) compensateUnknown(ctx context.Context, r *run) {
	c.logger.ErrorContext(ctx, "unknown booking failure", clog.String("reason", r.reason))

	if !r.cctx.Payment.IsZero() {
		if err := c.refund(ctx, r.cctx); err != nil {
			r.action(actionPrecautionaryRefundErr)
			r.fail(fmt.Errorf("precautionary refund failed: %w", err))
		} else {
			r.action(actionPrecautionaryRefund)
		}
	}

	r.action(actionLoggedUnknown)

	if c.updateStatus(ctx, r, StatusRequiresManualReview, "Unknown failure: "+r.reason) {
		r.action(actionStatusManualReview)
	}
}

// updateStatus 更新预订请求状态，没有 BookingRequestID 时跳过
//
// 更新失败记入错误并要求人工介入，后续步骤照常执行。
func (c *Coordinator) updateStatus(ctx context.Context, r *run, status, message string) bool {
	if r.cctx.BookingRequestID == "" {
		return false
	}
	if err := c.services.Store.UpdateBookingStatus(ctx, r.cctx.BookingRequestID, status, message); err != nil {
		c.logger.ErrorContext(ctx, "update booking status failed", clog.String("status", status), clog.Error(err))
		r.fail(fmt.Errorf("update booking status to %s: %w", status, err))
		r.manual = true
		return false
	}
	return true
}

// notify 通知失败只记录日志，不影响补偿结果
func (c *Coordinator) notify(ctx context.Context, r *run, notificationType string, payload map[string]any) error {
	if c.services.Notifier == nil {
		return ErrNoNotifier
	}
	err := c.services.Notifier.SendNotification(ctx, r.cctx.UserID, notificationType, payload)
	if err != nil {
		c.logger.WarnContext(ctx, "send compensation notification failed",
			clog.String("type", notificationType), clog.Error(err))
	}
	return err
}

func (c *Coordinator) refund(ctx context.Context, cctx Context) error {
	payment := cctx.Payment
	if payment.IsZero() {
		return ErrNoPayment
	}
	refunder, ok := c.services.Refunders[payment.Provider]
	if !ok || refunder == nil {
		return fmt.Errorf("%w: %s", ErrNoRefundProvider, payment)
	}

	req := RefundRequest{
		PaymentID: payment.ID,
		Currency:  cctx.Currency,
		Reason:    RefundReason,
		Metadata: map[string]string{
			"reason":          "booking_failure_compensation",
			"trip_request_id": cctx.TripRequestID,
		},
		IdempotencyKey: "refund:" + string(payment.Provider) + ":" + payment.ID,
	}
	if cctx.Amount != nil {
		minor := MinorUnits(*cctx.Amount, cctx.Currency)
		req.AmountMinor = &minor
	}

	refund, err := refunder.Refund(ctx, req)
	if err != nil {
		c.logger.ErrorContext(ctx, "refund failed", clog.String("payment", payment.String()), clog.Error(err))
		return err
	}

	fields := []clog.Field{clog.String("payment", payment.String())}
	if refund != nil {
		fields = append(fields, clog.String("refund_id", refund.ID), clog.String("refund_status", refund.Status))
	}
	if req.AmountMinor != nil {
		fields = append(fields, clog.Int64("amount_minor", *req.AmountMinor))
	}
	c.logger.InfoContext(ctx, "refund created", fields...)
	return nil
}

func (c *Coordinator) appendAudit(ctx context.Context, cctx Context, stage Stage, reason string, result Result) {
	defer func() {
		if p := recover(); p != nil {
			c.logger.ErrorContext(ctx, "append compensation audit panicked", clog.Any("panic", p))
		}
	}()

	record := &AuditRecord{
		ID:                         uuid.NewString(),
		TripRequestID:              cctx.TripRequestID,
		BookingRequestID:           cctx.BookingRequestID,
		CompensationType:           CompensationTypeSaga,
		FailureStage:               stage,
		FailureReason:              reason,
		ActionsExecuted:            result.ActionsExecuted,
		Errors:                     result.Errors,
		RequiresManualIntervention: result.RequiresManualIntervention,
		CreatedAt:                  c.clock.Now(),
	}
	if err := c.services.Audit.Append(ctx, record); err != nil {
		c.logger.ErrorContext(ctx, "append compensation audit failed", clog.String("audit_id", record.ID), clog.Error(err))
	}
}

// CompensatePaymentFailure 扣款阶段失败的补偿
func (c *Coordinator) CompensatePaymentFailure(ctx context.Context, cctx Context, reason string) Result {
	return c.Execute(ctx, cctx, StagePayment, reason)
}

// CompensateBookingFailure 出票阶段失败的补偿
func (c *Coordinator) CompensateBookingFailure(ctx context.Context, cctx Context, reason string) Result {
	return c.Execute(ctx, cctx, StageBooking, reason)
}

// CompensateNotificationFailure 通知阶段失败的补偿
func (c *Coordinator) CompensateNotificationFailure(ctx context.Context, cctx Context, reason string) Result {
	return c.Execute(ctx, cctx, StageNotification, reason)
}
