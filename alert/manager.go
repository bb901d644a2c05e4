package alert

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/ceyewan/tripguard/clock"
	"github.com/ceyewan/tripguard/clog"
	"github.com/ceyewan/tripguard/featureflag"
	"github.com/ceyewan/tripguard/metrics"
)

// 指标名
const (
	MetricAlertsTotal        = "booking_alerts_total"
	MetricChannelErrorsTotal = "booking_alert_channel_errors_total"
)

// Manager 预订告警管理器，并发安全
type Manager struct {
	cfg    Config
	slack  Channel
	email  Channel
	flags  featureflag.Provider
	clock  clock.Clock
	logger clog.Logger
	tracer oteltrace.Tracer

	alerts        metrics.Counter
	channelErrors metrics.Counter

	wg sync.WaitGroup
}

// New 创建告警管理器，cfg 为 nil 时使用 DefaultConfig
func New(cfg *Config, opts ...Option) (*Manager, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := *cfg
	c.setDefaults()

	o := &options{
		logger: clog.Discard(),
		meter:  metrics.Discard(),
		clock:  clock.Real(),
	}
	for _, opt := range opts {
		opt(o)
	}

	alerts, err := o.meter.Counter(MetricAlertsTotal, "Booking alerts dispatched by type")
	if err != nil {
		return nil, err
	}
	channelErrors, err := o.meter.Counter(MetricChannelErrorsTotal, "Booking alert channel delivery failures")
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:           c,
		slack:         o.slack,
		email:         o.email,
		flags:         o.flags,
		clock:         o.clock,
		logger:        o.logger,
		tracer:        otel.Tracer("tripguard/alert"),
		alerts:        alerts,
		channelErrors: channelErrors,
	}
	m.logger.Info("booking alert manager initialized", clog.Strings("channels", m.EnabledChannels()))
	return m, nil
}

// EnabledChannels 返回已配置的通道
func (m *Manager) EnabledChannels() []string {
	var out []string
	if m.slack != nil {
		out = append(out, m.slack.Name())
	}
	if m.email != nil {
		out = append(out, m.email.Name())
	}
	return out
}

// NotifySuccess 发送成功告警，开关关闭时返回 Suppressed
func (m *Manager) NotifySuccess(ctx context.Context, a Alert) Dispatch {
	a = m.normalize(a, TypeSuccess)
	ctx, span := m.tracer.Start(ctx, "booking_alert.notify_success", oteltrace.WithAttributes(
		attribute.String("booking_id", a.BookingID),
		attribute.String("user_id", a.UserID),
		attribute.String("amount", a.Amount.StringFixed(2)),
		attribute.String("currency", a.Currency),
	))
	defer span.End()

	if !m.successEnabled(ctx, a.UserID) {
		m.logger.InfoContext(ctx, "booking success alerts disabled via feature flag",
			clog.String("booking_id", a.BookingID))
		span.SetAttributes(attribute.Bool("suppressed", true))
		return Dispatch{Suppressed: true}
	}

	msg := Message{Title: title(emojiSuccess), Text: formatSuccess(a), Color: ColorGood, Alert: a}
	d := Dispatch{Channels: m.dispatch(ctx, msg, m.slack)}
	m.record(ctx, a.Type, false)

	m.logger.InfoContext(ctx, "booking success notification sent",
		clog.String("booking_id", a.BookingID),
		clog.String("user_id", a.UserID),
		clog.Decimal("amount", a.Amount),
		clog.String("currency", a.Currency),
		clog.Strings("channels", d.Channels))
	return d
}

// NotifyFailure 发送失败告警，高金额或关键原因时升级到邮件
func (m *Manager) NotifyFailure(ctx context.Context, a Alert) Dispatch {
	a = m.normalize(a, TypeFailure)
	ctx, span := m.tracer.Start(ctx, "booking_alert.notify_failure", oteltrace.WithAttributes(
		attribute.String("booking_id", a.BookingID),
		attribute.String("user_id", a.UserID),
		attribute.String("failure_reason", reasonOrUnknown(a.Reason)),
	))
	defer span.End()

	highValue := m.isHighValue(a)
	escalated := highValue || m.IsCriticalFailure(a.Reason)

	color := ColorWarning
	if escalated {
		color = ColorDanger
	}
	msg := Message{Title: title(emojiFailure), Text: formatFailure(a), Color: color, Escalated: escalated, Alert: a}

	d := Dispatch{Escalated: escalated}
	channels := []Channel{m.slack}
	if escalated {
		d.EscalationReason = EscalationCriticalFailure
		if highValue {
			d.EscalationReason = EscalationHighValue
		}
		channels = append(channels, m.email)
		span.SetAttributes(
			attribute.Bool("escalated", true),
			attribute.String("escalation_reason", d.EscalationReason),
		)
	}
	d.Channels = m.dispatch(ctx, msg, channels...)
	m.record(ctx, a.Type, escalated)

	m.logger.ErrorContext(ctx, "booking failure notification sent",
		clog.String("booking_id", a.BookingID),
		clog.String("user_id", a.UserID),
		clog.Decimal("amount", a.Amount),
		clog.String("currency", a.Currency),
		clog.String("reason", a.Reason),
		clog.Bool("escalated", escalated),
		clog.Strings("channels", d.Channels))
	return d
}

// NotifyWarning 发送警告告警
func (m *Manager) NotifyWarning(ctx context.Context, a Alert) Dispatch {
	a = m.normalize(a, TypeWarning)
	ctx, span := m.tracer.Start(ctx, "booking_alert.notify_warning", oteltrace.WithAttributes(
		attribute.String("booking_id", a.BookingID),
		attribute.String("warning_reason", reasonOrUnknown(a.Reason)),
	))
	defer span.End()

	msg := Message{Title: title(emojiWarning), Text: formatWarning(a), Color: ColorWarning, Alert: a}
	d := Dispatch{Channels: m.dispatch(ctx, msg, m.slack)}
	m.record(ctx, a.Type, false)

	m.logger.WarnContext(ctx, "booking warning notification sent",
		clog.String("booking_id", a.BookingID),
		clog.String("reason", a.Reason))
	return d
}

// IsCriticalFailure 原因包含任一关键模式（大小写不敏感）
func (m *Manager) IsCriticalFailure(reason string) bool {
	if reason == "" {
		return false
	}
	lower := strings.ToLower(reason)
	for _, p := range m.cfg.CriticalPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// ShouldEscalate 失败告警是否需要升级到邮件
func (m *Manager) ShouldEscalate(a Alert) bool {
	return m.isHighValue(a) || m.IsCriticalFailure(a.Reason)
}

// Wait 等待所有在途发送结束
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) isHighValue(a Alert) bool {
	return a.Amount.GreaterThanOrEqual(m.cfg.HighValueThreshold)
}

func (m *Manager) normalize(a Alert, t Type) Alert {
	a.Type = t
	if a.Timestamp.IsZero() {
		a.Timestamp = m.clock.Now()
	}
	return a
}

func (m *Manager) successEnabled(ctx context.Context, userID string) bool {
	if m.flags == nil {
		return true
	}
	enabled, err := m.flags.BoolFlag(ctx, m.cfg.SuccessFlagKey, userID, true)
	if err != nil {
		m.logger.WarnContext(ctx, "evaluate success alert flag failed, using default",
			clog.String("flag", m.cfg.SuccessFlagKey), clog.Error(err))
	}
	return enabled
}

// dispatch 异步发送到每个非空通道，返回已提交的通道名
func (m *Manager) dispatch(ctx context.Context, msg Message, channels ...Channel) []string {
	detached := context.WithoutCancel(ctx)
	names := make([]string, 0, len(channels))
	for _, ch := range channels {
		if ch == nil {
			continue
		}
		names = append(names, ch.Name())

		m.wg.Add(1)
		go func(ch Channel) {
			defer m.wg.Done()
			sendCtx, cancel := context.WithTimeout(detached, m.cfg.DispatchTimeout)
			defer cancel()

			if err := m.send(sendCtx, ch, msg); err != nil {
				m.channelErrors.Inc(sendCtx, metrics.L("channel", ch.Name()))
				m.logger.ErrorContext(sendCtx, "failed to send booking alert",
					clog.String("channel", ch.Name()),
					clog.String("booking_id", msg.Alert.BookingID),
					clog.Error(err))
			}
		}(ch)
	}
	return names
}

func (m *Manager) send(ctx context.Context, ch Channel, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("alert channel %s panicked: %v", ch.Name(), r)
		}
	}()
	return ch.Send(ctx, msg)
}

func (m *Manager) record(ctx context.Context, t Type, escalated bool) {
	m.alerts.Inc(ctx, metrics.L("type", string(t)), metrics.L("escalated", strconv.FormatBool(escalated)))
}
