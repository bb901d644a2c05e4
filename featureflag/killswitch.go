package featureflag

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/ceyewan/tripguard/clog"
	"github.com/ceyewan/tripguard/metrics"
	"github.com/ceyewan/tripguard/xerrors"
)

// 紧急开关的键，取值为对应功能是否启用，默认 true
const (
	FlagGlobalKillSwitch      = "emergency-global-kill-switch"
	FlagAutoBookingKillSwitch = "emergency-auto-booking-kill-switch"
	FlagUserKillSwitch        = "emergency-user-kill-switch"
	FlagPaymentKillSwitch     = "emergency-payment-kill-switch"
	FlagDuffelKillSwitch      = "emergency-duffel-kill-switch"
)

// Level 开关级别
type Level string

const (
	LevelGlobal  Level = "global"
	LevelFeature Level = "feature"
	LevelUser    Level = "user"
)

// 组件名，用于 SystemStatus 与 DisabledError
const (
	ComponentGlobal            = "global"
	ComponentAutoBooking       = "auto_booking"
	ComponentPaymentProcessing = "payment_processing"
	ComponentBookingProvider   = "booking_provider"
	ComponentUser              = "user"
)

// RetryAfter 紧急开关生效时建议客户端的重试间隔
const RetryAfter = 5 * time.Minute

// MetricChecksTotal 开关检查次数 (Counter)
const MetricChecksTotal = "kill_switch_checks_total"

// ErrKillSwitchActive 紧急开关已生效
var ErrKillSwitchActive = xerrors.New("featureflag: emergency kill switch active")

// Status 单个开关的状态
type Status struct {
	Enabled bool   `json:"enabled"`
	Level   Level  `json:"level"`
	Reason  string `json:"reason,omitempty"`
}

// SystemStatus 全部开关的状态
type SystemStatus struct {
	Overall    bool              `json:"overall"`
	Components map[string]Status `json:"components"`
}

// DisabledComponent 被关闭的组件
type DisabledComponent struct {
	Name   string `json:"name"`
	Reason string `json:"reason,omitempty"`
}

// DisabledError 自动预订被紧急开关拦截
type DisabledError struct {
	Components []DisabledComponent
	RetryAfter time.Duration
}

func (e *DisabledError) Error() string {
	names := make([]string, 0, len(e.Components))
	for _, c := range e.Components {
		names = append(names, c.Name)
	}
	return fmt.Sprintf("auto-booking disabled by emergency kill switch (%s)", strings.Join(names, ", "))
}

func (e *DisabledError) Unwrap() error { return ErrKillSwitchActive }

// Code 机器码
func (e *DisabledError) Code() string { return xerrors.CodeKillSwitchActive }

type feature struct {
	component string
	flag      string
}

var (
	featureAutoBooking     = feature{ComponentAutoBooking, FlagAutoBookingKillSwitch}
	featurePayment         = feature{ComponentPaymentProcessing, FlagPaymentKillSwitch}
	featureBookingProvider = feature{ComponentBookingProvider, FlagDuffelKillSwitch}
)

// KillSwitch 预订管道的分级紧急开关
//
// 全局和功能开关查询失败时按关闭处理，用户开关查询失败时按开启处理。
type KillSwitch struct {
	provider Provider
	logger   clog.Logger
	tracer   oteltrace.Tracer
	checks   metrics.Counter
}

// KillSwitchOption KillSwitch 选项
type KillSwitchOption func(*KillSwitch)

// WithLogger 设置 Logger
func WithLogger(logger clog.Logger) KillSwitchOption {
	return func(k *KillSwitch) {
		if logger != nil {
			k.logger = logger.WithNamespace("killswitch")
		}
	}
}

// WithMeter 设置指标
func WithMeter(meter metrics.Meter) KillSwitchOption {
	return func(k *KillSwitch) {
		if meter == nil {
			return
		}
		if counter, err := meter.Counter(MetricChecksTotal, "Emergency kill switch checks"); err == nil {
			k.checks = counter
		}
	}
}

// NewKillSwitch 创建紧急开关
func NewKillSwitch(provider Provider, opts ...KillSwitchOption) *KillSwitch {
	noop, _ := metrics.Discard().Counter(MetricChecksTotal, "")
	k := &KillSwitch{
		provider: provider,
		logger:   clog.Discard(),
		tracer:   otel.Tracer("tripguard/featureflag"),
		checks:   noop,
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// AutoBookingEnabled 依次检查全局、自动预订、用户开关
func (k *KillSwitch) AutoBookingEnabled(ctx context.Context, userID string) bool {
	_, disabled := k.evaluateAutoBooking(ctx, userID)
	return disabled == nil
}

// PaymentProcessingEnabled 检查全局与支付开关
func (k *KillSwitch) PaymentProcessingEnabled(ctx context.Context) bool {
	return k.featureEnabled(ctx, featurePayment)
}

// BookingProviderEnabled 检查全局与出票供应商开关
func (k *KillSwitch) BookingProviderEnabled(ctx context.Context) bool {
	return k.featureEnabled(ctx, featureBookingProvider)
}

// CanProceedWithAutoBooking 自动预订被拦截时返回 *DisabledError
func (k *KillSwitch) CanProceedWithAutoBooking(ctx context.Context, userID string) error {
	_, disabled := k.evaluateAutoBooking(ctx, userID)
	if disabled == nil {
		return nil
	}
	status := k.SystemStatus(ctx, userID)
	names := make([]string, 0, len(status.Components))
	for name := range status.Components {
		names = append(names, name)
	}
	sort.Strings(names)

	err := &DisabledError{RetryAfter: RetryAfter}
	for _, name := range names {
		if s := status.Components[name]; !s.Enabled {
			err.Components = append(err.Components, DisabledComponent{Name: name, Reason: s.Reason})
		}
	}
	if len(err.Components) == 0 {
		err.Components = []DisabledComponent{{Name: disabled.component, Reason: disabled.status.Reason}}
	}
	return err
}

// SystemStatus 汇总全部开关，userID 非空时包含用户开关
func (k *KillSwitch) SystemStatus(ctx context.Context, userID string) SystemStatus {
	components := map[string]Status{
		ComponentGlobal:            k.global(ctx),
		ComponentAutoBooking:       k.feature(ctx, featureAutoBooking),
		ComponentPaymentProcessing: k.feature(ctx, featurePayment),
		ComponentBookingProvider:   k.feature(ctx, featureBookingProvider),
	}
	if userID != "" {
		components[ComponentUser] = k.user(ctx, userID)
	}

	overall := true
	for _, s := range components {
		overall = overall && s.Enabled
	}
	k.logger.InfoContext(ctx, "kill switch system status", clog.Bool("overall", overall), clog.String("user_id", userID))
	return SystemStatus{Overall: overall, Components: components}
}

type disabledBy struct {
	component string
	status    Status
}

func (k *KillSwitch) evaluateAutoBooking(ctx context.Context, userID string) (Status, *disabledBy) {
	ctx, span := k.tracer.Start(ctx, "kill_switch.check_auto_booking", oteltrace.WithAttributes(
		attribute.String("kill_switch.feature", ComponentAutoBooking),
	))
	defer span.End()

	if s := k.global(ctx); !s.Enabled {
		k.triggered(ctx, span, ComponentGlobal, s)
		return s, &disabledBy{ComponentGlobal, s}
	}
	if s := k.feature(ctx, featureAutoBooking); !s.Enabled {
		k.triggered(ctx, span, ComponentAutoBooking, s)
		return s, &disabledBy{ComponentAutoBooking, s}
	}
	if userID != "" {
		if s := k.user(ctx, userID); !s.Enabled {
			k.triggered(ctx, span, ComponentUser, s)
			return s, &disabledBy{ComponentUser, s}
		}
	}

	span.SetAttributes(attribute.Bool("kill_switch.triggered", false))
	return Status{Enabled: true, Level: LevelFeature}, nil
}

func (k *KillSwitch) featureEnabled(ctx context.Context, f feature) bool {
	ctx, span := k.tracer.Start(ctx, "kill_switch.check_"+f.component)
	defer span.End()

	if s := k.global(ctx); !s.Enabled {
		k.triggered(ctx, span, ComponentGlobal, s)
		return false
	}
	s := k.feature(ctx, f)
	if !s.Enabled {
		k.triggered(ctx, span, f.component, s)
		return false
	}
	span.SetAttributes(attribute.Bool("kill_switch.triggered", false))
	return true
}

func (k *KillSwitch) triggered(ctx context.Context, span oteltrace.Span, component string, s Status) {
	span.SetAttributes(
		attribute.Bool("kill_switch.triggered", true),
		attribute.String("kill_switch.level", string(s.Level)),
	)
	k.logger.WarnContext(ctx, "emergency kill switch active",
		clog.String("component", component),
		clog.String("level", string(s.Level)),
		clog.String("reason", s.Reason))
}

func (k *KillSwitch) global(ctx context.Context) Status {
	enabled, err := k.provider.BoolFlag(ctx, FlagGlobalKillSwitch, "", true)
	if err != nil {
		k.record(ctx, ComponentGlobal, "error")
		k.logger.ErrorContext(ctx, "check global kill switch failed", clog.Error(err))
		return Status{Enabled: false, Level: LevelGlobal, Reason: "Kill switch check failed - failing closed for safety"}
	}
	k.record(ctx, ComponentGlobal, result(enabled))
	if !enabled {
		return Status{Enabled: false, Level: LevelGlobal, Reason: "Global emergency kill switch activated"}
	}
	return Status{Enabled: true, Level: LevelGlobal}
}

func (k *KillSwitch) feature(ctx context.Context, f feature) Status {
	enabled, err := k.provider.BoolFlag(ctx, f.flag, "", true)
	if err != nil {
		k.record(ctx, f.component, "error")
		k.logger.ErrorContext(ctx, "check feature kill switch failed", clog.String("feature", f.component), clog.Error(err))
		return Status{Enabled: false, Level: LevelFeature, Reason: f.component + " kill switch check failed - failing closed for safety"}
	}
	k.record(ctx, f.component, result(enabled))
	if !enabled {
		return Status{Enabled: false, Level: LevelFeature, Reason: f.component + " emergency kill switch activated"}
	}
	return Status{Enabled: true, Level: LevelFeature}
}

func (k *KillSwitch) user(ctx context.Context, userID string) Status {
	enabled, err := k.provider.BoolFlag(ctx, FlagUserKillSwitch, userID, true)
	if err != nil {
		k.record(ctx, ComponentUser, "error")
		k.logger.ErrorContext(ctx, "check user kill switch failed", clog.String("user_id", userID), clog.Error(err))
		return Status{Enabled: true, Level: LevelUser}
	}
	k.record(ctx, ComponentUser, result(enabled))
	if !enabled {
		return Status{Enabled: false, Level: LevelUser, Reason: "User " + userID + " emergency kill switch activated"}
	}
	return Status{Enabled: true, Level: LevelUser}
}

func (k *KillSwitch) record(ctx context.Context, component, outcome string) {
	k.checks.Inc(ctx, metrics.L("component", component), metrics.L("result", outcome))
}

func result(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}
