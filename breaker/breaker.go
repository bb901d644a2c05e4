// Package breaker 为外部依赖调用提供熔断保护。
//
// 每个依赖（支付、出票、搜索、通知）对应一个命名熔断器，状态机为：
//
//	CLOSED --(满足熔断条件)--> OPEN --(RecoveryTimeout 到期)--> HALF_OPEN
//	HALF_OPEN --(SuccessThreshold 次成功)--> CLOSED
//	HALF_OPEN --(任意失败)--> OPEN
//
// 熔断条件在失败后评估，且仅当 TotalRequests >= MinimumRequests：
// 连续失败 >= FailureThreshold，或 MonitoringPeriod 内失败率 >= FailureThreshold/MinimumRequests。
//
// 熔断器从不吞掉真实错误，只有拒绝调用时才返回 *OpenError。
//
// 基本使用：
//
//	reg := breaker.NewRegistry(breaker.WithLogger(logger))
//	cb, _ := reg.Get("payment", breaker.CriticalAPI())
//	ref, err := breaker.Do(ctx, cb, func(ctx context.Context) (string, error) {
//		return gateway.Charge(ctx, req)
//	})
//	if breaker.IsOpen(err) {
//		// 依赖暂不可用，稍后重试
//	}
package breaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ceyewan/tripguard/clock"
	"github.com/ceyewan/tripguard/clog"
)

// State 熔断器状态
type State int

const (
	// StateClosed 闭合状态（正常）
	StateClosed State = iota
	// StateHalfOpen 半开状态（探测恢复）
	StateHalfOpen
	// StateOpen 打开状态（熔断中）
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// MarshalText 使 State 以字符串形式序列化
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Metrics 熔断器只读快照
type Metrics struct {
	Name                       string    `json:"name"`
	State                      State     `json:"state"`
	TotalRequests              int       `json:"total_requests"`
	SuccessCount               int       `json:"success_count"`
	FailureCount               int       `json:"failure_count"`
	ConsecutiveFailures        int       `json:"consecutive_failures"`
	SuccessfulRecoveryAttempts int       `json:"successful_recovery_attempts"`
	LastFailureTime            time.Time `json:"last_failure_time"`
	NextAttemptTime            time.Time `json:"next_attempt_time"`
	FailureRate                float64   `json:"failure_rate"`
}

// CircuitBreaker 单个依赖的熔断器，并发安全
//
// 状态修改都在 mu 内完成，被包装的操作在锁外执行。
type CircuitBreaker struct {
	name          string
	cfg           Config
	logger        clog.Logger
	clock         clock.Clock
	inst          *instruments
	onStateChange StateChangeFunc

	mu                  sync.Mutex
	state               State
	generation          uint64
	totalRequests       int
	successCount        int
	failureCount        int
	consecutiveFailures int
	recoveryAttempts    int
	probes              int
	lastFailureTime     time.Time
	nextAttemptTime     time.Time
	history             history
}

type transition struct {
	from, to State
}

// New 创建熔断器
func New(name string, cfg Config, opts ...Option) (*CircuitBreaker, error) {
	if name == "" {
		return nil, ErrNameEmpty
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return newBreaker(name, cfg, o)
}

func newBreaker(name string, cfg Config, o *options) (*CircuitBreaker, error) {
	inst, err := newInstruments(o.meter)
	if err != nil {
		return nil, fmt.Errorf("breaker: create instruments: %w", err)
	}

	cb := &CircuitBreaker{
		name:          name,
		cfg:           cfg,
		logger:        o.logger.With(clog.String("breaker", name)),
		clock:         o.clock,
		inst:          inst,
		onStateChange: o.onStateChange,
	}

	cb.logger.Info("circuit breaker created",
		clog.Int("failure_threshold", cfg.FailureThreshold),
		clog.Duration("recovery_timeout", cfg.RecoveryTimeout),
		clog.Duration("monitoring_period", cfg.MonitoringPeriod),
		clog.Int("minimum_requests", cfg.MinimumRequests),
		clog.Int("success_threshold", cfg.SuccessThreshold))

	return cb, nil
}

// Name 熔断器名称
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Config 熔断器配置
func (cb *CircuitBreaker) Config() Config {
	return cb.cfg
}

// Execute 执行受熔断保护的操作
//
// 熔断打开时直接返回 *OpenError，fn 不会被调用；否则返回 fn 的原始错误。
// fn panic 时记为一次失败后继续向上 panic。
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	generation, err := cb.beforeRequest(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			cb.afterRequest(ctx, generation, false, fmt.Errorf("panic: %v", r))
			panic(r)
		}
	}()

	err = fn(ctx)
	cb.afterRequest(ctx, generation, err == nil, err)
	return err
}

// Do 是 Execute 的泛型版本，返回 fn 的结果
func Do[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := cb.Execute(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

func (cb *CircuitBreaker) beforeRequest(ctx context.Context) (uint64, error) {
	cb.mu.Lock()
	now := cb.clock.Now()

	var transitions []transition
	if cb.state == StateOpen && !now.Before(cb.nextAttemptTime) {
		transitions = append(transitions, cb.setState(StateHalfOpen))
	}

	var rejected *OpenError
	switch {
	case cb.state == StateOpen:
		rejected = &OpenError{Name: cb.name, State: StateOpen, RetryAt: cb.nextAttemptTime}
	case cb.state == StateHalfOpen && cb.probes >= cb.cfg.SuccessThreshold:
		// 半开状态只放行有限的探测请求
		rejected = &OpenError{Name: cb.name, State: StateHalfOpen, RetryAt: now}
	}

	if rejected == nil {
		if cb.state == StateHalfOpen {
			cb.probes++
		}
		cb.totalRequests++
	}
	generation := cb.generation
	cb.mu.Unlock()

	cb.emit(ctx, transitions)

	if rejected != nil {
		cb.inst.observe(ctx, cb.name, resultRejected)
		cb.logger.InfoContext(ctx, "call rejected by circuit breaker",
			clog.String("state", rejected.State.String()),
			clog.Time("retry_at", rejected.RetryAt))
		return 0, rejected
	}
	return generation, nil
}

func (cb *CircuitBreaker) afterRequest(ctx context.Context, generation uint64, success bool, callErr error) {
	cb.mu.Lock()
	now := cb.clock.Now()
	current := generation == cb.generation

	if current && cb.state == StateHalfOpen && cb.probes > 0 {
		cb.probes--
	}

	var transitions []transition
	if success {
		transitions = cb.onSuccess(now, current)
	} else {
		transitions = cb.onFailure(now, current)
	}
	cb.mu.Unlock()

	cb.emit(ctx, transitions)

	if success {
		cb.inst.observe(ctx, cb.name, resultSuccess)
		cb.logger.DebugContext(ctx, "call succeeded")
	} else {
		cb.inst.observe(ctx, cb.name, resultFailure)
		cb.logger.WarnContext(ctx, "call failed", clog.Error(callErr))
	}
}

// onSuccess 必须持有 mu
func (cb *CircuitBreaker) onSuccess(now time.Time, current bool) []transition {
	cb.successCount++
	cb.consecutiveFailures = 0
	cb.history.record(now, true, 2*cb.cfg.MonitoringPeriod)

	if current && cb.state == StateHalfOpen {
		cb.recoveryAttempts++
		if cb.recoveryAttempts >= cb.cfg.SuccessThreshold {
			t := cb.setState(StateClosed)
			cb.resetCounters()
			return []transition{t}
		}
	}
	return nil
}

// onFailure 必须持有 mu
func (cb *CircuitBreaker) onFailure(now time.Time, current bool) []transition {
	cb.failureCount++
	cb.consecutiveFailures++
	cb.lastFailureTime = now
	cb.history.record(now, false, 2*cb.cfg.MonitoringPeriod)

	if !current {
		return nil
	}

	switch cb.state {
	case StateHalfOpen:
		t := cb.setState(StateOpen)
		cb.nextAttemptTime = now.Add(cb.cfg.RecoveryTimeout)
		return []transition{t}
	case StateClosed:
		if cb.shouldTrip(now) {
			t := cb.setState(StateOpen)
			cb.nextAttemptTime = now.Add(cb.cfg.RecoveryTimeout)
			return []transition{t}
		}
	}
	return nil
}

// shouldTrip 必须持有 mu
func (cb *CircuitBreaker) shouldTrip(now time.Time) bool {
	if cb.totalRequests < cb.cfg.MinimumRequests {
		return false
	}
	if cb.consecutiveFailures >= cb.cfg.FailureThreshold {
		return true
	}
	return cb.history.failureRate(now, cb.cfg.MonitoringPeriod) >= cb.cfg.failureRateThreshold()
}

// setState 必须持有 mu；每次状态变化推进 generation，旧请求的结果不再影响状态机
func (cb *CircuitBreaker) setState(to State) transition {
	from := cb.state
	cb.state = to
	cb.generation++
	cb.recoveryAttempts = 0
	cb.probes = 0
	return transition{from: from, to: to}
}

// resetCounters 必须持有 mu
func (cb *CircuitBreaker) resetCounters() {
	cb.totalRequests = 0
	cb.successCount = 0
	cb.failureCount = 0
	cb.consecutiveFailures = 0
	cb.recoveryAttempts = 0
	cb.probes = 0
	cb.lastFailureTime = time.Time{}
	cb.nextAttemptTime = time.Time{}
	cb.history.reset()
}

func (cb *CircuitBreaker) emit(ctx context.Context, transitions []transition) {
	for _, t := range transitions {
		if t.from == t.to {
			continue
		}
		cb.logger.InfoContext(ctx, "circuit breaker state changed",
			clog.String("from", t.from.String()),
			clog.String("to", t.to.String()))
		cb.inst.transition(ctx, cb.name, t.from, t.to)
		if cb.onStateChange != nil {
			cb.onStateChange(cb.name, t.from, t.to)
		}
	}
}

// State 返回当前状态，不会触发 OPEN -> HALF_OPEN 转换
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Metrics 返回当前快照
func (cb *CircuitBreaker) Metrics() Metrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Metrics{
		Name:                       cb.name,
		State:                      cb.state,
		TotalRequests:              cb.totalRequests,
		SuccessCount:               cb.successCount,
		FailureCount:               cb.failureCount,
		ConsecutiveFailures:        cb.consecutiveFailures,
		SuccessfulRecoveryAttempts: cb.recoveryAttempts,
		LastFailureTime:            cb.lastFailureTime,
		NextAttemptTime:            cb.nextAttemptTime,
		FailureRate:                cb.history.failureRate(cb.clock.Now(), cb.cfg.MonitoringPeriod),
	}
}

// Reset 强制回到 CLOSED 并清零所有计数，用于运维手动恢复
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	t := cb.setState(StateClosed)
	cb.resetCounters()
	cb.mu.Unlock()

	cb.emit(context.Background(), []transition{t})
	cb.logger.Info("circuit breaker manually reset")
}
