package breaker

import (
	"context"

	"github.com/ceyewan/tripguard/metrics"
)

const (
	// MetricRequestsTotal 调用次数 (Counter)，result=success|failure|rejected
	MetricRequestsTotal = "breaker_requests_total"

	// MetricStateChanges 状态变更次数 (Counter)
	MetricStateChanges = "breaker_state_changes_total"

	// MetricState 当前状态 (Gauge)：0=closed 1=half_open 2=open
	MetricState = "breaker_state"

	LabelBreaker   = "breaker"
	LabelResult    = "result"
	LabelFromState = "from_state"
	LabelToState   = "to_state"

	resultSuccess  = "success"
	resultFailure  = "failure"
	resultRejected = "rejected"
)

type instruments struct {
	requests     metrics.Counter
	stateChanges metrics.Counter
	state        metrics.Gauge
}

func newInstruments(meter metrics.Meter) (*instruments, error) {
	requests, err := meter.Counter(MetricRequestsTotal, "Calls guarded by circuit breakers")
	if err != nil {
		return nil, err
	}
	stateChanges, err := meter.Counter(MetricStateChanges, "Circuit breaker state transitions")
	if err != nil {
		return nil, err
	}
	state, err := meter.Gauge(MetricState, "Current circuit breaker state")
	if err != nil {
		return nil, err
	}
	return &instruments{requests: requests, stateChanges: stateChanges, state: state}, nil
}

func (i *instruments) observe(ctx context.Context, name, result string) {
	i.requests.Inc(ctx, metrics.L(LabelBreaker, name), metrics.L(LabelResult, result))
}

func (i *instruments) transition(ctx context.Context, name string, from, to State) {
	i.stateChanges.Inc(ctx,
		metrics.L(LabelBreaker, name),
		metrics.L(LabelFromState, from.String()),
		metrics.L(LabelToState, to.String()),
	)
	i.state.Set(ctx, float64(to), metrics.L(LabelBreaker, name))
}
