package breaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/tripguard/clock"
)

var errUpstream = errors.New("duffel: 502 bad gateway")

func newTestBreaker(t *testing.T, cfg Config, opts ...Option) (*CircuitBreaker, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	cb, err := New("duffel_orders", cfg, append([]Option{WithClock(clk)}, opts...)...)
	require.NoError(t, err)
	return cb, clk
}

func succeed(context.Context) error { return nil }
func fail(context.Context) error    { return errUpstream }

func feed(t *testing.T, cb *CircuitBreaker, pattern ...bool) {
	t.Helper()
	for _, ok := range pattern {
		fn := fail
		if ok {
			fn = succeed
		}
		_ = cb.Execute(context.Background(), fn)
	}
}

func repeat(ok bool, n int) []bool {
	out := make([]bool, n)
	for i := range out {
		out[i] = ok
	}
	return out
}

func TestNewValidatesInput(t *testing.T) {
	_, err := New("", CriticalAPI())
	assert.ErrorIs(t, err, ErrNameEmpty)

	bad := CriticalAPI()
	bad.MinimumRequests = 0
	_, err = New("payment", bad)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cb, err := New("payment", CriticalAPI())
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, "payment", cb.Name())
}

func TestExecutePassesThroughOriginalError(t *testing.T) {
	cb, _ := newTestBreaker(t, CriticalAPI())

	err := cb.Execute(context.Background(), fail)
	assert.Equal(t, errUpstream, err)
	assert.False(t, IsOpen(err))

	m := cb.Metrics()
	assert.Equal(t, 1, m.TotalRequests)
	assert.Equal(t, 1, m.FailureCount)
	assert.Equal(t, 1, m.ConsecutiveFailures)
}

func TestTripsAfterConsecutiveFailuresAndRejectsWithoutInvoking(t *testing.T) {
	cb, clk := newTestBreaker(t, CriticalAPI())

	// 10 次调用，最后 5 次失败
	feed(t, cb, append(repeat(true, 5), repeat(false, 5)...)...)
	require.Equal(t, StateOpen, cb.State())

	invoked := false
	err := cb.Execute(context.Background(), func(context.Context) error {
		invoked = true
		return nil
	})
	assert.False(t, invoked)
	require.Error(t, err)
	assert.True(t, IsOpen(err))

	var openErr *OpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, StateOpen, openErr.State)
	assert.Equal(t, "duffel_orders", openErr.Name)
	assert.Equal(t, clk.Now().Add(60*time.Second), openErr.RetryAt)
	assert.Contains(t, err.Error(), "circuit breaker is open")
}

func TestTripsOnWindowFailureRate(t *testing.T) {
	cb, _ := newTestBreaker(t, CriticalAPI())

	// 交替成功失败，连续失败从未超过 1，但失败率 5/10 达到 5/10
	for i := 0; i < 5; i++ {
		feed(t, cb, true, false)
	}
	m := cb.Metrics()
	assert.Equal(t, StateOpen, m.State)
	assert.Equal(t, 1, m.ConsecutiveFailures)
	assert.InDelta(t, 0.5, m.FailureRate, 1e-9)
}

func TestDoesNotTripBelowMinimumRequests(t *testing.T) {
	cb, _ := newTestBreaker(t, CriticalAPI())

	feed(t, cb, repeat(false, 9)...)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 9, cb.Metrics().ConsecutiveFailures)

	feed(t, cb, false)
	assert.Equal(t, StateOpen, cb.State())
}

func TestFailuresOutsideMonitoringPeriodAreIgnored(t *testing.T) {
	cb, clk := newTestBreaker(t, CriticalAPI())

	feed(t, cb, repeat(false, 4)...)
	clk.Advance(121 * time.Second)
	feed(t, cb, append(repeat(true, 5), false)...)

	m := cb.Metrics()
	assert.Equal(t, StateClosed, m.State)
	assert.Equal(t, 10, m.TotalRequests)
	assert.InDelta(t, 1.0/6.0, m.FailureRate, 1e-9)

	// 历史只保留两倍窗口
	assert.Equal(t, 10, cb.history.len())
	clk.Advance(241 * time.Second)
	feed(t, cb, true)
	assert.Equal(t, 1, cb.history.len())
}

func TestRecoveryThroughHalfOpen(t *testing.T) {
	cb, clk := newTestBreaker(t, CriticalAPI())
	feed(t, cb, append(repeat(true, 5), repeat(false, 5)...)...)
	require.Equal(t, StateOpen, cb.State())

	clk.Advance(59 * time.Second)
	assert.True(t, IsOpen(cb.Execute(context.Background(), succeed)))

	clk.Advance(time.Second)
	require.NoError(t, cb.Execute(context.Background(), succeed))
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.Equal(t, 1, cb.Metrics().SuccessfulRecoveryAttempts)

	feed(t, cb, true, true)
	m := cb.Metrics()
	assert.Equal(t, StateClosed, m.State)
	assert.Zero(t, m.TotalRequests)
	assert.Zero(t, m.FailureCount)
	assert.Zero(t, m.ConsecutiveFailures)
	assert.Zero(t, m.FailureRate)
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cb, clk := newTestBreaker(t, CriticalAPI())
	feed(t, cb, repeat(false, 10)...)
	require.Equal(t, StateOpen, cb.State())

	clk.Advance(60 * time.Second)
	feed(t, cb, true)
	require.Equal(t, StateHalfOpen, cb.State())

	clk.Advance(5 * time.Second)
	err := cb.Execute(context.Background(), fail)
	assert.Equal(t, errUpstream, err)

	m := cb.Metrics()
	assert.Equal(t, StateOpen, m.State)
	assert.Equal(t, clk.Now().Add(60*time.Second), m.NextAttemptTime)
	assert.Zero(t, m.SuccessfulRecoveryAttempts)
}

func TestHalfOpenLimitsConcurrentProbes(t *testing.T) {
	cfg := CriticalAPI()
	cb, clk := newTestBreaker(t, cfg)
	feed(t, cb, repeat(false, 10)...)
	clk.Advance(cfg.RecoveryTimeout)

	release := make(chan struct{})
	var started, done sync.WaitGroup
	for i := 0; i < cfg.SuccessThreshold; i++ {
		started.Add(1)
		done.Add(1)
		go func() {
			defer done.Done()
			_ = cb.Execute(context.Background(), func(context.Context) error {
				started.Done()
				<-release
				return nil
			})
		}()
	}
	started.Wait()

	err := cb.Execute(context.Background(), func(context.Context) error {
		t.Error("probe limit exceeded")
		return nil
	})
	var openErr *OpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, StateHalfOpen, openErr.State)

	close(release)
	done.Wait()
	assert.Equal(t, StateClosed, cb.State())
}

func TestPanicIsRecordedAsFailure(t *testing.T) {
	cb, _ := newTestBreaker(t, CriticalAPI())

	assert.Panics(t, func() {
		_ = cb.Execute(context.Background(), func(context.Context) error {
			panic("nil map write")
		})
	})
	assert.Equal(t, 1, cb.Metrics().FailureCount)
}

func TestDo(t *testing.T) {
	cb, _ := newTestBreaker(t, SearchAPI())

	v, err := Do(context.Background(), cb, func(context.Context) (string, error) {
		return "off_123", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "off_123", v)

	v, err = Do(context.Background(), cb, func(context.Context) (string, error) {
		return "partial", errUpstream
	})
	assert.Equal(t, errUpstream, err)
	assert.Empty(t, v)
}

func TestResetAndStateChangeHook(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	hook := func(name string, from, to State) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, from.String()+"->"+to.String())
	}

	cb, clk := newTestBreaker(t, CriticalAPI(), WithStateChangeHook(hook))
	feed(t, cb, repeat(false, 10)...)
	clk.Advance(time.Minute)
	feed(t, cb, true)

	cb.Reset()
	m := cb.Metrics()
	assert.Equal(t, StateClosed, m.State)
	assert.Zero(t, m.TotalRequests)
	assert.True(t, m.LastFailureTime.IsZero())
	assert.True(t, m.NextAttemptTime.IsZero())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"closed->open", "open->half_open", "half_open->closed"}, seen)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "unknown", State(42).String())

	text, err := StateOpen.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "open", string(text))
}
