package offer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/tripguard/breaker"
	"github.com/ceyewan/tripguard/clock"
	"github.com/ceyewan/tripguard/xerrors"
)

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestValidator(opts ...Option) *Validator {
	return NewValidator(append([]Option{WithClock(clock.NewFixed(testNow))}, opts...)...)
}

func summaryExpiringIn(id string, d time.Duration) *Summary {
	return &Summary{
		ID:            id,
		ExpiresAt:     testNow.Add(d).Format(time.RFC3339Nano),
		TotalAmount:   decimal.RequireFromString("432.10"),
		TotalCurrency: "GBP",
	}
}

type mapFetcher struct {
	mu     sync.Mutex
	offers map[string]*Summary
	errs   map[string]error
	calls  map[string]int
}

func newMapFetcher() *mapFetcher {
	return &mapFetcher{offers: map[string]*Summary{}, errs: map[string]error{}, calls: map[string]int{}}
}

func (f *mapFetcher) GetOffer(_ context.Context, id string) (*Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[id]++
	if err, ok := f.errs[id]; ok {
		return nil, err
	}
	if s, ok := f.offers[id]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("duffel: offer %s: %w", id, ErrOfferNotFound)
}

func TestValidateExpiration(t *testing.T) {
	v := newTestValidator()

	tests := []struct {
		name         string
		remaining    time.Duration
		valid        bool
		needsRefresh bool
	}{
		{"plenty of time", 30 * time.Minute, true, false},
		{"just above refresh threshold", RefreshThreshold + time.Second, true, false},
		{"at refresh threshold", RefreshThreshold, true, true},
		{"just above safety buffer", SafetyBuffer + time.Second, true, true},
		{"at safety buffer", SafetyBuffer, false, true},
		{"inside safety buffer", 30 * time.Second, false, true},
		{"expired", -time.Minute, false, true},
		{"expiring now", 0, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := v.ValidateExpiration(*summaryExpiringIn("off_1", tt.remaining))
			assert.Equal(t, tt.valid, r.IsValid)
			assert.Equal(t, tt.needsRefresh, r.NeedsRefresh)
			assert.Equal(t, tt.remaining, r.TimeRemaining)
			assert.True(t, testNow.Add(tt.remaining).Equal(r.ExpiresAt))
			if tt.valid {
				assert.Empty(t, r.Error)
			} else {
				assert.NotEmpty(t, r.Error)
			}
		})
	}
}

func TestValidateExpirationFixedWindows(t *testing.T) {
	v := newTestValidator()

	tests := []struct {
		remaining    time.Duration
		valid        bool
		needsRefresh bool
	}{
		{119 * time.Second, false, true},
		{121 * time.Second, true, true},
		{30 * time.Second, false, true},
		{6 * time.Minute, true, true},
		{20 * time.Minute, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.remaining.String(), func(t *testing.T) {
			s := *summaryExpiringIn("off_1", tt.remaining)
			r := v.ValidateExpiration(s)
			assert.Equal(t, tt.valid, r.IsValid)
			assert.Equal(t, tt.needsRefresh, r.NeedsRefresh)
			assert.Equal(t, r, v.ValidateExpiration(s), "same input, same clock")
		})
	}
}

func TestValidateExpirationRejectsMalformedTimestamp(t *testing.T) {
	v := newTestValidator()
	for _, raw := range []string{"", "tomorrow", "2026-13-01T00:00:00Z"} {
		r := v.ValidateExpiration(Summary{ID: "off_1", ExpiresAt: raw})
		assert.False(t, r.IsValid, raw)
		assert.True(t, r.NeedsRefresh, raw)
		assert.Contains(t, r.Error, "Invalid expiration date format")
	}
}

func TestValidateExpirationAcceptsTimestampWithoutZone(t *testing.T) {
	v := newTestValidator()
	r := v.ValidateExpiration(Summary{ID: "off_1", ExpiresAt: "2026-05-01T12:30:00"})
	assert.True(t, r.IsValid)
	assert.Equal(t, 30*time.Minute, r.TimeRemaining)
}

func TestValidateExpirationUsesCurrentClock(t *testing.T) {
	clk := clock.NewManual(testNow)
	v := NewValidator(WithClock(clk))
	s := *summaryExpiringIn("off_1", 10*time.Minute)

	assert.True(t, v.ValidateExpiration(s).IsValid)
	clk.Advance(8 * time.Minute)
	assert.False(t, v.ValidateExpiration(s).IsValid)
}

func TestValidateForBooking(t *testing.T) {
	f := newMapFetcher()
	f.offers["off_ok"] = summaryExpiringIn("off_ok", 20*time.Minute)
	f.offers["off_soon"] = summaryExpiringIn("off_soon", 4*time.Minute)
	f.offers["off_old"] = summaryExpiringIn("off_old", 90*time.Second)
	v := newTestValidator()
	ctx := context.Background()

	summary, result, err := v.ValidateForBooking(ctx, "off_ok", f)
	require.NoError(t, err)
	assert.Equal(t, "off_ok", summary.ID)
	assert.True(t, result.IsValid)
	assert.False(t, result.NeedsRefresh)

	_, result, err = v.ValidateForBooking(ctx, "off_soon", f)
	require.NoError(t, err)
	assert.True(t, result.NeedsRefresh)

	summary, result, err = v.ValidateForBooking(ctx, "off_old", f)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOfferExpired)
	assert.NotNil(t, summary)
	assert.False(t, result.IsValid)

	var unavailable *UnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "off_old", unavailable.OfferID)
	assert.Equal(t, xerrors.CodeOfferExpired, unavailable.Code())
	assert.Equal(t, UserMessage, unavailable.UserMessage())
	assert.Equal(t, 1, f.calls["off_old"])
}

func TestValidateForBookingNotFound(t *testing.T) {
	v := newTestValidator()
	f := newMapFetcher()

	_, result, err := v.ValidateForBooking(context.Background(), "off_missing", f)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOfferNotFound)
	assert.True(t, IsUnavailable(err))
	assert.False(t, result.IsValid)

	var unavailable *UnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, xerrors.CodeOfferNotFound, unavailable.Code())

	nilFetcher := FetcherFunc(func(context.Context, string) (*Summary, error) { return nil, nil })
	_, _, err = v.ValidateForBooking(context.Background(), "off_nil", nilFetcher)
	assert.ErrorIs(t, err, ErrOfferNotFound)
}

func TestValidateForBookingPropagatesFetchFailure(t *testing.T) {
	v := newTestValidator()
	openErr := &breaker.OpenError{Name: "duffel_offers", State: breaker.StateOpen}
	f := FetcherFunc(func(context.Context, string) (*Summary, error) { return nil, openErr })

	_, _, err := v.ValidateForBooking(context.Background(), "off_1", f)
	require.Error(t, err)
	assert.True(t, breaker.IsOpen(err))
	assert.False(t, IsUnavailable(err))
}

func TestValidateForBookingRejectsEmptyID(t *testing.T) {
	v := newTestValidator()
	_, _, err := v.ValidateForBooking(context.Background(), "", newMapFetcher())
	assert.ErrorIs(t, err, xerrors.ErrInvalidInput)
}

func TestShouldWarn(t *testing.T) {
	v := newTestValidator()
	assert.False(t, ShouldWarn(v.ValidateExpiration(*summaryExpiringIn("a", 11*time.Minute))))
	assert.True(t, ShouldWarn(v.ValidateExpiration(*summaryExpiringIn("a", WarningThreshold))))
	assert.True(t, ShouldWarn(v.ValidateExpiration(*summaryExpiringIn("a", 3*time.Minute))))
	assert.False(t, ShouldWarn(v.ValidateExpiration(*summaryExpiringIn("a", time.Minute))))
}

func TestUrgencyLevel(t *testing.T) {
	assert.Equal(t, UrgencyNormal, UrgencyLevel(WarningThreshold+time.Second))
	assert.Equal(t, UrgencyWarning, UrgencyLevel(WarningThreshold))
	assert.Equal(t, UrgencyWarning, UrgencyLevel(SafetyBuffer+time.Second))
	assert.Equal(t, UrgencyCritical, UrgencyLevel(SafetyBuffer))
	assert.Equal(t, UrgencyCritical, UrgencyLevel(time.Second))
	assert.Equal(t, UrgencyExpired, UrgencyLevel(0))
	assert.Equal(t, UrgencyExpired, UrgencyLevel(-time.Hour))
}

func TestFormatTimeRemaining(t *testing.T) {
	assert.Equal(t, "expired", FormatTimeRemaining(0))
	assert.Equal(t, "expired", FormatTimeRemaining(-5*time.Second))
	assert.Equal(t, "45s", FormatTimeRemaining(45*time.Second))
	assert.Equal(t, "1s", FormatTimeRemaining(200*time.Millisecond))
	assert.Equal(t, "4m 05s", FormatTimeRemaining(4*time.Minute+5*time.Second))
	assert.Equal(t, "1h 02m", FormatTimeRemaining(time.Hour+2*time.Minute+30*time.Second))
}

func TestValidateMultiple(t *testing.T) {
	f := newMapFetcher()
	f.offers["off_a"] = summaryExpiringIn("off_a", 30*time.Minute)
	f.offers["off_b"] = summaryExpiringIn("off_b", 3*time.Minute)
	f.offers["off_c"] = summaryExpiringIn("off_c", -time.Minute)
	f.errs["off_d"] = errors.New("duffel: 503 service unavailable")

	v := newTestValidator(WithBatchConcurrency(2))
	batch := v.ValidateMultiple(context.Background(), []string{"off_a", "off_b", "off_c", "off_d", "off_e", "off_a"}, f)

	assert.Equal(t, []string{"off_a", "off_b"}, batch.Valid)
	assert.Equal(t, []string{"off_c", "off_d", "off_e"}, batch.Expired)
	assert.Equal(t, []string{"off_b", "off_c", "off_d", "off_e"}, batch.NeedsRefresh)
	assert.Len(t, batch.Results, 5)
	assert.Contains(t, batch.Results["off_d"].Error, "503")
	assert.Equal(t, 1, f.calls["off_a"])
}

func TestValidateMultipleBoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	f := FetcherFunc(func(_ context.Context, id string) (*Summary, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return summaryExpiringIn(id, time.Hour), nil
	})

	ids := make([]string, 20)
	for i := range ids {
		ids[i] = fmt.Sprintf("off_%02d", i)
	}
	batch := newTestValidator(WithBatchConcurrency(3)).ValidateMultiple(context.Background(), ids, f)

	assert.Len(t, batch.Valid, 20)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestValidateMultipleSurvivesPanickingFetcher(t *testing.T) {
	f := FetcherFunc(func(_ context.Context, id string) (*Summary, error) {
		if id == "off_bad" {
			panic("decoder exploded")
		}
		return summaryExpiringIn(id, time.Hour), nil
	})

	batch := newTestValidator().ValidateMultiple(context.Background(), []string{"off_ok", "off_bad"}, f)
	assert.Equal(t, []string{"off_ok"}, batch.Valid)
	assert.Equal(t, []string{"off_bad"}, batch.Expired)
}
