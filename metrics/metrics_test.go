package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	m, err := New(&Config{Enabled: false})
	require.NoError(t, err)
	assert.IsType(t, noopMeter{}, m)

	m, err = New(&Config{Enabled: true, ServiceName: "tripguard-test", Version: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	assert.IsType(t, &meterImpl{}, m)
}

func TestPrometheusHandlerExposesRecordedMetrics(t *testing.T) {
	m, err := New(&Config{Enabled: true, ServiceName: "tripguard-test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	ctx := context.Background()
	counter, err := m.Counter("breaker_requests_total", "calls through breaker")
	require.NoError(t, err)
	counter.Inc(ctx, L("breaker", "payment"), L("result", "success"))
	counter.Add(ctx, 2, L("breaker", "payment"), L("result", "failure"))

	gauge, err := m.Gauge("breaker_state", "current breaker state")
	require.NoError(t, err)
	gauge.Set(ctx, 2, L("breaker", "payment"))

	hist, err := m.Histogram("compensation_duration_seconds", "saga compensation latency", WithUnit("s"), WithBuckets([]float64{0.1, 1}))
	require.NoError(t, err)
	hist.Record(ctx, 0.25, L("stage", "booking"))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)
	assert.Contains(t, text, "breaker_requests_total")
	assert.Contains(t, text, `result="failure"`)
	assert.Contains(t, text, "breaker_state")
	assert.Contains(t, text, "compensation_duration_seconds")
}

func TestDiscard(t *testing.T) {
	m := Discard()
	ctx := context.Background()

	c, err := m.Counter("x", "x")
	require.NoError(t, err)
	c.Inc(ctx)
	g, err := m.Gauge("y", "y")
	require.NoError(t, err)
	g.Dec(ctx)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NoError(t, m.Shutdown(ctx))
}

func TestHTTPStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", HTTPStatusClass(204))
	assert.Equal(t, "5xx", HTTPStatusClass(503))
	assert.Equal(t, "unknown", HTTPStatusClass(42))
	assert.Equal(t, OutcomeSuccess, HTTPOutcome(302))
	assert.Equal(t, OutcomeError, HTTPOutcome(404))
}
