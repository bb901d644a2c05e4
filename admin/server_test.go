package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/tripguard/auth"
	"github.com/ceyewan/tripguard/breaker"
	"github.com/ceyewan/tripguard/clock"
	"github.com/ceyewan/tripguard/featureflag"
	"github.com/ceyewan/tripguard/ratelimit"
	"github.com/ceyewan/tripguard/store"
	"github.com/ceyewan/tripguard/testkit"
)

const testSecret = "this-is-a-valid-secret-key-at-least-32-chars"

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeChecker struct {
	name string
	err  error
}

func (f fakeChecker) Name() string                        { return f.name }
func (f fakeChecker) HealthCheck(_ context.Context) error { return f.err }

type fakeCompensations struct {
	logs      map[string][]store.CompensationLog
	manual    []store.CompensationLog
	lastLimit int
	err       error
}

func (f *fakeCompensations) ListCompensationLogs(_ context.Context, trip string) ([]store.CompensationLog, error) {
	return f.logs[trip], f.err
}

func (f *fakeCompensations) ListManualInterventions(_ context.Context, limit int) ([]store.CompensationLog, error) {
	f.lastLimit = limit
	return f.manual, f.err
}

type fixture struct {
	server   *Server
	breakers *breaker.Registry
	flags    *featureflag.StaticProvider
	comps    *fakeCompensations
	auth     auth.Authenticator
}

func tripConfig() breaker.Config {
	return breaker.Config{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Minute,
		MonitoringPeriod: time.Minute,
		MinimumRequests:  1,
		SuccessThreshold: 1,
	}
}

func newFixture(t *testing.T, health ...HealthChecker) *fixture {
	t.Helper()
	meter := testkit.NewMeter(t)
	logger := testkit.NewLogger()

	registry := breaker.NewRegistry()
	_, err := registry.Get("payment", tripConfig())
	require.NoError(t, err)
	_, err = registry.Get("search", breaker.SearchAPI())
	require.NoError(t, err)

	flags := featureflag.NewStaticProvider(nil)
	authn, err := auth.New(&auth.Config{SecretKey: testSecret, Issuer: "tripguard"})
	require.NoError(t, err)

	comps := &fakeCompensations{logs: map[string][]store.CompensationLog{}}
	srv, err := New(&Config{ServiceName: "tripguard-admin-test"}, Deps{
		Breakers:      registry,
		Compensations: comps,
		KillSwitch:    featureflag.NewKillSwitch(flags),
		Flags:         flags,
		Auth:          authn,
		Health:        health,
	}, WithLogger(logger), WithMeter(meter))
	require.NoError(t, err)

	return &fixture{server: srv, breakers: registry, flags: flags, comps: comps, auth: authn}
}

func (f *fixture) do(t *testing.T, method, path string, body any, roles ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if len(roles) > 0 {
		token, err := f.auth.GenerateToken(context.Background(), "ops_1", roles...)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestNewRequiresBreakers(t *testing.T) {
	_, err := New(nil, Deps{})
	assert.ErrorIs(t, err, ErrBreakersRequired)
}

func TestHealthz(t *testing.T) {
	t.Run("all healthy", func(t *testing.T) {
		f := newFixture(t, fakeChecker{name: "mysql"}, fakeChecker{name: "redis"})
		rec := f.do(t, http.MethodGet, "/healthz", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, true, body["healthy"])
		assert.Equal(t, map[string]any{"mysql": "ok", "redis": "ok"}, body["checks"])
	})

	t.Run("one unhealthy", func(t *testing.T) {
		f := newFixture(t, fakeChecker{name: "mysql"}, fakeChecker{name: "nats", err: errors.New("connection closed")})
		rec := f.do(t, http.MethodGet, "/healthz", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, false, body["healthy"])
		assert.Equal(t, "connection closed", body["checks"].(map[string]any)["nats"])
	})
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodGet, "/v1/breakers", nil)

	rec := f.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBreakerEndpoints(t *testing.T) {
	f := newFixture(t)
	cb, ok := f.breakers.Lookup("payment")
	require.True(t, ok)
	_ = cb.Execute(context.Background(), func(context.Context) error { return errors.New("gateway down") })
	require.Equal(t, breaker.StateOpen, cb.State())

	rec := f.do(t, http.MethodGet, "/v1/breakers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["breakers"], 2)

	rec = f.do(t, http.MethodGet, "/v1/breakers/payment", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "open", decode(t, rec)["state"])

	rec = f.do(t, http.MethodGet, "/v1/breakers/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	t.Run("reset requires token", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/v1/breakers/payment/reset", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, breaker.StateOpen, cb.State())
	})

	t.Run("reset requires operator role", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/v1/breakers/payment/reset", nil, auth.RoleViewer)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, breaker.StateOpen, cb.State())
	})

	t.Run("operator resets one", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/v1/breakers/payment/reset", nil, auth.RoleOperator)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "closed", decode(t, rec)["state"])
		assert.Equal(t, breaker.StateClosed, cb.State())
	})

	t.Run("reset unknown", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/v1/breakers/unknown/reset", nil, auth.RoleOperator)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("operator resets all", func(t *testing.T) {
		_ = cb.Execute(context.Background(), func(context.Context) error { return errors.New("gateway down") })
		require.Equal(t, breaker.StateOpen, cb.State())

		rec := f.do(t, http.MethodPost, "/v1/breakers/reset", nil, auth.RoleOperator)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, breaker.StateClosed, cb.State())
	})
}

func TestCompensationEndpoints(t *testing.T) {
	f := newFixture(t)
	f.comps.logs["trip_1"] = []store.CompensationLog{
		{ID: "log_1", TripRequestID: "trip_1", FailureStage: "booking", CompensationType: "refund"},
	}
	f.comps.manual = []store.CompensationLog{
		{ID: "log_2", TripRequestID: "trip_2", FailureStage: "unknown", RequiresManualIntervention: true},
	}

	rec := f.do(t, http.MethodGet, "/v1/compensations/trip_1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	logs := decode(t, rec)["compensations"].([]any)
	require.Len(t, logs, 1)
	assert.Equal(t, "booking", logs[0].(map[string]any)["failure_stage"])

	rec = f.do(t, http.MethodGet, "/v1/manual-interventions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultManualLimit, f.comps.lastLimit)
	assert.Len(t, decode(t, rec)["compensations"], 1)

	rec = f.do(t, http.MethodGet, "/v1/manual-interventions?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, f.comps.lastLimit)

	for _, bad := range []string{"0", "-1", "abc"} {
		rec = f.do(t, http.MethodGet, "/v1/manual-interventions?limit="+bad, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}

	f.comps.err = errors.New("db down")
	rec = f.do(t, http.MethodGet, "/v1/compensations/trip_1", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestKillSwitchEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/kill-switch/auto-booking?user_id=user_1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["can_proceed"])

	t.Run("unknown flag", func(t *testing.T) {
		rec := f.do(t, http.MethodPut, "/v1/kill-switch/not_a_flag", gin.H{"enabled": false}, auth.RoleOperator)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("missing enabled", func(t *testing.T) {
		rec := f.do(t, http.MethodPut, "/v1/kill-switch/"+featureflag.FlagGlobalKillSwitch, gin.H{}, auth.RoleOperator)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("user_id on global flag", func(t *testing.T) {
		rec := f.do(t, http.MethodPut, "/v1/kill-switch/"+featureflag.FlagGlobalKillSwitch,
			gin.H{"enabled": false, "user_id": "user_1"}, auth.RoleOperator)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("viewer cannot toggle", func(t *testing.T) {
		rec := f.do(t, http.MethodPut, "/v1/kill-switch/"+featureflag.FlagGlobalKillSwitch, gin.H{"enabled": false}, auth.RoleViewer)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("user switch blocks only that user", func(t *testing.T) {
		rec := f.do(t, http.MethodPut, "/v1/kill-switch/"+featureflag.FlagUserKillSwitch,
			gin.H{"enabled": false, "user_id": "user_1"}, auth.RoleOperator)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = f.do(t, http.MethodGet, "/v1/kill-switch/auto-booking?user_id=user_1", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		rec = f.do(t, http.MethodGet, "/v1/kill-switch/auto-booking?user_id=user_2", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("global switch", func(t *testing.T) {
		rec := f.do(t, http.MethodPut, "/v1/kill-switch/"+featureflag.FlagGlobalKillSwitch, gin.H{"enabled": false}, auth.RoleOperator)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = f.do(t, http.MethodGet, "/v1/kill-switch/auto-booking?user_id=user_2", nil)
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "300", rec.Header().Get("Retry-After"))
		body := decode(t, rec)
		assert.Equal(t, false, body["can_proceed"])
		assert.Equal(t, "EMERGENCY_KILL_SWITCH_ACTIVE", body["code"])

		rec = f.do(t, http.MethodGet, "/v1/kill-switch?user_id=user_2", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestMutatingRoutesAbsentWithoutAuth(t *testing.T) {
	srv, err := New(nil, Deps{Breakers: breaker.NewRegistry()})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/breakers/reset", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/compensations/trip_1", nil))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestOpsRoutesAreRateLimitedPerOperator(t *testing.T) {
	f := newFixture(t)
	limiter, err := ratelimit.New(&ratelimit.Config{}, ratelimit.WithClock(clock.NewFixed(time.Now())))
	require.NoError(t, err)
	t.Cleanup(func() { _ = limiter.Close() })

	f.server, err = New(&Config{OpsRateLimit: ratelimit.Limit{Rate: 1, Burst: 2}}, Deps{
		Breakers: f.breakers,
		Auth:     f.auth,
		Limiter:  limiter,
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, "/v1/breakers/reset", nil, auth.RoleViewer).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/breakers/reset", nil, auth.RoleOperator).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/breakers/payment/reset", nil, auth.RoleOperator).Code)

	rec := f.do(t, http.MethodPost, "/v1/breakers/reset", nil, auth.RoleOperator)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/breakers", nil).Code, "reads are not limited")
}

func TestServeAndShutdown(t *testing.T) {
	f := newFixture(t)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- f.server.Serve(l) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + l.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, f.server.Shutdown(context.Background()))
	assert.NoError(t, <-done)
}
