package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureCounter struct {
	mu      sync.Mutex
	records [][]Label
}

func (c *captureCounter) Inc(_ context.Context, labels ...Label) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, append([]Label(nil), labels...))
}

func (c *captureCounter) Add(ctx context.Context, _ float64, labels ...Label) {
	c.Inc(ctx, labels...)
}

type captureHistogram struct{ captureCounter }

func (h *captureHistogram) Record(ctx context.Context, _ float64, labels ...Label) {
	h.Inc(ctx, labels...)
}

func labelValue(labels []Label, key string) string {
	for _, label := range labels {
		if label.Key == key {
			return label.Value
		}
	}
	return ""
}

func TestGinHTTPMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	counter := &captureCounter{}
	hist := &captureHistogram{}
	httpMetrics := &HTTPServerMetrics{service: "admin", requestTotal: counter, duration: hist}

	router := gin.New()
	router.Use(GinHTTPMiddleware(httpMetrics))
	router.GET("/v1/breakers/:name", func(c *gin.Context) { c.Status(http.StatusOK) })

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/breakers/payment", nil))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope/123", nil))

	require.Len(t, counter.records, 2)
	assert.Equal(t, "/v1/breakers/:name", labelValue(counter.records[0], LabelRoute))
	assert.Equal(t, "2xx", labelValue(counter.records[0], LabelStatusClass))
	assert.Equal(t, UnknownRoute, labelValue(counter.records[1], LabelRoute))
	assert.Equal(t, OutcomeError, labelValue(counter.records[1], LabelOutcome))
	assert.Len(t, hist.records, 2)
}

func TestNewHTTPServerMetrics(t *testing.T) {
	_, err := NewHTTPServerMetrics(nil, "admin")
	assert.Error(t, err)

	m, err := NewHTTPServerMetrics(Discard(), "")
	require.NoError(t, err)
	assert.Equal(t, "unknown", m.service)
}
