package trace

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	oteltrace "go.opentelemetry.io/otel/trace"
)

func setupTracerForTest(t *testing.T) (oteltrace.Tracer, *tracetest.SpanRecorder) {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Tracer("test"), recorder
}

func TestStartProducerSpan(t *testing.T) {
	tracer, recorder := setupTracerForTest(t)

	meta := MessagingMeta{System: MessagingSystemNATS, Destination: "alerts.email", Operation: MessagingOperationPublish}
	spanCtx, span, headers := StartProducerSpan(context.Background(), tracer, SpanNamePublish("alerts.email"), meta)
	span.End()

	require.NotEmpty(t, headers["traceparent"])

	// headers 可还原出同一条链路
	restored := oteltrace.SpanContextFromContext(Extract(context.Background(), headers))
	assert.Equal(t, oteltrace.SpanContextFromContext(spanCtx).TraceID(), restored.TraceID())

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "mq.publish alerts.email", spans[0].Name())
	assert.Equal(t, oteltrace.SpanKindProducer, spans[0].SpanKind())
}

func TestMarkSpanError(t *testing.T) {
	tracer, recorder := setupTracerForTest(t)

	_, span := tracer.Start(context.Background(), "op")
	MarkSpanError(span, nil)
	MarkSpanError(span, errors.New("slack webhook returned 500"))
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestValidateConfig(t *testing.T) {
	assert.Error(t, validateConfig(nil))
	assert.Error(t, validateConfig(&Config{Endpoint: "x"}))
	assert.Error(t, validateConfig(&Config{ServiceName: "s", Endpoint: "x", Sampler: 2}))
	assert.Error(t, validateConfig(&Config{ServiceName: "s", Endpoint: "x", Batcher: "weird"}))
	assert.NoError(t, validateConfig(DefaultConfig("tripguard")))
}

func TestInitDisabledFallsBackToDiscard(t *testing.T) {
	shutdown, err := Init(&Config{Enabled: false, ServiceName: "tripguard"})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
