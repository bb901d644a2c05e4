package clog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withBuffer 测试专用选项，将输出写入缓冲区
func withBuffer(buf *bytes.Buffer) Option {
	return func(o *options) {
		o.buffer = buf
	}
}

func newBufferLogger(t *testing.T, level string, opts ...Option) (Logger, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	logger, err := New(&Config{Level: level, Format: "json", Output: "buffer"}, append(opts, withBuffer(buf))...)
	require.NoError(t, err)
	return logger, buf
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	return entry
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{name: "valid config", config: &Config{Level: "info", Format: "console", Output: "stdout"}},
		{name: "nil config", config: nil},
		{name: "invalid level", config: &Config{Level: "verbose"}, wantErr: true},
		{name: "invalid format", config: &Config{Level: "info", Format: "xml"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, logger)
		})
	}
}

func TestLoggerWritesStructuredFields(t *testing.T) {
	logger, buf := newBufferLogger(t, "info")

	logger.Info("refund issued",
		String("payment_id", "pi_123"),
		Int("attempt", 2),
		Decimal("amount", decimal.RequireFromString("199.99")),
		Error(errors.New("ignored")),
	)

	entry := decodeLine(t, buf)
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "refund issued", entry["msg"])
	assert.Equal(t, "pi_123", entry["payment_id"])
	assert.Equal(t, float64(2), entry["attempt"])
	assert.Equal(t, "199.99", entry["amount"])
	assert.Equal(t, "ignored", entry["err_msg"])
}

func TestLevelFiltering(t *testing.T) {
	logger, buf := newBufferLogger(t, "warn")

	logger.Info("dropped")
	assert.Zero(t, buf.Len())

	logger.Warn("kept")
	assert.Contains(t, buf.String(), "kept")

	buf.Reset()
	require.NoError(t, logger.SetLevel(DebugLevel))
	logger.Debug("now visible")
	assert.Contains(t, buf.String(), "now visible")
}

func TestNamespaceAndWith(t *testing.T) {
	logger, buf := newBufferLogger(t, "debug", WithNamespace("tripguard"))

	child := logger.WithNamespace("breaker").With(String("breaker", "payment"))
	child.Info("state changed")

	entry := decodeLine(t, buf)
	assert.Equal(t, "tripguard.breaker", entry[NamespaceKey])
	assert.Equal(t, "payment", entry["breaker"])

	// 父 Logger 不受子 Logger 影响
	buf.Reset()
	logger.Info("parent")
	entry = decodeLine(t, buf)
	assert.Equal(t, "tripguard", entry[NamespaceKey])
	assert.NotContains(t, entry, "breaker")
}

func TestBookingContextExtraction(t *testing.T) {
	logger, buf := newBufferLogger(t, "info", WithBookingContext())

	ctx := WithTripRequestID(context.Background(), "trip-1")
	ctx = WithBookingID(ctx, "br-9")
	ctx = WithUserID(ctx, "user-7")
	logger.InfoContext(ctx, "compensating")

	entry := decodeLine(t, buf)
	assert.Equal(t, "trip-1", entry["trip_request_id"])
	assert.Equal(t, "br-9", entry["booking_id"])
	assert.Equal(t, "user-7", entry["user_id"])
}

func TestErrorWithCode(t *testing.T) {
	logger, buf := newBufferLogger(t, "info")

	logger.Error("offer rejected", ErrorWithCode(errors.New("expired"), "OFFER_EXPIRED"))

	entry := decodeLine(t, buf)
	group, ok := entry["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "expired", group["msg"])
	assert.Equal(t, "OFFER_EXPIRED", group["code"])
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("ERROR")
	require.NoError(t, err)
	assert.Equal(t, ErrorLevel, level)
	assert.Equal(t, "error", level.String())

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	logger.With(String("k", "v")).WithNamespace("x").Error("nothing")
	assert.NoError(t, logger.SetLevel(DebugLevel))
}
