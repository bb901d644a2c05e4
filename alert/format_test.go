package alert

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleAlert() Alert {
	return Alert{
		BookingID: "br-42",
		UserID:    "u-7",
		Amount:    decimal.RequireFromString("1234.5"),
		Currency:  "EUR",
		Reason:    "refund_failed: card expired",
		Metadata:  map[string]any{"offer_id": "off_123"},
		Timestamp: time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC),
	}
}

func TestFormatFailure(t *testing.T) {
	text := formatFailure(sampleAlert())
	assert.True(t, strings.HasPrefix(text, "*Booking Failure* ❌\n"))
	assert.Contains(t, text, "• *Booking ID*: `br-42`")
	assert.Contains(t, text, "• *Amount*: EUR 1234.50")
	assert.Contains(t, text, "• *Reason*: refund_failed: card expired")
	assert.Contains(t, text, "• *Time*: 2026-05-01 09:30:00 UTC")
	assert.Contains(t, text, `"offer_id": "off_123"`)
}

func TestFormatSuccessAndWarning(t *testing.T) {
	a := sampleAlert()
	a.Reason = ""
	a.Metadata = nil

	success := formatSuccess(a)
	assert.Contains(t, success, "*Booking Success*")
	assert.Contains(t, success, "• *Metadata*: {}")
	assert.NotContains(t, success, "Reason")

	warning := formatWarning(a)
	assert.Contains(t, warning, "• *Reason*: Unknown")
	assert.NotContains(t, warning, "Metadata")
}

func TestRenderEscalationHTMLEscapes(t *testing.T) {
	a := sampleAlert()
	a.Reason = `<script>alert("x")</script>`

	html, err := renderEscalationHTML(a)
	require.NoError(t, err)
	assert.Contains(t, html, "Critical Booking Failure")
	assert.Contains(t, html, "br-42")
	assert.Contains(t, html, "EUR 1234.50")
	assert.NotContains(t, html, "<script>")
	assert.Contains(t, html, "&lt;script&gt;")

	assert.Equal(t, "🚨 Critical Booking Failure - br-42", escalationSubject(a))
}
