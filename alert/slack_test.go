package alert

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/tripguard/testkit"
)

func TestNewSlackChannelRequiresWebhook(t *testing.T) {
	_, err := NewSlackChannel(SlackConfig{})
	assert.ErrorIs(t, err, ErrWebhookRequired)
}

func TestSlackChannelPostsPayload(t *testing.T) {
	var got slackPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch, err := NewSlackChannel(SlackConfig{WebhookURL: srv.URL}, WithSlackLogger(testkit.NewLogger()))
	require.NoError(t, err)
	assert.Equal(t, ChannelSlack, ch.Name())

	a := sampleAlert()
	err = ch.Send(context.Background(), Message{Title: title(emojiFailure), Text: formatFailure(a), Color: ColorDanger, Alert: a})
	require.NoError(t, err)

	assert.Equal(t, "❌ TripGuard Booking Alert", got.Text)
	require.Len(t, got.Attachments, 1)
	assert.Equal(t, ColorDanger, got.Attachments[0].Color)
	assert.Equal(t, a.Timestamp.Unix(), got.Attachments[0].TS)
	assert.Contains(t, got.Attachments[0].Text, "br-42")
}

func TestSlackChannelNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	ch, err := NewSlackChannel(SlackConfig{WebhookURL: srv.URL})
	require.NoError(t, err)

	err = ch.Send(context.Background(), Message{Alert: sampleAlert()})
	var whErr *WebhookError
	require.ErrorAs(t, err, &whErr)
	assert.Equal(t, http.StatusForbidden, whErr.StatusCode)
	assert.Contains(t, err.Error(), "403")
}

func TestSlackChannelTripsAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ch, err := NewSlackChannel(SlackConfig{
		WebhookURL:    srv.URL,
		RatePerSecond: 1000,
		Burst:         10,
		TripAfter:     2,
		CoolDown:      time.Minute,
	})
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		assert.Error(t, ch.Send(ctx, Message{Alert: sampleAlert()}))
	}
	assert.Equal(t, int32(2), hits.Load(), "open breaker stops hitting the webhook")
	assert.Equal(t, "open", ch.State())
}

func TestSlackChannelRateLimitHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch, err := NewSlackChannel(SlackConfig{WebhookURL: srv.URL, RatePerSecond: 0.001, Burst: 1})
	require.NoError(t, err)

	require.NoError(t, ch.Send(context.Background(), Message{Alert: sampleAlert()}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, ch.Send(ctx, Message{Alert: sampleAlert()}))
}
