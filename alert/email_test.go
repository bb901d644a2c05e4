package alert

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/tripguard/testkit"
)

type capturePublisher struct {
	msgs []*nats.Msg
	err  error
}

func (p *capturePublisher) PublishMsg(msg *nats.Msg) error {
	p.msgs = append(p.msgs, msg)
	return p.err
}

func TestNewEmailChannelValidation(t *testing.T) {
	_, err := NewEmailChannel(nil, EmailConfig{Recipients: []string{"ops@example.com"}}, nil)
	assert.ErrorIs(t, err, ErrPublisherRequired)

	_, err = NewEmailChannel(&capturePublisher{}, EmailConfig{Recipients: []string{"", ""}}, nil)
	assert.ErrorIs(t, err, ErrNoRecipients)
}

func TestEmailChannelPublishesRequest(t *testing.T) {
	pub := &capturePublisher{}
	ch, err := NewEmailChannel(pub, EmailConfig{Recipients: []string{"ops@example.com", "oncall@example.com"}}, testkit.NewLogger())
	require.NoError(t, err)
	assert.Equal(t, ChannelEmail, ch.Name())

	require.NoError(t, ch.Send(context.Background(), Message{Alert: sampleAlert(), Escalated: true}))
	require.Len(t, pub.msgs, 1)
	assert.Equal(t, DefaultEmailSubject, pub.msgs[0].Subject)

	var req EmailRequest
	require.NoError(t, json.Unmarshal(pub.msgs[0].Data, &req))
	assert.Equal(t, []string{"ops@example.com", "oncall@example.com"}, req.To)
	assert.Equal(t, "🚨 Critical Booking Failure - br-42", req.Subject)
	assert.Equal(t, PriorityHigh, req.Priority)
	assert.Contains(t, req.HTML, "refund_failed")
}

func TestEmailChannelPublishError(t *testing.T) {
	pub := &capturePublisher{err: errors.New("nats: connection closed")}
	ch, err := NewEmailChannel(pub, EmailConfig{Recipients: []string{"ops@example.com"}, NATSSubject: "alerts.custom"}, nil)
	require.NoError(t, err)

	err = ch.Send(context.Background(), Message{Alert: sampleAlert()})
	assert.ErrorContains(t, err, "alerts.custom")
}

func TestEmailChannelOnNATS(t *testing.T) {
	conn := testkit.NewNATSConnector(t)
	client := conn.GetClient()

	sub, err := client.SubscribeSync(DefaultEmailSubject)
	require.NoError(t, err)
	require.NoError(t, client.Flush())

	ch, err := NewEmailChannel(client, EmailConfig{Recipients: []string{"ops@example.com"}}, testkit.NewLogger())
	require.NoError(t, err)
	require.NoError(t, ch.Send(context.Background(), Message{Alert: sampleAlert()}))

	msg, err := sub.NextMsg(5 * time.Second)
	require.NoError(t, err)
	var req EmailRequest
	require.NoError(t, json.Unmarshal(msg.Data, &req))
	assert.Equal(t, []string{"ops@example.com"}, req.To)
}
