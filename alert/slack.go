package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/ceyewan/tripguard/clog"
	"github.com/ceyewan/tripguard/xerrors"
)

// ChannelSlack Slack 通道名
const ChannelSlack = "slack"

// SlackConfig Slack webhook 配置
type SlackConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
	// Timeout 单次 HTTP 请求超时，默认 5s
	Timeout time.Duration `mapstructure:"timeout"`
	// RatePerSecond 和 Burst 控制 webhook 的发送速率，默认 1/s 突发 5
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         int     `mapstructure:"burst"`
	// TripAfter 连续失败多少次后暂停发送，默认 5
	TripAfter uint32 `mapstructure:"trip_after"`
	// CoolDown 暂停时长，默认 30s
	CoolDown time.Duration `mapstructure:"cool_down"`
}

func (c *SlackConfig) setDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = 1
	}
	if c.Burst <= 0 {
		c.Burst = 5
	}
	if c.TripAfter == 0 {
		c.TripAfter = 5
	}
	if c.CoolDown <= 0 {
		c.CoolDown = 30 * time.Second
	}
}

type slackPayload struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments"`
}

type slackAttachment struct {
	Color string `json:"color"`
	Text  string `json:"text"`
	TS    int64  `json:"ts"`
}

// SlackChannel 通过 incoming webhook 发送告警
//
// webhook 连续失败时由 gobreaker 暂停发送，rate.Limiter 限制发送速率。
type SlackChannel struct {
	cfg     SlackConfig
	client  *http.Client
	cb      *gobreaker.CircuitBreaker[struct{}]
	limiter *rate.Limiter
	logger  clog.Logger
}

// SlackOption SlackChannel 选项
type SlackOption func(*SlackChannel)

// WithHTTPClient 自定义 HTTP 客户端
func WithHTTPClient(client *http.Client) SlackOption {
	return func(s *SlackChannel) {
		if client != nil {
			s.client = client
		}
	}
}

// WithSlackLogger 设置 Logger
func WithSlackLogger(logger clog.Logger) SlackOption {
	return func(s *SlackChannel) {
		if logger != nil {
			s.logger = logger.WithNamespace("slack")
		}
	}
}

// NewSlackChannel 创建 Slack 通道
func NewSlackChannel(cfg SlackConfig, opts ...SlackOption) (*SlackChannel, error) {
	if cfg.WebhookURL == "" {
		return nil, ErrWebhookRequired
	}
	cfg.setDefaults()

	s := &SlackChannel{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		logger:  clog.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	s.cb = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "slack-webhook",
		MaxRequests: 1,
		Timeout:     cfg.CoolDown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.TripAfter
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn("slack webhook breaker state changed",
				clog.String("breaker", name),
				clog.String("from", from.String()),
				clog.String("to", to.String()))
		},
	})
	return s, nil
}

func (s *SlackChannel) Name() string { return ChannelSlack }

// Send 等待限流令牌后发送，ctx 到期时放弃
func (s *SlackChannel) Send(ctx context.Context, msg Message) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return xerrors.Wrap(err, "slack rate limit wait")
	}

	body, err := json.Marshal(slackPayload{
		Text: msg.Title,
		Attachments: []slackAttachment{{
			Color: msg.Color,
			Text:  msg.Text,
			TS:    msg.Alert.Timestamp.Unix(),
		}},
	})
	if err != nil {
		return xerrors.Wrap(err, "marshal slack payload")
	}

	_, err = s.cb.Execute(func() (struct{}, error) {
		return struct{}{}, s.post(ctx, body)
	})
	if err != nil {
		return xerrors.Wrap(err, "send slack notification")
	}
	s.logger.DebugContext(ctx, "slack notification sent", clog.String("booking_id", msg.Alert.BookingID))
	return nil
}

// State 当前 webhook 熔断状态
func (s *SlackChannel) State() string {
	return s.cb.State().String()
}

func (s *SlackChannel) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &WebhookError{StatusCode: resp.StatusCode, Status: http.StatusText(resp.StatusCode)}
	}
	return nil
}
