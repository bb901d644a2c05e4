package alert

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/ceyewan/tripguard/clog"
	"github.com/ceyewan/tripguard/trace"
	"github.com/ceyewan/tripguard/xerrors"
)

const (
	// ChannelEmail 邮件通道名
	ChannelEmail = "email"
	// DefaultEmailSubject 邮件请求发布到的 NATS subject
	DefaultEmailSubject = "tripguard.alerts.email"
	// PriorityHigh 升级邮件优先级
	PriorityHigh = "high"
)

// Publisher 消息发布者，*nats.Conn 满足该接口
type Publisher interface {
	PublishMsg(msg *nats.Msg) error
}

// EmailRequest 发布到 NATS 的邮件请求，由邮件服务消费
type EmailRequest struct {
	To       []string `json:"to"`
	Subject  string   `json:"subject"`
	HTML     string   `json:"html"`
	Priority string   `json:"priority"`
}

// EmailConfig 邮件升级配置
type EmailConfig struct {
	Recipients []string `mapstructure:"recipients"`
	// NATSSubject 默认 tripguard.alerts.email
	NATSSubject string `mapstructure:"nats_subject"`
}

// EmailChannel 把升级告警作为邮件请求发布到 NATS
type EmailChannel struct {
	pub     Publisher
	to      []string
	subject string
	logger  clog.Logger
	tracer  oteltrace.Tracer
}

// NewEmailChannel 创建邮件升级通道
func NewEmailChannel(pub Publisher, cfg EmailConfig, logger clog.Logger) (*EmailChannel, error) {
	if pub == nil {
		return nil, ErrPublisherRequired
	}
	to := make([]string, 0, len(cfg.Recipients))
	for _, r := range cfg.Recipients {
		if r != "" {
			to = append(to, r)
		}
	}
	if len(to) == 0 {
		return nil, ErrNoRecipients
	}
	if cfg.NATSSubject == "" {
		cfg.NATSSubject = DefaultEmailSubject
	}
	if logger == nil {
		logger = clog.Discard()
	}
	return &EmailChannel{
		pub:     pub,
		to:      to,
		subject: cfg.NATSSubject,
		logger:  logger.WithNamespace("email"),
		tracer:  otel.Tracer("tripguard/alert"),
	}, nil
}

func (e *EmailChannel) Name() string { return ChannelEmail }

func (e *EmailChannel) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	html, err := renderEscalationHTML(msg.Alert)
	if err != nil {
		return xerrors.Wrap(err, "render escalation email")
	}
	data, err := json.Marshal(EmailRequest{
		To:       e.to,
		Subject:  escalationSubject(msg.Alert),
		HTML:     html,
		Priority: PriorityHigh,
	})
	if err != nil {
		return xerrors.Wrap(err, "marshal email request")
	}

	_, span, headers := trace.StartProducerSpan(ctx, e.tracer, trace.SpanNamePublish(e.subject), trace.MessagingMeta{
		System:      trace.MessagingSystemNATS,
		Destination: e.subject,
		Operation:   trace.MessagingOperationPublish,
	}, attribute.String("booking_id", msg.Alert.BookingID))
	defer span.End()

	natsMsg := &nats.Msg{Subject: e.subject, Data: data, Header: nats.Header{}}
	for k, v := range headers {
		natsMsg.Header.Set(k, v)
	}
	if err := e.pub.PublishMsg(natsMsg); err != nil {
		trace.MarkSpanError(span, err)
		return xerrors.Wrapf(err, "publish email escalation to %s", e.subject)
	}

	e.logger.InfoContext(ctx, "email escalation queued",
		clog.String("booking_id", msg.Alert.BookingID),
		clog.Int("recipients", len(e.to)))
	return nil
}
