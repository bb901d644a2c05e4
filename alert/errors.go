package alert

import (
	"fmt"

	"github.com/ceyewan/tripguard/xerrors"
)

var (
	// ErrWebhookRequired Slack webhook 地址为空
	ErrWebhookRequired = xerrors.New("alert: slack webhook url is required")
	// ErrNoRecipients 邮件升级没有收件人
	ErrNoRecipients = xerrors.New("alert: email escalation requires recipients")
	// ErrPublisherRequired 邮件升级没有发布者
	ErrPublisherRequired = xerrors.New("alert: email publisher is required")
)

// WebhookError Slack 返回非 2xx
type WebhookError struct {
	StatusCode int
	Status     string
}

func (e *WebhookError) Error() string {
	return fmt.Sprintf("slack webhook error: %d %s", e.StatusCode, e.Status)
}
