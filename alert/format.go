package alert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"strings"
	"time"
)

const (
	emojiSuccess  = "✅"
	emojiFailure  = "❌"
	emojiWarning  = "⚠️"
	emojiCritical = "🚨"

	timeLayout = "2006-01-02 15:04:05 MST"
)

func title(emoji string) string {
	return emoji + " TripGuard Booking Alert"
}

func formatSuccess(a Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Booking Success* %s\n", emojiSuccess)
	writeCommon(&b, a)
	fmt.Fprintf(&b, "• *Time*: %s\n", a.Timestamp.UTC().Format(timeLayout))
	fmt.Fprintf(&b, "• *Metadata*: %s", metadataJSON(a.Metadata))
	return b.String()
}

func formatFailure(a Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Booking Failure* %s\n", emojiFailure)
	writeCommon(&b, a)
	fmt.Fprintf(&b, "• *Reason*: %s\n", reasonOrUnknown(a.Reason))
	fmt.Fprintf(&b, "• *Time*: %s\n", a.Timestamp.UTC().Format(timeLayout))
	fmt.Fprintf(&b, "• *Metadata*: %s", metadataJSON(a.Metadata))
	return b.String()
}

func formatWarning(a Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Booking Warning* %s\n", emojiWarning)
	writeCommon(&b, a)
	fmt.Fprintf(&b, "• *Reason*: %s\n", reasonOrUnknown(a.Reason))
	fmt.Fprintf(&b, "• *Time*: %s", a.Timestamp.UTC().Format(timeLayout))
	return b.String()
}

func writeCommon(b *strings.Builder, a Alert) {
	fmt.Fprintf(b, "• *Booking ID*: `%s`\n", a.BookingID)
	fmt.Fprintf(b, "• *Amount*: %s\n", formatAmount(a))
	fmt.Fprintf(b, "• *User*: `%s`\n", a.UserID)
}

func formatAmount(a Alert) string {
	return strings.TrimSpace(a.Currency + " " + a.Amount.StringFixed(2))
}

func reasonOrUnknown(reason string) string {
	if reason == "" {
		return "Unknown"
	}
	return reason
}

func metadataJSON(md map[string]any) string {
	if len(md) == 0 {
		return "{}"
	}
	out, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", md)
	}
	return string(out)
}

var escalationTemplate = template.Must(template.New("escalation").Parse(`<!DOCTYPE html>
<html>
<head>
    <title>Critical Booking Failure Alert</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        .alert { background: #fee; border: 1px solid #fcc; padding: 15px; border-radius: 5px; }
        .field { margin: 5px 0; }
        .label { font-weight: bold; }
    </style>
</head>
<body>
    <div class="alert">
        <h2>{{.Emoji}} Critical Booking Failure</h2>
        <div class="field"><span class="label">Booking ID:</span> {{.BookingID}}</div>
        <div class="field"><span class="label">User:</span> {{.UserID}}</div>
        <div class="field"><span class="label">Amount:</span> {{.Amount}}</div>
        <div class="field"><span class="label">Failure Reason:</span> {{.Reason}}</div>
        <div class="field"><span class="label">Time:</span> {{.Time}}</div>
        <div class="field"><span class="label">Metadata:</span> <pre>{{.Metadata}}</pre></div>
        <p><strong>Action Required:</strong> Please investigate this critical booking failure immediately.</p>
    </div>
</body>
</html>`))

// renderEscalationHTML 所有字段都经过 html/template 转义
func renderEscalationHTML(a Alert) (string, error) {
	var buf bytes.Buffer
	err := escalationTemplate.Execute(&buf, struct {
		Emoji, BookingID, UserID, Amount, Reason, Time, Metadata string
	}{
		Emoji:     emojiCritical,
		BookingID: a.BookingID,
		UserID:    a.UserID,
		Amount:    formatAmount(a),
		Reason:    reasonOrUnknown(a.Reason),
		Time:      a.Timestamp.UTC().Format(time.RFC1123),
		Metadata:  metadataJSON(a.Metadata),
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

func escalationSubject(a Alert) string {
	return emojiCritical + " Critical Booking Failure - " + a.BookingID
}
