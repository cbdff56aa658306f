package notification

import (
	"context"
	"fmt"
	"log"
	"net/smtp"
	"strings"
)

// SMTPConfig holds mail delivery settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// SMTPNotifier mails alerts as plain-text messages. This is the channel
// post-cycle summaries go out on.
type SMTPNotifier struct {
	cfg SMTPConfig
}

// NewSMTPNotifier creates an SMTP notifier. Username may be empty for
// servers that accept unauthenticated relay (local postfix).
func NewSMTPNotifier(cfg SMTPConfig) *SMTPNotifier {
	return &SMTPNotifier{cfg: cfg}
}

// Send mails the alert. net/smtp takes no context; delivery is bounded
// by the server's own timeouts.
func (s *SMTPNotifier) Send(ctx context.Context, alert Alert) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(s.cfg.To, ", "))
	fmt.Fprintf(&b, "Subject: [%s] %s\r\n", alert.Level, alert.Title)
	b.WriteString("\r\n")
	b.WriteString(alert.Message)
	b.WriteString("\r\n")

	if err := smtp.SendMail(addr, auth, s.cfg.From, s.cfg.To, []byte(b.String())); err != nil {
		return fmt.Errorf("smtp: send: %w", err)
	}

	log.Printf("[smtp] sent alert to %d recipients: %s", len(s.cfg.To), alert.Title)
	return nil
}
