package task

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// LogAlerter writes attention messages to the log. It is used when no
// mail relay is configured.
type LogAlerter struct {
	Logger *slog.Logger
}

func (a *LogAlerter) SendAttentionMail(ctx context.Context, message string) error {
	if a.Logger != nil {
		a.Logger.InfoContext(ctx, "attention mail", "message", message)
	}
	return nil
}

// SendMailFunc matches smtp.SendMail.
type SendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPAlerter mails attention messages through an SMTP relay.
type SMTPAlerter struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
	Module   string

	// SendMail defaults to smtp.SendMail.
	SendMail SendMailFunc
	// Now defaults to time.Now.
	Now func() time.Time
}

// SendAttentionMail sends message as a plain-text mail.
func (a *SMTPAlerter) SendAttentionMail(ctx context.Context, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
	var auth smtp.Auth
	if a.Username != "" {
		auth = smtp.PlainAuth("", a.Username, a.Password, a.Host)
	}

	send := a.SendMail
	if send == nil {
		send = smtp.SendMail
	}
	if err := send(addr, auth, a.From, a.To, a.compose(message)); err != nil {
		return fmt.Errorf("send attention mail via %s: %w", addr, err)
	}
	return nil
}

func (a *SMTPAlerter) compose(message string) []byte {
	now := time.Now
	if a.Now != nil {
		now = a.Now
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", a.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(a.To, ", "))
	fmt.Fprintf(&b, "Subject: [client-runner] %s\r\n", a.Module)
	fmt.Fprintf(&b, "Date: %s\r\n", now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(message, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}
