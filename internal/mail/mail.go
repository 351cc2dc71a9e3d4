// Package mail delivers alert emails over SMTP. Delivery failures are the
// caller's problem to log and swallow; nothing here retries.
package mail

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"

	"fieldsense/internal/config"
)

// Message is one outbound alert email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Notifier attempts delivery of a composed message.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPNotifier sends mail through a single SMTP relay with STARTTLS and
// PLAIN auth, matching the relay the boxes' backend has always used.
type SMTPNotifier struct {
	cfg config.MailConfig
}

func NewSMTPNotifier(cfg config.MailConfig) *SMTPNotifier {
	return &SMTPNotifier{cfg: cfg}
}

func (n *SMTPNotifier) Send(ctx context.Context, msg Message) error {
	if n.cfg.Host == "" {
		return errors.New("mail host not configured")
	}
	if msg.To == "" {
		return errors.New("no recipient")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)
	auth := smtp.PlainAuth("", n.cfg.Sender, n.cfg.Password, n.cfg.Host)

	payload := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s",
		n.cfg.Sender, msg.To, msg.Subject, msg.Body,
	)

	// smtp.SendMail negotiates STARTTLS when the server advertises it
	return smtp.SendMail(addr, auth, n.cfg.Sender, []string{msg.To}, []byte(payload))
}
