package jobs

import (
	"context"
	"crypto/tls"
	"fmt"

	"gopkg.in/gomail.v2"
)

// Message is a plain-text e-mail.
type Message struct {
	To      string
	ToName  string
	Subject string
	Body    string
}

// Mailer delivers messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// MailerConfig holds SMTP settings.
type MailerConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	UseTLS   bool
}

// SMTPMailer sends mail through gomail.
type SMTPMailer struct {
	cfg    MailerConfig
	dialer *gomail.Dialer
}

// NewSMTPMailer constructs an SMTPMailer.
func NewSMTPMailer(cfg MailerConfig) *SMTPMailer {
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	if cfg.UseTLS {
		dialer.TLSConfig = &tls.Config{
			ServerName: cfg.Host,
			MinVersion: tls.VersionTLS12,
		}
	}
	return &SMTPMailer{cfg: cfg, dialer: dialer}
}

// Send delivers msg. gomail has no context support, so ctx is only checked
// before dialing.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	mail := gomail.NewMessage(
		gomail.SetCharset("UTF-8"),
		gomail.SetEncoding(gomail.Base64),
	)
	mail.SetAddressHeader("From", m.cfg.From, m.cfg.FromName)
	if msg.ToName != "" {
		mail.SetAddressHeader("To", msg.To, msg.ToName)
	} else {
		mail.SetHeader("To", msg.To)
	}
	mail.SetHeader("Subject", msg.Subject)
	mail.SetBody("text/plain", msg.Body)
	if err := m.dialer.DialAndSend(mail); err != nil {
		return fmt.Errorf("jobs: send email: %w", err)
	}
	return nil
}
