package mail

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Transport sends one rendered envelope
type Transport interface {
	Send(ctx context.Context, env *Envelope) error
}

// LogTransport writes envelopes to the log instead of sending them
type LogTransport struct {
	logger *zap.Logger
}

// NewLogTransport creates a LogTransport
func NewLogTransport(logger *zap.Logger) *LogTransport {
	return &LogTransport{logger: logger}
}

// Send implements Transport
func (t *LogTransport) Send(ctx context.Context, env *Envelope) error {
	t.logger.Info("Email (log transport)",
		zap.String("to", env.To),
		zap.String("subject", env.Subject),
		zap.Int("body_bytes", len(env.Body)))
	return nil
}

// SMTPConfig holds SMTP server settings
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// SMTPTransport delivers through a plain SMTP relay
type SMTPTransport struct {
	cfg SMTPConfig
}

// NewSMTPTransport creates an SMTPTransport
func NewSMTPTransport(cfg SMTPConfig) *SMTPTransport {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &SMTPTransport{cfg: cfg}
}

// Send implements Transport
func (t *SMTPTransport) Send(ctx context.Context, env *Envelope) error {
	addr := net.JoinHostPort(t.cfg.Host, fmt.Sprint(t.cfg.Port))

	var auth smtp.Auth
	if t.cfg.Username != "" {
		auth = smtp.PlainAuth("", t.cfg.Username, t.cfg.Password, t.cfg.Host)
	}

	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(addr, auth, t.cfg.From, []string{env.To}, buildMessage(t.cfg.From, env))
	}()

	timer := time.NewTimer(t.cfg.Timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return classify(env.To, err)
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("smtp send to %s: timed out after %s", env.To, t.cfg.Timeout)
	}
}

func buildMessage(from string, env *Envelope) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", env.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", env.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(env.Body, "\n", "\r\n"))
	return []byte(b.String())
}

// classify marks 5xx replies as permanent so they are not retried
func classify(to string, err error) error {
	if err == nil {
		return nil
	}
	var reply *textproto.Error
	if errors.As(err, &reply) && reply.Code >= 500 {
		return fmt.Errorf("smtp send to %s: %w: %v", to, ErrPermanent, err)
	}
	return fmt.Errorf("smtp send to %s: %w", to, err)
}
