// Package smtp implements a Provider that delivers built messages through the
// mail session they were built with.
package smtp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shineum/mailcompose/internal/email"
)

// SMTPProvider sends messages over SMTP using each message's own session.
type SMTPProvider struct{}

// New creates a new SMTPProvider.
func New() *SMTPProvider {
	return &SMTPProvider{}
}

// Send dials the message's mail server and delivers it to every To, Cc and
// Bcc recipient.
func (p *SMTPProvider) Send(ctx context.Context, msg *email.Message) error {
	host := ""
	if s := msg.Session(); s != nil {
		host = s.Host()
	}

	id, err := msg.Send(ctx)
	if err != nil {
		slog.Warn("SMTP delivery failed",
			"message_id", msg.MessageID(),
			"host", host,
			"error", err,
		)
		return fmt.Errorf("SMTP delivery failed: %w", err)
	}

	slog.Info("message delivered via SMTP",
		"message_id", id,
		"host", host,
		"recipients", len(msg.Recipients()),
	)
	return nil
}

// Name returns the provider name.
func (p *SMTPProvider) Name() string {
	return "smtp"
}
