// Package resend implements a Provider that sends emails via the Resend API.
package resend

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/resend/resend-go/v3"

	"github.com/shineum/mailcompose/internal/email"
	"github.com/shineum/mailcompose/internal/parser"
)

// ResendProviderConfig holds the configuration for creating a ResendProvider.
type ResendProviderConfig struct {
	APIKey string
}

// ResendProvider sends built messages via the Resend emails endpoint.
type ResendProvider struct {
	client *resend.Client
}

// New creates a new ResendProvider with the given configuration.
func New(cfg ResendProviderConfig) *ResendProvider {
	return &ResendProvider{client: resend.NewClient(cfg.APIKey)}
}

// NewWithClient creates a ResendProvider with a custom client, used for testing.
func NewWithClient(client *resend.Client) *ResendProvider {
	return &ResendProvider{client: client}
}

// Send converts the message to a Resend request. Text and HTML bodies are read
// back from the rendered message; other MIME parts become attachments.
func (p *ResendProvider) Send(ctx context.Context, msg *email.Message) error {
	req, err := buildSendEmailRequest(msg)
	if err != nil {
		return err
	}

	resp, err := p.client.Emails.SendWithContext(ctx, req)
	if err != nil {
		slog.Warn("Resend API error",
			"message_id", msg.MessageID(),
			"error", err,
		)
		return fmt.Errorf("resend: failed to send email: %w", err)
	}

	var resendID string
	if resp != nil {
		resendID = resp.Id
	}
	slog.Info("message delivered via Resend",
		"message_id", msg.MessageID(),
		"resend_id", resendID,
		"recipients", len(msg.Recipients()),
	)
	return nil
}

// Name returns the provider name.
func (p *ResendProvider) Name() string {
	return "resend"
}

func buildSendEmailRequest(msg *email.Message) (*resend.SendEmailRequest, error) {
	raw, err := msg.Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to build raw message: %w", err)
	}
	summary, err := parser.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to read back message: %w", err)
	}

	headers := msg.Headers()
	headers["Message-ID"] = msg.MessageID()

	req := &resend.SendEmailRequest{
		From:    msg.From().String(),
		To:      bareAddresses(msg.To()),
		Cc:      bareAddresses(msg.Cc()),
		Bcc:     bareAddresses(msg.Bcc()),
		ReplyTo: strings.Join(bareAddresses(msg.ReplyTo()), ", "),
		Subject: msg.Subject(),
		Text:    summary.TextBody,
		Html:    summary.HTMLBody,
		Headers: headers,
	}

	for i, part := range summary.Parts {
		name := part.Filename
		if name == "" {
			name = fmt.Sprintf("part-%d", i+1)
		}
		req.Attachments = append(req.Attachments, &resend.Attachment{
			Filename:    name,
			Content:     part.Content,
			ContentType: part.ContentType,
		})
	}
	return req, nil
}

func bareAddresses(list []*mail.Address) []string {
	if len(list) == 0 {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.Address)
	}
	return out
}
