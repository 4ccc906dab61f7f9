// Package stdout implements a Provider that prints emails to standard output.
package stdout

import (
	"context"
	"fmt"
	"io"
	"net/mail"
	"os"
	"strings"

	"github.com/shineum/mailcompose/internal/email"
	"github.com/shineum/mailcompose/internal/parser"
)

const separator = "========================================\n"

// Provider prints built messages in a human-readable format.
type Provider struct {
	// writer is the output destination, defaulting to os.Stdout.
	writer io.Writer
	// raw prints the rendered MIME message instead of a summary.
	raw bool
}

// New creates a new stdout Provider that writes to os.Stdout.
func New() *Provider {
	return &Provider{writer: os.Stdout}
}

// NewWithWriter creates a new stdout Provider that writes to the given writer.
// This is useful for testing.
func NewWithWriter(w io.Writer) *Provider {
	return &Provider{writer: w}
}

// NewRaw creates a Provider that writes the full rendered message to w.
func NewRaw(w io.Writer) *Provider {
	return &Provider{writer: w, raw: true}
}

// Send prints the message. The body is read back from the rendered message so
// the output shows what a transport would carry.
func (p *Provider) Send(_ context.Context, msg *email.Message) error {
	if p.raw {
		if _, err := msg.WriteTo(p.writer); err != nil {
			return err
		}
		_, err := io.WriteString(p.writer, "\n")
		return err
	}

	raw, err := msg.Bytes()
	if err != nil {
		return err
	}
	summary, err := parser.Parse(raw)
	if err != nil {
		return fmt.Errorf("failed to read back message: %w", err)
	}

	var b strings.Builder

	b.WriteString(separator)
	fmt.Fprintf(&b, "From: %s\n", msg.From())
	fmt.Fprintf(&b, "To: %s\n", joinAddresses(msg.To()))

	if cc := msg.Cc(); len(cc) > 0 {
		fmt.Fprintf(&b, "Cc: %s\n", joinAddresses(cc))
	}
	if bcc := msg.Bcc(); len(bcc) > 0 {
		fmt.Fprintf(&b, "Bcc: %s\n", joinAddresses(bcc))
	}

	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject())
	fmt.Fprintf(&b, "Message-ID: %s\n", msg.MessageID())
	b.WriteString("Body:\n")

	body := summary.TextBody
	if body == "" {
		body = summary.HTMLBody
	}
	b.WriteString(body + "\n")

	if len(summary.Parts) > 0 {
		parts := make([]string, 0, len(summary.Parts))
		for _, part := range summary.Parts {
			name := part.Filename
			if name == "" {
				name = part.ContentType
			}
			parts = append(parts, fmt.Sprintf("%s (%s)", name, formatSize(len(part.Content))))
		}
		fmt.Fprintf(&b, "Parts: %s\n", strings.Join(parts, ", "))
	}

	b.WriteString(separator)

	if _, err := io.WriteString(p.writer, b.String()); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "stdout"
}

func joinAddresses(list []*mail.Address) string {
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.String())
	}
	return strings.Join(out, ", ")
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
