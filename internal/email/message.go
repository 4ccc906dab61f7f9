package email

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"net/mail"
	"time"

	gomail "github.com/wneessen/go-mail"

	"github.com/shineum/mailcompose/internal/session"
)

// Message is the immutable result of Email.Build. It snapshots the builder
// state at build time and carries the transport message bound to its session.
type Message struct {
	from    *mail.Address
	to      []*mail.Address
	cc      []*mail.Address
	bcc     []*mail.Address
	replyTo []*mail.Address

	headers   map[string]string
	subject   string
	charset   string
	sentDate  time.Time
	messageID string
	body      Body

	session *session.Session
	msg     *gomail.Msg
}

// From returns the sender.
func (m *Message) From() *mail.Address { return copyAddress(m.from) }

// To returns the To recipients.
func (m *Message) To() []*mail.Address { return copyAddresses(m.to) }

// Cc returns the Cc recipients.
func (m *Message) Cc() []*mail.Address { return copyAddresses(m.cc) }

// Bcc returns the Bcc recipients. They are part of the envelope only.
func (m *Message) Bcc() []*mail.Address { return copyAddresses(m.bcc) }

// ReplyTo returns the Reply-To addresses.
func (m *Message) ReplyTo() []*mail.Address { return copyAddresses(m.replyTo) }

// Recipients returns the bare envelope recipients in To, Cc, Bcc order.
func (m *Message) Recipients() []string {
	out := make([]string, 0, len(m.to)+len(m.cc)+len(m.bcc))
	for _, list := range [][]*mail.Address{m.to, m.cc, m.bcc} {
		for _, a := range list {
			out = append(out, a.Address)
		}
	}
	return out
}

// Headers returns the custom headers.
func (m *Message) Headers() map[string]string { return maps.Clone(m.headers) }

// Header returns a custom header value.
func (m *Message) Header(name string) (string, bool) {
	v, ok := m.headers[name]
	return v, ok
}

// Subject returns the subject line.
func (m *Message) Subject() string { return m.subject }

// Charset returns the charset the message was built with, empty for none.
func (m *Message) Charset() string { return m.charset }

// SentDate returns the date stamped at build time.
func (m *Message) SentDate() time.Time { return m.sentDate }

// MessageID returns the Message-ID header value including angle brackets.
func (m *Message) MessageID() string { return m.messageID }

// Body describes the body and its content type.
func (m *Message) Body() Body { return m.body }

// ContentType returns the content type the body was written with.
func (m *Message) ContentType() string { return m.body.ContentType }

// Session returns the session the message is bound to.
func (m *Message) Session() *session.Session { return m.session }

// WriteTo renders the message in RFC 5322 form.
func (m *Message) WriteTo(w io.Writer) (int64, error) {
	n, err := m.msg.WriteTo(w)
	if err != nil {
		return n, fmt.Errorf("failed to render message %s: %w", m.messageID, err)
	}
	return n, nil
}

// Bytes returns the rendered message.
func (m *Message) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Send delivers the message through its session and returns its Message-ID.
func (m *Message) Send(ctx context.Context) (string, error) {
	if err := m.session.Send(ctx, m.msg); err != nil {
		return "", err
	}
	return m.messageID, nil
}
