// Package email composes outbound messages. An Email collects addresses,
// headers, content and session parameters, validating each as it is set, and
// turns them into an immutable Message exactly once through Build.
package email

import (
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	gomail "github.com/wneessen/go-mail"
	"golang.org/x/text/encoding/ianaindex"
)

type buildState int

const (
	stateUnbuilt buildState = iota
	stateBuilt
)

type options struct {
	parse      AddressParser
	lookup     PropertyLookup
	newSession SessionFactory
	now        func() time.Time
}

// Option configures an Email.
type Option func(*options)

// WithAddressParser replaces net/mail.ParseAddress as the address validator.
func WithAddressParser(p AddressParser) Option {
	return func(o *options) { o.parse = p }
}

// WithPropertyLookup sets the ambient configuration used as a host name
// fallback when resolving the session.
func WithPropertyLookup(l PropertyLookup) Option {
	return func(o *options) { o.lookup = l }
}

// WithSessionFactory replaces session.New.
func WithSessionFactory(f SessionFactory) Option {
	return func(o *options) { o.newSession = f }
}

// WithClock replaces time.Now for the default sent date.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Email is a single-use message builder. It is not safe for concurrent use.
type Email struct {
	*AddressRegistry
	*HeaderStore
	*ContentAssembler
	*SessionResolver

	now func() time.Time

	subject  string
	charset  string
	sentDate time.Time

	state   buildState
	message *Message
}

// New creates an empty Email.
func New(opts ...Option) *Email {
	o := options{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	return &Email{
		AddressRegistry:  NewAddressRegistry(o.parse),
		HeaderStore:      NewHeaderStore(),
		ContentAssembler: NewContentAssembler(),
		SessionResolver:  NewSessionResolver(o.lookup, o.newSession),
		now:              o.now,
	}
}

// SetSubject sets the subject line.
func (e *Email) SetSubject(subject string) {
	e.subject = subject
}

// Subject returns the subject line.
func (e *Email) Subject() string {
	return e.subject
}

// SetCharset sets the message charset. The name must be known to the IANA
// registry and is stored in its canonical MIME form; an empty name clears it.
func (e *Email) SetCharset(name string) error {
	if name == "" {
		e.charset = ""
		return nil
	}

	enc, err := ianaindex.MIME.Encoding(name)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidCharset, name)
	}

	canonical := name
	if enc != nil {
		if n, err := ianaindex.MIME.Name(enc); err == nil {
			canonical = n
		}
	}
	e.charset = canonical
	return nil
}

// Charset returns the message charset, empty when unset.
func (e *Email) Charset() string {
	return e.charset
}

// SetSentDate sets the Date header value. The zero time clears it.
func (e *Email) SetSentDate(t time.Time) {
	e.sentDate = t
}

// SentDate returns the configured date, or the current time when none was
// set. The current time is not remembered between calls.
func (e *Email) SentDate() time.Time {
	if e.sentDate.IsZero() {
		return e.now()
	}
	return e.sentDate
}

// SetBounceAddress sets the envelope sender used for delivery status
// notifications. An empty address clears it.
func (e *Email) SetBounceAddress(address string) error {
	if address == "" {
		return e.setBounceAddress("")
	}
	addr, err := e.newAddress("", address)
	if err != nil {
		return err
	}
	return e.setBounceAddress(addr.Address)
}

// Message returns the built message, nil before a successful Build.
func (e *Email) Message() *Message {
	return e.message
}

// Build assembles the immutable Message. It can succeed only once per Email;
// later calls fail with ErrAlreadyBuilt. A failed Build leaves the Email
// unbuilt.
func (e *Email) Build() (*Message, error) {
	switch e.state {
	case stateBuilt:
		return nil, ErrAlreadyBuilt
	case stateUnbuilt:
		msg, err := e.assemble()
		if err != nil {
			return nil, err
		}
		e.state = stateBuilt
		e.message = msg
		return msg, nil
	default:
		return nil, fmt.Errorf("unknown build state %d", e.state)
	}
}

func (e *Email) assemble() (*Message, error) {
	if e.from == nil {
		return nil, ErrMissingFrom
	}
	if !e.hasRecipients() {
		return nil, ErrMissingRecipient
	}

	sess, err := e.MailSession()
	if err != nil {
		return nil, err
	}

	charset := e.charset
	if charset == "" {
		charset = contentTypeCharset(e.contentType)
	}

	var msgOpts []gomail.MsgOption
	if charset != "" {
		msgOpts = append(msgOpts, gomail.WithCharset(gomail.Charset(charset)))
	}
	msg := gomail.NewMsg(msgOpts...)

	if bounce := sess.Properties().BounceAddress; bounce != "" {
		if err := msg.EnvelopeFrom(bounce); err != nil {
			return nil, fmt.Errorf("%w: bounce address: %w", ErrInvalidAddress, err)
		}
	}

	if err := msg.SetAddrHeader(gomail.HeaderFrom, e.from.String()); err != nil {
		return nil, fmt.Errorf("%w: from: %w", ErrInvalidAddress, err)
	}
	recipients := []struct {
		header gomail.AddrHeader
		list   []*mail.Address
	}{
		{gomail.HeaderTo, e.to},
		{gomail.HeaderCc, e.cc},
		{gomail.HeaderBcc, e.bcc},
	}
	for _, rcpt := range recipients {
		if len(rcpt.list) == 0 {
			continue
		}
		if err := msg.SetAddrHeader(rcpt.header, addressStrings(rcpt.list)...); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidAddress, rcpt.header, err)
		}
	}
	if len(e.replyTo) > 0 {
		msg.SetGenHeader(gomail.HeaderReplyTo, strings.Join(addressStrings(e.replyTo), ", "))
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), sess.Host())
	if custom, ok := e.lookupFold("Message-ID"); ok {
		messageID = custom
	} else {
		msg.SetGenHeader(gomail.HeaderMessageID, messageID)
	}

	for name, value := range e.headers {
		msg.SetGenHeader(gomail.Header(name), value)
	}

	if e.subject != "" {
		msg.Subject(e.subject)
	}

	sentDate := e.SentDate()
	if !e.hasHeader("Date") {
		msg.SetDateWithValue(sentDate)
	}

	body, err := e.ContentAssembler.assemble(msg, charset)
	if err != nil {
		return nil, err
	}

	m := &Message{
		from:      copyAddress(e.from),
		to:        copyAddresses(e.to),
		cc:        copyAddresses(e.cc),
		bcc:       copyAddresses(e.bcc),
		replyTo:   copyAddresses(e.replyTo),
		headers:   e.Headers(),
		subject:   e.subject,
		charset:   charset,
		sentDate:  sentDate,
		messageID: messageID,
		body:      body,
		session:   sess,
		msg:       msg,
	}

	slog.Debug("message built",
		"message_id", m.messageID,
		"recipients", len(e.to)+len(e.cc)+len(e.bcc),
		"host", sess.Host(),
		"content_type", body.ContentType,
	)

	return m, nil
}
