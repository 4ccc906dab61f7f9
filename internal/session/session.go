// Package session holds the outbound connection parameters for a mail transport
// together with the go-mail client constructed from them.
package session

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/wneessen/go-mail"
)

// Property keys understood by Session.Property and by ambient configuration
// providers. Only KeyHost is consulted as a fallback source when resolving a
// session; the others describe an already constructed session.
const (
	KeyHost              = "mail.smtp.host"
	KeyPort              = "mail.smtp.port"
	KeyFrom              = "mail.smtp.from"
	KeyAuth              = "mail.smtp.auth"
	KeyUser              = "mail.smtp.user"
	KeySSLEnable         = "mail.smtp.ssl.enable"
	KeyStartTLSEnable    = "mail.smtp.starttls.enable"
	KeyStartTLSRequired  = "mail.smtp.starttls.required"
	KeyConnectionTimeout = "mail.smtp.connectiontimeout"
	KeyTimeout           = "mail.smtp.timeout"
)

const (
	// DefaultPort is the plain SMTP port.
	DefaultPort = 25

	// DefaultSSLPort is the SMTPS port used when SSLOnConnect is set.
	DefaultSSLPort = 465

	// DefaultTimeout is the default for both socket timeouts.
	DefaultTimeout = 60 * time.Second
)

// ErrNoHost is returned by New when Properties.Host is empty.
var ErrNoHost = errors.New("session: host name is required")

// Properties describes how to reach and authenticate against a mail server.
type Properties struct {
	Host     string
	Port     int
	SSLPort  int
	Username string
	Password string

	SSLOnConnect     bool
	StartTLSEnabled  bool
	StartTLSRequired bool

	// BounceAddress is used as the envelope sender when set.
	BounceAddress string

	// TLSConfig replaces the transport's TLS settings for STARTTLS and
	// SSL-on-connect. Nil verifies Host against the system roots.
	TLSConfig *tls.Config

	// ConnectionTimeout bounds the TCP dial, Timeout every read and write.
	// Non-positive values leave the transport defaults in place.
	ConnectionTimeout time.Duration
	Timeout           time.Duration
}

// EffectivePort returns the port a connection will use: SSLPort when
// SSLOnConnect is set, Port otherwise, each falling back to its default.
func (p Properties) EffectivePort() int {
	if p.SSLOnConnect {
		if p.SSLPort > 0 {
			return p.SSLPort
		}
		return DefaultSSLPort
	}
	if p.Port > 0 {
		return p.Port
	}
	return DefaultPort
}

func (p Properties) tlsPolicy() mail.TLSPolicy {
	switch {
	case p.StartTLSRequired:
		return mail.TLSMandatory
	case p.StartTLSEnabled:
		return mail.TLSOpportunistic
	default:
		return mail.NoTLS
	}
}

// Session is an immutable handle on a configured mail transport. A Session
// may be shared by several messages as long as they are sent sequentially.
type Session struct {
	props  Properties
	client *mail.Client
}

// New builds a Session from props. No network connection is made.
func New(props Properties) (*Session, error) {
	if props.Host == "" {
		return nil, ErrNoHost
	}

	opts := []mail.Option{
		mail.WithPort(props.EffectivePort()),
		mail.WithTLSPolicy(props.tlsPolicy()),
	}
	if props.SSLOnConnect {
		opts = append(opts, mail.WithSSL())
	}
	if props.TLSConfig != nil {
		opts = append(opts, mail.WithTLSConfig(props.TLSConfig))
	}
	if props.Timeout > 0 {
		opts = append(opts, mail.WithTimeout(props.Timeout))
	}
	if props.ConnectionTimeout > 0 {
		dialer := &net.Dialer{Timeout: props.ConnectionTimeout}
		opts = append(opts, mail.WithDialContextFunc(dialer.DialContext))
	}
	if props.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(props.Username),
			mail.WithPassword(props.Password),
		)
	}

	client, err := mail.NewClient(props.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create mail client: %w", err)
	}

	return &Session{props: props, client: client}, nil
}

// Host returns the mail server host name.
func (s *Session) Host() string {
	return s.props.Host
}

// Port returns the port the session connects to.
func (s *Session) Port() int {
	return s.props.EffectivePort()
}

// Properties returns a copy of the parameters the session was built from.
func (s *Session) Properties() Properties {
	return s.props
}

// Property returns the session parameter stored under one of the Key*
// constants. The boolean is false for unknown keys and unset values.
func (s *Session) Property(key string) (string, bool) {
	var v string
	switch key {
	case KeyHost:
		v = s.props.Host
	case KeyPort:
		v = strconv.Itoa(s.props.EffectivePort())
	case KeyFrom:
		v = s.props.BounceAddress
	case KeyAuth:
		v = strconv.FormatBool(s.props.Username != "")
	case KeyUser:
		v = s.props.Username
	case KeySSLEnable:
		v = strconv.FormatBool(s.props.SSLOnConnect)
	case KeyStartTLSEnable:
		v = strconv.FormatBool(s.props.StartTLSEnabled || s.props.StartTLSRequired)
	case KeyStartTLSRequired:
		v = strconv.FormatBool(s.props.StartTLSRequired)
	case KeyConnectionTimeout:
		v = formatMillis(s.props.ConnectionTimeout)
	case KeyTimeout:
		v = formatMillis(s.props.Timeout)
	}
	return v, v != ""
}

// Send dials the server, delivers msgs and closes the connection.
func (s *Session) Send(ctx context.Context, msgs ...*mail.Msg) error {
	if err := s.client.DialAndSendWithContext(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to deliver via %s: %w", s.client.ServerAddr(), err)
	}
	return nil
}

func formatMillis(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	return strconv.FormatInt(d.Milliseconds(), 10)
}
