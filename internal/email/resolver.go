package email

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shineum/mailcompose/internal/session"
)

// PropertyLookup is a read-only source of ambient configuration properties,
// keyed by the session.Key* constants.
type PropertyLookup interface {
	Lookup(key string) (string, bool)
}

// SessionFactory builds a session from connection properties.
type SessionFactory func(props session.Properties) (*session.Session, error)

type noProperties struct{}

func (noProperties) Lookup(string) (string, bool) { return "", false }

// SessionResolver decides which session a message is sent with. An explicitly
// assigned session wins; otherwise a session is built from the configured host
// name or, failing that, from the ambient mail.smtp.host property. A built
// session is cached until ResetSession.
type SessionResolver struct {
	lookup     PropertyLookup
	newSession SessionFactory

	explicit *session.Session
	resolved *session.Session

	hostName string
	props    session.Properties
}

// NewSessionResolver creates a resolver with the default port and timeouts.
// A nil lookup disables the ambient fallback; a nil factory selects
// session.New.
func NewSessionResolver(lookup PropertyLookup, factory SessionFactory) *SessionResolver {
	if lookup == nil {
		lookup = noProperties{}
	}
	if factory == nil {
		factory = session.New
	}
	return &SessionResolver{
		lookup:     lookup,
		newSession: factory,
		props: session.Properties{
			Port:              session.DefaultPort,
			SSLPort:           session.DefaultSSLPort,
			ConnectionTimeout: session.DefaultTimeout,
			Timeout:           session.DefaultTimeout,
		},
	}
}

func (r *SessionResolver) current() *session.Session {
	if r.explicit != nil {
		return r.explicit
	}
	return r.resolved
}

// update applies fn to the pending session properties. It fails once a
// session exists, since that session would silently ignore the change.
func (r *SessionResolver) update(fn func(p *session.Properties)) error {
	if r.current() != nil {
		return ErrSessionInitialized
	}
	fn(&r.props)
	return nil
}

// SetMailSession assigns the session to use, overriding host name and
// ambient properties. A nil session removes the assignment.
func (r *SessionResolver) SetMailSession(s *session.Session) {
	r.explicit = s
}

// ResetSession drops both the assigned and the cached session so that
// session parameters may be changed again.
func (r *SessionResolver) ResetSession() {
	r.explicit = nil
	r.resolved = nil
}

// SetHostName sets the mail server host name.
func (r *SessionResolver) SetHostName(host string) error {
	if r.current() != nil {
		return ErrSessionInitialized
	}
	r.hostName = host
	return nil
}

// HostName returns the host of the current session if there is one, the
// configured host name otherwise. It returns "" when neither exists.
func (r *SessionResolver) HostName() string {
	if s := r.current(); s != nil {
		return s.Host()
	}
	return r.hostName
}

// MailSession returns the session to send with, building and caching it on
// first use. It fails with ErrMissingHost when no session was assigned and no
// host name is configured or available as an ambient property.
func (r *SessionResolver) MailSession() (*session.Session, error) {
	if s := r.current(); s != nil {
		return s, nil
	}

	host := strings.TrimSpace(r.hostName)
	if host == "" {
		if v, ok := r.lookup.Lookup(session.KeyHost); ok {
			host = strings.TrimSpace(v)
		}
	}
	if host == "" {
		return nil, ErrMissingHost
	}

	props := r.props
	props.Host = host

	s, err := r.newSession(props)
	if err != nil {
		return nil, fmt.Errorf("failed to create mail session for %s: %w", host, err)
	}

	slog.Debug("mail session created",
		"host", s.Host(),
		"port", s.Port(),
		"ssl", props.SSLOnConnect,
		"starttls", props.StartTLSEnabled || props.StartTLSRequired,
	)

	r.resolved = s
	return s, nil
}

// SetSMTPPort sets the plain SMTP port.
func (r *SessionResolver) SetSMTPPort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	return r.update(func(p *session.Properties) { p.Port = port })
}

// SMTPPort returns the plain SMTP port.
func (r *SessionResolver) SMTPPort() int {
	return r.props.Port
}

// SetSSLSMTPPort sets the port used with SSL on connect.
func (r *SessionResolver) SetSSLSMTPPort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	return r.update(func(p *session.Properties) { p.SSLPort = port })
}

// SSLSMTPPort returns the port used with SSL on connect.
func (r *SessionResolver) SSLSMTPPort() int {
	return r.props.SSLPort
}

// SetSocketConnectionTimeout sets the dial timeout forwarded to the session.
func (r *SessionResolver) SetSocketConnectionTimeout(d time.Duration) error {
	return r.update(func(p *session.Properties) { p.ConnectionTimeout = d })
}

// SocketConnectionTimeout returns the dial timeout.
func (r *SessionResolver) SocketConnectionTimeout() time.Duration {
	return r.props.ConnectionTimeout
}

// SetSocketTimeout sets the read/write timeout forwarded to the session.
func (r *SessionResolver) SetSocketTimeout(d time.Duration) error {
	return r.update(func(p *session.Properties) { p.Timeout = d })
}

// SocketTimeout returns the read/write timeout.
func (r *SessionResolver) SocketTimeout() time.Duration {
	return r.props.Timeout
}

// SetAuthentication sets SMTP AUTH credentials. An empty username disables
// authentication.
func (r *SessionResolver) SetAuthentication(username, password string) error {
	return r.update(func(p *session.Properties) {
		p.Username = username
		p.Password = password
	})
}

// SetSSLOnConnect selects implicit TLS on the SSL port.
func (r *SessionResolver) SetSSLOnConnect(ssl bool) error {
	return r.update(func(p *session.Properties) { p.SSLOnConnect = ssl })
}

// SSLOnConnect reports whether implicit TLS is selected.
func (r *SessionResolver) SSLOnConnect() bool {
	return r.props.SSLOnConnect
}

// SetStartTLSEnabled enables opportunistic STARTTLS.
func (r *SessionResolver) SetStartTLSEnabled(enabled bool) error {
	return r.update(func(p *session.Properties) { p.StartTLSEnabled = enabled })
}

// SetStartTLSRequired makes STARTTLS mandatory. Requiring it also enables it.
func (r *SessionResolver) SetStartTLSRequired(required bool) error {
	return r.update(func(p *session.Properties) {
		p.StartTLSRequired = required
		if required {
			p.StartTLSEnabled = true
		}
	})
}

// StartTLSEnabled reports whether STARTTLS is enabled.
func (r *SessionResolver) StartTLSEnabled() bool {
	return r.props.StartTLSEnabled || r.props.StartTLSRequired
}

// StartTLSRequired reports whether STARTTLS is mandatory.
func (r *SessionResolver) StartTLSRequired() bool {
	return r.props.StartTLSRequired
}

// SetTLSConfig sets the TLS settings used for STARTTLS and SSL-on-connect.
// Nil restores verification against the system roots.
func (r *SessionResolver) SetTLSConfig(cfg *tls.Config) error {
	return r.update(func(p *session.Properties) { p.TLSConfig = cfg })
}

// BounceAddress returns the envelope sender, empty when unset.
func (r *SessionResolver) BounceAddress() string {
	return r.props.BounceAddress
}

func (r *SessionResolver) setBounceAddress(address string) error {
	return r.update(func(p *session.Properties) { p.BounceAddress = address })
}
