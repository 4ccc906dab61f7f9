package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/textproto"
	"slices"
	"strconv"
	"strings"
	"time"
)

// phase tracks how far a client has progressed through a transaction.
type phase int

const (
	phaseConnected phase = iota
	phaseGreeted
	phaseAuthenticated
	phaseMail
	phaseRcpt
)

// idleTimeout is the maximum time a session can remain idle before being closed.
const idleTimeout = 60 * time.Second

// maxMessageSize is the default maximum message size (10 MB).
const maxMessageSize = 10 * 1024 * 1024

// command handles one verb. The argument is the rest of the line.
type command func(s *Session, ctx context.Context, arg string)

var commands = map[string]command{
	"HELO":     (*Session).helo,
	"EHLO":     (*Session).ehlo,
	"STARTTLS": (*Session).startTLS,
	"AUTH":     (*Session).authenticate,
	"MAIL":     (*Session).mail,
	"RCPT":     (*Session).rcpt,
	"DATA":     (*Session).data,
	"RSET":     (*Session).rset,
	"NOOP":     (*Session).noop,
}

// Session serves one client connection.
type Session struct {
	conn  net.Conn
	text  *textproto.Conn
	phase phase

	auth     *Authenticator
	handler  Handler
	hostname string
	maxSize  int

	tlsConfig *tls.Config
	tlsActive bool

	from string
	to   []string
}

// NewSession creates a session for conn. Zero values in cfg select the same
// defaults as New.
func NewSession(conn net.Conn, auth *Authenticator, cfg ServerConfig) *Session {
	s := &Session{
		conn:      conn,
		text:      textproto.NewConn(conn),
		auth:      auth,
		handler:   cfg.Handler,
		hostname:  cfg.Hostname,
		maxSize:   cfg.MaxMessageSize,
		tlsConfig: cfg.TLSConfig,
	}
	if s.maxSize <= 0 {
		s.maxSize = maxMessageSize
	}
	if s.hostname == "" {
		s.hostname = "localhost"
	}
	if s.handler == nil {
		s.handler = &Recorder{}
	}
	return s
}

// Handle runs the session until the client quits, the connection fails or
// ctx is cancelled.
func (s *Session) Handle(ctx context.Context) {
	// STARTTLS replaces s.text.
	defer func() { s.text.Close() }()

	s.reply(220, "%s ESMTP mailcompose", s.hostname)

	for {
		if ctx.Err() != nil {
			s.reply(421, "4.3.2 Service shutting down")
			return
		}
		if err := s.conn.SetDeadline(time.Now().Add(idleTimeout)); err != nil {
			slog.Error("failed to set connection deadline", "error", err)
			return
		}

		line, err := s.text.ReadLine()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Debug("connection read error", "error", err)
			}
			return
		}
		if line == "" {
			continue
		}

		verb, arg := parseCommand(line)
		if verb == "QUIT" {
			s.reply(221, "2.0.0 Bye")
			return
		}
		cmd, ok := commands[verb]
		if !ok {
			s.reply(500, "5.5.2 Unrecognized command")
			continue
		}
		cmd(s, ctx, arg)
	}
}

func (s *Session) helo(_ context.Context, arg string) {
	if arg == "" {
		s.reply(501, "5.5.4 Syntax: HELO hostname")
		return
	}
	s.greet()
	s.reply(250, "%s Hello %s", s.hostname, arg)
}

func (s *Session) ehlo(_ context.Context, arg string) {
	if arg == "" {
		s.reply(501, "5.5.4 Syntax: EHLO hostname")
		return
	}
	s.greet()

	lines := []string{s.hostname + " Hello " + arg}
	if s.tlsConfig != nil && !s.tlsActive {
		lines = append(lines, "STARTTLS")
	}
	if s.auth.Enabled() {
		lines = append(lines, "AUTH PLAIN LOGIN")
	}
	lines = append(lines, "SIZE "+strconv.Itoa(s.maxSize), "ENHANCEDSTATUSCODES")
	s.replyLines(250, lines)
}

// greet starts a fresh transaction. A repeated greeting keeps an earlier
// authentication.
func (s *Session) greet() {
	s.endTransaction()
	if s.phase == phaseConnected {
		s.phase = phaseGreeted
	}
}

func (s *Session) startTLS(_ context.Context, _ string) {
	switch {
	case s.tlsConfig == nil:
		s.reply(454, "4.7.0 TLS not available")
		return
	case s.tlsActive:
		s.reply(454, "4.7.0 TLS already active")
		return
	}

	s.reply(220, "2.0.0 Ready to start TLS")

	tlsConn := tls.Server(s.conn, s.tlsConfig)
	if err := tlsConn.Handshake(); err != nil {
		slog.Error("TLS handshake failed", "error", err)
		return
	}

	// The client must greet again over the encrypted channel.
	s.conn = tlsConn
	s.text = textproto.NewConn(tlsConn)
	s.tlsActive = true
	s.phase = phaseConnected
	s.from, s.to = "", nil
}

func (s *Session) authenticate(_ context.Context, arg string) {
	switch {
	case s.phase < phaseGreeted:
		s.reply(503, "5.5.1 Send EHLO/HELO first")
		return
	case !s.auth.Enabled():
		s.reply(503, "5.5.1 AUTH not available")
		return
	case s.phase >= phaseAuthenticated:
		s.reply(503, "5.5.1 Already authenticated")
		return
	}

	mechanism, initial, _ := strings.Cut(arg, " ")

	var err error
	switch strings.ToUpper(mechanism) {
	case "PLAIN":
		err = s.authPlain(initial)
	case "LOGIN":
		err = s.authLogin()
	default:
		s.reply(504, "5.5.4 Unrecognized authentication type")
		return
	}

	switch {
	case errors.Is(err, errAuthCancelled):
		s.reply(501, "5.7.0 Authentication cancelled")
	case errors.Is(err, ErrAuthMalformed):
		s.reply(501, "5.5.2 Cannot decode response")
	case err != nil:
		slog.Debug("authentication failed", "mechanism", mechanism, "error", err)
		s.reply(535, "5.7.8 Authentication failed")
	default:
		s.phase = phaseAuthenticated
		s.reply(235, "2.7.0 Authentication successful")
	}
}

var errAuthCancelled = errors.New("authentication cancelled")

// challenge sends a 334 prompt and reads the client's answer.
func (s *Session) challenge(prompt string) (string, error) {
	s.reply(334, "%s", prompt)
	line, err := s.text.ReadLine()
	if err != nil {
		return "", err
	}
	if line == "*" {
		return "", errAuthCancelled
	}
	return line, nil
}

func (s *Session) authPlain(initial string) error {
	if initial == "" {
		var err error
		if initial, err = s.challenge(""); err != nil {
			return err
		}
	}
	return s.auth.VerifyPlain(initial)
}

func (s *Session) authLogin() error {
	// "Username:" and "Password:", base64 encoded.
	user, err := s.challenge("VXNlcm5hbWU6")
	if err != nil {
		return err
	}
	pass, err := s.challenge("UGFzc3dvcmQ6")
	if err != nil {
		return err
	}
	return s.auth.VerifyLogin(user, pass)
}

func (s *Session) mail(_ context.Context, arg string) {
	switch {
	case s.phase < phaseGreeted:
		s.reply(503, "5.5.1 Send EHLO/HELO first")
		return
	case s.auth.Enabled() && s.phase < phaseAuthenticated:
		s.reply(530, "5.7.0 Authentication required")
		return
	case s.phase >= phaseMail:
		s.reply(503, "5.5.1 Nested MAIL command")
		return
	}

	addr, ok := pathArgument(arg, "FROM:")
	if !ok {
		s.reply(501, "5.5.4 Syntax: MAIL FROM:<address>")
		return
	}

	s.from = addr
	s.to = nil
	s.phase = phaseMail
	s.reply(250, "2.1.0 OK")
}

func (s *Session) rcpt(_ context.Context, arg string) {
	if s.phase < phaseMail {
		s.reply(503, "5.5.1 Send MAIL FROM first")
		return
	}

	addr, ok := pathArgument(arg, "TO:")
	if !ok || addr == "" {
		s.reply(501, "5.5.4 Syntax: RCPT TO:<address>")
		return
	}

	s.to = append(s.to, addr)
	s.phase = phaseRcpt
	s.reply(250, "2.1.5 OK")
}

// data reads the message up to the terminating dot line and hands it to the
// handler. Lines past the size limit are drained and the message rejected.
func (s *Session) data(ctx context.Context, _ string) {
	if s.phase < phaseRcpt {
		s.reply(503, "5.5.1 Send RCPT TO first")
		return
	}

	s.reply(354, "Start mail input; end with <CRLF>.<CRLF>")

	var (
		buf      []byte
		tooLarge bool
	)
	for {
		line, err := s.text.ReadLine()
		if err != nil {
			slog.Error("error reading DATA", "error", err)
			return
		}
		if line == "." {
			break
		}
		line = strings.TrimPrefix(line, ".")

		if tooLarge || len(buf)+len(line)+2 > s.maxSize {
			tooLarge = true
			continue
		}
		buf = append(buf, line...)
		buf = append(buf, '\r', '\n')
	}

	env := &Envelope{From: s.from, To: slices.Clone(s.to), Data: buf}
	s.endTransaction()

	if tooLarge {
		s.reply(552, "5.3.4 Message exceeds fixed maximum message size")
		return
	}
	if err := s.handler.Deliver(ctx, env); err != nil {
		slog.Error("handler rejected message",
			"from", env.From,
			"error", err,
		)
		s.reply(451, "4.3.0 Temporary failure, please try again later")
		return
	}

	slog.Debug("message accepted",
		"from", env.From,
		"recipients", len(env.To),
		"size", len(env.Data),
	)
	s.reply(250, "2.0.0 OK message accepted")
}

func (s *Session) rset(_ context.Context, _ string) {
	s.endTransaction()
	s.reply(250, "2.0.0 OK")
}

func (s *Session) noop(_ context.Context, _ string) {
	s.reply(250, "2.0.0 OK")
}

// endTransaction drops the envelope while keeping greeting and
// authentication.
func (s *Session) endTransaction() {
	s.from, s.to = "", nil
	if s.phase > phaseAuthenticated {
		if s.auth.Enabled() {
			s.phase = phaseAuthenticated
		} else {
			s.phase = phaseGreeted
		}
	}
}

func (s *Session) reply(code int, format string, args ...any) {
	if err := s.text.PrintfLine("%d "+format, append([]any{code}, args...)...); err != nil {
		slog.Error("failed to write to client", "error", err)
	}
}

// replyLines writes a multi-line reply.
func (s *Session) replyLines(code int, lines []string) {
	for i, line := range lines {
		sep := "-"
		if i == len(lines)-1 {
			sep = " "
		}
		if err := s.text.PrintfLine("%d%s%s", code, sep, line); err != nil {
			slog.Error("failed to write to client", "error", err)
			return
		}
	}
}

// parseCommand splits a command line into the upper-cased verb and the rest.
func parseCommand(line string) (string, string) {
	verb, arg, _ := strings.Cut(line, " ")
	return strings.ToUpper(verb), arg
}

// pathArgument strips the FROM:/TO: keyword from a MAIL or RCPT argument and
// returns the address. A null reverse path yields "" and true.
func pathArgument(arg, keyword string) (string, bool) {
	if len(arg) < len(keyword) || !strings.EqualFold(arg[:len(keyword)], keyword) {
		return "", false
	}
	rest := strings.TrimSpace(arg[len(keyword):])
	if rest == "" {
		return "", false
	}
	if rest == "<>" || strings.HasPrefix(rest, "<> ") {
		return "", true
	}
	addr := extractAddress(rest)
	return addr, addr != ""
}

// extractAddress returns the address in an angle-bracket path, or the first
// word of a bare one. Trailing ESMTP parameters are ignored.
func extractAddress(s string) string {
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(s, "<"); ok {
		addr, _, found := strings.Cut(rest, ">")
		if !found {
			return ""
		}
		return addr
	}
	addr, _, _ := strings.Cut(s, " ")
	return addr
}
