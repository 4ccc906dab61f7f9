// Package main is the entry point for the mailcompose command. It composes a
// message from flags and configuration and delivers it through the selected
// provider, or runs a local SMTP capture server with -sink.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/shineum/mailcompose/internal/config"
	"github.com/shineum/mailcompose/internal/email"
	"github.com/shineum/mailcompose/internal/parser"
	"github.com/shineum/mailcompose/internal/provider"
	"github.com/shineum/mailcompose/internal/provider/graph"
	"github.com/shineum/mailcompose/internal/provider/resend"
	"github.com/shineum/mailcompose/internal/provider/ses"
	smtpprovider "github.com/shineum/mailcompose/internal/provider/smtp"
	"github.com/shineum/mailcompose/internal/provider/stdout"
	"github.com/shineum/mailcompose/internal/smtp"
	mailtls "github.com/shineum/mailcompose/internal/tls"
)

// options holds the command-line flags.
type options struct {
	configPath  string
	from        string
	to          string
	cc          string
	bcc         string
	replyTo     string
	subject     string
	body        string
	bodyFile    string
	contentType string
	charset     string
	headers     headerFlags
	raw         bool
	sink        bool
}

// headerFlags collects repeated -header "Name: value" flags in order.
type headerFlags []header

type header struct {
	name  string
	value string
}

func (h *headerFlags) String() string {
	parts := make([]string, 0, len(*h))
	for _, hd := range *h {
		parts = append(parts, hd.name+": "+hd.value)
	}
	return strings.Join(parts, ", ")
}

func (h *headerFlags) Set(v string) error {
	name, value, ok := strings.Cut(v, ":")
	if !ok {
		return fmt.Errorf("header %q must have the form \"Name: value\"", v)
	}
	*h = append(*h, header{name: strings.TrimSpace(name), value: strings.TrimSpace(value)})
	return nil
}

func parseFlags(args []string) (*options, error) {
	o := &options{}
	fs := flag.NewFlagSet("mailcompose", flag.ContinueOnError)
	fs.StringVar(&o.configPath, "config", "", "path to YAML configuration file (optional)")
	fs.StringVar(&o.from, "from", "", "sender address (defaults to message.from)")
	fs.StringVar(&o.to, "to", "", "comma-separated To recipients")
	fs.StringVar(&o.cc, "cc", "", "comma-separated Cc recipients")
	fs.StringVar(&o.bcc, "bcc", "", "comma-separated Bcc recipients")
	fs.StringVar(&o.replyTo, "reply-to", "", "comma-separated Reply-To addresses")
	fs.StringVar(&o.subject, "subject", "", "message subject")
	fs.StringVar(&o.body, "body", "", "message body")
	fs.StringVar(&o.bodyFile, "body-file", "", "read the message body from a file, - for stdin")
	fs.StringVar(&o.contentType, "content-type", "", "body content type (default text/plain with the message charset)")
	fs.StringVar(&o.charset, "charset", "", "message charset (defaults to message.charset)")
	fs.Var(&o.headers, "header", "custom header \"Name: value\" (repeatable)")
	fs.BoolVar(&o.raw, "raw", false, "print the full MIME message with the stdout provider")
	fs.BoolVar(&o.sink, "sink", false, "run a local SMTP capture server instead of sending")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if o.body != "" && o.bodyFile != "" {
		return nil, errors.New("-body and -body-file are mutually exclusive")
	}
	return o, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	// Load configuration
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	setupLogger(cfg.Logging.Level)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		sig := <-sigCh
		slog.Info("received signal, initiating shutdown", "signal", sig)
		cancel()
	}()

	if opts.sink {
		if err := runSink(ctx, cfg, opts.raw, os.Stdout); err != nil {
			slog.Error("capture server error", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := run(ctx, cfg, opts, os.Stdin); err != nil {
		slog.Error("failed to send message", "error", err)
		os.Exit(1)
	}
}

// run composes one message and delivers it through the configured provider.
func run(ctx context.Context, cfg *config.Config, opts *options, stdin io.Reader) error {
	prov, err := selectProvider(ctx, cfg, opts.raw)
	if err != nil {
		return err
	}

	body, err := readBody(opts, stdin)
	if err != nil {
		return err
	}

	msg, err := composeMessage(cfg, opts, body, prov.Name() == "smtp")
	if err != nil {
		return err
	}

	if err := prov.Send(ctx, msg); err != nil {
		return err
	}
	slog.Info("message sent",
		"provider", prov.Name(),
		"message_id", msg.MessageID(),
	)
	return nil
}

func readBody(opts *options, stdin io.Reader) (string, error) {
	switch opts.bodyFile {
	case "":
		return opts.body, nil
	case "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read body from stdin: %w", err)
		}
		return string(data), nil
	default:
		data, err := os.ReadFile(opts.bodyFile)
		if err != nil {
			return "", fmt.Errorf("failed to read body file: %w", err)
		}
		return string(data), nil
	}
}

// composeMessage builds a message from flags layered over configuration. The
// SMTP settings become session properties; the configuration also serves as
// the ambient property source for the host name. Providers that do not use
// the session get a placeholder host when none is configured.
func composeMessage(cfg *config.Config, opts *options, body string, needsSession bool) (*email.Message, error) {
	e := email.New(email.WithPropertyLookup(cfg))

	if !cfg.SMTPConfigured() && !needsSession {
		if err := e.SetHostName("localhost"); err != nil {
			return nil, err
		}
	}
	if err := applySMTPSettings(e, cfg); err != nil {
		return nil, err
	}

	if cfg.Message.BounceAddress != "" {
		if err := e.SetBounceAddress(cfg.Message.BounceAddress); err != nil {
			return nil, err
		}
	}

	charset := opts.charset
	if charset == "" {
		charset = cfg.Message.Charset
	}
	if charset != "" {
		if err := e.SetCharset(charset); err != nil {
			return nil, err
		}
	}

	from := opts.from
	if from == "" {
		from = cfg.Message.From
	}
	if from != "" {
		if _, err := e.SetFrom(from); err != nil {
			return nil, err
		}
	}

	if err := e.AddToList(parser.SplitAddressList(opts.to)...); err != nil {
		return nil, err
	}
	if err := e.AddCcList(parser.SplitAddressList(opts.cc)...); err != nil {
		return nil, err
	}
	if err := e.AddBccList(parser.SplitAddressList(opts.bcc)...); err != nil {
		return nil, err
	}
	if err := e.AddReplyToList(parser.SplitAddressList(opts.replyTo)...); err != nil {
		return nil, err
	}

	for _, h := range opts.headers {
		if err := e.AddHeader(h.name, h.value); err != nil {
			return nil, err
		}
	}

	e.SetSubject(opts.subject)
	e.SetContent(body, opts.contentType)

	return e.Build()
}

func applySMTPSettings(e *email.Email, cfg *config.Config) error {
	s := cfg.SMTP
	steps := []func() error{
		func() error { return e.SetSMTPPort(s.Port) },
		func() error { return e.SetSSLSMTPPort(s.SSLPort) },
		func() error { return e.SetSocketConnectionTimeout(s.ConnectionTimeout) },
		func() error { return e.SetSocketTimeout(s.Timeout) },
		func() error { return e.SetSSLOnConnect(s.SSLOnConnect) },
		func() error { return e.SetStartTLSEnabled(s.StartTLS) },
		func() error { return e.SetStartTLSRequired(s.StartTLSRequired) },
	}
	if cfg.AuthEnabled() {
		steps = append(steps, func() error { return e.SetAuthentication(s.Username, s.Password) })
	}
	if s.CAFile != "" {
		steps = append(steps, func() error {
			tlsConfig, err := mailtls.ClientConfig(s.Host, s.CAFile)
			if err != nil {
				return err
			}
			return e.SetTLSConfig(tlsConfig)
		})
	}

	for _, step := range steps {
		if err := step(); err != nil {
			return fmt.Errorf("invalid SMTP configuration: %w", err)
		}
	}
	return nil
}

// runSink serves the capture server until ctx is cancelled, logging a
// summary of every accepted message. With raw set the message data is also
// written to out.
func runSink(ctx context.Context, cfg *config.Config, raw bool, out io.Writer) error {
	tlsConfig, err := mailtls.LoadOrGenerateTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
	if err != nil {
		return fmt.Errorf("failed to setup TLS: %w", err)
	}

	tlsMode := "self-signed"
	if cfg.TLS.CertFile != "" && cfg.TLS.KeyFile != "" {
		tlsMode = "file"
	}

	server := smtp.New(smtp.ServerConfig{
		ListenAddr:   cfg.Sink.Listen,
		Hostname:     "localhost",
		Handler:      sinkHandler(raw, out),
		TLSConfig:    tlsConfig,
		AuthUsername: cfg.Sink.Username,
		AuthPassword: cfg.Sink.Password,
	})

	slog.Info("starting mailcompose capture server",
		"listen", cfg.Sink.Listen,
		"tls_mode", tlsMode,
	)

	// Blocks until the context is cancelled
	if err := server.ListenAndServe(ctx); err != nil {
		return err
	}

	slog.Info("mailcompose capture server stopped")
	return nil
}

func sinkHandler(raw bool, out io.Writer) smtp.Handler {
	return smtp.HandlerFunc(func(_ context.Context, env *smtp.Envelope) error {
		summary, err := parser.Parse(env.Data)
		if err != nil {
			return fmt.Errorf("failed to parse message: %w", err)
		}

		slog.Info("message received",
			"envelope_from", env.From,
			"envelope_to", env.To,
			"subject", summary.Subject,
			"message_id", summary.MessageID,
			"parts", len(summary.Parts),
		)

		if raw {
			if _, err := fmt.Fprintf(out, "%s\n", env.Data); err != nil {
				return err
			}
		}
		return nil
	})
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level.
func setupLogger(level string) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// selectProvider chooses the delivery backend based on configuration.
// An explicit provider takes precedence; otherwise the first configured one of
// Graph, SES, Resend and SMTP is used, falling back to stdout.
func selectProvider(ctx context.Context, cfg *config.Config, raw bool) (provider.Provider, error) {
	switch cfg.Provider {
	case "smtp":
		if !cfg.SMTPConfigured() {
			return nil, errors.New("SMTP provider selected but MAIL_SMTP_HOST is required")
		}
		slog.Info("using SMTP provider", "host", cfg.SMTP.Host)
		return smtpprovider.New(), nil

	case "ses":
		if !cfg.SESConfigured() {
			return nil, errors.New("SES provider selected but SES_REGION and SES_SENDER are required")
		}
		return newSES(ctx, cfg)

	case "graph":
		if !cfg.GraphConfigured() {
			return nil, errors.New("Graph provider selected but GRAPH_TENANT_ID, GRAPH_CLIENT_ID, GRAPH_CLIENT_SECRET, and GRAPH_SENDER are required")
		}
		return newGraph(cfg), nil

	case "resend":
		if !cfg.ResendConfigured() {
			return nil, errors.New("Resend provider selected but RESEND_API_KEY is required")
		}
		slog.Info("using Resend provider")
		return resend.New(resend.ResendProviderConfig{APIKey: cfg.Resend.APIKey}), nil

	case "stdout":
		slog.Info("using stdout provider")
		return newStdout(raw), nil

	case "":
		switch {
		case cfg.GraphConfigured():
			return newGraph(cfg), nil
		case cfg.SESConfigured():
			return newSES(ctx, cfg)
		case cfg.ResendConfigured():
			slog.Info("using Resend provider (auto-detected)")
			return resend.New(resend.ResendProviderConfig{APIKey: cfg.Resend.APIKey}), nil
		case cfg.SMTPConfigured():
			slog.Info("using SMTP provider (auto-detected)", "host", cfg.SMTP.Host)
			return smtpprovider.New(), nil
		}
		slog.Info("no provider configured, using stdout provider")
		return newStdout(raw), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

func newSES(ctx context.Context, cfg *config.Config) (provider.Provider, error) {
	slog.Info("using AWS SES provider",
		"region", cfg.SES.Region,
		"sender", cfg.SES.Sender,
	)
	p, err := ses.New(ctx, ses.SESProviderConfig{
		Region:          cfg.SES.Region,
		AccessKeyID:     cfg.SES.AccessKeyID,
		SecretAccessKey: cfg.SES.SecretAccessKey,
		Sender:          cfg.SES.Sender,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create SES provider: %w", err)
	}
	return p, nil
}

func newGraph(cfg *config.Config) provider.Provider {
	slog.Info("using Microsoft Graph provider",
		"sender", cfg.Graph.Sender,
	)
	return graph.New(graph.GraphProviderConfig{
		TenantID:     cfg.Graph.TenantID,
		ClientID:     cfg.Graph.ClientID,
		ClientSecret: cfg.Graph.ClientSecret,
		Sender:       cfg.Graph.Sender,
	})
}

func newStdout(raw bool) provider.Provider {
	if raw {
		return stdout.NewRaw(os.Stdout)
	}
	return stdout.New()
}
