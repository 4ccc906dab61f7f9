package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shineum/mailcompose/internal/config"
	"github.com/shineum/mailcompose/internal/email"
	"github.com/shineum/mailcompose/internal/smtp"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	for _, key := range []string{
		"PROVIDER", "MAIL_SMTP_HOST", "MAIL_SMTP_USER", "MAIL_SMTP_PASSWORD",
		"MAIL_SMTP_CA_FILE", "MAIL_FROM", "MAIL_CHARSET", "MAIL_BOUNCE_ADDRESS",
		"SES_REGION", "SES_SENDER", "GRAPH_TENANT_ID", "GRAPH_CLIENT_ID",
		"GRAPH_CLIENT_SECRET", "GRAPH_SENDER", "RESEND_API_KEY",
	} {
		t.Setenv(key, "")
	}
	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func TestParseFlags(t *testing.T) {
	opts, err := parseFlags([]string{
		"-from", "Sender <from@example.com>",
		"-to", "a@example.com, b@example.com",
		"-subject", "Hello",
		"-body", "Hi there",
		"-header", "X-Campaign: spring",
		"-header", "X-Priority:1",
	})
	require.NoError(t, err)
	require.Equal(t, "Sender <from@example.com>", opts.from)
	require.Equal(t, "Hello", opts.subject)
	require.Equal(t, headerFlags{{"X-Campaign", "spring"}, {"X-Priority", "1"}}, opts.headers)
	require.Equal(t, "X-Campaign: spring, X-Priority: 1", opts.headers.String())
}

func TestParseFlags_Errors(t *testing.T) {
	_, err := parseFlags([]string{"-header", "no-colon"})
	require.Error(t, err)

	_, err = parseFlags([]string{"-body", "x", "-body-file", "body.txt"})
	require.ErrorContains(t, err, "mutually exclusive")
}

func TestReadBody(t *testing.T) {
	body, err := readBody(&options{body: "inline"}, nil)
	require.NoError(t, err)
	require.Equal(t, "inline", body)

	body, err = readBody(&options{bodyFile: "-"}, strings.NewReader("from stdin"))
	require.NoError(t, err)
	require.Equal(t, "from stdin", body)

	_, err = readBody(&options{bodyFile: "/nonexistent/body.txt"}, nil)
	require.Error(t, err)
}

func TestComposeMessage(t *testing.T) {
	cfg := testConfig(t)
	cfg.Message.From = "Default <default@example.com>"
	cfg.Message.Charset = "utf-8"

	opts := &options{
		to:      "Alice <alice@example.com>, bob@example.com",
		cc:      "carol@example.com",
		bcc:     "dave@example.com",
		replyTo: "replies@example.com",
		subject: "Status",
		headers: headerFlags{{"X-Campaign", "spring"}},
	}
	msg, err := composeMessage(cfg, opts, "All good.", false)
	require.NoError(t, err)

	require.Equal(t, "default@example.com", msg.From().Address)
	require.Equal(t, "Default", msg.From().Name)
	require.Len(t, msg.To(), 2)
	require.Equal(t, "Alice", msg.To()[0].Name)
	require.Equal(t, "carol@example.com", msg.Cc()[0].Address)
	require.Equal(t, "dave@example.com", msg.Bcc()[0].Address)
	require.Equal(t, "replies@example.com", msg.ReplyTo()[0].Address)
	require.Equal(t, "Status", msg.Subject())
	require.Equal(t, "UTF-8", msg.Charset())
	v, ok := msg.Header("X-Campaign")
	require.True(t, ok)
	require.Equal(t, "spring", v)
	require.Equal(t, "localhost", msg.Session().Host())
}

func TestComposeMessage_FlagFromOverridesConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Message.From = "default@example.com"

	msg, err := composeMessage(cfg, &options{from: "flag@example.com", to: "to@example.com"}, "x", false)
	require.NoError(t, err)
	require.Equal(t, "flag@example.com", msg.From().Address)
}

func TestComposeMessage_UsesConfiguredHost(t *testing.T) {
	cfg := testConfig(t)
	cfg.SMTP.Host = "mail.example.com"
	cfg.SMTP.Port = 2525
	cfg.Message.BounceAddress = "bounce@example.com"

	msg, err := composeMessage(cfg, &options{from: "from@example.com", to: "to@example.com"}, "x", true)
	require.NoError(t, err)
	require.Equal(t, "mail.example.com", msg.Session().Host())
	require.Equal(t, 2525, msg.Session().Port())
	require.Equal(t, "bounce@example.com", msg.Session().Properties().BounceAddress)
}

func TestComposeMessage_Errors(t *testing.T) {
	cfg := testConfig(t)

	_, err := composeMessage(cfg, &options{to: "to@example.com"}, "x", false)
	require.ErrorIs(t, err, email.ErrMissingFrom)

	_, err = composeMessage(cfg, &options{from: "from@example.com"}, "x", false)
	require.ErrorIs(t, err, email.ErrMissingRecipient)

	_, err = composeMessage(cfg, &options{from: "from@example.com", to: "to@example.com"}, "x", true)
	require.ErrorIs(t, err, email.ErrMissingHost)

	_, err = composeMessage(cfg, &options{from: "from@example.com", to: "to@example.com", charset: "no-such-charset"}, "x", false)
	require.ErrorIs(t, err, email.ErrInvalidCharset)

	cfg.SMTP.Port = 0
	_, err = composeMessage(cfg, &options{from: "from@example.com", to: "to@example.com"}, "x", false)
	require.ErrorIs(t, err, email.ErrInvalidPort)
}

func TestSelectProvider(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		configure func(*config.Config)
		want      string
		wantErr   string
	}{
		{name: "default stdout", configure: func(*config.Config) {}, want: "stdout"},
		{name: "explicit stdout", configure: func(c *config.Config) { c.Provider = "stdout" }, want: "stdout"},
		{
			name:      "auto smtp",
			configure: func(c *config.Config) { c.SMTP.Host = "mail.example.com" },
			want:      "smtp",
		},
		{
			name: "auto resend over smtp",
			configure: func(c *config.Config) {
				c.SMTP.Host = "mail.example.com"
				c.Resend.APIKey = "re_test"
			},
			want: "resend",
		},
		{
			name: "auto graph first",
			configure: func(c *config.Config) {
				c.Resend.APIKey = "re_test"
				c.Graph = config.GraphConfig{TenantID: "t", ClientID: "c", ClientSecret: "s", Sender: "from@example.com"}
			},
			want: "msgraph",
		},
		{name: "smtp without host", configure: func(c *config.Config) { c.Provider = "smtp" }, wantErr: "MAIL_SMTP_HOST"},
		{name: "ses without region", configure: func(c *config.Config) { c.Provider = "ses" }, wantErr: "SES_REGION"},
		{name: "graph incomplete", configure: func(c *config.Config) { c.Provider = "graph" }, wantErr: "GRAPH_TENANT_ID"},
		{name: "resend without key", configure: func(c *config.Config) { c.Provider = "resend" }, wantErr: "RESEND_API_KEY"},
		{name: "unknown", configure: func(c *config.Config) { c.Provider = "pigeon" }, wantErr: "unknown provider"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.configure(cfg)

			p, err := selectProvider(ctx, cfg, false)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, p.Name())
		})
	}
}

func TestSinkHandler(t *testing.T) {
	e := email.New()
	_, err := e.SetFrom("from@example.com")
	require.NoError(t, err)
	_, err = e.AddTo("to@example.com")
	require.NoError(t, err)
	require.NoError(t, e.SetHostName("localhost"))
	e.SetSubject("Captured")
	e.SetContent("body", "")
	msg, err := e.Build()
	require.NoError(t, err)
	data, err := msg.Bytes()
	require.NoError(t, err)

	var out bytes.Buffer
	h := sinkHandler(true, &out)
	err = h.Deliver(context.Background(), &smtp.Envelope{
		From: "from@example.com",
		To:   []string{"to@example.com"},
		Data: data,
	})
	require.NoError(t, err)
	require.Contains(t, out.String(), "Subject: Captured")

	out.Reset()
	require.NoError(t, sinkHandler(false, &out).Deliver(context.Background(), &smtp.Envelope{Data: data}))
	require.Empty(t, out.String())
}
