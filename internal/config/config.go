// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for mailcompose.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shineum/mailcompose/internal/session"
)

// Config holds the complete application configuration.
type Config struct {
	Provider string        `yaml:"provider"`
	SMTP     SMTPConfig    `yaml:"smtp"`
	Message  MessageConfig `yaml:"message"`
	SES      SESConfig     `yaml:"ses"`
	Graph    GraphConfig   `yaml:"graph"`
	Resend   ResendConfig  `yaml:"resend"`
	Sink     SinkConfig    `yaml:"sink"`
	TLS      TLSConfig     `yaml:"tls"`
	Logging  LoggingConfig `yaml:"logging"`
}

// SMTPConfig holds the outbound mail server settings.
type SMTPConfig struct {
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	SSLPort           int           `yaml:"ssl_port"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	SSLOnConnect      bool          `yaml:"ssl_on_connect"`
	StartTLS          bool          `yaml:"starttls"`
	StartTLSRequired  bool          `yaml:"starttls_required"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
	Timeout           time.Duration `yaml:"timeout"`

	// CAFile, when set, replaces the system roots used to verify the server.
	CAFile string `yaml:"ca_file"`
}

// MessageConfig holds defaults applied to every composed message.
type MessageConfig struct {
	From          string `yaml:"from"`
	Charset       string `yaml:"charset"`
	BounceAddress string `yaml:"bounce_address"`
}

// SESConfig holds AWS SES configuration.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Sender          string `yaml:"sender"`
}

// GraphConfig holds Microsoft Graph API configuration.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Sender       string `yaml:"sender"`
}

// ResendConfig holds Resend API configuration.
type ResendConfig struct {
	APIKey string `yaml:"api_key"`
}

// SinkConfig holds the local capture server settings.
type SinkConfig struct {
	Listen   string `yaml:"listen"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// TLSConfig holds the capture server's certificate file paths. Empty paths
// select a generated self-signed certificate.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	cfg.applyEnvVars()

	return cfg, nil
}

// SMTPConfigured returns true if an SMTP host is set.
func (c *Config) SMTPConfigured() bool {
	return c.SMTP.Host != ""
}

// SESConfigured returns true if the SES region and sender are set.
// Credentials are optional and fall back to the default AWS chain.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != "" && c.SES.Sender != ""
}

// GraphConfigured returns true if all four Graph API credentials are set.
func (c *Config) GraphConfigured() bool {
	return c.Graph.TenantID != "" &&
		c.Graph.ClientID != "" &&
		c.Graph.ClientSecret != "" &&
		c.Graph.Sender != ""
}

// ResendConfigured returns true if a Resend API key is set.
func (c *Config) ResendConfigured() bool {
	return c.Resend.APIKey != ""
}

// AuthEnabled returns true if both SMTP username and password are set.
func (c *Config) AuthEnabled() bool {
	return c.SMTP.Username != "" && c.SMTP.Password != ""
}

// Lookup exposes the SMTP settings under the session property keys so a
// Config can serve as the ambient property source of an email.Email.
func (c *Config) Lookup(key string) (string, bool) {
	var v string
	switch key {
	case session.KeyHost:
		v = c.SMTP.Host
	case session.KeyPort:
		if c.SMTP.Port > 0 {
			v = strconv.Itoa(c.SMTP.Port)
		}
	case session.KeyFrom:
		v = c.Message.BounceAddress
	case session.KeyUser:
		v = c.SMTP.Username
	case session.KeyAuth:
		v = strconv.FormatBool(c.AuthEnabled())
	case session.KeySSLEnable:
		v = strconv.FormatBool(c.SMTP.SSLOnConnect)
	case session.KeyStartTLSEnable:
		v = strconv.FormatBool(c.SMTP.StartTLS || c.SMTP.StartTLSRequired)
	case session.KeyStartTLSRequired:
		v = strconv.FormatBool(c.SMTP.StartTLSRequired)
	case session.KeyConnectionTimeout:
		if c.SMTP.ConnectionTimeout > 0 {
			v = strconv.FormatInt(c.SMTP.ConnectionTimeout.Milliseconds(), 10)
		}
	case session.KeyTimeout:
		if c.SMTP.Timeout > 0 {
			v = strconv.FormatInt(c.SMTP.Timeout.Milliseconds(), 10)
		}
	}
	return v, v != ""
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.SMTP.Port = session.DefaultPort
	c.SMTP.SSLPort = session.DefaultSSLPort
	c.SMTP.ConnectionTimeout = session.DefaultTimeout
	c.SMTP.Timeout = session.DefaultTimeout
	c.Sink.Listen = ":2525"
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values; values
// that fail to parse are ignored.
func (c *Config) applyEnvVars() {
	if v := os.Getenv("PROVIDER"); v != "" {
		c.Provider = strings.ToLower(v)
	}

	if v := os.Getenv("MAIL_SMTP_HOST"); v != "" {
		c.SMTP.Host = v
	}
	if v := os.Getenv("MAIL_SMTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.SMTP.Port = port
		}
	}
	if v := os.Getenv("MAIL_SMTP_SSL_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.SMTP.SSLPort = port
		}
	}
	if v := os.Getenv("MAIL_SMTP_USER"); v != "" {
		c.SMTP.Username = v
	}
	if v := os.Getenv("MAIL_SMTP_PASSWORD"); v != "" {
		c.SMTP.Password = v
	}
	if v := os.Getenv("MAIL_SMTP_SSL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.SMTP.SSLOnConnect = b
		}
	}
	if v := os.Getenv("MAIL_SMTP_STARTTLS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.SMTP.StartTLS = b
		}
	}
	if v := os.Getenv("MAIL_SMTP_STARTTLS_REQUIRED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.SMTP.StartTLSRequired = b
		}
	}
	if v := os.Getenv("MAIL_SMTP_CONNECTION_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.SMTP.ConnectionTimeout = d
		}
	}
	if v := os.Getenv("MAIL_SMTP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.SMTP.Timeout = d
		}
	}

	if v := os.Getenv("MAIL_SMTP_CA_FILE"); v != "" {
		c.SMTP.CAFile = v
	}

	if v := os.Getenv("MAIL_FROM"); v != "" {
		c.Message.From = v
	}
	if v := os.Getenv("MAIL_CHARSET"); v != "" {
		c.Message.Charset = v
	}
	if v := os.Getenv("MAIL_BOUNCE_ADDRESS"); v != "" {
		c.Message.BounceAddress = v
	}

	if v := os.Getenv("SES_REGION"); v != "" {
		c.SES.Region = v
	}
	if v := os.Getenv("SES_ACCESS_KEY_ID"); v != "" {
		c.SES.AccessKeyID = v
	}
	if v := os.Getenv("SES_SECRET_ACCESS_KEY"); v != "" {
		c.SES.SecretAccessKey = v
	}
	if v := os.Getenv("SES_SENDER"); v != "" {
		c.SES.Sender = v
	}

	if v := os.Getenv("GRAPH_TENANT_ID"); v != "" {
		c.Graph.TenantID = v
	}
	if v := os.Getenv("GRAPH_CLIENT_ID"); v != "" {
		c.Graph.ClientID = v
	}
	if v := os.Getenv("GRAPH_CLIENT_SECRET"); v != "" {
		c.Graph.ClientSecret = v
	}
	if v := os.Getenv("GRAPH_SENDER"); v != "" {
		c.Graph.Sender = v
	}

	if v := os.Getenv("RESEND_API_KEY"); v != "" {
		c.Resend.APIKey = v
	}

	if v := os.Getenv("SINK_LISTEN"); v != "" {
		c.Sink.Listen = v
	}
	if v := os.Getenv("SINK_USERNAME"); v != "" {
		c.Sink.Username = v
	}
	if v := os.Getenv("SINK_PASSWORD"); v != "" {
		c.Sink.Password = v
	}
	if v := os.Getenv("TLS_CERT_FILE"); v != "" {
		c.TLS.CertFile = v
	}
	if v := os.Getenv("TLS_KEY_FILE"); v != "" {
		c.TLS.KeyFile = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}
