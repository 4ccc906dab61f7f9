package config

import (
	"os"
	"strings"
)

// Env resolves property keys against the process environment. A key such as
// "mail.smtp.host" is read from MAIL_SMTP_HOST.
type Env struct{}

// Lookup returns the environment value for key. Empty values count as unset.
func (Env) Lookup(key string) (string, bool) {
	v := os.Getenv(EnvName(key))
	return v, v != ""
}

// EnvName converts a dotted property key to its environment variable name.
func EnvName(key string) string {
	return strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
}

// Map is a fixed set of properties, mostly useful in tests.
type Map map[string]string

// Lookup returns the value stored for key.
func (m Map) Lookup(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}
