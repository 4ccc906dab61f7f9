// Package smtp implements a small receiving SMTP server that hands accepted
// messages to a Handler. It supports STARTTLS and AUTH PLAIN/LOGIN.
package smtp

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strings"
)

var (
	// ErrAuthFailed is returned when credentials do not match.
	ErrAuthFailed = errors.New("smtp: authentication failed")

	// ErrAuthMalformed is returned when an AUTH response cannot be decoded.
	ErrAuthMalformed = errors.New("smtp: malformed authentication response")
)

// Authenticator handles SMTP AUTH verification against configured credentials.
type Authenticator struct {
	username string
	password string
}

// NewAuthenticator creates an Authenticator with the given credentials.
// If either is empty, authentication is disabled.
func NewAuthenticator(username, password string) *Authenticator {
	return &Authenticator{
		username: username,
		password: password,
	}
}

// Enabled returns true if authentication credentials are configured.
func (a *Authenticator) Enabled() bool {
	return a.username != "" && a.password != ""
}

// VerifyPlain decodes and verifies an AUTH PLAIN response of the form
// base64(authzid \0 authcid \0 password). The authorization identity is
// ignored.
func (a *Authenticator) VerifyPlain(encoded string) error {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return ErrAuthMalformed
	}

	parts := strings.SplitN(string(decoded), "\x00", 3)
	if len(parts) != 3 {
		return ErrAuthMalformed
	}
	return a.check(parts[1], parts[2])
}

// VerifyLogin verifies AUTH LOGIN credentials after the challenge-response flow.
// Both username and password are base64-encoded.
func (a *Authenticator) VerifyLogin(encodedUser, encodedPass string) error {
	user, err := base64.StdEncoding.DecodeString(encodedUser)
	if err != nil {
		return ErrAuthMalformed
	}
	pass, err := base64.StdEncoding.DecodeString(encodedPass)
	if err != nil {
		return ErrAuthMalformed
	}
	return a.check(string(user), string(pass))
}

func (a *Authenticator) check(user, pass string) error {
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(a.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(a.password)) == 1
	if !userOK || !passOK {
		return ErrAuthFailed
	}
	return nil
}
