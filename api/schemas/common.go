package schemas

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// -- Common Schemas --

// Credentials holds the username and password used for the form login.
// They are threaded through a single run as a parameter and never stored.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Valid reports whether both fields are populated.
func (c Credentials) Valid() bool {
	return c.Username != "" && c.Password != ""
}

// String redacts the password.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{username=%q, password=%s}", c.Username, redact(c.Password))
}

// MarshalLogObject lets credentials be passed to zap.Object without leaking the secret.
func (c Credentials) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("username", c.Username)
	enc.AddBool("password_set", c.Password != "")
	return nil
}

// CredentialsField is a convenience zap field for credentials.
func CredentialsField(c Credentials) zap.Field {
	return zap.Object("credentials", c)
}

func redact(s string) string {
	if s == "" {
		return "<empty>"
	}
	return "****"
}

// -- Session Schemas --

const (
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 800
)

// SessionConfig configures the browser session for a single run.
type SessionConfig struct {
	Headless       bool `json:"headless"`
	ViewportWidth  int  `json:"viewport_width"`
	ViewportHeight int  `json:"viewport_height"`
}

// DefaultSessionConfig returns a headless 1280x800 session.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Headless:       true,
		ViewportWidth:  DefaultViewportWidth,
		ViewportHeight: DefaultViewportHeight,
	}
}

// Normalize fills zero viewport dimensions with the defaults.
func (s SessionConfig) Normalize() SessionConfig {
	if s.ViewportWidth <= 0 {
		s.ViewportWidth = DefaultViewportWidth
	}
	if s.ViewportHeight <= 0 {
		s.ViewportHeight = DefaultViewportHeight
	}
	return s
}
