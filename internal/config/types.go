package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// redacted is what a Secret prints as.
const redacted = "[REDACTED]"

// Duration is a time.Duration read from YAML or env vars as "90s", "6h", "2160h".
type Duration time.Duration

// UnmarshalText parses a Go duration string. Negative values are rejected.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	if v < 0 {
		return fmt.Errorf("invalid duration %q: must not be negative", text)
	}
	*d = Duration(v)
	return nil
}

// MarshalJSON renders the duration the way it is written in config files.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration().String())
}

// Duration converts d for use with the time package.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Secret holds a credential from config (redis.password). It never prints or
// serializes its value; call Value when dialing.
type Secret string

// Value returns the credential.
func (s Secret) Value() string {
	return string(s)
}

// String returns "[REDACTED]" for a set secret and "" for an empty one.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

// GoString keeps %#v from printing the value.
func (s Secret) GoString() string {
	return "Secret(" + redacted + ")"
}

// MarshalJSON encodes the redacted form.
func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalText stores text as the credential.
func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(text)
	return nil
}
