// Package redact strips credentials from strings and errors before they reach
// logs, stored memories, or chat rooms.
//
// Redaction is best-effort string replacement. It relies on callers passing
// the right secrets and is not a reason to log credentials in the first place.
package redact

import (
	"strings"
)

const placeholder = "[REDACTED]"

// minSecretLen guards against replacing common short substrings.
const minSecretLen = 4

// String replaces every occurrence of each secret in s with [REDACTED].
func String(s string, secrets ...string) string {
	for _, v := range secrets {
		if len(v) < minSecretLen {
			continue
		}
		s = strings.ReplaceAll(s, v, placeholder)
	}
	return s
}

// redactedError keeps the original error chain for errors.Is while printing
// a scrubbed message.
type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

// Error returns err with secrets scrubbed from its message. Returns nil for a
// nil error and err itself when nothing needed scrubbing.
func Error(err error, secrets ...string) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	clean := String(msg, secrets...)
	if clean == msg {
		return err
	}
	return &redactedError{msg: clean, err: err}
}

// Fields returns a copy of m where string values under credential-like keys
// (token, secret, key, password, auth) are replaced with [REDACTED].
func Fields(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if v != "" && IsSensitiveKey(k) {
			out[k] = placeholder
			continue
		}
		out[k] = v
	}
	return out
}

// IsSensitiveKey reports whether a field name suggests it holds a credential.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, word := range []string{"password", "passwd", "token", "secret", "apikey", "api_key", "credential", "auth"} {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return strings.HasSuffix(lower, "key")
}
