// Package environment loads configuration values from environment variables.
//
// A Loader namespaces every lookup under a fixed prefix (e.g. "KOKORO_") so
// call sites only spell the short name. Lookups never exit the process:
// missing required values come back as errors and malformed values fall back
// to the supplied default.
package environment

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Loader reads prefixed environment variables.
type Loader struct {
	prefix string
	lookup func(string) (string, bool)
}

// New returns a Loader that prepends prefix to every variable name.
func New(prefix string) *Loader {
	return &Loader{prefix: prefix, lookup: os.LookupEnv}
}

// Name returns the fully qualified variable name for key.
func (l *Loader) Name(key string) string {
	return l.prefix + key
}

// get returns the trimmed value and whether it was set to something non-empty.
func (l *Loader) get(key string) (string, bool) {
	v, ok := l.lookup(l.Name(key))
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

// Lookup reports the raw value and whether the variable is set at all.
func (l *Loader) Lookup(key string) (string, bool) {
	return l.lookup(l.Name(key))
}

// String returns the value of key, or def when unset or empty.
func (l *Loader) String(key, def string) string {
	if v, ok := l.get(key); ok {
		return v
	}
	return def
}

// Required returns the value of key or an error naming the missing variable.
func (l *Loader) Required(key string) (string, error) {
	v, ok := l.get(key)
	if !ok {
		return "", fmt.Errorf("required environment variable %q is not set", l.Name(key))
	}
	return v, nil
}

// Bool parses key with strconv.ParseBool, returning def when unset or invalid.
func (l *Loader) Bool(key string, def bool) bool {
	v, ok := l.get(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// Int parses key as a decimal integer, returning def when unset or invalid.
func (l *Loader) Int(key string, def int) int {
	v, ok := l.get(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// Duration parses key with time.ParseDuration ("30s", "5m"), returning def
// when unset or invalid.
func (l *Loader) Duration(key string, def time.Duration) time.Duration {
	v, ok := l.get(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// Strings splits key on commas, dropping blank elements. Returns def when the
// variable is unset or contains no usable elements.
func (l *Loader) Strings(key string, def []string) []string {
	v, ok := l.get(key)
	if !ok {
		return def
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
