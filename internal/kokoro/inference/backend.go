// Package inference is the boundary to the decision-making model.
//
// Callers never see free text: every call supplies a schema and gets back
// output that has been validated against it, or an error. Callers own their
// fallback behaviour; nothing in this package degrades silently.
package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bdobrica/kokoro/internal/kokoro/schema"
)

// ErrRateLimit is returned when the upstream API reports throttling (HTTP 429).
var ErrRateLimit = errors.New("inference: upstream rate limit exceeded")

// ErrMalformedOutput is returned when the model answered but its output is
// not valid JSON for the requested schema.
var ErrMalformedOutput = errors.New("inference: malformed output")

// ErrBackend covers transport failures and non-throttling API errors.
var ErrBackend = errors.New("inference: backend call failed")

// Backend produces a structured, schema-conforming result from a prompt.
//
// Implementations must be safe for concurrent use. The returned JSON is not
// required to be pre-validated; Evaluate validates it.
type Backend interface {
	Evaluate(ctx context.Context, prompt, systemPrompt string, result *schema.Schema) (json.RawMessage, error)
}

// Evaluate calls b and decodes the output into T through s. Validation
// failures are reported as ErrMalformedOutput (which also matches
// schema.ErrInvalid).
func Evaluate[T any](ctx context.Context, b Backend, prompt, systemPrompt string, s *schema.Schema) (T, error) {
	var zero T
	if b == nil {
		return zero, fmt.Errorf("%w: no backend configured", ErrBackend)
	}
	raw, err := b.Evaluate(ctx, prompt, systemPrompt, s)
	if err != nil {
		return zero, err
	}
	out, err := schema.Decode[T](s, raw)
	if err != nil {
		return zero, fmt.Errorf("%w: %w", ErrMalformedOutput, err)
	}
	return out, nil
}

// Func adapts a plain function to Backend. Handy for tests and for wiring
// alternative SDKs without a named type.
type Func func(ctx context.Context, prompt, systemPrompt string, result *schema.Schema) (json.RawMessage, error)

// Evaluate calls f.
func (f Func) Evaluate(ctx context.Context, prompt, systemPrompt string, result *schema.Schema) (json.RawMessage, error) {
	return f(ctx, prompt, systemPrompt, result)
}

// Static returns a Backend that always answers with v marshalled as JSON.
func Static(v any) Backend {
	return Func(func(context.Context, string, string, *schema.Schema) (json.RawMessage, error) {
		return json.Marshal(v)
	})
}

// Failing returns a Backend that always fails with err.
func Failing(err error) Backend {
	return Func(func(context.Context, string, string, *schema.Schema) (json.RawMessage, error) {
		return nil, err
	})
}

var (
	_ Backend = Func(nil)
)
