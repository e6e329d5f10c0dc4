// Package schema validates structured model output against a declarative
// JSON Schema before it is decoded into Go types.
//
// A Schema is declared once as a plain map (the same document is shown to the
// model in the prompt and sent as the response_format), compiled with
// santhosh-tekuri/jsonschema, and then used through Decode:
//
//	var decisionSchema = schema.MustNew("decision", map[string]any{...})
//	d, err := schema.Decode[Decision](decisionSchema, raw)
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrInvalid is returned (wrapped) when output does not parse as JSON or does
// not conform to the schema.
var ErrInvalid = errors.New("schema: output does not conform")

// Schema is a compiled, named JSON Schema document.
type Schema struct {
	name     string
	doc      map[string]any
	raw      []byte
	compiled *jsonschema.Schema
}

// New compiles doc under name. The name doubles as the response_format name
// for OpenAI-compatible backends, so keep it to [a-zA-Z0-9_-].
func New(name string, doc map[string]any) (*Schema, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("schema: name must not be empty")
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("schema %s: marshal document: %w", name, err)
	}
	compiled, err := jsonschema.CompileString("schema://kokoro/"+name+".json", string(raw))
	if err != nil {
		return nil, fmt.Errorf("schema %s: compile: %w", name, err)
	}
	return &Schema{name: name, doc: doc, raw: raw, compiled: compiled}, nil
}

// MustNew is New for package-level schema declarations.
func MustNew(name string, doc map[string]any) *Schema {
	s, err := New(name, doc)
	if err != nil {
		panic(err)
	}
	return s
}

// Name returns the schema name.
func (s *Schema) Name() string { return s.name }

// Document returns the declarative schema document.
func (s *Schema) Document() map[string]any { return s.doc }

// String returns the schema as compact JSON, suitable for embedding in prompts.
func (s *Schema) String() string { return string(s.raw) }

// Validate checks raw model output against the schema.
func (s *Schema) Validate(raw []byte) error {
	body := ExtractJSON(raw)
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return fmt.Errorf("%w: %s: not JSON: %v", ErrInvalid, s.name, err)
	}
	if err := s.compiled.Validate(v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalid, s.name, err)
	}
	return nil
}

// Decode validates raw against s and unmarshals it into a T.
func Decode[T any](s *Schema, raw []byte) (T, error) {
	var out T
	if s == nil {
		return out, fmt.Errorf("%w: nil schema", ErrInvalid)
	}
	if err := s.Validate(raw); err != nil {
		return out, err
	}
	if err := json.Unmarshal(ExtractJSON(raw), &out); err != nil {
		return out, fmt.Errorf("%w: %s: decode: %v", ErrInvalid, s.name, err)
	}
	return out, nil
}

// ExtractJSON trims whitespace and a surrounding markdown code fence, which
// some models emit even when asked for bare JSON.
func ExtractJSON(raw []byte) []byte {
	b := bytes.TrimSpace(raw)
	if !bytes.HasPrefix(b, []byte("```")) {
		return b
	}
	b = bytes.TrimPrefix(b, []byte("```"))
	if nl := bytes.IndexByte(b, '\n'); nl >= 0 {
		// Drop the language tag line ("json").
		b = b[nl+1:]
	}
	b = bytes.TrimSuffix(bytes.TrimSpace(b), []byte("```"))
	return bytes.TrimSpace(b)
}
