package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bdobrica/kokoro/common/redact"
	"github.com/bdobrica/kokoro/common/retry"
	"github.com/bdobrica/kokoro/internal/kokoro/schema"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModel     = "gpt-4o-mini"
	defaultTimeout   = 60 * time.Second
	defaultMaxTokens = 1024
)

// OpenAIConfig configures an OpenAI-compatible chat completions backend.
type OpenAIConfig struct {
	// APIKey is the bearer token. It is scrubbed from every returned error.
	APIKey string

	// BaseURL overrides the endpoint (Ollama, vLLM, Azure, proxies).
	// Defaults to https://api.openai.com/v1.
	BaseURL string

	// Model defaults to gpt-4o-mini.
	Model string

	// Timeout is the per-request HTTP timeout. Defaults to 60 s.
	Timeout time.Duration

	// MaxTokens caps the completion length. Defaults to 1024.
	MaxTokens int

	// Retry controls backoff for transport errors, 429s and 5xx responses.
	// Zero value means retry.DefaultPolicy.
	Retry retry.Policy
}

// OpenAIBackend implements Backend with response_format=json_schema.
type OpenAIBackend struct {
	cfg    OpenAIConfig
	client *http.Client
}

// NewOpenAI returns an OpenAIBackend with defaults applied. It is safe for
// concurrent use.
func NewOpenAI(cfg OpenAIConfig) *OpenAIBackend {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultPolicy
	}
	return &OpenAIBackend{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// --- minimal OpenAI wire types ---

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiJSONSchema struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
	Strict bool           `json:"strict"`
}

type oaiFormat struct {
	Type       string         `json:"type"`
	JSONSchema *oaiJSONSchema `json:"json_schema,omitempty"`
}

type oaiRequest struct {
	Model          string       `json:"model"`
	Messages       []oaiMessage `json:"messages"`
	MaxTokens      int          `json:"max_tokens,omitempty"`
	ResponseFormat *oaiFormat   `json:"response_format,omitempty"`
}

type oaiResponse struct {
	Choices []struct {
		Message      oaiMessage `json:"message"`
		FinishReason string     `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Evaluate sends one chat completion and returns the assistant content as raw
// JSON. Schema conformance is checked by the caller (see Evaluate[T]).
func (b *OpenAIBackend) Evaluate(ctx context.Context, prompt, systemPrompt string, result *schema.Schema) (json.RawMessage, error) {
	req := oaiRequest{
		Model:     b.cfg.Model,
		MaxTokens: b.cfg.MaxTokens,
		Messages:  make([]oaiMessage, 0, 2),
	}
	if systemPrompt != "" {
		req.Messages = append(req.Messages, oaiMessage{Role: "system", Content: systemPrompt})
	}
	req.Messages = append(req.Messages, oaiMessage{Role: "user", Content: prompt})

	if result != nil {
		req.ResponseFormat = &oaiFormat{
			Type: "json_schema",
			JSONSchema: &oaiJSONSchema{
				Name:   result.Name(),
				Schema: result.Document(),
			},
		}
	} else {
		req.ResponseFormat = &oaiFormat{Type: "json_object"}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", ErrBackend, err)
	}

	p := b.cfg.Retry
	p.ShouldRetry = isRetryable
	content, err := retry.Value(ctx, p, "inference.evaluate", func() (string, error) {
		return b.do(ctx, body)
	})
	if err != nil {
		return nil, redact.Error(err, b.cfg.APIKey)
	}
	return json.RawMessage(schema.ExtractJSON([]byte(content))), nil
}

// do performs one HTTP round trip.
func (b *OpenAIBackend) do(ctx context.Context, body []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		b.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("%w: create request: %v", ErrBackend, err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: http request: %v", ErrBackend, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrBackend, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", fmt.Errorf("%w (HTTP 429)", ErrRateLimit)
	}

	var oaiResp oaiResponse
	if err := json.Unmarshal(respBody, &oaiResp); err != nil {
		if resp.StatusCode >= 500 {
			return "", fmt.Errorf("%w: HTTP %d", ErrBackend, resp.StatusCode)
		}
		return "", retry.Permanent(fmt.Errorf("%w: decode API response: %v", ErrMalformedOutput, err))
	}
	if oaiResp.Error != nil {
		apiErr := fmt.Errorf("%w: API error (%s): %s", ErrBackend, oaiResp.Error.Type, oaiResp.Error.Message)
		if resp.StatusCode >= 500 {
			return "", apiErr
		}
		return "", retry.Permanent(apiErr)
	}
	if resp.StatusCode >= 400 {
		return "", retry.Permanent(fmt.Errorf("%w: unexpected HTTP status %d", ErrBackend, resp.StatusCode))
	}
	if len(oaiResp.Choices) == 0 {
		return "", retry.Permanent(fmt.Errorf("%w: no choices returned", ErrMalformedOutput))
	}
	return oaiResp.Choices[0].Message.Content, nil
}

// isRetryable retries throttling and transport/5xx failures; everything
// else is reported immediately.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrBackend)
}

var _ Backend = (*OpenAIBackend)(nil)
