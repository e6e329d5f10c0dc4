package memory

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
)

// Embedder produces vector embeddings for text. A nil vector with a nil
// error means embedding is unavailable and similarity search falls back to
// keyword matching.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// NoopEmbedder returns nil vectors.
type NoopEmbedder struct{}

func (NoopEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return nil, nil
}

var _ Embedder = NoopEmbedder{}

const (
	defaultEmbeddingBase    = "https://api.openai.com/v1"
	defaultEmbeddingModel   = "text-embedding-3-small"
	defaultEmbeddingTimeout = 30 * time.Second
)

// errEmbeddingTransient marks failures worth retrying (429, 5xx, transport).
var errEmbeddingTransient = errors.New("transient embedding failure")

// HTTPEmbedderConfig configures an OpenAI-compatible embeddings endpoint.
type HTTPEmbedderConfig struct {
	APIKey string

	// BaseURL defaults to https://api.openai.com/v1.
	BaseURL string

	// Model defaults to text-embedding-3-small.
	Model string

	// Timeout is the per-request HTTP timeout. Defaults to 30 s.
	Timeout time.Duration

	// Retry overrides retry.DefaultPolicy. ShouldRetry is always replaced.
	Retry *retry.Policy
}

// HTTPEmbedder calls the /embeddings endpoint of an OpenAI-compatible API.
// It is safe for concurrent use.
type HTTPEmbedder struct {
	cfg    HTTPEmbedderConfig
	policy retry.Policy
	client *http.Client
}

// NewHTTPEmbedder applies defaults and returns the embedder.
func NewHTTPEmbedder(cfg HTTPEmbedderConfig) *HTTPEmbedder {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultEmbeddingBase
	}
	if cfg.Model == "" {
		cfg.Model = defaultEmbeddingModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultEmbeddingTimeout
	}
	policy := retry.DefaultPolicy
	if cfg.Retry != nil {
		policy = *cfg.Retry
	}
	policy.ShouldRetry = func(err error) bool { return errors.Is(err, errEmbeddingTransient) }

	return &HTTPEmbedder{
		cfg:    cfg,
		policy: policy,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type embeddingRequest struct {
	Input string `json:"input"`
	Model string `json:"model"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Embed returns the embedding of text. Empty text is never sent.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, nil
	}

	payload, err := json.Marshal(embeddingRequest{Input: text, Model: e.cfg.Model})
	if err != nil {
		return nil, fmt.Errorf("embedder: marshal request: %w", err)
	}

	vec, err := retry.Value(ctx, e.policy, "embed", func() ([]float32, error) {
		return e.do(ctx, payload)
	})
	if err != nil {
		return nil, redact.Error(err, e.cfg.APIKey)
	}
	return vec, nil
}

func (e *HTTPEmbedder) do(ctx context.Context, payload []byte) ([]float32, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("embedder: create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("embedder: http request: %w: %w", errEmbeddingTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("embedder: read response body: %w: %w", errEmbeddingTransient, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, fmt.Errorf("embedder: HTTP %d: %w", resp.StatusCode, errEmbeddingTransient)
	}

	var out embeddingResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("embedder: decode response: %w", err)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("embedder: API error (%s): %s", out.Error.Type, out.Error.Message)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("embedder: unexpected HTTP status %d", resp.StatusCode)
	}
	if len(out.Data) == 0 {
		return nil, errors.New("embedder: no embedding data returned")
	}
	return out.Data[0].Embedding, nil
}

var _ Embedder = (*HTTPEmbedder)(nil)
