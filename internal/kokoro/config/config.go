// Package config loads Kokoro's configuration: an optional YAML file,
// overridden by KOKORO_* environment variables. Credentials are read from the
// environment only.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bdobrica/kokoro/common/environment"
)

// EnvPrefix namespaces every environment variable Kokoro reads.
const EnvPrefix = "KOKORO_"

// Config is the complete application configuration.
type Config struct {
	DatabasePath string `yaml:"database_path"`

	// HTTPAddr serves /health and /status when set, e.g. ":8080".
	HTTPAddr string `yaml:"http_addr"`

	Log           LogConfig           `yaml:"log"`
	Inference     InferenceConfig     `yaml:"inference"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	Matrix        MatrixConfig        `yaml:"matrix"`
	Consciousness ConsciousnessConfig `yaml:"consciousness"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`

	// CharacterFile is a persona YAML file. Empty uses the built-in persona.
	CharacterFile string `yaml:"character_file"`

	// Processors are the roots of the processor tree, tried in order.
	Processors []ProcessorConfig `yaml:"processors"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

type InferenceConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Model     string        `yaml:"model"`
	Timeout   time.Duration `yaml:"timeout"`
	MaxTokens int           `yaml:"max_tokens"`
	APIKey    string        `yaml:"-"`
}

// EmbeddingConfig enables vector similarity search. When disabled the
// store falls back to keyword search.
type EmbeddingConfig struct {
	Enabled bool          `yaml:"enabled"`
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
	APIKey  string        `yaml:"-"`
}

// MatrixConfig connects Kokoro to a homeserver. An empty Homeserver
// disables the Matrix adapter.
type MatrixConfig struct {
	Homeserver  string   `yaml:"homeserver"`
	UserID      string   `yaml:"user_id"`
	Rooms       []string `yaml:"rooms"`
	AccessToken string   `yaml:"-"`
}

// Enabled reports whether the Matrix adapter should start.
func (m MatrixConfig) Enabled() bool { return m.Homeserver != "" }

type ConsciousnessConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Interval     time.Duration `yaml:"interval"`
	HistoryLimit int           `yaml:"history_limit"`
}

type PipelineConfig struct {
	// MinConfidence is the floor for dispatching suggested outputs.
	MinConfidence float64 `yaml:"min_confidence"`
	// RelatedMemories is how many similar memories accompany each item.
	RelatedMemories int `yaml:"related_memories"`
}

// ProcessorConfig describes one node of the processor tree.
type ProcessorConfig struct {
	Name             string            `yaml:"name"`
	MaxContentLength int               `yaml:"max_content_length"`
	Guidance         string            `yaml:"guidance"`
	Children         []ProcessorConfig `yaml:"children"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		DatabasePath: "./kokoro.db",
		Log:          LogConfig{Level: "info", Format: "text"},
		Inference: InferenceConfig{
			Model:   "gpt-4o-mini",
			Timeout: 60 * time.Second,
		},
		Embedding: EmbeddingConfig{
			Model:   "text-embedding-3-small",
			Timeout: 30 * time.Second,
		},
		Consciousness: ConsciousnessConfig{
			Enabled:      true,
			Interval:     15 * time.Minute,
			HistoryLimit: 10,
		},
		Pipeline: PipelineConfig{
			MinConfidence:   0.5,
			RelatedMemories: 5,
		},
		Processors: []ProcessorConfig{
			{Name: "master", MaxContentLength: 4000},
		},
	}
}

// Load reads path (optional) and applies KOKORO_* overrides.
func Load(path string) (*Config, error) {
	return load(path, environment.New(EnvPrefix))
}

func load(path string, env *environment.Loader) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := decodeYAML(raw, cfg); err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
	}
	cfg.applyEnv(env)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeYAML(raw []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv(env *environment.Loader) {
	c.DatabasePath = env.String("DATABASE_PATH", c.DatabasePath)
	c.HTTPAddr = env.String("HTTP_ADDR", c.HTTPAddr)
	c.CharacterFile = env.String("CHARACTER_FILE", c.CharacterFile)

	c.Log.Level = env.String("LOG_LEVEL", c.Log.Level)
	c.Log.Format = env.String("LOG_FORMAT", c.Log.Format)

	c.Inference.BaseURL = env.String("INFERENCE_BASE_URL", c.Inference.BaseURL)
	c.Inference.Model = env.String("INFERENCE_MODEL", c.Inference.Model)
	c.Inference.Timeout = env.Duration("INFERENCE_TIMEOUT", c.Inference.Timeout)
	c.Inference.MaxTokens = env.Int("INFERENCE_MAX_TOKENS", c.Inference.MaxTokens)
	c.Inference.APIKey = env.String("INFERENCE_API_KEY", c.Inference.APIKey)

	c.Embedding.Enabled = env.Bool("EMBEDDING_ENABLED", c.Embedding.Enabled)
	c.Embedding.BaseURL = env.String("EMBEDDING_BASE_URL", c.Embedding.BaseURL)
	c.Embedding.Model = env.String("EMBEDDING_MODEL", c.Embedding.Model)
	// The embedding endpoint usually shares the inference key.
	c.Embedding.APIKey = env.String("EMBEDDING_API_KEY", c.Inference.APIKey)

	c.Matrix.Homeserver = env.String("MATRIX_HOMESERVER", c.Matrix.Homeserver)
	c.Matrix.UserID = env.String("MATRIX_USER_ID", c.Matrix.UserID)
	c.Matrix.Rooms = env.Strings("MATRIX_ROOMS", c.Matrix.Rooms)
	c.Matrix.AccessToken = env.String("MATRIX_ACCESS_TOKEN", c.Matrix.AccessToken)

	c.Consciousness.Enabled = env.Bool("CONSCIOUSNESS_ENABLED", c.Consciousness.Enabled)
	c.Consciousness.Interval = env.Duration("CONSCIOUSNESS_INTERVAL", c.Consciousness.Interval)
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.DatabasePath == "" {
		errs = append(errs, errors.New("database_path is required"))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if c.Inference.Timeout < 0 {
		errs = append(errs, errors.New("inference.timeout must not be negative"))
	}
	if c.Matrix.Enabled() {
		if c.Matrix.UserID == "" {
			errs = append(errs, errors.New("matrix.user_id is required when matrix.homeserver is set"))
		}
		if c.Matrix.AccessToken == "" {
			errs = append(errs, fmt.Errorf("%sMATRIX_ACCESS_TOKEN is required when matrix.homeserver is set", EnvPrefix))
		}
	}
	if c.Consciousness.Enabled && c.Consciousness.Interval < time.Second {
		errs = append(errs, errors.New("consciousness.interval must be at least 1s"))
	}
	if c.Pipeline.MinConfidence < 0 || c.Pipeline.MinConfidence > 1 {
		errs = append(errs, errors.New("pipeline.min_confidence must be within [0, 1]"))
	}
	if len(c.Processors) == 0 {
		errs = append(errs, errors.New("at least one processor is required"))
	}
	seen := make(map[string]bool)
	for i := range c.Processors {
		errs = append(errs, validateProcessor(c.Processors[i], fmt.Sprintf("processors[%d]", i), seen)...)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// validateProcessor checks one node and its subtree. Names are unique
// across the whole tree.
func validateProcessor(p ProcessorConfig, path string, seen map[string]bool) []error {
	var errs []error
	switch {
	case p.Name == "":
		errs = append(errs, fmt.Errorf("%s: name is required", path))
	case seen[p.Name]:
		errs = append(errs, fmt.Errorf("%s: duplicate processor name %q", path, p.Name))
	default:
		seen[p.Name] = true
	}
	if p.MaxContentLength < 0 {
		errs = append(errs, fmt.Errorf("%s: max_content_length must not be negative", path))
	}
	for i, child := range p.Children {
		errs = append(errs, validateProcessor(child, fmt.Sprintf("%s.children[%d]", path, i), seen)...)
	}
	return errs
}
