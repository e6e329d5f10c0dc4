// Package app wires Kokoro together: store, conversation memory, processor
// tree, consciousness loop and the Matrix adapter.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/bdobrica/kokoro/internal/kokoro/character"
	"github.com/bdobrica/kokoro/internal/kokoro/config"
	"github.com/bdobrica/kokoro/internal/kokoro/consciousness"
	"github.com/bdobrica/kokoro/internal/kokoro/inference"
	"github.com/bdobrica/kokoro/internal/kokoro/matrix"
	"github.com/bdobrica/kokoro/internal/kokoro/memory"
	"github.com/bdobrica/kokoro/internal/kokoro/processor"
	"github.com/bdobrica/kokoro/internal/kokoro/store"
)

// Options carries pre-built dependencies. Zero fields are constructed from
// the configuration.
type Options struct {
	Logger *slog.Logger

	// Backend replaces the OpenAI-compatible backend built from
	// cfg.Inference.
	Backend inference.Backend

	// Embedder replaces the embedder built from cfg.Embedding.
	Embedder memory.Embedder
}

// App is a running Kokoro instance.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	store         *store.Store
	manager       *memory.Manager
	pipeline      *Pipeline
	consciousness *consciousness.Consciousness
	matrix        *matrix.Client
	health        *HealthServer
}

// New builds the application. The caller must Close it.
func New(cfg *config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	persona, err := loadCharacter(cfg.CharacterFile)
	if err != nil {
		return nil, err
	}
	logger.Info("character loaded", "name", persona.Name)

	st, err := store.New(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	a := &App{cfg: cfg, logger: logger, store: st}
	if err := a.wire(persona, opts); err != nil {
		_ = st.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(persona *character.Character, opts Options) error {
	cfg := a.cfg

	embedder := opts.Embedder
	if embedder == nil && cfg.Embedding.Enabled {
		embedder = memory.NewHTTPEmbedder(memory.HTTPEmbedderConfig{
			APIKey:  cfg.Embedding.APIKey,
			BaseURL: cfg.Embedding.BaseURL,
			Model:   cfg.Embedding.Model,
			Timeout: cfg.Embedding.Timeout,
		})
	}
	a.manager = memory.NewManager(
		memory.NewSQLiteStore(a.store.DB(), embedder, a.logger),
		a.logger,
	)

	backend := opts.Backend
	if backend == nil {
		if cfg.Inference.APIKey == "" {
			a.logger.Warn("no inference API key configured; only keyless endpoints will work")
		}
		backend = inference.NewOpenAI(inference.OpenAIConfig{
			APIKey:    cfg.Inference.APIKey,
			BaseURL:   cfg.Inference.BaseURL,
			Model:     cfg.Inference.Model,
			Timeout:   cfg.Inference.Timeout,
			MaxTokens: cfg.Inference.MaxTokens,
		})
	}

	var outs []processor.Output
	if cfg.Matrix.Enabled() {
		mc, err := matrix.New(matrix.Config{
			Homeserver:  cfg.Matrix.Homeserver,
			UserID:      cfg.Matrix.UserID,
			AccessToken: cfg.Matrix.AccessToken,
			Rooms:       cfg.Matrix.Rooms,
			DB:          a.store.DB(),
		}, a.logger)
		if err != nil {
			return err
		}
		a.matrix = mc
		outs = append(outs, matrix.ReplyOutput())
	}
	outputs, err := processor.NewOutputs(outs...)
	if err != nil {
		return err
	}
	dispatcher := processor.NewDispatcher(outputs, cfg.Pipeline.MinConfidence, a.logger)
	if a.matrix != nil {
		if err := dispatcher.Register(matrix.ReplyOutputName, a.matrix); err != nil {
			return err
		}
	}

	prompt := persona.Prompt()
	roots, err := BuildProcessors(cfg.Processors, backend, prompt, outputs, a.logger)
	if err != nil {
		return err
	}
	a.pipeline = NewPipeline(a.manager, roots, dispatcher, cfg.Pipeline.RelatedMemories, a.logger)

	if cfg.Consciousness.Enabled {
		a.consciousness = consciousness.New(consciousness.Config{
			Interval:     cfg.Consciousness.Interval,
			HistoryLimit: cfg.Consciousness.HistoryLimit,
			Persona:      prompt,
		}, a.manager, backend, a.logger)
	}

	if cfg.HTTPAddr != "" {
		var thoughts func() []string
		if a.consciousness != nil {
			thoughts = a.consciousness.Recent
		}
		a.health = NewHealthServer(cfg.HTTPAddr, a.manager, thoughts, a.logger)
	}
	return nil
}

func loadCharacter(path string) (*character.Character, error) {
	if path == "" {
		return character.Default(), nil
	}
	return character.Load(os.DirFS(filepath.Dir(path)), filepath.Base(path))
}

// Pipeline returns the inbound content pipeline.
func (a *App) Pipeline() *Pipeline { return a.pipeline }

// Memory returns the conversation manager.
func (a *App) Memory() *memory.Manager { return a.manager }

// Run starts every configured component and blocks until ctx is cancelled
// or one of them fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if a.consciousness != nil {
		g.Go(func() error { return a.consciousness.Run(ctx) })
	}
	if a.matrix != nil {
		g.Go(func() error { return a.matrix.Run(ctx, a.handleMatrix) })
	}
	if a.health != nil {
		g.Go(func() error { return a.health.Run(ctx) })
	}
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})

	a.logger.Info("kokoro is running",
		"matrix", a.matrix != nil,
		"consciousness", a.consciousness != nil,
		"http", a.health != nil,
	)
	err := g.Wait()
	a.logger.Info("kokoro stopped")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *App) handleMatrix(ctx context.Context, msg matrix.Message) {
	_, err := a.pipeline.Handle(ctx, Inbound{
		Platform:   matrix.Platform,
		PlatformID: msg.RoomID,
		Author:     msg.Sender,
		SourceID:   msg.EventID,
		Content:    msg.Body,
		ReceivedAt: msg.Timestamp,
	})
	if err != nil {
		a.logger.Error("matrix message not processed", "room", msg.RoomID, "event_id", msg.EventID, "err", err)
	}
}

// Close releases the database.
func (a *App) Close() error {
	if err := a.store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}
