package app

import (
	"fmt"
	"log/slog"

	"github.com/bdobrica/kokoro/internal/kokoro/config"
	"github.com/bdobrica/kokoro/internal/kokoro/inference"
	"github.com/bdobrica/kokoro/internal/kokoro/processor"
)

// BuildProcessors turns the configured tree into MasterProcessors sharing
// one backend, persona and output registry.
func BuildProcessors(cfgs []config.ProcessorConfig, backend inference.Backend, persona string, outputs *processor.Outputs, logger *slog.Logger) ([]processor.Processor, error) {
	roots := make([]processor.Processor, 0, len(cfgs))
	for _, c := range cfgs {
		p, err := buildProcessor(c, backend, persona, outputs, logger)
		if err != nil {
			return nil, err
		}
		roots = append(roots, p)
	}
	return roots, nil
}

func buildProcessor(c config.ProcessorConfig, backend inference.Backend, persona string, outputs *processor.Outputs, logger *slog.Logger) (*processor.MasterProcessor, error) {
	m := processor.NewMaster(processor.MasterConfig{
		Name:             c.Name,
		MaxContentLength: c.MaxContentLength,
		Persona:          persona,
		Guidance:         c.Guidance,
		Outputs:          outputs,
	}, backend, logger)
	for _, cc := range c.Children {
		child, err := buildProcessor(cc, backend, persona, outputs, logger)
		if err != nil {
			return nil, err
		}
		if err := m.AddChild(child); err != nil {
			return nil, fmt.Errorf("processor %s: %w", c.Name, err)
		}
	}
	return m, nil
}
