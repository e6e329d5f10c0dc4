package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/bdobrica/kokoro/internal/kokoro/schema"
)

// Output describes an action the processors may suggest. Schema constrains
// the Data of a SuggestedOutput with this name.
type Output struct {
	Name        string
	Description string
	Schema      *schema.Schema
}

// Outputs is the registry of available outputs. The zero value and a nil
// *Outputs are both empty.
type Outputs struct {
	byName map[string]Output
}

// NewOutputs builds a registry, rejecting unnamed, schemaless or duplicate
// outputs.
func NewOutputs(outs ...Output) (*Outputs, error) {
	o := &Outputs{byName: make(map[string]Output, len(outs))}
	for _, out := range outs {
		if out.Name == "" {
			return nil, fmt.Errorf("outputs: output without a name")
		}
		if out.Schema == nil {
			return nil, fmt.Errorf("outputs: %s has no schema", out.Name)
		}
		if _, dup := o.byName[out.Name]; dup {
			return nil, fmt.Errorf("outputs: duplicate output %q", out.Name)
		}
		o.byName[out.Name] = out
	}
	return o, nil
}

// Get returns the named output.
func (o *Outputs) Get(name string) (Output, bool) {
	if o == nil {
		return Output{}, false
	}
	out, ok := o.byName[name]
	return out, ok
}

// Names returns the output names, sorted.
func (o *Outputs) Names() []string {
	if o == nil {
		return []string{}
	}
	return slices.Sorted(maps.Keys(o.byName))
}

// Descriptors maps each output name to its JSON schema document.
func (o *Outputs) Descriptors() map[string]any {
	out := make(map[string]any)
	if o == nil {
		return out
	}
	for name, desc := range o.byName {
		out[name] = desc.Schema.Document()
	}
	return out
}

// String formats the outputs for a prompt, one block per output in name
// order.
func (o *Outputs) String() string {
	names := o.Names()
	if len(names) == 0 {
		return "(no outputs available)"
	}
	var sb strings.Builder
	for _, name := range names {
		out := o.byName[name]
		sb.WriteString(name)
		sb.WriteString("\n  Description: ")
		sb.WriteString(out.Description)
		sb.WriteString("\n  Data schema: ")
		sb.WriteString(out.Schema.String())
		sb.WriteString("\n")
	}
	return sb.String()
}

// Sink carries out a suggested output, e.g. by posting a chat reply.
type Sink interface {
	Deliver(ctx context.Context, out SuggestedOutput, io IOContext) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, out SuggestedOutput, io IOContext) error

func (f SinkFunc) Deliver(ctx context.Context, out SuggestedOutput, io IOContext) error {
	return f(ctx, out, io)
}

// DefaultMinConfidence is the confidence floor below which suggestions are
// not dispatched.
const DefaultMinConfidence = 0.5

// Dispatcher hands suggested outputs to their registered sinks.
type Dispatcher struct {
	outputs       *Outputs
	minConfidence float64
	logger        *slog.Logger

	mu    sync.RWMutex
	sinks map[string]Sink
}

// NewDispatcher returns a dispatcher for outputs. A minConfidence <= 0 uses
// DefaultMinConfidence.
func NewDispatcher(outputs *Outputs, minConfidence float64, logger *slog.Logger) *Dispatcher {
	if minConfidence <= 0 {
		minConfidence = DefaultMinConfidence
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		outputs:       outputs,
		minConfidence: minConfidence,
		logger:        logger,
		sinks:         make(map[string]Sink),
	}
}

// Register binds a sink to an output name.
func (d *Dispatcher) Register(name string, s Sink) error {
	if _, ok := d.outputs.Get(name); !ok {
		return fmt.Errorf("dispatcher: unknown output %q", name)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks[name] = s
	return nil
}

// Dispatch delivers every suggestion that clears the confidence floor, has a
// sink and whose data matches the output schema. Delivery is best-effort:
// failures are logged and the rest continue. It returns the number
// delivered.
func (d *Dispatcher) Dispatch(ctx context.Context, res ProcessedResult, io IOContext) int {
	delivered := 0
	for _, sug := range res.SuggestedOutputs {
		log := d.logger.With("output", sug.Name, "conversation_id", io.ConversationID)

		if sug.Confidence < d.minConfidence {
			log.Debug("dispatch: below confidence floor", "confidence", sug.Confidence)
			continue
		}
		out, ok := d.outputs.Get(sug.Name)
		if !ok {
			log.Warn("dispatch: unknown output")
			continue
		}
		d.mu.RLock()
		sink := d.sinks[sug.Name]
		d.mu.RUnlock()
		if sink == nil {
			log.Debug("dispatch: no sink registered")
			continue
		}

		raw, err := json.Marshal(sug.Data)
		if err != nil {
			log.Warn("dispatch: encode data", "err", err)
			continue
		}
		if err := out.Schema.Validate(raw); err != nil {
			log.Warn("dispatch: data rejected by output schema", "err", err)
			continue
		}

		if err := sink.Deliver(ctx, sug, io); err != nil {
			log.Warn("dispatch: delivery failed", "err", err)
			continue
		}
		delivered++
	}
	return delivered
}
