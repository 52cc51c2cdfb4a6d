package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/xeipuuv/gojsonschema"

	"github.com/ent0n29/voicerelay/internal/observability"
)

var ErrDuplicateTool = errors.New("tool already registered")

// Definition is the model-facing description of one tool.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type tool struct {
	def    Definition
	schema *gojsonschema.Schema
	call   func(ctx context.Context, raw []byte) (any, error)
}

// Registry maps function names to handlers and their JSON-schema parameters.
// Invoke never returns an error: unknown names, invalid arguments and handler
// failures come back as apology strings for the conversation.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]*tool
	logger  *slog.Logger
	metrics *observability.Metrics
}

func NewRegistry(logger *slog.Logger, metrics *observability.Metrics) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:   make(map[string]*tool),
		logger:  logger,
		metrics: metrics,
	}
}

// Register adds a tool whose parameter schema is reflected from T. fn
// receives arguments that already passed schema validation.
func Register[T any](r *Registry, name, description string, fn func(ctx context.Context, args T) (any, error)) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("tool name is required")
	}

	params, err := reflectParameters[T]()
	if err != nil {
		return fmt.Errorf("tool %s: %w", name, err)
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(params))
	if err != nil {
		return fmt.Errorf("tool %s: compile schema: %w", name, err)
	}

	t := &tool{
		def:    Definition{Name: name, Description: description, Parameters: params},
		schema: schema,
		call: func(ctx context.Context, raw []byte) (any, error) {
			var args T
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, fmt.Errorf("decode arguments: %w", err)
			}
			return fn(ctx, args)
		},
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}
	r.tools[name] = t
	return nil
}

func reflectParameters[T any]() (map[string]any, error) {
	reflector := jsonschema.Reflector{
		ExpandedStruct:            true,
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var zero T
	schema := reflector.Reflect(zero)

	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	var params map[string]any
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	delete(params, "$schema")
	delete(params, "$id")
	if _, ok := params["properties"]; !ok {
		params["properties"] = map[string]any{}
	}
	return params, nil
}

// Definitions returns every registered tool sorted by name.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Invoke runs the named tool with the given arguments.
func (r *Registry) Invoke(ctx context.Context, name string, arguments map[string]any) any {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		r.logger.Error("unknown tool", "tool", name)
		r.metrics.IncToolInvocation(name, "unknown")
		return fmt.Sprintf("I'm sorry, I don't know how to handle the function '%s'.", name)
	}

	if arguments == nil {
		arguments = map[string]any{}
	}
	result, err := t.schema.Validate(gojsonschema.NewGoLoader(arguments))
	if err != nil || !result.Valid() {
		r.logger.Warn("tool arguments rejected", "tool", name, "error", validationError(err, result))
		r.metrics.IncToolInvocation(name, "invalid")
		return "I'm sorry, I encountered an error while processing your request."
	}

	raw, err := json.Marshal(arguments)
	if err != nil {
		r.metrics.IncToolInvocation(name, "invalid")
		return "I'm sorry, I encountered an error while processing your request."
	}

	started := time.Now()
	out, err := t.call(ctx, raw)
	r.metrics.ObserveStage(observability.StageToolCall, time.Since(started))
	if err != nil {
		r.logger.Error("tool failed", "tool", name, "error", err)
		r.metrics.IncToolInvocation(name, "error")
		return "I'm sorry, I encountered an error while processing your request."
	}
	r.metrics.IncToolInvocation(name, "ok")
	return out
}

func validationError(err error, result *gojsonschema.Result) string {
	if err != nil {
		return err.Error()
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return strings.Join(msgs, "; ")
}
