package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
)

// Tool is a named operation with a JSON Schema for its arguments.
type Tool interface {
	Definition() mcp.Tool
	Invoke(ctx context.Context, args json.RawMessage) (any, error)
}

// ArgumentError reports a missing or malformed argument. Its message names
// the offending field and is shown to clients verbatim.
type ArgumentError struct {
	msg string
}

func (e *ArgumentError) Error() string { return e.msg }

func invalidArgf(format string, args ...any) error {
	return &ArgumentError{msg: fmt.Sprintf(format, args...)}
}

// IsInvalidArgument reports whether err was caused by bad tool arguments.
func IsInvalidArgument(err error) bool {
	var ae *ArgumentError
	return errors.As(err, &ae)
}

// Registry maps tool names to tools. It is filled once at startup and read
// concurrently afterwards.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(t Tool) error {
	name := t.Definition().Name
	if name == "" {
		return fmt.Errorf("tool name must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	r.tools[name] = t
	return nil
}

func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns every tool sorted by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Tool, len(names))
	for i, name := range names {
		out[i] = r.tools[name]
	}
	return out
}

// Descriptors returns the tool definitions in List order.
func (r *Registry) Descriptors() []mcp.Tool {
	tools := r.List()
	out := make([]mcp.Tool, len(tools))
	for i, t := range tools {
		out[i] = t.Definition()
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// typed adapts a function over a decoded argument struct to Tool. Required
// arguments are taken from the definition's schema.
type typed[A any] struct {
	def mcp.Tool
	fn  func(ctx context.Context, args A) (any, error)
}

func newTyped[A any](def mcp.Tool, fn func(ctx context.Context, args A) (any, error)) Tool {
	return &typed[A]{def: def, fn: fn}
}

func (t *typed[A]) Definition() mcp.Tool {
	return t.def
}

func (t *typed[A]) Invoke(ctx context.Context, raw json.RawMessage) (any, error) {
	var err error
	var fields map[string]json.RawMessage
	if len(raw) > 0 && string(raw) != "null" {
		if err = json.Unmarshal(raw, &fields); err != nil {
			return nil, invalidArgf("Arguments must be a JSON object: %v", err)
		}
	}

	for _, name := range t.def.InputSchema.Required {
		v, ok := fields[name]
		if !ok || string(v) == "null" {
			return nil, invalidArgf("Missing required argument '%s'.", name)
		}
	}

	var args A
	if len(fields) > 0 {
		if normalizeWholeNumbers(fields, t.def.InputSchema.Properties) {
			if raw, err = json.Marshal(fields); err != nil {
				return nil, err
			}
		}
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, invalidArgf("Invalid arguments for %s: %v", t.def.Name, err)
		}
	}

	return t.fn(ctx, args)
}

// normalizeWholeNumbers rewrites number arguments such as 5.0 or 1e2 into
// integer literals so they decode into int fields. Fractional values are left
// alone and still fail decoding. It reports whether anything was rewritten.
func normalizeWholeNumbers(fields map[string]json.RawMessage, props map[string]any) bool {
	changed := false
	for name, v := range fields {
		prop, ok := props[name].(map[string]any)
		if !ok || prop["type"] != "number" {
			continue
		}
		lit := string(v)
		if !strings.ContainsAny(lit, ".eE") {
			continue
		}
		f, err := strconv.ParseFloat(lit, 64)
		if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
			continue
		}
		fields[name] = json.RawMessage(strconv.FormatInt(int64(f), 10))
		changed = true
	}
	return changed
}
