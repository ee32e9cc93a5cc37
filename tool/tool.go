// Package tool defines the uniform contract every domain tool
// satisfies and the registry the orchestrator resolves tools from.
package tool

import (
	"context"
	"encoding/json"
	"time"
)

// Schema describes a tool's callable interface.
type Schema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	// Parameters is a JSON Schema for the tool input.
	Parameters json.RawMessage `json:"parameters"`
	Version    string          `json:"version,omitempty"`
}

// Tool is the contract each domain tool implements. Invoke must honor
// ctx cancellation; the executor enforces Timeout as an upper bound on
// each call.
type Tool interface {
	// Name returns the tool's unique registry key.
	Name() string
	// Schema returns the tool's input schema.
	Schema() Schema
	// Timeout returns the tool's per-call timeout hint. Zero means the
	// executor default applies.
	Timeout() time.Duration
	// Invoke runs the tool with the given JSON input.
	Invoke(ctx context.Context, input json.RawMessage) (json.RawMessage, error)
}

// Call is one planned tool invocation handed to the executor.
type Call struct {
	Tool  string          `json:"tool"`
	Input json.RawMessage `json:"input,omitempty"`
}

// Func adapts a function into a Tool, mostly for tests and small
// in-process tools.
type Func struct {
	name    string
	schema  Schema
	timeout time.Duration
	fn      func(ctx context.Context, input json.RawMessage) (json.RawMessage, error)
}

// NewFunc creates a function-backed tool.
func NewFunc(name string, timeout time.Duration, fn func(ctx context.Context, input json.RawMessage) (json.RawMessage, error)) *Func {
	return &Func{
		name:    name,
		schema:  Schema{Name: name, Parameters: json.RawMessage(`{"type":"object"}`)},
		timeout: timeout,
		fn:      fn,
	}
}

func (f *Func) Name() string           { return f.name }
func (f *Func) Schema() Schema         { return f.schema }
func (f *Func) Timeout() time.Duration { return f.timeout }

func (f *Func) Invoke(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	return f.fn(ctx, input)
}
