//
// Copyright (C) 2025 stateflow authors. All rights reserved.
//
// stateflow is licensed under the Apache License Version 2.0.
//

package tool

import (
	"context"
	"encoding/json"
	"fmt"
)

// FunctionTool implements CallableTool by wrapping a plain Go function.
// Arguments are decoded from JSON into the function's input type before
// the call.
type FunctionTool[I, O any] struct {
	name        string
	description string
	inputSchema *Schema
	fn          func(ctx context.Context, input I) (O, error)
}

// Option configures a FunctionTool.
type Option func(*functionToolOptions)

type functionToolOptions struct {
	name        string
	description string
	inputSchema *Schema
}

// WithName sets the name of the function tool.
func WithName(name string) Option {
	return func(opts *functionToolOptions) {
		opts.name = name
	}
}

// WithDescription sets the description of the function tool.
func WithDescription(description string) Option {
	return func(opts *functionToolOptions) {
		opts.description = description
	}
}

// WithInputSchema sets the input schema of the function tool.
func WithInputSchema(schema *Schema) Option {
	return func(opts *functionToolOptions) {
		opts.inputSchema = schema
	}
}

// NewFunctionTool creates a new function tool wrapping fn.
func NewFunctionTool[I, O any](fn func(ctx context.Context, input I) (O, error), opts ...Option) *FunctionTool[I, O] {
	options := &functionToolOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return &FunctionTool[I, O]{
		name:        options.name,
		description: options.description,
		inputSchema: options.inputSchema,
		fn:          fn,
	}
}

// Call executes the wrapped function with the provided json-encoded
// arguments.
func (t *FunctionTool[I, O]) Call(ctx context.Context, jsonArgs []byte) (any, error) {
	var input I
	if len(jsonArgs) > 0 {
		if err := json.Unmarshal(jsonArgs, &input); err != nil {
			return nil, fmt.Errorf("failed to unmarshal arguments for tool %s: %w", t.name, err)
		}
	}
	return t.fn(ctx, input)
}

// Declaration returns the metadata describing the tool.
func (t *FunctionTool[I, O]) Declaration() *Declaration {
	return &Declaration{
		Name:        t.name,
		Description: t.description,
		InputSchema: t.inputSchema,
	}
}
