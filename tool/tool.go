//
// Copyright (C) 2025 stateflow authors. All rights reserved.
//
// stateflow is licensed under the Apache License Version 2.0.
//

// Package tool provides the tool interfaces and a function-backed
// implementation used by the dispatcher.
package tool

import "context"

// Tool is the interface implemented by every tool.
type Tool interface {
	// Declaration returns the metadata describing the tool.
	Declaration() *Declaration
}

// CallableTool defines the interface for tools that support calling
// operations.
type CallableTool interface {
	// Call calls the tool with the provided context and json-encoded
	// arguments. Returns the result of execution or an error if the
	// operation fails.
	Call(ctx context.Context, jsonArgs []byte) (any, error)

	Tool
}

// Declaration describes the metadata of a tool, such as its name,
// description, and expected arguments.
type Declaration struct {
	// Name is the unique identifier of the tool.
	Name string `json:"name"`

	// Description explains the tool's purpose and functionality.
	Description string `json:"description"`

	// InputSchema defines the expected input for the tool in JSON schema
	// format.
	InputSchema *Schema `json:"inputSchema,omitempty"`
}

// Schema represents the structure of JSON Schema used for defining
// arguments and responses.
type Schema struct {
	// Type specifies the data type (e.g., "object", "array", "string").
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Required    []string `json:"required,omitempty"`
	// Properties of the arguments, each with its own schema.
	Properties map[string]*Schema `json:"properties,omitempty"`
	// For array types, defines the schema of items in the array.
	Items *Schema `json:"items,omitempty"`
}
