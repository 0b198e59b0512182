//
// Copyright (C) 2025 stateflow authors. All rights reserved.
//
// stateflow is licensed under the Apache License Version 2.0.
//

package checkpoint

import "context"

// PutRequest contains all data needed to store a checkpoint.
type PutRequest struct {
	// Config addresses the thread and namespace to store under. The
	// checkpoint's own ID is the storage key.
	Config     map[string]any
	Checkpoint *Checkpoint
	Metadata   *CheckpointMetadata
}

// CheckpointFilter defines filtering criteria for listing checkpoints.
type CheckpointFilter struct {
	// Before limits results to checkpoints with an ID strictly smaller
	// than the one addressed by this config.
	Before map[string]any `json:"before,omitempty"`
	// Limit is the maximum number of checkpoints to return.
	Limit int `json:"limit,omitempty"`
	// Metadata filters checkpoints by a metadata sub-mapping: every key
	// must be present with a structurally equal value.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewCheckpointFilter creates a new checkpoint filter.
func NewCheckpointFilter() *CheckpointFilter {
	return &CheckpointFilter{
		Metadata: make(map[string]any),
	}
}

// WithBefore sets the before filter.
func (f *CheckpointFilter) WithBefore(before map[string]any) *CheckpointFilter {
	f.Before = before
	return f
}

// WithLimit sets the limit.
func (f *CheckpointFilter) WithLimit(limit int) *CheckpointFilter {
	f.Limit = limit
	return f
}

// WithMetadata adds a metadata filter entry.
func (f *CheckpointFilter) WithMetadata(key string, value any) *CheckpointFilter {
	if f.Metadata == nil {
		f.Metadata = make(map[string]any)
	}
	f.Metadata[key] = value
	return f
}

// Saver defines the interface for checkpoint storage implementations.
//
// All methods take a context, serving blocking and concurrency-aware
// callers alike with identical semantics. Implementations must be safe
// for concurrent use: concurrent Puts with distinct IDs in the same
// thread and namespace must both persist, and no torn write may be
// observed by a concurrent read.
type Saver interface {
	// Get retrieves a checkpoint by configuration. With a checkpoint ID
	// it is an exact lookup; without one it resolves to the checkpoint
	// with the greatest ID in the thread and namespace. Returns nil
	// when nothing matches.
	Get(ctx context.Context, config map[string]any) (*Checkpoint, error)
	// GetTuple retrieves a checkpoint tuple by configuration, with the
	// same resolution rules as Get.
	GetTuple(ctx context.Context, config map[string]any) (*CheckpointTuple, error)
	// List retrieves checkpoints in the addressed thread and namespace,
	// newest first by checkpoint ID.
	List(ctx context.Context, config map[string]any, filter *CheckpointFilter) ([]*CheckpointTuple, error)
	// Put stores a checkpoint under (thread, namespace, checkpoint.ID).
	// Writing the same ID twice replaces the entry. Returns the config
	// addressing the stored checkpoint.
	Put(ctx context.Context, req PutRequest) (map[string]any, error)
	// DeleteThread removes all checkpoints for a thread, across all
	// namespaces. Retention is the caller's policy; the store itself
	// never deletes.
	DeleteThread(ctx context.Context, threadID string) error
	// Close releases resources held by the saver.
	Close() error
}
