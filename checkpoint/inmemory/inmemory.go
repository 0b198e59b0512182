//
// Copyright (C) 2025 stateflow authors. All rights reserved.
//
// stateflow is licensed under the Apache License Version 2.0.
//

// Package inmemory provides the in-process reference implementation of
// the checkpoint Saver contract.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/stateflow-dev/stateflow/checkpoint"
)

// Saver is an in-memory checkpoint saver. Suitable for tests and
// single-process use; substitute a durable backend for persistence
// across restarts.
type Saver struct {
	mu sync.RWMutex
	// threadID -> namespace -> checkpointID -> tuple
	storage map[string]map[string]map[string]*checkpoint.CheckpointTuple
}

var _ checkpoint.Saver = (*Saver)(nil)

// NewSaver creates a new in-memory checkpoint saver.
func NewSaver() *Saver {
	return &Saver{
		storage: make(map[string]map[string]map[string]*checkpoint.CheckpointTuple),
	}
}

// Get retrieves a checkpoint by configuration.
func (s *Saver) Get(ctx context.Context, config map[string]any) (*checkpoint.Checkpoint, error) {
	tuple, err := s.GetTuple(ctx, config)
	if err != nil {
		return nil, err
	}
	if tuple == nil {
		return nil, nil
	}
	return tuple.Checkpoint, nil
}

// GetTuple retrieves a checkpoint tuple by configuration. With a
// checkpoint ID it is an exact lookup; without one it resolves to the
// greatest ID in the thread and namespace.
func (s *Saver) GetTuple(ctx context.Context, config map[string]any) (*checkpoint.CheckpointTuple, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	threadID := checkpoint.GetThreadID(config)
	if threadID == "" {
		return nil, fmt.Errorf("thread_id is required")
	}
	namespace := checkpoint.GetNamespace(config)
	checkpointID := checkpoint.GetCheckpointID(config)

	bucket := s.storage[threadID][namespace]
	if bucket == nil {
		return nil, nil
	}

	if checkpointID == "" {
		checkpointID = latestID(bucket)
		if checkpointID == "" {
			return nil, nil
		}
	}
	tuple, exists := bucket[checkpointID]
	if !exists {
		return nil, nil
	}
	return copyTuple(tuple), nil
}

// List retrieves checkpoints in the addressed thread and namespace,
// newest first by checkpoint ID. Without an explicit checkpoint_ns the
// listing is scoped to the root namespace only.
func (s *Saver) List(ctx context.Context, config map[string]any, filter *checkpoint.CheckpointFilter) ([]*checkpoint.CheckpointTuple, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	threadID := checkpoint.GetThreadID(config)
	if threadID == "" {
		return nil, fmt.Errorf("thread_id is required")
	}
	namespace := checkpoint.GetNamespace(config)

	bucket := s.storage[threadID][namespace]
	if bucket == nil {
		return nil, nil
	}

	var beforeID string
	if filter != nil {
		beforeID = checkpoint.GetCheckpointID(filter.Before)
	}

	var results []*checkpoint.CheckpointTuple
	for id, tuple := range bucket {
		if beforeID != "" && id >= beforeID {
			continue
		}
		if filter != nil && !tuple.Metadata.Matches(filter.Metadata) {
			continue
		}
		results = append(results, copyTuple(tuple))
	}

	// Newest first. Applying the limit before sorting would bias the
	// result by map iteration order.
	sort.Slice(results, func(i, j int) bool {
		return results[i].Checkpoint.ID > results[j].Checkpoint.ID
	})
	if filter != nil && filter.Limit > 0 && len(results) > filter.Limit {
		results = results[:filter.Limit]
	}
	return results, nil
}

// Put stores a checkpoint under (thread, namespace, checkpoint.ID).
// Writing the same ID twice replaces the entry.
func (s *Saver) Put(ctx context.Context, req checkpoint.PutRequest) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	threadID := checkpoint.GetThreadID(req.Config)
	if threadID == "" {
		return nil, fmt.Errorf("thread_id is required")
	}
	if req.Checkpoint == nil {
		return nil, fmt.Errorf("checkpoint cannot be nil")
	}
	namespace := checkpoint.GetNamespace(req.Config)

	if s.storage[threadID] == nil {
		s.storage[threadID] = make(map[string]map[string]*checkpoint.CheckpointTuple)
	}
	if s.storage[threadID][namespace] == nil {
		s.storage[threadID][namespace] = make(map[string]*checkpoint.CheckpointTuple)
	}

	updatedConfig := checkpoint.CreateCheckpointConfig(threadID, req.Checkpoint.ID, namespace)

	tuple := &checkpoint.CheckpointTuple{
		Config: updatedConfig,
		// Store a copy so later caller mutations cannot alias in.
		Checkpoint: req.Checkpoint.Copy(),
		Metadata:   req.Metadata,
	}
	if parentID := req.Checkpoint.ParentCheckpointID; parentID != "" {
		tuple.ParentConfig = checkpoint.CreateCheckpointConfig(threadID, parentID, namespace)
	}

	s.storage[threadID][namespace][req.Checkpoint.ID] = tuple
	return updatedConfig, nil
}

// DeleteThread removes all checkpoints for a thread, across all
// namespaces.
func (s *Saver) DeleteThread(ctx context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.storage, threadID)
	return nil
}

// Close releases resources held by the saver.
func (s *Saver) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.storage = make(map[string]map[string]map[string]*checkpoint.CheckpointTuple)
	return nil
}

// latestID returns the greatest checkpoint ID in a bucket. IDs sort
// lexicographically in creation order.
func latestID(bucket map[string]*checkpoint.CheckpointTuple) string {
	var latest string
	for id := range bucket {
		if id > latest {
			latest = id
		}
	}
	return latest
}

func copyTuple(tuple *checkpoint.CheckpointTuple) *checkpoint.CheckpointTuple {
	return &checkpoint.CheckpointTuple{
		Config:       tuple.Config,
		Checkpoint:   tuple.Checkpoint.Copy(),
		Metadata:     tuple.Metadata,
		ParentConfig: tuple.ParentConfig,
	}
}
