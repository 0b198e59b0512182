//
// Copyright (C) 2025 stateflow authors. All rights reserved.
//
// stateflow is licensed under the Apache License Version 2.0.
//

// Package redis provides a Redis-backed implementation of the
// checkpoint Saver contract, suitable for multi-node deployments.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stateflow-dev/stateflow/checkpoint"
)

const defaultPrefix = "stateflow:checkpoint:"

// Config holds Redis connection configuration.
type Config struct {
	// Addr is the Redis server address (host:port).
	Addr string
	// Password is the Redis password (optional).
	Password string
	// DB is the Redis database number.
	DB int
	// Prefix is the key prefix for all checkpoint keys.
	Prefix string
	// PoolSize is the connection pool size (default: 10).
	PoolSize int
}

// Saver is a Redis-backed implementation of checkpoint.Saver.
//
// Each checkpoint is a JSON value keyed by (thread, namespace, id), and
// each thread+namespace bucket keeps a sorted-set index of its ids with
// zero scores, so members order lexicographically — which for UUIDv7
// ids is creation order.
type Saver struct {
	client *redis.Client
	prefix string
}

var _ checkpoint.Saver = (*Saver)(nil)

// NewSaver creates a new Redis checkpoint saver and verifies the
// connection.
func NewSaver(cfg Config) (*Saver, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewSaverFromClient(client, cfg.Prefix), nil
}

// NewSaverFromClient creates a saver from an existing client. Useful
// for testing with miniredis.
func NewSaverFromClient(client *redis.Client, prefix string) *Saver {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Saver{client: client, prefix: prefix}
}

// Key helpers.
func (s *Saver) checkpointKey(threadID, namespace, checkpointID string) string {
	return s.prefix + "cp:" + threadID + ":" + namespace + ":" + checkpointID
}

func (s *Saver) indexKey(threadID, namespace string) string {
	return s.prefix + "ids:" + threadID + ":" + namespace
}

func (s *Saver) namespacesKey(threadID string) string {
	return s.prefix + "ns:" + threadID
}

// persistedTuple is the stored JSON shape of one checkpoint entry.
type persistedTuple struct {
	Checkpoint *checkpoint.Checkpoint         `json:"checkpoint"`
	Metadata   *checkpoint.CheckpointMetadata `json:"metadata"`
	ParentID   string                         `json:"parent_id,omitempty"`
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
	threadID := checkpoint.GetThreadID(config)
	if threadID == "" {
		return nil, errors.New("thread_id is required")
	}
	namespace := checkpoint.GetNamespace(config)
	checkpointID := checkpoint.GetCheckpointID(config)

	if checkpointID == "" {
		ids, err := s.client.ZRevRange(ctx, s.indexKey(threadID, namespace), 0, 0).Result()
		if err != nil {
			return nil, fmt.Errorf("latest checkpoint id: %w", err)
		}
		if len(ids) == 0 {
			return nil, nil
		}
		checkpointID = ids[0]
	}
	return s.loadTuple(ctx, threadID, namespace, checkpointID)
}

// List retrieves checkpoints in the addressed thread and namespace,
// newest first by checkpoint ID, with optional filters.
func (s *Saver) List(ctx context.Context, config map[string]any, filter *checkpoint.CheckpointFilter) ([]*checkpoint.CheckpointTuple, error) {
	threadID := checkpoint.GetThreadID(config)
	if threadID == "" {
		return nil, errors.New("thread_id is required")
	}
	namespace := checkpoint.GetNamespace(config)

	// Zero scores throughout, so reverse range order is descending id.
	ids, err := s.client.ZRevRange(ctx, s.indexKey(threadID, namespace), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list checkpoint ids: %w", err)
	}

	var beforeID string
	var metadataFilter map[string]any
	limit := 0
	if filter != nil {
		beforeID = checkpoint.GetCheckpointID(filter.Before)
		metadataFilter = filter.Metadata
		limit = filter.Limit
	}

	var tuples []*checkpoint.CheckpointTuple
	for _, id := range ids {
		if beforeID != "" && id >= beforeID {
			continue
		}
		tuple, err := s.loadTuple(ctx, threadID, namespace, id)
		if err != nil {
			return nil, err
		}
		if tuple == nil {
			// Index ahead of a deleted value; skip.
			continue
		}
		if !tuple.Metadata.Matches(metadataFilter) {
			continue
		}
		tuples = append(tuples, tuple)
		if limit > 0 && len(tuples) >= limit {
			break
		}
	}
	return tuples, nil
}

// Put stores a checkpoint under (thread, namespace, checkpoint.ID).
// Writing the same ID twice replaces the entry.
func (s *Saver) Put(ctx context.Context, req checkpoint.PutRequest) (map[string]any, error) {
	threadID := checkpoint.GetThreadID(req.Config)
	if threadID == "" {
		return nil, errors.New("thread_id is required")
	}
	if req.Checkpoint == nil {
		return nil, errors.New("checkpoint cannot be nil")
	}
	namespace := checkpoint.GetNamespace(req.Config)

	data, err := json.Marshal(persistedTuple{
		Checkpoint: req.Checkpoint,
		Metadata:   req.Metadata,
		ParentID:   req.Checkpoint.ParentCheckpointID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal checkpoint: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.checkpointKey(threadID, namespace, req.Checkpoint.ID), data, 0)
	pipe.ZAdd(ctx, s.indexKey(threadID, namespace), redis.Z{Score: 0, Member: req.Checkpoint.ID})
	pipe.SAdd(ctx, s.namespacesKey(threadID), namespace)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("store checkpoint: %w", err)
	}
	return checkpoint.CreateCheckpointConfig(threadID, req.Checkpoint.ID, namespace), nil
}

// DeleteThread removes all checkpoints for a thread, across all
// namespaces.
func (s *Saver) DeleteThread(ctx context.Context, threadID string) error {
	namespaces, err := s.client.SMembers(ctx, s.namespacesKey(threadID)).Result()
	if err != nil {
		return fmt.Errorf("list thread namespaces: %w", err)
	}

	pipe := s.client.Pipeline()
	for _, namespace := range namespaces {
		ids, err := s.client.ZRange(ctx, s.indexKey(threadID, namespace), 0, -1).Result()
		if err != nil {
			return fmt.Errorf("list checkpoint ids: %w", err)
		}
		for _, id := range ids {
			pipe.Del(ctx, s.checkpointKey(threadID, namespace, id))
		}
		pipe.Del(ctx, s.indexKey(threadID, namespace))
	}
	pipe.Del(ctx, s.namespacesKey(threadID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete thread checkpoints: %w", err)
	}
	return nil
}

// Close releases resources held by the saver.
func (s *Saver) Close() error {
	return s.client.Close()
}

// Ping checks if the Redis connection is alive.
func (s *Saver) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Saver) loadTuple(ctx context.Context, threadID, namespace, checkpointID string) (*checkpoint.CheckpointTuple, error) {
	data, err := s.client.Get(ctx, s.checkpointKey(threadID, namespace, checkpointID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}

	var stored persistedTuple
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}

	tuple := &checkpoint.CheckpointTuple{
		Config:     checkpoint.CreateCheckpointConfig(threadID, checkpointID, namespace),
		Checkpoint: stored.Checkpoint,
		Metadata:   stored.Metadata,
	}
	if stored.ParentID != "" {
		tuple.ParentConfig = checkpoint.CreateCheckpointConfig(threadID, stored.ParentID, namespace)
	}
	return tuple, nil
}
