//
// Copyright (C) 2025 stateflow authors. All rights reserved.
//
// stateflow is licensed under the Apache License Version 2.0.
//

// Package sqlite provides a SQLite-backed implementation of the
// checkpoint Saver contract.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stateflow-dev/stateflow/checkpoint"
)

const (
	createCheckpointsTable = "CREATE TABLE IF NOT EXISTS checkpoints (" +
		"thread_id TEXT NOT NULL, " +
		"checkpoint_ns TEXT NOT NULL, " +
		"checkpoint_id TEXT NOT NULL, " +
		"parent_checkpoint_id TEXT, " +
		"checkpoint_json BLOB NOT NULL, " +
		"metadata_json BLOB NOT NULL, " +
		"PRIMARY KEY (thread_id, checkpoint_ns, checkpoint_id)" +
		")"

	insertCheckpoint = "INSERT OR REPLACE INTO checkpoints (" +
		"thread_id, checkpoint_ns, checkpoint_id, parent_checkpoint_id, " +
		"checkpoint_json, metadata_json) VALUES (?, ?, ?, ?, ?, ?)"

	selectLatest = "SELECT checkpoint_id, parent_checkpoint_id, checkpoint_json, metadata_json " +
		"FROM checkpoints WHERE thread_id = ? AND checkpoint_ns = ? " +
		"ORDER BY checkpoint_id DESC LIMIT 1"

	selectByID = "SELECT checkpoint_id, parent_checkpoint_id, checkpoint_json, metadata_json " +
		"FROM checkpoints WHERE thread_id = ? AND checkpoint_ns = ? AND checkpoint_id = ? LIMIT 1"

	selectList = "SELECT checkpoint_id, parent_checkpoint_id, checkpoint_json, metadata_json " +
		"FROM checkpoints WHERE thread_id = ? AND checkpoint_ns = ?"

	deleteThreadCheckpoints = "DELETE FROM checkpoints WHERE thread_id = ?"
)

// Saver is a SQLite-backed implementation of checkpoint.Saver. It
// expects an initialized *sql.DB using a SQLite driver and creates the
// required schema. Checkpoints and metadata are stored as JSON blobs;
// checkpoint IDs order rows chronologically.
type Saver struct {
	db *sql.DB
}

var _ checkpoint.Saver = (*Saver)(nil)

// NewSaver creates a new saver using the provided DB. The constructor
// creates the schema if needed.
func NewSaver(db *sql.DB) (*Saver, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if _, err := db.Exec(createCheckpointsTable); err != nil {
		return nil, fmt.Errorf("create checkpoints table: %w", err)
	}
	return &Saver{db: db}, nil
}

// Get returns the checkpoint for the given config.
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

// GetTuple returns the checkpoint tuple for the given config. With a
// checkpoint ID it is an exact lookup; without one it resolves to the
// greatest ID in the thread and namespace.
func (s *Saver) GetTuple(ctx context.Context, config map[string]any) (*checkpoint.CheckpointTuple, error) {
	threadID := checkpoint.GetThreadID(config)
	if threadID == "" {
		return nil, errors.New("thread_id is required")
	}
	namespace := checkpoint.GetNamespace(config)
	checkpointID := checkpoint.GetCheckpointID(config)

	var row *sql.Row
	if checkpointID == "" {
		row = s.db.QueryRowContext(ctx, selectLatest, threadID, namespace)
	} else {
		row = s.db.QueryRowContext(ctx, selectByID, threadID, namespace, checkpointID)
	}

	var (
		id             string
		parentID       sql.NullString
		checkpointJSON []byte
		metadataJSON   []byte
	)
	if err := row.Scan(&id, &parentID, &checkpointJSON, &metadataJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select checkpoint: %w", err)
	}
	return buildTuple(threadID, namespace, id, parentID.String, checkpointJSON, metadataJSON)
}

// List returns checkpoints for the thread and namespace, newest first by
// checkpoint ID, with optional filters.
func (s *Saver) List(ctx context.Context, config map[string]any, filter *checkpoint.CheckpointFilter) ([]*checkpoint.CheckpointTuple, error) {
	threadID := checkpoint.GetThreadID(config)
	if threadID == "" {
		return nil, errors.New("thread_id is required")
	}
	namespace := checkpoint.GetNamespace(config)

	q := selectList
	args := []any{threadID, namespace}

	var metadataFilter map[string]any
	if filter != nil {
		if beforeID := checkpoint.GetCheckpointID(filter.Before); beforeID != "" {
			q += " AND checkpoint_id < ?"
			args = append(args, beforeID)
		}
		metadataFilter = filter.Metadata
	}
	q += " ORDER BY checkpoint_id DESC"
	// The metadata filter is applied after the scan, so the SQL limit is
	// only safe when there is no metadata filter to apply.
	if filter != nil && filter.Limit > 0 && len(metadataFilter) == 0 {
		q += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("select checkpoints: %w", err)
	}
	defer rows.Close()

	var tuples []*checkpoint.CheckpointTuple
	for rows.Next() {
		var (
			id             string
			parentID       sql.NullString
			checkpointJSON []byte
			metadataJSON   []byte
		)
		if err := rows.Scan(&id, &parentID, &checkpointJSON, &metadataJSON); err != nil {
			return nil, fmt.Errorf("scan checkpoint row: %w", err)
		}
		tuple, err := buildTuple(threadID, namespace, id, parentID.String, checkpointJSON, metadataJSON)
		if err != nil {
			return nil, err
		}
		if !tuple.Metadata.Matches(metadataFilter) {
			continue
		}
		tuples = append(tuples, tuple)
		if filter != nil && filter.Limit > 0 && len(tuples) >= filter.Limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoint rows: %w", err)
	}
	return tuples, nil
}

// Put stores a checkpoint under (thread, namespace, checkpoint.ID).
// Writing the same ID twice replaces the row.
func (s *Saver) Put(ctx context.Context, req checkpoint.PutRequest) (map[string]any, error) {
	threadID := checkpoint.GetThreadID(req.Config)
	if threadID == "" {
		return nil, errors.New("thread_id is required")
	}
	if req.Checkpoint == nil {
		return nil, errors.New("checkpoint cannot be nil")
	}
	namespace := checkpoint.GetNamespace(req.Config)

	checkpointJSON, err := json.Marshal(req.Checkpoint)
	if err != nil {
		return nil, fmt.Errorf("marshal checkpoint: %w", err)
	}
	metadata := req.Metadata
	if metadata == nil {
		metadata = &checkpoint.CheckpointMetadata{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	var parentID sql.NullString
	if req.Checkpoint.ParentCheckpointID != "" {
		parentID = sql.NullString{String: req.Checkpoint.ParentCheckpointID, Valid: true}
	}

	if _, err := s.db.ExecContext(ctx, insertCheckpoint,
		threadID, namespace, req.Checkpoint.ID, parentID,
		checkpointJSON, metadataJSON,
	); err != nil {
		return nil, fmt.Errorf("insert checkpoint: %w", err)
	}
	return checkpoint.CreateCheckpointConfig(threadID, req.Checkpoint.ID, namespace), nil
}

// DeleteThread removes all checkpoints for a thread, across all
// namespaces.
func (s *Saver) DeleteThread(ctx context.Context, threadID string) error {
	if _, err := s.db.ExecContext(ctx, deleteThreadCheckpoints, threadID); err != nil {
		return fmt.Errorf("delete thread checkpoints: %w", err)
	}
	return nil
}

// Close releases resources held by the saver. The caller owns the DB
// handle and closes it separately.
func (s *Saver) Close() error {
	return nil
}

func buildTuple(threadID, namespace, checkpointID, parentID string,
	checkpointJSON, metadataJSON []byte) (*checkpoint.CheckpointTuple, error) {

	var ckpt checkpoint.Checkpoint
	if err := json.Unmarshal(checkpointJSON, &ckpt); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	var meta checkpoint.CheckpointMetadata
	if err := json.Unmarshal(metadataJSON, &meta); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}

	tuple := &checkpoint.CheckpointTuple{
		Config:     checkpoint.CreateCheckpointConfig(threadID, checkpointID, namespace),
		Checkpoint: &ckpt,
		Metadata:   &meta,
	}
	if parentID != "" {
		tuple.ParentConfig = checkpoint.CreateCheckpointConfig(threadID, parentID, namespace)
	}
	return tuple, nil
}
