//
// Copyright (C) 2025 stateflow authors. All rights reserved.
//
// stateflow is licensed under the Apache License Version 2.0.
//

// Package checkpoint provides durable, versioned snapshots of graph
// execution state, addressed by thread, namespace, and checkpoint ID.
package checkpoint

import (
	"bytes"
	"encoding/json"
	"reflect"
	"time"

	"github.com/google/uuid"
)

const (
	// Version is the current version of the checkpoint format.
	Version = 1

	// SourceInput indicates the checkpoint was created from input.
	SourceInput = "input"
	// SourceLoop indicates the checkpoint was created from inside the loop.
	SourceLoop = "loop"
	// SourceUpdate indicates the checkpoint was created from manual update.
	SourceUpdate = "update"
	// SourceFork indicates the checkpoint was created as a copy.
	SourceFork = "fork"

	// DefaultNamespace is the namespace of the root graph. Nested
	// sub-graph executions checkpoint under non-empty namespaces.
	DefaultNamespace = ""

	// InitialStep is the step recorded for the very first input
	// checkpoint of a thread.
	InitialStep = -1
)

// Checkpoint represents a snapshot of graph state at a specific point in
// time. Checkpoints are immutable once created: deriving a new one
// always produces a new ID and a fresh object graph.
//
// IDs are UUIDv7 strings, so lexicographic order is creation order, even
// across processes.
type Checkpoint struct {
	// Version is the version of the checkpoint format.
	Version int `json:"v"`
	// ID is the unique, time-ordered identifier for this checkpoint.
	ID string `json:"id"`
	// Timestamp is when the checkpoint was created.
	Timestamp time.Time `json:"ts"`
	// ChannelValues contains the values of channels at checkpoint time.
	ChannelValues map[string]any `json:"channel_values"`
	// ChannelVersions contains the versions of channels at checkpoint time.
	ChannelVersions map[string]int64 `json:"channel_versions"`
	// VersionsSeen tracks which channel versions each node has seen.
	VersionsSeen map[string]map[string]int64 `json:"versions_seen"`
	// ParentCheckpointID is the ID of the checkpoint this one was
	// derived from, within the same thread and namespace.
	ParentCheckpointID string `json:"parent_checkpoint_id,omitempty"`
	// PendingSends contains messages queued for the next step.
	PendingSends []PendingSend `json:"pending_sends,omitempty"`
}

// PendingSend represents a message queued for the next step.
type PendingSend struct {
	// Channel is the channel to send to.
	Channel string `json:"channel"`
	// Value is the value to send.
	Value any `json:"value"`
}

// CheckpointMetadata is the descriptive record attached to a checkpoint
// at write time. For filtering it behaves as a flat mapping: the
// recognized fields and any caller-defined extension keys are equally
// queryable.
type CheckpointMetadata struct {
	// Source indicates how the checkpoint was created: "input", "loop"
	// or "update".
	Source string `json:"source,omitempty"`
	// Step is the step counter (-1 for the initial input checkpoint).
	Step int `json:"step"`
	// Writes describes the writes pending or applied at this checkpoint.
	Writes map[string]any `json:"writes,omitempty"`
	// Extra holds caller-defined extension keys.
	Extra map[string]any `json:"extra,omitempty"`
}

// NewCheckpointMetadata creates new checkpoint metadata.
func NewCheckpointMetadata(source string, step int) *CheckpointMetadata {
	return &CheckpointMetadata{
		Source: source,
		Step:   step,
		Writes: make(map[string]any),
		Extra:  make(map[string]any),
	}
}

// WithWrite records a pending write in the metadata.
func (m *CheckpointMetadata) WithWrite(channel string, value any) *CheckpointMetadata {
	if m.Writes == nil {
		m.Writes = make(map[string]any)
	}
	m.Writes[channel] = value
	return m
}

// WithExtra sets a caller-defined extension key.
func (m *CheckpointMetadata) WithExtra(key string, value any) *CheckpointMetadata {
	if m.Extra == nil {
		m.Extra = make(map[string]any)
	}
	m.Extra[key] = value
	return m
}

// Matches reports whether the metadata matches the given filter: every
// key in the filter must be present with a structurally equal value.
// A nil or empty filter matches everything.
func (m *CheckpointMetadata) Matches(filter map[string]any) bool {
	if len(filter) == 0 {
		return true
	}
	if m == nil {
		return false
	}
	for key, want := range filter {
		var got any
		switch key {
		case "source":
			got = m.Source
		case "step":
			got = m.Step
		case "writes":
			got = m.Writes
		default:
			v, ok := m.Extra[key]
			if !ok {
				return false
			}
			got = v
		}
		if !looseEqual(got, want) {
			return false
		}
	}
	return true
}

// CheckpointTuple is the unit returned by read operations: the
// checkpoint, its metadata, the config addressing it, and the config of
// its parent checkpoint if it has one.
type CheckpointTuple struct {
	// Config contains the configuration addressing this checkpoint.
	Config map[string]any `json:"config"`
	// Checkpoint is the actual checkpoint data.
	Checkpoint *Checkpoint `json:"checkpoint"`
	// Metadata contains additional checkpoint information.
	Metadata *CheckpointMetadata `json:"metadata"`
	// ParentConfig addresses the parent checkpoint, if any.
	ParentConfig map[string]any `json:"parent_config,omitempty"`
}

// newCheckpointID returns a fresh time-ordered checkpoint ID.
func newCheckpointID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewCheckpoint creates a new checkpoint with the given data.
func NewCheckpoint(
	channelValues map[string]any,
	channelVersions map[string]int64,
	versionsSeen map[string]map[string]int64,
) *Checkpoint {
	if channelValues == nil {
		channelValues = make(map[string]any)
	}
	if channelVersions == nil {
		channelVersions = make(map[string]int64)
	}
	if versionsSeen == nil {
		versionsSeen = make(map[string]map[string]int64)
	}
	return &Checkpoint{
		Version:         Version,
		ID:              newCheckpointID(),
		Timestamp:       time.Now().UTC(),
		ChannelValues:   channelValues,
		ChannelVersions: channelVersions,
		VersionsSeen:    versionsSeen,
	}
}

// EmptyCheckpoint creates the zero-state checkpoint that starts a
// thread's history.
func EmptyCheckpoint() *Checkpoint {
	return NewCheckpoint(nil, nil, nil)
}

// CreateCheckpoint derives a new checkpoint from parent: fresh ID and
// timestamp, parent's channel values overlaid with channelValues, and a
// bumped version token for every overlaid channel. The step acts as a
// floor for the new version tokens so a later derivation never produces
// a version that compares lower than an earlier one.
func CreateCheckpoint(parent *Checkpoint, channelValues map[string]any, step int) *Checkpoint {
	cp := parent.Copy()
	cp.ID = newCheckpointID()
	cp.Timestamp = time.Now().UTC()
	cp.ParentCheckpointID = parent.ID
	if cp.ChannelValues == nil {
		cp.ChannelValues = make(map[string]any)
	}
	if cp.ChannelVersions == nil {
		cp.ChannelVersions = make(map[string]int64)
	}

	next := int64(step)
	for _, v := range cp.ChannelVersions {
		if v > next {
			next = v
		}
	}
	next++

	for channel, value := range channelValues {
		cp.ChannelValues[channel] = deepCopy(value)
		cp.ChannelVersions[channel] = next
	}
	return cp
}

// Copy creates a deep copy of the checkpoint, preserving its ID.
func (c *Checkpoint) Copy() *Checkpoint {
	if c == nil {
		return nil
	}

	channelVersions := make(map[string]int64, len(c.ChannelVersions))
	for k, v := range c.ChannelVersions {
		channelVersions[k] = v
	}

	versionsSeen := make(map[string]map[string]int64, len(c.VersionsSeen))
	for k, v := range c.VersionsSeen {
		inner := make(map[string]int64, len(v))
		for kk, vv := range v {
			inner[kk] = vv
		}
		versionsSeen[k] = inner
	}

	pendingSends := make([]PendingSend, len(c.PendingSends))
	for i, send := range c.PendingSends {
		pendingSends[i] = PendingSend{
			Channel: send.Channel,
			Value:   deepCopy(send.Value),
		}
	}

	return &Checkpoint{
		Version:            c.Version,
		ID:                 c.ID,
		Timestamp:          c.Timestamp,
		ChannelValues:      deepCopyMap(c.ChannelValues),
		ChannelVersions:    channelVersions,
		VersionsSeen:       versionsSeen,
		ParentCheckpointID: c.ParentCheckpointID,
		PendingSends:       pendingSends,
	}
}

// Fork creates a copy of the checkpoint with a new ID and the parent set
// to the original.
func (c *Checkpoint) Fork() *Checkpoint {
	if c == nil {
		return nil
	}
	forked := c.Copy()
	forked.ParentCheckpointID = c.ID
	forked.ID = newCheckpointID()
	forked.Timestamp = time.Now().UTC()
	return forked
}

// deepCopy performs a deep copy using JSON marshaling for safety.
func deepCopy(src any) any {
	if src == nil {
		return nil
	}

	data, err := json.Marshal(src)
	if err != nil {
		// If marshaling fails, return the original value.
		return src
	}

	var result any
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber() // Preserve number types as json.Number.
	if err := decoder.Decode(&result); err != nil {
		return src
	}
	return result
}

// deepCopyMap performs a deep copy of a map[string]any.
func deepCopyMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}

	if mapResult, ok := deepCopy(src).(map[string]any); ok {
		return mapResult
	}

	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = deepCopy(v)
	}
	return dst
}

// looseEqual compares two values structurally, treating all numeric
// types as equivalent. Metadata round-trips through JSON in the durable
// backends, which widens integers to float64 or json.Number; filter
// matching must not distinguish those from the originals.
func looseEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bvv, exists := bv[k]
			if !exists || !looseEqual(v, bvv) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !looseEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return reflect.DeepEqual(a, b)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
