//
// Copyright (C) 2025 stateflow authors. All rights reserved.
//
// stateflow is licensed under the Apache License Version 2.0.
//

package checkpoint

import "maps"

// Configuration keys used to address checkpoints. Addressing lives
// under a "configurable" sub-map so engine options can share the same
// top-level config.
const (
	// CfgKeyConfigurable is the sub-map holding the address fields.
	CfgKeyConfigurable = "configurable"
	// CfgKeyThreadID identifies the logical thread.
	CfgKeyThreadID = "thread_id"
	// CfgKeyCheckpointNS identifies the checkpoint namespace. Empty
	// string is the root graph.
	CfgKeyCheckpointNS = "checkpoint_ns"
	// CfgKeyCheckpointID identifies one checkpoint. Absent means
	// "latest in the thread and namespace".
	CfgKeyCheckpointID = "checkpoint_id"
	// CfgKeyThreadTS is the legacy thread-timestamp addressing field,
	// normalized into CfgKeyCheckpointID before any store operation.
	CfgKeyThreadTS = "thread_ts"
)

func configurable(config map[string]any) map[string]any {
	if config == nil {
		return nil
	}
	c, _ := config[CfgKeyConfigurable].(map[string]any)
	return c
}

// GetThreadID extracts the thread ID from a configuration.
func GetThreadID(config map[string]any) string {
	if threadID, ok := configurable(config)[CfgKeyThreadID].(string); ok {
		return threadID
	}
	return ""
}

// GetNamespace extracts the checkpoint namespace from a configuration,
// defaulting to the root namespace. The default deliberately scopes
// reads to the root graph only; it is not a match-everything wildcard.
func GetNamespace(config map[string]any) string {
	if namespace, ok := configurable(config)[CfgKeyCheckpointNS].(string); ok {
		return namespace
	}
	return DefaultNamespace
}

// GetCheckpointID extracts the checkpoint ID from a configuration. A
// config carrying only the legacy thread_ts field resolves to that
// value, preserving backward compatibility with the old addressing
// scheme.
func GetCheckpointID(config map[string]any) string {
	c := configurable(config)
	if checkpointID, ok := c[CfgKeyCheckpointID].(string); ok && checkpointID != "" {
		return checkpointID
	}
	if threadTS, ok := c[CfgKeyThreadTS].(string); ok {
		return threadTS
	}
	return ""
}

// NormalizeConfig rewrites a config using the legacy thread_ts field
// into the current checkpoint_id addressing. The input is not mutated.
func NormalizeConfig(config map[string]any) map[string]any {
	c := configurable(config)
	threadTS, hasLegacy := c[CfgKeyThreadTS].(string)
	if !hasLegacy {
		return config
	}
	normalized := maps.Clone(config)
	nc := maps.Clone(c)
	if id, ok := nc[CfgKeyCheckpointID].(string); !ok || id == "" {
		nc[CfgKeyCheckpointID] = threadTS
	}
	delete(nc, CfgKeyThreadTS)
	normalized[CfgKeyConfigurable] = nc
	return normalized
}

// CheckpointConfig provides a structured way to build checkpoint
// addressing configuration.
type CheckpointConfig struct {
	// ThreadID is the unique identifier of the logical thread.
	ThreadID string
	// CheckpointID is the specific checkpoint to address, if any.
	CheckpointID string
	// Namespace is the checkpoint namespace.
	Namespace string
	// Extra contains additional configuration fields.
	Extra map[string]any
}

// NewCheckpointConfig creates a new checkpoint configuration for the
// given thread, scoped to the root namespace.
func NewCheckpointConfig(threadID string) *CheckpointConfig {
	if threadID == "" {
		panic("thread_id cannot be empty")
	}
	return &CheckpointConfig{
		ThreadID:  threadID,
		Namespace: DefaultNamespace,
		Extra:     make(map[string]any),
	}
}

// WithCheckpointID sets the checkpoint ID.
func (c *CheckpointConfig) WithCheckpointID(checkpointID string) *CheckpointConfig {
	c.CheckpointID = checkpointID
	return c
}

// WithNamespace sets the namespace.
func (c *CheckpointConfig) WithNamespace(namespace string) *CheckpointConfig {
	c.Namespace = namespace
	return c
}

// WithExtra sets an additional configuration field.
func (c *CheckpointConfig) WithExtra(key string, value any) *CheckpointConfig {
	if c.Extra == nil {
		c.Extra = make(map[string]any)
	}
	c.Extra[key] = value
	return c
}

// ToMap converts the config to the map form consumed by savers.
func (c *CheckpointConfig) ToMap() map[string]any {
	inner := map[string]any{
		CfgKeyThreadID: c.ThreadID,
		// Always include the namespace so reads stay scoped.
		CfgKeyCheckpointNS: c.Namespace,
	}
	if c.CheckpointID != "" {
		inner[CfgKeyCheckpointID] = c.CheckpointID
	}
	config := map[string]any{
		CfgKeyConfigurable: inner,
	}
	maps.Copy(config, c.Extra)
	return config
}

// CreateCheckpointConfig builds an addressing config map in one call.
func CreateCheckpointConfig(threadID, checkpointID, namespace string) map[string]any {
	config := NewCheckpointConfig(threadID).WithNamespace(namespace)
	if checkpointID != "" {
		config.WithCheckpointID(checkpointID)
	}
	return config.ToMap()
}
