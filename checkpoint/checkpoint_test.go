//
// Copyright (C) 2025 stateflow authors. All rights reserved.
//
// stateflow is licensed under the Apache License Version 2.0.
//

package checkpoint

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyCheckpoint(t *testing.T) {
	cp := EmptyCheckpoint()

	assert.Equal(t, Version, cp.Version)
	assert.NotEmpty(t, cp.ID)
	assert.False(t, cp.Timestamp.IsZero())
	assert.Empty(t, cp.ChannelValues)
	assert.Empty(t, cp.ChannelVersions)
	assert.Empty(t, cp.ParentCheckpointID)
}

func TestCheckpointIDsAreTimeOrdered(t *testing.T) {
	var prev string
	for i := 0; i < 5; i++ {
		cp := EmptyCheckpoint()
		assert.Greater(t, cp.ID, prev)
		prev = cp.ID
		time.Sleep(2 * time.Millisecond)
	}
}

func TestCreateCheckpoint(t *testing.T) {
	parent := EmptyCheckpoint()
	parent.ChannelValues["counter"] = 1
	parent.ChannelVersions["counter"] = 1

	time.Sleep(2 * time.Millisecond)
	child := CreateCheckpoint(parent, map[string]any{"counter": 2, "messages": []any{"hi"}}, 1)

	assert.NotEqual(t, parent.ID, child.ID)
	assert.Greater(t, child.ID, parent.ID)
	assert.Equal(t, parent.ID, child.ParentCheckpointID)

	// Overlaid channels get a bumped version token.
	assert.Greater(t, child.ChannelVersions["counter"], parent.ChannelVersions["counter"])
	assert.Equal(t, child.ChannelVersions["counter"], child.ChannelVersions["messages"])

	// The derived checkpoint never aliases the parent's containers.
	child.ChannelValues["counter"] = 99
	assert.Equal(t, 1, parent.ChannelValues["counter"])
}

func TestCreateCheckpointStepFloorsVersions(t *testing.T) {
	parent := EmptyCheckpoint()
	child := CreateCheckpoint(parent, map[string]any{"counter": 1}, 5)
	assert.Equal(t, int64(6), child.ChannelVersions["counter"])
}

func TestCheckpointCopyIsDeep(t *testing.T) {
	cp := EmptyCheckpoint()
	cp.ChannelValues["nested"] = map[string]any{"k": "v"}
	cp.ChannelVersions["nested"] = 3
	cp.PendingSends = []PendingSend{{Channel: "next", Value: "payload"}}

	cloned := cp.Copy()
	require.Equal(t, cp.ID, cloned.ID)
	require.Equal(t, cp.ParentCheckpointID, cloned.ParentCheckpointID)

	cloned.ChannelValues["nested"].(map[string]any)["k"] = "changed"
	cloned.ChannelVersions["nested"] = 9
	cloned.PendingSends[0].Channel = "other"

	assert.Equal(t, "v", cp.ChannelValues["nested"].(map[string]any)["k"])
	assert.Equal(t, int64(3), cp.ChannelVersions["nested"])
	assert.Equal(t, "next", cp.PendingSends[0].Channel)
}

func TestFork(t *testing.T) {
	cp := EmptyCheckpoint()
	time.Sleep(2 * time.Millisecond)
	forked := cp.Fork()

	assert.NotEqual(t, cp.ID, forked.ID)
	assert.Equal(t, cp.ID, forked.ParentCheckpointID)
}

func TestMetadataMatches(t *testing.T) {
	meta := &CheckpointMetadata{
		Source: SourceInput,
		Step:   2,
		Writes: map[string]any{},
		Extra:  map[string]any{"score": 1},
	}

	tests := []struct {
		name   string
		filter map[string]any
		want   bool
	}{
		{"empty filter matches", map[string]any{}, true},
		{"nil filter matches", nil, true},
		{"single key match", map[string]any{"source": SourceInput}, true},
		{"extension key match", map[string]any{"score": 1}, true},
		{"numeric widening match", map[string]any{"score": float64(1)}, true},
		{"multi key match", map[string]any{"source": SourceInput, "step": 2}, true},
		{"value mismatch", map[string]any{"source": SourceUpdate}, false},
		{"step mismatch", map[string]any{"step": 1}, false},
		{"writes mismatch", map[string]any{"step": 1, "writes": map[string]any{"foo": "bar"}}, false},
		{"absent key", map[string]any{"missing": true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, meta.Matches(tt.filter))
		})
	}
}

func TestMetadataMatchesNestedWrites(t *testing.T) {
	meta := &CheckpointMetadata{
		Source: SourceLoop,
		Step:   1,
		Writes: map[string]any{"foo": "bar"},
	}

	assert.True(t, meta.Matches(map[string]any{"step": 1, "writes": map[string]any{"foo": "bar"}}))
	assert.False(t, meta.Matches(map[string]any{"writes": map[string]any{"foo": "baz"}}))
	assert.False(t, meta.Matches(map[string]any{"writes": map[string]any{}}))
}

func TestMetadataMatchesEmptyMetadata(t *testing.T) {
	meta := &CheckpointMetadata{}

	assert.True(t, meta.Matches(nil))
	assert.False(t, meta.Matches(map[string]any{"source": SourceInput}))
}

func TestMetadataMatchesAfterJSONRoundTrip(t *testing.T) {
	meta := NewCheckpointMetadata(SourceInput, 2).WithExtra("score", 1)

	data, err := json.Marshal(meta)
	require.NoError(t, err)
	var restored CheckpointMetadata
	require.NoError(t, json.Unmarshal(data, &restored))

	// JSON widens the stored int to float64; matching must not care.
	assert.True(t, restored.Matches(map[string]any{"score": 1}))
	assert.True(t, restored.Matches(map[string]any{"source": SourceInput, "step": 2}))
}

func TestMetadataBuilders(t *testing.T) {
	meta := NewCheckpointMetadata(SourceUpdate, 3).
		WithWrite("messages", []any{"hello"}).
		WithExtra("score", 7)

	assert.Equal(t, SourceUpdate, meta.Source)
	assert.Equal(t, 3, meta.Step)
	assert.Equal(t, []any{"hello"}, meta.Writes["messages"])
	assert.Equal(t, 7, meta.Extra["score"])
}
