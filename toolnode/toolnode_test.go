//
// Copyright (C) 2025 stateflow authors. All rights reserved.
//
// stateflow is licensed under the Apache License Version 2.0.
//

package toolnode

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stateflow-dev/stateflow/model"
	"github.com/stateflow-dev/stateflow/tool"
)

type searchArgs struct {
	Query string `json:"query"`
}

func newSearchTool() tool.CallableTool {
	return tool.NewFunctionTool(
		func(ctx context.Context, args searchArgs) (string, error) {
			return "results for " + args.Query, nil
		},
		tool.WithName("search"),
		tool.WithDescription("Searches the web."),
	)
}

func newFailingTool(name string, err error) tool.CallableTool {
	return tool.NewFunctionTool(
		func(ctx context.Context, args struct{}) (string, error) {
			return "", err
		},
		tool.WithName(name),
	)
}

func callTo(name, id string, jsonArgs string) model.ToolCall {
	return model.ToolCall{
		Type: "function",
		ID:   id,
		Function: model.FunctionDefinitionParam{
			Name:      name,
			Arguments: []byte(jsonArgs),
		},
	}
}

func assistantWithCalls(calls ...model.ToolCall) model.Message {
	msg := model.NewAssistantMessage("")
	msg.ToolCalls = calls
	return msg
}

func TestInvokeSingleCall(t *testing.T) {
	node := New([]tool.CallableTool{newSearchTool()})

	out, err := node.Invoke(context.Background(), []model.Message{
		model.NewUserMessage("look up go"),
		assistantWithCalls(callTo("search", "call-1", `{"query":"go"}`)),
	})
	require.NoError(t, err)

	results, ok := out.([]model.Message)
	require.True(t, ok)
	require.Len(t, results, 1)
	assert.Equal(t, model.RoleTool, results[0].Role)
	assert.Equal(t, "call-1", results[0].ToolID)
	assert.Equal(t, "search", results[0].ToolName)
	assert.Equal(t, "results for go", results[0].Content)
}

func TestInvokeMarshalsStructResults(t *testing.T) {
	type report struct {
		Temp int    `json:"temp"`
		Unit string `json:"unit"`
	}
	weather := tool.NewFunctionTool(
		func(ctx context.Context, args struct{}) (report, error) {
			return report{Temp: 21, Unit: "C"}, nil
		},
		tool.WithName("weather"),
	)
	node := New([]tool.CallableTool{weather})

	out, err := node.Invoke(context.Background(), []model.Message{
		assistantWithCalls(callTo("weather", "call-1", "")),
	})
	require.NoError(t, err)

	results := out.([]model.Message)
	require.Len(t, results, 1)
	assert.JSONEq(t, `{"temp":21,"unit":"C"}`, results[0].Content)
}

func TestInvokeUnknownTool(t *testing.T) {
	node := New([]tool.CallableTool{newSearchTool()})

	out, err := node.Invoke(context.Background(), []model.Message{
		assistantWithCalls(callTo("weather", "call-1", `{}`)),
	})
	require.NoError(t, err)

	results := out.([]model.Message)
	require.Len(t, results, 1)
	assert.Equal(t, model.RoleTool, results[0].Role)
	assert.Equal(t, "call-1", results[0].ToolID)
	assert.Equal(t, "weather", results[0].ToolName)
	assert.Equal(t, "Error: weather is not a valid tool, try one of [search].", results[0].Content)
}

func TestInvokeUnknownToolListsCatalogInOrder(t *testing.T) {
	alpha := tool.NewFunctionTool(
		func(ctx context.Context, args struct{}) (string, error) { return "", nil },
		tool.WithName("alpha"),
	)
	beta := tool.NewFunctionTool(
		func(ctx context.Context, args struct{}) (string, error) { return "", nil },
		tool.WithName("beta"),
	)
	node := New([]tool.CallableTool{alpha, beta})

	out, err := node.Invoke(context.Background(), []model.Message{
		assistantWithCalls(callTo("gamma", "call-1", "")),
	})
	require.NoError(t, err)

	results := out.([]model.Message)
	require.Len(t, results, 1)
	assert.Equal(t, "Error: gamma is not a valid tool, try one of [alpha, beta].", results[0].Content)
}

func TestInvokePreservesCallOrder(t *testing.T) {
	slow := tool.NewFunctionTool(
		func(ctx context.Context, args struct{}) (string, error) {
			time.Sleep(50 * time.Millisecond)
			return "slow done", nil
		},
		tool.WithName("slow"),
	)
	fast := tool.NewFunctionTool(
		func(ctx context.Context, args struct{}) (string, error) {
			return "fast done", nil
		},
		tool.WithName("fast"),
	)
	node := New([]tool.CallableTool{slow, fast})

	out, err := node.Invoke(context.Background(), []model.Message{
		assistantWithCalls(
			callTo("slow", "call-1", ""),
			callTo("fast", "call-2", ""),
			callTo("slow", "call-3", ""),
		),
	})
	require.NoError(t, err)

	// Results line up with the requested calls even though the fast
	// tool finishes first.
	results := out.([]model.Message)
	require.Len(t, results, 3)
	assert.Equal(t, "call-1", results[0].ToolID)
	assert.Equal(t, "slow done", results[0].Content)
	assert.Equal(t, "call-2", results[1].ToolID)
	assert.Equal(t, "fast done", results[1].Content)
	assert.Equal(t, "call-3", results[2].ToolID)
}

func TestInvokeHandlesToolError(t *testing.T) {
	node := New([]tool.CallableTool{
		newSearchTool(),
		newFailingTool("broken", errors.New("boom")),
	})

	out, err := node.Invoke(context.Background(), []model.Message{
		assistantWithCalls(
			callTo("broken", "call-1", ""),
			callTo("search", "call-2", `{"query":"go"}`),
		),
	})
	require.NoError(t, err)

	// The failing call becomes an error message; its sibling still runs.
	results := out.([]model.Message)
	require.Len(t, results, 2)
	assert.Equal(t, "Error: boom\nPlease fix your mistakes.", results[0].Content)
	assert.Equal(t, "results for go", results[1].Content)
}

func TestInvokePropagatesToolErrorWhenHandlingOff(t *testing.T) {
	node := New(
		[]tool.CallableTool{newFailingTool("broken", errors.New("boom"))},
		WithHandleToolErrors(false),
	)

	out, err := node.Invoke(context.Background(), []model.Message{
		assistantWithCalls(callTo("broken", "call-1", "")),
	})
	require.Error(t, err)
	assert.ErrorContains(t, err, "boom")
	assert.Nil(t, out)
}

func TestInvokeKeyedInputYieldsKeyedOutput(t *testing.T) {
	node := New([]tool.CallableTool{newSearchTool()})

	out, err := node.Invoke(context.Background(), map[string]any{
		StateKeyMessages: []model.Message{
			assistantWithCalls(callTo("search", "call-1", `{"query":"go"}`)),
		},
	})
	require.NoError(t, err)

	state, ok := out.(map[string]any)
	require.True(t, ok)
	results, ok := state[StateKeyMessages].([]model.Message)
	require.True(t, ok)
	require.Len(t, results, 1)
	assert.Equal(t, "results for go", results[0].Content)
}

func TestInvokeZeroCalls(t *testing.T) {
	node := New([]tool.CallableTool{newSearchTool()})

	out, err := node.Invoke(context.Background(), []model.Message{
		model.NewAssistantMessage("nothing to do"),
	})
	require.NoError(t, err)

	results := out.([]model.Message)
	assert.Empty(t, results)
}

func TestInvokeInputErrors(t *testing.T) {
	node := New([]tool.CallableTool{newSearchTool()})
	ctx := context.Background()

	_, err := node.Invoke(ctx, []model.Message{})
	assert.ErrorContains(t, err, "no messages found in input")

	_, err = node.Invoke(ctx, map[string]any{"other": 1})
	assert.ErrorContains(t, err, "no messages found in input")

	_, err = node.Invoke(ctx, 42)
	assert.ErrorContains(t, err, "unsupported input type")

	_, err = node.Invoke(ctx, []model.Message{model.NewUserMessage("hi")})
	assert.ErrorContains(t, err, "last message is not an assistant message")
}

func TestInvokeOnPool(t *testing.T) {
	pool, err := ants.NewPool(2)
	require.NoError(t, err)
	defer pool.Release()

	node := New([]tool.CallableTool{newSearchTool()}, WithPool(pool))

	out, err := node.Invoke(context.Background(), []model.Message{
		assistantWithCalls(
			callTo("search", "call-1", `{"query":"a"}`),
			callTo("search", "call-2", `{"query":"b"}`),
			callTo("search", "call-3", `{"query":"c"}`),
			callTo("search", "call-4", `{"query":"d"}`),
		),
	})
	require.NoError(t, err)

	results := out.([]model.Message)
	require.Len(t, results, 4)
	for i, want := range []string{"a", "b", "c", "d"} {
		assert.Equal(t, fmt.Sprintf("call-%d", i+1), results[i].ToolID)
		assert.Equal(t, "results for "+want, results[i].Content)
	}
}

func TestInvokeOnPoolPropagatesError(t *testing.T) {
	pool, err := ants.NewPool(2)
	require.NoError(t, err)
	defer pool.Release()

	node := New(
		[]tool.CallableTool{newFailingTool("broken", errors.New("boom"))},
		WithPool(pool),
		WithHandleToolErrors(false),
	)

	_, err = node.Invoke(context.Background(), []model.Message{
		assistantWithCalls(callTo("broken", "call-1", "")),
	})
	require.Error(t, err)
	assert.ErrorContains(t, err, "boom")
}

func TestNewKeepsLastToolOnDuplicateName(t *testing.T) {
	first := tool.NewFunctionTool(
		func(ctx context.Context, args struct{}) (string, error) { return "first", nil },
		tool.WithName("dup"),
	)
	second := tool.NewFunctionTool(
		func(ctx context.Context, args struct{}) (string, error) { return "second", nil },
		tool.WithName("dup"),
	)
	node := New([]tool.CallableTool{first, second})

	out, err := node.Invoke(context.Background(), []model.Message{
		assistantWithCalls(callTo("dup", "call-1", "")),
	})
	require.NoError(t, err)
	results := out.([]model.Message)
	require.Len(t, results, 1)
	assert.Equal(t, "second", results[0].Content)
}

func TestCondition(t *testing.T) {
	route, err := Condition([]model.Message{
		assistantWithCalls(callTo("search", "call-1", "")),
	})
	require.NoError(t, err)
	assert.Equal(t, RouteTools, route)

	route, err = Condition([]model.Message{
		model.NewAssistantMessage("all done"),
	})
	require.NoError(t, err)
	assert.Equal(t, RouteEnd, route)

	route, err = Condition(map[string]any{
		StateKeyMessages: []model.Message{
			assistantWithCalls(callTo("search", "call-1", "")),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, RouteTools, route)

	_, err = Condition([]model.Message{})
	assert.Error(t, err)
}
