//
// Copyright (C) 2025 stateflow authors. All rights reserved.
//
// stateflow is licensed under the Apache License Version 2.0.
//

// Package toolnode runs the tool calls requested by the last assistant
// message, in parallel, and folds the results back into the caller's
// input shape.
package toolnode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/stateflow-dev/stateflow/log"
	"github.com/stateflow-dev/stateflow/model"
	"github.com/stateflow-dev/stateflow/telemetry/trace"
	"github.com/stateflow-dev/stateflow/tool"
)

// StateKeyMessages is the key under which a keyed input carries its
// message list.
const StateKeyMessages = "messages"

// Routing targets returned by Condition.
const (
	// RouteTools routes to the tools node.
	RouteTools = "tools"
	// RouteEnd terminates the graph.
	RouteEnd = "__end__"
)

const (
	invalidToolNameTemplate = "Error: %s is not a valid tool, try one of [%s]."
	toolCallErrorTemplate   = "Error: %v\nPlease fix your mistakes."
)

// ToolNode executes the tool calls of the last assistant message. All
// calls of one invocation run concurrently; results are returned in the
// order the calls were requested, one tool message per call.
//
// A call naming an unknown tool, or a tool call that fails while error
// handling is enabled, yields a templated error message instead of
// aborting its siblings.
type ToolNode struct {
	toolsByName map[string]tool.CallableTool
	// toolNames preserves registration order for error messages.
	toolNames        []string
	handleToolErrors bool
	pool             *ants.Pool
}

// Option configures a ToolNode.
type Option func(*ToolNode)

// WithHandleToolErrors controls whether tool execution failures are
// converted into error messages (the default) or propagated, aborting
// the whole invocation.
func WithHandleToolErrors(handle bool) Option {
	return func(n *ToolNode) {
		n.handleToolErrors = handle
	}
}

// WithPool runs tool calls on the given worker pool instead of
// dedicated goroutines, bounding parallelism to the pool size. The
// caller owns the pool and may share it across nodes.
func WithPool(pool *ants.Pool) Option {
	return func(n *ToolNode) {
		n.pool = pool
	}
}

// New creates a ToolNode over the given tool catalog. Tool names must
// be unique; registering a name twice keeps the last tool.
func New(tools []tool.CallableTool, opts ...Option) *ToolNode {
	n := &ToolNode{
		toolsByName:      make(map[string]tool.CallableTool, len(tools)),
		handleToolErrors: true,
	}
	for _, t := range tools {
		name := t.Declaration().Name
		if _, exists := n.toolsByName[name]; !exists {
			n.toolNames = append(n.toolNames, name)
		}
		n.toolsByName[name] = t
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Invoke runs every tool call of the last assistant message and returns
// one tool message per call, in call order. A bare []model.Message
// input yields a []model.Message output; a map input with a "messages"
// key yields a map output under the same key. A missing or malformed
// message list is a usage error and fails the whole call.
func (n *ToolNode) Invoke(ctx context.Context, input any) (any, error) {
	last, keyed, err := parseInput(input)
	if err != nil {
		return nil, err
	}

	calls := last.ToolCalls
	results := make([]model.Message, len(calls))
	if n.pool != nil {
		err = n.runPooled(ctx, calls, results)
	} else {
		err = n.runGroup(ctx, calls, results)
	}
	if err != nil {
		return nil, err
	}

	if keyed {
		return map[string]any{StateKeyMessages: results}, nil
	}
	return results, nil
}

// runGroup executes calls on dedicated goroutines joined by an
// errgroup. When error handling is off, the first failure cancels the
// group context seen by the remaining tools.
func (n *ToolNode) runGroup(ctx context.Context, calls []model.ToolCall, results []model.Message) error {
	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			msg, err := n.runOne(gctx, call)
			if err != nil {
				return err
			}
			results[i] = msg
			return nil
		})
	}
	return g.Wait()
}

// runPooled executes calls on the configured worker pool, bounding
// effective parallelism to the pool size.
func (n *ToolNode) runPooled(ctx context.Context, calls []model.ToolCall, results []model.Message) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(calls))
	for i, call := range calls {
		i, call := i, call
		wg.Add(1)
		if submitErr := n.pool.Submit(func() {
			defer wg.Done()
			msg, err := n.runOne(ctx, call)
			if err != nil {
				errCh <- err
				return
			}
			results[i] = msg
		}); submitErr != nil {
			wg.Done()
			errCh <- fmt.Errorf("failed to submit tool task: %w", submitErr)
		}
	}
	wg.Wait()
	close(errCh)
	if err := <-errCh; err != nil {
		return err
	}
	return nil
}

// runOne resolves and executes a single tool call, converting unknown
// tools and (when enabled) execution failures into error messages.
func (n *ToolNode) runOne(ctx context.Context, call model.ToolCall) (model.Message, error) {
	id, name := call.ID, call.Function.Name
	t, ok := n.toolsByName[name]
	if !ok {
		available := strings.Join(n.toolNames, ", ")
		log.Warnf("tool %s not found, valid tools: [%s]", name, available)
		return model.NewToolMessage(id, name, fmt.Sprintf(invalidToolNameTemplate, name, available)), nil
	}

	ctx, span := trace.Tracer.Start(ctx, "execute_tool "+name)
	defer span.End()
	span.SetAttributes(
		attribute.String("stateflow.tool_name", name),
		attribute.String("stateflow.tool_id", id),
	)

	result, err := t.Call(ctx, call.Function.Arguments)
	if err != nil {
		if !n.handleToolErrors {
			return model.Message{}, fmt.Errorf("tool %s call failed: %w", name, err)
		}
		log.Warnf("tool %s call failed: %v", name, err)
		return model.NewToolMessage(id, name, fmt.Sprintf(toolCallErrorTemplate, err)), nil
	}

	content, err := stringifyResult(result)
	if err != nil {
		return model.Message{}, fmt.Errorf("failed to marshal result of tool %s: %w", name, err)
	}
	return model.NewToolMessage(id, name, content), nil
}

// Condition routes to the tools node iff the last message of the input
// has tool calls. Use it as the conditional edge after an LLM node.
func Condition(input any) (string, error) {
	messages, err := messagesOf(input)
	if err != nil {
		return "", err
	}
	if len(messages[len(messages)-1].ToolCalls) > 0 {
		return RouteTools, nil
	}
	return RouteEnd, nil
}

// parseInput resolves the trigger input to its last message and
// remembers whether the input was keyed.
func parseInput(input any) (model.Message, bool, error) {
	messages, err := messagesOf(input)
	if err != nil {
		return model.Message{}, false, err
	}
	_, keyed := input.(map[string]any)

	last := messages[len(messages)-1]
	if last.Role != model.RoleAssistant {
		return model.Message{}, false, errors.New("last message is not an assistant message")
	}
	return last, keyed, nil
}

func messagesOf(input any) ([]model.Message, error) {
	var messages []model.Message
	switch in := input.(type) {
	case []model.Message:
		messages = in
	case map[string]any:
		msgs, ok := in[StateKeyMessages].([]model.Message)
		if !ok {
			return nil, errors.New("no messages found in input")
		}
		messages = msgs
	default:
		return nil, fmt.Errorf("unsupported input type %T", input)
	}
	if len(messages) == 0 {
		return nil, errors.New("no messages found in input")
	}
	return messages, nil
}

func stringifyResult(result any) (string, error) {
	switch r := result.(type) {
	case nil:
		return "", nil
	case string:
		return r, nil
	default:
		data, err := json.Marshal(r)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}
