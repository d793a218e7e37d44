package flow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/state"
	"github.com/hupe1980/agentgraph/tool"
)

func priceTool(delay time.Duration) tool.Tool {
	return tool.NewFunctionTool(
		"price",
		"Look up the current price for a ticker symbol",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"symbol": map[string]any{"type": "string"},
			},
			"required": []string{"symbol"},
		},
		func(tc *tool.Context, args map[string]any) (any, error) {
			select {
			case <-tc.Context().Done():
				return nil, tc.Context().Err()
			case <-time.After(delay):
			}
			symbol := args["symbol"].(string)
			prices := map[string]float64{"AAPL": 187.5, "TSLA": 244.1}
			return map[string]any{"symbol": symbol, "price": prices[symbol]}, nil
		},
	)
}

func TestToolExecutor_Success(t *testing.T) {
	registry := tool.NewRegistry(priceTool(0))
	exec := NewToolExecutor(registry)

	outcome := exec.Invoke(context.Background(), "sess-1", state.NewChannels(), core.ToolCall{
		Name:      "price",
		Arguments: map[string]any{"symbol": "AAPL"},
	})

	assert.True(t, outcome.Success)
	assert.Empty(t, outcome.Error)
	result, ok := outcome.Result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 187.5, result["price"])
}

func TestToolExecutor_UnknownTool(t *testing.T) {
	exec := NewToolExecutor(tool.NewRegistry())

	outcome := exec.Invoke(context.Background(), "sess-1", state.NewChannels(), core.ToolCall{Name: "nope"})

	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.Error, "unknown tool")
	assert.Contains(t, outcome.Error, "nope")
}

func TestToolExecutor_Timeout(t *testing.T) {
	registry := tool.NewRegistry(priceTool(time.Second))
	exec := NewToolExecutor(registry, func(o *ToolExecutorOptions) {
		o.Timeout = 20 * time.Millisecond
	})

	outcome := exec.Invoke(context.Background(), "sess-1", state.NewChannels(), core.ToolCall{
		Name:      "price",
		Arguments: map[string]any{"symbol": "TSLA"},
	})

	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.Error, "tool timeout")
	assert.GreaterOrEqual(t, outcome.ElapsedMS, int64(20))
}

func TestToolExecutor_ValidationFailure(t *testing.T) {
	registry := tool.NewRegistry(priceTool(0))
	exec := NewToolExecutor(registry)

	outcome := exec.Invoke(context.Background(), "sess-1", state.NewChannels(), core.ToolCall{
		Name:      "price",
		Arguments: map[string]any{},
	})

	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.Error, "VALIDATION_ERROR")
}

func TestToolExecutor_PanicIsRecovered(t *testing.T) {
	panicky := tool.NewFunctionTool("boom", "always panics", map[string]any{"type": "object"},
		func(tc *tool.Context, args map[string]any) (any, error) {
			panic("kaboom")
		})
	exec := NewToolExecutor(tool.NewRegistry(panicky))

	outcome := exec.Invoke(context.Background(), "sess-1", state.NewChannels(), core.ToolCall{Name: "boom"})

	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.Error, "kaboom")
}

func TestToolExecutor_BranchIsolation(t *testing.T) {
	var seen *state.Channels
	reader := tool.NewFunctionTool("reader", "captures its state view", map[string]any{"type": "object"},
		func(tc *tool.Context, args map[string]any) (any, error) {
			seen = tc.State()
			return "ok", nil
		})
	exec := NewToolExecutor(tool.NewRegistry(reader))

	ch := state.NewChannels()
	state.Apply(ch, state.Delta{Messages: []state.Message{
		state.NewMessage(state.RoleUser, "hello", time.Now()),
	}})
	outcome := exec.Invoke(context.Background(), "sess-1", ch, core.ToolCall{Name: "reader"})

	require.True(t, outcome.Success)
	require.NotNil(t, seen)
	assert.NotSame(t, ch, seen)
	require.Len(t, seen.Messages, 1)

	// Mutating the branch view must not leak back.
	state.Apply(seen, state.Delta{Messages: []state.Message{
		state.NewMessage(state.RoleUser, "smuggled", time.Now()),
	}})
	assert.Len(t, ch.Messages, 1)
}
