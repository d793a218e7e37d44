package flow

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/state"
	"github.com/hupe1980/agentgraph/tool"
)

func namedTool(name string, delay time.Duration, err error) tool.Tool {
	return tool.NewFunctionTool(name, "test tool", map[string]any{"type": "object"},
		func(tc *tool.Context, args map[string]any) (any, error) {
			select {
			case <-tc.Context().Done():
				return nil, tc.Context().Err()
			case <-time.After(delay):
			}
			if err != nil {
				return nil, err
			}
			return name + " ok", nil
		})
}

func TestParallelDispatcher_PartialFailure(t *testing.T) {
	registry := tool.NewRegistry(
		namedTool("alpha", 0, nil),
		namedTool("beta", 0, errors.New("upstream rejected the request")),
		namedTool("gamma", 0, nil),
	)
	dispatcher := NewParallelDispatcher(NewToolExecutor(registry))

	ch := state.NewChannels()
	result := dispatcher.Dispatch(context.Background(), "sess-1", ch, []core.ToolCall{
		{Name: "alpha"}, {Name: "beta"}, {Name: "gamma"},
	})

	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 1, result.Failed)

	state.Apply(ch, result.Delta)
	require.Len(t, ch.ParallelResults, 3)
	var failed []string
	for _, o := range ch.ParallelResults {
		if !o.Success {
			failed = append(failed, o.ToolName)
		}
	}
	assert.Equal(t, []string{"beta"}, failed)
}

func TestParallelDispatcher_TimeoutDoesNotCancelSiblings(t *testing.T) {
	registry := tool.NewRegistry(
		namedTool("price_aapl", 0, nil),
		namedTool("price_tsla", time.Second, nil),
	)
	exec := NewToolExecutor(registry, func(o *ToolExecutorOptions) {
		o.Timeout = 30 * time.Millisecond
	})
	dispatcher := NewParallelDispatcher(exec)

	result := dispatcher.Dispatch(context.Background(), "sess-1", state.NewChannels(), []core.ToolCall{
		{Name: "price_aapl", Arguments: map[string]any{"symbol": "AAPL"}},
		{Name: "price_tsla", Arguments: map[string]any{"symbol": "TSLA"}},
	})

	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, result.Failed)

	byName := map[string]state.ToolOutcome{}
	for _, o := range result.Delta.Outcomes {
		byName[o.ToolName] = o
	}
	assert.True(t, byName["price_aapl"].Success)
	assert.False(t, byName["price_tsla"].Success)
	assert.Contains(t, byName["price_tsla"].Error, "tool timeout")
}

func TestParallelDispatcher_ResultOrderIsNormalized(t *testing.T) {
	registry := tool.NewRegistry(
		namedTool("slow", 40*time.Millisecond, nil),
		namedTool("fast", 0, nil),
	)
	dispatcher := NewParallelDispatcher(NewToolExecutor(registry))

	ch := state.NewChannels()
	result := dispatcher.Dispatch(context.Background(), "sess-1", ch, []core.ToolCall{
		{Name: "slow"}, {Name: "fast"},
	})
	state.Apply(ch, result.Delta)

	// Completion order (fast first) must not show: the reducer sorts by name.
	require.Len(t, ch.ParallelResults, 2)
	assert.Equal(t, "fast", ch.ParallelResults[0].ToolName)
	assert.Equal(t, "slow", ch.ParallelResults[1].ToolName)
}

func TestParallelDispatcher_BoundedFanOut(t *testing.T) {
	var inFlight, peak int64
	var mu sync.Mutex
	gauge := tool.NewFunctionTool("gauge", "tracks concurrency", map[string]any{"type": "object"},
		func(tc *tool.Context, args map[string]any) (any, error) {
			cur := atomic.AddInt64(&inFlight, 1)
			mu.Lock()
			if cur > peak {
				peak = cur
			}
			mu.Unlock()
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt64(&inFlight, -1)
			return "ok", nil
		})
	dispatcher := NewParallelDispatcher(NewToolExecutor(tool.NewRegistry(gauge)), func(o *ParallelDispatcherOptions) {
		o.MaxFanOut = 2
	})

	calls := make([]core.ToolCall, 6)
	for i := range calls {
		calls[i] = core.ToolCall{Name: "gauge"}
	}
	result := dispatcher.Dispatch(context.Background(), "sess-1", state.NewChannels(), calls)

	assert.Equal(t, 6, result.Succeeded)
	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, peak, int64(2))
}

func TestParallelDispatcher_EmptyCalls(t *testing.T) {
	dispatcher := NewParallelDispatcher(NewToolExecutor(tool.NewRegistry()))

	result := dispatcher.Dispatch(context.Background(), "sess-1", state.NewChannels(), nil)

	assert.Zero(t, result.Succeeded)
	assert.Zero(t, result.Failed)
	assert.Empty(t, result.Delta.Outcomes)
}
