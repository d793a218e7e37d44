package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/logging"
	"github.com/hupe1980/agentgraph/state"
	"github.com/hupe1980/agentgraph/tool"
)

// DefaultToolTimeout is the hard per-call timeout when none is configured.
const DefaultToolTimeout = 15 * time.Second

// ToolExecutorOptions configures the tool executor.
type ToolExecutorOptions struct {
	// Timeout is the hard per-call timeout.
	Timeout time.Duration
	// Logger is the logger used by the executor.
	Logger logging.Logger
}

// ToolExecutor invokes one registered tool under a hard timeout and wraps the
// result as a normalized ToolOutcome. Retries are the caller's concern; this
// primitive stays composable. A failed call is a recorded outcome, never an
// error return.
type ToolExecutor struct {
	registry *tool.Registry
	opts     ToolExecutorOptions
	*core.LoggerAdapter
}

// NewToolExecutor creates a tool executor over the registry.
func NewToolExecutor(registry *tool.Registry, optFns ...func(o *ToolExecutorOptions)) *ToolExecutor {
	opts := ToolExecutorOptions{Timeout: DefaultToolTimeout}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultToolTimeout
	}
	return &ToolExecutor{
		registry:      registry,
		opts:          opts,
		LoggerAdapter: core.NewLoggerAdapter(opts.Logger),
	}
}

// Invoke runs one tool call against a private clone of the channels. The
// clone keeps branch isolation: tools read state but can only report back
// through their result.
func (e *ToolExecutor) Invoke(ctx context.Context, sessionID string, ch *state.Channels, call core.ToolCall) state.ToolOutcome {
	start := time.Now()
	outcome := state.ToolOutcome{ToolName: call.Name, Arguments: call.Arguments}

	t, err := e.registry.Lookup(call.Name)
	if err != nil {
		outcome.Error = fmt.Sprintf("%v: %s", core.ErrUnknownTool, call.Name)
		outcome.ElapsedMS = time.Since(start).Milliseconds()
		e.LogWarn("tool lookup failed", "tool", call.Name)
		return outcome
	}

	callCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	callID := core.NewID()
	toolCtx := tool.NewContext(callCtx, sessionID, callID, ch.Clone(), e.Logger())

	type callResult struct {
		value any
		err   error
	}
	resultCh := make(chan callResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- callResult{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		value, callErr := t.Call(toolCtx, call.Arguments)
		resultCh <- callResult{value: value, err: callErr}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			outcome.Error = res.err.Error()
		} else {
			outcome.Result = res.value
			outcome.Success = true
		}
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			outcome.Error = fmt.Sprintf("%v: %s after %s", core.ErrToolTimeout, call.Name, e.opts.Timeout)
		} else {
			outcome.Error = fmt.Sprintf("tool %s cancelled: %v", call.Name, callCtx.Err())
		}
	}

	outcome.ElapsedMS = time.Since(start).Milliseconds()
	e.LogDebug("tool call finished",
		"tool", call.Name,
		"call_id", callID,
		"success", outcome.Success,
		"elapsed_ms", outcome.ElapsedMS,
	)
	return outcome
}
