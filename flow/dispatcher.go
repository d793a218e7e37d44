package flow

import (
	"context"
	"sync"

	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/logging"
	"github.com/hupe1980/agentgraph/state"
)

// DefaultMaxFanOut bounds concurrent tool calls when no limit is configured.
const DefaultMaxFanOut = 10

// ParallelDispatcherOptions configures the dispatcher.
type ParallelDispatcherOptions struct {
	// MaxFanOut caps the number of tool calls running at once.
	MaxFanOut int
	// Logger is the logger used by the dispatcher.
	Logger logging.Logger
}

// DispatchResult is the fan-in product of one dispatch. The Delta carries the
// outcomes for reducer-based merging into the channels; Succeeded/Failed are
// the branch tallies.
type DispatchResult struct {
	Delta     state.Delta
	Succeeded int
	Failed    int
}

// ParallelDispatcher fans out independent tool calls concurrently and merges
// the results through the state reducers. Each branch works on a private
// channels clone; partial failures never cancel siblings, a mixed result is a
// valid terminal state.
type ParallelDispatcher struct {
	executor *ToolExecutor
	opts     ParallelDispatcherOptions
	*core.LoggerAdapter
}

// NewParallelDispatcher creates a dispatcher over the executor.
func NewParallelDispatcher(executor *ToolExecutor, optFns ...func(o *ParallelDispatcherOptions)) *ParallelDispatcher {
	opts := ParallelDispatcherOptions{MaxFanOut: DefaultMaxFanOut}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxFanOut <= 0 {
		opts.MaxFanOut = DefaultMaxFanOut
	}
	return &ParallelDispatcher{
		executor:      executor,
		opts:          opts,
		LoggerAdapter: core.NewLoggerAdapter(opts.Logger),
	}
}

// Dispatch runs all calls and waits for every branch to finish or time out.
// Branch completion order cannot influence the merged result: outcomes are
// collected by call index and normalized by the outcome reducer on Apply.
func (d *ParallelDispatcher) Dispatch(ctx context.Context, sessionID string, ch *state.Channels, calls []core.ToolCall) DispatchResult {
	if len(calls) == 0 {
		return DispatchResult{}
	}

	outcomes := make([]state.ToolOutcome, len(calls))
	sem := make(chan struct{}, d.opts.MaxFanOut)
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(i int, call core.ToolCall) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			outcomes[i] = d.executor.Invoke(ctx, sessionID, ch, call)
		}(i, call)
	}
	wg.Wait()

	result := DispatchResult{Delta: state.Delta{Outcomes: outcomes}}
	for _, o := range outcomes {
		if o.Success {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}
	d.LogInfo("parallel dispatch finished",
		"calls", len(calls),
		"succeeded", result.Succeeded,
		"failed", result.Failed,
	)
	return result
}
