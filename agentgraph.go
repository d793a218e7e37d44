// Package agentgraph provides a high-level façade over the graph runner and
// its collaborators (retrieval, tools, memory, checkpoints & logging) for
// building conversational agents with a retrieval-before-decision policy.
// Most applications interact with this package by:
//  1. Creating an AgentGraph via New() with a language model (optionally
//     overriding the default in-memory stores)
//  2. Registering tools the decision loop may call
//  3. Running turns with RunTurn and inspecting the returned trace/snapshot
//
// The façade delegates orchestration to graph.Runner while keeping setup and
// usage ergonomics concise. All defaults are safe for local development and
// testing; production deployments typically supply a durable checkpoint
// store, a real retriever index and a structured logger.
package agentgraph

import (
	"context"
	"time"

	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/flow"
	"github.com/hupe1980/agentgraph/graph"
	"github.com/hupe1980/agentgraph/logging"
	"github.com/hupe1980/agentgraph/memory"
	"github.com/hupe1980/agentgraph/metrics"
	"github.com/hupe1980/agentgraph/model"
	"github.com/hupe1980/agentgraph/state"
	"github.com/hupe1980/agentgraph/token"
	"github.com/hupe1980/agentgraph/tool"
)

// Options configures the AgentGraph instance.
type Options struct {
	// Retriever is the document knowledge index consulted before every
	// decision. Without one, turns run without retrieved context.
	Retriever core.KnowledgeRetriever

	// RecallIndex is the conversation-memory index used by hybrid-mode
	// on-demand recall.
	RecallIndex core.KnowledgeRetriever

	// Tools is the registry of callable capabilities (defaults to an empty
	// registry; use RegisterTool afterwards).
	Tools *tool.Registry

	// CheckpointStore persists end-of-turn snapshots (defaults to an
	// in-memory implementation).
	CheckpointStore core.CheckpointStore

	// ProfileStore loads stable user attributes once per session.
	ProfileStore core.ProfileStore

	// Counter estimates token counts for budgeting decisions.
	Counter token.Counter

	// Metrics receives engine observations; nil disables instrumentation.
	Metrics *metrics.Recorder

	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger

	// MaxIterations caps the decision loop per turn.
	MaxIterations int

	// TurnTimeout is the deadline for one whole turn.
	TurnTimeout time.Duration

	// ToolTimeout caps a single tool invocation (defaults to
	// flow.DefaultToolTimeout when zero).
	ToolTimeout time.Duration

	// MaxFanOut bounds concurrent tool branches per parallel dispatch
	// (defaults to flow.DefaultMaxFanOut when zero).
	MaxFanOut int

	// DefaultMemoryMode applies when a turn does not name a memory mode.
	DefaultMemoryMode memory.Mode

	// Retrieval tunes the retrieval stage.
	Retrieval func(o *flow.RetrievalOptions)

	// Decision tunes the decision stage.
	Decision func(o *flow.DecisionOptions)

	// Memory tunes the memory manager.
	Memory func(o *memory.Options)
}

// AgentGraph is the high-level façade aggregating the runner and its
// collaborators.
type AgentGraph struct {
	opts   Options
	tools  *tool.Registry
	runner *graph.Runner
}

// New creates a new AgentGraph around the given language model. Any unset
// collaborator is initialized with an in-memory implementation.
func New(llm model.Model, optFns ...func(o *Options)) (*AgentGraph, error) {
	opts := Options{
		Tools:             tool.NewRegistry(),
		Logger:            logging.NoOpLogger{},
		MaxIterations:     20,
		TurnTimeout:       60 * time.Second,
		DefaultMemoryMode: memory.ModeRolling,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	runner, err := graph.New(graph.Config{
		Model:       llm,
		Retriever:   opts.Retriever,
		RecallIndex: opts.RecallIndex,
		Tools:       opts.Tools,
		Checkpoints: opts.CheckpointStore,
		Profiles:    opts.ProfileStore,
		Counter:     opts.Counter,
		Metrics:     opts.Metrics,
	}, func(o *graph.Options) {
		o.MaxIterations = opts.MaxIterations
		o.TurnTimeout = opts.TurnTimeout
		if opts.ToolTimeout > 0 {
			o.ToolTimeout = opts.ToolTimeout
		}
		if opts.MaxFanOut > 0 {
			o.MaxFanOut = opts.MaxFanOut
		}
		o.DefaultMemoryMode = opts.DefaultMemoryMode
		o.Retrieval = opts.Retrieval
		o.Decision = opts.Decision
		o.Memory = opts.Memory
		o.Logger = opts.Logger
	})
	if err != nil {
		return nil, err
	}

	return &AgentGraph{opts: opts, tools: opts.Tools, runner: runner}, nil
}

// RegisterTool adds a tool to the registry used by the decision loop.
func (g *AgentGraph) RegisterTool(t tool.Tool) { g.tools.Register(t) }

// RunTurn executes one user turn and returns the answer with its trace,
// memory snapshot and checkpoint id.
func (g *AgentGraph) RunTurn(ctx context.Context, input graph.TurnInput) (*graph.TurnOutput, error) {
	return g.runner.RunTurn(ctx, input)
}

// ListCheckpoints lists the stored checkpoints of a session.
func (g *AgentGraph) ListCheckpoints(ctx context.Context, sessionID string) ([]core.CheckpointMeta, error) {
	return g.runner.ListCheckpoints(ctx, sessionID)
}

// RestoreCheckpoint resets a session to a stored checkpoint and returns the
// restored state.
func (g *AgentGraph) RestoreCheckpoint(ctx context.Context, sessionID, checkpointID string) (*state.Channels, error) {
	return g.runner.RestoreCheckpoint(ctx, sessionID, checkpointID)
}
