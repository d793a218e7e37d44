// Package graph contains the turn runner: the driver that walks the node
// graph (start, retrieval, decision, tool execution, finalize), enforces the
// iteration cap and the turn deadline, folds every transition into the trace
// and writes a checkpoint when the turn ends.
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/agentgraph/checkpoint"
	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/flow"
	"github.com/hupe1980/agentgraph/logging"
	"github.com/hupe1980/agentgraph/memory"
	"github.com/hupe1980/agentgraph/metrics"
	"github.com/hupe1980/agentgraph/model"
	"github.com/hupe1980/agentgraph/state"
	"github.com/hupe1980/agentgraph/token"
	"github.com/hupe1980/agentgraph/tool"
)

// Options configures the runner.
type Options struct {
	// MaxIterations caps the decision loop; hitting it forces finalization.
	MaxIterations int
	// TurnTimeout is the deadline for one whole turn.
	TurnTimeout time.Duration
	// DefaultMemoryMode applies when a turn does not name a mode.
	DefaultMemoryMode memory.Mode
	// ToolTimeout is the hard per-call tool timeout.
	ToolTimeout time.Duration
	// MaxFanOut caps concurrent parallel tool calls.
	MaxFanOut int
	// Retrieval tunes the retrieval stage.
	Retrieval func(o *flow.RetrievalOptions)
	// Decision tunes the decision stage.
	Decision func(o *flow.DecisionOptions)
	// Memory tunes the memory manager (mode is set per turn).
	Memory func(o *memory.Options)
	// Logger is the logger shared by the runner and its stages.
	Logger logging.Logger
}

// Config names the collaborators the runner drives. Everything is injected;
// the runner holds no global clients.
type Config struct {
	// Model is the language model behind rewrite, decision, summary and
	// finalization calls. Required.
	Model model.Model
	// Retriever is the document knowledge index. Optional; without it turns
	// run with has_knowledge=false.
	Retriever core.KnowledgeRetriever
	// RecallIndex is the conversation-memory index for hybrid recall.
	// Optional.
	RecallIndex core.KnowledgeRetriever
	// Tools is the registry of callable capabilities. Optional.
	Tools *tool.Registry
	// Checkpoints persists end-of-turn snapshots. Defaults to the in-memory
	// store.
	Checkpoints core.CheckpointStore
	// Profiles loads stable user attributes. Optional.
	Profiles core.ProfileStore
	// Counter estimates token counts for budgeting. Defaults to the tiktoken
	// counter.
	Counter token.Counter
	// Metrics receives engine observations. Optional.
	Metrics *metrics.Recorder
}

// TurnInput is one user turn.
type TurnInput struct {
	TenantID   string
	UserID     string
	SessionID  string
	Message    string
	MemoryMode memory.Mode
}

// TurnOutput is the result of one finished turn.
type TurnOutput struct {
	Answer         string
	ToolsUsed      []string
	MemorySnapshot memory.Snapshot
	Trace          []state.TraceEntry
	CheckpointID   string
}

// Runner drives the turn graph. One Runner serves many sessions; turns within
// a session are serialized by a per-session lock so the state channels of a
// running turn are owned exclusively by that turn. Turns of different sessions
// proceed concurrently.
type Runner struct {
	cfg        Config
	opts       Options
	retrieval  *flow.RetrievalStage
	decision   *flow.DecisionStage
	executor   *flow.ToolExecutor
	dispatcher *flow.ParallelDispatcher

	mu       sync.Mutex
	sessions map[string]*session

	*core.LoggerAdapter
}

// session is one registry entry: its mutex is held for the whole duration of
// a turn (and during checkpoint restore).
type session struct {
	mu sync.Mutex
	ch *state.Channels
}

// New creates a runner over the injected collaborators.
func New(cfg Config, optFns ...func(o *Options)) (*Runner, error) {
	if cfg.Model == nil {
		return nil, fmt.Errorf("graph: a model is required")
	}
	opts := Options{
		MaxIterations:     20,
		TurnTimeout:       60 * time.Second,
		DefaultMemoryMode: memory.ModeRolling,
		ToolTimeout:       flow.DefaultToolTimeout,
		MaxFanOut:         flow.DefaultMaxFanOut,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if cfg.Checkpoints == nil {
		cfg.Checkpoints = checkpoint.NewInMemoryStore()
	}
	if cfg.Counter == nil {
		cfg.Counter = token.NewCounter()
	}
	if cfg.Tools == nil {
		cfg.Tools = tool.NewRegistry()
	}

	retrievalFns := []func(o *flow.RetrievalOptions){func(o *flow.RetrievalOptions) { o.Logger = opts.Logger }}
	if opts.Retrieval != nil {
		retrievalFns = append(retrievalFns, opts.Retrieval)
	}
	decisionFns := []func(o *flow.DecisionOptions){func(o *flow.DecisionOptions) { o.Logger = opts.Logger }}
	if opts.Decision != nil {
		decisionFns = append(decisionFns, opts.Decision)
	}

	executor := flow.NewToolExecutor(cfg.Tools, func(o *flow.ToolExecutorOptions) {
		o.Timeout = opts.ToolTimeout
		o.Logger = opts.Logger
	})

	return &Runner{
		cfg:       cfg,
		opts:      opts,
		retrieval: flow.NewRetrievalStage(cfg.Retriever, cfg.Model, cfg.Counter, retrievalFns...),
		decision:  flow.NewDecisionStage(cfg.Model, cfg.Tools, cfg.Counter, decisionFns...),
		executor:  executor,
		dispatcher: flow.NewParallelDispatcher(executor, func(o *flow.ParallelDispatcherOptions) {
			o.MaxFanOut = opts.MaxFanOut
			o.Logger = opts.Logger
		}),
		sessions:      map[string]*session{},
		LoggerAdapter: core.NewLoggerAdapter(opts.Logger),
	}, nil
}

// RunTurn executes one full turn for the session. Only invalid identifiers
// fail the call; every other condition degrades into the answer and the
// trace.
func (r *Runner) RunTurn(ctx context.Context, input TurnInput) (*TurnOutput, error) {
	turn := core.NewTurn(input.TenantID, input.UserID, input.SessionID)
	if err := turn.Validate(); err != nil {
		return nil, err
	}
	started := time.Now()

	ctx, cancel := context.WithTimeout(ctx, r.opts.TurnTimeout)
	defer cancel()

	sess := r.session(input.SessionID)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.ch == nil {
		sess.ch = r.restoreOrNewChannels(ctx, input.SessionID)
	}
	ch := sess.ch
	r.loadProfile(ctx, turn, ch)

	state.Apply(ch, state.Delta{Messages: []state.Message{
		state.NewMessage(state.RoleUser, input.Message, time.Now()),
	}})

	mode := input.MemoryMode
	if mode == "" {
		mode = r.opts.DefaultMemoryMode
	}
	mem := r.memoryManager(mode)
	recallUsed := mem.PreTurn(ctx, ch)

	t := &turnRun{runner: r, turn: turn, ch: ch, mem: mem, recallUsed: recallUsed, step: maxTraceStep(ch)}
	t.transition(NodeStart, NodeRetrieval, "turn "+turn.TurnID)

	result := r.retrieval.Run(ctx, ch)
	// Recall may already have claimed the leading citation ids this turn;
	// renumber the retrieval snippets so every id stays unique.
	for i := range result.Snippets {
		result.Snippets[i].CitationID = fmt.Sprintf("CTX-%d", len(ch.RetrievedContext)+i+1)
	}
	ch.RetrievedContext = append(ch.RetrievedContext, result.Snippets...)
	r.cfg.Metrics.ObserveRetrieval(result.Metrics.LatencyMS, result.Metrics.ChunkCount)
	t.transition(NodeRetrieval, NodeDecision,
		fmt.Sprintf("has_knowledge=%t chunks=%d max_score=%.2f", ch.HasKnowledge(), len(ch.RetrievedContext), result.Metrics.MaxScore))

	answer := t.decisionLoop(ctx)

	mem.PostTurn(ctx, ch)
	snapshot := mem.Snapshot(ch, recallUsed)
	ch.ClearTurnScoped()

	checkpointID := r.writeCheckpoint(ctx, t, turn, ch)

	outcome := "ok"
	if t.forced {
		outcome = "forced_finalize"
	}
	r.cfg.Metrics.ObserveTurn(string(mode), outcome, time.Since(started))
	r.cfg.Metrics.ObserveDecisionLoops(t.decisions)
	r.LogInfo("turn finished",
		"session_id", turn.SessionID,
		"turn_id", turn.TurnID,
		"tools_used", len(t.invoked),
		"decisions", t.decisions,
		"forced", t.forced,
	)

	return &TurnOutput{
		Answer:         answer,
		ToolsUsed:      t.invoked,
		MemorySnapshot: snapshot,
		Trace:          append([]state.TraceEntry(nil), ch.Trace...),
		CheckpointID:   checkpointID,
	}, nil
}

// ListCheckpoints lists the stored checkpoints of a session.
func (r *Runner) ListCheckpoints(ctx context.Context, sessionID string) ([]core.CheckpointMeta, error) {
	if sessionID == "" {
		return nil, core.ErrInvalidSessionID
	}
	return r.cfg.Checkpoints.List(ctx, sessionID)
}

// RestoreCheckpoint loads a checkpoint and resets the session's in-process
// state to it. The restored channels are returned for inspection.
func (r *Runner) RestoreCheckpoint(ctx context.Context, sessionID, checkpointID string) (*state.Channels, error) {
	if sessionID == "" {
		return nil, core.ErrInvalidSessionID
	}
	cp, err := r.cfg.Checkpoints.Load(ctx, checkpointID)
	if err != nil {
		return nil, err
	}
	if cp.SessionID != sessionID {
		return nil, fmt.Errorf("%w: checkpoint %s does not belong to session %s", core.ErrCheckpointNotFound, checkpointID, sessionID)
	}
	restored := cp.State.Clone()
	sess := r.session(sessionID)
	sess.mu.Lock()
	sess.ch = restored
	sess.mu.Unlock()
	return restored.Clone(), nil
}

// session returns the registry entry for the session, creating it on first
// contact. The caller takes the entry's own lock before touching its channels.
func (r *Runner) session(sessionID string) *session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		s = &session{}
		r.sessions[sessionID] = s
	}
	return s
}

// restoreOrNewChannels seeds a session's channels from its latest checkpoint,
// falling back to fresh channels. Called under the session lock.
func (r *Runner) restoreOrNewChannels(ctx context.Context, sessionID string) *state.Channels {
	if cp, err := r.cfg.Checkpoints.Latest(ctx, sessionID); err == nil {
		ch := cp.State.Clone()
		ch.ClearTurnScoped()
		r.LogDebug("session restored from checkpoint", "session_id", sessionID, "checkpoint_id", cp.CheckpointID)
		return ch
	}
	return state.NewChannels()
}

// loadProfile reads stable user attributes once per session. Failures are
// logged; the turn proceeds without a profile.
func (r *Runner) loadProfile(ctx context.Context, turn core.Turn, ch *state.Channels) {
	if r.cfg.Profiles == nil || ch.Profile.Attributes != nil {
		return
	}
	attrs, err := r.cfg.Profiles.Load(ctx, turn.TenantID, turn.UserID)
	if err != nil {
		r.LogWarn("profile load failed", "error", err)
		return
	}
	ch.Profile.Attributes = attrs
	ch.Profile.Locale = attrs["locale"]
	ch.Profile.Timezone = attrs["timezone"]
}

func (r *Runner) memoryManager(mode memory.Mode) *memory.Manager {
	fns := []func(o *memory.Options){func(o *memory.Options) {
		o.Mode = mode
		o.Logger = r.opts.Logger
	}}
	if r.opts.Memory != nil {
		// Mode and logger win over user tuning.
		fns = append([]func(o *memory.Options){r.opts.Memory}, fns...)
	}
	return memory.NewManager(r.cfg.Model, r.cfg.RecallIndex, r.cfg.Counter, fns...)
}

func (r *Runner) writeCheckpoint(ctx context.Context, t *turnRun, turn core.Turn, ch *state.Channels) string {
	cp := core.NewCheckpoint(turn, ch)
	if err := r.cfg.Checkpoints.Save(ctx, cp); err != nil {
		r.LogError("checkpoint write failed, returning answer anyway",
			"error", fmt.Errorf("%w: %v", core.ErrCheckpointWriteFailed, err))
		r.cfg.Metrics.ObserveCheckpointWrite(false)
		t.trace("checkpoint", "write failed: "+err.Error())
		return ""
	}
	r.cfg.Metrics.ObserveCheckpointWrite(true)
	return cp.CheckpointID
}

// turnRun is the mutable bookkeeping of one RunTurn invocation.
type turnRun struct {
	runner     *Runner
	turn       core.Turn
	ch         *state.Channels
	mem        *memory.Manager
	recallUsed bool

	step      int
	decisions int
	invoked   []string
	outcomes  []state.ToolOutcome
	forced    bool
}

// maxTraceStep resumes the step counter of a session so entries from
// different turns never collide in the trace reducer.
func maxTraceStep(ch *state.Channels) int {
	max := 0
	for _, e := range ch.Trace {
		if e.Step > max {
			max = e.Step
		}
	}
	return max
}

// transition moves along one graph edge, appending exactly one trace entry.
func (t *turnRun) transition(from, to NodeKind, detail string) {
	if !validTransition(from, to) {
		t.runner.LogError("illegal graph transition", "from", string(from), "to", string(to))
	}
	t.step++
	state.Apply(t.ch, state.Delta{Trace: []state.TraceEntry{{
		Step:      t.step,
		Action:    edgeLabel(from, to),
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	}}})
}

// trace appends a non-edge trace entry (tool results, checkpoint status).
func (t *turnRun) trace(action, detail string) {
	t.step++
	state.Apply(t.ch, state.Delta{Trace: []state.TraceEntry{{
		Step:      t.step,
		Action:    action,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	}}})
}

// decisionLoop runs Decision -> (tools -> Decision)* until a terminal
// decision, the iteration cap or the turn deadline, then finalizes.
func (t *turnRun) decisionLoop(ctx context.Context) string {
	r := t.runner
	for iteration := 0; ; iteration++ {
		if ctx.Err() != nil {
			t.forced = true
			t.transition(NodeDecision, NodeFinalize, "turn deadline exceeded")
			return t.finalize(ctx, "the turn ran out of time")
		}

		outcome := r.decision.Decide(ctx, t.ch, t.invoked)
		t.decisions++

		if outcome.Decision.IsTerminal() {
			detail := "answer"
			switch {
			case outcome.Gated:
				detail = "answer (knowledge gated tool call)"
			case outcome.Recovered:
				detail = "answer (malformed decision recovered)"
			}
			t.transition(NodeDecision, NodeFinalize, detail)
			return t.finalize(ctx, "")
		}

		if iteration >= r.opts.MaxIterations {
			t.forced = true
			t.trace("iteration_limit", core.ErrIterationLimit.Error())
			t.transition(NodeDecision, NodeFinalize, "iteration cap reached")
			return t.finalize(ctx, "the tool budget for this turn was exhausted")
		}

		switch outcome.Decision.Action {
		case core.ActionCallTool:
			call := outcome.Decision.ToolCalls[0]
			t.transition(NodeDecision, NodeToolExec, call.Name)
			result := r.executor.Invoke(ctx, t.turn.SessionID, t.ch, call)
			state.Apply(t.ch, state.Delta{Outcomes: []state.ToolOutcome{result}})
			t.foldOutcomes()
			t.transition(NodeToolExec, NodeDecision, fmt.Sprintf("%s success=%t", call.Name, result.Success))
		case core.ActionCallToolsParallel:
			names := make([]string, len(outcome.Decision.ToolCalls))
			for i, call := range outcome.Decision.ToolCalls {
				names[i] = call.Name
			}
			t.transition(NodeDecision, NodeParallel, strings.Join(names, ","))
			result := r.dispatcher.Dispatch(ctx, t.turn.SessionID, t.ch, outcome.Decision.ToolCalls)
			state.Apply(t.ch, result.Delta)
			t.foldOutcomes()
			t.transition(NodeParallel, NodeDecision, fmt.Sprintf("succeeded=%d failed=%d", result.Succeeded, result.Failed))
		}
	}
}

// foldOutcomes moves the transient parallel_results channel into the trace,
// the message history and the turn bookkeeping.
func (t *turnRun) foldOutcomes() {
	for _, o := range t.ch.ParallelResults {
		t.outcomes = append(t.outcomes, o)
		t.invoked = append(t.invoked, o.ToolName)
		t.runner.cfg.Metrics.ObserveToolCall(o.ToolName, o.Success)

		detail := o.Error
		payload := ""
		if o.Success {
			data, err := json.Marshal(o.Result)
			if err != nil {
				data = []byte(fmt.Sprintf("%v", o.Result))
			}
			payload = string(data)
			detail = payload
		}
		t.trace("tool_result", fmt.Sprintf("%s success=%t elapsed_ms=%d: %s", o.ToolName, o.Success, o.ElapsedMS, detail))

		content := fmt.Sprintf("%s failed: %s", o.ToolName, o.Error)
		if o.Success {
			content = fmt.Sprintf("%s returned: %s", o.ToolName, payload)
		}
		state.Apply(t.ch, state.Delta{Messages: []state.Message{
			state.NewMessage(state.RoleTool, content, time.Now()),
		}})
	}
	t.ch.ClearTransient()
}

// finalize composes the user-facing answer. degradedNote names the condition
// that cut the loop short, empty for a normal terminal decision. The answer
// must cite its supporting context and acknowledge failed tools; if the model
// itself is unavailable the fallback is assembled from the channels.
func (t *turnRun) finalize(ctx context.Context, degradedNote string) string {
	r := t.runner

	var failures []string
	for _, o := range t.outcomes {
		if !o.Success {
			failures = append(failures, o.ToolName)
		}
	}

	var sb strings.Builder
	if len(t.ch.RetrievedContext) > 0 {
		sb.WriteString("Supporting context (cite by id):\n")
		for _, snip := range t.ch.RetrievedContext {
			fmt.Fprintf(&sb, "[%s] %s\n", snip.CitationID, snip.Text)
		}
		sb.WriteString("\n")
	}
	if len(t.outcomes) > 0 {
		sb.WriteString("Tool results:\n")
		for _, o := range t.outcomes {
			if o.Success {
				data, _ := json.Marshal(o.Result)
				fmt.Fprintf(&sb, "- %s: %s\n", o.ToolName, data)
			} else {
				fmt.Fprintf(&sb, "- %s FAILED: %s\n", o.ToolName, o.Error)
			}
		}
		sb.WriteString("\n")
	}
	if degradedNote != "" {
		fmt.Fprintf(&sb, "Note: %s.\n\n", degradedNote)
	}
	if last, ok := t.ch.LastUserMessage(); ok {
		fmt.Fprintf(&sb, "Question: %s", last.Content)
	}

	system := "Write the final answer for the user. Ground every claim in the supporting context and cite its id " +
		"(for example [CTX-1]) or in a successful tool result. If a tool failed and that limits the answer, say so " +
		"briefly. If the available information is insufficient, state that explicitly instead of guessing."

	resp, err := r.cfg.Model.Complete(ctx, model.Request{
		System:   system,
		Messages: []model.ChatMessage{{Role: "user", Content: sb.String()}},
	})
	answer := strings.TrimSpace(resp.Text)
	if err != nil || answer == "" {
		r.LogWarn("finalization model call failed, using fallback answer", "error", err)
		answer = t.fallbackAnswer(degradedNote)
	}

	if len(failures) > 0 && !mentionsAny(answer, failures) {
		answer += fmt.Sprintf(" (Note: %s did not return a result, so parts of this answer may be incomplete.)",
			strings.Join(failures, ", "))
	}

	state.Apply(t.ch, state.Delta{Messages: []state.Message{
		state.NewMessage(state.RoleAssistant, answer, time.Now()),
	}})
	return answer
}

// fallbackAnswer builds a best-effort answer straight from the channels when
// the model cannot.
func (t *turnRun) fallbackAnswer(degradedNote string) string {
	var sb strings.Builder
	switch {
	case len(t.ch.RetrievedContext) > 0:
		top := t.ch.RetrievedContext[0]
		fmt.Fprintf(&sb, "Based on the available context [%s]: %s", top.CitationID, top.Text)
	case hasSuccessfulOutcome(t.outcomes):
		sb.WriteString("Tool results for this turn:")
		for _, o := range t.outcomes {
			if o.Success {
				data, _ := json.Marshal(o.Result)
				fmt.Fprintf(&sb, " %s: %s.", o.ToolName, data)
			}
		}
	default:
		sb.WriteString("I don't have enough information to answer this reliably.")
	}
	if degradedNote != "" {
		fmt.Fprintf(&sb, " (%s.)", degradedNote)
	}
	return sb.String()
}

func hasSuccessfulOutcome(outcomes []state.ToolOutcome) bool {
	for _, o := range outcomes {
		if o.Success {
			return true
		}
	}
	return false
}

func mentionsAny(text string, names []string) bool {
	lowered := strings.ToLower(text)
	for _, name := range names {
		if strings.Contains(lowered, strings.ToLower(name)) {
			return true
		}
	}
	return false
}
