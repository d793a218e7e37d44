package memory

import (
	"context"

	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/internal/retryx"
	"github.com/hupe1980/agentgraph/logging"
	"github.com/hupe1980/agentgraph/model"
	"github.com/hupe1980/agentgraph/state"
	"github.com/hupe1980/agentgraph/token"
)

// Mode selects the memory strategy for a request.
type Mode string

// Memory strategies.
const (
	ModeRolling Mode = "rolling_window"
	ModeSummary Mode = "summary_buffer"
	ModeFacts   Mode = "facts"
	ModeHybrid  Mode = "hybrid"
)

// Snapshot is the comparable per-turn record every strategy produces.
type Snapshot struct {
	Mode                  Mode `json:"mode"`
	MessagesKeptCount     int  `json:"messages_kept_count"`
	SummaryVersion        int  `json:"summary_version"`
	SummaryLength         int  `json:"summary_length"`
	FactsCount            int  `json:"facts_count"`
	RAGRecallUsed         bool `json:"rag_recall_used"`
	RetrievedContextCount int  `json:"retrieved_context_count"`
}

// Options configures the memory manager.
type Options struct {
	// Mode is the active strategy.
	Mode Mode
	// WindowPairs is K for the rolling window: the last K user/assistant
	// pairs survive trimming.
	WindowPairs int
	// TokenBudget additionally bounds the rolling window; 0 disables it.
	TokenBudget int
	// SummaryThreshold is the non-system message count that triggers a
	// summary fold.
	SummaryThreshold int
	// SummaryKeep is the number of trailing messages kept verbatim after a
	// fold.
	SummaryKeep int
	// FactsKeep is the aggressive trailing window kept in facts mode, where
	// the extracted facts are the durable record.
	FactsKeep int
	// RecallTopK is the candidate count for hybrid on-demand recall.
	RecallTopK int
	// PersistRecall feeds recall snippets into the next summary fold instead
	// of discarding them with the turn. Off by default: recall results are
	// current-turn-only.
	PersistRecall bool
	// Retry bounds transient model retries.
	Retry retryx.Policy
	// Logger is the logger used by the manager.
	Logger logging.Logger
}

// Manager runs the selected strategy around each turn: PreTurn may pull
// recall context in before the decision loop, PostTurn compacts the channels
// afterwards. Model failures degrade to keeping messages as they are; memory
// maintenance never fails a turn.
type Manager struct {
	llm         model.Model
	recallIndex core.KnowledgeRetriever
	counter     token.Counter
	opts        Options
	*core.LoggerAdapter
}

// NewManager creates a memory manager. recallIndex is the conversation-memory
// index used by hybrid recall; nil disables recall. A nil llm disables the
// summary and facts strategies' model calls.
func NewManager(llm model.Model, recallIndex core.KnowledgeRetriever, counter token.Counter, optFns ...func(o *Options)) *Manager {
	opts := Options{
		Mode:             ModeRolling,
		WindowPairs:      10,
		SummaryThreshold: 12,
		SummaryKeep:      6,
		FactsKeep:        4,
		RecallTopK:       4,
		Retry:            retryx.DefaultPolicy(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if counter == nil {
		counter = token.Heuristic()
	}
	return &Manager{
		llm:           llm,
		recallIndex:   recallIndex,
		counter:       counter,
		opts:          opts,
		LoggerAdapter: core.NewLoggerAdapter(opts.Logger),
	}
}

// Mode returns the active strategy.
func (m *Manager) Mode() Mode { return m.opts.Mode }

// PreTurn runs strategy work that must happen before the decision loop sees
// the channels. It reports whether on-demand recall populated the retrieved
// context.
func (m *Manager) PreTurn(ctx context.Context, ch *state.Channels) bool {
	if m.opts.Mode != ModeHybrid {
		return false
	}
	return m.recall(ctx, ch)
}

// PostTurn compacts the channels after the answer was produced.
func (m *Manager) PostTurn(ctx context.Context, ch *state.Channels) {
	switch m.opts.Mode {
	case ModeRolling:
		m.trimWindow(ch)
	case ModeSummary:
		m.summarize(ctx, ch)
	case ModeFacts:
		m.extractFacts(ctx, ch)
		m.trimTo(ch, m.opts.FactsKeep)
	case ModeHybrid:
		m.summarize(ctx, ch)
		m.extractFacts(ctx, ch)
	}
}

// Snapshot reports the post-turn memory shape. recallUsed is the PreTurn
// return value for this turn.
func (m *Manager) Snapshot(ch *state.Channels, recallUsed bool) Snapshot {
	return Snapshot{
		Mode:                  m.opts.Mode,
		MessagesKeptCount:     len(ch.Messages),
		SummaryVersion:        ch.Summary.Version,
		SummaryLength:         len(ch.Summary.Text),
		FactsCount:            len(ch.Facts),
		RAGRecallUsed:         recallUsed,
		RetrievedContextCount: len(ch.RetrievedContext),
	}
}

// trimWindow applies the rolling-window strategy: last K pairs, then the
// optional token budget.
func (m *Manager) trimWindow(ch *state.Channels) {
	ch.Messages = TrimToPairs(ch.Messages, m.opts.WindowPairs)
	if m.opts.TokenBudget > 0 {
		ch.Messages = TrimByBudget(ch.Messages, m.opts.TokenBudget, true, m.counter)
	}
}

// trimTo keeps the trailing keep non-system messages plus all system ones.
func (m *Manager) trimTo(ch *state.Channels, keep int) {
	var system, rest []state.Message
	for _, msg := range ch.Messages {
		if msg.Role == state.RoleSystem {
			system = append(system, msg)
		} else {
			rest = append(rest, msg)
		}
	}
	if len(rest) > keep {
		rest = rest[len(rest)-keep:]
	}
	ch.Messages = append(system, rest...)
}
