package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/internal/retryx"
	"github.com/hupe1980/agentgraph/logging"
	"github.com/hupe1980/agentgraph/model"
	"github.com/hupe1980/agentgraph/state"
	"github.com/hupe1980/agentgraph/token"
	"github.com/hupe1980/agentgraph/tool"
)

// DecisionOptions configures the decision stage.
type DecisionOptions struct {
	// RecentWindow is the number of trailing messages included in the prompt.
	RecentWindow int
	// MinKnowledgeScore is the top snippet score above which retrieved
	// context counts as sufficient for the knowledge-over-tools tie-break.
	MinKnowledgeScore float64
	// MinContextTokens is the alternative sufficiency bar on total context
	// size, for retrievers that do not produce calibrated scores.
	MinContextTokens int
	// Retry bounds transient model retries.
	Retry retryx.Policy
	// Logger is the logger used by the stage.
	Logger logging.Logger
}

// DecisionOutcome carries the validated decision plus how it was obtained.
// Recovered marks a malformed model output that was defaulted to answer;
// Gated marks a tool-call preference overridden because retrieved knowledge
// already covers the question.
type DecisionOutcome struct {
	Decision  core.Decision
	Gated     bool
	Recovered bool
}

// DecisionStage asks the model for the next action as a structured Decision.
// Malformed output gets exactly one corrective re-ask, then defaults to
// answer; the stage never fails the turn.
type DecisionStage struct {
	llm      model.Model
	registry *tool.Registry
	counter  token.Counter
	opts     DecisionOptions
	*core.LoggerAdapter
}

// NewDecisionStage creates a decision stage.
func NewDecisionStage(llm model.Model, registry *tool.Registry, counter token.Counter, optFns ...func(o *DecisionOptions)) *DecisionStage {
	opts := DecisionOptions{
		RecentWindow:      12,
		MinKnowledgeScore: 0.35,
		MinContextTokens:  40,
		Retry:             retryx.DefaultPolicy(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if counter == nil {
		counter = token.Heuristic()
	}
	return &DecisionStage{
		llm:           llm,
		registry:      registry,
		counter:       counter,
		opts:          opts,
		LoggerAdapter: core.NewLoggerAdapter(opts.Logger),
	}
}

// Decide produces the next action for the turn. invoked lists tools already
// run this turn so the model is discouraged from repeating them.
func (s *DecisionStage) Decide(ctx context.Context, ch *state.Channels, invoked []string) DecisionOutcome {
	system := s.systemPrompt()
	messages := []model.ChatMessage{{Role: "user", Content: s.buildPrompt(ch, invoked)}}

	decision, err := s.complete(ctx, system, messages)
	if err != nil {
		// One corrective re-ask, then give up and answer.
		messages = append(messages,
			model.ChatMessage{Role: "assistant", Content: "(invalid response)"},
			model.ChatMessage{Role: "user", Content: "Your previous reply was not a valid decision object. " +
				"Respond with exactly one JSON object matching the schema, no prose, no code fences."},
		)
		decision, err = s.complete(ctx, system, messages)
	}
	if err != nil {
		s.LogWarn("decision malformed, defaulting to answer", "error", fmt.Errorf("%w: %v", core.ErrDecisionMalformed, err))
		return DecisionOutcome{
			Decision:  core.Decision{Action: core.ActionAnswer, Reasoning: "decision output malformed, answering with available information"},
			Recovered: true,
		}
	}

	if !decision.IsTerminal() && s.knowledgeSuffices(ch, decision.Reasoning) {
		s.LogDebug("gating tool call in favor of retrieved knowledge", "requested_action", string(decision.Action))
		return DecisionOutcome{
			Decision: core.Decision{Action: core.ActionAnswer, Reasoning: decision.Reasoning},
			Gated:    true,
		}
	}
	return DecisionOutcome{Decision: decision}
}

// complete runs one model call and parses the reply into a valid Decision.
func (s *DecisionStage) complete(ctx context.Context, system string, messages []model.ChatMessage) (core.Decision, error) {
	var resp model.Response
	err := retryx.Do(ctx, s.opts.Retry, func() error {
		var callErr error
		resp, callErr = s.llm.Complete(ctx, model.Request{
			System:    system,
			Messages:  messages,
			ForceJSON: true,
		})
		return callErr
	})
	if err != nil {
		return core.Decision{}, err
	}
	return ParseDecision(resp.Text)
}

// ParseDecision extracts and validates a Decision from raw model output.
// Code fences and surrounding prose are tolerated; the first top-level JSON
// object is used.
func ParseDecision(text string) (core.Decision, error) {
	raw := strings.TrimSpace(text)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return core.Decision{}, fmt.Errorf("%w: no JSON object in output", core.ErrDecisionMalformed)
	}

	var d core.Decision
	if err := json.Unmarshal([]byte(raw[start:end+1]), &d); err != nil {
		return core.Decision{}, fmt.Errorf("%w: %v", core.ErrDecisionMalformed, err)
	}
	if err := d.Validate(); err != nil {
		return core.Decision{}, err
	}
	return d, nil
}

// knowledgeSuffices implements the tie-break between retrieved knowledge and
// tool calls: prefer answering when context exists, the model's reasoning
// does not claim insufficiency, and the context clears either the score or
// the size bar.
func (s *DecisionStage) knowledgeSuffices(ch *state.Channels, reasoning string) bool {
	if !ch.HasKnowledge() || claimsInsufficiency(reasoning) {
		return false
	}
	maxScore := 0.0
	contextTokens := 0
	for _, snip := range ch.RetrievedContext {
		if snip.Score > maxScore {
			maxScore = snip.Score
		}
		contextTokens += s.counter.Count(snip.Text)
	}
	return maxScore >= s.opts.MinKnowledgeScore || contextTokens >= s.opts.MinContextTokens
}

var insufficiencyMarkers = []string{
	"insufficient", "not enough", "no information", "does not contain",
	"doesn't contain", "missing", "cannot determine", "can't determine",
	"need more", "real-time", "up-to-date", "current data", "live data",
	"outdated",
}

func claimsInsufficiency(reasoning string) bool {
	lowered := strings.ToLower(reasoning)
	for _, marker := range insufficiencyMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

func (s *DecisionStage) systemPrompt() string {
	var sb strings.Builder
	sb.WriteString("You are the decision module of an assistant. Choose the next action for the current turn.\n\n")
	sb.WriteString("Respond with a single JSON object:\n")
	sb.WriteString(`{"action": "answer" | "call_tool" | "call_tools_parallel", "tool_calls": [{"name": "...", "arguments": {...}}], "reasoning": "..."}` + "\n\n")
	sb.WriteString("Rules:\n")
	sb.WriteString("- \"call_tool\" takes exactly one tool call; \"call_tools_parallel\" takes two or more independent ones.\n")
	sb.WriteString("- Prefer \"answer\" when the retrieved context already covers the question.\n")
	sb.WriteString("- Do not repeat a tool that was already invoked this turn.\n")

	if s.registry != nil {
		defs := s.registry.Definitions()
		if len(defs) > 0 {
			sb.WriteString("\nAvailable tools:\n")
			for _, def := range defs {
				schema, _ := json.Marshal(def.Parameters)
				fmt.Fprintf(&sb, "- %s: %s %s\n", def.Name, def.Description, schema)
			}
		}
	}
	return sb.String()
}

// buildPrompt assembles the decision input with retrieved context at the
// highest priority position.
func (s *DecisionStage) buildPrompt(ch *state.Channels, invoked []string) string {
	var sb strings.Builder

	if len(ch.RetrievedContext) > 0 {
		sb.WriteString("Retrieved context (highest priority, cite by id):\n")
		for _, snip := range ch.RetrievedContext {
			fmt.Fprintf(&sb, "[%s] (%s, score %.2f) %s\n", snip.CitationID, snip.SourceLabel, snip.Score, snip.Text)
		}
		sb.WriteString("\n")
	} else {
		sb.WriteString("Retrieved context: none.\n\n")
	}

	if ch.Summary.Text != "" {
		fmt.Fprintf(&sb, "Conversation summary (v%d): %s\n\n", ch.Summary.Version, ch.Summary.Text)
	}
	if len(ch.Facts) > 0 {
		sb.WriteString("Known facts:\n")
		for _, key := range sortedFactKeys(ch.Facts) {
			f := ch.Facts[key]
			fmt.Fprintf(&sb, "- %s: %s (confidence %.2f)\n", f.Key, f.Value, f.Confidence)
		}
		sb.WriteString("\n")
	}
	if len(invoked) > 0 {
		fmt.Fprintf(&sb, "Tools already invoked this turn: %s\n\n", strings.Join(invoked, ", "))
	}

	sb.WriteString("Recent conversation:\n")
	for _, m := range ch.RecentMessages(s.opts.RecentWindow) {
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
	}

	sb.WriteString("\nDecide the next action and respond with the JSON object only.")
	return sb.String()
}

func sortedFactKeys(facts map[string]state.Fact) []string {
	keys := make([]string, 0, len(facts))
	for k := range facts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
