package flow

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/model"
	"github.com/hupe1980/agentgraph/state"
	"github.com/hupe1980/agentgraph/token"
	"github.com/hupe1980/agentgraph/tool"
)

func decisionChannels(question string, snippets ...state.Snippet) *state.Channels {
	ch := state.NewChannels()
	state.Apply(ch, state.Delta{Messages: []state.Message{
		state.NewMessage(state.RoleUser, question, time.Now()),
	}})
	ch.RetrievedContext = snippets
	return ch
}

func TestDecisionStage_ParsesAnswer(t *testing.T) {
	llm := model.NewMockModel("decider")
	llm.Enqueue(`{"action": "answer", "reasoning": "context covers the question"}`)
	stage := NewDecisionStage(llm, tool.NewRegistry(), token.Heuristic())

	outcome := stage.Decide(context.Background(), decisionChannels("hi"), nil)

	assert.Equal(t, core.ActionAnswer, outcome.Decision.Action)
	assert.False(t, outcome.Recovered)
	assert.False(t, outcome.Gated)
}

func TestDecisionStage_ParsesParallelToolCalls(t *testing.T) {
	llm := model.NewMockModel("decider")
	llm.Enqueue(`{"action": "call_tools_parallel", "tool_calls": [
		{"name": "price", "arguments": {"symbol": "AAPL"}},
		{"name": "price", "arguments": {"symbol": "TSLA"}}
	], "reasoning": "need real-time prices"}`)
	stage := NewDecisionStage(llm, tool.NewRegistry(), token.Heuristic())

	outcome := stage.Decide(context.Background(), decisionChannels("compare AAPL and TSLA"), nil)

	require.Equal(t, core.ActionCallToolsParallel, outcome.Decision.Action)
	require.Len(t, outcome.Decision.ToolCalls, 2)
	assert.Equal(t, "AAPL", outcome.Decision.ToolCalls[0].Arguments["symbol"])
}

func TestDecisionStage_ReAskRecoversOnce(t *testing.T) {
	llm := model.NewMockModel("decider")
	llm.Enqueue("sure, here is my plan in prose", `{"action": "answer", "reasoning": "ok"}`)
	stage := NewDecisionStage(llm, tool.NewRegistry(), token.Heuristic())

	outcome := stage.Decide(context.Background(), decisionChannels("hi"), nil)

	assert.Equal(t, core.ActionAnswer, outcome.Decision.Action)
	assert.False(t, outcome.Recovered)
	assert.Len(t, llm.Requests(), 2)
}

func TestDecisionStage_MalformedTwiceDefaultsToAnswer(t *testing.T) {
	llm := model.NewMockModel("decider")
	llm.Enqueue("not json", `{"action": "fly_to_the_moon"}`)
	stage := NewDecisionStage(llm, tool.NewRegistry(), token.Heuristic())

	outcome := stage.Decide(context.Background(), decisionChannels("hi"), nil)

	assert.Equal(t, core.ActionAnswer, outcome.Decision.Action)
	assert.True(t, outcome.Recovered)
	assert.Len(t, llm.Requests(), 2)
}

func TestDecisionStage_KnowledgeGatesToolCall(t *testing.T) {
	llm := model.NewMockModel("decider")
	llm.Enqueue(`{"action": "call_tool", "tool_calls": [{"name": "web_search", "arguments": {}}], "reasoning": "could double check"}`)
	stage := NewDecisionStage(llm, tool.NewRegistry(), token.Heuristic())

	ch := decisionChannels("What is the capital of France?", state.Snippet{
		Text: "Paris is the capital of France.", SourceLabel: "geo.md", Score: 0.92, CitationID: "CTX-1",
	})
	outcome := stage.Decide(context.Background(), ch, nil)

	assert.True(t, outcome.Gated)
	assert.Equal(t, core.ActionAnswer, outcome.Decision.Action)
}

func TestDecisionStage_InsufficiencyClaimAllowsTools(t *testing.T) {
	llm := model.NewMockModel("decider")
	llm.Enqueue(`{"action": "call_tool", "tool_calls": [{"name": "price", "arguments": {"symbol": "AAPL"}}], "reasoning": "context has no real-time price data"}`)
	stage := NewDecisionStage(llm, tool.NewRegistry(), token.Heuristic())

	ch := decisionChannels("What does AAPL trade at?", state.Snippet{
		Text: "Apple Inc. is a technology company.", Score: 0.9, CitationID: "CTX-1",
	})
	outcome := stage.Decide(context.Background(), ch, nil)

	assert.False(t, outcome.Gated)
	assert.Equal(t, core.ActionCallTool, outcome.Decision.Action)
}

func TestDecisionStage_WeakContextAllowsTools(t *testing.T) {
	llm := model.NewMockModel("decider")
	llm.Enqueue(`{"action": "call_tool", "tool_calls": [{"name": "web_search", "arguments": {}}], "reasoning": "worth checking"}`)
	stage := NewDecisionStage(llm, tool.NewRegistry(), token.Heuristic(), func(o *DecisionOptions) {
		o.MinKnowledgeScore = 0.5
		o.MinContextTokens = 100
	})

	ch := decisionChannels("anything", state.Snippet{Text: "barely related", Score: 0.1, CitationID: "CTX-1"})
	outcome := stage.Decide(context.Background(), ch, nil)

	assert.False(t, outcome.Gated)
	assert.Equal(t, core.ActionCallTool, outcome.Decision.Action)
}

func TestDecisionStage_PromptPlacesContextFirst(t *testing.T) {
	llm := model.NewMockModel("decider")
	llm.Enqueue(`{"action": "answer"}`)
	stage := NewDecisionStage(llm, tool.NewRegistry(), token.Heuristic())

	ch := decisionChannels("q", state.Snippet{Text: "ctx text", Score: 0.8, CitationID: "CTX-1"})
	ch.Summary = state.Summary{Text: "earlier talk", Version: 2}
	stage.Decide(context.Background(), ch, []string{"price"})

	reqs := llm.Requests()
	require.Len(t, reqs, 1)
	prompt := reqs[0].Messages[0].Content
	assert.True(t, reqs[0].ForceJSON)
	assert.Contains(t, prompt, "[CTX-1]")
	assert.Contains(t, prompt, "earlier talk")
	assert.Contains(t, prompt, "price")
	assert.Less(t, strings.Index(prompt, "ctx text"), strings.Index(prompt, "earlier talk"))
}

func TestParseDecision_StripsCodeFences(t *testing.T) {
	d, err := ParseDecision("```json\n{\"action\": \"answer\", \"reasoning\": \"done\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, core.ActionAnswer, d.Action)
}

func TestParseDecision_RejectsBadShapes(t *testing.T) {
	_, err := ParseDecision("no object here")
	assert.ErrorIs(t, err, core.ErrDecisionMalformed)

	_, err = ParseDecision(`{"action": "call_tool", "tool_calls": []}`)
	assert.ErrorIs(t, err, core.ErrDecisionMalformed)

	_, err = ParseDecision(`{"action": "call_tools_parallel", "tool_calls": [{"name": ""}]}`)
	assert.ErrorIs(t, err, core.ErrDecisionMalformed)
}
