package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentgraph/model"
	"github.com/hupe1980/agentgraph/state"
	"github.com/hupe1980/agentgraph/token"
)

func addPair(ch *state.Channels, i int, ts time.Time) {
	state.Apply(ch, state.Delta{Messages: []state.Message{
		state.NewMessage(state.RoleUser, fmt.Sprintf("question %d", i), ts),
		state.NewMessage(state.RoleAssistant, fmt.Sprintf("answer %d", i), ts.Add(time.Second)),
	}})
}

func TestManager_RollingWindowStabilizes(t *testing.T) {
	mgr := NewManager(nil, nil, token.Heuristic(), func(o *Options) {
		o.Mode = ModeRolling
		o.WindowPairs = 10
	})

	ch := state.NewChannels()
	state.Apply(ch, state.Delta{Messages: []state.Message{
		state.NewMessage(state.RoleSystem, "You are a helpful assistant.", time.Now()),
	}})

	base := time.Now()
	for i := 0; i < 25; i++ {
		addPair(ch, i, base.Add(time.Duration(i)*time.Minute))
		mgr.PostTurn(context.Background(), ch)
	}

	// 10 pairs plus the system message.
	assert.LessOrEqual(t, len(ch.Messages), 21)
	assert.Equal(t, state.RoleSystem, ch.Messages[0].Role)
	last := ch.Messages[len(ch.Messages)-1]
	assert.Equal(t, "answer 24", last.Content)
}

func TestTrimByBudget_KeepsSystemMessages(t *testing.T) {
	base := time.Now()
	messages := []state.Message{
		state.NewMessage(state.RoleSystem, "system prompt", base),
		state.NewMessage(state.RoleUser, "a fairly long old question that costs tokens", base.Add(time.Minute)),
		state.NewMessage(state.RoleAssistant, "a fairly long old answer that costs tokens", base.Add(2*time.Minute)),
		state.NewMessage(state.RoleUser, "newest question", base.Add(3*time.Minute)),
	}

	trimmed := TrimByBudget(messages, 10, true, token.Heuristic())

	require.NotEmpty(t, trimmed)
	assert.Equal(t, state.RoleSystem, trimmed[0].Role)
	assert.Equal(t, "newest question", trimmed[len(trimmed)-1].Content)
	for _, m := range trimmed {
		assert.NotContains(t, m.Content, "old")
	}
}

func TestTrimByBudget_AlwaysKeepsNewest(t *testing.T) {
	messages := []state.Message{
		state.NewMessage(state.RoleUser, "this single message is far larger than the whole budget allows", time.Now()),
	}

	trimmed := TrimByBudget(messages, 2, true, token.Heuristic())

	require.Len(t, trimmed, 1)
}

func TestManager_SummaryFold(t *testing.T) {
	llm := model.NewMockModel("summarizer")
	llm.Enqueue("User is planning a trip to Lisbon and prefers trains.")
	mgr := NewManager(llm, nil, token.Heuristic(), func(o *Options) {
		o.Mode = ModeSummary
		o.SummaryThreshold = 6
		o.SummaryKeep = 4
	})

	ch := state.NewChannels()
	base := time.Now()
	for i := 0; i < 5; i++ {
		addPair(ch, i, base.Add(time.Duration(i)*time.Minute))
	}
	mgr.PostTurn(context.Background(), ch)

	assert.Equal(t, 1, ch.Summary.Version)
	assert.Contains(t, ch.Summary.Text, "Lisbon")
	assert.Len(t, ch.Messages, 4)
	assert.Equal(t, "answer 4", ch.Messages[len(ch.Messages)-1].Content)

	reqs := llm.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Messages[0].Content, "question 0")
}

func TestManager_SummaryFoldFailureKeepsMessages(t *testing.T) {
	llm := model.NewMockModel("summarizer")
	llm.Enqueue("") // empty fold result is discarded
	mgr := NewManager(llm, nil, token.Heuristic(), func(o *Options) {
		o.Mode = ModeSummary
		o.SummaryThreshold = 2
		o.SummaryKeep = 2
	})

	ch := state.NewChannels()
	base := time.Now()
	for i := 0; i < 3; i++ {
		addPair(ch, i, base.Add(time.Duration(i)*time.Minute))
	}
	before := len(ch.Messages)
	mgr.PostTurn(context.Background(), ch)

	assert.Equal(t, 0, ch.Summary.Version)
	assert.Len(t, ch.Messages, before)
}

func TestManager_FactsExtraction(t *testing.T) {
	llm := model.NewMockModel("extractor")
	llm.Enqueue(`[{"key": "preferred_language", "value": "hu", "confidence": 0.9},
		{"key": "home_city", "value": "Budapest", "confidence": 0.8}]`)
	mgr := NewManager(llm, nil, token.Heuristic(), func(o *Options) {
		o.Mode = ModeFacts
		o.FactsKeep = 4
	})

	ch := state.NewChannels()
	base := time.Now()
	for i := 0; i < 6; i++ {
		addPair(ch, i, base.Add(time.Duration(i)*time.Minute))
	}
	mgr.PostTurn(context.Background(), ch)

	require.Len(t, ch.Facts, 2)
	assert.Equal(t, "hu", ch.Facts["preferred_language"].Value)
	assert.Equal(t, "conversation", ch.Facts["preferred_language"].Source)
	// Aggressive trim: facts are the durable record.
	assert.Len(t, ch.Messages, 4)
}

func TestManager_HybridRunsSummaryAndFacts(t *testing.T) {
	llm := model.NewMockModel("hybrid")
	llm.Enqueue(
		"Summary of the long conversation.",
		`[{"key": "topic", "value": "travel", "confidence": 0.7}]`,
	)
	mgr := NewManager(llm, nil, token.Heuristic(), func(o *Options) {
		o.Mode = ModeHybrid
		o.SummaryThreshold = 4
		o.SummaryKeep = 2
	})

	ch := state.NewChannels()
	base := time.Now()
	for i := 0; i < 4; i++ {
		addPair(ch, i, base.Add(time.Duration(i)*time.Minute))
	}
	mgr.PostTurn(context.Background(), ch)

	assert.Equal(t, 1, ch.Summary.Version)
	assert.Len(t, ch.Facts, 1)

	snap := mgr.Snapshot(ch, false)
	assert.Equal(t, ModeHybrid, snap.Mode)
	assert.Equal(t, 1, snap.SummaryVersion)
	assert.Equal(t, 1, snap.FactsCount)
	assert.Equal(t, len(ch.Messages), snap.MessagesKeptCount)
}
