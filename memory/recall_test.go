package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/state"
	"github.com/hupe1980/agentgraph/token"
)

type stubIndex struct {
	mu      sync.Mutex
	chunks  []core.RetrievedChunk
	queries []string
}

func (s *stubIndex) Search(_ context.Context, query string, _ int) ([]core.RetrievedChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, query)
	return s.chunks, nil
}

func hybridManager(index core.KnowledgeRetriever) *Manager {
	return NewManager(nil, index, token.Heuristic(), func(o *Options) {
		o.Mode = ModeHybrid
	})
}

func ask(ch *state.Channels, question string) {
	state.Apply(ch, state.Delta{Messages: []state.Message{
		state.NewMessage(state.RoleUser, question, time.Now()),
	}})
}

func TestManager_RecallOnBackReference(t *testing.T) {
	index := &stubIndex{chunks: []core.RetrievedChunk{
		{Text: "User said the Lisbon trip starts on June 12.", Score: 0.7},
	}}
	mgr := hybridManager(index)

	ch := state.NewChannels()
	ch.Summary = state.Summary{Text: "General chit-chat.", Version: 1}
	ask(ch, "What did we discuss earlier about the trip dates?")

	used := mgr.PreTurn(context.Background(), ch)

	assert.True(t, used)
	require.Len(t, ch.RetrievedContext, 1)
	assert.Equal(t, "CTX-1", ch.RetrievedContext[0].CitationID)
	assert.Equal(t, "conversation memory", ch.RetrievedContext[0].SourceLabel)
	assert.Len(t, index.queries, 1)
}

func TestManager_NoRecallWhenTopicCovered(t *testing.T) {
	index := &stubIndex{chunks: []core.RetrievedChunk{{Text: "unused", Score: 0.5}}}
	mgr := hybridManager(index)

	ch := state.NewChannels()
	ch.Summary = state.Summary{Text: "The user is planning a weekend itinerary for Lisbon in spring.", Version: 3}
	ask(ch, "Which Lisbon itinerary spots fit a spring weekend?")

	used := mgr.PreTurn(context.Background(), ch)

	assert.False(t, used)
	assert.Empty(t, ch.RetrievedContext)
	assert.Empty(t, index.queries)
}

func TestManager_RecallOnAbsentTopic(t *testing.T) {
	index := &stubIndex{chunks: []core.RetrievedChunk{
		{Text: "User's dog is called Bodri.", SourceLabel: "session 12", Score: 0.6},
	}}
	mgr := hybridManager(index)

	ch := state.NewChannels()
	ch.Summary = state.Summary{Text: "Conversation about cooking pasta.", Version: 1}
	ask(ch, "Whats the veterinarian appointment schedule for Bodri?")

	used := mgr.PreTurn(context.Background(), ch)

	assert.True(t, used)
	require.Len(t, ch.RetrievedContext, 1)
	assert.Equal(t, "session 12", ch.RetrievedContext[0].SourceLabel)
}

func TestManager_RecallDisabledOutsideHybrid(t *testing.T) {
	index := &stubIndex{chunks: []core.RetrievedChunk{{Text: "unused", Score: 0.5}}}
	mgr := NewManager(nil, index, token.Heuristic(), func(o *Options) {
		o.Mode = ModeRolling
	})

	ch := state.NewChannels()
	ask(ch, "What did we discuss earlier?")

	assert.False(t, mgr.PreTurn(context.Background(), ch))
	assert.Empty(t, index.queries)
}

func TestManager_RecallWithoutIndex(t *testing.T) {
	mgr := hybridManager(nil)

	ch := state.NewChannels()
	ask(ch, "What did we discuss earlier?")

	assert.False(t, mgr.PreTurn(context.Background(), ch))
}
