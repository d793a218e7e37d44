package state

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func msg(role Role, content string, offset time.Duration) Message {
	return NewMessage(role, content, baseTime.Add(offset))
}

// permutations returns all orderings of indices 0..n-1.
func permutations(n int) [][]int {
	if n == 1 {
		return [][]int{{0}}
	}
	var out [][]int
	for _, perm := range permutations(n - 1) {
		for i := 0; i <= len(perm); i++ {
			next := make([]int, 0, n)
			next = append(next, perm[:i]...)
			next = append(next, n-1)
			next = append(next, perm[i:]...)
			out = append(out, next)
		}
	}
	return out
}

func TestMergeMessages_OrderIndependent(t *testing.T) {
	updates := [][]Message{
		{msg(RoleUser, "hello", 0)},
		{msg(RoleAssistant, "hi there", time.Second)},
		{msg(RoleTool, "lookup done", 2 * time.Second), msg(RoleUser, "hello", 0)}, // duplicate
	}

	var want []Message
	for _, u := range updates {
		want = MergeMessages(want, u)
	}

	for _, perm := range permutations(len(updates)) {
		var got []Message
		for _, i := range perm {
			got = MergeMessages(got, updates[i])
		}
		assert.Equal(t, want, got, "permutation %v", perm)
	}

	assert.Len(t, want, 3, "duplicate content hash must be dropped")
	assert.Equal(t, "hello", want[0].Content)
	assert.Equal(t, "lookup done", want[2].Content)
}

func TestMergeFacts_OrderIndependentAndIdempotent(t *testing.T) {
	older := Fact{Key: "preferred_language", Value: "hu", UpdatedAt: baseTime}
	newer := Fact{Key: "preferred_language", Value: "en", UpdatedAt: baseTime.Add(time.Minute)}
	other := Fact{Key: "home_city", Value: "Budapest", UpdatedAt: baseTime}

	updates := []map[string]Fact{
		{older.Key: older},
		{newer.Key: newer},
		{other.Key: other},
	}

	var want map[string]Fact
	for _, u := range updates {
		want = MergeFacts(want, u)
	}

	for _, perm := range permutations(len(updates)) {
		var got map[string]Fact
		for _, i := range perm {
			got = MergeFacts(got, updates[i])
		}
		assert.Equal(t, want, got, "permutation %v", perm)
	}

	assert.Len(t, want, 2)
	assert.Equal(t, "en", want["preferred_language"].Value, "newer update wins regardless of order")

	// Idempotence: applying the same fact twice equals applying it once.
	once := MergeFacts(nil, map[string]Fact{newer.Key: newer})
	twice := MergeFacts(once, map[string]Fact{newer.Key: newer})
	assert.Equal(t, once, twice)
}

func TestMergeFacts_TieBreakIsDeterministic(t *testing.T) {
	a := Fact{Key: "k", Value: "alpha", UpdatedAt: baseTime}
	b := Fact{Key: "k", Value: "beta", UpdatedAt: baseTime}

	ab := MergeFacts(map[string]Fact{"k": a}, map[string]Fact{"k": b})
	ba := MergeFacts(map[string]Fact{"k": b}, map[string]Fact{"k": a})
	assert.Equal(t, ab, ba)
	assert.Equal(t, "beta", ab["k"].Value, "lexicographically greater value wins the tie")

	// Same timestamp and value: confidence, then source, break the tie.
	low := Fact{Key: "k", Value: "alpha", Confidence: 0.4, UpdatedAt: baseTime}
	high := Fact{Key: "k", Value: "alpha", Confidence: 0.9, UpdatedAt: baseTime}
	assert.Equal(t,
		MergeFacts(map[string]Fact{"k": low}, map[string]Fact{"k": high}),
		MergeFacts(map[string]Fact{"k": high}, map[string]Fact{"k": low}),
	)
	assert.Equal(t, 0.9, MergeFacts(map[string]Fact{"k": low}, map[string]Fact{"k": high})["k"].Confidence)

	fromChat := Fact{Key: "k", Value: "alpha", Confidence: 0.4, Source: "conversation", UpdatedAt: baseTime}
	fromImport := Fact{Key: "k", Value: "alpha", Confidence: 0.4, Source: "import", UpdatedAt: baseTime}
	assert.Equal(t,
		MergeFacts(map[string]Fact{"k": fromChat}, map[string]Fact{"k": fromImport}),
		MergeFacts(map[string]Fact{"k": fromImport}, map[string]Fact{"k": fromChat}),
	)
}

func TestMergeOutcomes_OrderIndependent(t *testing.T) {
	a := []ToolOutcome{
		{ToolName: "price", Success: true},
		{ToolName: "weather", Success: false, Error: "timeout"},
	}
	b := []ToolOutcome{
		{ToolName: "weather", Success: false, Error: "connection refused"},
		{ToolName: "price", Success: true},
	}

	ab := MergeOutcomes(a, b)
	ba := MergeOutcomes(b, a)
	assert.Equal(t, ab, ba)

	// Every invocation keeps its record; nothing is deduplicated.
	assert.Len(t, ab, 4)
	assert.Equal(t, "price", ab[0].ToolName)
	assert.Equal(t, "connection refused", ab[2].Error, "same-named outcomes ordered by error text")
}

func TestMergeTrace_TruncatesToNewest(t *testing.T) {
	var a, b []TraceEntry
	for i := 0; i < 6; i++ {
		e := TraceEntry{Step: i, Action: "node", Detail: fmt.Sprintf("d%d", i), Timestamp: baseTime.Add(time.Duration(i) * time.Second)}
		if i%2 == 0 {
			a = append(a, e)
		} else {
			b = append(b, e)
		}
	}

	merged := MergeTrace(a, b, 4)
	assert.Len(t, merged, 4)
	assert.Equal(t, 2, merged[0].Step, "oldest entries dropped first")
	assert.Equal(t, 5, merged[3].Step)

	// Order independence.
	assert.Equal(t, merged, MergeTrace(b, a, 4))
}

func TestMergeSummary_ReplaceOnly(t *testing.T) {
	v1 := Summary{Text: "short", Version: 1}
	v2 := Summary{Text: "longer rollup", Version: 2}

	assert.Equal(t, v2, MergeSummary(v1, v2))
	assert.Equal(t, v2, MergeSummary(v2, v1))
	// Same version resolves deterministically on text.
	assert.Equal(t, MergeSummary(v1, Summary{Text: "zzz", Version: 1}), MergeSummary(Summary{Text: "zzz", Version: 1}, v1))
}

func TestApply_FoldsDeltasThroughReducers(t *testing.T) {
	ch := NewChannels()
	ch.TraceLimit = 10

	deltas := []Delta{
		{
			Messages: []Message{msg(RoleUser, "q", 0)},
			Outcomes: []ToolOutcome{{ToolName: "price", Success: true}},
		},
		{
			Facts:    []Fact{{Key: "ticker", Value: "AAPL", UpdatedAt: baseTime}},
			Outcomes: []ToolOutcome{{ToolName: "weather", Success: false, Error: "timeout"}},
		},
	}

	for _, d := range deltas {
		Apply(ch, d)
	}

	assert.Len(t, ch.Messages, 1)
	assert.Len(t, ch.Facts, 1)
	assert.Len(t, ch.ParallelResults, 2)
	assert.Equal(t, "price", ch.ParallelResults[0].ToolName, "outcomes normalized by tool name")

	ch.ClearTransient()
	assert.Nil(t, ch.ParallelResults)
}

func TestChannels_CloneIsIndependent(t *testing.T) {
	ch := NewChannels()
	Apply(ch, Delta{
		Messages: []Message{msg(RoleSystem, "sys", 0)},
		Facts:    []Fact{{Key: "a", Value: "1", UpdatedAt: baseTime}},
	})

	cp := ch.Clone()
	Apply(cp, Delta{Messages: []Message{msg(RoleUser, "new", time.Second)}})
	UpsertFact(cp, Fact{Key: "a", Value: "2", UpdatedAt: baseTime.Add(time.Hour)})

	assert.Len(t, ch.Messages, 1, "original unchanged")
	assert.Equal(t, "1", ch.Facts["a"].Value)
	assert.Len(t, cp.Messages, 2)
	assert.Equal(t, "2", cp.Facts["a"].Value)
}
