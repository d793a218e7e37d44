package state

import "sort"

// Reducers are pure merge functions: no I/O, no wall clock, associative and
// commutative over the fields they touch. All timestamps are inputs carried
// by the operands, never read at merge time, so applying updates from N
// concurrent branches in any arrival order yields the same final value.

// MergeMessages unions two message sequences by ID, then stable-sorts by
// timestamp (ID as tie-break). Duplicate IDs keep a single entry.
func MergeMessages(a, b []Message) []Message {
	seen := make(map[string]Message, len(a)+len(b))
	for _, m := range a {
		seen[m.ID] = m
	}
	for _, m := range b {
		if _, ok := seen[m.ID]; !ok {
			seen[m.ID] = m
		}
	}
	out := make([]Message, 0, len(seen))
	for _, m := range seen {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// MergeFacts merges two fact maps per-key last-write-wins using
// (UpdatedAt, Value, Confidence, Source) as the comparison key. An older
// UpdatedAt never overwrites a newer one; ties resolve field by field so
// merge order cannot change the winner.
func MergeFacts(a, b map[string]Fact) map[string]Fact {
	out := make(map[string]Fact, len(a)+len(b))
	for k, f := range a {
		out[k] = f
	}
	for k, f := range b {
		cur, ok := out[k]
		if !ok || factWins(f, cur) {
			out[k] = f
		}
	}
	return out
}

// factWins reports whether candidate should replace incumbent.
func factWins(candidate, incumbent Fact) bool {
	if !candidate.UpdatedAt.Equal(incumbent.UpdatedAt) {
		return candidate.UpdatedAt.After(incumbent.UpdatedAt)
	}
	if candidate.Value != incumbent.Value {
		return candidate.Value > incumbent.Value
	}
	if candidate.Confidence != incumbent.Confidence {
		return candidate.Confidence > incumbent.Confidence
	}
	return candidate.Source > incumbent.Source
}

// MergeTrace unions two trace sequences, orders by timestamp (then step,
// then action) and truncates to the newest limit entries. A limit <= 0 falls
// back to DefaultTraceLimit.
func MergeTrace(a, b []TraceEntry, limit int) []TraceEntry {
	if limit <= 0 {
		limit = DefaultTraceLimit
	}
	type key struct {
		step   int
		action string
		detail string
	}
	seen := make(map[key]TraceEntry, len(a)+len(b))
	for _, e := range append(append([]TraceEntry(nil), a...), b...) {
		k := key{e.Step, e.Action, e.Detail}
		if _, ok := seen[k]; !ok {
			seen[k] = e
		}
	}
	out := make([]TraceEntry, 0, len(seen))
	for _, e := range seen {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		if out[i].Step != out[j].Step {
			return out[i].Step < out[j].Step
		}
		return out[i].Action < out[j].Action
	})
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// MergeSummary returns the operand with the higher version. Summaries are
// replaced, never blended; equal versions resolve lexicographically on text.
func MergeSummary(a, b Summary) Summary {
	if a.Version != b.Version {
		if a.Version > b.Version {
			return a
		}
		return b
	}
	if a.Text >= b.Text {
		return a
	}
	return b
}

// MergeOutcomes concatenates tool outcomes and normalizes order by tool name,
// success and error text so arrival order does not matter. Every invocation
// keeps its own record; deduplication is not attempted because the same tool
// may legitimately run more than once per turn.
func MergeOutcomes(a, b []ToolOutcome) []ToolOutcome {
	out := append(append([]ToolOutcome(nil), a...), b...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ToolName != out[j].ToolName {
			return out[i].ToolName < out[j].ToolName
		}
		if out[i].Success != out[j].Success {
			return out[i].Success && !out[j].Success
		}
		return out[i].Error < out[j].Error
	})
	return out
}

// Delta is the partial state update produced by a single branch. Branches
// never mutate shared Channels; they fill a Delta which is folded in through
// Apply.
type Delta struct {
	Messages   []Message
	Facts      []Fact
	Trace      []TraceEntry
	Outcomes   []ToolOutcome
	Aggregated map[string]any
}

// Apply folds a branch delta into the channels using the reducers above.
func Apply(c *Channels, d Delta) {
	if len(d.Messages) > 0 {
		c.Messages = MergeMessages(c.Messages, d.Messages)
	}
	if len(d.Facts) > 0 {
		incoming := make(map[string]Fact, len(d.Facts))
		for _, f := range d.Facts {
			if cur, ok := incoming[f.Key]; !ok || factWins(f, cur) {
				incoming[f.Key] = f
			}
		}
		c.Facts = MergeFacts(c.Facts, incoming)
	}
	if len(d.Trace) > 0 {
		c.Trace = MergeTrace(c.Trace, d.Trace, c.TraceLimit)
	}
	if len(d.Outcomes) > 0 {
		c.ParallelResults = MergeOutcomes(c.ParallelResults, d.Outcomes)
	}
	if len(d.Aggregated) > 0 {
		if c.AggregatedData == nil {
			c.AggregatedData = map[string]any{}
		}
		for k, v := range d.Aggregated {
			c.AggregatedData[k] = v
		}
	}
}

// UpsertFact applies a single fact through the reducer.
func UpsertFact(c *Channels, f Fact) {
	if c.Facts == nil {
		c.Facts = map[string]Fact{}
	}
	c.Facts = MergeFacts(c.Facts, map[string]Fact{f.Key: f})
}
