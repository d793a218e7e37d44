package memory

import (
	"github.com/hupe1980/agentgraph/state"
	"github.com/hupe1980/agentgraph/token"
)

// TrimToPairs keeps the last pairs user/assistant exchanges. System messages
// always survive; a pairs value <= 0 keeps everything.
func TrimToPairs(messages []state.Message, pairs int) []state.Message {
	if pairs <= 0 {
		return messages
	}
	var system, rest []state.Message
	for _, m := range messages {
		if m.Role == state.RoleSystem {
			system = append(system, m)
		} else {
			rest = append(rest, m)
		}
	}
	limit := pairs * 2
	if len(rest) > limit {
		rest = rest[len(rest)-limit:]
	}
	return append(system, rest...)
}

// TrimByBudget drops the oldest messages until the token estimate fits the
// budget. With keepSystem, system messages are never evicted and their cost
// is charged against the budget first. The most recent message is kept even
// when it alone exceeds the budget, so a turn always has its question.
func TrimByBudget(messages []state.Message, budget int, keepSystem bool, counter token.Counter) []state.Message {
	if budget <= 0 || len(messages) == 0 {
		return messages
	}
	if counter == nil {
		counter = token.Heuristic()
	}

	var system, rest []state.Message
	for _, m := range messages {
		if keepSystem && m.Role == state.RoleSystem {
			system = append(system, m)
		} else {
			rest = append(rest, m)
		}
	}

	remaining := budget
	for _, m := range system {
		remaining -= counter.Count(m.Content)
	}

	// Walk newest to oldest, keeping what still fits.
	kept := make([]state.Message, 0, len(rest))
	for i := len(rest) - 1; i >= 0; i-- {
		cost := counter.Count(rest[i].Content)
		if cost > remaining && len(kept) > 0 {
			break
		}
		remaining -= cost
		kept = append(kept, rest[i])
		if remaining <= 0 {
			break
		}
	}

	// kept is newest-first; restore chronological order.
	out := append([]state.Message(nil), system...)
	for i := len(kept) - 1; i >= 0; i-- {
		out = append(out, kept[i])
	}
	return out
}
