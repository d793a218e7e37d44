package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/agentgraph/internal/retryx"
	"github.com/hupe1980/agentgraph/model"
	"github.com/hupe1980/agentgraph/state"
)

// summarize folds the oldest messages into the summary channel when the
// conversation grows past the threshold. The summary is replaced with an
// incremented version; folded messages leave the messages channel. A model
// failure leaves everything untouched.
func (m *Manager) summarize(ctx context.Context, ch *state.Channels) {
	if m.llm == nil {
		return
	}

	var system, rest []state.Message
	for _, msg := range ch.Messages {
		if msg.Role == state.RoleSystem {
			system = append(system, msg)
		} else {
			rest = append(rest, msg)
		}
	}
	if len(rest) <= m.opts.SummaryThreshold {
		return
	}

	keep := m.opts.SummaryKeep
	if keep < 0 {
		keep = 0
	}
	folded := rest[:len(rest)-keep]

	var sb strings.Builder
	if ch.Summary.Text != "" {
		fmt.Fprintf(&sb, "Existing summary:\n%s\n\n", ch.Summary.Text)
	}
	if m.opts.PersistRecall && len(ch.RetrievedContext) > 0 {
		sb.WriteString("Recalled context worth keeping:\n")
		for _, snip := range ch.RetrievedContext {
			fmt.Fprintf(&sb, "- %s\n", snip.Text)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Messages to fold in:\n")
	for _, msg := range folded {
		fmt.Fprintf(&sb, "%s: %s\n", msg.Role, msg.Content)
	}

	var resp model.Response
	err := retryx.Do(ctx, m.opts.Retry, func() error {
		var callErr error
		resp, callErr = m.llm.Complete(ctx, model.Request{
			System: "Update the conversation summary. Merge the existing summary with the new messages " +
				"into one concise paragraph. Keep names, preferences and decisions. Respond with the summary only.",
			Messages:  []model.ChatMessage{{Role: "user", Content: sb.String()}},
			MaxTokens: 300,
		})
		return callErr
	})
	if err != nil {
		m.LogWarn("summary fold failed, keeping messages", "error", err)
		return
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return
	}

	ch.Summary = state.MergeSummary(ch.Summary, state.Summary{Text: text, Version: ch.Summary.Version + 1})
	ch.Messages = append(system, rest[len(rest)-keep:]...)
	m.LogDebug("summary folded", "version", ch.Summary.Version, "folded_messages", len(folded))
}
