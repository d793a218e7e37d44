package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/internal/retryx"
	"github.com/hupe1980/agentgraph/state"
)

// backReferenceMarkers signal that the user is pointing at information
// outside the current window.
var backReferenceMarkers = []string{
	"earlier", "before", "previously", "last time", "you said", "you mentioned",
	"we discussed", "we talked", "remind me", "again", "as i said", "as i told",
}

// recall runs the hybrid on-demand recall: only when the router judges the
// question references information outside the current window does it search
// the conversation-memory index and append the hits to the retrieved context
// for this turn. Failures are logged and skipped.
func (m *Manager) recall(ctx context.Context, ch *state.Channels) bool {
	if m.recallIndex == nil {
		return false
	}
	last, ok := ch.LastUserMessage()
	if !ok || !m.needsRecall(ch, last) {
		return false
	}

	var chunks []core.RetrievedChunk
	err := retryx.Do(ctx, m.opts.Retry, func() error {
		var searchErr error
		chunks, searchErr = m.recallIndex.Search(ctx, last.Content, m.opts.RecallTopK)
		return searchErr
	})
	if err != nil {
		m.LogWarn("memory recall failed", "error", err)
		return false
	}
	if len(chunks) == 0 {
		return false
	}

	offset := len(ch.RetrievedContext)
	for i, c := range chunks {
		label := c.SourceLabel
		if label == "" {
			label = "conversation memory"
		}
		ch.RetrievedContext = append(ch.RetrievedContext, state.Snippet{
			Text:        c.Text,
			SourceLabel: label,
			Score:       c.Score,
			CitationID:  fmt.Sprintf("CTX-%d", offset+i+1),
		})
	}
	m.LogDebug("memory recall used", "hits", len(chunks))
	return true
}

// needsRecall is the router: explicit back-reference language, or a question
// topic absent from the summary, facts and recent window.
func (m *Manager) needsRecall(ch *state.Channels, question state.Message) bool {
	lowered := strings.ToLower(question.Content)
	for _, marker := range backReferenceMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}

	var known strings.Builder
	known.WriteString(strings.ToLower(ch.Summary.Text))
	for _, f := range ch.Facts {
		known.WriteString(" " + strings.ToLower(f.Key) + " " + strings.ToLower(f.Value))
	}
	for _, msg := range ch.RecentMessages(2 * m.opts.WindowPairs) {
		if msg.ID == question.ID {
			continue
		}
		known.WriteString(" " + strings.ToLower(msg.Content))
	}
	window := known.String()

	terms := significantTerms(lowered)
	if len(terms) == 0 {
		return false
	}
	missing := 0
	for _, t := range terms {
		if !strings.Contains(window, t) {
			missing++
		}
	}
	return missing > len(terms)/2
}

// significantTerms keeps words long enough to carry topic meaning.
func significantTerms(text string) []string {
	var terms []string
	for _, w := range strings.Fields(text) {
		w = strings.Trim(w, ".,;:!?\"'()[]")
		if len(w) >= 5 {
			terms = append(terms, w)
		}
	}
	return terms
}
