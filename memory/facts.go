package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/agentgraph/internal/retryx"
	"github.com/hupe1980/agentgraph/model"
	"github.com/hupe1980/agentgraph/state"
)

// factProposal is the shape the extraction prompt asks for.
type factProposal struct {
	Key        string  `json:"key"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// extractFacts asks the model for durable {key, value, confidence} tuples
// from the recent conversation and upserts them through the facts reducer.
// Extraction failures are logged and skipped.
func (m *Manager) extractFacts(ctx context.Context, ch *state.Channels) {
	if m.llm == nil || len(ch.Messages) == 0 {
		return
	}

	var sb strings.Builder
	for _, msg := range ch.RecentMessages(m.opts.SummaryThreshold) {
		fmt.Fprintf(&sb, "%s: %s\n", msg.Role, msg.Content)
	}

	var resp model.Response
	err := retryx.Do(ctx, m.opts.Retry, func() error {
		var callErr error
		resp, callErr = m.llm.Complete(ctx, model.Request{
			System: "Extract durable user facts from the conversation as a JSON array of " +
				`{"key": "snake_case_topic", "value": "...", "confidence": 0.0-1.0}. ` +
				"Only stable facts (preferences, identity, decisions), no small talk. " +
				"Respond with the JSON array only; use [] when there is nothing.",
			Messages:  []model.ChatMessage{{Role: "user", Content: sb.String()}},
			ForceJSON: true,
			MaxTokens: 300,
		})
		return callErr
	})
	if err != nil {
		m.LogWarn("fact extraction failed", "error", err)
		return
	}

	proposals, err := parseFactProposals(resp.Text)
	if err != nil {
		m.LogWarn("fact extraction returned unparseable output", "error", err)
		return
	}

	now := time.Now().UTC()
	for _, p := range proposals {
		if p.Key == "" || p.Value == "" {
			continue
		}
		state.UpsertFact(ch, state.Fact{
			Key:        p.Key,
			Value:      p.Value,
			Confidence: p.Confidence,
			Source:     "conversation",
			UpdatedAt:  now,
		})
	}
	if len(proposals) > 0 {
		m.LogDebug("facts extracted", "count", len(proposals), "total", len(ch.Facts))
	}
}

// parseFactProposals tolerates code fences and surrounding prose around the
// JSON array.
func parseFactProposals(text string) ([]factProposal, error) {
	raw := strings.TrimSpace(text)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	start := strings.IndexByte(raw, '[')
	end := strings.LastIndexByte(raw, ']')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in output")
	}
	var proposals []factProposal
	if err := json.Unmarshal([]byte(raw[start:end+1]), &proposals); err != nil {
		return nil, err
	}
	return proposals, nil
}
