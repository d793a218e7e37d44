package flow

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/internal/retryx"
	"github.com/hupe1980/agentgraph/logging"
	"github.com/hupe1980/agentgraph/model"
	"github.com/hupe1980/agentgraph/state"
	"github.com/hupe1980/agentgraph/token"
)

// RetrievalOptions configures the retrieval stage.
type RetrievalOptions struct {
	// TopK is the candidate count requested from the retriever.
	TopK int
	// TokenBudget bounds the total token size of the surviving snippets.
	TokenBudget int
	// SimilarityThreshold is the pairwise text overlap above which two
	// candidates are considered duplicates.
	SimilarityThreshold float64
	// RecentWindow is the number of trailing messages given to the query
	// rewrite prompt.
	RecentWindow int
	// RewriteQuery toggles the model-backed query rewrite. When disabled (or
	// when no model is wired) the raw user message is used as the query.
	RewriteQuery bool
	// Retry bounds transient retriever retries.
	Retry retryx.Policy
	// Logger is the logger used by the stage.
	Logger logging.Logger
}

// RetrievalMetrics is the per-run measurement record of the stage.
type RetrievalMetrics struct {
	LatencyMS  int64   `json:"latency_ms"`
	ChunkCount int     `json:"chunk_count"`
	MaxScore   float64 `json:"max_score"`
}

// RetrievalResult is the output of one retrieval run. HasKnowledge is true
// iff at least one snippet survived deduplication and budget truncation.
type RetrievalResult struct {
	Query        string
	Snippets     []state.Snippet
	HasKnowledge bool
	Metrics      RetrievalMetrics
}

// RetrievalStage rewrites the user query, searches the knowledge retriever
// and shapes the candidates into a cited, budgeted context block. Retriever
// failures are downgraded to an empty result; the turn proceeds without
// context rather than failing.
type RetrievalStage struct {
	retriever core.KnowledgeRetriever
	llm       model.Model
	counter   token.Counter
	opts      RetrievalOptions
	*core.LoggerAdapter
}

// NewRetrievalStage creates a retrieval stage. A nil llm disables the query
// rewrite; a nil counter falls back to the byte-length heuristic.
func NewRetrievalStage(retriever core.KnowledgeRetriever, llm model.Model, counter token.Counter, optFns ...func(o *RetrievalOptions)) *RetrievalStage {
	opts := RetrievalOptions{
		TopK:                8,
		TokenBudget:         1200,
		SimilarityThreshold: 0.85,
		RecentWindow:        6,
		RewriteQuery:        true,
		Retry:               retryx.DefaultPolicy(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if counter == nil {
		counter = token.Heuristic()
	}
	return &RetrievalStage{
		retriever:     retriever,
		llm:           llm,
		counter:       counter,
		opts:          opts,
		LoggerAdapter: core.NewLoggerAdapter(opts.Logger),
	}
}

// Run executes the stage against the current channels. The caller writes the
// returned snippets into the retrieved_context channel.
func (s *RetrievalStage) Run(ctx context.Context, ch *state.Channels) RetrievalResult {
	start := time.Now()

	last, ok := ch.LastUserMessage()
	if !ok || s.retriever == nil {
		return RetrievalResult{Metrics: RetrievalMetrics{LatencyMS: time.Since(start).Milliseconds()}}
	}

	query := s.rewriteQuery(ctx, ch, last.Content)

	var chunks []core.RetrievedChunk
	err := retryx.Do(ctx, s.opts.Retry, func() error {
		var searchErr error
		chunks, searchErr = s.retriever.Search(ctx, query, s.opts.TopK)
		return searchErr
	})
	if err != nil {
		s.LogWarn("retrieval failed, continuing without context", "error", fmt.Errorf("%w: %v", core.ErrRetrievalUnavailable, err))
		return RetrievalResult{Query: query, Metrics: RetrievalMetrics{LatencyMS: time.Since(start).Milliseconds()}}
	}

	kept := s.dedupe(chunks)
	kept = s.truncate(kept)

	snippets := make([]state.Snippet, 0, len(kept))
	maxScore := 0.0
	for i, c := range kept {
		if c.Score > maxScore {
			maxScore = c.Score
		}
		snippets = append(snippets, state.Snippet{
			Text:        c.Text,
			SourceLabel: c.SourceLabel,
			Score:       c.Score,
			CitationID:  fmt.Sprintf("CTX-%d", i+1),
		})
	}

	return RetrievalResult{
		Query:        query,
		Snippets:     snippets,
		HasKnowledge: len(snippets) > 0,
		Metrics: RetrievalMetrics{
			LatencyMS:  time.Since(start).Milliseconds(),
			ChunkCount: len(snippets),
			MaxScore:   maxScore,
		},
	}
}

// rewriteQuery asks the model for a retrieval-optimized form of the question.
// Any failure falls back to the raw message; the rewrite must never change
// the intent, so a degenerate reply is discarded too.
func (s *RetrievalStage) rewriteQuery(ctx context.Context, ch *state.Channels, raw string) string {
	if !s.opts.RewriteQuery || s.llm == nil {
		return raw
	}

	var sb strings.Builder
	for _, m := range ch.RecentMessages(s.opts.RecentWindow) {
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
	}
	if locale := ch.Profile.Locale; locale != "" {
		fmt.Fprintf(&sb, "user locale: %s\n", locale)
	}
	fmt.Fprintf(&sb, "\nQuestion: %s", raw)

	resp, err := s.llm.Complete(ctx, model.Request{
		System: "Rewrite the user's question into a concise search query for a knowledge base. " +
			"Preserve the intent exactly. Respond with the query text only.",
		Messages:  []model.ChatMessage{{Role: "user", Content: sb.String()}},
		MaxTokens: 100,
	})
	if err != nil {
		s.LogDebug("query rewrite failed, using raw message", "error", err)
		return raw
	}

	rewritten := strings.TrimSpace(resp.Text)
	rewritten = strings.Trim(rewritten, "\"'")
	if idx := strings.IndexByte(rewritten, '\n'); idx >= 0 {
		rewritten = strings.TrimSpace(rewritten[:idx])
	}
	if rewritten == "" || len(rewritten) > 4*len(raw)+80 {
		return raw
	}
	return rewritten
}

// dedupe drops candidates that share a (source, chunk_index) identity or
// whose text overlap exceeds the similarity threshold, keeping the higher
// scored one. Candidates are ranked by score descending first so the greedy
// pass always keeps the winner.
func (s *RetrievalStage) dedupe(chunks []core.RetrievedChunk) []core.RetrievedChunk {
	ranked := append([]core.RetrievedChunk(nil), chunks...)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Text < ranked[j].Text
	})

	kept := make([]core.RetrievedChunk, 0, len(ranked))
	for _, c := range ranked {
		dup := false
		for _, k := range kept {
			if sameChunkIdentity(c, k) || textSimilarity(c.Text, k.Text) >= s.opts.SimilarityThreshold {
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, c)
		}
	}
	return kept
}

// truncate keeps the highest ranked chunks whose cumulative token count fits
// the budget. A budget <= 0 disables truncation.
func (s *RetrievalStage) truncate(chunks []core.RetrievedChunk) []core.RetrievedChunk {
	if s.opts.TokenBudget <= 0 {
		return chunks
	}
	total := 0
	out := make([]core.RetrievedChunk, 0, len(chunks))
	for _, c := range chunks {
		n := s.counter.Count(c.Text)
		if total+n > s.opts.TokenBudget {
			break
		}
		total += n
		out = append(out, c)
	}
	return out
}

func sameChunkIdentity(a, b core.RetrievedChunk) bool {
	return a.Source != "" && a.Source == b.Source && a.ChunkIndex == b.ChunkIndex
}

// textSimilarity is the Jaccard overlap of the lowercased term sets.
func textSimilarity(a, b string) float64 {
	ta := termSet(a)
	tb := termSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	inter := 0
	for t := range ta {
		if _, ok := tb[t]; ok {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	return float64(inter) / float64(union)
}

func termSet(text string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, t := range strings.Fields(strings.ToLower(text)) {
		t = strings.Trim(t, ".,;:!?\"'()[]")
		if t != "" {
			set[t] = struct{}{}
		}
	}
	return set
}
