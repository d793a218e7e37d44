package retriever

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/hupe1980/agentgraph/core"
)

// Document is one indexable text chunk.
type Document struct {
	ID          string
	Text        string
	Source      string
	ChunkIndex  int
	SourceLabel string
}

// InMemoryRetriever is a naive process-local KnowledgeRetriever. Scoring is
// the fraction of query terms present in the chunk text (case insensitive).
// Suitable only for tests and demos; use the bleve retriever or an external
// vector index for production retrieval.
//
// Concurrency: protected by RWMutex; Search is safe to call concurrently.
type InMemoryRetriever struct {
	mu   sync.RWMutex
	docs []Document
}

// NewInMemoryRetriever creates an empty in-memory retriever.
func NewInMemoryRetriever(docs ...Document) *InMemoryRetriever {
	return &InMemoryRetriever{docs: docs}
}

// Add indexes additional documents.
func (r *InMemoryRetriever) Add(docs ...Document) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs = append(r.docs, docs...)
}

// Search implements core.KnowledgeRetriever.
func (r *InMemoryRetriever) Search(ctx context.Context, query string, topK int) ([]core.RetrievedChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 || topK <= 0 {
		return []core.RetrievedChunk{}, nil
	}

	results := make([]core.RetrievedChunk, 0, len(r.docs))
	for _, doc := range r.docs {
		text := strings.ToLower(doc.Text)
		hits := 0
		for _, term := range terms {
			if strings.Contains(text, term) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		results = append(results, core.RetrievedChunk{
			Text:        doc.Text,
			SourceLabel: doc.SourceLabel,
			Score:       float64(hits) / float64(len(terms)),
			Source:      doc.Source,
			ChunkIndex:  doc.ChunkIndex,
		})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}
