package retriever

import (
	"context"
	"fmt"
	"sync"

	"github.com/blevesearch/bleve"

	"github.com/hupe1980/agentgraph/core"
)

// BleveRetriever backs the KnowledgeRetriever contract with a bleve full-text
// index. Chunk metadata (source, chunk index, label) is kept in a side map so
// the index only carries the analyzed text. The same type serves both the
// document index and the conversation-memory index used by hybrid recall.
type BleveRetriever struct {
	mu    sync.RWMutex
	index bleve.Index
	docs  map[string]Document
}

// NewBleveRetriever creates a memory-only bleve index. Use NewBleveRetrieverAt
// for a persistent index directory.
func NewBleveRetriever() (*BleveRetriever, error) {
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create bleve index: %w", err)
	}
	return &BleveRetriever{index: index, docs: map[string]Document{}}, nil
}

// NewBleveRetrieverAt opens (or creates) a persistent bleve index at path.
// Note: side metadata is process-local; re-index after reopening to restore
// source labels for previously stored documents.
func NewBleveRetrieverAt(path string) (*BleveRetriever, error) {
	index, err := bleve.Open(path)
	if err != nil {
		index, err = bleve.New(path, bleve.NewIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to open bleve index at %s: %w", path, err)
		}
	}
	return &BleveRetriever{index: index, docs: map[string]Document{}}, nil
}

// Index adds or replaces a document chunk.
func (r *BleveRetriever) Index(doc Document) error {
	if doc.ID == "" {
		return fmt.Errorf("document id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.index.Index(doc.ID, map[string]any{"text": doc.Text}); err != nil {
		return fmt.Errorf("failed to index document %s: %w", doc.ID, err)
	}
	r.docs[doc.ID] = doc
	return nil
}

// Search implements core.KnowledgeRetriever.
func (r *BleveRetriever) Search(ctx context.Context, query string, topK int) ([]core.RetrievedChunk, error) {
	if topK <= 0 {
		return []core.RetrievedChunk{}, nil
	}

	q := bleve.NewMatchQuery(query)
	req := bleve.NewSearchRequest(q)
	req.Size = topK

	r.mu.RLock()
	defer r.mu.RUnlock()

	res, err := r.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("bleve search failed: %w", err)
	}

	chunks := make([]core.RetrievedChunk, 0, len(res.Hits))
	for _, hit := range res.Hits {
		doc, ok := r.docs[hit.ID]
		if !ok {
			continue
		}
		chunks = append(chunks, core.RetrievedChunk{
			Text:        doc.Text,
			SourceLabel: doc.SourceLabel,
			Score:       hit.Score,
			Source:      doc.Source,
			ChunkIndex:  doc.ChunkIndex,
		})
	}
	return chunks, nil
}

// Close releases the underlying index.
func (r *BleveRetriever) Close() error { return r.index.Close() }
