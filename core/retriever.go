package core

import "context"

// RetrievedChunk is one ranked snippet returned by a knowledge retriever.
// Source and ChunkIndex identify the originating document slice and drive
// deduplication; SourceLabel is the human-readable citation target.
type RetrievedChunk struct {
	Text        string  `json:"text"`
	SourceLabel string  `json:"source_label"`
	Score       float64 `json:"score"`
	Source      string  `json:"source,omitempty"`
	ChunkIndex  int     `json:"chunk_index,omitempty"`
}

// KnowledgeRetriever is the vector/keyword search collaborator. The engine
// only depends on this contract; implementations must be safe for concurrent
// use. Failures are caught by the retrieval stage and downgraded, never
// propagated to the caller.
type KnowledgeRetriever interface {
	Search(ctx context.Context, query string, topK int) ([]RetrievedChunk, error)
}

// ProfileStore loads stable user attributes owned by an external system.
// The engine reads the profile once per turn and never writes it.
type ProfileStore interface {
	Load(ctx context.Context, tenantID, userID string) (map[string]string, error)
}
