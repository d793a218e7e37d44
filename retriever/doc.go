// Package retriever provides KnowledgeRetriever implementations: a naive
// process-local keyword retriever for tests and demos, and a bleve-backed
// full-text retriever suitable for real document and conversation-memory
// indexes.
package retriever
