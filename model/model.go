package model

import (
	"context"
	"fmt"
	"sync"
)

// ChatMessage is one conversational message in a completion request.
type ChatMessage struct {
	Role    string `json:"role"` // user, assistant, system
	Content string `json:"content"`
}

// Request captures the normalized model input produced by the engine stages.
// ForceJSON asks the provider for a JSON object response where supported;
// stages still validate the payload themselves.
type Request struct {
	System    string        `json:"system,omitempty"`
	Messages  []ChatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
	ForceJSON bool          `json:"force_json,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the single completion returned for a request.
type Response struct {
	Text  string      `json:"text"`
	Usage *TokenUsage `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "openai", "anthropic", "mock", etc.
}

// Model is the minimal interface required by the engine to drive generation.
type Model interface {
	Complete(ctx context.Context, req Request) (Response, error)

	// Info returns information about the model implementation.
	Info() Info
}

// MockModel is a lightweight in-memory Model useful for tests and examples.
// Scripted responses (Enqueue) are consumed first; otherwise the canned
// response registered for the last message content is returned, falling back
// to a deterministic echo.
type MockModel struct {
	mu        sync.Mutex
	info      Info
	responses map[string]string
	queue     []string
	requests  []Request
}

// NewMockModel constructs a MockModel.
func NewMockModel(name string) *MockModel {
	return &MockModel{
		info:      Info{Name: name, Provider: "mock"},
		responses: map[string]string{},
	}
}

// AddResponse registers a deterministic canned completion for an input prompt.
func (m *MockModel) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// Enqueue appends a scripted response consumed before any canned matches.
func (m *MockModel) Enqueue(responses ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, responses...)
}

// Requests returns a copy of every request seen, for assertions.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// Complete implements Model.
func (m *MockModel) Complete(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)

	if len(m.queue) > 0 {
		next := m.queue[0]
		m.queue = m.queue[1:]
		return Response{Text: next}, nil
	}

	var last string
	if len(req.Messages) > 0 {
		last = req.Messages[len(req.Messages)-1].Content
	}
	if canned, ok := m.responses[last]; ok {
		return Response{Text: canned}, nil
	}
	return Response{Text: fmt.Sprintf("Mock response to: %s", last)}, nil
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }
