package checkpoint

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/agentgraph/core"
)

// InMemoryStore is a process-local CheckpointStore. Checkpoints are kept in
// insertion order per session so Latest and List need no timestamp sorting.
//
// Concurrency: protected by RWMutex.
type InMemoryStore struct {
	mu       sync.RWMutex
	byID     map[string]*core.Checkpoint
	sessions map[string][]string // sessionID -> checkpoint ids in write order
}

// NewInMemoryStore creates a new in-memory checkpoint store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:     map[string]*core.Checkpoint{},
		sessions: map[string][]string{},
	}
}

// Save implements core.CheckpointStore.
func (s *InMemoryStore) Save(_ context.Context, cp *core.Checkpoint) error {
	if cp == nil || cp.CheckpointID == "" {
		return fmt.Errorf("checkpoint id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *cp
	stored.State = cp.State.Clone()
	s.byID[cp.CheckpointID] = &stored
	s.sessions[cp.SessionID] = append(s.sessions[cp.SessionID], cp.CheckpointID)
	return nil
}

// Load implements core.CheckpointStore.
func (s *InMemoryStore) Load(_ context.Context, checkpointID string) (*core.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.byID[checkpointID]
	if !ok {
		return nil, core.ErrCheckpointNotFound
	}
	out := *cp
	out.State = cp.State.Clone()
	return &out, nil
}

// Latest implements core.CheckpointStore.
func (s *InMemoryStore) Latest(ctx context.Context, sessionID string) (*core.Checkpoint, error) {
	s.mu.RLock()
	ids := s.sessions[sessionID]
	if len(ids) == 0 {
		s.mu.RUnlock()
		return nil, core.ErrCheckpointNotFound
	}
	last := ids[len(ids)-1]
	s.mu.RUnlock()
	return s.Load(ctx, last)
}

// List implements core.CheckpointStore.
func (s *InMemoryStore) List(_ context.Context, sessionID string) ([]core.CheckpointMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.sessions[sessionID]
	metas := make([]core.CheckpointMeta, 0, len(ids))
	for _, id := range ids {
		if cp, ok := s.byID[id]; ok {
			metas = append(metas, cp.Meta())
		}
	}
	return metas, nil
}
