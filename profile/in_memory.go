// Package profile provides ProfileStore implementations. Profiles are owned
// by external identity systems; the engine reads them once per session and
// never writes them back.
package profile

import (
	"context"
	"sync"
)

// InMemoryStore is a process-local ProfileStore keyed by tenant and user.
type InMemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]map[string]string
}

// NewInMemoryStore creates an empty in-memory profile store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{profiles: map[string]map[string]string{}}
}

// Put stores the attributes for a tenant/user pair, replacing any previous
// value.
func (s *InMemoryStore) Put(tenantID, userID string, attrs map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make(map[string]string, len(attrs))
	for k, v := range attrs {
		copied[k] = v
	}
	s.profiles[key(tenantID, userID)] = copied
}

// Load implements core.ProfileStore. Unknown users yield an empty profile,
// not an error.
func (s *InMemoryStore) Load(_ context.Context, tenantID, userID string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	attrs := s.profiles[key(tenantID, userID)]
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out, nil
}

func key(tenantID, userID string) string { return tenantID + "/" + userID }
