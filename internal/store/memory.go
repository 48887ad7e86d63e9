package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryRefStore is an in-memory RefStore, used in tests and as the cache
// layer behind the sqlite store.
type MemoryRefStore struct {
	mu   sync.RWMutex
	refs map[string]ConversationReference
}

// NewMemoryRefStore creates an empty in-memory store.
func NewMemoryRefStore() *MemoryRefStore {
	return &MemoryRefStore{refs: make(map[string]ConversationReference)}
}

func refKey(provider, conversationID string) string {
	return provider + "\x00" + conversationID
}

func (s *MemoryRefStore) Upsert(_ context.Context, ref ConversationReference) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := refKey(ref.Provider, ref.ConversationID)
	if existing, ok := s.refs[key]; ok {
		s.refs[key] = merge(existing, ref)
		return nil
	}
	s.refs[key] = ref
	return nil
}

func (s *MemoryRefStore) Get(_ context.Context, provider, conversationID string) (ConversationReference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ref, ok := s.refs[refKey(provider, conversationID)]
	if !ok {
		return ConversationReference{}, ErrNotFound
	}
	return ref, nil
}

func (s *MemoryRefStore) List(_ context.Context, provider string) ([]ConversationReference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ConversationReference, 0)
	for _, ref := range s.refs {
		if ref.Provider == provider {
			out = append(out, ref)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ConversationID < out[j].ConversationID
	})
	return out, nil
}

func (s *MemoryRefStore) Close() error { return nil }
