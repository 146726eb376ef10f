package embedding

import (
	"context"
	"sort"
	"sync"

	"github.com/atomgrid/atomgrid/atom"
)

// MemoryStore is an in-memory embedding Store.
type MemoryStore struct {
	mu         sync.RWMutex
	embeddings map[atom.ID]Embedding
}

// NewMemoryStore creates an empty in-memory embedding store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{embeddings: make(map[atom.ID]Embedding)}
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, e Embedding) error {
	vec := make([]float32, len(e.Vector))
	copy(vec, e.Vector)
	e.Vector = vec
	e.Dimension = len(vec)

	s.mu.Lock()
	s.embeddings[e.AtomID] = e
	s.mu.Unlock()
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id atom.ID) (*Embedding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.embeddings[id]
	if !ok {
		return nil, ErrNotFound
	}
	vec := make([]float32, len(e.Vector))
	copy(vec, e.Vector)
	e.Vector = vec
	return &e, nil
}

// Has implements Store.
func (s *MemoryStore) Has(_ context.Context, id atom.ID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.embeddings[id]
	return ok, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, id atom.ID) error {
	s.mu.Lock()
	delete(s.embeddings, id)
	s.mu.Unlock()
	return nil
}

// Count implements Store.
func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.embeddings), nil
}

// ForEach implements Store.
func (s *MemoryStore) ForEach(ctx context.Context, fn func(e *Embedding) error) error {
	s.mu.RLock()
	ids := make([]atom.ID, 0, len(s.embeddings))
	for id := range s.embeddings {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	snapshot := make([]Embedding, 0, len(ids))
	for _, id := range ids {
		snapshot = append(snapshot, s.embeddings[id])
	}
	s.mu.RUnlock()

	for i := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(&snapshot[i]); err != nil {
			return err
		}
	}
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
