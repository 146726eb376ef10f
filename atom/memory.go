package atom

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store implementation.
// All mutation paths serialize on one mutex; the hash-unique constraint is the
// sole invariant that needs it, and map access requires the lock anyway.
type MemoryStore struct {
	mu        sync.RWMutex
	nextID    ID
	atoms     map[ID]*Atom
	content   map[ID][]byte
	byHash    map[ContentHash]ID
	relations map[ID][]Relation
	maxSize   int
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithMaxContentSize overrides the content size limit. Zero disables it.
func WithMaxContentSize(n int) MemoryStoreOption {
	return func(s *MemoryStore) { s.maxSize = n }
}

// NewMemoryStore creates an empty in-memory atom store.
func NewMemoryStore(optFns ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		nextID:    1,
		atoms:     make(map[ID]*Atom),
		content:   make(map[ID][]byte),
		byHash:    make(map[ContentHash]ID),
		relations: make(map[ID][]Relation),
		maxSize:   DefaultMaxContentSize,
	}
	for _, fn := range optFns {
		fn(s)
	}
	return s
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, content []byte, modality Modality) (ID, bool, error) {
	if err := validateContent(content, s.maxSize); err != nil {
		return 0, false, err
	}

	canonical := Canonicalize(content, modality)
	if err := validateContent(canonical, s.maxSize); err != nil {
		return 0, false, err
	}
	hash := HashContent(canonical)

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byHash[hash]; ok {
		s.atoms[id].ReferenceCount++
		return id, false, nil
	}

	id := s.nextID
	s.nextID++

	s.atoms[id] = &Atom{
		ID:             id,
		Hash:           hash,
		Modality:       modality,
		ReferenceCount: 1,
		CreatedAt:      time.Now().UTC(),
	}
	stored := make([]byte, len(canonical))
	copy(stored, canonical)
	s.content[id] = stored
	s.byHash[hash] = id

	return id, true, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id ID) (*Atom, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.atoms[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

// Content implements Store.
func (s *MemoryStore) Content(_ context.Context, id ID) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.content[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(c))
	copy(cp, c)
	return cp, nil
}

// GetByHash implements Store.
func (s *MemoryStore) GetByHash(_ context.Context, hash ContentHash) (ID, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byHash[hash]
	return id, ok, nil
}

// Release implements Store.
func (s *MemoryStore) Release(_ context.Context, id ID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.atoms[id]
	if !ok {
		return 0, ErrNotFound
	}

	a.ReferenceCount--
	if a.ReferenceCount > 0 {
		return a.ReferenceCount, nil
	}

	delete(s.byHash, a.Hash)
	delete(s.atoms, id)
	delete(s.content, id)
	delete(s.relations, id)
	return 0, nil
}

// Count implements Store.
func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.atoms), nil
}

// ForEach implements Store.
func (s *MemoryStore) ForEach(ctx context.Context, fn func(a *Atom) error) error {
	s.mu.RLock()
	ids := make([]ID, 0, len(s.atoms))
	for id := range s.atoms {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	snapshot := make([]Atom, 0, len(ids))
	for _, id := range ids {
		snapshot = append(snapshot, *s.atoms[id])
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

// AddRelation implements Store.
func (s *MemoryStore) AddRelation(_ context.Context, r Relation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.atoms[r.Source]; !ok {
		return ErrNotFound
	}
	if _, ok := s.atoms[r.Target]; !ok {
		return ErrNotFound
	}

	edges := s.relations[r.Source]
	for i, e := range edges {
		if e.Target == r.Target && e.Type == r.Type {
			edges[i] = r
			return nil
		}
	}
	s.relations[r.Source] = append(edges, r)
	return nil
}

// Relations implements Store.
func (s *MemoryStore) Relations(_ context.Context, source ID) ([]Relation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.atoms[source]; !ok {
		return nil, ErrNotFound
	}

	edges := make([]Relation, len(s.relations[source]))
	copy(edges, s.relations[source])
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Target != edges[j].Target {
			return edges[i].Target < edges[j].Target
		}
		return edges[i].Type < edges[j].Type
	})
	return edges, nil
}

// RelationsByType implements Store.
func (s *MemoryStore) RelationsByType(ctx context.Context, source ID, relType string) ([]Relation, error) {
	all, err := s.Relations(ctx, source)
	if err != nil {
		return nil, err
	}
	out := all[:0:0]
	for _, r := range all {
		if r.Type == relType {
			out = append(out, r)
		}
	}
	return out, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
