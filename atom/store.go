package atom

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when an atom does not exist.
	ErrNotFound = errors.New("atom not found")

	// ErrContentInvalid is returned for empty or oversized content.
	// Such content is rejected at the ingestion boundary and never stored.
	ErrContentInvalid = errors.New("invalid content")
)

// DefaultMaxContentSize is the default upper bound for a single atom's
// canonical content.
const DefaultMaxContentSize = 4 << 20 // 4 MiB

// Store is the atom store contract.
//
// Put must be atomic under concurrent identical inserts: two concurrent Put
// calls with identical content yield exactly one atom with ReferenceCount 2,
// never two atoms.
type Store interface {
	// Put inserts content, deduplicating by canonical content hash.
	// created is false when the content already existed and only the
	// reference count was incremented.
	Put(ctx context.Context, content []byte, modality Modality) (id ID, created bool, err error)

	// Get returns the atom record.
	Get(ctx context.Context, id ID) (*Atom, error)

	// Content returns the stored payload bytes.
	Content(ctx context.Context, id ID) ([]byte, error)

	// GetByHash resolves a content hash to an atom ID, if present.
	GetByHash(ctx context.Context, hash ContentHash) (ID, bool, error)

	// Release decrements the reference count and returns the remaining
	// count. At zero the atom and its relations are removed; dependent
	// records (embeddings, projections, index entries) are the caller's
	// garbage-collection responsibility.
	Release(ctx context.Context, id ID) (remaining int64, err error)

	// Count returns the number of live atoms.
	Count(ctx context.Context) (int, error)

	// ForEach visits every live atom. Iteration order is ascending ID.
	ForEach(ctx context.Context, fn func(a *Atom) error) error

	// AddRelation inserts or replaces a typed edge between two atoms.
	AddRelation(ctx context.Context, r Relation) error

	// Relations returns all outgoing edges of an atom, ordered by
	// (target, type) for reproducibility.
	Relations(ctx context.Context, source ID) ([]Relation, error)

	// RelationsByType returns the outgoing edges of an atom with the given
	// type, in target order.
	RelationsByType(ctx context.Context, source ID, relType string) ([]Relation, error)

	Close() error
}

func validateContent(content []byte, maxSize int) error {
	if len(content) == 0 {
		return ErrContentInvalid
	}
	if maxSize > 0 && len(content) > maxSize {
		return ErrContentInvalid
	}
	return nil
}
