// Package embedding stores the high-dimensional vectors owned by atoms and
// defines the boundary to the external embedding model.
package embedding

import (
	"context"
	"errors"

	"github.com/atomgrid/atomgrid/atom"
)

// ErrNotFound is returned when no embedding exists for an atom.
var ErrNotFound = errors.New("embedding not found")

// Embedding is the high-dimensional vector for one atom under one model.
// Embeddings are replaced wholesale on re-embedding, never patched in place.
type Embedding struct {
	AtomID    atom.ID
	ModelID   string
	Vector    []float32
	Dimension int
}

// Store holds embedding records. One embedding per atom per model; the store
// keeps only the latest model's record for an atom.
type Store interface {
	// Put inserts or replaces the embedding for an atom.
	Put(ctx context.Context, e Embedding) error

	// Get returns the embedding for an atom.
	Get(ctx context.Context, id atom.ID) (*Embedding, error)

	// Has reports whether an embedding exists without copying the vector.
	Has(ctx context.Context, id atom.ID) (bool, error)

	// Delete removes an atom's embedding. Deleting a missing record is a
	// no-op so garbage collection is idempotent.
	Delete(ctx context.Context, id atom.ID) error

	// Count returns the number of stored embeddings.
	Count(ctx context.Context) (int, error)

	// ForEach visits every embedding in ascending atom ID order.
	ForEach(ctx context.Context, fn func(e *Embedding) error) error

	Close() error
}
