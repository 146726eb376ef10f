// Package geo is the geometric and graph algorithm suite: exact and hybrid
// KNN, A* pathfinding over the implicit neighbor graph, DBSCAN clustering,
// Voronoi membership, and 2D hull/triangulation helpers.
//
// Everything here is a read-only consumer of the stores and the spatial
// index. Long-running operations take a context and an explicit budget and
// report truncation instead of returning silently partial results.
package geo

import (
	"errors"
	"sort"

	"github.com/atomgrid/atomgrid/atom"
)

var (
	// ErrBudgetExceeded is returned when an operation hits its expansion or
	// iteration budget before completing. Results returned alongside it are
	// explicitly partial.
	ErrBudgetExceeded = errors.New("query budget exceeded")

	// ErrVectorNotFound is returned when a referenced atom has no embedding
	// in the corpus.
	ErrVectorNotFound = errors.New("vector not found in corpus")
)

// Corpus is the read view of the embedding set the algorithms operate on.
// ForEach must visit atoms in ascending ID order; the suite relies on that
// for deterministic results.
type Corpus interface {
	// Len returns the number of embedded atoms.
	Len() int

	// Vector returns the embedding vector of one atom.
	Vector(id atom.ID) ([]float32, bool)

	// ForEach visits every (atom, vector) pair in ascending atom ID order
	// until fn returns false.
	ForEach(fn func(id atom.ID, vec []float32) bool)
}

// Result is one ranked query answer.
type Result struct {
	AtomID atom.ID
	Dist   float64
}

// sortResults orders by ascending distance, ascending atom ID on ties.
func sortResults(rs []Result) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].Dist != rs[j].Dist {
			return rs[i].Dist < rs[j].Dist
		}
		return rs[i].AtomID < rs[j].AtomID
	})
}

// MapCorpus is an in-memory Corpus, mainly for tests and small scopes.
type MapCorpus struct {
	ids  []atom.ID
	vecs map[atom.ID][]float32
}

// NewMapCorpus builds a corpus from a map of vectors.
func NewMapCorpus(vecs map[atom.ID][]float32) *MapCorpus {
	ids := make([]atom.ID, 0, len(vecs))
	for id := range vecs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return &MapCorpus{ids: ids, vecs: vecs}
}

func (c *MapCorpus) Len() int { return len(c.ids) }

func (c *MapCorpus) Vector(id atom.ID) ([]float32, bool) {
	v, ok := c.vecs[id]
	return v, ok
}

func (c *MapCorpus) ForEach(fn func(id atom.ID, vec []float32) bool) {
	for _, id := range c.ids {
		if !fn(id, c.vecs[id]) {
			return
		}
	}
}
