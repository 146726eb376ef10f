package spatial

import (
	"sync"
	"sync/atomic"

	"github.com/atomgrid/atomgrid/atom"
)

// IndexOptions configure an Index.
type IndexOptions struct {
	// Curve selects the locality curve for leaf packing.
	Curve Curve

	// Bound is the half-width of the indexed cube.
	Bound float64

	// LeafSize is the entries-per-leaf fan-out.
	LeafSize int
}

// DefaultIndexOptions are the defaults used by New.
var DefaultIndexOptions = IndexOptions{
	Curve:    CurveHilbert,
	Bound:    1000,
	LeafSize: DefaultLeafSize,
}

// Index stages coordinate upserts and deletions and publishes them as
// immutable generations. Readers call Snapshot and keep using the returned
// generation for as long as they need a consistent view; writers batch
// mutations and Flush.
type Index struct {
	opts IndexOptions

	mu      sync.Mutex // serializes staging and flush
	staged  map[atom.ID]stagedEntry
	deleted map[atom.ID]struct{}

	gen    atomic.Pointer[Generation]
	nextID atomic.Uint64
}

// New creates an empty index holding an empty generation 0.
func New(optFns ...func(o *IndexOptions)) *Index {
	opts := DefaultIndexOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	ix := &Index{
		opts:    opts,
		staged:  make(map[atom.ID]stagedEntry),
		deleted: make(map[atom.ID]struct{}),
	}
	ix.gen.Store(buildGeneration(0, 0, opts.Curve, opts.Bound, opts.LeafSize, nil))
	return ix
}

// Snapshot returns the current generation. The result is immutable and stays
// valid across later flushes.
func (ix *Index) Snapshot() *Generation {
	return ix.gen.Load()
}

// stagedEntry carries the anchor version a coordinate was projected under,
// so Flush can reject entries staged against a superseded anchor set.
type stagedEntry struct {
	entry   Entry
	version uint32
}

// Stage records an upsert for the next flush, tagged with the anchor version
// the coordinate was projected under. Restaging an atom replaces its pending
// coordinate.
func (ix *Index) Stage(id atom.ID, coord [3]float64, anchorVersion uint32) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.deleted, id)
	ix.staged[id] = stagedEntry{entry: Entry{AtomID: id, Coord: coord}, version: anchorVersion}
}

// StageDelete records a removal for the next flush.
func (ix *Index) StageDelete(id atom.ID) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.staged, id)
	ix.deleted[id] = struct{}{}
}

// Pending returns the number of staged mutations.
func (ix *Index) Pending() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.staged) + len(ix.deleted)
}

// Flush builds and publishes a new generation from the current one plus all
// staged mutations, tagged with the given anchor version. A generation never
// mixes coordinates from different anchor sets: carried-over entries are
// dropped when the version changed, and staged entries projected under any
// other version are discarded rather than published. Reprojection restages
// the discarded atoms under the live version.
func (ix *Index) Flush(anchorVersion uint32) *Generation {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	cur := ix.gen.Load()
	carry := cur.Len() > 0 && cur.AnchorVersion == anchorVersion

	entries := make([]Entry, 0, cur.Len()+len(ix.staged))
	if carry {
		for _, e := range cur.entries {
			if _, del := ix.deleted[e.AtomID]; del {
				continue
			}
			if _, replaced := ix.staged[e.AtomID]; replaced {
				continue
			}
			entries = append(entries, e)
		}
	}
	for _, se := range ix.staged {
		if se.version != anchorVersion {
			continue
		}
		entries = append(entries, se.entry)
	}

	next := buildGeneration(ix.nextID.Add(1), anchorVersion, ix.opts.Curve, ix.opts.Bound, ix.opts.LeafSize, entries)
	ix.gen.Store(next)

	ix.staged = make(map[atom.ID]stagedEntry)
	ix.deleted = make(map[atom.ID]struct{})
	return next
}

// Rebuild discards the current generation and all staged mutations and
// publishes a generation built wholesale from the given entries. Used when
// restoring from a snapshot or after an anchor rotation reprojects the full
// corpus.
func (ix *Index) Rebuild(entries []Entry, anchorVersion uint32) *Generation {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	cp := make([]Entry, len(entries))
	copy(cp, entries)

	next := buildGeneration(ix.nextID.Add(1), anchorVersion, ix.opts.Curve, ix.opts.Bound, ix.opts.LeafSize, cp)
	ix.gen.Store(next)

	ix.staged = make(map[atom.ID]stagedEntry)
	ix.deleted = make(map[atom.ID]struct{})
	return next
}
