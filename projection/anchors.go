// Package projection maps high-dimensional embeddings to bounded 3D
// coordinates by multilateration against a fixed, versioned anchor set.
//
// The projection preserves coarse neighborhood structure approximately, not
// exactly; it exists to make embeddings indexable, and exact ranking is
// always re-done in full dimension by the query layer.
package projection

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/atomgrid/atomgrid/distance"
)

var (
	// ErrTooFewAnchors is returned when registering fewer than 3 anchors.
	ErrTooFewAnchors = errors.New("anchor set requires at least 3 anchors")

	// ErrVersionUnknown is returned when looking up an unregistered version.
	ErrVersionUnknown = errors.New("unknown anchor set version")
)

// DefaultBound is the half-width of the cubic region coordinates are clamped
// to. The spatial index discretizes against the same region.
const DefaultBound = 1000.0

// degenEps is the tolerance below which anchor geometry (coincident or
// collinear anchors, vanishing determinants) is treated as degenerate.
const degenEps = 1e-9

// Confidence flags the quality of a projection.
type Confidence uint8

const (
	// ConfidenceHigh marks a well-conditioned projection, eligible for the
	// indexed coarse filter.
	ConfidenceHigh Confidence = iota

	// ConfidenceLow marks a degenerate projection. Low-confidence atoms
	// participate only in brute-force fallback queries.
	ConfidenceLow
)

func (c Confidence) String() string {
	if c == ConfidenceLow {
		return "low"
	}
	return "high"
}

// Projection is a bounded 3D coordinate for one embedding under one anchor
// set version.
type Projection struct {
	Coord         [3]float64
	AnchorVersion uint32
	Confidence    Confidence
}

// AnchorSet is an immutable, versioned set of k >= 3 anchor vectors together
// with their fixed reduced-space positions.
type AnchorSet struct {
	Version   uint32
	Dimension int
	Metric    distance.Metric

	anchors    [][]float32
	positions  [][3]float64 // reduced-space anchor coordinates
	pairwise   [][]float64  // high-dimensional anchor distances
	degenerate bool
}

// Anchors returns a copy of the anchor vectors.
func (s *AnchorSet) Anchors() [][]float32 {
	out := make([][]float32, len(s.anchors))
	for i, a := range s.anchors {
		out[i] = append([]float32(nil), a...)
	}
	return out
}

// Len returns the number of anchors.
func (s *AnchorSet) Len() int { return len(s.anchors) }

// Degenerate reports whether the anchor geometry itself is ill-conditioned.
// Projections through a degenerate set are always low confidence.
func (s *AnchorSet) Degenerate() bool { return s.degenerate }

// Registry holds published anchor sets. Registering a set publishes a new
// version; sets are never mutated in place.
type Registry struct {
	mu      sync.RWMutex
	metric  distance.Metric
	sets    map[uint32]*AnchorSet
	current uint32
}

// NewRegistry creates an empty registry using the given metric for anchor
// distance measurements.
func NewRegistry(metric distance.Metric) *Registry {
	return &Registry{
		metric: metric,
		sets:   make(map[uint32]*AnchorSet),
	}
}

// Register validates and publishes a new anchor set, returning its version.
// The new version becomes current immediately; reprojection of existing atoms
// is the caller's concern.
func (r *Registry) Register(anchors [][]float32) (*AnchorSet, error) {
	if len(anchors) < 3 {
		return nil, ErrTooFewAnchors
	}
	dim := len(anchors[0])
	if dim == 0 {
		return nil, fmt.Errorf("anchor 0: empty vector")
	}
	for i, a := range anchors {
		if len(a) != dim {
			return nil, fmt.Errorf("anchor %d: dimension %d, want %d", i, len(a), dim)
		}
	}

	cp := make([][]float32, len(anchors))
	for i, a := range anchors {
		cp[i] = append([]float32(nil), a...)
	}

	set := &AnchorSet{
		Dimension: dim,
		Metric:    r.metric,
		anchors:   cp,
	}
	placeAnchors(set)

	r.mu.Lock()
	r.current++
	set.Version = r.current
	r.sets[set.Version] = set
	r.mu.Unlock()

	return set, nil
}

// Get returns the anchor set for a version.
func (r *Registry) Get(version uint32) (*AnchorSet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.sets[version]
	if !ok {
		return nil, ErrVersionUnknown
	}
	return set, nil
}

// Current returns the most recently registered anchor set, or nil when none
// has been published.
func (r *Registry) Current() *AnchorSet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sets[r.current]
}

// CurrentVersion returns the current version, 0 when empty.
func (r *Registry) CurrentVersion() uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// placeAnchors computes reduced-space positions from pairwise anchor
// distances: anchor 0 at the origin, anchor 1 on +x, anchor 2 in the xy
// plane, later anchors by least squares with the +z branch.
func placeAnchors(s *AnchorSet) {
	k := len(s.anchors)
	distFn, err := s.Metric.Provider()
	if err != nil {
		s.degenerate = true
		return
	}

	s.pairwise = make([][]float64, k)
	for i := range s.pairwise {
		s.pairwise[i] = make([]float64, k)
	}
	for i := 0; i < k; i++ {
		for j := i + 1; j < k; j++ {
			d := distFn(s.anchors[i], s.anchors[j])
			s.pairwise[i][j] = d
			s.pairwise[j][i] = d
		}
	}

	s.positions = make([][3]float64, k)

	d01 := s.pairwise[0][1]
	if d01 < degenEps {
		s.degenerate = true
		return
	}
	s.positions[1] = [3]float64{d01, 0, 0}

	d02 := s.pairwise[0][2]
	d12 := s.pairwise[1][2]
	x2 := (d01*d01 + d02*d02 - d12*d12) / (2 * d01)
	y2sq := d02*d02 - x2*x2
	if y2sq < degenEps {
		// Anchors 0,1,2 are collinear (or coincident).
		s.degenerate = true
		s.positions[2] = [3]float64{x2, 0, 0}
	} else {
		s.positions[2] = [3]float64{x2, math.Sqrt(y2sq), 0}
	}

	for i := 3; i < k; i++ {
		dists := make([]float64, i)
		for j := 0; j < i; j++ {
			dists[j] = s.pairwise[j][i]
		}
		pos, ok := solveMultilateration(s.positions[:i], dists)
		if !ok {
			s.degenerate = true
		}
		s.positions[i] = pos
	}
}
