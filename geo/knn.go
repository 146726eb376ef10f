package geo

import (
	"container/heap"
	"context"

	"github.com/atomgrid/atomgrid/atom"
	"github.com/atomgrid/atomgrid/distance"
	"github.com/atomgrid/atomgrid/internal/kmeans"
	"github.com/atomgrid/atomgrid/queue"
	"github.com/atomgrid/atomgrid/spatial"
)

const (
	// DefaultBruteForceThreshold is the corpus size below which KNN always
	// scans exhaustively instead of going through the coarse index.
	DefaultBruteForceThreshold = 10000

	// DefaultOverfetchFactor is how many coarse candidates are fetched per
	// requested result before the exact rerank.
	DefaultOverfetchFactor = 10
)

// KNNOptions configure a KNN query.
type KNNOptions struct {
	// BruteForceThreshold forces an exhaustive scan for corpora at or below
	// this size.
	BruteForceThreshold int

	// OverfetchFactor widens the coarse candidate set: k*OverfetchFactor
	// candidates are pulled from the index and reranked exactly.
	OverfetchFactor int

	// Generation is the index generation to draw coarse candidates from.
	// Nil forces brute force regardless of corpus size.
	Generation *spatial.Generation

	// ProjectQuery maps the query vector into reduced space under the
	// generation's anchor version. Required for the hybrid path.
	ProjectQuery func(vec []float32) ([3]float64, error)

	// Centroids restricts coarse candidates to the query's Voronoi cell
	// (plus boundary-adjacent cells when the query sits within
	// BoundaryEpsilon of a bisector). Nil disables partition elimination.
	Centroids [][3]float64

	// BoundaryEpsilon is the bisector distance below which neighboring
	// cells are searched too.
	BoundaryEpsilon float64
}

// DefaultKNNOptions are the defaults used by KNN.
var DefaultKNNOptions = KNNOptions{
	BruteForceThreshold: DefaultBruteForceThreshold,
	OverfetchFactor:     DefaultOverfetchFactor,
	BoundaryEpsilon:     1.0,
}

// KNN returns the k atoms nearest to query under the metric, ascending by
// distance with ascending atom ID breaking ties. Small corpora are scanned
// exhaustively; larger ones go coarse-filter-then-rerank through the index
// when one is provided.
func KNN(ctx context.Context, corpus Corpus, query []float32, k int, metric distance.Metric, optFns ...func(o *KNNOptions)) ([]Result, error) {
	opts := DefaultKNNOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if k <= 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	distFn, err := metric.Provider()
	if err != nil {
		return nil, err
	}

	hybrid := opts.Generation != nil && opts.ProjectQuery != nil &&
		corpus.Len() > opts.BruteForceThreshold
	if !hybrid {
		return bruteKNN(ctx, corpus, query, k, distFn)
	}

	coord, err := opts.ProjectQuery(query)
	if err != nil {
		// An unprojectable query still answers, just without the index.
		return bruteKNN(ctx, corpus, query, k, distFn)
	}

	overfetch := opts.OverfetchFactor
	if overfetch < 1 {
		overfetch = 1
	}
	candidates := opts.Generation.CoarseKNN(coord, k*overfetch)

	if len(opts.Centroids) > 0 {
		candidates = filterByCell(coord, candidates, opts.Centroids, opts.BoundaryEpsilon)
	}

	// Exact rerank in full dimension.
	results := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		vec, ok := corpus.Vector(c.AtomID)
		if !ok {
			continue
		}
		results = append(results, Result{AtomID: c.AtomID, Dist: distFn(query, vec)})
	}
	sortResults(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// bruteKNN scans the whole corpus, keeping the running top-k in a bounded
// max-heap.
func bruteKNN(ctx context.Context, corpus Corpus, query []float32, k int, distFn distance.Func) ([]Result, error) {
	pq := queue.NewMax()

	var scanErr error
	i := 0
	corpus.ForEach(func(id atom.ID, vec []float32) bool {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				scanErr = err
				return false
			}
		}
		i++

		d := distFn(query, vec)
		if pq.Len() < k {
			heap.Push(pq, &queue.Item{ID: uint64(id), Priority: d})
			return true
		}
		// The root is the worst kept candidate: farthest, largest ID among
		// equal-farthest. An equal-distance arrival with a smaller ID must
		// displace it or the ID tie-break would depend on scan order.
		if top := pq.Top(); d < top.Priority || (d == top.Priority && uint64(id) < top.ID) {
			heap.Pop(pq)
			heap.Push(pq, &queue.Item{ID: uint64(id), Priority: d})
		}
		return true
	})
	if scanErr != nil {
		return nil, scanErr
	}

	results := make([]Result, 0, pq.Len())
	for pq.Len() > 0 {
		it := heap.Pop(pq).(*queue.Item)
		results = append(results, Result{AtomID: atom.ID(it.ID), Dist: it.Priority})
	}
	sortResults(results)
	return results, nil
}

// filterByCell keeps candidates in the query's Voronoi cell. When the query
// lies within epsilon of a cell boundary the adjacent cell is kept too, so
// near-boundary queries do not lose their true neighbors.
func filterByCell(q [3]float64, candidates []spatial.Neighbor, centroids [][3]float64, epsilon float64) []spatial.Neighbor {
	cell, boundary := VoronoiMembership(q, centroids)
	if cell < 0 {
		return candidates
	}

	allowed := map[int]bool{cell: true}
	if boundary < epsilon {
		for _, c := range kmeans.Closest(q, centroids, 2) {
			allowed[c] = true
		}
	}

	out := candidates[:0]
	for _, c := range candidates {
		if allowed[kmeans.Assign(c.Coord, centroids)] {
			out = append(out, c)
		}
	}
	return out
}
