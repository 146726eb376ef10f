package geo

import (
	"context"
	"fmt"

	"github.com/atomgrid/atomgrid/atom"
	"github.com/atomgrid/atomgrid/distance"
)

// Noise is the DBSCAN label for atoms that belong to no cluster.
const Noise = -1

// DBSCANOptions configure a clustering run.
type DBSCANOptions struct {
	// MaxRegionQueries bounds the total neighborhood scans. Zero means
	// len(corpus) * 2, enough for any complete run.
	MaxRegionQueries int
}

// DBSCAN assigns a cluster label to every embedded atom: atoms with at least
// minPoints neighbors within epsilon seed clusters, density-reachable atoms
// join them, everything else is labeled Noise.
//
// Seeds are visited in ascending atom ID order and labels are assigned
// sequentially from 0, so identical inputs produce identical labels. On
// budget or context exhaustion the labels computed so far are returned
// together with ErrBudgetExceeded; a partial result is never silently
// presented as complete.
func DBSCAN(ctx context.Context, corpus Corpus, epsilon float64, minPoints int, metric distance.Metric, optFns ...func(o *DBSCANOptions)) (map[atom.ID]int, error) {
	var opts DBSCANOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if epsilon < 0 || minPoints < 1 {
		return nil, fmt.Errorf("invalid dbscan parameters: epsilon=%v min_points=%d", epsilon, minPoints)
	}
	distFn, err := metric.Provider()
	if err != nil {
		return nil, err
	}

	ids := make([]atom.ID, 0, corpus.Len())
	vecs := make([][]float32, 0, corpus.Len())
	corpus.ForEach(func(id atom.ID, vec []float32) bool {
		ids = append(ids, id)
		vecs = append(vecs, vec)
		return true
	})

	budget := opts.MaxRegionQueries
	if budget <= 0 {
		budget = 2 * len(ids)
	}

	// neighborhood returns indices within epsilon of point i, including i.
	queries := 0
	neighborhood := func(i int) ([]int, bool) {
		if queries >= budget {
			return nil, false
		}
		queries++

		var nb []int
		for j, v := range vecs {
			if distFn(vecs[i], v) <= epsilon {
				nb = append(nb, j)
			}
		}
		return nb, true
	}

	const unvisited = -2
	labels := make([]int, len(ids))
	for i := range labels {
		labels[i] = unvisited
	}

	result := func() map[atom.ID]int {
		out := make(map[atom.ID]int, len(ids))
		for i, id := range ids {
			l := labels[i]
			if l == unvisited {
				l = Noise
			}
			out[id] = l
		}
		return out
	}

	next := 0
	for i := range ids {
		if labels[i] != unvisited {
			continue
		}
		if err := ctx.Err(); err != nil {
			return result(), fmt.Errorf("%w: %w", ErrBudgetExceeded, err)
		}

		nb, ok := neighborhood(i)
		if !ok {
			return result(), ErrBudgetExceeded
		}
		if len(nb) < minPoints {
			labels[i] = Noise
			continue
		}

		cluster := next
		next++
		labels[i] = cluster

		// Expand the cluster over density-reachable points. The frontier is
		// processed in insertion order, which is deterministic.
		frontier := append([]int(nil), nb...)
		for f := 0; f < len(frontier); f++ {
			j := frontier[f]
			if labels[j] == Noise {
				labels[j] = cluster // border point
			}
			if labels[j] != unvisited {
				continue
			}
			labels[j] = cluster

			jnb, ok := neighborhood(j)
			if !ok {
				return result(), ErrBudgetExceeded
			}
			if len(jnb) >= minPoints {
				frontier = append(frontier, jnb...)
			}
		}
	}

	return result(), nil
}
