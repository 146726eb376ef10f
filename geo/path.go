package geo

import (
	"container/heap"
	"context"

	"github.com/atomgrid/atomgrid/atom"
	"github.com/atomgrid/atomgrid/distance"
	"github.com/atomgrid/atomgrid/queue"
)

// PathStatus classifies how a pathfinding run terminated.
type PathStatus int

const (
	// StatusFound means the path reaches the goal atom, or a node within
	// Epsilon of the goal when Epsilon is set.
	StatusFound PathStatus = iota

	// StatusNoPath means the reachable neighborhood was exhausted without
	// reaching the goal.
	StatusNoPath

	// StatusBudgetExceeded means MaxExpansions ran out. The returned path
	// leads to the expanded node closest to the goal and is explicitly
	// partial.
	StatusBudgetExceeded
)

func (s PathStatus) String() string {
	switch s {
	case StatusFound:
		return "found"
	case StatusNoPath:
		return "no_path"
	case StatusBudgetExceeded:
		return "budget_exceeded"
	default:
		return "unknown"
	}
}

// Path is the result of FindPath.
type Path struct {
	Status     PathStatus
	Atoms      []atom.ID // start..end, empty for StatusNoPath
	Cost       float64   // accumulated edge distance along Atoms
	Expansions int
}

// PathOptions configure FindPath.
type PathOptions struct {
	// MaxNeighbors bounds the successor edges generated per expansion.
	MaxNeighbors int

	// MaxExpansions is the hard expansion budget.
	MaxExpansions int

	// Epsilon terminates the search at any node within this metric distance
	// of the goal vector. Zero requires reaching the goal atom itself.
	Epsilon float64

	// Relations supplies explicit graph edges for an atom, traversed in
	// addition to the implicit nearest-neighbor edges.
	Relations func(id atom.ID) []atom.Relation
}

// DefaultPathOptions are the defaults used by FindPath.
var DefaultPathOptions = PathOptions{
	MaxNeighbors:  8,
	MaxExpansions: 1000,
}

// FindPath runs A* from start to goal over the implicit neighbor graph: each
// expansion generates up to MaxNeighbors successors by exact KNN from the
// expanded atom, plus any explicit relations. Edge cost and heuristic are
// both the metric distance between embeddings, which keeps the heuristic
// admissible for true metrics; for cosine the result is best-effort rather
// than provably shortest.
//
// The search is read-only and always terminates with an explicit status.
func FindPath(ctx context.Context, corpus Corpus, start, goal atom.ID, metric distance.Metric, optFns ...func(o *PathOptions)) (Path, error) {
	opts := DefaultPathOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	distFn, err := metric.Provider()
	if err != nil {
		return Path{}, err
	}

	goalVec, ok := corpus.Vector(goal)
	if !ok {
		return Path{}, ErrVectorNotFound
	}
	startVec, ok := corpus.Vector(start)
	if !ok {
		return Path{}, ErrVectorNotFound
	}

	h := func(vec []float32) float64 { return distFn(vec, goalVec) }

	gScore := map[atom.ID]float64{start: 0}
	cameFrom := map[atom.ID]atom.ID{}
	closed := map[atom.ID]bool{}

	open := queue.NewMin()
	heap.Push(open, &queue.Item{ID: uint64(start), Priority: h(startVec)})

	// Closest expanded node to the goal, for the partial path on budget
	// exhaustion.
	nearest := start
	nearestH := h(startVec)

	expansions := 0
	for open.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return Path{}, err
		}

		cur := atom.ID(heap.Pop(open).(*queue.Item).ID)
		if closed[cur] {
			continue // stale queue entry
		}
		closed[cur] = true

		curVec, ok := corpus.Vector(cur)
		if !ok {
			continue
		}
		curH := h(curVec)

		if cur == goal || (opts.Epsilon > 0 && curH <= opts.Epsilon) {
			atoms, cost := reconstruct(cameFrom, gScore, cur)
			return Path{Status: StatusFound, Atoms: atoms, Cost: cost, Expansions: expansions}, nil
		}

		if curH < nearestH {
			nearest, nearestH = cur, curH
		}

		if expansions >= opts.MaxExpansions {
			atoms, cost := reconstruct(cameFrom, gScore, nearest)
			return Path{Status: StatusBudgetExceeded, Atoms: atoms, Cost: cost, Expansions: expansions}, nil
		}
		expansions++

		for _, succ := range successors(ctx, corpus, cur, curVec, distFn, &opts) {
			if closed[succ.AtomID] {
				continue
			}
			tentative := gScore[cur] + succ.Dist
			if prev, seen := gScore[succ.AtomID]; seen && tentative >= prev {
				continue
			}
			gScore[succ.AtomID] = tentative
			cameFrom[succ.AtomID] = cur

			succVec, ok := corpus.Vector(succ.AtomID)
			if !ok {
				continue
			}
			heap.Push(open, &queue.Item{ID: uint64(succ.AtomID), Priority: tentative + h(succVec)})
		}
	}

	return Path{Status: StatusNoPath, Expansions: expansions}, nil
}

// successors yields up to MaxNeighbors implicit KNN edges plus the atom's
// explicit relations, deduplicated.
func successors(ctx context.Context, corpus Corpus, cur atom.ID, curVec []float32, distFn distance.Func, opts *PathOptions) []Result {
	// One extra so dropping cur itself still leaves MaxNeighbors.
	nn, err := bruteKNN(ctx, corpus, curVec, opts.MaxNeighbors+1, distFn)
	if err != nil {
		return nil
	}

	out := make([]Result, 0, len(nn))
	seen := map[atom.ID]bool{cur: true}
	for _, r := range nn {
		if seen[r.AtomID] {
			continue
		}
		seen[r.AtomID] = true
		out = append(out, r)
	}
	if len(out) > opts.MaxNeighbors {
		out = out[:opts.MaxNeighbors]
	}

	if opts.Relations != nil {
		for _, rel := range opts.Relations(cur) {
			if seen[rel.Target] {
				continue
			}
			vec, ok := corpus.Vector(rel.Target)
			if !ok {
				continue
			}
			seen[rel.Target] = true
			out = append(out, Result{AtomID: rel.Target, Dist: distFn(curVec, vec)})
		}
	}
	return out
}

func reconstruct(cameFrom map[atom.ID]atom.ID, gScore map[atom.ID]float64, end atom.ID) ([]atom.ID, float64) {
	var rev []atom.ID
	for cur := end; ; {
		rev = append(rev, cur)
		prev, ok := cameFrom[cur]
		if !ok {
			break
		}
		cur = prev
	}
	atoms := make([]atom.ID, len(rev))
	for i, id := range rev {
		atoms[len(rev)-1-i] = id
	}
	return atoms, gScore[end]
}
