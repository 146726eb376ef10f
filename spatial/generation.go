package spatial

import (
	"math"
	"sort"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/atomgrid/atomgrid/atom"
)

// DefaultLeafSize is the number of entries per leaf node. Leaves hold runs of
// curve-adjacent entries, so a modest fan-out keeps boxes tight without
// deepening the tree much.
const DefaultLeafSize = 16

// Entry is one indexed atom: its projected coordinate and locality key.
type Entry struct {
	AtomID atom.ID
	Coord  [3]float64
	Key    uint64
}

// node is a packed bounding-volume tree node. Leaves reference a run of the
// sorted entry slice; internal nodes reference two child nodes.
type node struct {
	min, max    [3]float64
	left, right int32 // child node indices, -1 for leaves
	start, end  int32 // entry range for leaves
}

func (nd *node) leaf() bool { return nd.left < 0 }

// minDist returns the squared distance from q to the node's box, 0 inside.
func (nd *node) minDist(q [3]float64) float64 {
	var d2 float64
	for i := 0; i < 3; i++ {
		if q[i] < nd.min[i] {
			d := nd.min[i] - q[i]
			d2 += d * d
		} else if q[i] > nd.max[i] {
			d := q[i] - nd.max[i]
			d2 += d * d
		}
	}
	return d2
}

// Generation is one immutable build of the spatial index. Readers resolve a
// generation once and traverse it without coordination; a flush publishes a
// successor rather than mutating the structure in place.
type Generation struct {
	// ID increases by one per flush.
	ID uint64

	// AnchorVersion tags the anchor set every contained coordinate was
	// projected under. A generation never mixes versions.
	AnchorVersion uint32

	Curve Curve
	Bound float64

	entries []Entry // sorted by (Key, AtomID)
	nodes   []node  // root at index 0, empty when entries is empty
	members *roaring64.Bitmap
}

// buildGeneration sorts the entries along the curve and packs the tree.
// The entries slice is owned by the generation afterwards.
func buildGeneration(id uint64, anchorVersion uint32, curve Curve, bound float64, leafSize int, entries []Entry) *Generation {
	if leafSize <= 0 {
		leafSize = DefaultLeafSize
	}
	for i := range entries {
		entries[i].Key = Key(curve, entries[i].Coord, bound)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Key != entries[j].Key {
			return entries[i].Key < entries[j].Key
		}
		return entries[i].AtomID < entries[j].AtomID
	})

	g := &Generation{
		ID:            id,
		AnchorVersion: anchorVersion,
		Curve:         curve,
		Bound:         bound,
		entries:       entries,
		members:       roaring64.New(),
	}
	for _, e := range entries {
		g.members.Add(uint64(e.AtomID))
	}
	if len(entries) > 0 {
		g.nodes = make([]node, 0, 2*(len(entries)/leafSize+1))
		g.pack(0, int32(len(entries)), int32(leafSize))
	}
	return g
}

// pack builds the subtree over entries[start:end) and returns its node index.
// Splitting the curve-sorted run in half yields curve-packed boxes.
func (g *Generation) pack(start, end, leafSize int32) int32 {
	idx := int32(len(g.nodes))
	g.nodes = append(g.nodes, node{left: -1, right: -1, start: start, end: end})

	if end-start <= leafSize {
		nd := &g.nodes[idx]
		nd.min = g.entries[start].Coord
		nd.max = g.entries[start].Coord
		for _, e := range g.entries[start+1 : end] {
			for i := 0; i < 3; i++ {
				nd.min[i] = math.Min(nd.min[i], e.Coord[i])
				nd.max[i] = math.Max(nd.max[i], e.Coord[i])
			}
		}
		return idx
	}

	mid := start + (end-start)/2
	left := g.pack(start, mid, leafSize)
	right := g.pack(mid, end, leafSize)

	nd := &g.nodes[idx]
	nd.left, nd.right = left, right
	for i := 0; i < 3; i++ {
		nd.min[i] = math.Min(g.nodes[left].min[i], g.nodes[right].min[i])
		nd.max[i] = math.Max(g.nodes[left].max[i], g.nodes[right].max[i])
	}
	return idx
}

// Len returns the number of indexed atoms.
func (g *Generation) Len() int { return len(g.entries) }

// Contains reports membership of an atom in this generation.
func (g *Generation) Contains(id atom.ID) bool {
	return g.members.Contains(uint64(id))
}

// Members returns a copy of the membership bitmap.
func (g *Generation) Members() *roaring64.Bitmap {
	return g.members.Clone()
}

// Coord returns the indexed coordinate of an atom.
func (g *Generation) Coord(id atom.ID) ([3]float64, bool) {
	if !g.members.Contains(uint64(id)) {
		return [3]float64{}, false
	}
	for _, e := range g.entries {
		if e.AtomID == id {
			return e.Coord, true
		}
	}
	return [3]float64{}, false
}

// ForEach visits every entry in curve order.
func (g *Generation) ForEach(fn func(Entry) bool) {
	for _, e := range g.entries {
		if !fn(e) {
			return
		}
	}
}

// Neighbor is one coarse query result.
type Neighbor struct {
	AtomID atom.ID
	Coord  [3]float64
	Dist   float64 // reduced-space Euclidean distance to the query point
}

// RangeQuery returns all atoms within radius of center, ordered by ascending
// distance with ascending atom ID breaking ties.
func (g *Generation) RangeQuery(center [3]float64, radius float64) []Neighbor {
	if len(g.nodes) == 0 || radius < 0 {
		return nil
	}
	r2 := radius * radius

	var out []Neighbor
	var walk func(int32)
	walk = func(idx int32) {
		nd := &g.nodes[idx]
		if nd.minDist(center) > r2 {
			return
		}
		if nd.leaf() {
			for _, e := range g.entries[nd.start:nd.end] {
				d2 := sqDist3(center, e.Coord)
				if d2 <= r2 {
					out = append(out, Neighbor{AtomID: e.AtomID, Coord: e.Coord, Dist: math.Sqrt(d2)})
				}
			}
			return
		}
		walk(nd.left)
		walk(nd.right)
	}
	walk(0)

	sortNeighbors(out)
	return out
}

// CoarseKNN returns up to n atoms nearest to q in reduced space via best-first
// traversal, ordered by ascending distance with ascending atom ID breaking
// ties. It is a candidate generator: callers rerank in full dimension.
func (g *Generation) CoarseKNN(q [3]float64, n int) []Neighbor {
	if n <= 0 || len(g.nodes) == 0 {
		return nil
	}

	pq := newTraversalQueue()
	pq.pushNode(0, g.nodes[0].minDist(q))

	out := make([]Neighbor, 0, n)
	for pq.Len() > 0 {
		it := pq.pop()
		if it.entry >= 0 {
			e := g.entries[it.entry]
			out = append(out, Neighbor{AtomID: e.AtomID, Coord: e.Coord, Dist: math.Sqrt(it.dist)})
			if len(out) == n {
				break
			}
			continue
		}
		nd := &g.nodes[it.node]
		if nd.leaf() {
			for i := nd.start; i < nd.end; i++ {
				pq.pushEntry(i, sqDist3(q, g.entries[i].Coord), uint64(g.entries[i].AtomID))
			}
			continue
		}
		pq.pushNode(nd.left, g.nodes[nd.left].minDist(q))
		pq.pushNode(nd.right, g.nodes[nd.right].minDist(q))
	}
	return out
}

func sqDist3(a, b [3]float64) float64 {
	dx := a[0] - b[0]
	dy := a[1] - b[1]
	dz := a[2] - b[2]
	return dx*dx + dy*dy + dz*dz
}

func sortNeighbors(ns []Neighbor) {
	sort.Slice(ns, func(i, j int) bool {
		if ns[i].Dist != ns[j].Dist {
			return ns[i].Dist < ns[j].Dist
		}
		return ns[i].AtomID < ns[j].AtomID
	})
}
