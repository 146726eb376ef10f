package spatial

import "container/heap"

// traversalItem is either a tree node (entry == -1) or a concrete entry,
// keyed by its distance lower bound. Entries at equal distance order by atom
// ID so query results are deterministic.
type traversalItem struct {
	dist  float64
	node  int32
	entry int32
	tie   uint64
}

type traversalHeap []traversalItem

func (h traversalHeap) Len() int { return len(h) }

func (h traversalHeap) Less(i, j int) bool {
	if h[i].dist != h[j].dist {
		return h[i].dist < h[j].dist
	}
	return h[i].tie < h[j].tie
}

func (h traversalHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *traversalHeap) Push(x any) { *h = append(*h, x.(traversalItem)) }

func (h *traversalHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// traversalQueue is the best-first frontier for CoarseKNN.
type traversalQueue struct {
	h traversalHeap
}

func newTraversalQueue() *traversalQueue {
	q := &traversalQueue{h: make(traversalHeap, 0, 64)}
	heap.Init(&q.h)
	return q
}

func (q *traversalQueue) Len() int { return len(q.h) }

func (q *traversalQueue) pushNode(idx int32, dist float64) {
	heap.Push(&q.h, traversalItem{dist: dist, node: idx, entry: -1})
}

func (q *traversalQueue) pushEntry(idx int32, dist float64, atomID uint64) {
	heap.Push(&q.h, traversalItem{dist: dist, node: -1, entry: idx, tie: atomID})
}

func (q *traversalQueue) pop() traversalItem {
	return heap.Pop(&q.h).(traversalItem)
}
