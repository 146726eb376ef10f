// Package queue provides the priority queues used by the coarse index
// traversal and the graph algorithm suite.
package queue

import "container/heap"

// Compile time check to ensure PriorityQueue satisfies the heap interface.
var _ heap.Interface = (*PriorityQueue)(nil)

// Item represents an entry in the priority queue.
type Item struct {
	ID       uint64  // ID identifies the atom or index node.
	Priority float64 // Priority orders the queue (a distance or cost).
	Index    int     // Index is maintained by the heap.Interface methods.
}

// PriorityQueue implements heap.Interface over Items.
// With Descending false it is a min-heap (nearest first).
type PriorityQueue struct {
	Descending bool
	Items      []*Item
}

// NewMin returns an empty min-ordered queue.
func NewMin() *PriorityQueue {
	return &PriorityQueue{}
}

// NewMax returns an empty max-ordered queue.
// A max-heap of size k is the usual way to track the current top-k.
func NewMax() *PriorityQueue {
	return &PriorityQueue{Descending: true}
}

// Len returns the number of elements in the priority queue.
func (pq *PriorityQueue) Len() int { return len(pq.Items) }

// Less reports whether the element with index i should sort before the element with index j.
// Ties break on ID so ordering is deterministic: ascending for a min-heap,
// descending for a max-heap. A bounded top-k max-heap must surface the
// largest equal-priority ID at the root, since the root is what eviction
// discards and the final results keep the smaller IDs.
func (pq *PriorityQueue) Less(i, j int) bool {
	a, b := pq.Items[i], pq.Items[j]
	if a.Priority == b.Priority {
		if pq.Descending {
			return a.ID > b.ID
		}
		return a.ID < b.ID
	}
	if pq.Descending {
		return a.Priority > b.Priority
	}
	return a.Priority < b.Priority
}

// Swap swaps the elements with indexes i and j.
func (pq *PriorityQueue) Swap(i, j int) {
	pq.Items[i], pq.Items[j] = pq.Items[j], pq.Items[i]
	pq.Items[i].Index, pq.Items[j].Index = i, j
}

// Push adds x to the priority queue.
func (pq *PriorityQueue) Push(x any) {
	item, _ := x.(*Item)
	item.Index = len(pq.Items)
	pq.Items = append(pq.Items, item)
}

// Pop removes and returns the last element. Use heap.Pop for ordered removal.
func (pq *PriorityQueue) Pop() any {
	old := pq.Items
	n := len(old)
	if n == 0 {
		return nil
	}
	item := old[n-1]
	old[n-1] = nil // avoid memory leak
	item.Index = -1
	pq.Items = old[:n-1]
	return item
}

// Top returns the root element without removing it, or nil when empty.
func (pq *PriorityQueue) Top() *Item {
	if len(pq.Items) == 0 {
		return nil
	}
	return pq.Items[0]
}
