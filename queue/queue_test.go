package queue

import (
	"container/heap"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMinOrder(t *testing.T) {
	pq := NewMin()
	heap.Init(pq)

	heap.Push(pq, &Item{ID: 1, Priority: 3.0})
	heap.Push(pq, &Item{ID: 2, Priority: 1.0})
	heap.Push(pq, &Item{ID: 3, Priority: 2.0})

	var got []uint64
	for pq.Len() > 0 {
		item := heap.Pop(pq).(*Item)
		got = append(got, item.ID)
	}
	assert.Equal(t, []uint64{2, 3, 1}, got)
}

func TestMaxOrder(t *testing.T) {
	pq := NewMax()
	heap.Init(pq)

	heap.Push(pq, &Item{ID: 1, Priority: 3.0})
	heap.Push(pq, &Item{ID: 2, Priority: 1.0})
	heap.Push(pq, &Item{ID: 3, Priority: 2.0})

	require.NotNil(t, pq.Top())
	assert.Equal(t, uint64(1), pq.Top().ID)

	item := heap.Pop(pq).(*Item)
	assert.Equal(t, 3.0, item.Priority)
}

func TestTieBreakByID(t *testing.T) {
	drain := func(pq *PriorityQueue) []uint64 {
		var got []uint64
		for pq.Len() > 0 {
			got = append(got, heap.Pop(pq).(*Item).ID)
		}
		return got
	}

	t.Run("Min", func(t *testing.T) {
		pq := NewMin()
		heap.Init(pq)

		heap.Push(pq, &Item{ID: 9, Priority: 1.0})
		heap.Push(pq, &Item{ID: 4, Priority: 1.0})
		heap.Push(pq, &Item{ID: 7, Priority: 1.0})

		assert.Equal(t, []uint64{4, 7, 9}, drain(pq))
	})

	t.Run("Max", func(t *testing.T) {
		// A top-k max-heap evicts its root, so among equal priorities the
		// largest ID must be the one at the root.
		pq := NewMax()
		heap.Init(pq)

		heap.Push(pq, &Item{ID: 9, Priority: 1.0})
		heap.Push(pq, &Item{ID: 4, Priority: 1.0})
		heap.Push(pq, &Item{ID: 7, Priority: 1.0})

		require.NotNil(t, pq.Top())
		assert.Equal(t, uint64(9), pq.Top().ID)
		assert.Equal(t, []uint64{9, 7, 4}, drain(pq))
	})
}

func TestEmpty(t *testing.T) {
	pq := NewMin()
	assert.Nil(t, pq.Top())
	assert.Nil(t, pq.Pop())
}
