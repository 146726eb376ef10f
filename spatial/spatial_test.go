package spatial

import (
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atomgrid/atomgrid/atom"
)

func TestDiscretize(t *testing.T) {
	g := Discretize([3]float64{-1000, 0, 1000}, 1000)
	assert.Equal(t, uint32(0), g[0])
	assert.Equal(t, uint32(1)<<CurveBits-1, g[2])
	assert.InDelta(t, float64(uint32(1)<<(CurveBits-1)), float64(g[1]), 1.0)

	// Out-of-range coordinates saturate instead of wrapping.
	g = Discretize([3]float64{-5000, 5000, 0}, 1000)
	assert.Equal(t, uint32(0), g[0])
	assert.Equal(t, uint32(1)<<CurveBits-1, g[1])
}

func TestMortonKey(t *testing.T) {
	assert.Equal(t, uint64(0), MortonKey(0, 0, 0))
	assert.Equal(t, uint64(1), MortonKey(1, 0, 0))
	assert.Equal(t, uint64(2), MortonKey(0, 1, 0))
	assert.Equal(t, uint64(4), MortonKey(0, 0, 1))
	assert.Equal(t, uint64(0b1011), MortonKey(3, 1, 0))
}

func TestHilbertKeyBijective(t *testing.T) {
	// Distinct cells must map to distinct keys.
	seen := make(map[uint64][3]uint32)
	for x := uint32(0); x < 8; x++ {
		for y := uint32(0); y < 8; y++ {
			for z := uint32(0); z < 8; z++ {
				k := HilbertKey(x, y, z)
				prev, dup := seen[k]
				require.False(t, dup, "cells %v and %v collide", prev, [3]uint32{x, y, z})
				seen[k] = [3]uint32{x, y, z}

				assert.Equal(t, k, HilbertKey(x, y, z))
			}
		}
	}
}

func randomEntries(rng *rand.Rand, n int, bound float64) []Entry {
	entries := make([]Entry, n)
	for i := range entries {
		entries[i] = Entry{
			AtomID: atom.ID(i + 1),
			Coord: [3]float64{
				(rng.Float64()*2 - 1) * bound,
				(rng.Float64()*2 - 1) * bound,
				(rng.Float64()*2 - 1) * bound,
			},
		}
	}
	return entries
}

func bruteKNN(entries []Entry, q [3]float64, n int) []Neighbor {
	out := make([]Neighbor, 0, len(entries))
	for _, e := range entries {
		out = append(out, Neighbor{AtomID: e.AtomID, Coord: e.Coord, Dist: math.Sqrt(sqDist3(q, e.Coord))})
	}
	sortNeighbors(out)
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func TestGenerationRangeQuery(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	entries := randomEntries(rng, 500, 100)
	g := buildGeneration(1, 1, CurveHilbert, 100, DefaultLeafSize, entries)

	q := [3]float64{10, -20, 30}
	const radius = 40.0

	got := g.RangeQuery(q, radius)

	want := make(map[atom.ID]bool)
	g.ForEach(func(e Entry) bool {
		if math.Sqrt(sqDist3(q, e.Coord)) <= radius {
			want[e.AtomID] = true
		}
		return true
	})

	require.Len(t, got, len(want))
	for _, nb := range got {
		assert.True(t, want[nb.AtomID])
		assert.LessOrEqual(t, nb.Dist, radius)
	}
	assert.True(t, sort.SliceIsSorted(got, func(i, j int) bool {
		return got[i].Dist < got[j].Dist
	}))
}

func TestGenerationCoarseKNN(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	raw := randomEntries(rng, 800, 1000)

	// buildGeneration takes ownership, keep an independent copy for the oracle.
	oracle := make([]Entry, len(raw))
	copy(oracle, raw)

	g := buildGeneration(1, 1, CurveMorton, 1000, DefaultLeafSize, raw)

	for _, n := range []int{1, 10, 50} {
		q := [3]float64{
			(rng.Float64()*2 - 1) * 1000,
			(rng.Float64()*2 - 1) * 1000,
			(rng.Float64()*2 - 1) * 1000,
		}
		got := g.CoarseKNN(q, n)
		want := bruteKNN(oracle, q, n)

		require.Len(t, got, n)
		for i := range want {
			assert.Equal(t, want[i].AtomID, got[i].AtomID, "n=%d rank=%d", n, i)
		}
	}
}

func TestGenerationKNNTieBreak(t *testing.T) {
	// Co-located atoms come back in ascending ID order.
	entries := []Entry{
		{AtomID: 9, Coord: [3]float64{1, 1, 1}},
		{AtomID: 3, Coord: [3]float64{1, 1, 1}},
		{AtomID: 7, Coord: [3]float64{1, 1, 1}},
	}
	g := buildGeneration(1, 1, CurveHilbert, 10, DefaultLeafSize, entries)

	got := g.CoarseKNN([3]float64{0, 0, 0}, 3)
	require.Len(t, got, 3)
	assert.Equal(t, atom.ID(3), got[0].AtomID)
	assert.Equal(t, atom.ID(7), got[1].AtomID)
	assert.Equal(t, atom.ID(9), got[2].AtomID)
}

func TestGenerationMembership(t *testing.T) {
	g := buildGeneration(1, 1, CurveHilbert, 10, DefaultLeafSize, []Entry{
		{AtomID: 1, Coord: [3]float64{0, 0, 0}},
		{AtomID: 5, Coord: [3]float64{1, 2, 3}},
	})

	assert.True(t, g.Contains(1))
	assert.True(t, g.Contains(5))
	assert.False(t, g.Contains(2))

	c, ok := g.Coord(5)
	require.True(t, ok)
	assert.Equal(t, [3]float64{1, 2, 3}, c)

	_, ok = g.Coord(2)
	assert.False(t, ok)
}

func TestGenerationEmpty(t *testing.T) {
	g := buildGeneration(0, 0, CurveHilbert, 1000, DefaultLeafSize, nil)
	assert.Zero(t, g.Len())
	assert.Empty(t, g.CoarseKNN([3]float64{0, 0, 0}, 5))
	assert.Empty(t, g.RangeQuery([3]float64{0, 0, 0}, 100))
}

func TestIndexFlush(t *testing.T) {
	ix := New()

	before := ix.Snapshot()
	assert.Zero(t, before.Len())

	ix.Stage(1, [3]float64{1, 0, 0}, 1)
	ix.Stage(2, [3]float64{2, 0, 0}, 1)
	assert.Equal(t, 2, ix.Pending())

	// Staged mutations are invisible until flushed.
	assert.Zero(t, ix.Snapshot().Len())

	g1 := ix.Flush(1)
	assert.Equal(t, uint64(1), g1.ID)
	assert.Equal(t, uint32(1), g1.AnchorVersion)
	assert.Equal(t, 2, g1.Len())
	assert.Zero(t, ix.Pending())

	// The pre-flush snapshot still serves its old view.
	assert.Zero(t, before.Len())

	// Upsert replaces, delete removes.
	ix.Stage(1, [3]float64{5, 5, 5}, 1)
	ix.StageDelete(2)
	g2 := ix.Flush(1)
	assert.Equal(t, 1, g2.Len())
	c, ok := g2.Coord(1)
	require.True(t, ok)
	assert.Equal(t, [3]float64{5, 5, 5}, c)
	assert.False(t, g2.Contains(2))
}

func TestIndexAnchorVersionChangeDropsCarryover(t *testing.T) {
	ix := New()
	ix.Stage(1, [3]float64{1, 0, 0}, 1)
	ix.Flush(1)

	// A flush under a new anchor version keeps only coordinates restaged
	// under that version.
	ix.Stage(2, [3]float64{2, 0, 0}, 2)
	g := ix.Flush(2)

	assert.Equal(t, uint32(2), g.AnchorVersion)
	assert.Equal(t, 1, g.Len())
	assert.False(t, g.Contains(1))
	assert.True(t, g.Contains(2))
}

func TestIndexFlushDropsStaleStagedVersions(t *testing.T) {
	// An entry projected under a superseded anchor set never reaches the
	// published generation, even when it was staged after the rotation.
	ix := New()
	ix.Stage(1, [3]float64{1, 0, 0}, 1)
	g := ix.Flush(2)
	assert.Zero(t, g.Len())
	assert.Zero(t, ix.Pending())

	ix.Stage(1, [3]float64{3, 0, 0}, 2)
	g = ix.Flush(2)
	assert.Equal(t, 1, g.Len())
	c, ok := g.Coord(1)
	require.True(t, ok)
	assert.Equal(t, [3]float64{3, 0, 0}, c)
}

func TestIndexRebuild(t *testing.T) {
	ix := New()
	ix.Stage(1, [3]float64{1, 0, 0}, 1)
	ix.Flush(1)
	ix.Stage(99, [3]float64{0, 0, 0}, 1) // discarded by the rebuild

	g := ix.Rebuild([]Entry{
		{AtomID: 10, Coord: [3]float64{1, 1, 1}},
		{AtomID: 11, Coord: [3]float64{2, 2, 2}},
	}, 3)

	assert.Equal(t, uint32(3), g.AnchorVersion)
	assert.Equal(t, 2, g.Len())
	assert.False(t, g.Contains(1))
	assert.Zero(t, ix.Pending())
}
