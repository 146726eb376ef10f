package geo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atomgrid/atomgrid/atom"
	"github.com/atomgrid/atomgrid/distance"
)

// chainCorpus lays atoms 1..n on a line, one unit apart.
func chainCorpus(n int) *MapCorpus {
	vecs := make(map[atom.ID][]float32, n)
	for i := 1; i <= n; i++ {
		vecs[atom.ID(i)] = []float32{float32(i), 0}
	}
	return NewMapCorpus(vecs)
}

func TestFindPathAlongChain(t *testing.T) {
	ctx := context.Background()
	corpus := chainCorpus(10)

	p, err := FindPath(ctx, corpus, 1, 10, distance.MetricEuclidean, func(o *PathOptions) {
		o.MaxNeighbors = 2
	})
	require.NoError(t, err)
	assert.Equal(t, StatusFound, p.Status)
	assert.Equal(t, atom.ID(1), p.Atoms[0])
	assert.Equal(t, atom.ID(10), p.Atoms[len(p.Atoms)-1])
	assert.InDelta(t, 9.0, p.Cost, 1e-6) // unit steps, optimal length
}

func TestFindPathEpsilonTermination(t *testing.T) {
	ctx := context.Background()
	corpus := chainCorpus(10)

	p, err := FindPath(ctx, corpus, 1, 10, distance.MetricEuclidean, func(o *PathOptions) {
		o.MaxNeighbors = 2
		o.Epsilon = 1.5 // any node within 1.5 of the goal terminates
	})
	require.NoError(t, err)
	assert.Equal(t, StatusFound, p.Status)

	end := p.Atoms[len(p.Atoms)-1]
	assert.Contains(t, []atom.ID{9, 10}, end)
}

func TestFindPathBudgetExceeded(t *testing.T) {
	ctx := context.Background()
	corpus := chainCorpus(50)

	p, err := FindPath(ctx, corpus, 1, 50, distance.MetricEuclidean, func(o *PathOptions) {
		o.MaxNeighbors = 2
		o.MaxExpansions = 3
	})
	require.NoError(t, err)
	assert.Equal(t, StatusBudgetExceeded, p.Status)
	assert.NotEmpty(t, p.Atoms, "partial path, not a silent empty result")
	assert.Equal(t, 3, p.Expansions)
}

func TestFindPathNoPath(t *testing.T) {
	ctx := context.Background()
	corpus := chainCorpus(3)

	// No implicit edges and no relations: the frontier dies immediately.
	p, err := FindPath(ctx, corpus, 1, 3, distance.MetricEuclidean, func(o *PathOptions) {
		o.MaxNeighbors = 0
	})
	require.NoError(t, err)
	assert.Equal(t, StatusNoPath, p.Status)
	assert.Empty(t, p.Atoms)
}

func TestFindPathUsesRelations(t *testing.T) {
	ctx := context.Background()

	// Two tight clusters far apart. With one implicit neighbor per
	// expansion the search never leaves the start cluster; an explicit
	// relation bridges the gap.
	vecs := map[atom.ID][]float32{
		1: {0, 0},
		2: {1, 0},
		3: {1000, 0},
		4: {1001, 0},
	}
	corpus := NewMapCorpus(vecs)

	relations := func(id atom.ID) []atom.Relation {
		if id == 2 {
			return []atom.Relation{{Source: 2, Target: 3, Type: "cites", Weight: 1}}
		}
		return nil
	}

	p, err := FindPath(ctx, corpus, 1, 4, distance.MetricEuclidean, func(o *PathOptions) {
		o.MaxNeighbors = 1
		o.Relations = relations
	})
	require.NoError(t, err)
	require.Equal(t, StatusFound, p.Status)
	assert.Equal(t, []atom.ID{1, 2, 3, 4}, p.Atoms)
}

func TestFindPathMissingVector(t *testing.T) {
	corpus := chainCorpus(3)
	_, err := FindPath(context.Background(), corpus, 1, 99, distance.MetricEuclidean)
	assert.ErrorIs(t, err, ErrVectorNotFound)
}

func TestFindPathCancellation(t *testing.T) {
	corpus := chainCorpus(10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := FindPath(ctx, corpus, 1, 10, distance.MetricEuclidean)
	assert.ErrorIs(t, err, context.Canceled)
}
