package geo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atomgrid/atomgrid/atom"
	"github.com/atomgrid/atomgrid/distance"
)

func TestDBSCANNearDuplicatePair(t *testing.T) {
	ctx := context.Background()

	// Two embeddings with cosine similarity ~0.999 plus a distant outlier.
	corpus := NewMapCorpus(map[atom.ID][]float32{
		1: {1, 0, 0},
		2: {0.999, 0.0447, 0},
		3: {0, 0, 1},
	})

	labels, err := DBSCAN(ctx, corpus, 0.05, 2, distance.MetricCosine)
	require.NoError(t, err)
	require.Len(t, labels, 3)

	assert.Equal(t, labels[1], labels[2], "near-duplicates share a cluster")
	assert.NotEqual(t, Noise, labels[1])
	assert.Equal(t, Noise, labels[3])
}

func TestDBSCANDeterministicLabels(t *testing.T) {
	ctx := context.Background()
	corpus := NewMapCorpus(map[atom.ID][]float32{
		1: {0, 0}, 2: {0.1, 0}, 3: {0.2, 0},
		4: {10, 0}, 5: {10.1, 0},
		6: {-50, -50},
	})

	first, err := DBSCAN(ctx, corpus, 0.5, 2, distance.MetricEuclidean)
	require.NoError(t, err)

	// Seeds run in ascending atom ID order, so labels are stable, not just
	// the partition.
	for i := 0; i < 5; i++ {
		again, err := DBSCAN(ctx, corpus, 0.5, 2, distance.MetricEuclidean)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}

	assert.Equal(t, 0, first[1])
	assert.Equal(t, 0, first[2])
	assert.Equal(t, 0, first[3])
	assert.Equal(t, 1, first[4])
	assert.Equal(t, 1, first[5])
	assert.Equal(t, Noise, first[6])
}

func TestDBSCANBudgetExceeded(t *testing.T) {
	ctx := context.Background()
	corpus := NewMapCorpus(map[atom.ID][]float32{
		1: {0, 0}, 2: {0.1, 0}, 3: {5, 0}, 4: {5.1, 0},
	})

	labels, err := DBSCAN(ctx, corpus, 0.5, 2, distance.MetricEuclidean, func(o *DBSCANOptions) {
		o.MaxRegionQueries = 1
	})
	assert.ErrorIs(t, err, ErrBudgetExceeded)
	// The partial labeling is still returned, explicitly marked truncated.
	assert.Len(t, labels, 4)
}

func TestDBSCANInvalidParams(t *testing.T) {
	corpus := NewMapCorpus(map[atom.ID][]float32{1: {0, 0}})
	_, err := DBSCAN(context.Background(), corpus, -1, 2, distance.MetricEuclidean)
	assert.Error(t, err)
	_, err = DBSCAN(context.Background(), corpus, 0.5, 0, distance.MetricEuclidean)
	assert.Error(t, err)
}

func TestDBSCANCancellation(t *testing.T) {
	corpus := NewMapCorpus(map[atom.ID][]float32{1: {0, 0}, 2: {1, 0}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := DBSCAN(ctx, corpus, 0.5, 2, distance.MetricEuclidean)
	assert.ErrorIs(t, err, ErrBudgetExceeded)
	assert.ErrorIs(t, err, context.Canceled)
}
