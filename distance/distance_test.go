package distance

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{0, 1, 0}

	t.Run("Euclidean", func(t *testing.T) {
		assert.InDelta(t, math.Sqrt2, Euclidean(a, b), 1e-12)
		assert.Zero(t, Euclidean(a, a))
	})

	t.Run("Manhattan", func(t *testing.T) {
		assert.InDelta(t, 2.0, Manhattan(a, b), 1e-12)
		assert.Zero(t, Manhattan(b, b))
	})

	t.Run("Cosine", func(t *testing.T) {
		assert.InDelta(t, 1.0, Cosine(a, b), 1e-12)
		assert.InDelta(t, 0.0, Cosine(a, a), 1e-12)
		assert.InDelta(t, 2.0, Cosine(a, []float32{-1, 0, 0}), 1e-12)
	})

	t.Run("CosineZeroNorm", func(t *testing.T) {
		zero := []float32{0, 0, 0}
		assert.InDelta(t, 1.0, Cosine(a, zero), 1e-12)
	})

	t.Run("ScaleInvariance", func(t *testing.T) {
		scaled := []float32{4, 0, 0}
		assert.InDelta(t, Cosine(a, b), Cosine(scaled, b), 1e-12)
	})
}

func TestProvider(t *testing.T) {
	for _, m := range []Metric{MetricEuclidean, MetricCosine, MetricManhattan} {
		fn, err := m.Provider()
		require.NoError(t, err)
		require.NotNil(t, fn)
	}

	_, err := Metric(99).Provider()
	require.Error(t, err)
}

func TestDeterminism(t *testing.T) {
	a := []float32{0.1, 0.2, 0.3, 0.4}
	b := []float32{0.9, 0.8, 0.7, 0.6}

	for _, m := range []Metric{MetricEuclidean, MetricCosine, MetricManhattan} {
		fn, err := m.Provider()
		require.NoError(t, err)
		first := fn(a, b)
		for i := 0; i < 10; i++ {
			assert.Equal(t, first, fn(a, b))
		}
	}
}
