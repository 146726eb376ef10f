package projection

import (
	"math"
	"testing"

	"github.com/atomgrid/atomgrid/distance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry(distance.MetricEuclidean)

	t.Run("TooFewAnchors", func(t *testing.T) {
		_, err := r.Register([][]float32{{1, 0}, {0, 1}})
		assert.ErrorIs(t, err, ErrTooFewAnchors)
	})

	t.Run("DimensionMismatch", func(t *testing.T) {
		_, err := r.Register([][]float32{{1, 0}, {0, 1}, {1, 1, 1}})
		assert.Error(t, err)
	})

	t.Run("VersionsAreMonotonic", func(t *testing.T) {
		s1, err := r.Register([][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}})
		require.NoError(t, err)
		s2, err := r.Register([][]float32{{2, 0, 0}, {0, 2, 0}, {0, 0, 2}})
		require.NoError(t, err)

		assert.Greater(t, s2.Version, s1.Version)
		assert.Equal(t, s2.Version, r.CurrentVersion())
		assert.Same(t, s2, r.Current())

		got, err := r.Get(s1.Version)
		require.NoError(t, err)
		assert.Same(t, s1, got)

		_, err = r.Get(999)
		assert.ErrorIs(t, err, ErrVersionUnknown)
	})

	t.Run("RegisteredSetIsImmutable", func(t *testing.T) {
		anchors := [][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
		set, err := r.Register(anchors)
		require.NoError(t, err)

		anchors[0][0] = 42 // caller mutation must not leak in
		assert.Equal(t, float32(1), set.Anchors()[0][0])
	})
}

func TestProjectDeterminism(t *testing.T) {
	r := NewRegistry(distance.MetricCosine)
	set, err := r.Register([][]float32{
		{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}, {0, 0, 0, 1},
	})
	require.NoError(t, err)

	vec := []float32{0.3, 0.1, 0.8, 0.2}
	first, err := Project(vec, set)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		again, err := Project(vec, set)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, set.Version, first.AnchorVersion)
}

func TestProjectRecoversGeometry(t *testing.T) {
	// With 3-dimensional Euclidean embeddings and non-coplanar anchors,
	// multilateration is exact: the projected point keeps the measured
	// distance to every anchor's reduced-space position.
	r := NewRegistry(distance.MetricEuclidean)
	anchors := [][]float32{
		{0, 0, 0},
		{10, 0, 0},
		{0, 10, 0},
		{0, 0, 10},
	}
	set, err := r.Register(anchors)
	require.NoError(t, err)
	require.False(t, set.Degenerate())

	vec := []float32{3, 4, 5}
	proj, err := Project(vec, set)
	require.NoError(t, err)
	assert.Equal(t, ConfidenceHigh, proj.Confidence)

	for i, a := range anchors {
		want := distance.Euclidean(vec, a)
		got := euclid3(proj.Coord, set.positions[i])
		assert.InDelta(t, want, got, 1e-6, "anchor %d", i)
	}
}

func TestProjectThreeAnchorClosedForm(t *testing.T) {
	r := NewRegistry(distance.MetricEuclidean)
	set, err := r.Register([][]float32{
		{0, 0, 0},
		{10, 0, 0},
		{0, 10, 0},
	})
	require.NoError(t, err)

	// A point in the anchor plane: z must come out 0 and x,y exact.
	proj, err := Project([]float32{2, 3, 0}, set)
	require.NoError(t, err)
	assert.Equal(t, ConfidenceHigh, proj.Confidence)
	assert.InDelta(t, 2.0, proj.Coord[0], 1e-9)
	assert.InDelta(t, 3.0, proj.Coord[1], 1e-9)
	assert.InDelta(t, 0.0, proj.Coord[2], 1e-6)

	// Off-plane points keep |z| through the non-negative root.
	proj, err = Project([]float32{2, 3, -4}, set)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, proj.Coord[2], 1e-6)
}

func TestProjectDegenerateAnchors(t *testing.T) {
	r := NewRegistry(distance.MetricEuclidean)

	t.Run("Collinear", func(t *testing.T) {
		set, err := r.Register([][]float32{
			{0, 0, 0},
			{1, 0, 0},
			{2, 0, 0},
		})
		require.NoError(t, err)
		assert.True(t, set.Degenerate())

		proj, err := Project([]float32{5, 5, 0}, set)
		require.NoError(t, err)
		assert.Equal(t, ConfidenceLow, proj.Confidence)
	})

	t.Run("Coincident", func(t *testing.T) {
		set, err := r.Register([][]float32{
			{1, 1, 1},
			{1, 1, 1},
			{2, 0, 0},
		})
		require.NoError(t, err)
		assert.True(t, set.Degenerate())
	})
}

func TestProjectClamping(t *testing.T) {
	r := NewRegistry(distance.MetricEuclidean)
	set, err := r.Register([][]float32{
		{0, 0, 0},
		{1, 0, 0},
		{0, 1, 0},
		{0, 0, 1},
	})
	require.NoError(t, err)

	proj, err := ProjectBounded([]float32{500, 0, 0}, set, 10)
	require.NoError(t, err)
	for _, c := range proj.Coord {
		assert.LessOrEqual(t, math.Abs(c), 10.0)
	}
}

func TestProjectDimensionMismatch(t *testing.T) {
	r := NewRegistry(distance.MetricEuclidean)
	set, err := r.Register([][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}})
	require.NoError(t, err)

	_, err = Project([]float32{1, 2}, set)
	var dm *DimensionMismatchError
	require.ErrorAs(t, err, &dm)
	assert.Equal(t, 3, dm.Expected)
	assert.Equal(t, 2, dm.Actual)
}

func euclid3(a, b [3]float64) float64 {
	dx := a[0] - b[0]
	dy := a[1] - b[1]
	dz := a[2] - b[2]
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}
