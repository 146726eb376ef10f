package atomgrid

import (
	"bytes"
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atomgrid/atomgrid/atom"
	"github.com/atomgrid/atomgrid/blobstore"
	"github.com/atomgrid/atomgrid/distance"
	"github.com/atomgrid/atomgrid/embedding"
)

// vecEmbedder parses content like "1 2 3" into its vector so the geometry
// of every test is explicit.
type vecEmbedder struct{}

func (vecEmbedder) Embed(_ context.Context, content []byte) ([]float32, error) {
	fields := strings.Fields(string(content))
	vec := make([]float32, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 32)
		if err != nil {
			return nil, err
		}
		vec[i] = float32(v)
	}
	return vec, nil
}

func (vecEmbedder) ModelID() string { return "vec-test" }

var testAnchors = [][]float32{
	{0, 0, 0},
	{10, 0, 0},
	{0, 10, 0},
	{0, 0, 10},
}

func newTestGrid(t *testing.T, optFns ...Option) *AtomGrid {
	t.Helper()

	grid, err := New(append([]Option{
		WithEmbedder(vecEmbedder{}),
		WithMetric(distance.MetricEuclidean),
		WithFlushInterval(10 * time.Millisecond),
		WithEmbedderRetry(func(o *embedding.RetryOptions) { o.MaxAttempts = 1 }),
	}, optFns...)...)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, grid.Close()) })
	return grid
}

func TestGridIngestSearch(t *testing.T) {
	ctx := context.Background()
	metrics := &BasicMetricsCollector{}
	grid := newTestGrid(t, WithMetricsCollector(metrics))

	_, err := grid.RotateAnchors(ctx, testAnchors)
	require.NoError(t, err)

	for _, content := range []string{"1 0 0", "5 0 0", "9 0 0"} {
		_, err := grid.Ingest(ctx, []byte(content), atom.ModalityText)
		require.NoError(t, err)
	}
	require.NoError(t, grid.Sync(ctx))

	results, info, err := grid.Search(ctx, []float32{1, 0, 0}, 2, WithMode(ModeHybrid))
	require.NoError(t, err)
	assert.Equal(t, SearchOK, info.Status)
	require.Len(t, results, 2)
	assert.InDelta(t, 0.0, results[0].Dist, 1e-6)

	stats, err := grid.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Atoms)
	assert.Equal(t, 3, stats.Indexed)

	collected := metrics.GetStats()
	assert.Equal(t, int64(3), collected.IngestCount)
	assert.Equal(t, int64(1), collected.SearchCount)
}

func TestGridSearchInvalidK(t *testing.T) {
	grid := newTestGrid(t)

	_, _, err := grid.Search(context.Background(), []float32{1, 0, 0}, 0)
	assert.ErrorIs(t, err, ErrInvalidK)
}

func TestGridContentAndRelations(t *testing.T) {
	ctx := context.Background()
	grid := newTestGrid(t)

	a, err := grid.Ingest(ctx, []byte("1 0 0"), atom.ModalityText)
	require.NoError(t, err)
	b, err := grid.Ingest(ctx, []byte("2 0 0"), atom.ModalityText)
	require.NoError(t, err)

	content, err := grid.Content(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, []byte("1 0 0"), content)

	require.NoError(t, grid.Relate(ctx, atom.Relation{Source: a, Target: b, Type: "next", Weight: 1}))
	rels, err := grid.Relations(ctx, a)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, b, rels[0].Target)

	_, err = grid.Content(ctx, atom.ID(999))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGridSaveRestore(t *testing.T) {
	ctx := context.Background()
	grid := newTestGrid(t)

	_, err := grid.RotateAnchors(ctx, testAnchors)
	require.NoError(t, err)
	for _, content := range []string{"1 0 0", "5 0 0", "9 0 0"} {
		_, err := grid.Ingest(ctx, []byte(content), atom.ModalityText)
		require.NoError(t, err)
	}
	require.NoError(t, grid.Sync(ctx))

	var buf bytes.Buffer
	require.NoError(t, grid.Save(ctx, &buf))

	restored := newTestGrid(t)
	require.NoError(t, restored.Restore(ctx, &buf))

	results, info, err := restored.Search(ctx, []float32{5, 0, 0}, 1, WithMode(ModeHybrid))
	require.NoError(t, err)
	assert.Equal(t, SearchOK, info.Status)
	require.Len(t, results, 1)
	assert.InDelta(t, 0.0, results[0].Dist, 1e-6)
}

func TestGridBlobRoundtrip(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	grid := newTestGrid(t)

	_, err := grid.RotateAnchors(ctx, testAnchors)
	require.NoError(t, err)
	_, err = grid.Ingest(ctx, []byte("3 4 0"), atom.ModalityText)
	require.NoError(t, err)
	require.NoError(t, grid.Sync(ctx))

	require.NoError(t, grid.SaveToBlob(ctx, store, "snapshots/current"))

	restored := newTestGrid(t)
	require.NoError(t, restored.RestoreFromBlob(ctx, store, "snapshots/current"))

	stats, err := restored.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Indexed)

	err = restored.RestoreFromBlob(ctx, store, "snapshots/missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGridClusterLifecycle(t *testing.T) {
	ctx := context.Background()
	grid := newTestGrid(t)

	_, err := grid.RotateAnchors(ctx, testAnchors)
	require.NoError(t, err)
	for _, content := range []string{"1 0 0", "1.1 0 0", "9 9 9"} {
		_, err := grid.Ingest(ctx, []byte(content), atom.ModalityText)
		require.NoError(t, err)
	}
	require.NoError(t, grid.Sync(ctx))

	jobID, err := grid.Cluster(ctx, 0.5, 2, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job, err := grid.ClusterJob(jobID)
		return err == nil && job.Status == ClusterDone
	}, 5*time.Second, 10*time.Millisecond)

	job, err := grid.ClusterJob(jobID)
	require.NoError(t, err)
	assert.Len(t, job.Labels, 3)
}
