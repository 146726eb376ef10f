package atomgrid

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/atomgrid/atomgrid/atom"
	"github.com/atomgrid/atomgrid/blobstore"
	"github.com/atomgrid/atomgrid/embedding"
	"github.com/atomgrid/atomgrid/engine"
	"github.com/atomgrid/atomgrid/geo"
	"github.com/atomgrid/atomgrid/persistence"
)

// Result is one search hit: an atom and its distance to the query in the
// original embedding space.
type Result = geo.Result

// SearchInfo reports how a search was answered.
type SearchInfo = engine.SearchInfo

// Stats is a point-in-time operational snapshot.
type Stats = engine.Stats

// InconsistencyReport is the outcome of a Validate run.
type InconsistencyReport = engine.InconsistencyReport

// ClusterJob is the tracked state of a background clustering run.
type ClusterJob = engine.ClusterJob

// Search modes and statuses, re-exported from the engine.
const (
	ModeAuto    = engine.ModeAuto
	ModeBrute   = engine.ModeBrute
	ModeHybrid  = engine.ModeHybrid
	ModeVoronoi = engine.ModeVoronoi

	SearchOK        = engine.SearchOK
	SearchDegraded  = engine.SearchDegraded
	SearchTruncated = engine.SearchTruncated

	ClusterPending   = engine.ClusterPending
	ClusterRunning   = engine.ClusterRunning
	ClusterDone      = engine.ClusterDone
	ClusterFailed    = engine.ClusterFailed
	ClusterTruncated = engine.ClusterTruncated
)

// AtomGrid is the top-level handle. All methods are safe for concurrent use.
type AtomGrid struct {
	coordinator *engine.Coordinator
	logger      *Logger
	metrics     MetricsCollector
}

// New creates an AtomGrid. Without store options it runs fully in memory.
func New(optFns ...Option) (*AtomGrid, error) {
	opts := applyOptions(optFns)

	atoms := opts.atoms
	if atoms == nil {
		atoms = atom.NewMemoryStore()
	}
	embeddings := opts.embeddings
	if embeddings == nil {
		embeddings = embedding.NewMemoryStore()
	}

	engineOpts := append([]func(*engine.Options){
		func(o *engine.Options) { o.Logger = opts.logger.Logger },
	}, opts.engine...)

	coord, err := engine.New(atoms, embeddings, opts.embedder, engineOpts...)
	if err != nil {
		return nil, err
	}

	return &AtomGrid{
		coordinator: coord,
		logger:      opts.logger,
		metrics:     opts.metrics,
	}, nil
}

// Ingest stores content and schedules embedding and indexing. The returned
// ID is durable immediately; duplicate content returns the existing atom's
// ID with its reference count incremented.
func (g *AtomGrid) Ingest(ctx context.Context, content []byte, modality atom.Modality) (atom.ID, error) {
	start := time.Now()
	id, err := g.coordinator.Ingest(ctx, content, modality)
	err = translateError(err)
	g.metrics.RecordIngest(time.Since(start), err)
	g.logger.LogIngest(ctx, id, len(content), err)
	return id, err
}

// Release drops one reference to an atom. The last release removes its
// embedding and index entry.
func (g *AtomGrid) Release(ctx context.Context, id atom.ID) error {
	start := time.Now()
	err := translateError(g.coordinator.Release(ctx, id))
	g.metrics.RecordRelease(time.Since(start), err)
	return err
}

// Relate inserts or replaces a typed edge between two atoms. Pathfinding
// treats relations as additional traversable edges.
func (g *AtomGrid) Relate(ctx context.Context, r atom.Relation) error {
	return translateError(g.coordinator.Relate(ctx, r))
}

// Relations returns the outgoing relations of an atom.
func (g *AtomGrid) Relations(ctx context.Context, id atom.ID) ([]atom.Relation, error) {
	rs, err := g.coordinator.Relations(ctx, id)
	return rs, translateError(err)
}

// Content returns the stored content of an atom.
func (g *AtomGrid) Content(ctx context.Context, id atom.ID) ([]byte, error) {
	data, err := g.coordinator.Content(ctx, id)
	return data, translateError(err)
}

// SearchOption configures one Search call.
type SearchOption = func(o *engine.SearchOptions)

// WithMode forces a search execution strategy. Default is ModeAuto.
func WithMode(mode engine.SearchMode) SearchOption {
	return func(o *engine.SearchOptions) { o.Mode = mode }
}

// Search returns the k nearest embedded atoms to the query vector, reranked
// exactly in the embedding space. The info result reports whether the answer
// is clean, degraded to brute force, or truncated.
func (g *AtomGrid) Search(ctx context.Context, query []float32, k int, optFns ...SearchOption) ([]Result, SearchInfo, error) {
	start := time.Now()
	if k <= 0 {
		g.metrics.RecordSearch(k, time.Since(start), ErrInvalidK)
		return nil, SearchInfo{}, ErrInvalidK
	}

	results, info, err := g.coordinator.Search(ctx, query, k, optFns...)
	err = translateError(err)
	g.metrics.RecordSearch(k, time.Since(start), err)
	g.logger.LogSearch(ctx, k, len(results), err)
	return results, info, err
}

// Path runs semantic A* between two atoms over the implicit nearest-neighbor
// graph plus stored relations. A budget-bounded run returns a partial path
// with StatusBudgetExceeded rather than failing.
func (g *AtomGrid) Path(ctx context.Context, start, goal atom.ID, optFns ...func(o *geo.PathOptions)) (geo.Path, error) {
	begin := time.Now()
	path, err := g.coordinator.Path(ctx, start, goal, optFns...)
	err = translateError(err)
	g.metrics.RecordPath(time.Since(begin), err)
	g.logger.LogPath(ctx, start, goal, len(path.Atoms), err)
	return path, err
}

// Cluster starts a background DBSCAN run and returns its job ID. A nil scope
// clusters the full corpus.
func (g *AtomGrid) Cluster(ctx context.Context, epsilon float64, minPoints int, scope []atom.ID, optFns ...func(o *geo.DBSCANOptions)) (uuid.UUID, error) {
	start := time.Now()
	id, err := g.coordinator.SubmitCluster(ctx, epsilon, minPoints, scope, optFns...)
	err = translateError(err)
	g.metrics.RecordCluster(time.Since(start), err)
	return id, err
}

// ClusterJob returns a snapshot of a cluster job's state.
func (g *AtomGrid) ClusterJob(id uuid.UUID) (*ClusterJob, error) {
	job, err := g.coordinator.ClusterJob(id)
	return job, translateError(err)
}

// RotateAnchors registers a new anchor set and returns its version. The
// empty generation under the new version publishes synchronously, so stale
// coordinates leave hybrid search immediately; reprojection of the corpus
// proceeds in the background and ProjectionLag reports its progress.
func (g *AtomGrid) RotateAnchors(ctx context.Context, anchors [][]float32) (uint32, error) {
	version, err := g.coordinator.RotateAnchors(ctx, anchors)
	return version, translateError(err)
}

// Validate cross-checks the index against the stores and schedules repair of
// any divergence. The report lists what was missing and what was orphaned.
func (g *AtomGrid) Validate(ctx context.Context) (*InconsistencyReport, error) {
	report, err := g.coordinator.Validate(ctx)
	return report, translateError(err)
}

// Rebuild reprojects every stored embedding under the current anchor set and
// republishes the index wholesale. Recovery path for a corrupt index.
func (g *AtomGrid) Rebuild(ctx context.Context) error {
	return translateError(g.coordinator.Rebuild(ctx))
}

// Sync drains the background pipeline and publishes everything staged.
func (g *AtomGrid) Sync(ctx context.Context) error {
	return translateError(g.coordinator.Sync(ctx))
}

// Stats reports counts across the stores and the live generation.
func (g *AtomGrid) Stats(ctx context.Context) (Stats, error) {
	s, err := g.coordinator.Stats(ctx)
	return s, translateError(err)
}

// DeadLetters returns embed jobs that exhausted their attempts.
func (g *AtomGrid) DeadLetters() []engine.DeadLetter {
	return g.coordinator.DeadLetters()
}

// ProjectionLag returns how many atoms still await reprojection after an
// anchor rotation.
func (g *AtomGrid) ProjectionLag() int64 {
	return g.coordinator.ProjectionLag()
}

// Save writes a snapshot of the anchor set, embeddings and index entries.
// Atom content is not included; it persists in the atom store. Output is
// paced by the engine's IO limit when one is configured.
func (g *AtomGrid) Save(ctx context.Context, w io.Writer, optFns ...func(*persistence.SaveOptions)) error {
	return translateError(g.coordinator.WriteSnapshot(ctx, w, optFns...))
}

// Restore loads a snapshot written by Save into this instance.
func (g *AtomGrid) Restore(ctx context.Context, r io.Reader) error {
	s, err := persistence.Load(r)
	if err != nil {
		return err
	}
	return translateError(g.coordinator.Restore(ctx, s))
}

// SaveToBlob writes a snapshot as one named blob.
func (g *AtomGrid) SaveToBlob(ctx context.Context, store blobstore.BlobStore, name string, optFns ...func(*persistence.SaveOptions)) error {
	var buf bytes.Buffer
	err := g.coordinator.WriteSnapshot(ctx, &buf, optFns...)
	if err == nil {
		err = store.Put(ctx, name, buf.Bytes())
	}
	g.logger.LogSnapshot(ctx, name, err)
	return translateError(err)
}

// RestoreFromBlob loads a named snapshot blob into this instance.
func (g *AtomGrid) RestoreFromBlob(ctx context.Context, store blobstore.BlobStore, name string) error {
	s, err := persistence.LoadFromBlob(ctx, store, name)
	if err != nil {
		return translateError(err)
	}
	err = translateError(g.coordinator.Restore(ctx, s))
	g.logger.LogSnapshot(ctx, name, err)
	return err
}

// Close stops background work and closes the stores. Idempotent.
func (g *AtomGrid) Close() error {
	return g.coordinator.Close()
}
