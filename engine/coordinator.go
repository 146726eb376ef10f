// Package engine coordinates the stores, the projector and the spatial index
// behind one ingestion and query surface.
//
// Mutations flow one direction: atom creation is synchronous and durable,
// everything derived from it (embedding, projection, index entry) is applied
// by background jobs and becomes query-visible at the next generation flush.
// Queries never block on ingestion; they run against immutable generations.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/atomgrid/atomgrid/atom"
	"github.com/atomgrid/atomgrid/embedding"
	"github.com/atomgrid/atomgrid/geo"
	"github.com/atomgrid/atomgrid/projection"
	"github.com/atomgrid/atomgrid/spatial"
)

// Coordinator owns the stores, the anchor registry and the spatial index.
type Coordinator struct {
	opts Options

	atoms      atom.Store
	embeddings embedding.Store
	embedder   embedding.Embedder

	registry *projection.Registry
	index    *spatial.Index

	pool       *WorkerPool
	controller *resourceController
	tracker    *jobTracker
	logger     *slog.Logger

	deadMu     sync.Mutex
	deadLetter []DeadLetter

	jobsMu      sync.Mutex
	clusterJobs map[string]*ClusterJob

	reprojectPending atomic.Int64
	lowConfidence    atomic.Int64

	ctx       context.Context
	cancel    context.CancelFunc
	flushDone chan struct{}
	closed    atomic.Bool
}

// DeadLetter records an embed job that exhausted its attempts. The atom
// stays durable and searchable by ID; re-ingesting the same content retries.
type DeadLetter struct {
	AtomID atom.ID
	Err    error
	At     time.Time
}

// New creates a coordinator over the given stores and embedder. The embedder
// is wrapped in the retry boundary; pass nil to run without embedding
// (ingested atoms then stay outside spatial queries).
func New(atoms atom.Store, embeddings embedding.Store, embedder embedding.Embedder, optFns ...func(o *Options)) (*Coordinator, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if atoms == nil || embeddings == nil {
		return nil, fmt.Errorf("engine: atom and embedding stores are required")
	}

	c := &Coordinator{
		opts:        opts,
		atoms:       atoms,
		embeddings:  embeddings,
		registry:    projection.NewRegistry(opts.Metric),
		pool:        NewWorkerPool(opts.NumWorkers),
		controller:  newResourceController(opts.Resource),
		tracker:     newJobTracker(),
		logger:      opts.Logger,
		clusterJobs: make(map[string]*ClusterJob),
	}
	c.index = spatial.New(func(o *spatial.IndexOptions) {
		o.Curve = opts.Curve
		o.Bound = opts.Bound
	})
	if embedder != nil {
		c.embedder = embedding.NewRetryEmbedder(embedder, opts.EmbedderRetry...)
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.flushDone = make(chan struct{})
	go c.flushLoop()

	return c, nil
}

// Registry exposes the anchor set registry, mainly for persistence.
func (c *Coordinator) Registry() *projection.Registry { return c.registry }

// Index exposes the spatial index, mainly for persistence.
func (c *Coordinator) Index() *spatial.Index { return c.index }

// Ingest stores content and schedules the embed pipeline. The returned ID is
// durable immediately; spatial visibility follows asynchronously. Duplicate
// content increments the existing atom's reference count and returns its ID.
func (c *Coordinator) Ingest(ctx context.Context, content []byte, modality atom.Modality) (atom.ID, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}

	id, created, err := c.atoms.Put(ctx, content, modality)
	if err != nil {
		return 0, err
	}

	if created {
		c.logger.Debug("atom ingested", "atom_id", id, "modality", modality)
		if err := c.enqueueEmbed(ctx, id, 1); err != nil {
			// The atom is durable either way; it stays reachable by ID and
			// shows up in spatial queries only after a later re-ingest.
			c.logger.Warn("embed enqueue failed", "atom_id", id, "error", err)
		}
		return id, nil
	}

	// A duplicate of content whose embed pipeline previously dead-lettered
	// gets another chance.
	if c.embedder != nil {
		if has, err := c.embeddings.Has(ctx, id); err == nil && !has {
			if err := c.enqueueEmbed(ctx, id, 1); err != nil {
				c.logger.Warn("embed enqueue failed", "atom_id", id, "error", err)
			}
		}
	}
	return id, nil
}

// Release drops one reference. When the last reference goes, the embedding
// is deleted and the index entry is staged for removal.
func (c *Coordinator) Release(ctx context.Context, id atom.ID) error {
	if c.closed.Load() {
		return ErrClosed
	}

	remaining, err := c.atoms.Release(ctx, id)
	if err != nil {
		return err
	}
	if remaining > 0 {
		return nil
	}

	if err := c.embeddings.Delete(ctx, id); err != nil {
		return err
	}
	c.index.StageDelete(id)
	c.logger.Debug("atom released", "atom_id", id)
	return nil
}

// Relate inserts or replaces a typed edge between two atoms.
func (c *Coordinator) Relate(ctx context.Context, r atom.Relation) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.atoms.AddRelation(ctx, r)
}

// Relations returns the outgoing relations of an atom.
func (c *Coordinator) Relations(ctx context.Context, id atom.ID) ([]atom.Relation, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	return c.atoms.Relations(ctx, id)
}

// Content returns the stored content of an atom.
func (c *Coordinator) Content(ctx context.Context, id atom.ID) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	return c.atoms.Content(ctx, id)
}

// SearchMode selects the query execution strategy.
type SearchMode int

const (
	// ModeAuto scans exhaustively below the brute-force threshold and goes
	// through the index above it.
	ModeAuto SearchMode = iota

	// ModeBrute always scans the full embedding set.
	ModeBrute

	// ModeHybrid always routes through the coarse index.
	ModeHybrid

	// ModeVoronoi is ModeHybrid with partition elimination against kmeans
	// centroids.
	ModeVoronoi
)

// SearchStatus qualifies a search answer.
type SearchStatus int

const (
	// SearchOK means the requested strategy answered normally.
	SearchOK SearchStatus = iota

	// SearchDegraded means the requested strategy was unavailable (stale or
	// empty generation) and the query fell back to brute force.
	SearchDegraded

	// SearchTruncated means fewer than k results could be produced from the
	// candidate set even though the corpus holds at least k embedded atoms.
	SearchTruncated
)

// SearchInfo reports how a search was answered.
type SearchInfo struct {
	Status        SearchStatus
	Generation    uint64
	AnchorVersion uint32
}

// SearchOptions configure one Search call.
type SearchOptions struct {
	Mode SearchMode
}

// Search returns the k nearest embedded atoms to the query vector. The info
// result distinguishes a clean answer from a degraded or truncated one; "no
// results" and "search degraded" are never conflated.
func (c *Coordinator) Search(ctx context.Context, query []float32, k int, optFns ...func(o *SearchOptions)) ([]geo.Result, SearchInfo, error) {
	var sopts SearchOptions
	for _, fn := range optFns {
		fn(&sopts)
	}

	if c.closed.Load() {
		return nil, SearchInfo{}, ErrClosed
	}

	corpus, err := c.corpus(ctx, nil)
	if err != nil {
		return nil, SearchInfo{}, err
	}

	gen := c.index.Snapshot()
	info := SearchInfo{Generation: gen.ID, AnchorVersion: gen.AnchorVersion}

	current := c.registry.CurrentVersion()
	indexUsable := gen.Len() > 0 && current != 0 && gen.AnchorVersion == current

	mode := sopts.Mode
	if mode == ModeAuto {
		if corpus.Len() > c.opts.BruteForceThreshold && indexUsable {
			mode = ModeHybrid
		} else {
			mode = ModeBrute
		}
	}
	if (mode == ModeHybrid || mode == ModeVoronoi) && !indexUsable {
		mode = ModeBrute
		info.Status = SearchDegraded
	}

	var results []geo.Result
	switch mode {
	case ModeBrute:
		results, err = geo.KNN(ctx, corpus, query, k, c.opts.Metric)

	case ModeHybrid, ModeVoronoi:
		set, gerr := c.registry.Get(gen.AnchorVersion)
		if gerr != nil {
			return nil, info, gerr
		}
		results, err = geo.KNN(ctx, corpus, query, k, c.opts.Metric, func(o *geo.KNNOptions) {
			o.BruteForceThreshold = 0
			o.OverfetchFactor = c.opts.OverfetchFactor
			o.Generation = gen
			o.ProjectQuery = func(vec []float32) ([3]float64, error) {
				p, perr := projection.ProjectBounded(vec, set, c.opts.Bound)
				if perr != nil {
					return [3]float64{}, perr
				}
				return p.Coord, nil
			}
			if mode == ModeVoronoi {
				o.Centroids = c.centroids(gen)
				o.BoundaryEpsilon = c.opts.VoronoiBoundaryEpsilon
			}
		})
	}
	if err != nil {
		return nil, info, err
	}

	if info.Status == SearchOK && len(results) < k && corpus.Len() >= k && mode != ModeBrute {
		info.Status = SearchTruncated
	}
	return results, info, nil
}

// Path runs A* between two atoms over the implicit neighbor graph plus the
// stored relations.
func (c *Coordinator) Path(ctx context.Context, start, goal atom.ID, optFns ...func(o *geo.PathOptions)) (geo.Path, error) {
	if c.closed.Load() {
		return geo.Path{}, ErrClosed
	}

	corpus, err := c.corpus(ctx, nil)
	if err != nil {
		return geo.Path{}, err
	}

	relations := func(id atom.ID) []atom.Relation {
		rs, rerr := c.atoms.Relations(ctx, id)
		if rerr != nil {
			return nil
		}
		return rs
	}

	return geo.FindPath(ctx, corpus, start, goal, c.opts.Metric, append([]func(o *geo.PathOptions){
		func(o *geo.PathOptions) { o.Relations = relations },
	}, optFns...)...)
}

// Sync drains the embed and reprojection pipeline, then publishes a
// generation containing everything staged. Test and operations hook.
func (c *Coordinator) Sync(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := c.tracker.wait(ctx); err != nil {
		return err
	}
	c.flush()
	return nil
}

// DeadLetters returns the embed jobs that exhausted their attempts.
func (c *Coordinator) DeadLetters() []DeadLetter {
	c.deadMu.Lock()
	defer c.deadMu.Unlock()
	return append([]DeadLetter(nil), c.deadLetter...)
}

// ProjectionLag returns the number of atoms still carrying a projection from
// a previous anchor version, awaiting reprojection.
func (c *Coordinator) ProjectionLag() int64 {
	return c.reprojectPending.Load()
}

// Stats is a point-in-time operational snapshot.
type Stats struct {
	Atoms         int
	Embeddings    int
	Indexed       int
	Generation    uint64
	AnchorVersion uint32
	PendingFlush  int
	ProjectionLag int64
	LowConfidence int64
	DeadLetters   int
	PendingJobs   int64
}

// Stats reports counts across the stores and the live generation.
func (c *Coordinator) Stats(ctx context.Context) (Stats, error) {
	if c.closed.Load() {
		return Stats{}, ErrClosed
	}

	atomCount, err := c.atoms.Count(ctx)
	if err != nil {
		return Stats{}, err
	}
	embCount, err := c.embeddings.Count(ctx)
	if err != nil {
		return Stats{}, err
	}

	gen := c.index.Snapshot()
	c.deadMu.Lock()
	dead := len(c.deadLetter)
	c.deadMu.Unlock()

	return Stats{
		Atoms:         atomCount,
		Embeddings:    embCount,
		Indexed:       gen.Len(),
		Generation:    gen.ID,
		AnchorVersion: gen.AnchorVersion,
		PendingFlush:  c.index.Pending(),
		ProjectionLag: c.reprojectPending.Load(),
		LowConfidence: c.lowConfidence.Load(),
		DeadLetters:   dead,
		PendingJobs:   c.tracker.count(),
	}, nil
}

// Close stops background work and closes the stores. Idempotent.
func (c *Coordinator) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.cancel()
	<-c.flushDone
	c.pool.Close()

	if err := c.embeddings.Close(); err != nil {
		return err
	}
	return c.atoms.Close()
}

// flushLoop periodically publishes staged index mutations.
func (c *Coordinator) flushLoop() {
	defer close(c.flushDone)

	ticker := time.NewTicker(c.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.flush()
		}
	}
}

func (c *Coordinator) flush() {
	if c.index.Pending() == 0 {
		return
	}
	gen := c.index.Flush(c.registry.CurrentVersion())
	c.logger.Debug("generation published",
		"generation", gen.ID, "anchor_version", gen.AnchorVersion, "entries", gen.Len())
}

// stageProjection projects an embedding under the current anchor set and
// stages the index entry tagged with that set's version. A rotation landing
// between projection and flush then discards the entry at flush time instead
// of publishing a stale coordinate; reprojection restages the atom.
func (c *Coordinator) stageProjection(id atom.ID, vec []float32) {
	set := c.registry.Current()
	if set == nil {
		return
	}

	proj, err := projection.ProjectBounded(vec, set, c.opts.Bound)
	if err != nil {
		c.logger.Warn("projection failed", "atom_id", id, "error", err)
		return
	}
	if proj.Confidence == projection.ConfidenceLow {
		c.lowConfidence.Add(1)
		c.logger.Debug("low confidence projection", "atom_id", id)
		return
	}
	c.index.Stage(id, proj.Coord, set.Version)
}

// corpus materializes the embedding view the algorithms run against. A nil
// scope means the full corpus.
func (c *Coordinator) corpus(ctx context.Context, scope []atom.ID) (*geo.MapCorpus, error) {
	vecs := make(map[atom.ID][]float32)

	if scope == nil {
		err := c.embeddings.ForEach(ctx, func(e *embedding.Embedding) error {
			vecs[e.AtomID] = e.Vector
			return nil
		})
		if err != nil {
			return nil, err
		}
		return geo.NewMapCorpus(vecs), nil
	}

	for _, id := range scope {
		e, err := c.embeddings.Get(ctx, id)
		if err != nil {
			if errors.Is(err, embedding.ErrNotFound) {
				continue
			}
			return nil, err
		}
		vecs[id] = e.Vector
	}
	return geo.NewMapCorpus(vecs), nil
}

// centroids trains the Voronoi centroids for a generation. Deterministic for
// a given generation because the seed is fixed and entries are curve-sorted.
func (c *Coordinator) centroids(gen *spatial.Generation) [][3]float64 {
	points := make([][3]float64, 0, gen.Len())
	gen.ForEach(func(e spatial.Entry) bool {
		points = append(points, e.Coord)
		return true
	})

	k := c.opts.VoronoiCells
	if k > len(points) {
		k = len(points)
	}
	return trainCentroids(points, k)
}
