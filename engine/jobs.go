package engine

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/atomgrid/atomgrid/atom"
	"github.com/atomgrid/atomgrid/embedding"
	"github.com/atomgrid/atomgrid/geo"
	"github.com/atomgrid/atomgrid/internal/kmeans"
)

// centroidSeed fixes kmeans initialization so Voronoi partitions are
// reproducible across runs over the same generation.
const centroidSeed = 1

func trainCentroids(points [][3]float64, k int) [][3]float64 {
	return kmeans.Train(points, k, 50, centroidSeed)
}

// jobTracker counts in-flight background jobs so Sync can drain them.
type jobTracker struct {
	mu     sync.Mutex
	n      int64
	zeroCh chan struct{}
}

func newJobTracker() *jobTracker {
	ch := make(chan struct{})
	close(ch)
	return &jobTracker{zeroCh: ch}
}

func (t *jobTracker) add() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.n == 0 {
		t.zeroCh = make(chan struct{})
	}
	t.n++
}

func (t *jobTracker) done() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.n--
	if t.n == 0 {
		close(t.zeroCh)
	}
}

func (t *jobTracker) count() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.n
}

// wait blocks until every job in flight at call time (and any chained onto
// them) has finished.
func (t *jobTracker) wait(ctx context.Context) error {
	for {
		t.mu.Lock()
		ch := t.zeroCh
		t.mu.Unlock()

		select {
		case <-ch:
			// Re-check: a drained queue can refill from a chained retry.
			t.mu.Lock()
			n := t.n
			t.mu.Unlock()
			if n == 0 {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// retryEnqueueDelay spaces a failed embed job's resubmission so a saturated
// queue has a chance to drain first.
const retryEnqueueDelay = 10 * time.Millisecond

// enqueueEmbed schedules the embed pipeline for one atom. attempt starts at 1.
// Submission blocks on the caller's ctx while the pool queue is full, so a
// cancelled ingest never wedges.
func (c *Coordinator) enqueueEmbed(ctx context.Context, id atom.ID, attempt int) error {
	if c.embedder == nil {
		return nil
	}

	c.tracker.add()
	err := c.pool.Submit(ctx, func() {
		defer c.tracker.done()
		c.processEmbed(id, attempt)
	})
	if err != nil {
		c.tracker.done()
	}
	return err
}

// retryEmbed reschedules a failed embed job from outside the worker that ran
// it. Resubmitting inline would have the worker block on its own pool's full
// queue, so the handoff happens in a short-lived goroutine after a delay.
// The tracker add here precedes the calling worker's done, keeping Sync's
// drain aware of the chained retry.
func (c *Coordinator) retryEmbed(id atom.ID, attempt int) {
	c.tracker.add()
	go func() {
		defer c.tracker.done()

		select {
		case <-time.After(retryEnqueueDelay):
		case <-c.ctx.Done():
			return
		}

		c.tracker.add()
		err := c.pool.Submit(c.ctx, func() {
			defer c.tracker.done()
			c.processEmbed(id, attempt)
		})
		if err != nil {
			c.tracker.done()
			c.logger.Debug("embed retry dropped", "atom_id", id, "error", err)
		}
	}()
}

// processEmbed is the embed job consumer: embed, store, project, stage.
// Redelivery is a no-op once the embedding exists, so at-least-once job
// delivery is safe.
func (c *Coordinator) processEmbed(id atom.ID, attempt int) {
	ctx := c.ctx

	if has, err := c.embeddings.Has(ctx, id); err == nil && has {
		return
	}

	content, err := c.atoms.Content(ctx, id)
	if err != nil {
		// Atom released before its embed job ran.
		c.logger.Debug("embed job dropped", "atom_id", id, "error", err)
		return
	}

	vec, err := c.embedder.Embed(ctx, content)
	if err != nil {
		if attempt < c.opts.MaxJobAttempts && !errors.Is(err, context.Canceled) {
			c.logger.Warn("embed attempt failed", "atom_id", id, "attempt", attempt, "error", err)
			c.retryEmbed(id, attempt+1)
			return
		}
		c.deadMu.Lock()
		c.deadLetter = append(c.deadLetter, DeadLetter{AtomID: id, Err: err, At: time.Now()})
		c.deadMu.Unlock()
		c.logger.Error("embed job dead-lettered", "atom_id", id, "attempts", attempt, "error", err)
		return
	}

	err = c.embeddings.Put(ctx, embedding.Embedding{
		AtomID:    id,
		ModelID:   c.embedder.ModelID(),
		Vector:    vec,
		Dimension: len(vec),
	})
	if err != nil {
		c.logger.Error("embedding store failed", "atom_id", id, "error", err)
		return
	}

	c.stageProjection(id, vec)
}

// RotateAnchors publishes a new anchor set version. The index is immediately
// swapped to an empty generation under the new version, so queries exclude
// every stale projection at once; a background job reprojects the corpus and
// the periodic flush re-includes atoms as they complete. ProjectionLag
// reports the remaining backlog.
func (c *Coordinator) RotateAnchors(ctx context.Context, anchors [][]float32) (uint32, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}

	set, err := c.registry.Register(anchors)
	if err != nil {
		return 0, err
	}
	c.index.Rebuild(nil, set.Version)

	count, err := c.embeddings.Count(ctx)
	if err != nil {
		return 0, err
	}
	c.reprojectPending.Store(int64(count))
	c.logger.Info("anchor set rotated", "version", set.Version, "reproject", count)

	c.tracker.add()
	err = c.pool.Submit(c.ctx, func() {
		defer c.tracker.done()
		c.reprojectAll(set.Version)
	})
	if err != nil {
		c.tracker.done()
		return 0, err
	}
	return set.Version, nil
}

// reprojectAll projects every embedding under the given anchor version and
// stages the results. Runs as one bounded background job; the projection
// work itself is spread over an errgroup.
func (c *Coordinator) reprojectAll(version uint32) {
	if err := c.controller.acquireJob(c.ctx); err != nil {
		return
	}
	defer c.controller.releaseJob()

	// Skip stale rotations: only the newest version is worth projecting.
	if c.registry.CurrentVersion() != version {
		return
	}

	var all []*embedding.Embedding
	err := c.embeddings.ForEach(c.ctx, func(e *embedding.Embedding) error {
		all = append(all, e)
		return nil
	})
	if err != nil {
		c.logger.Error("reprojection scan failed", "error", err)
		return
	}

	g, _ := errgroup.WithContext(c.ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, e := range all {
		e := e
		g.Go(func() error {
			c.stageProjection(e.AtomID, e.Vector)
			c.reprojectPending.Add(-1)
			return nil
		})
	}
	_ = g.Wait()

	c.flush()
	c.logger.Info("reprojection complete", "version", version, "atoms", len(all))
}

// ClusterStatus is the lifecycle state of an async cluster job.
type ClusterStatus int

const (
	ClusterPending ClusterStatus = iota
	ClusterRunning
	ClusterDone
	ClusterFailed
	ClusterTruncated
)

func (s ClusterStatus) String() string {
	switch s {
	case ClusterPending:
		return "pending"
	case ClusterRunning:
		return "running"
	case ClusterDone:
		return "done"
	case ClusterFailed:
		return "failed"
	case ClusterTruncated:
		return "truncated"
	default:
		return "unknown"
	}
}

// ClusterJob is the poll result of an async DBSCAN run.
type ClusterJob struct {
	ID        uuid.UUID
	Status    ClusterStatus
	Labels    map[atom.ID]int
	Err       error
	Submitted time.Time
	Finished  time.Time
}

// SubmitCluster schedules a DBSCAN run over the corpus (or an explicit scope)
// and returns a job ID to poll with ClusterJob.
func (c *Coordinator) SubmitCluster(ctx context.Context, epsilon float64, minPoints int, scope []atom.ID, optFns ...func(o *geo.DBSCANOptions)) (uuid.UUID, error) {
	if c.closed.Load() {
		return uuid.Nil, ErrClosed
	}

	job := &ClusterJob{
		ID:        uuid.New(),
		Status:    ClusterPending,
		Submitted: time.Now(),
	}
	c.jobsMu.Lock()
	c.clusterJobs[job.ID.String()] = job
	c.jobsMu.Unlock()

	c.tracker.add()
	err := c.pool.Submit(ctx, func() {
		defer c.tracker.done()
		c.runCluster(job, epsilon, minPoints, scope, optFns)
	})
	if err != nil {
		c.tracker.done()
		c.jobsMu.Lock()
		delete(c.clusterJobs, job.ID.String())
		c.jobsMu.Unlock()
		return uuid.Nil, err
	}
	return job.ID, nil
}

func (c *Coordinator) runCluster(job *ClusterJob, epsilon float64, minPoints int, scope []atom.ID, optFns []func(o *geo.DBSCANOptions)) {
	setStatus := func(status ClusterStatus, labels map[atom.ID]int, err error) {
		c.jobsMu.Lock()
		job.Status = status
		job.Labels = labels
		job.Err = err
		job.Finished = time.Now()
		c.jobsMu.Unlock()
	}

	if err := c.controller.acquireJob(c.ctx); err != nil {
		setStatus(ClusterFailed, nil, err)
		return
	}
	defer c.controller.releaseJob()

	c.jobsMu.Lock()
	job.Status = ClusterRunning
	c.jobsMu.Unlock()

	corpus, err := c.corpus(c.ctx, scope)
	if err != nil {
		setStatus(ClusterFailed, nil, err)
		return
	}

	labels, err := geo.DBSCAN(c.ctx, corpus, epsilon, minPoints, c.opts.Metric, optFns...)
	switch {
	case err == nil:
		setStatus(ClusterDone, labels, nil)
	case errors.Is(err, geo.ErrBudgetExceeded):
		// Explicitly partial, never presented as complete.
		setStatus(ClusterTruncated, labels, err)
	default:
		setStatus(ClusterFailed, nil, err)
	}
}

// ClusterJob returns a snapshot of an async cluster job.
func (c *Coordinator) ClusterJob(id uuid.UUID) (*ClusterJob, error) {
	c.jobsMu.Lock()
	defer c.jobsMu.Unlock()

	job, ok := c.clusterJobs[id.String()]
	if !ok {
		return nil, ErrUnknownJob
	}

	cp := *job
	if job.Labels != nil {
		cp.Labels = make(map[atom.ID]int, len(job.Labels))
		for k, v := range job.Labels {
			cp.Labels[k] = v
		}
	}
	return &cp, nil
}
