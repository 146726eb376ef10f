package engine

import (
	"context"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/atomgrid/atomgrid/atom"
	"github.com/atomgrid/atomgrid/embedding"
	"github.com/atomgrid/atomgrid/projection"
)

// InconsistencyReport names the atoms where the live generation disagrees
// with the stores. Zero-length report means the index is consistent.
type InconsistencyReport struct {
	// Missing are atoms that have an embedding and a clean projection under
	// the generation's anchor version but no index entry.
	Missing []atom.ID

	// Orphaned are index entries whose atom no longer has an embedding.
	Orphaned []atom.ID
}

// Clean reports whether nothing was flagged.
func (r *InconsistencyReport) Clean() bool {
	return len(r.Missing) == 0 && len(r.Orphaned) == 0
}

// Validate diffs the live generation against the stores. The index is a
// derived cache, so any disagreement is repairable: missing entries are
// restaged and orphans staged for deletion by a background job. A non-clean
// report is returned alongside ErrIndexInconsistency; validation never
// crashes the engine.
func (c *Coordinator) Validate(ctx context.Context) (*InconsistencyReport, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	gen := c.index.Snapshot()
	members := gen.Members()

	// Expected membership: embedded atoms whose projection under the
	// generation's anchor set is high confidence. Projection is
	// deterministic, so recomputing it reproduces what staging decided.
	expected := roaring64.New()
	embedded := roaring64.New()

	if gen.AnchorVersion != 0 {
		set, err := c.registry.Get(gen.AnchorVersion)
		if err != nil {
			return nil, err
		}
		err = c.embeddings.ForEach(ctx, func(e *embedding.Embedding) error {
			embedded.Add(uint64(e.AtomID))
			proj, perr := projection.ProjectBounded(e.Vector, set, c.opts.Bound)
			if perr == nil && proj.Confidence == projection.ConfidenceHigh {
				expected.Add(uint64(e.AtomID))
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	missing := roaring64.AndNot(expected, members)
	orphaned := roaring64.AndNot(members, embedded)

	report := &InconsistencyReport{}
	for it := missing.Iterator(); it.HasNext(); {
		report.Missing = append(report.Missing, atom.ID(it.Next()))
	}
	for it := orphaned.Iterator(); it.HasNext(); {
		report.Orphaned = append(report.Orphaned, atom.ID(it.Next()))
	}

	if report.Clean() {
		return report, nil
	}

	c.logger.Warn("index inconsistency detected",
		"missing", len(report.Missing), "orphaned", len(report.Orphaned))

	c.tracker.add()
	err := c.pool.Submit(ctx, func() {
		defer c.tracker.done()
		c.repair(report)
	})
	if err != nil {
		c.tracker.done()
		return report, err
	}
	return report, fmt.Errorf("%w: %d missing, %d orphaned",
		ErrIndexInconsistency, len(report.Missing), len(report.Orphaned))
}

// repair restages missing entries and removes orphans. The next flush
// publishes the corrected generation.
func (c *Coordinator) repair(report *InconsistencyReport) {
	if err := c.controller.acquireJob(c.ctx); err != nil {
		return
	}
	defer c.controller.releaseJob()

	for _, id := range report.Missing {
		e, err := c.embeddings.Get(c.ctx, id)
		if err != nil {
			continue
		}
		c.stageProjection(id, e.Vector)
	}
	for _, id := range report.Orphaned {
		c.index.StageDelete(id)
	}
	c.flush()
	c.logger.Info("index repaired",
		"restaged", len(report.Missing), "dropped", len(report.Orphaned))
}
