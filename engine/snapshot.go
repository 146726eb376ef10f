package engine

import (
	"context"
	"fmt"
	"io"

	"github.com/atomgrid/atomgrid/embedding"
	"github.com/atomgrid/atomgrid/persistence"
	"github.com/atomgrid/atomgrid/projection"
	"github.com/atomgrid/atomgrid/spatial"
)

// Snapshot captures the current anchor set, all embedding records and the
// live generation's entries. Atom content is not included; the atom store is
// durable on its own and a restored coordinator plugs back into it.
func (c *Coordinator) Snapshot(ctx context.Context) (*persistence.Snapshot, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	gen := c.index.Snapshot()
	s := &persistence.Snapshot{
		GenerationID:  gen.ID,
		AnchorVersion: gen.AnchorVersion,
		Metric:        c.opts.Metric,
		Curve:         c.opts.Curve,
		Bound:         c.opts.Bound,
	}

	if set := c.registry.Current(); set != nil {
		s.Anchors = set.Anchors()
	}

	err := c.embeddings.ForEach(ctx, func(e *embedding.Embedding) error {
		s.Embeddings = append(s.Embeddings, *e)
		return nil
	})
	if err != nil {
		return nil, err
	}

	gen.ForEach(func(e spatial.Entry) bool {
		s.Entries = append(s.Entries, e)
		return true
	})
	return s, nil
}

// WriteSnapshot captures a snapshot and serializes it to w. Writes pass
// through the resource controller's IO budget, so a configured
// IOLimitBytesPerSec paces snapshot output alongside the other background IO.
func (c *Coordinator) WriteSnapshot(ctx context.Context, w io.Writer, optFns ...func(*persistence.SaveOptions)) error {
	s, err := c.Snapshot(ctx)
	if err != nil {
		return err
	}
	return persistence.Save(&throttledWriter{ctx: ctx, ctrl: c.controller, w: w}, s, optFns...)
}

// throttledWriter charges each write against the IO token bucket before
// passing it through.
type throttledWriter struct {
	ctx  context.Context
	ctrl *resourceController
	w    io.Writer
}

func (t *throttledWriter) Write(p []byte) (int, error) {
	if err := t.ctrl.waitIO(t.ctx, len(p)); err != nil {
		return 0, err
	}
	return t.w.Write(p)
}

// Restore loads a snapshot into this coordinator: anchors are re-registered,
// embedding records are written back and the generation is republished from
// the stored entries. The snapshot's metric must match the coordinator's;
// curve and bound may differ because entry keys are recomputed on rebuild.
func (c *Coordinator) Restore(ctx context.Context, s *persistence.Snapshot) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if s.Metric != c.opts.Metric {
		return fmt.Errorf("snapshot metric %v does not match engine metric %v", s.Metric, c.opts.Metric)
	}

	version := uint32(0)
	if len(s.Anchors) > 0 {
		set, err := c.registry.Register(s.Anchors)
		if err != nil {
			return err
		}
		version = set.Version
	}

	for i := range s.Embeddings {
		if err := c.embeddings.Put(ctx, s.Embeddings[i]); err != nil {
			return err
		}
	}

	gen := c.index.Rebuild(s.Entries, version)
	c.logger.Info("snapshot restored",
		"generation", gen.ID, "anchor_version", version,
		"embeddings", len(s.Embeddings), "entries", gen.Len())
	return nil
}

// Rebuild reconstructs the generation from first principles: every stored
// embedding is reprojected under the current anchor set and the index is
// republished wholesale. Recovery path for a corrupt or lost index.
func (c *Coordinator) Rebuild(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	set := c.registry.Current()
	if set == nil {
		return ErrNoAnchorSet
	}

	var entries []spatial.Entry
	err := c.embeddings.ForEach(ctx, func(e *embedding.Embedding) error {
		proj, perr := projection.ProjectBounded(e.Vector, set, c.opts.Bound)
		if perr != nil || proj.Confidence == projection.ConfidenceLow {
			return nil
		}
		entries = append(entries, spatial.Entry{AtomID: e.AtomID, Coord: proj.Coord})
		return nil
	})
	if err != nil {
		return err
	}

	gen := c.index.Rebuild(entries, set.Version)
	c.logger.Info("index rebuilt", "generation", gen.ID, "entries", gen.Len())
	return nil
}
