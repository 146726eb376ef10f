package atomgrid

import (
	"errors"
	"fmt"

	"github.com/atomgrid/atomgrid/atom"
	"github.com/atomgrid/atomgrid/blobstore"
	"github.com/atomgrid/atomgrid/embedding"
	"github.com/atomgrid/atomgrid/engine"
	"github.com/atomgrid/atomgrid/geo"
)

var (
	// ErrNotFound is returned when an atom, embedding or blob does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")

	// ErrClosed is returned after Close.
	ErrClosed = engine.ErrClosed

	// ErrBudgetExceeded is returned when a bounded query ran out of budget.
	// The result alongside it is partial, not empty.
	ErrBudgetExceeded = geo.ErrBudgetExceeded

	// ErrNoAnchorSet is returned by operations that need a registered anchor
	// set before any RotateAnchors call.
	ErrNoAnchorSet = engine.ErrNoAnchorSet

	// ErrUnknownJob is returned for cluster job IDs that were never issued.
	ErrUnknownJob = engine.ErrUnknownJob
)

// translateError unifies the not-found sentinels of the inner packages so
// callers match against atomgrid.ErrNotFound only.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, atom.ErrNotFound) ||
		errors.Is(err, embedding.ErrNotFound) ||
		errors.Is(err, geo.ErrVectorNotFound) ||
		errors.Is(err, blobstore.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}
