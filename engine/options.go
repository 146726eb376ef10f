package engine

import (
	"log/slog"
	"time"

	"github.com/atomgrid/atomgrid/distance"
	"github.com/atomgrid/atomgrid/embedding"
	"github.com/atomgrid/atomgrid/geo"
	"github.com/atomgrid/atomgrid/projection"
	"github.com/atomgrid/atomgrid/spatial"
)

// Options configure a Coordinator.
type Options struct {
	// Metric is the distance metric used for anchors, queries and graph
	// algorithms.
	Metric distance.Metric

	// Bound is the half-width of the projected coordinate cube.
	Bound float64

	// Curve selects the locality curve of the spatial index.
	Curve spatial.Curve

	// FlushInterval is how often staged index mutations are published as a
	// new generation.
	FlushInterval time.Duration

	// MaxJobAttempts is how many times an embed job is attempted (each
	// attempt itself retried by the embedder boundary) before the atom
	// lands on the dead-letter list.
	MaxJobAttempts int

	// NumWorkers sizes the background worker pool. <= 0 means GOMAXPROCS.
	NumWorkers int

	// Resource bounds background jobs and IO.
	Resource ResourceConfig

	// BruteForceThreshold and OverfetchFactor tune the hybrid query path.
	BruteForceThreshold int
	OverfetchFactor     int

	// VoronoiCells is the centroid count for partition-eliminated search.
	VoronoiCells int

	// VoronoiBoundaryEpsilon widens cell filtering near bisectors.
	VoronoiBoundaryEpsilon float64

	// EmbedderRetry tunes the retry boundary around the external embedder.
	EmbedderRetry []func(o *embedding.RetryOptions)

	// Logger receives operational logs. Defaults to a discarding logger.
	Logger *slog.Logger
}

// DefaultOptions are the defaults applied by New.
var DefaultOptions = Options{
	Metric:                 distance.MetricCosine,
	Bound:                  projection.DefaultBound,
	Curve:                  spatial.CurveHilbert,
	FlushInterval:          200 * time.Millisecond,
	MaxJobAttempts:         3,
	BruteForceThreshold:    geo.DefaultBruteForceThreshold,
	OverfetchFactor:        geo.DefaultOverfetchFactor,
	VoronoiCells:           8,
	VoronoiBoundaryEpsilon: 1.0,
}
