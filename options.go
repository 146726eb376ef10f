package atomgrid

import (
	"time"

	"github.com/atomgrid/atomgrid/atom"
	"github.com/atomgrid/atomgrid/distance"
	"github.com/atomgrid/atomgrid/embedding"
	"github.com/atomgrid/atomgrid/engine"
	"github.com/atomgrid/atomgrid/spatial"
)

// Option configures an AtomGrid instance.
type Option func(*options)

type options struct {
	atoms      atom.Store
	embeddings embedding.Store
	embedder   embedding.Embedder

	logger  *Logger
	metrics MetricsCollector

	engine []func(*engine.Options)
}

func applyOptions(optFns []Option) options {
	opts := options{
		metrics: NoopMetricsCollector{},
		logger:  NoopLogger(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return opts
}

// WithAtomStore sets the atom store. Default is an in-memory store; use
// atom.NewSQLiteStore for durability.
func WithAtomStore(s atom.Store) Option {
	return func(o *options) { o.atoms = s }
}

// WithEmbeddingStore sets the embedding store. Default is in-memory.
func WithEmbeddingStore(s embedding.Store) Option {
	return func(o *options) { o.embeddings = s }
}

// WithEmbedder sets the embedder. Without one, ingested atoms stay outside
// spatial queries.
func WithEmbedder(e embedding.Embedder) Option {
	return func(o *options) { o.embedder = e }
}

// WithLogger sets the logger. Default discards all output.
func WithLogger(l *Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetricsCollector sets the metrics collector. Default is a no-op.
func WithMetricsCollector(m MetricsCollector) Option {
	return func(o *options) { o.metrics = m }
}

// WithMetric sets the distance metric. Default is cosine.
func WithMetric(m distance.Metric) Option {
	return engineOption(func(o *engine.Options) { o.Metric = m })
}

// WithBound sets the half-width of the projected coordinate cube.
func WithBound(bound float64) Option {
	return engineOption(func(o *engine.Options) { o.Bound = bound })
}

// WithCurve selects the locality curve of the spatial index.
func WithCurve(c spatial.Curve) Option {
	return engineOption(func(o *engine.Options) { o.Curve = c })
}

// WithFlushInterval sets how often staged index mutations are published.
func WithFlushInterval(d time.Duration) Option {
	return engineOption(func(o *engine.Options) { o.FlushInterval = d })
}

// WithWorkers sizes the background worker pool.
func WithWorkers(n int) Option {
	return engineOption(func(o *engine.Options) { o.NumWorkers = n })
}

// WithResource bounds background job concurrency and IO throughput.
func WithResource(cfg engine.ResourceConfig) Option {
	return engineOption(func(o *engine.Options) { o.Resource = cfg })
}

// WithBruteForceThreshold sets the corpus size below which auto-mode search
// scans exhaustively.
func WithBruteForceThreshold(n int) Option {
	return engineOption(func(o *engine.Options) { o.BruteForceThreshold = n })
}

// WithOverfetchFactor sets the hybrid search candidate multiplier.
func WithOverfetchFactor(n int) Option {
	return engineOption(func(o *engine.Options) { o.OverfetchFactor = n })
}

// WithVoronoiCells sets the centroid count for partition-eliminated search.
func WithVoronoiCells(n int) Option {
	return engineOption(func(o *engine.Options) { o.VoronoiCells = n })
}

// WithEmbedderRetry tunes the retry boundary around the embedder.
func WithEmbedderRetry(optFns ...func(o *embedding.RetryOptions)) Option {
	return engineOption(func(o *engine.Options) { o.EmbedderRetry = optFns })
}

func engineOption(fn func(*engine.Options)) Option {
	return func(o *options) { o.engine = append(o.engine, fn) }
}
