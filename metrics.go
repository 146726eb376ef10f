package atomgrid

import (
	"sync/atomic"
	"time"
)

// MetricsCollector receives operation timings. Implement it to feed a
// monitoring system like Prometheus.
type MetricsCollector interface {
	// RecordIngest is called after each ingest. err is nil on success.
	RecordIngest(duration time.Duration, err error)

	// RecordRelease is called after each release.
	RecordRelease(duration time.Duration, err error)

	// RecordSearch is called after each search with the requested k.
	RecordSearch(k int, duration time.Duration, err error)

	// RecordPath is called after each pathfinding run.
	RecordPath(duration time.Duration, err error)

	// RecordCluster is called when a cluster job finishes.
	RecordCluster(duration time.Duration, err error)
}

// NoopMetricsCollector discards all metrics.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordIngest(time.Duration, error)      {}
func (NoopMetricsCollector) RecordRelease(time.Duration, error)     {}
func (NoopMetricsCollector) RecordSearch(int, time.Duration, error) {}
func (NoopMetricsCollector) RecordPath(time.Duration, error)        {}
func (NoopMetricsCollector) RecordCluster(time.Duration, error)     {}

// BasicMetricsCollector is a simple in-memory collector for debugging and
// tests. Safe for concurrent use.
type BasicMetricsCollector struct {
	IngestCount      atomic.Int64
	IngestErrors     atomic.Int64
	IngestTotalNanos atomic.Int64
	ReleaseCount     atomic.Int64
	ReleaseErrors    atomic.Int64
	SearchCount      atomic.Int64
	SearchErrors     atomic.Int64
	SearchTotalNanos atomic.Int64
	PathCount        atomic.Int64
	PathErrors       atomic.Int64
	ClusterCount     atomic.Int64
	ClusterErrors    atomic.Int64
}

// RecordIngest implements MetricsCollector.
func (b *BasicMetricsCollector) RecordIngest(duration time.Duration, err error) {
	b.IngestCount.Add(1)
	b.IngestTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.IngestErrors.Add(1)
	}
}

// RecordRelease implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRelease(duration time.Duration, err error) {
	b.ReleaseCount.Add(1)
	if err != nil {
		b.ReleaseErrors.Add(1)
	}
}

// RecordSearch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSearch(k int, duration time.Duration, err error) {
	b.SearchCount.Add(1)
	b.SearchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SearchErrors.Add(1)
	}
}

// RecordPath implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPath(duration time.Duration, err error) {
	b.PathCount.Add(1)
	if err != nil {
		b.PathErrors.Add(1)
	}
}

// RecordCluster implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCluster(duration time.Duration, err error) {
	b.ClusterCount.Add(1)
	if err != nil {
		b.ClusterErrors.Add(1)
	}
}

// BasicMetricsStats is a point-in-time snapshot of a BasicMetricsCollector.
type BasicMetricsStats struct {
	IngestCount    int64
	IngestErrors   int64
	IngestAvgNanos int64
	ReleaseCount   int64
	ReleaseErrors  int64
	SearchCount    int64
	SearchErrors   int64
	SearchAvgNanos int64
	PathCount      int64
	PathErrors     int64
	ClusterCount   int64
	ClusterErrors  int64
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	s := BasicMetricsStats{
		IngestCount:   b.IngestCount.Load(),
		IngestErrors:  b.IngestErrors.Load(),
		ReleaseCount:  b.ReleaseCount.Load(),
		ReleaseErrors: b.ReleaseErrors.Load(),
		SearchCount:   b.SearchCount.Load(),
		SearchErrors:  b.SearchErrors.Load(),
		PathCount:     b.PathCount.Load(),
		PathErrors:    b.PathErrors.Load(),
		ClusterCount:  b.ClusterCount.Load(),
		ClusterErrors: b.ClusterErrors.Load(),
	}
	if s.IngestCount > 0 {
		s.IngestAvgNanos = b.IngestTotalNanos.Load() / s.IngestCount
	}
	if s.SearchCount > 0 {
		s.SearchAvgNanos = b.SearchTotalNanos.Load() / s.SearchCount
	}
	return s
}
