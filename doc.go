// Package atomgrid is an embedded spatial memory engine for Go.
//
// AtomGrid stores content-addressed atoms, embeds them through a pluggable
// embedder and projects the embeddings into a 3D coordinate space via
// anchor-based trilateration. Projected atoms live in a multi-resolution
// spatial index built on locality curves and packed bounding volumes, which
// serves coarse nearest-neighbor candidates that are reranked exactly in the
// original embedding space.
//
// On top of the index sits a geometric query suite: exact and hybrid KNN,
// Voronoi partition-eliminated search, semantic A* pathfinding over neighbor
// and relation edges, DBSCAN clustering and 2D hull/triangulation helpers.
//
// # Quick start
//
//	grid, err := atomgrid.New(
//	    atomgrid.WithEmbedder(myEmbedder),
//	    atomgrid.WithMetric(distance.MetricCosine),
//	)
//	if err != nil {
//	    panic(err)
//	}
//	defer grid.Close()
//
//	ctx := context.Background()
//	if _, err := grid.RotateAnchors(ctx, anchorVectors); err != nil {
//	    panic(err)
//	}
//
//	id, err := grid.Ingest(ctx, []byte("some content"), atom.ModalityText)
//	...
//	_ = grid.Sync(ctx) // drain the embed pipeline before querying
//
//	results, info, err := grid.Search(ctx, queryVector, 10)
//
// Ingestion is durable immediately; embedding, projection and indexing run
// in the background and become query-visible at the next generation flush.
// Search reports how it answered (ok, degraded, truncated) so callers can
// tell "no results" from "index unavailable".
//
// # Persistence
//
// Save and Restore serialize the anchor set, embeddings and index entries to
// a checksummed snapshot, written to any blobstore.BlobStore (local disk,
// S3, MinIO) or a plain io.Writer. Atom content persists independently in
// the atom store (in-memory or SQLite).
package atomgrid
