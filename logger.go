package atomgrid

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/atomgrid/atomgrid/atom"
)

// Logger wraps slog.Logger with atomgrid-specific helpers so operations log
// with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger with the given handler. A nil handler means
// text output to stderr at info level.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a Logger that emits JSON to stderr.
func NewJSONLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))}
}

// NewTextLogger creates a Logger that emits human-readable text to stderr.
func NewTextLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))}
}

// NoopLogger creates a Logger that discards everything.
func NoopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// LogIngest logs an ingest operation.
func (l *Logger) LogIngest(ctx context.Context, id atom.ID, size int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "ingest failed", "error", err)
	} else {
		l.DebugContext(ctx, "ingest completed", "atom_id", id, "size", size)
	}
}

// LogSearch logs a search operation.
func (l *Logger) LogSearch(ctx context.Context, k, found int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed", "k", k, "error", err)
	} else {
		l.DebugContext(ctx, "search completed", "k", k, "results", found)
	}
}

// LogPath logs a pathfinding operation.
func (l *Logger) LogPath(ctx context.Context, start, goal atom.ID, hops int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "path failed", "start", start, "goal", goal, "error", err)
	} else {
		l.DebugContext(ctx, "path completed", "start", start, "goal", goal, "hops", hops)
	}
}

// LogSnapshot logs a snapshot save or restore.
func (l *Logger) LogSnapshot(ctx context.Context, name string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "snapshot failed", "name", name, "error", err)
	} else {
		l.InfoContext(ctx, "snapshot completed", "name", name)
	}
}
