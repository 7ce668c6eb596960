package segtree

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with helpers that log tree events under
// consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger with the given handler.
// If handler is nil, info-level text goes to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		return NewTextLogger(slog.LevelInfo)
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a Logger that writes JSON lines to stderr.
func NewJSONLogger(level slog.Level) *Logger {
	return NewWriterLogger(os.Stderr, level, true)
}

// NewTextLogger creates a Logger that writes key=value text to stderr.
func NewTextLogger(level slog.Level) *Logger {
	return NewWriterLogger(os.Stderr, level, false)
}

// NewWriterLogger creates a Logger writing to w, as JSON lines when json is
// set and as text otherwise.
func NewWriterLogger(w io.Writer, level slog.Level, json bool) *Logger {
	opts := &slog.HandlerOptions{Level: level}
	if json {
		return &Logger{Logger: slog.New(slog.NewJSONHandler(w, opts))}
	}
	return &Logger{Logger: slog.New(slog.NewTextHandler(w, opts))}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithTree tags log lines with a tree identity.
func (l *Logger) WithTree(id string) *Logger {
	return &Logger{
		Logger: l.Logger.With("tree", id),
	}
}

// LogLoad logs a directory or full load.
func (l *Logger) LogLoad(ctx context.Context, mode string, blocks int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "load failed",
			"mode", mode,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "load completed",
			"mode", mode,
			"blocks", blocks,
		)
	}
}

// LogFlush logs a flush.
func (l *Logger) LogFlush(ctx context.Context, blocks int, bytes int64, d time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "flush failed",
			"blocks_written", blocks,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "flush completed",
			"blocks_written", blocks,
			"bytes", bytes,
			"duration", d,
		)
	}
}

// LogSplit logs a tree split.
func (l *Logger) LogSplit(ctx context.Context, moved, remaining int) {
	l.InfoContext(ctx, "tree split",
		"blocks_moved", moved,
		"blocks_remaining", remaining,
	)
}

// LogMerge logs a tree merge.
func (l *Logger) LogMerge(ctx context.Context, moved int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "tree merge failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "tree merged",
			"blocks_moved", moved,
		)
	}
}

// LogBalance logs a balance between two trees.
func (l *Logger) LogBalance(ctx context.Context, moved, count, otherCount int) {
	l.InfoContext(ctx, "trees balanced",
		"blocks_moved", moved,
		"count", count,
		"other_count", otherCount,
	)
}

// LogEvict logs an eviction pass.
func (l *Logger) LogEvict(ctx context.Context, evicted, flushed int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "eviction failed",
			"evicted", evicted,
			"error", err,
		)
	} else if evicted > 0 {
		l.DebugContext(ctx, "blocks evicted",
			"evicted", evicted,
			"flushed", flushed,
		)
	}
}
