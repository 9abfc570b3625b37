package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with engine specific helpers and consistent field names.
type Logger struct {
	*slog.Logger
}

// New creates a Logger with the given handler; nil means text to stderr at info.
func New(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{Logger: slog.New(handler)}
}

func NewJSON(w io.Writer, level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))}
}

func NewText(w io.Writer, level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))}
}

// Noop discards everything.
func Noop() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.Level(1000),
	}))}
}

func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{Logger: l.Logger.With("component", name)}
}

func (l *Logger) WithBackend(name string) *Logger {
	return &Logger{Logger: l.Logger.With("backend", name)}
}

func (l *Logger) WithConsumer(id string) *Logger {
	return &Logger{Logger: l.Logger.With("consumer", id)}
}

// LogCommit logs a finished commit. Conflicts are expected outcomes and stay at debug.
func (l *Logger) LogCommit(ctx context.Context, txnId string, version uint64, deltas int, took time.Duration, err error, conflict bool) {
	switch {
	case conflict:
		l.DebugContext(ctx, "commit aborted by conflict",
			"txn", txnId,
			"deltas", deltas,
		)
	case err != nil:
		l.ErrorContext(ctx, "commit failed",
			"txn", txnId,
			"version", version,
			"deltas", deltas,
			"error", err,
		)
	default:
		l.DebugContext(ctx, "commit completed",
			"txn", txnId,
			"version", version,
			"deltas", deltas,
			"took", took,
		)
	}
}

func (l *Logger) LogSweep(ctx context.Context, watermark uint64, compacted, cdcDropped int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "retention sweep failed",
			"watermark", watermark,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "retention sweep completed",
		"watermark", watermark,
		"versions_removed", compacted,
		"cdc_removed", cdcDropped,
	)
}

func (l *Logger) LogRecovery(ctx context.Context, path string, frames int, lastVersion uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "segment recovery failed",
			"path", path,
			"frames", frames,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "segment recovery completed",
		"path", path,
		"frames", frames,
		"last_version", lastVersion,
	)
}
