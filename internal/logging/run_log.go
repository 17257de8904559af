package logging

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
)

// RunLogPath is the per-run log file inside dir.
func RunLogPath(dir, runID string) string {
	return filepath.Join(dir, "runs", runID+".log")
}

// OpenRunLogger mirrors base into a JSON log file dedicated to runID. The
// returned closer must be called when the run ends.
func OpenRunLogger(base *slog.Logger, dir, runID, level string) (*slog.Logger, io.Closer, error) {
	file, closer, err := NewFileHandler(RunLogPath(dir, runID), level)
	if err != nil {
		return base, nopCloser{}, err
	}
	var shared slog.Handler
	if base != nil {
		shared = base.Handler()
	}
	return slog.New(newRunLogHandler(shared, file)), closer, nil
}

// runLogHandler writes each record to the shared process log and to one
// run's log file. Either side may be nil.
type runLogHandler struct {
	shared slog.Handler
	run    slog.Handler
}

func newRunLogHandler(shared, run slog.Handler) slog.Handler {
	switch {
	case shared == nil && run == nil:
		return NoopHandler{}
	case shared == nil:
		return run
	case run == nil:
		return shared
	}
	return &runLogHandler{shared: shared, run: run}
}

func (h *runLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.shared.Enabled(ctx, level) || h.run.Enabled(ctx, level)
}

func (h *runLogHandler) Handle(ctx context.Context, record slog.Record) error {
	var sharedErr error
	if h.shared.Enabled(ctx, record.Level) {
		// The shared handler may retain attrs; the run file gets its own copy.
		sharedErr = h.shared.Handle(ctx, record.Clone())
	}
	if h.run.Enabled(ctx, record.Level) {
		if err := h.run.Handle(ctx, record); err != nil {
			return err
		}
	}
	return sharedErr
}

func (h *runLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &runLogHandler{shared: h.shared.WithAttrs(attrs), run: h.run.WithAttrs(attrs)}
}

func (h *runLogHandler) WithGroup(name string) slog.Handler {
	return &runLogHandler{shared: h.shared.WithGroup(name), run: h.run.WithGroup(name)}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
