package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// fanOutHandler is a slog.Handler that dispatches every record to two
// handlers. Used by NewSnapshotLogger to write simultaneously to the
// process-wide handler and a snapshot-dedicated log file.
type fanOutHandler struct {
	primary   slog.Handler
	secondary slog.Handler
}

func (h *fanOutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.primary.Enabled(ctx, level) || h.secondary.Enabled(ctx, level)
}

func (h *fanOutHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.primary.Enabled(ctx, r.Level) {
		if err := h.primary.Handle(ctx, r); err != nil {
			return err
		}
	}
	// A write failure on the snapshot-specific log must never take down the
	// process-wide log.
	if h.secondary.Enabled(ctx, r.Level) {
		_ = h.secondary.Handle(ctx, r)
	}
	return nil
}

func (h *fanOutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &fanOutHandler{
		primary:   h.primary.WithAttrs(attrs),
		secondary: h.secondary.WithAttrs(attrs),
	}
}

func (h *fanOutHandler) WithGroup(name string) slog.Handler {
	return &fanOutHandler{
		primary:   h.primary.WithGroup(name),
		secondary: h.secondary.WithGroup(name),
	}
}

// NewSnapshotLogger builds a logger that writes to both the process-wide
// base logger and a file dedicated to one snapshot run, created at:
//
//	{snapshotLogDir}/{snapshotName}/{runID}.log
//
// Returns the enriched logger, an io.Closer for the dedicated file, and its
// absolute path. The Closer must be called (defer) when the run ends. If
// snapshotLogDir is empty, returns the base logger unmodified (no-op).
func NewSnapshotLogger(baseLogger *slog.Logger, snapshotLogDir, snapshotName, runID string) (*slog.Logger, io.Closer, string, error) {
	if snapshotLogDir == "" {
		return baseLogger, io.NopCloser(nil), "", nil
	}

	dir := filepath.Join(snapshotLogDir, snapshotName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, nil, "", fmt.Errorf("creating snapshot log directory %s: %w", dir, err)
	}

	logPath := filepath.Join(dir, runID+".log")
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, "", fmt.Errorf("opening snapshot log file %s: %w", logPath, err)
	}

	// The per-run file always uses JSON at debug level for maximum capture,
	// independent of the process-wide handler's configured level/format.
	fileHandler := slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug})

	combined := &fanOutHandler{
		primary:   baseLogger.Handler(),
		secondary: fileHandler,
	}

	return slog.New(combined), f, logPath, nil
}

// RemoveSnapshotLog deletes the dedicated log file of a run that completed
// successfully. No-op if snapshotLogDir is empty or the file does not exist.
func RemoveSnapshotLog(snapshotLogDir, snapshotName, runID string) {
	if snapshotLogDir == "" {
		return
	}
	os.Remove(filepath.Join(snapshotLogDir, snapshotName, runID+".log"))
}
