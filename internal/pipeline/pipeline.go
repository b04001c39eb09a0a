// Package pipeline wires the chunker into a capacity-1 handoff channel
// toward the next stage (hasher, compressor, encryptor, store). The channel
// is deliberately unbuffered beyond one slot: its only job is hand-off and
// back-pressure, and any further buffering would defeat the buffer pool's
// purpose of bounding memory under a slow consumer.
package pipeline

import (
	"context"
	"io"
	"log/slog"

	"github.com/mattiekat/chunk-locker/internal/chunker"
	"github.com/mattiekat/chunk-locker/internal/memory"
)

// Chunk is one record in flight between pipeline stages, still carrying its
// pool-owned buffer. Stages consume it and must either forward it (transfer
// of ownership) or Release its Data.
type Chunk struct {
	Hash   uint64
	Offset uint64
	Path   string
	Data   *memory.Handle
}

// Run drives a Chunker to completion, emitting one Chunk per cut point onto
// out. out has capacity 1, matching SPEC_FULL.md §4.3. Run closes out when
// the source is exhausted or the chunker errors; on error, the error is
// logged and any buffer held by the chunker at the time is released before
// returning. path tags every emitted Chunk so that downstream consumers and
// the catalog can reconstruct per-file boundaries inside a snapshot.
func Run(ctx context.Context, source io.Reader, path string, cfg chunker.Config, pool *memory.Pool, out chan<- Chunk, logger *slog.Logger) error {
	defer close(out)

	ch, err := chunker.New(ctx, source, cfg, pool)
	if err != nil {
		return err
	}
	defer ch.Close()

	for {
		rec, err := ch.Next(ctx)
		if err != nil {
			logger.Error("chunker stopped on source error", "path", path, "error", err)
			return err
		}
		if rec == nil {
			return nil
		}

		select {
		case out <- Chunk{Hash: rec.Hash, Offset: rec.Offset, Path: path, Data: rec.Data}:
		case <-ctx.Done():
			// Caller cancelled ctx: release what we were about to hand off
			// and terminate without emitting further chunks. A receiver that
			// stops reading without cancelling ctx leaves this send blocked.
			rec.Data.Release()
			return ctx.Err()
		}
	}
}

// NewChannel constructs the capacity-1 handoff channel used between any two
// adjacent pipeline stages.
func NewChannel() chan Chunk {
	return make(chan Chunk, 1)
}
