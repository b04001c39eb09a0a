// Package snapshot orchestrates one run of a configured snapshot: it drives
// the scanner, chunker, and pipeline stages (hasher, compressor, encryptor,
// store, catalog) to completion and records the result.
package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/mattiekat/chunk-locker/internal/catalog"
	"github.com/mattiekat/chunk-locker/internal/chunker"
	"github.com/mattiekat/chunk-locker/internal/config"
	"github.com/mattiekat/chunk-locker/internal/logging"
	"github.com/mattiekat/chunk-locker/internal/memory"
	"github.com/mattiekat/chunk-locker/internal/metrics"
	"github.com/mattiekat/chunk-locker/internal/pipeline"
	"github.com/mattiekat/chunk-locker/internal/progress"
	"github.com/mattiekat/chunk-locker/internal/scanner"
	"github.com/mattiekat/chunk-locker/internal/stage/compressor"
	"github.com/mattiekat/chunk-locker/internal/stage/encryptor"
	"github.com/mattiekat/chunk-locker/internal/stage/hasher"
	"github.com/mattiekat/chunk-locker/internal/stage/signer"
	"github.com/mattiekat/chunk-locker/internal/store"
)

// Runner holds every component a snapshot run needs. One Runner is shared
// across all configured snapshots and across scheduled invocations of each;
// its Pool in particular is the single process-wide resource every
// concurrent run contends over.
type Runner struct {
	Pool        *memory.Pool
	ChunkerCfg  chunker.Config
	Compressor  *compressor.Compressor
	Encryptor   *encryptor.Encryptor
	Signer      *signer.Signer // nil if signing is disabled
	Store       store.Store
	Catalog     *catalog.Catalog
	Metrics     *metrics.Metrics // nil disables metrics recording
	Logger      *slog.Logger
	// SnapshotLogDir, if set, gives every run its own debug-level JSON log
	// file under {SnapshotLogDir}/{entry.Name}/{runID}.log, fanned out
	// alongside the process-wide logger. Deleted on successful completion.
	SnapshotLogDir string
}

// Result summarizes a completed run.
type Result struct {
	RunID         int64
	FilesScanned  int
	ChunksWritten int
	ChunksDeduped int
	BytesScanned  int64
}

// Run executes one complete pass over entry's source roots: scan, chunk,
// hash, compress, encrypt, store, and catalog every chunk, then marks the
// run complete (or failed) in the catalog.
func (r *Runner) Run(ctx context.Context, entry config.SnapshotEntry) (Result, error) {
	runID, err := r.Catalog.BeginSnapshot(ctx, entry.Name)
	if err != nil {
		return Result{}, fmt.Errorf("snapshot %s: beginning run: %w", entry.Name, err)
	}
	runIDStr := fmt.Sprintf("%d", runID)

	logger, logCloser, _, err := logging.NewSnapshotLogger(r.Logger, r.SnapshotLogDir, entry.Name, runIDStr)
	if err != nil {
		return Result{}, fmt.Errorf("snapshot %s: opening run log: %w", entry.Name, err)
	}
	defer logCloser.Close()
	logger = logger.With("snapshot", entry.Name)

	prog := progress.New(entry.Name, 0)
	defer prog.Stop()

	res := Result{RunID: runID}
	scn := scanner.New(entry.Sources, entry.Excludes)

	err = scn.Scan(ctx, func(e scanner.Entry) error {
		n, ferr := r.processFile(ctx, logger, runID, entry.Name, e, prog, &res)
		res.FilesScanned++
		res.BytesScanned += n
		prog.AddFile()
		return ferr
	})

	if err != nil {
		if failErr := r.Catalog.FailSnapshot(ctx, runID, err); failErr != nil {
			logger.Error("failed to record run failure", "error", failErr)
		}
		logger.Error("snapshot run failed", "error", err)
		return res, fmt.Errorf("snapshot %s: %w", entry.Name, err)
	}

	if r.Signer != nil {
		if err := r.signManifest(ctx, runID); err != nil {
			logger.Warn("manifest signing failed, run still recorded as complete", "error", err)
		}
	}

	if err := r.Catalog.CompleteSnapshot(ctx, runID); err != nil {
		return res, fmt.Errorf("snapshot %s: completing run: %w", entry.Name, err)
	}
	logging.RemoveSnapshotLog(r.SnapshotLogDir, entry.Name, runIDStr)

	logger.Info("snapshot run complete",
		"files", res.FilesScanned, "bytes", res.BytesScanned,
		"chunks_written", res.ChunksWritten, "chunks_deduped", res.ChunksDeduped,
	)
	return res, nil
}

func (r *Runner) processFile(ctx context.Context, logger *slog.Logger, runID int64, snapshotName string, e scanner.Entry, prog *progress.Reporter, res *Result) (int64, error) {
	f, err := openRegularFile(e.Path)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", e.Path, err)
	}
	defer f.Close()

	out := pipeline.NewChannel()
	runErr := make(chan error, 1)
	go func() {
		runErr <- pipeline.Run(ctx, f, e.RelPath, r.ChunkerCfg, r.Pool, out, logger)
	}()

	var total int64
	for chunk := range out {
		n := int64(chunk.Data.Len())
		deduped, err := r.processChunk(ctx, runID, snapshotName, chunk, prog)
		if err != nil {
			// Drain the channel so the producer goroutine isn't blocked
			// forever on a send while we bail out.
			go func() {
				for leftover := range out {
					leftover.Data.Release()
				}
			}()
			return total, err
		}
		if deduped {
			res.ChunksDeduped++
		} else {
			res.ChunksWritten++
		}
		total += n
		prog.AddBytes(n)
		prog.AddChunk()
	}

	if err := <-runErr; err != nil {
		return total, fmt.Errorf("chunking %s: %w", e.RelPath, err)
	}
	return total, nil
}

func (r *Runner) processChunk(ctx context.Context, runID int64, snapshotName string, chunk pipeline.Chunk, prog *progress.Reporter) (deduped bool, err error) {
	rawLen := int64(chunk.Data.Len())
	digest := hasher.Digest(chunk.Data)
	contentHash := hasher.Hex(digest)

	existing, lookupErr := r.Catalog.ChunkByHash(ctx, contentHash)
	if lookupErr == nil {
		// Already stored under a previous chunk or file; just bump the
		// reference count and point the manifest at it.
		chunk.Data.Release()
		if _, err := r.Catalog.RecordChunk(ctx, catalog.ChunkRecord{
			ContentHash: contentHash, StoreKey: existing.StoreKey, Size: existing.Size,
		}); err != nil {
			return false, fmt.Errorf("recording dedup reference for %s: %w", contentHash, err)
		}
		if err := r.recordManifestEntry(ctx, runID, chunk, contentHash, rawLen); err != nil {
			return false, err
		}
		prog.AddDedupedChunk()
		if r.Metrics != nil {
			r.Metrics.RecordDedupHit()
			r.Metrics.RecordChunk(snapshotName, int(rawLen))
		}
		return true, nil
	}
	if !errors.Is(lookupErr, catalog.ErrNotFound) {
		return false, fmt.Errorf("looking up chunk %s: %w", contentHash, lookupErr)
	}

	compressed, err := r.Compressor.Compress(ctx, chunk.Data)
	if err != nil {
		if r.Metrics != nil {
			r.Metrics.RecordStageError("compressor")
		}
		return false, fmt.Errorf("compressing chunk %s: %w", contentHash, err)
	}

	sealed, err := r.Encryptor.Seal(ctx, compressed)
	if err != nil {
		if r.Metrics != nil {
			r.Metrics.RecordStageError("encryptor")
		}
		return false, fmt.Errorf("encrypting chunk %s: %w", contentHash, err)
	}
	defer sealed.Release()

	obj, err := r.Store.Put(ctx, storeKey(contentHash), bytes.NewReader(sealed.Bytes()))
	if err != nil {
		if r.Metrics != nil {
			r.Metrics.RecordStageError("store")
		}
		return false, fmt.Errorf("storing chunk %s: %w", contentHash, err)
	}
	if r.Metrics != nil {
		r.Metrics.RecordStoreBytes("put", obj.Size)
		r.Metrics.RecordChunk(snapshotName, int(rawLen))
	}

	if _, err := r.Catalog.RecordChunk(ctx, catalog.ChunkRecord{
		ContentHash: contentHash, StoreKey: obj.Key, Size: obj.Size,
	}); err != nil {
		return false, fmt.Errorf("recording chunk %s: %w", contentHash, err)
	}
	return false, r.recordManifestEntry(ctx, runID, chunk, contentHash, rawLen)
}

func (r *Runner) recordManifestEntry(ctx context.Context, runID int64, chunk pipeline.Chunk, contentHash string, rawLen int64) error {
	return r.Catalog.RecordManifestEntry(ctx, catalog.ManifestEntry{
		RunID:       runID,
		Path:        chunk.Path,
		Offset:      int64(chunk.Offset),
		Length:      rawLen,
		ContentHash: contentHash,
	})
}

// signManifest signs the ordered list of content hashes belonging to runID
// and stores the signature alongside the run as a companion object, keyed
// independent of any individual chunk's content address.
func (r *Runner) signManifest(ctx context.Context, runID int64) error {
	entries, err := r.Catalog.ManifestForRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("reading manifest for run %d: %w", runID, err)
	}

	var buf bytes.Buffer
	for _, e := range entries {
		buf.WriteString(e.ContentHash)
	}
	sum := hasher.Hex(hasher.DigestBytes(buf.Bytes()))

	sig, err := r.Signer.Sign([]byte(sum))
	if err != nil {
		return fmt.Errorf("signing manifest for run %d: %w", runID, err)
	}

	key := fmt.Sprintf("manifests/run-%d.sig", runID)
	if _, err := r.Store.Put(ctx, key, bytes.NewReader(sig)); err != nil {
		return fmt.Errorf("storing manifest signature for run %d: %w", runID, err)
	}
	return nil
}

func storeKey(contentHash string) string {
	return contentHash
}

// openRegularFile opens path, refusing anything that isn't a plain regular
// file (symlinks to special files, devices, etc. must never reach the
// chunker as a byte source).
func openRegularFile(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, fmt.Errorf("%s is not a regular file", path)
	}
	return f, nil
}
