// Package compressor rewrites a pipeline buffer's payload through a
// configured compression codec before it reaches the encryptor/store stages.
// Algorithm choice and compression ratio are policy, out of this module's
// scope; only the mechanics of running a codec over a pool-owned buffer
// live here.
package compressor

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"

	"github.com/mattiekat/chunk-locker/internal/memory"
)

// Mode selects the compression codec applied to each chunk.
type Mode int

const (
	// ModeNone passes bytes through unchanged.
	ModeNone Mode = iota
	// ModeGzip uses parallel gzip (pgzip), trading a little ratio for
	// throughput on multi-core hosts during large snapshot runs.
	ModeGzip
	// ModeZstd uses zstd, favoring ratio over raw throughput.
	ModeZstd
)

// Compressor applies one codec to successive chunks, acquiring a fresh
// scratch buffer from pool for each chunk's compressed output and returning
// the original buffer to the pool once copied.
type Compressor struct {
	mode  Mode
	level int
	pool  *memory.Pool
}

// New builds a Compressor. level is passed to the codec (gzip: pgzip's 1-9
// levels, with 0 selecting pgzip.DefaultCompression; zstd: mapped onto one
// of zstd's named speed tiers by zstdLevel). Ignored when mode is ModeNone.
func New(mode Mode, level int, pool *memory.Pool) *Compressor {
	return &Compressor{mode: mode, level: level, pool: pool}
}

// Compress consumes in (taking ownership) and returns a new handle holding
// the compressed payload. The caller owns the returned handle and must
// release it; in is always released by Compress regardless of outcome.
func (c *Compressor) Compress(ctx context.Context, in *memory.Handle) (*memory.Handle, error) {
	defer in.Release()

	if c.mode == ModeNone {
		out, err := c.pool.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		out.MutCursor().PutSlice(in.Bytes())
		return out, nil
	}

	var buf bytes.Buffer
	w, err := c.newWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(in.Bytes()); err != nil {
		return nil, fmt.Errorf("compressor: write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compressor: close: %w", err)
	}

	if buf.Len() > c.pool.BufferSize() {
		return nil, fmt.Errorf("compressor: compressed chunk (%d bytes) exceeds pool buffer_size (%d)", buf.Len(), c.pool.BufferSize())
	}

	out, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	out.MutCursor().PutSlice(buf.Bytes())
	return out, nil
}

// zstdLevel maps a coarse 0-9 configuration knob onto zstd's named speed
// tiers; zstd.EncoderLevel does not accept arbitrary integers directly.
func zstdLevel(level int) zstd.EncoderLevel {
	switch {
	case level <= 0:
		return zstd.SpeedDefault
	case level <= 2:
		return zstd.SpeedFastest
	case level <= 6:
		return zstd.SpeedDefault
	case level <= 9:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

func (c *Compressor) newWriter(w io.Writer) (io.WriteCloser, error) {
	switch c.mode {
	case ModeGzip:
		level := c.level
		if level == 0 {
			level = pgzip.DefaultCompression
		}
		return pgzip.NewWriterLevel(w, level)
	case ModeZstd:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstdLevel(c.level)))
	default:
		return nil, fmt.Errorf("compressor: unknown mode %d", c.mode)
	}
}

// Decompress reverses Compress for the given mode, reading r fully into a
// fresh handle from pool.
func Decompress(ctx context.Context, mode Mode, r io.Reader, pool *memory.Pool) (*memory.Handle, error) {
	out, err := pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	var src io.Reader
	switch mode {
	case ModeNone:
		src = r
	case ModeGzip:
		gr, err := pgzip.NewReader(r)
		if err != nil {
			out.Release()
			return nil, fmt.Errorf("compressor: gzip reader: %w", err)
		}
		defer gr.Close()
		src = gr
	case ModeZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			out.Release()
			return nil, fmt.Errorf("compressor: zstd reader: %w", err)
		}
		defer zr.Close()
		src = zr
	default:
		out.Release()
		return nil, fmt.Errorf("compressor: unknown mode %d", mode)
	}

	n, err := io.ReadFull(src, out.Uninit())
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		out.Release()
		return nil, fmt.Errorf("compressor: decompress: %w", err)
	}
	out.SetLen(n)
	return out, nil
}
