// Package chunker implements the FastCDC-2020 streaming content-defined
// chunker: a rolling gear-hash cut-point finder that turns a byte source
// into a lazy sequence of hash-tagged, variable-length chunks with strict
// length bounds and deterministic cut points.
package chunker

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/mattiekat/chunk-locker/internal/memory"
)

// ErrPoisoned is returned by Next after the source has already yielded an
// I/O error once; the chunker must not be polled again past that point.
var ErrPoisoned = errors.New("chunker: poisoned by a prior source error")

// Record is one emitted chunk: its gear-hash as of the cut, its absolute
// byte offset in the source, and its data as a pool-owned handle truncated
// to the chunk's length. Ownership of Data is transferred to the caller of
// Next, who is responsible for releasing it.
type Record struct {
	Hash   uint64
	Offset uint64
	Data   *memory.Handle
}

// Chunker cuts one byte source into Records according to cfg. It is
// single-goroutine: its state is never touched concurrently, and it is not
// restartable once exhausted, errored, or abandoned mid-stream.
type Chunker struct {
	cfg    Config
	source io.Reader
	pool   *memory.Pool

	active    *memory.Handle
	processed uint64
	eof       bool
	poisoned  bool
}

// New asserts cfg's max_size fits within the pool's buffer size and acquires
// the initial read-ahead buffer. May block on pool.Acquire. cfg's own ranges
// are validated by NewConfig, not here.
func New(ctx context.Context, source io.Reader, cfg Config, pool *memory.Pool) (*Chunker, error) {
	if cfg.MaxSize > pool.BufferSize() {
		panic(fmt.Sprintf("chunker: max_size %d exceeds pool buffer_size %d", cfg.MaxSize, pool.BufferSize()))
	}

	h, err := pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	return &Chunker{
		cfg:    cfg,
		source: source,
		pool:   pool,
		active: h,
	}, nil
}

// Close releases any buffer still held by the chunker. Safe to call after
// Next has already returned (nil, nil) or an error; idempotent.
func (c *Chunker) Close() {
	if c.active != nil {
		c.active.Release()
		c.active = nil
	}
}

// Next reads and emits one chunk. Returns (nil, nil) at end of stream.
// Returns a non-nil error if the source fails; once that happens the
// chunker is poisoned and every subsequent call returns ErrPoisoned.
func (c *Chunker) Next(ctx context.Context) (*Record, error) {
	if c.poisoned {
		return nil, ErrPoisoned
	}

	if err := c.fill(); err != nil {
		c.poisoned = true
		return nil, err
	}

	if c.active.Len() == 0 {
		return nil, nil
	}

	hash, count := cut(c.active.Bytes(), c.cfg)
	if count == 0 {
		// Open question preserved verbatim from the source: a zero-count cut
		// while the buffer is non-empty and not yet at EOF is treated as
		// end-of-stream rather than an invariant violation, matching the
		// reference implementation's (likely buggy, per its own comments)
		// behavior rather than guessing at intended semantics.
		return nil, nil
	}

	fresh, err := c.pool.Acquire(ctx)
	if err != nil {
		c.poisoned = true
		return nil, err
	}

	tail := c.active.Bytes()[count:]
	fresh.MutCursor().PutSlice(tail)

	chunk := c.active
	chunk.Truncate(count)

	offset := c.processed
	c.processed += uint64(count)
	c.active = fresh

	return &Record{Hash: hash, Offset: offset, Data: chunk}, nil
}

// fill reads into the active buffer's writable tail until it holds max_size
// bytes or EOF has been observed.
func (c *Chunker) fill() error {
	for !c.eof && c.active.Len() < c.cfg.MaxSize {
		mc := c.active.MutCursorFrom(c.active.Len())
		dst := mc.ChunkMut()
		if len(dst) > c.cfg.MaxSize-c.active.Len() {
			dst = dst[:c.cfg.MaxSize-c.active.Len()]
		}
		if len(dst) == 0 {
			break
		}

		n, err := c.source.Read(dst)
		if n > 0 {
			mc.Advance(n)
		}
		if err != nil {
			if err == io.EOF {
				c.eof = true
				break
			}
			return err
		}
		if n == 0 {
			c.eof = true
			break
		}
	}
	return nil
}

// cut runs the FastCDC-2020 cut-point algorithm over window W and returns
// the running gear-hash and the cut offset. See SPEC_FULL.md §4.2 for the
// exact algorithm this implements; every constant and branch here is
// load-bearing for reproducing the documented test vectors.
func cut(w []byte, cfg Config) (hash uint64, cutAt int) {
	n := len(w)
	m := cfg.MinSize
	a := cfg.AvgSize
	maxSize := cfg.MaxSize

	if n <= m {
		return 0, n
	}

	remaining := n
	if maxSize < remaining {
		remaining = maxSize
	}
	center := a
	if remaining < center {
		center = remaining
	}

	var h uint64

	index := m / 2
	for ; index < center/2; index++ {
		at := index * 2
		h = (h << 2) + GEAR_LS[w[at]]
		if h&cfg.maskSLeft == 0 {
			return h, at
		}
		h += GEAR[w[at+1]]
		if h&cfg.maskS == 0 {
			return h, at + 1
		}
	}

	for ; index < remaining/2; index++ {
		at := index * 2
		h = (h << 2) + GEAR_LS[w[at]]
		if h&cfg.maskLLeft == 0 {
			return h, at
		}
		h += GEAR[w[at+1]]
		if h&cfg.maskL == 0 {
			return h, at + 1
		}
	}

	return h, remaining
}
