// Package memory implements the pinned buffer pool: a fixed-count arena of
// fixed-size byte buffers handed out as exclusively-owned handles. A slow
// consumer of a handle eventually blocks every other acquirer, which is the
// back-pressure mechanism the rest of the pipeline relies on.
package memory

import (
	"context"
	"fmt"
	"sync"
)

const (
	minBufferCount = 2
	minBufferSize  = 1024
)

// Pool is a process-wide arena of buffer_count buffers of buffer_size bytes
// each, allocated as one contiguous region. Handles are acquired and released
// exclusively; no two live handles ever reference the same slot.
type Pool struct {
	bufferSize  int
	bufferCount int

	mu         sync.Mutex
	notFull    sync.Cond
	arena      []byte
	occupied   []bool
	outstanding int
}

// NewPool allocates a pool of bufferCount buffers of bufferSize bytes each.
// Panics if bufferCount < 2 or bufferSize < 1024: these are programmer errors,
// not runtime conditions a caller can recover from.
func NewPool(bufferCount, bufferSize int) *Pool {
	if bufferCount < minBufferCount {
		panic(fmt.Sprintf("memory: buffer_count must be >= %d, got %d", minBufferCount, bufferCount))
	}
	if bufferSize < minBufferSize {
		panic(fmt.Sprintf("memory: buffer_size must be >= %d, got %d", minBufferSize, bufferSize))
	}

	p := &Pool{
		bufferSize:  bufferSize,
		bufferCount: bufferCount,
		arena:       make([]byte, bufferCount*bufferSize),
		occupied:    make([]bool, bufferCount),
	}
	p.notFull.L = &p.mu
	return p
}

var (
	defaultOnce sync.Once
	defaultPool *Pool
)

// Default returns the process-wide singleton pool, constructing it from
// bufferCount and bufferSize on first use. Later calls ignore their
// arguments; the pool is sized once, the same way
// the source's MemoryManager is a lazily-initialized static.
func Default(bufferCount, bufferSize int) *Pool {
	defaultOnce.Do(func() {
		defaultPool = NewPool(bufferCount, bufferSize)
	})
	return defaultPool
}

// BufferSize returns the fixed capacity of every slot in the pool.
func (p *Pool) BufferSize() int { return p.bufferSize }

// BufferCount returns the total number of slots in the pool.
func (p *Pool) BufferCount() int { return p.bufferCount }

// Outstanding returns the number of slots currently checked out.
func (p *Pool) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outstanding
}

// Acquire blocks until a slot is free and returns an exclusive handle to it
// with Len() == 0. It is cancellation-safe: if ctx is cancelled while
// waiting, no slot is leaked and ctx.Err() is returned.
//
// sync.Cond has no native context support, so cancellation is wired through a
// watcher goroutine that broadcasts when ctx is done, waking every blocked
// acquirer to re-check both the occupancy bitmap and ctx.Err().
func (p *Pool) Acquire(ctx context.Context) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	done := ctx.Done()
	if done != nil {
		stop := make(chan struct{})
		defer close(stop)
		go func() {
			select {
			case <-done:
				p.mu.Lock()
				p.notFull.Broadcast()
				p.mu.Unlock()
			case <-stop:
			}
		}()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		idx, ok := p.firstFreeLocked()
		if ok {
			p.occupied[idx] = true
			p.outstanding++
			start := idx * p.bufferSize
			h := &Handle{
				pool: p,
				idx:  idx,
				buf:  p.arena[start : start+p.bufferSize : start+p.bufferSize],
			}
			h.armFinalizer()
			return h, nil
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		p.notFull.Wait()

		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

func (p *Pool) firstFreeLocked() (int, bool) {
	for i, busy := range p.occupied {
		if !busy {
			return i, true
		}
	}
	return 0, false
}

// release clears the occupancy bit for idx and wakes one waiter. Unlike the
// Rust source, which must offload this to a spawned task because Drop cannot
// suspend, Go destructors (finalizers) run on their own goroutine already, so
// release can take the lock directly; see Handle.Release.
func (p *Pool) release(idx int) {
	p.mu.Lock()
	p.occupied[idx] = false
	p.outstanding--
	p.mu.Unlock()
	p.notFull.Signal()
}

// finalizerWarn is overridable in tests to observe handles reclaimed without
// an explicit Release.
var finalizerWarn = func(idx int) {}
