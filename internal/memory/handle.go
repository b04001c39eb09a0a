package memory

import (
	"log/slog"
	"runtime"
)

// Handle is exclusive ownership of one slot of a Pool. It is created by
// Pool.Acquire and must be returned with Release; a handle let go of without
// Release is still reclaimed by a finalizer, but that path is a safety net,
// not a normal one, and is logged as a programmer error.
type Handle struct {
	pool     *Pool
	idx      int
	buf      []byte // len == pool.bufferSize, the full backing slot
	length   int    // logical length, 0 <= length <= cap(buf)
	released bool
}

// armFinalizer installs the reclaim-on-GC safety net. Called once, right
// after a handle is constructed by Acquire.
func (h *Handle) armFinalizer() {
	runtime.SetFinalizer(h, func(h *Handle) {
		if h.released {
			return
		}
		finalizerWarn(h.idx)
		slog.Warn("memory: buffer handle garbage collected without Release", "slot", h.idx)
		h.pool.release(h.idx)
	})
}

// Cap returns the slot's fixed capacity (the pool's buffer_size).
func (h *Handle) Cap() int { return len(h.buf) }

// Len returns the handle's current logical length.
func (h *Handle) Len() int { return h.length }

// Bytes returns the read-write view over [0, Len()).
func (h *Handle) Bytes() []byte { return h.buf[:h.length] }

// Uninit returns the full capacity [0, Cap()), including the uninitialized
// tail past Len(). Callers writing into it and extending the logical length
// should prefer MutCursor, which keeps Len() consistent automatically.
func (h *Handle) Uninit() []byte { return h.buf[:cap(h.buf)] }

// Truncate shrinks the handle to newLen. Panics if newLen > Len(), mirroring
// the source's assert!(len <= self.len).
func (h *Handle) Truncate(newLen int) {
	if newLen > h.length {
		panic("memory: truncate beyond current length")
	}
	h.length = newLen
}

// SetLen sets the logical length directly. Panics if newLen exceeds Cap().
// Used by callers (notably compressor.Decompress) that fill the buffer
// through means other than MutCursor and then need to record how much was
// written.
func (h *Handle) SetLen(newLen int) {
	if newLen > cap(h.buf) {
		panic("memory: new length exceeds buffer capacity")
	}
	h.length = newLen
}

// Release returns the slot to the pool and wakes one waiter. Safe to call
// more than once; subsequent calls are no-ops.
func (h *Handle) Release() {
	if h.released {
		return
	}
	h.released = true
	h.length = 0
	h.pool.release(h.idx)
	runtime.SetFinalizer(h, nil)
}

// Cursor is a read-only view over the initialized prefix of a Handle,
// advancing monotonically. Mirrors the source's MemoryCursor.
type Cursor struct {
	h      *Handle
	offset int
}

// Cursor returns a read cursor starting at offset 0.
func (h *Handle) Cursor() *Cursor { return h.CursorFrom(0) }

// CursorFrom returns a read cursor starting at offset. Panics if offset
// exceeds Len().
func (h *Handle) CursorFrom(offset int) *Cursor {
	if offset > h.length {
		panic("memory: cursor offset beyond length")
	}
	return &Cursor{h: h, offset: offset}
}

// Remaining returns the number of unread bytes left in the cursor.
func (c *Cursor) Remaining() int { return c.h.length - c.offset }

// Chunk returns the unread tail of the handle's initialized bytes.
func (c *Cursor) Chunk() []byte { return c.h.buf[c.offset:c.h.length] }

// Advance moves the cursor forward by n bytes. Panics if n exceeds Remaining().
func (c *Cursor) Advance(n int) {
	if n > c.Remaining() {
		panic("memory: cannot advance read cursor beyond end of data")
	}
	c.offset += n
}

// CopyTo copies min(len(p), Remaining()) bytes into p and advances the cursor
// by that amount, returning the number of bytes copied.
func (c *Cursor) CopyTo(p []byte) int {
	n := copy(p, c.Chunk())
	c.Advance(n)
	return n
}

// MutCursor is a write cursor that may advance into the handle's
// uninitialized tail, extending Len() monotonically as it goes. Mirrors the
// source's MutMemoryCursor / BufMut implementation.
type MutCursor struct {
	h      *Handle
	offset int
}

// MutCursor returns a write cursor starting at offset 0.
func (h *Handle) MutCursor() *MutCursor { return h.MutCursorFrom(0) }

// MutCursorFrom returns a write cursor starting at offset. Panics if offset
// is not within [0, Len()].
func (h *Handle) MutCursorFrom(offset int) *MutCursor {
	if offset > h.length {
		panic("memory: mut cursor offset beyond length")
	}
	return &MutCursor{h: h, offset: offset}
}

// RemainingMut returns how many bytes may still be written before reaching
// the slot's capacity.
func (c *MutCursor) RemainingMut() int { return cap(c.h.buf) - c.offset }

// ChunkMut returns the writable tail starting at the cursor's offset,
// extending into uninitialized memory.
func (c *MutCursor) ChunkMut() []byte {
	return c.h.buf[c.offset:cap(c.h.buf)]
}

// PutSlice writes p at the cursor's offset, advances the cursor, and extends
// the handle's logical length if the write reached past it.
func (c *MutCursor) PutSlice(p []byte) {
	if len(p) > c.RemainingMut() {
		panic("memory: cannot advance write cursor beyond end of buffer")
	}
	copy(c.h.buf[c.offset:], p)
	c.offset += len(p)
	if c.offset > c.h.length {
		c.h.length = c.offset
	}
}

// Advance moves the write cursor forward by n bytes without copying data
// (the caller has already written into ChunkMut()'s backing array directly),
// extending Len() if needed.
func (c *MutCursor) Advance(n int) {
	if n > c.RemainingMut() {
		panic("memory: cannot advance write cursor beyond end of buffer")
	}
	c.offset += n
	if c.offset > c.h.length {
		c.h.length = c.offset
	}
}
