package memory

import (
	"context"
	"runtime"
	"testing"
	"time"
)

func TestPool_AcquireWithoutSuspension(t *testing.T) {
	p := NewPool(4, 1024)
	ctx := context.Background()

	var handles []*Handle
	for i := 0; i < p.BufferCount(); i++ {
		h, err := p.Acquire(ctx)
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		if h.Len() != 0 {
			t.Fatalf("acquire %d: expected fresh handle with Len()==0, got %d", i, h.Len())
		}
		handles = append(handles, h)
	}

	if got, want := p.Outstanding(), p.BufferCount(); got != want {
		t.Fatalf("Outstanding() = %d, want %d", got, want)
	}

	for _, h := range handles {
		h.Release()
	}
	if got := p.Outstanding(); got != 0 {
		t.Fatalf("Outstanding() after release = %d, want 0", got)
	}
}

func TestPool_NPlus1thAcquireBlocksUntilRelease(t *testing.T) {
	p := NewPool(2, 1024)
	ctx := context.Background()

	a, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire a: %v", err)
	}
	b, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire b: %v", err)
	}

	done := make(chan *Handle, 1)
	go func() {
		h, err := p.Acquire(ctx)
		if err != nil {
			t.Error(err)
			return
		}
		done <- h
	}()

	select {
	case <-done:
		t.Fatal("third acquire returned before any release")
	case <-time.After(50 * time.Millisecond):
	}

	a.Release()

	select {
	case h := <-done:
		h.Release()
	case <-time.After(time.Second):
		t.Fatal("third acquire did not unblock after release")
	}

	b.Release()
}

func TestPool_AcquireCancellation(t *testing.T) {
	p := NewPool(2, 1024)
	ctx := context.Background()

	h, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	other, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer other.Release()

	cctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := p.Acquire(cctx)
		errc <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		if err == nil {
			t.Fatal("expected context cancellation error, got nil")
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled acquire never returned")
	}

	// No slot was leaked: releasing one of the two outstanding handles frees
	// it back up for a fresh acquire.
	h.Release()
	h2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire after cancellation: %v", err)
	}
	h2.Release()
}

func TestPool_ConfigureBounds(t *testing.T) {
	mustPanic := func(name string, fn func()) {
		t.Helper()
		defer func() {
			if recover() == nil {
				t.Fatalf("%s: expected panic", name)
			}
		}()
		fn()
	}

	mustPanic("buffer_count too low", func() { NewPool(1, 1024) })
	mustPanic("buffer_size too low", func() { NewPool(4, 1023) })
}

func TestHandle_TruncateAndCursors(t *testing.T) {
	p := NewPool(2, 1024)
	h, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer h.Release()

	mc := h.MutCursor()
	mc.PutSlice([]byte{6, 8, 12, 72, 53})
	if h.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", h.Len())
	}

	mc2 := h.MutCursorFrom(1)
	mc2.PutSlice([]byte{2, 3, 5})
	want := []byte{6, 2, 3, 5, 53}
	if string(h.Bytes()) != string(want) {
		t.Fatalf("Bytes() = %v, want %v", h.Bytes(), want)
	}

	c := h.Cursor()
	if c.Remaining() != 5 {
		t.Fatalf("Remaining() = %d, want 5", c.Remaining())
	}
	c.Advance(2)
	var b [2]byte
	c.CopyTo(b[:])
	if b != [2]byte{3, 5} {
		t.Fatalf("CopyTo = %v, want [3 5]", b)
	}

	h.Truncate(2)
	if h.Len() != 2 {
		t.Fatalf("Truncate: Len() = %d, want 2", h.Len())
	}
}

func TestHandle_TruncateBeyondLengthPanics(t *testing.T) {
	p := NewPool(2, 1024)
	h, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer h.Release()
	h.SetLen(4)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic truncating beyond current length")
		}
	}()
	h.Truncate(5)
}

func TestHandle_FinalizerReclaimsLeakedSlot(t *testing.T) {
	p := NewPool(2, 1024)

	func() {
		_, err := p.Acquire(context.Background())
		if err != nil {
			t.Fatalf("acquire: %v", err)
		}
		// Deliberately not releasing: the handle goes out of scope here and
		// must be reclaimed by the finalizer safety net, not leaked forever.
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		runtime.GC()
		if p.Outstanding() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Outstanding() = %d after GC, want 0 (finalizer did not run)", p.Outstanding())
}
