package compressor

import (
	"bytes"
	"context"
	"testing"

	"github.com/mattiekat/chunk-locker/internal/memory"
)

func roundTrip(t *testing.T, mode Mode) {
	t.Helper()
	pool := memory.NewPool(4, 64*1024)
	in, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	payload := bytes.Repeat([]byte("chunk-locker payload "), 200)
	in.MutCursor().PutSlice(payload)

	c := New(mode, 0, pool)
	out, err := c.Compress(context.Background(), in)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	defer out.Release()

	decompressed, err := Decompress(context.Background(), mode, bytes.NewReader(out.Bytes()), pool)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	defer decompressed.Release()

	if !bytes.Equal(decompressed.Bytes(), payload) {
		t.Fatalf("round trip mismatch for mode %d", mode)
	}
}

func TestCompressor_RoundTrip(t *testing.T) {
	for _, m := range []Mode{ModeNone, ModeGzip, ModeZstd} {
		roundTrip(t, m)
	}
}

func TestCompressor_ReleasesInputHandle(t *testing.T) {
	pool := memory.NewPool(2, 1024)
	in, _ := pool.Acquire(context.Background())
	in.MutCursor().PutSlice([]byte("data"))

	c := New(ModeNone, 0, pool)
	out, err := c.Compress(context.Background(), in)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	defer out.Release()

	if pool.Outstanding() != 1 {
		t.Fatalf("Outstanding() = %d, want 1 (input handle should have been released)", pool.Outstanding())
	}
}
