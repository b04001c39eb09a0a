package throttle

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/mattiekat/chunk-locker/internal/store"
)

type memStore struct {
	puts map[string][]byte
}

func newMemStore() *memStore { return &memStore{puts: map[string][]byte{}} }

func (m *memStore) Put(ctx context.Context, key string, r io.Reader) (store.Object, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return store.Object{}, err
	}
	m.puts[key] = b
	return store.Object{Key: key, Size: int64(len(b))}, nil
}

func (m *memStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	b, ok := m.puts[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memStore) Delete(ctx context.Context, key string) error {
	delete(m.puts, key)
	return nil
}

func (m *memStore) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := m.puts[key]
	return ok, nil
}

func TestWrap_ZeroRateReturnsInnerUnwrapped(t *testing.T) {
	inner := newMemStore()
	wrapped := Wrap(inner, 0)
	if wrapped != store.Store(inner) {
		t.Fatal("expected Wrap with non-positive rate to return inner unchanged")
	}
}

func TestWrap_PassesDataThroughUnmodified(t *testing.T) {
	inner := newMemStore()
	wrapped := Wrap(inner, 1<<20)

	payload := bytes.Repeat([]byte("x"), 10000)
	obj, err := wrapped.Put(context.Background(), "k1", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if obj.Size != int64(len(payload)) {
		t.Errorf("Size = %d, want %d", obj.Size, len(payload))
	}
	if !bytes.Equal(inner.puts["k1"], payload) {
		t.Error("throttled write corrupted payload")
	}
}

func TestWrap_GetDeleteExistsPassThrough(t *testing.T) {
	inner := newMemStore()
	wrapped := Wrap(inner, 1<<20)

	if _, err := wrapped.Put(context.Background(), "k2", bytes.NewReader([]byte("hi"))); err != nil {
		t.Fatalf("Put: %v", err)
	}

	ok, err := wrapped.Exists(context.Background(), "k2")
	if err != nil || !ok {
		t.Fatalf("Exists = %v, %v", ok, err)
	}

	rc, err := wrapped.Get(context.Background(), "k2")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer rc.Close()
	b, _ := io.ReadAll(rc)
	if string(b) != "hi" {
		t.Errorf("Get returned %q, want %q", b, "hi")
	}

	if err := wrapped.Delete(context.Background(), "k2"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ok, _ := wrapped.Exists(context.Background(), "k2"); ok {
		t.Error("expected key to be gone after Delete")
	}
}
