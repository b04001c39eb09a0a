package store

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Filesystem is a Store backed by a local directory tree. Writes are
// atomic: data lands in a ".tmp" sibling file first and is only renamed into
// its final content-addressed path once fully written, so a crash mid-write
// never leaves a partial object visible to Get.
type Filesystem struct {
	rootDir string
}

// NewFilesystem creates (if needed) rootDir and returns a Filesystem store
// rooted there.
func NewFilesystem(rootDir string) (*Filesystem, error) {
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("store: creating root directory %s: %w", rootDir, err)
	}
	return &Filesystem{rootDir: rootDir}, nil
}

// path maps a content-addressed key to its on-disk location, sharding by the
// key's first two characters so a single directory never accumulates every
// object in the store.
func (f *Filesystem) path(key string) string {
	shard := key
	if len(shard) > 2 {
		shard = shard[:2]
	}
	return filepath.Join(f.rootDir, shard, key)
}

func (f *Filesystem) Put(ctx context.Context, key string, r io.Reader) (Object, error) {
	dst := f.path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return Object{}, fmt.Errorf("store: creating shard directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return Object{}, fmt.Errorf("store: creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	n, copyErr := io.Copy(tmp, r)
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(tmpPath)
		if copyErr != nil {
			return Object{}, fmt.Errorf("store: writing object: %w", copyErr)
		}
		return Object{}, fmt.Errorf("store: closing temp file: %w", closeErr)
	}

	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return Object{}, fmt.Errorf("store: committing object: %w", err)
	}

	return Object{Key: key, Size: n}, nil
}

func (f *Filesystem) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	file, err := os.Open(f.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: opening object: %w", err)
	}
	return file, nil
}

func (f *Filesystem) Delete(ctx context.Context, key string) error {
	if err := os.Remove(f.path(key)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("store: deleting object: %w", err)
	}
	return nil
}

func (f *Filesystem) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(f.path(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("store: stat object: %w", err)
}
