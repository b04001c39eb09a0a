package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func openTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	c, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCatalog_RunLifecycle(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	runID, err := c.BeginSnapshot(ctx, "home")
	if err != nil {
		t.Fatalf("BeginSnapshot: %v", err)
	}
	if runID == 0 {
		t.Fatal("expected non-zero run ID")
	}

	if err := c.CompleteSnapshot(ctx, runID); err != nil {
		t.Fatalf("CompleteSnapshot: %v", err)
	}

	runs, err := c.ListSnapshots(ctx, "home")
	if err != nil {
		t.Fatalf("ListSnapshots: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("len(runs) = %d, want 1", len(runs))
	}
	if runs[0].Status != "complete" {
		t.Errorf("Status = %q, want complete", runs[0].Status)
	}
	if !runs[0].FinishedAt.Valid {
		t.Error("expected FinishedAt to be set")
	}
}

func TestCatalog_FailSnapshotRecordsError(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	runID, err := c.BeginSnapshot(ctx, "home")
	if err != nil {
		t.Fatalf("BeginSnapshot: %v", err)
	}

	cause := errors.New("source unreachable")
	if err := c.FailSnapshot(ctx, runID, cause); err != nil {
		t.Fatalf("FailSnapshot: %v", err)
	}

	runs, err := c.ListSnapshots(ctx, "home")
	if err != nil {
		t.Fatalf("ListSnapshots: %v", err)
	}
	if runs[0].Status != "failed" || runs[0].Error != "source unreachable" {
		t.Errorf("got status=%q error=%q", runs[0].Status, runs[0].Error)
	}
}

func TestCatalog_RecordChunkDeduplicatesAndCountsReferences(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	rec := ChunkRecord{ContentHash: "abc123", StoreKey: "ab/abc123", Size: 4096}

	known, err := c.RecordChunk(ctx, rec)
	if err != nil {
		t.Fatalf("RecordChunk (first): %v", err)
	}
	if known {
		t.Error("expected first RecordChunk to report unknown chunk")
	}

	known, err = c.RecordChunk(ctx, rec)
	if err != nil {
		t.Fatalf("RecordChunk (second): %v", err)
	}
	if !known {
		t.Error("expected second RecordChunk to report already-known chunk")
	}

	got, err := c.ChunkByHash(ctx, "abc123")
	if err != nil {
		t.Fatalf("ChunkByHash: %v", err)
	}
	if got.ReferenceCount != 2 {
		t.Errorf("ReferenceCount = %d, want 2", got.ReferenceCount)
	}
	if got.StoreKey != "ab/abc123" {
		t.Errorf("StoreKey = %q", got.StoreKey)
	}
}

func TestCatalog_ChunkByHashMissingReturnsErrNotFound(t *testing.T) {
	c := openTestCatalog(t)
	_, err := c.ChunkByHash(context.Background(), "does-not-exist")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCatalog_ManifestForRunPreservesInsertionOrder(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	runID, err := c.BeginSnapshot(ctx, "home")
	if err != nil {
		t.Fatalf("BeginSnapshot: %v", err)
	}

	chunkA := ChunkRecord{ContentHash: "hash-a", StoreKey: "ha/hash-a", Size: 100}
	chunkB := ChunkRecord{ContentHash: "hash-b", StoreKey: "hb/hash-b", Size: 200}
	if _, err := c.RecordChunk(ctx, chunkA); err != nil {
		t.Fatalf("RecordChunk a: %v", err)
	}
	if _, err := c.RecordChunk(ctx, chunkB); err != nil {
		t.Fatalf("RecordChunk b: %v", err)
	}

	entries := []ManifestEntry{
		{RunID: runID, Path: "/home/user/a.txt", Offset: 0, Length: 100, ContentHash: "hash-a"},
		{RunID: runID, Path: "/home/user/a.txt", Offset: 100, Length: 200, ContentHash: "hash-b"},
	}
	for _, e := range entries {
		if err := c.RecordManifestEntry(ctx, e); err != nil {
			t.Fatalf("RecordManifestEntry: %v", err)
		}
	}

	got, err := c.ManifestForRun(ctx, runID)
	if err != nil {
		t.Fatalf("ManifestForRun: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
	if got[0].ContentHash != "hash-a" || got[1].ContentHash != "hash-b" {
		t.Errorf("manifest order wrong: %+v", got)
	}
}
