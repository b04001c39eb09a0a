package progress

import (
	"testing"
	"time"
)

func TestReporter_CountersAccumulate(t *testing.T) {
	r := New("home", 0)
	defer r.Stop()

	r.AddBytes(1024)
	r.AddBytes(2048)
	r.AddChunk()
	r.AddChunk()
	r.AddFile()
	r.AddDedupedChunk()

	if got := r.bytesProcessed.Load(); got != 3072 {
		t.Errorf("bytesProcessed = %d, want 3072", got)
	}
	if got := r.chunksDone.Load(); got != 2 {
		t.Errorf("chunksDone = %d, want 2", got)
	}
	if got := r.filesDone.Load(); got != 1 {
		t.Errorf("filesDone = %d, want 1", got)
	}
	if got := r.dedupedChunks.Load(); got != 1 {
		t.Errorf("dedupedChunks = %d, want 1", got)
	}
}

func TestReporter_StopTerminatesRenderLoop(t *testing.T) {
	r := New("home", 1000)
	r.SetTotalBytes(2000)

	done := make(chan struct{})
	go func() {
		r.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return in time")
	}
}
