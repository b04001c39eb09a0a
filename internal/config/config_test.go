package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "chunklocker.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
snapshots:
  - name: home
    sources: ["/home/user"]
    schedule: "0 2 * * *"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Memory.BufferCount != 16 {
		t.Errorf("Memory.BufferCount = %d, want 16", cfg.Memory.BufferCount)
	}
	if cfg.Memory.BufferSizeRaw != 16*1024*1024 {
		t.Errorf("Memory.BufferSizeRaw = %d, want 16MiB", cfg.Memory.BufferSizeRaw)
	}
	if cfg.Chunker.MinSizeRaw != 4*1024 || cfg.Chunker.AvgSizeRaw != 16*1024 || cfg.Chunker.MaxSizeRaw != 64*1024 {
		t.Errorf("chunker defaults = (%d, %d, %d), want (4096, 16384, 65536)",
			cfg.Chunker.MinSizeRaw, cfg.Chunker.AvgSizeRaw, cfg.Chunker.MaxSizeRaw)
	}
	if cfg.Chunker.NormalizationLevel == nil || *cfg.Chunker.NormalizationLevel != 1 {
		t.Errorf("NormalizationLevel = %v, want 1", cfg.Chunker.NormalizationLevel)
	}
	if cfg.Store.Kind != "filesystem" || cfg.Store.Filesystem.RootDir != "./chunk-store" {
		t.Errorf("store defaults = %+v", cfg.Store)
	}
	if cfg.Catalog.Path != "./chunklocker.db" {
		t.Errorf("Catalog.Path = %q", cfg.Catalog.Path)
	}
	if cfg.Compression.Mode != "zstd" {
		t.Errorf("Compression.Mode = %q, want zstd", cfg.Compression.Mode)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("logging defaults = %+v", cfg.Logging)
	}
	if cfg.Retry.MaxAttempts != 5 {
		t.Errorf("Retry.MaxAttempts = %d, want 5", cfg.Retry.MaxAttempts)
	}
}

func TestLoad_HonorsExplicitZeroNormalizationLevel(t *testing.T) {
	path := writeConfig(t, `
chunker:
  normalization_level: 0
snapshots:
  - name: home
    sources: ["/home/user"]
    schedule: "0 2 * * *"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Chunker.NormalizationLevel == nil || *cfg.Chunker.NormalizationLevel != 0 {
		t.Errorf("NormalizationLevel = %v, want 0 (explicit zero must not be overwritten by the default)", cfg.Chunker.NormalizationLevel)
	}
}

func TestLoad_RejectsNormalizationLevelOutOfRange(t *testing.T) {
	path := writeConfig(t, `
chunker:
  normalization_level: 4
snapshots:
  - name: home
    sources: ["/home/user"]
    schedule: "0 2 * * *"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for normalization_level outside [0, 3]")
	}
}

func TestLoad_RejectsMaxSizeBeyondBufferSize(t *testing.T) {
	path := writeConfig(t, `
memory:
  buffer_size: 1kb
chunker:
  min_size: 64b
  avg_size: 256b
  max_size: 4kb
snapshots:
  - name: home
    sources: ["/home/user"]
    schedule: "0 2 * * *"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error when chunker.max_size exceeds memory.buffer_size")
	}
}

func TestLoad_RejectsSnapshotWithoutSources(t *testing.T) {
	path := writeConfig(t, `
snapshots:
  - name: home
    schedule: "0 2 * * *"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for snapshot without sources")
	}
}

func TestLoad_RejectsS3StoreWithoutBucket(t *testing.T) {
	path := writeConfig(t, `
store:
  kind: s3
snapshots:
  - name: home
    sources: ["/home/user"]
    schedule: "0 2 * * *"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for s3 store missing bucket/region")
	}
}

func TestParseByteSize(t *testing.T) {
	cases := map[string]int64{
		"256mb": 256 * 1024 * 1024,
		"1gb":   1024 * 1024 * 1024,
		"4kb":   4 * 1024,
		"128":   128,
		"64b":   64,
	}
	for in, want := range cases {
		got, err := ParseByteSize(in)
		if err != nil {
			t.Errorf("ParseByteSize(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseByteSize(%q) = %d, want %d", in, got, want)
		}
	}

	if _, err := ParseByteSize("not-a-size"); err == nil {
		t.Error("expected error for invalid size string")
	}
}
