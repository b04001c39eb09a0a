// Package config loads and validates chunk-locker's YAML configuration,
// applying the same default-then-validate idiom the ambient stack uses for
// its own configuration trees.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete configuration tree for a chunklocker process.
type Config struct {
	Memory      MemoryConfig      `yaml:"memory"`
	Chunker     ChunkerConfig     `yaml:"chunker"`
	Snapshots   []SnapshotEntry   `yaml:"snapshots"`
	Store       StoreConfig       `yaml:"store"`
	Catalog     CatalogConfig     `yaml:"catalog"`
	Compression CompressionConfig `yaml:"compression"`
	Encryption  EncryptionConfig  `yaml:"encryption"`
	Signing     SigningConfig     `yaml:"signing"`
	Retry       RetryConfig       `yaml:"retry"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// MemoryConfig sizes the pinned buffer pool.
type MemoryConfig struct {
	BufferCount int    `yaml:"buffer_count"`
	BufferSize  string `yaml:"buffer_size"` // e.g. "16mb"
	BufferSizeRaw int64 `yaml:"-"`
}

// ChunkerConfig holds the FastCDC-2020 parameters, as human-readable sizes
// in YAML and parsed bytes after validate().
type ChunkerConfig struct {
	MinSize string `yaml:"min_size"`
	AvgSize string `yaml:"avg_size"`
	MaxSize string `yaml:"max_size"`
	// NormalizationLevel is a pointer so an omitted YAML field (nil, defaults
	// to 1) is distinguishable from an explicit normalization_level: 0
	// (disables normalization entirely, a valid FastCDC-2020 setting).
	NormalizationLevel *int `yaml:"normalization_level"`

	MinSizeRaw int `yaml:"-"`
	AvgSizeRaw int `yaml:"-"`
	MaxSizeRaw int `yaml:"-"`
}

// SnapshotEntry describes one named backup source to scan and chunk.
type SnapshotEntry struct {
	Name     string   `yaml:"name"`
	Sources  []string `yaml:"sources"`
	Excludes []string `yaml:"exclude"`
	Schedule string   `yaml:"schedule"` // cron expression
}

// StoreConfig selects and configures the object-store backend.
type StoreConfig struct {
	Kind            string           `yaml:"kind"` // "filesystem" | "s3"
	Filesystem      FilesystemConfig `yaml:"filesystem"`
	S3              S3Config         `yaml:"s3"`
	ThrottleBytesPerSec int64        `yaml:"throttle_bytes_per_sec"` // 0 disables throttling
}

type FilesystemConfig struct {
	RootDir string `yaml:"root_dir"`
}

type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// CatalogConfig points at the embedded SQLite catalog database.
type CatalogConfig struct {
	Path string `yaml:"path"`
}

// CompressionConfig selects the chunk compression codec.
type CompressionConfig struct {
	Mode  string `yaml:"mode"` // "none" | "gzip" | "zstd"
	Level int    `yaml:"level"`
}

// EncryptionConfig enables chunk-at-rest encryption.
type EncryptionConfig struct {
	Enabled bool   `yaml:"enabled"`
	KeyFile string `yaml:"key_file"`
}

// SigningConfig enables manifest signing.
type SigningConfig struct {
	Enabled        bool   `yaml:"enabled"`
	PrivateKeyFile string `yaml:"private_key_file"`
	PublicKeyFile  string `yaml:"public_key_file"`
}

// RetryConfig holds retry settings, parsed and defaulted by Load. No
// component reads them: store errors are not retried, and the core never
// retries.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level          string `yaml:"level"`
	Format         string `yaml:"format"`
	File           string `yaml:"file"`
	SnapshotLogDir string `yaml:"snapshot_log_dir"` // per-run debug logs; empty disables
}

// Load reads and validates the YAML configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validating %s: %w", path, err)
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Memory.BufferCount <= 0 {
		c.Memory.BufferCount = 16
	}
	if c.Memory.BufferSize == "" {
		c.Memory.BufferSize = "16mb"
	}
	bufSize, err := ParseByteSize(c.Memory.BufferSize)
	if err != nil {
		return fmt.Errorf("memory.buffer_size: %w", err)
	}
	c.Memory.BufferSizeRaw = bufSize

	if c.Chunker.MinSize == "" {
		c.Chunker.MinSize = "4kb"
	}
	if c.Chunker.AvgSize == "" {
		c.Chunker.AvgSize = "16kb"
	}
	if c.Chunker.MaxSize == "" {
		c.Chunker.MaxSize = "64kb"
	}
	if c.Chunker.NormalizationLevel == nil {
		defaultLevel := 1
		c.Chunker.NormalizationLevel = &defaultLevel
	}
	if *c.Chunker.NormalizationLevel < 0 || *c.Chunker.NormalizationLevel > 3 {
		return fmt.Errorf("chunker.normalization_level must be in [0, 3], got %d", *c.Chunker.NormalizationLevel)
	}

	minSize, err := ParseByteSize(c.Chunker.MinSize)
	if err != nil {
		return fmt.Errorf("chunker.min_size: %w", err)
	}
	avgSize, err := ParseByteSize(c.Chunker.AvgSize)
	if err != nil {
		return fmt.Errorf("chunker.avg_size: %w", err)
	}
	maxSize, err := ParseByteSize(c.Chunker.MaxSize)
	if err != nil {
		return fmt.Errorf("chunker.max_size: %w", err)
	}
	if maxSize > bufSize {
		return fmt.Errorf("chunker.max_size (%d) must be <= memory.buffer_size (%d)", maxSize, bufSize)
	}
	c.Chunker.MinSizeRaw = int(minSize)
	c.Chunker.AvgSizeRaw = int(avgSize)
	c.Chunker.MaxSizeRaw = int(maxSize)

	for i, s := range c.Snapshots {
		if s.Name == "" {
			return fmt.Errorf("snapshots[%d].name is required", i)
		}
		if len(s.Sources) == 0 {
			return fmt.Errorf("snapshots[%d].sources must have at least one entry", i)
		}
		if s.Schedule == "" {
			return fmt.Errorf("snapshots[%d].schedule is required", i)
		}
	}

	switch c.Store.Kind {
	case "":
		c.Store.Kind = "filesystem"
		fallthrough
	case "filesystem":
		if c.Store.Filesystem.RootDir == "" {
			c.Store.Filesystem.RootDir = "./chunk-store"
		}
	case "s3":
		if c.Store.S3.Bucket == "" {
			return fmt.Errorf("store.s3.bucket is required when store.kind is s3")
		}
		if c.Store.S3.Region == "" {
			return fmt.Errorf("store.s3.region is required when store.kind is s3")
		}
	default:
		return fmt.Errorf("store.kind %q is not one of filesystem, s3", c.Store.Kind)
	}

	if c.Catalog.Path == "" {
		c.Catalog.Path = "./chunklocker.db"
	}

	switch c.Compression.Mode {
	case "":
		c.Compression.Mode = "zstd"
	case "none", "gzip", "zstd":
	default:
		return fmt.Errorf("compression.mode %q is not one of none, gzip, zstd", c.Compression.Mode)
	}

	if c.Encryption.Enabled && c.Encryption.KeyFile == "" {
		return fmt.Errorf("encryption.key_file is required when encryption.enabled is true")
	}

	if c.Signing.Enabled && c.Signing.PrivateKeyFile == "" && c.Signing.PublicKeyFile == "" {
		return fmt.Errorf("signing.enabled requires at least one of private_key_file, public_key_file")
	}

	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 5
	}
	if c.Retry.InitialDelay <= 0 {
		c.Retry.InitialDelay = time.Second
	}
	if c.Retry.MaxDelay <= 0 {
		c.Retry.MaxDelay = 5 * time.Minute
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	return nil
}

// ParseByteSize converts human-readable sizes like "256mb", "1gb" to bytes.
// Suffixes are matched longest-first so "mb" is never mistaken for "b".
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	type suffix struct {
		s string
		m int64
	}
	suffixes := []suffix{
		{"gb", 1024 * 1024 * 1024},
		{"mb", 1024 * 1024},
		{"kb", 1024},
		{"b", 1},
	}

	for _, sfx := range suffixes {
		if strings.HasSuffix(s, sfx.s) {
			numStr := strings.TrimSuffix(s, sfx.s)
			num, err := strconv.ParseInt(numStr, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid number %q: %w", numStr, err)
			}
			return num * sfx.m, nil
		}
	}

	num, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unknown size format %q", s)
	}
	return num, nil
}
