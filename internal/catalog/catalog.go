// Package catalog persists the durable record of what a snapshot run
// produced: which chunks it wrote, which manifest entries point at them, and
// whether the run completed. It is the only stage backed by a relational
// store; everything upstream of it only ever sees memory handles and
// io.Readers.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go sqlite driver, no cgo
)

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("catalog: not found")

const schemaVersion = 1

// Catalog is the durable record-keeper for snapshot runs. A single *Catalog
// is safe for concurrent use; database/sql pools connections internally.
type Catalog struct {
	db *sql.DB
}

// SnapshotRun identifies one execution of a named snapshot.
type SnapshotRun struct {
	ID           int64
	SnapshotName string
	StartedAt    time.Time
	FinishedAt   sql.NullTime
	Status       string // "running", "complete", "failed"
	Error        string
}

// ChunkRecord is one deduplicated, content-addressed chunk written by any
// run. ReferenceCount tracks how many manifest entries point at it so a
// chunk already present in the store is never re-uploaded.
type ChunkRecord struct {
	ContentHash    string
	StoreKey       string
	Size           int64
	ReferenceCount int64
}

// ManifestEntry maps one scanned file, at one offset range, to the chunk
// that covers it within a given run.
type ManifestEntry struct {
	RunID       int64
	Path        string
	Offset      int64
	Length      int64
	ContentHash string
}

// Open opens (creating if necessary) the catalog database at path and
// ensures its schema is current.
func Open(ctx context.Context, path string) (*Catalog, error) {
	if path == "" {
		return nil, errors.New("catalog: path is empty")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("catalog: opening %s: %w", path, err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("catalog: pinging %s: %w", path, err)
	}

	// Single-writer workload; WAL lets concurrent read-only queries (e.g.
	// list-snapshots CLI calls) proceed while a run is in flight.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("catalog: applying pragma %q: %w", p, err)
		}
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Catalog{db: db}, nil
}

func (c *Catalog) Close() error {
	return c.db.Close()
}

func migrate(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("catalog: reading schema version: %w", err)
	}
	if version >= schemaVersion {
		return nil
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			snapshot_name TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			finished_at INTEGER,
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS chunks (
			content_hash TEXT PRIMARY KEY,
			store_key TEXT NOT NULL,
			size INTEGER NOT NULL,
			reference_count INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS manifest_entries (
			run_id INTEGER NOT NULL REFERENCES runs(id),
			path TEXT NOT NULL,
			offset INTEGER NOT NULL,
			length INTEGER NOT NULL,
			content_hash TEXT NOT NULL REFERENCES chunks(content_hash)
		)`,
		"CREATE INDEX IF NOT EXISTS idx_runs_snapshot ON runs(snapshot_name, started_at)",
		"CREATE INDEX IF NOT EXISTS idx_manifest_run ON manifest_entries(run_id)",
		fmt.Sprintf("PRAGMA user_version = %d", schemaVersion),
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("catalog: applying schema statement %q: %w", stmt, err)
		}
	}
	return nil
}

// BeginSnapshot records the start of a new run of the named snapshot and returns
// its run ID.
func (c *Catalog) BeginSnapshot(ctx context.Context, snapshotName string) (int64, error) {
	res, err := c.db.ExecContext(ctx,
		`INSERT INTO runs (snapshot_name, started_at, status) VALUES (?, ?, 'running')`,
		snapshotName, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("catalog: beginning run for %s: %w", snapshotName, err)
	}
	return res.LastInsertId()
}

// RecordChunk registers a content-addressed chunk, incrementing its
// reference count if already present (idempotent, dedup-aware). Returns
// whether the chunk's bytes were already known to the catalog (and thus did
// not need to be written to the store again).
func (c *Catalog) RecordChunk(ctx context.Context, rec ChunkRecord) (alreadyKnown bool, err error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("catalog: beginning record-chunk txn: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existing int64
	err = tx.QueryRowContext(ctx, `SELECT reference_count FROM chunks WHERE content_hash = ?`, rec.ContentHash).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx,
			`INSERT INTO chunks (content_hash, store_key, size, reference_count) VALUES (?, ?, ?, 1)`,
			rec.ContentHash, rec.StoreKey, rec.Size)
		if err != nil {
			return false, fmt.Errorf("catalog: inserting chunk %s: %w", rec.ContentHash, err)
		}
		alreadyKnown = false
	case err != nil:
		return false, fmt.Errorf("catalog: looking up chunk %s: %w", rec.ContentHash, err)
	default:
		_, err = tx.ExecContext(ctx,
			`UPDATE chunks SET reference_count = reference_count + 1 WHERE content_hash = ?`, rec.ContentHash)
		if err != nil {
			return false, fmt.Errorf("catalog: bumping reference count for %s: %w", rec.ContentHash, err)
		}
		alreadyKnown = true
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("catalog: committing record-chunk txn: %w", err)
	}
	return alreadyKnown, nil
}

// RecordManifestEntry appends one path/offset/length mapping to a run's
// manifest.
func (c *Catalog) RecordManifestEntry(ctx context.Context, e ManifestEntry) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO manifest_entries (run_id, path, offset, length, content_hash) VALUES (?, ?, ?, ?, ?)`,
		e.RunID, e.Path, e.Offset, e.Length, e.ContentHash)
	if err != nil {
		return fmt.Errorf("catalog: recording manifest entry for %s: %w", e.Path, err)
	}
	return nil
}

// CompleteSnapshot marks a run as successfully finished.
func (c *Catalog) CompleteSnapshot(ctx context.Context, runID int64) error {
	_, err := c.db.ExecContext(ctx,
		`UPDATE runs SET status = 'complete', finished_at = ? WHERE id = ?`, time.Now().Unix(), runID)
	if err != nil {
		return fmt.Errorf("catalog: completing run %d: %w", runID, err)
	}
	return nil
}

// FailSnapshot marks a run as failed, recording the triggering error message.
func (c *Catalog) FailSnapshot(ctx context.Context, runID int64, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := c.db.ExecContext(ctx,
		`UPDATE runs SET status = 'failed', finished_at = ?, error = ? WHERE id = ?`,
		time.Now().Unix(), msg, runID)
	if err != nil {
		return fmt.Errorf("catalog: failing run %d: %w", runID, err)
	}
	return nil
}

// ListSnapshots returns every recorded run of the named snapshot, most recent
// first.
func (c *Catalog) ListSnapshots(ctx context.Context, snapshotName string) ([]SnapshotRun, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, snapshot_name, started_at, finished_at, status, error
		 FROM runs WHERE snapshot_name = ? ORDER BY started_at DESC`, snapshotName)
	if err != nil {
		return nil, fmt.Errorf("catalog: listing runs for %s: %w", snapshotName, err)
	}
	defer rows.Close()

	var out []SnapshotRun
	for rows.Next() {
		var r SnapshotRun
		var started int64
		var finished sql.NullInt64
		if err := rows.Scan(&r.ID, &r.SnapshotName, &started, &finished, &r.Status, &r.Error); err != nil {
			return nil, fmt.Errorf("catalog: scanning run row: %w", err)
		}
		r.StartedAt = time.Unix(started, 0).UTC()
		if finished.Valid {
			r.FinishedAt = sql.NullTime{Time: time.Unix(finished.Int64, 0).UTC(), Valid: true}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ChunkByHash looks up a previously recorded chunk by its content hash.
func (c *Catalog) ChunkByHash(ctx context.Context, contentHash string) (ChunkRecord, error) {
	var rec ChunkRecord
	rec.ContentHash = contentHash
	err := c.db.QueryRowContext(ctx,
		`SELECT store_key, size, reference_count FROM chunks WHERE content_hash = ?`, contentHash,
	).Scan(&rec.StoreKey, &rec.Size, &rec.ReferenceCount)
	if errors.Is(err, sql.ErrNoRows) {
		return ChunkRecord{}, ErrNotFound
	}
	if err != nil {
		return ChunkRecord{}, fmt.Errorf("catalog: looking up chunk %s: %w", contentHash, err)
	}
	return rec, nil
}

// ManifestForRun returns every manifest entry recorded for runID, in
// insertion order.
func (c *Catalog) ManifestForRun(ctx context.Context, runID int64) ([]ManifestEntry, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT run_id, path, offset, length, content_hash FROM manifest_entries
		 WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("catalog: listing manifest for run %d: %w", runID, err)
	}
	defer rows.Close()

	var out []ManifestEntry
	for rows.Next() {
		var e ManifestEntry
		if err := rows.Scan(&e.RunID, &e.Path, &e.Offset, &e.Length, &e.ContentHash); err != nil {
			return nil, fmt.Errorf("catalog: scanning manifest row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
