// Package history persists one immutable record per completed run in a local
// SQLite database. Records are append-only: they are the replay source when
// the primary state file is corrupt, so nothing here ever updates or deletes
// a row outside of the retention pruner.
package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/codepatrol/patrol/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    started_at DATETIME NOT NULL,
    finished_at DATETIME NOT NULL,
    record TEXT NOT NULL,
    manifest_blob BLOB,
    manifest_raw_size INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

// Store is the append-only run-history database.
type Store struct {
	db *sql.DB
}

// Open creates or opens the history database at path.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping history database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append records a completed run together with the manifest snapshot the run
// was built from. The snapshot is stored lz4-compressed; manifests dominate
// row size at scale.
func (s *Store) Append(rec *types.RunRecord, manifest *types.Manifest) error {
	recJSON, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling run record: %w", err)
	}

	var blob []byte
	var rawSize int
	if manifest != nil {
		raw, err := json.Marshal(manifest)
		if err != nil {
			return fmt.Errorf("marshaling manifest snapshot: %w", err)
		}
		rawSize = len(raw)
		blob = compress(raw)
	}

	_, err = s.db.Exec(
		`INSERT INTO runs (run_id, started_at, finished_at, record, manifest_blob, manifest_raw_size)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.StartedAt.UTC().Format(time.RFC3339Nano),
		rec.FinishedAt.UTC().Format(time.RFC3339Nano),
		string(recJSON), blob, rawSize,
	)
	if err != nil {
		return fmt.Errorf("appending run record: %w", err)
	}
	return nil
}

// Records returns all run records ordered oldest first, the order required
// by state replay.
func (s *Store) Records() ([]*types.RunRecord, error) {
	rows, err := s.db.Query(`SELECT record FROM runs ORDER BY started_at ASC, run_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying run history: %w", err)
	}
	defer rows.Close()

	var records []*types.RunRecord
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning run record: %w", err)
		}
		var rec types.RunRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			// One bad row must not block a rebuild.
			fmt.Fprintf(os.Stderr, "warning: skipping undecodable run record: %v\n", err)
			continue
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// LatestManifest returns the manifest snapshot from the most recent run that
// stored one, or nil when history is empty.
func (s *Store) LatestManifest() (*types.Manifest, error) {
	rows, err := s.db.Query(
		`SELECT manifest_blob, manifest_raw_size FROM runs
		 WHERE manifest_blob IS NOT NULL
		 ORDER BY started_at DESC, run_id DESC LIMIT 1`)
	if err != nil {
		return nil, fmt.Errorf("querying latest manifest: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}

	var blob []byte
	var rawSize int
	if err := rows.Scan(&blob, &rawSize); err != nil {
		return nil, fmt.Errorf("scanning manifest snapshot: %w", err)
	}

	raw, err := decompress(blob, rawSize)
	if err != nil {
		return nil, fmt.Errorf("decompressing manifest snapshot: %w", err)
	}

	var m types.Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decoding manifest snapshot: %w", err)
	}
	return &m, nil
}

// Prune deletes all but the most recent keep records. The retention floor
// exists so history growth stays bounded; keep must be large enough that a
// rebuild still has useful depth.
func (s *Store) Prune(keep int) (int, error) {
	if keep <= 0 {
		return 0, fmt.Errorf("retention count must be positive (got %d)", keep)
	}

	res, err := s.db.Exec(
		`DELETE FROM runs WHERE run_id NOT IN (
			SELECT run_id FROM runs ORDER BY started_at DESC, run_id DESC LIMIT ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("pruning run history: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
