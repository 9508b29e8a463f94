// Package autotune persists the keyed table of spec.md §6 ("Persisted
// state layout"): best workgroup size per (device fingerprint, kernel
// variant, shape bucket). Absent data triggers the heuristic defaults of
// spec.md §9.
//
// Grounded on mattn/go-sqlite3, a teacher dependency already used for the
// teacher's local app store (app/store); this is the same "small embedded
// keyed table that must survive process restarts" shape.
package autotune

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Key identifies one autotune row.
type Key struct {
	DeviceFingerprint string
	Variant           string
	ShapeBucket       string
}

// Store wraps a sqlite-backed workgroup-size table. A Store with a nil db
// (opened against an unreachable or missing path) is valid and simply
// reports every lookup as a miss, matching spec.md's "absent data triggers
// heuristic defaults" — a store failure is non-fatal.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite database at path. A failure
// to open is returned to the caller, who may choose to proceed with a nil
// *Store (heuristic-only) rather than treat it as fatal — autotune data is
// an optimization, not a correctness requirement.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("autotune: open %s: %w", path, err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS workgroup_sizes (
	device_fingerprint TEXT NOT NULL,
	variant            TEXT NOT NULL,
	shape_bucket       TEXT NOT NULL,
	workgroup_size     INTEGER NOT NULL,
	PRIMARY KEY (device_fingerprint, variant, shape_bucket)
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("autotune: migrate %s: %w", path, err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying sqlite handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Lookup returns the persisted workgroup size for key, or ok=false if no
// row exists (or the store itself failed to open).
func (s *Store) Lookup(key Key) (size int, ok bool) {
	if s == nil || s.db == nil {
		return 0, false
	}

	row := s.db.QueryRow(
		`SELECT workgroup_size FROM workgroup_sizes WHERE device_fingerprint = ? AND variant = ? AND shape_bucket = ?`,
		key.DeviceFingerprint, key.Variant, key.ShapeBucket,
	)
	if err := row.Scan(&size); err != nil {
		return 0, false
	}
	return size, true
}

// Record persists a chosen workgroup size, overwriting any prior entry for
// the same key (a later benchmark run superseding an earlier one).
func (s *Store) Record(key Key, size int) error {
	if s == nil || s.db == nil {
		return nil
	}

	_, err := s.db.Exec(
		`INSERT INTO workgroup_sizes (device_fingerprint, variant, shape_bucket, workgroup_size) VALUES (?, ?, ?, ?)
		 ON CONFLICT(device_fingerprint, variant, shape_bucket) DO UPDATE SET workgroup_size = excluded.workgroup_size`,
		key.DeviceFingerprint, key.Variant, key.ShapeBucket, size,
	)
	return err
}

// HeuristicDefault returns the spec.md §9 default workgroup size for
// kernels other than matmul (64–256 threads "until data is collected").
// Matmul gets a real benchmark loop (see Bench) rather than this default.
func HeuristicDefault(variant string) int {
	switch variant {
	case "attention.streaming", "attention.streaming_f16kv":
		return 64
	default:
		return 256
	}
}
