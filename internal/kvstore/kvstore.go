// Package kvstore provides a durable, process-scoped key/value store used
// to replay state across restarts (active calibrations, calibration
// sessions, pump throughput, and other per-process caches named in
// spec.md §4.B). One SQLite database backs every scope; scopes are just a
// column, not separate files, mirroring the single `state.db` the teacher
// keeps all its tables in (internal/infra/sqlite/db.go).
package kvstore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	_ "modernc.org/sqlite" // pure-Go driver, no CGO
)

// Store is a typed map keyed by (scope, key) with opaque byte values.
// Safe for concurrent use: SQLite's single-writer WAL semantics serialize
// writes, matching spec.md §5 "Locking/transactions".
type Store struct {
	db *sql.DB
}

// Open creates or opens <dir>/kv.db in WAL mode.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}

	dsn := filepath.Join(dir, "kv.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open kv store: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping kv store: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		scope TEXT NOT NULL,
		key   TEXT NOT NULL,
		value BLOB NOT NULL,
		PRIMARY KEY (scope, key)
	)`)
	return err
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Get returns scope's value for key. ok is false if no such row exists.
func (s *Store) Get(scope, key string) (value []byte, ok bool, err error) {
	row := s.db.QueryRow(`SELECT value FROM kv WHERE scope = ? AND key = ?`, scope, key)
	var v []byte
	if err := row.Scan(&v); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	return v, true, nil
}

// Put writes scope/key atomically, replacing any prior value.
func (s *Store) Put(scope, key string, value []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO kv (scope, key, value) VALUES (?, ?, ?)
		 ON CONFLICT(scope, key) DO UPDATE SET value = excluded.value`,
		scope, key, value,
	)
	return err
}

// Delete removes scope/key. It is not an error if the row is absent.
func (s *Store) Delete(scope, key string) error {
	_, err := s.db.Exec(`DELETE FROM kv WHERE scope = ? AND key = ?`, scope, key)
	return err
}

// Keys returns every key in scope, ordered lexically (spec.md §4.B
// "ordered iteration by key").
func (s *Store) Keys(scope string) ([]string, error) {
	rows, err := s.db.Query(`SELECT key FROM kv WHERE scope = ?`, scope)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, rows.Err()
}

// Scope well-known names, matching spec.md §3/§4.B.
const (
	ScopeActiveCalibrations  = "active_calibrations"
	ScopeODCalibrations      = "od_calibrations"
	ScopeCalibrationSessions = "calibration_sessions"
	ScopePumpThroughput      = "pump_throughput"
	ScopeInstalledPlugins    = "installed_plugins"
)
