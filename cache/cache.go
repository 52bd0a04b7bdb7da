// Package cache is a small sqlite-backed key/value store with per-entry
// expiry. Callers own their Store; there is no process-wide instance.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS cache_entry (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	length     INTEGER NOT NULL,
	stored_at  INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);`

// Record is a cached value. Length is the size of the source the value was
// built from, which may differ from len(Value).
type Record struct {
	Key       string
	Value     []byte
	Length    int64
	StoredAt  time.Time
	ExpiresAt time.Time
}

// Expired reports whether the record is past its expiry at now.
func (r Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the cache database at path. ":memory:" gives a
// private in-memory store.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database %s: %w", path, err)
	}
	// A single connection keeps ":memory:" databases shared and serialises writers.
	db.SetMaxOpenConns(1)
	s, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing database handle and ensures the schema exists.
func New(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create cache schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Get returns the record for key. ok is false when there is no entry.
// Expired entries are still returned so callers can decide whether to reuse them.
func (s *Store) Get(ctx context.Context, key string) (rec Record, ok bool, err error) {
	var stored, expires int64
	row := s.db.QueryRowContext(ctx,
		`SELECT key, value, length, stored_at, expires_at FROM cache_entry WHERE key = ?`, key)
	if err := row.Scan(&rec.Key, &rec.Value, &rec.Length, &stored, &expires); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("failed to read cache entry %s: %w", key, err)
	}
	rec.StoredAt = time.UnixMilli(stored)
	rec.ExpiresAt = time.UnixMilli(expires)
	return rec, true, nil
}

// Set stores value under key for ttl.
func (s *Store) Set(ctx context.Context, key string, value []byte, length int64, ttl time.Duration) error {
	now := s.now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_entry (key, value, length, stored_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			length = excluded.length,
			stored_at = excluded.stored_at,
			expires_at = excluded.expires_at`,
		key, value, length, now.UnixMilli(), now.Add(ttl).UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to write cache entry %s: %w", key, err)
	}
	return nil
}

// Touch extends an existing entry's expiry without changing its value.
func (s *Store) Touch(ctx context.Context, key string, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx, `UPDATE cache_entry SET expires_at = ? WHERE key = ?`,
		s.now().Add(ttl).UnixMilli(), key)
	if err != nil {
		return fmt.Errorf("failed to touch cache entry %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entry WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete cache entry %s: %w", key, err)
	}
	return nil
}

// Prune removes every expired entry and returns how many were removed.
func (s *Store) Prune(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cache_entry WHERE expires_at <= ?`, s.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune cache: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) Close() error {
	return s.db.Close()
}
