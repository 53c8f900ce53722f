// Copyright 2026 The Converse Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cache

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	log "github.com/sirupsen/logrus"
)

// Store is the durable mirror of the response cache, an embedded SQLite
// key-value table keyed by normalized-query hash and backend.
type Store struct {
	db *sql.DB
}

const storeSchema = `
CREATE TABLE IF NOT EXISTS response_cache (
	hash TEXT NOT NULL,
	backend TEXT NOT NULL,
	query TEXT NOT NULL,
	normalized TEXT NOT NULL,
	response TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	hits INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (hash, backend)
);

CREATE INDEX IF NOT EXISTS idx_response_cache_backend ON response_cache(backend);
CREATE INDEX IF NOT EXISTS idx_response_cache_created_at ON response_cache(created_at);
`

// OpenStore opens (creating if needed) the cache database at dbPath.
func OpenStore(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(storeSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache schema: %w", err)
	}

	log.Infof("cache store initialized (db: %s)", dbPath)
	return &Store{db: db}, nil
}

// NewStoreWithDB wraps an existing database handle; used by tests.
func NewStoreWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// LoadAll returns every persisted entry.
func (s *Store) LoadAll() ([]Entry, error) {
	rows, err := s.db.Query(`SELECT hash, backend, query, normalized, response, created_at, hits FROM response_cache`)
	if err != nil {
		return nil, fmt.Errorf("failed to load cache entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var created time.Time
		if err := rows.Scan(&e.Hash, &e.Backend, &e.Query, &e.Normalized, &e.Response, &created, &e.Hits); err != nil {
			return nil, fmt.Errorf("failed to scan cache entry: %w", err)
		}
		e.CreatedAt = created
		out = append(out, e)
	}
	return out, rows.Err()
}

// Upsert writes one entry, replacing any previous version of the same key.
func (s *Store) Upsert(e *Entry) error {
	_, err := s.db.Exec(`
		INSERT INTO response_cache (hash, backend, query, normalized, response, created_at, hits)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(hash, backend) DO UPDATE SET
			query = excluded.query,
			normalized = excluded.normalized,
			response = excluded.response,
			created_at = excluded.created_at,
			hits = excluded.hits`,
		e.Hash, e.Backend, e.Query, e.Normalized, e.Response, e.CreatedAt, e.Hits)
	if err != nil {
		return fmt.Errorf("failed to upsert cache entry: %w", err)
	}
	return nil
}

// IncrementHits bumps the persisted hit counter for one entry.
func (s *Store) IncrementHits(hash, backend string) error {
	_, err := s.db.Exec(`UPDATE response_cache SET hits = hits + 1 WHERE hash = ? AND backend = ?`, hash, backend)
	if err != nil {
		return fmt.Errorf("failed to increment hit counter: %w", err)
	}
	return nil
}

// Delete removes one entry.
func (s *Store) Delete(hash, backend string) error {
	_, err := s.db.Exec(`DELETE FROM response_cache WHERE hash = ? AND backend = ?`, hash, backend)
	if err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
