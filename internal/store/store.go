// Package store persists sessions, approval gates, scraper versions and
// their test results in SQLite. Rows are append-only except for the two
// documented mutations: a gate decision and a scraper status
// finalization. Everything the diff view shows is derived from these
// rows, so it reconstructs identically after a restart.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store wraps the SQLite database.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// Open initializes the database at the given path, creating parent
// directories and the schema as needed.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initialize() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			target_url TEXT NOT NULL,
			objective TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			exploration TEXT,
			specification TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,

		`CREATE TABLE IF NOT EXISTS approval_gates (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			status TEXT NOT NULL,
			summary TEXT,
			actor TEXT,
			feedback TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			decided_at DATETIME
		);
		CREATE INDEX IF NOT EXISTS idx_gates_session ON approval_gates(session_id);`,

		`CREATE TABLE IF NOT EXISTS scrapers (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			source TEXT NOT NULL,
			language TEXT NOT NULL DEFAULT 'go',
			framework TEXT NOT NULL DEFAULT 'stdlib',
			status TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(session_id, version)
		);
		CREATE INDEX IF NOT EXISTS idx_scrapers_session ON scrapers(session_id);`,

		`CREATE TABLE IF NOT EXISTS test_results (
			scraper_id TEXT PRIMARY KEY,
			stdout TEXT,
			stderr TEXT,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			output_json TEXT,
			outcomes_json TEXT,
			passed INTEGER NOT NULL DEFAULT 0,
			error_class TEXT NOT NULL DEFAULT '',
			error_detail TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
	}

	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}
