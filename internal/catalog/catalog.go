// Package catalog implements the Metadata Catalog: a sqlite-backed
// indexed store of ImageRecords and derived SessionRows.
package catalog

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store wraps the sqlite-backed catalog.
type Store struct {
	DB *sql.DB
}

// Open opens (or creates) the catalog database at path and ensures the
// schema exists, following the usual sqlite-store bootstrap shape (open, ensure schema).
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	s := &Store{DB: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS images (
			path TEXT PRIMARY KEY,
			repo_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			observed_at TIMESTAMP NOT NULL,
			exposure_sec REAL NOT NULL,
			gain INTEGER NOT NULL,
			binning INTEGER NOT NULL,
			filter TEXT NOT NULL,
			target TEXT NOT NULL,
			instrument TEXT NOT NULL,
			camera_id TEXT NOT NULL,
			width INTEGER NOT NULL,
			height INTEGER NOT NULL,
			bayer_pattern TEXT,
			latitude REAL,
			longitude REAL,
			stack_count INTEGER NOT NULL DEFAULT 1,
			metadata_json TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_images_target_filter_kind ON images(target, filter, kind);`,
		`CREATE INDEX IF NOT EXISTS idx_images_observed_at ON images(observed_at);`,
		`CREATE INDEX IF NOT EXISTS idx_images_repo ON images(repo_id);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			target TEXT NOT NULL,
			instrument TEXT NOT NULL,
			filter TEXT NOT NULL,
			kind TEXT NOT NULL,
			exposure_sec REAL NOT NULL,
			gain INTEGER NOT NULL,
			binning INTEGER NOT NULL,
			camera_id TEXT NOT NULL,
			width INTEGER NOT NULL,
			height INTEGER NOT NULL,
			frame_count INTEGER NOT NULL,
			total_exposure_sec REAL NOT NULL,
			start_at TIMESTAMP NOT NULL,
			end_at TIMESTAMP NOT NULL,
			from_master INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_target ON sessions(target);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_kind ON sessions(kind);`,
		`CREATE TABLE IF NOT EXISTS repo_kinds (
			repo_id TEXT PRIMARY KEY,
			kind TEXT NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.Exec(stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}
