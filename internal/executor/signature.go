package executor

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	_ "github.com/mattn/go-sqlite3"

	"starbash/internal/engine"
)

// SignatureStore persists the last successful up-to-date signature per
// task, in a database deliberately separate from the Metadata
// Catalog's own sqlite connection: executor state must survive a
// catalog rebuild, and the two must never contend for the same file
// lock.
type SignatureStore struct {
	db *sql.DB
}

// OpenSignatureStore opens (or creates) the signature database at
// path.
func OpenSignatureStore(path string) (*SignatureStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open signature store: %w", err)
	}
	s := &SignatureStore{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SignatureStore) ensureSchema() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS task_signatures (
		task_name TEXT PRIMARY KEY,
		signature TEXT NOT NULL,
		recorded_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`)
	if err != nil {
		return fmt.Errorf("ensure signature schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SignatureStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the last persisted signature for taskName, if any.
func (s *SignatureStore) Get(taskName string) (string, bool, error) {
	var sig string
	err := s.db.QueryRow(`SELECT signature FROM task_signatures WHERE task_name = ?`, taskName).Scan(&sig)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read signature for %s: %w", taskName, err)
	}
	return sig, true, nil
}

// Set persists sig as the last successful signature for taskName.
func (s *SignatureStore) Set(taskName, sig string) error {
	_, err := s.db.Exec(`INSERT INTO task_signatures (task_name, signature, recorded_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(task_name) DO UPDATE SET signature = excluded.signature, recorded_at = excluded.recorded_at`,
		taskName, sig)
	if err != nil {
		return fmt.Errorf("write signature for %s: %w", taskName, err)
	}
	return nil
}

// ComputeSignature builds the up-to-date signature: tool kind, the
// resolved command string, a content digest of every input file, and
// the declared output paths. Missing input files (not yet produced by
// an upstream task) are skipped rather than erroring; their absence
// from the digest just means the signature changes once they exist.
func ComputeSignature(t engine.Task) (string, error) {
	h := sha256.New()
	fmt.Fprintf(h, "tool=%s\ncommand=%s\n", t.Tool, t.Command)

	for _, in := range t.Inputs {
		digest, err := digestFile(in)
		if err != nil {
			continue
		}
		fmt.Fprintf(h, "input=%s:%s\n", in, digest)
	}
	for _, out := range t.Outputs {
		fmt.Fprintf(h, "output=%s\n", out)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func digestFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// IsUpToDate reports whether t can be skipped: every declared output
// exists and the persisted signature of its last successful run
// matches the freshly computed one.
func IsUpToDate(store *SignatureStore, t engine.Task) (bool, error) {
	for _, out := range t.Outputs {
		if _, err := os.Stat(out); err != nil {
			return false, nil
		}
	}
	current, err := ComputeSignature(t)
	if err != nil {
		return false, err
	}
	prior, found, err := store.Get(t.Name)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	return prior == current, nil
}
