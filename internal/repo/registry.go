package repo

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"starbash/internal/engine"
)

// Registry persists the set of configured repositories (the
// add/remove/reindex surface a driver exposes), using the same
// encoding/json load/save shape as selection.Store.
type Registry struct {
	Path string
}

// NewRegistry points a Registry at path; the file is created on first Save.
func NewRegistry(path string) *Registry {
	return &Registry{Path: path}
}

// Load reads the persisted repository list, returning an empty list if
// no file exists yet.
func (r *Registry) Load() ([]engine.Repository, error) {
	data, err := os.ReadFile(r.Path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var repos []engine.Repository
	if err := json.Unmarshal(data, &repos); err != nil {
		return nil, err
	}
	return repos, nil
}

// Save persists repos to r.Path, creating parent directories as needed.
func (r *Registry) Save(repos []engine.Repository) error {
	if err := os.MkdirAll(filepath.Dir(r.Path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(repos, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(r.Path, data, 0o644)
}

// Add appends repo to the persisted list, rejecting a duplicate id.
func (r *Registry) Add(repo engine.Repository) error {
	repos, err := r.Load()
	if err != nil {
		return err
	}
	for _, existing := range repos {
		if existing.ID == repo.ID {
			return fmt.Errorf("repository %s already configured", repo.ID)
		}
	}
	repos = append(repos, repo)
	return r.Save(repos)
}

// Remove deletes the repository with the given id from the persisted
// list. It does not touch the Catalog; callers remove the catalog's
// rows separately (catalog.Store.RemoveRepo).
func (r *Registry) Remove(id string) error {
	repos, err := r.Load()
	if err != nil {
		return err
	}
	out := repos[:0]
	found := false
	for _, existing := range repos {
		if existing.ID == id {
			found = true
			continue
		}
		out = append(out, existing)
	}
	if !found {
		return fmt.Errorf("repository %s not configured", id)
	}
	return r.Save(out)
}
