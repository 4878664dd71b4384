// Package selection implements the persistent filter a driver applies
// over the Catalog before building a run: which targets, instruments,
// filters, kinds, and date window are in scope.
package selection

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"starbash/internal/engine"
)

// Store persists a Selection to a JSON file, following the config package's own
// config package's encoding/json load/save pattern.
type Store struct {
	Path string
}

// NewStore points a Store at path; the file is created on first Save.
func NewStore(path string) *Store {
	return &Store{Path: path}
}

// Load reads the persisted Selection, returning a fresh empty one
// (universe, new id) if no file exists yet.
func (s *Store) Load() (engine.Selection, error) {
	data, err := os.ReadFile(s.Path)
	if os.IsNotExist(err) {
		return New(), nil
	}
	if err != nil {
		return engine.Selection{}, err
	}
	var sel engine.Selection
	if err := json.Unmarshal(data, &sel); err != nil {
		return engine.Selection{}, err
	}
	if sel.ID == "" {
		sel.ID = uuid.NewString()
	}
	return sel, nil
}

// Save persists sel to s.Path, creating parent directories as needed.
func (s *Store) Save(sel engine.Selection) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(sel, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.Path, data, 0o644)
}

// New returns an empty (universe) Selection with a fresh id.
func New() engine.Selection {
	return engine.Selection{ID: uuid.NewString()}
}

// SetTargets replaces sel's target filter.
func SetTargets(sel engine.Selection, targets []string) engine.Selection {
	sel.Targets = append([]string(nil), targets...)
	return sel
}

// SetInstruments replaces sel's instrument filter.
func SetInstruments(sel engine.Selection, instruments []string) engine.Selection {
	sel.Instruments = append([]string(nil), instruments...)
	return sel
}

// SetFilters replaces sel's filter-label filter.
func SetFilters(sel engine.Selection, filters []string) engine.Selection {
	sel.Filters = append([]string(nil), filters...)
	return sel
}

// SetKinds replaces sel's image-kind filter.
func SetKinds(sel engine.Selection, kinds []engine.ImageKind) engine.Selection {
	sel.Kinds = append([]engine.ImageKind(nil), kinds...)
	return sel
}

// SetAfter sets the inclusive lower date bound, or clears it if t is nil.
func SetAfter(sel engine.Selection, t *time.Time) engine.Selection {
	sel.After = t
	return sel
}

// SetBefore sets the inclusive upper date bound, or clears it if t is nil.
func SetBefore(sel engine.Selection, t *time.Time) engine.Selection {
	sel.Before = t
	return sel
}

// Clear resets every dimension, keeping sel's id.
func Clear(sel engine.Selection) engine.Selection {
	id := sel.ID
	return engine.Selection{ID: id}
}

// Conditions is the predicate set to_query_conditions() hands to the
// Catalog: independent per-dimension filters, ANDed together, each
// dimension itself an OR over its listed values.
type Conditions struct {
	Targets     []string
	Instruments []string
	Filters     []string
	Kinds       []engine.ImageKind
	After       *time.Time
	Before      *time.Time
}

// ToQueryConditions converts sel into the Conditions shape.
// catalog.SearchSessions takes the engine.Selection itself and does not
// use Conditions.
func ToQueryConditions(sel engine.Selection) Conditions {
	return Conditions{
		Targets:     sel.Targets,
		Instruments: sel.Instruments,
		Filters:     sel.Filters,
		Kinds:       sel.Kinds,
		After:       sel.After,
		Before:      sel.Before,
	}
}
