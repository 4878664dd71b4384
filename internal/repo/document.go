// Package repo implements the Repository Layer: loading a declarative
// document from each configured repository and merging them by
// precedence into a single queryable view.
package repo

import "starbash/internal/engine"

// Document is one repository's parsed declarative tree, already fully
// import-resolved. It is a plain nested map (TOML's native shape:
// tables, array-of-tables, and scalars) so the shape of a repository
// document is never baked into a Go struct — new stage/tool fields
// show up as ordinary map entries without a schema change here.
type Document struct {
	RepoID string
	Path   string // file the top-level document was parsed from
	Root   map[string]any
}

// Entry is one occurrence of a keyed item across the loaded documents,
// carrying a back-pointer to the repository and file it came from so a
// stage can resolve a relative script path against the right root.
type Entry struct {
	Value      any
	RepoID     string
	SourcePath string
	Precedence int
}

// Union is a precedence-ordered merge over every loaded Document. Items
// are keyed by dotted path (e.g. "stage.calibrate-flat"). Later-loaded
// repositories take precedence at Get, while Union preserves every
// occurrence for callers that need the full ordered multiset.
type Union struct {
	entries map[string][]Entry
	order   []string // keys in first-seen order, for deterministic iteration
	repos   map[string]engine.Repository
}

// NewUnion builds an empty Union ready to accept documents via Merge.
func NewUnion() *Union {
	return &Union{entries: map[string][]Entry{}, repos: map[string]engine.Repository{}}
}

// Merge folds doc's top-level keyed items into u, tagged with repo's
// precedence. Nested tables are merged as whole values at the key they
// are declared under (e.g. "stage.calibrate-flat" for
// `[stage.calibrate-flat]`), matching how stage/tool/recipe documents
// are addressed.
func (u *Union) Merge(doc Document, repo engine.Repository) {
	u.repos[repo.ID] = repo
	for key, val := range doc.Root {
		flattenInto(u, key, val, doc, repo)
	}
}

// flattenInto walks one table value and records an Entry per leaf
// table (a map whose own values are not further tables-of-tables),
// preserving the dotted key path; e.g. `[stage.calibrate-flat]` yields
// key "stage.calibrate-flat" pointing at that table's contents.
func flattenInto(u *Union, prefix string, val any, doc Document, repo engine.Repository) {
	switch v := val.(type) {
	case map[string]any:
		if looksLikeNamedItemTable(v) {
			for name, item := range v {
				u.record(prefix+"."+name, item, doc, repo)
			}
			return
		}
		u.record(prefix, v, doc, repo)
	default:
		u.record(prefix, v, doc, repo)
	}
}

// looksLikeNamedItemTable reports whether v is a table-of-tables (each
// value itself a table or array-of-tables), the TOML shape of
// `[stage.name]` collections, as opposed to a single item's own field
// set.
func looksLikeNamedItemTable(v map[string]any) bool {
	if len(v) == 0 {
		return false
	}
	for _, inner := range v {
		switch inner.(type) {
		case map[string]any, []map[string]any, []any:
			continue
		default:
			return false
		}
	}
	return true
}

func (u *Union) record(key string, value any, doc Document, repo engine.Repository) {
	if _, seen := u.entries[key]; !seen {
		u.order = append(u.order, key)
	}
	u.entries[key] = append(u.entries[key], Entry{
		Value:      value,
		RepoID:     repo.ID,
		SourcePath: doc.Path,
		Precedence: repo.Precedence,
	})
}

// Get returns the last-loaded (highest precedence) entry for key, and
// whether one exists at all.
func (u *Union) Get(key string) (Entry, bool) {
	all, ok := u.entries[key]
	if !ok || len(all) == 0 {
		return Entry{}, false
	}
	best := all[0]
	for _, e := range all[1:] {
		if e.Precedence >= best.Precedence {
			best = e
		}
	}
	return best, true
}

// All returns every occurrence of key across every loaded repository,
// in load order.
func (u *Union) All(key string) []Entry {
	return u.entries[key]
}

// Keys returns every distinct key recorded, in first-seen order.
func (u *Union) Keys() []string {
	return append([]string(nil), u.order...)
}

// RepoRoot returns the resolved filesystem root of repoID, for
// resolving a stage's script-file reference.
func (u *Union) RepoRoot(repoID string) (string, bool) {
	r, ok := u.repos[repoID]
	return r.Root, ok
}
