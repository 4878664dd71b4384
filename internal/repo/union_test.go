package repo

import (
	"testing"

	"starbash/internal/engine"
)

func TestUnionGetReturnsHighestPrecedence(t *testing.T) {
	u := NewUnion()
	low := engine.Repository{ID: "base", Precedence: 0}
	high := engine.Repository{ID: "site", Precedence: 10}

	u.Merge(Document{RepoID: low.ID, Path: "base.toml", Root: map[string]any{
		"stage": map[string]any{"calibrate-flat": map[string]any{"priority": 1}},
	}}, low)
	u.Merge(Document{RepoID: high.ID, Path: "site.toml", Root: map[string]any{
		"stage": map[string]any{"calibrate-flat": map[string]any{"priority": 99}},
	}}, high)

	e, ok := u.Get("stage.calibrate-flat")
	if !ok {
		t.Fatal("expected entry for stage.calibrate-flat")
	}
	item, _ := e.Value.(map[string]any)
	if item["priority"] != 99 {
		t.Fatalf("expected higher-precedence repo to win, got %v", item["priority"])
	}
	if e.RepoID != "site" {
		t.Fatalf("expected winning entry's RepoID = site, got %s", e.RepoID)
	}
}

func TestUnionAllPreservesEveryOccurrence(t *testing.T) {
	u := NewUnion()
	a := engine.Repository{ID: "a", Precedence: 0}
	b := engine.Repository{ID: "b", Precedence: 1}

	u.Merge(Document{RepoID: a.ID, Path: "a.toml", Root: map[string]any{
		"stage": map[string]any{"x": map[string]any{"priority": 1}},
	}}, a)
	u.Merge(Document{RepoID: b.ID, Path: "b.toml", Root: map[string]any{
		"stage": map[string]any{"x": map[string]any{"priority": 2}},
	}}, b)

	all := u.All("stage.x")
	if len(all) != 2 {
		t.Fatalf("expected 2 occurrences, got %d", len(all))
	}
}
