package repo

import (
	"path/filepath"
	"testing"

	"starbash/internal/engine"
)

func TestRegistryAddRemoveRoundTrip(t *testing.T) {
	reg := NewRegistry(filepath.Join(t.TempDir(), "repos.json"))

	if err := reg.Add(engine.Repository{ID: "r1", Scheme: engine.SchemeLocal, Kind: engine.RepoKindRawSource}); err != nil {
		t.Fatalf("add: %v", err)
	}
	repos, err := reg.Load()
	if err != nil || len(repos) != 1 || repos[0].ID != "r1" {
		t.Fatalf("expected one repo r1, got %v err=%v", repos, err)
	}

	if err := reg.Add(engine.Repository{ID: "r1"}); err == nil {
		t.Fatal("expected duplicate id to be rejected")
	}

	if err := reg.Remove("r1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	repos, err = reg.Load()
	if err != nil || len(repos) != 0 {
		t.Fatalf("expected empty list after remove, got %v err=%v", repos, err)
	}

	if err := reg.Remove("missing"); err == nil {
		t.Fatal("expected removing an unconfigured id to error")
	}
}
