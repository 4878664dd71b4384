package selection

import (
	"path/filepath"
	"testing"
	"time"

	"starbash/internal/engine"
)

func TestStoreLoadReturnsEmptySelectionWhenFileMissing(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "selection.json"))
	sel, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !sel.Empty() {
		t.Fatal("expected a fresh selection to be empty")
	}
	if sel.ID == "" {
		t.Fatal("expected a generated id")
	}
}

func TestStoreRoundTrip(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "selection.json"))
	sel := New()
	sel = SetTargets(sel, []string{"m31", "m42"})
	sel = SetKinds(sel, []engine.ImageKind{engine.KindLight})
	after := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sel = SetAfter(sel, &after)

	if err := store.Save(sel); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.Targets) != 2 || loaded.Targets[0] != "m31" {
		t.Fatalf("unexpected targets after round trip: %v", loaded.Targets)
	}
	if loaded.After == nil || !loaded.After.Equal(after) {
		t.Fatalf("unexpected After after round trip: %v", loaded.After)
	}
	if loaded.ID != sel.ID {
		t.Fatalf("expected id to survive round trip, got %s want %s", loaded.ID, sel.ID)
	}
}

func TestClearKeepsID(t *testing.T) {
	sel := New()
	sel = SetTargets(sel, []string{"m31"})
	cleared := Clear(sel)
	if !cleared.Empty() {
		t.Fatal("expected cleared selection to be empty")
	}
	if cleared.ID != sel.ID {
		t.Fatal("expected Clear to preserve the selection id")
	}
}
