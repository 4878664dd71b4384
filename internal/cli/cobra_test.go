package cli

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"testing"

	"starbash/internal/config"
	"starbash/internal/starbash"
)

func newTestRoot(t *testing.T) *Root {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.EngineConfig{
		UserIdentity: "test",
		Paths: config.Paths{
			UserDataRoot:  filepath.Join(dir, "data"),
			UserConfig:    filepath.Join(dir, "config"),
			CacheRoot:     filepath.Join(dir, "cache"),
			DocumentsRoot: filepath.Join(dir, "documents"),
		},
		Processing: config.Processing{Concurrency: 1, DefaultTimeoutSec: 30},
	}
	log := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	eng, err := starbash.New(cfg, log)
	if err != nil {
		t.Fatalf("assemble engine: %v", err)
	}
	t.Cleanup(func() { eng.Close() })
	return NewRoot(eng, log)
}

func TestSelectionShowAndClearRoundTrip(t *testing.T) {
	root := newTestRoot(t)
	cmd := NewRootCmd(root)

	cmd.SetArgs([]string{"selection", "targets", "m31", "m42"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("set targets: %v", err)
	}

	sel, err := root.engine.CurrentSelection()
	if err != nil {
		t.Fatalf("current selection: %v", err)
	}
	if len(sel.Targets) != 2 || sel.Targets[0] != "m31" {
		t.Fatalf("expected targets [m31 m42], got %v", sel.Targets)
	}

	cmd = NewRootCmd(root)
	cmd.SetArgs([]string{"selection", "clear"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("clear selection: %v", err)
	}
	sel, err = root.engine.CurrentSelection()
	if err != nil {
		t.Fatalf("current selection: %v", err)
	}
	if !sel.Empty() {
		t.Fatalf("expected empty selection after clear, got %+v", sel)
	}
}

func TestRepoAddRejectsDuplicateID(t *testing.T) {
	root := newTestRoot(t)
	repoRoot := t.TempDir()

	cmd := NewRootCmd(root)
	cmd.SetArgs([]string{"repo", "add", "r1", repoRoot, "--kind", "recipe"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("first add: %v", err)
	}

	cmd = NewRootCmd(root)
	cmd.SilenceErrors = true
	cmd.SetArgs([]string{"repo", "add", "r1", repoRoot, "--kind", "recipe"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error adding duplicate repository id")
	}
}

func TestInfoTargetsEmptyCatalog(t *testing.T) {
	root := newTestRoot(t)
	cmd := NewRootCmd(root)
	cmd.SetArgs([]string{"info", "targets"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("info targets: %v", err)
	}
}
