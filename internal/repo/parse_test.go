package repo

import (
	"os"
	"path/filepath"
	"testing"

	"starbash/internal/engine"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestResolveImportsMergesReferencedNode(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "shared.toml", `
[stage.base-calibrate]
tool = "stacker"
priority = 1
`)
	writeFile(t, root, DefaultConfigFile, `
[stage.calibrate-flat]
import = { file = "shared.toml", key = "stage.base-calibrate" }
priority = 7
`)

	repo := engine.Repository{ID: "r1", Root: root, Precedence: 0}
	doc, err := LoadLocal(repo, func(id string) (engine.Repository, error) { return repo, nil })
	if err != nil {
		t.Fatalf("LoadLocal: %v", err)
	}

	stageTable, ok := doc.Root["stage"].(map[string]any)
	if !ok {
		t.Fatal("expected stage table")
	}
	flat, ok := stageTable["calibrate-flat"].(map[string]any)
	if !ok {
		t.Fatal("expected calibrate-flat table")
	}
	if flat["tool"] != "stacker" {
		t.Fatalf("expected imported tool=stacker to merge in, got %v", flat["tool"])
	}
	if flat["priority"] != int64(7) {
		t.Fatalf("expected local priority=7 to win over imported priority=1, got %v", flat["priority"])
	}
}

func TestResolveImportsDetectsCycle(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.toml", `
[x]
import = { file = "b.toml", key = "y" }
`)
	writeFile(t, root, "b.toml", `
[y]
import = { file = "a.toml", key = "x" }
`)
	writeFile(t, root, DefaultConfigFile, `
[entry]
import = { file = "a.toml", key = "x" }
`)

	repo := engine.Repository{ID: "r1", Root: root, Precedence: 0}
	_, err := LoadLocal(repo, func(id string) (engine.Repository, error) { return repo, nil })
	if err == nil {
		t.Fatal("expected ImportCycleError")
	}
	if _, ok := err.(*engine.ImportCycleError); !ok {
		t.Fatalf("expected *engine.ImportCycleError, got %T: %v", err, err)
	}
}

func TestResolveImportsMissingTarget(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, DefaultConfigFile, `
[entry]
import = { file = "missing.toml", key = "x" }
`)
	repo := engine.Repository{ID: "r1", Root: root, Precedence: 0}
	_, err := LoadLocal(repo, func(id string) (engine.Repository, error) { return repo, nil })
	if err == nil {
		t.Fatal("expected an error for a missing import file")
	}
	if _, ok := err.(*engine.MissingFileError); !ok {
		t.Fatalf("expected *engine.MissingFileError, got %T: %v", err, err)
	}
}
