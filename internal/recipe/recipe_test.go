package recipe

import (
	"testing"

	"starbash/internal/engine"
	"starbash/internal/repo"
)

func TestMaterializeDecodesStage(t *testing.T) {
	u := repo.NewUnion()
	u.Merge(repo.Document{RepoID: "base", Path: "base.toml", Root: map[string]any{
		"stage": map[string]any{
			"master-bias": map[string]any{
				"tool":     "stacker",
				"priority": int64(10),
				"input":    map[string]any{"glob": "bias/*.fits"},
				"output":   []any{"masters/bias/{camera_id}.fits"},
			},
		},
	}}, engine.Repository{ID: "base", Precedence: 0})

	stages, _, err := Materialize(u)
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if len(stages) != 1 {
		t.Fatalf("expected 1 stage, got %d", len(stages))
	}
	s := stages[0]
	if s.Tool != engine.ToolStacker {
		t.Fatalf("expected tool=stacker, got %v", s.Tool)
	}
	if s.Input.Glob != "bias/*.fits" {
		t.Fatalf("expected glob input, got %q", s.Input.Glob)
	}
	if len(s.Output) != 1 || s.Output[0] != "masters/bias/{camera_id}.fits" {
		t.Fatalf("unexpected output: %v", s.Output)
	}
	if s.Priority != 10 {
		t.Fatalf("expected priority 10, got %d", s.Priority)
	}
	if s.LongName != "base/master-bias" {
		t.Fatalf("unexpected long name: %s", s.LongName)
	}
}

func TestExpandTemplateResolvesNestedPlaceholders(t *testing.T) {
	ctx := engine.ProcessingContext{
		"camera_id": "cam-1",
		"work_dir":  "/cache/{target}",
		"target":    "m31",
	}
	got, err := ExpandTemplate(ctx, "{work_dir}/{camera_id}.fits")
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if got != "/cache/m31/cam-1.fits" {
		t.Fatalf("unexpected expansion: %q", got)
	}
}

func TestExpandTemplateReturnsUnresolvedError(t *testing.T) {
	ctx := engine.ProcessingContext{}
	_, err := ExpandTemplate(ctx, "{missing}.fits")
	if err == nil {
		t.Fatal("expected an unresolved template error")
	}
	if _, ok := err.(*engine.UnresolvedTemplateError); !ok {
		t.Fatalf("expected *engine.UnresolvedTemplateError, got %T", err)
	}
}
