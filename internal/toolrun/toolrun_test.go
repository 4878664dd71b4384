package toolrun

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"starbash/internal/config"
	"starbash/internal/engine"
)

func TestSplitArgsHandlesQuotedSegments(t *testing.T) {
	got := splitArgs(`convert "in put.fits" -resize 50% out.fits`)
	want := []string{"convert", "in put.fits", "-resize", "50%", "out.fits"}
	if len(got) != len(want) {
		t.Fatalf("expected %d args, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("arg %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestBoundedExcerptKeepsHeadAndTail(t *testing.T) {
	var lines []string
	for i := 0; i < 30; i++ {
		lines = append(lines, "frame")
	}
	excerpt := boundedExcerpt(strings.Join(lines, "\n"))
	if !strings.Contains(excerpt, "omitted") {
		t.Fatalf("expected omission marker in excerpt, got %q", excerpt)
	}
	if strings.Count(excerpt, "frame") != 15 {
		t.Fatalf("expected 15 retained lines, got excerpt %q", excerpt)
	}
}

func TestBoundedExcerptPassesShortOutputThrough(t *testing.T) {
	short := "one\ntwo\nthree"
	if got := boundedExcerpt(short); got != short {
		t.Fatalf("expected short output unchanged, got %q", got)
	}
}

func TestRunImageToolFailureProducesToolFailedError(t *testing.T) {
	rt := New(config.Tools{}, 5, nil)
	task := engine.Task{
		Name:    "t1",
		Tool:    engine.ToolImageTool,
		Command: "false",
		WorkDir: t.TempDir(),
	}
	err := rt.Run(context.Background(), task)
	if err == nil {
		t.Fatal("expected an error from a failing command")
	}
	if _, ok := err.(*engine.ToolFailedError); !ok {
		t.Fatalf("expected *engine.ToolFailedError, got %T: %v", err, err)
	}
}

func TestRunImageToolSuccessWritesLogFile(t *testing.T) {
	rt := New(config.Tools{}, 5, nil)
	workDir := t.TempDir()
	task := engine.Task{
		Name:    "t2",
		Tool:    engine.ToolImageTool,
		Command: "true",
		WorkDir: workDir,
	}
	if err := rt.Run(context.Background(), task); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	entries, err := os.ReadDir(workDir)
	if err != nil {
		t.Fatalf("read workdir: %v", err)
	}
	found := false
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".log") {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a per-task log file in the workspace")
	}
}

func TestRunScriptEvaluatesSetAndLog(t *testing.T) {
	workDir := t.TempDir()
	task := engine.Task{
		Name:    "t3",
		Tool:    engine.ToolScript,
		Command: "set doubled = 2 * 3\nlog \"result=\" + doubled",
		Context: engine.ProcessingContext{"target": "m31"},
		WorkDir: workDir,
	}
	rt := New(config.Tools{}, 5, nil)
	if err := rt.Run(context.Background(), task); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	data, err := os.ReadFile(filepath.Join(workDir, sanitizeLogName(task.Name)+".log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "result=6") {
		t.Fatalf("expected logged result=6, got %q", string(data))
	}
}

func TestRunScriptRejectsUndefinedVariable(t *testing.T) {
	task := engine.Task{
		Name:    "t4",
		Tool:    engine.ToolScript,
		Command: "log missing_var",
		Context: engine.ProcessingContext{},
		WorkDir: t.TempDir(),
	}
	rt := New(config.Tools{}, 5, nil)
	if err := rt.Run(context.Background(), task); err == nil {
		t.Fatal("expected an error referencing an undefined variable")
	}
}

func TestPreflightReportsMissingBinary(t *testing.T) {
	statuses := Preflight(config.ToolBinaryConfig{Preferred: "definitely-not-a-real-binary-xyz"})
	st, ok := statuses["definitely-not-a-real-binary-xyz"]
	if !ok {
		t.Fatal("expected a status entry for the preferred binary")
	}
	if st.Available {
		t.Fatal("expected the binary to be reported unavailable")
	}
}

func TestFirstAvailableErrorsWhenNoEntryIsAvailable(t *testing.T) {
	_, err := FirstAvailable(config.ToolBinaryConfig{
		Preferred: "definitely-not-a-real-binary-xyz",
		Fallbacks: []string{"also-not-real"},
	})
	if err == nil {
		t.Fatal("expected an error when no configured binary is available")
	}
}
