package starbash

import (
	"testing"

	"starbash/internal/engine"
)

func TestMasterClosureKeepsUpstreamOfMasterTasks(t *testing.T) {
	tasks := []engine.Task{
		{Name: "prep", Outputs: []string{"work/bias-1.fits"}},
		{Name: "stack-master-bias", Upstream: []string{"prep"}, Outputs: []string{"masters/cam-1/master-bias.fits"}},
		{Name: "calibrate-light", Upstream: []string{"stack-master-bias"}, Outputs: []string{"calibrated/light-1.fits"}},
	}

	kept := masterClosure(tasks)

	names := map[string]bool{}
	for _, t := range kept {
		names[t.Name] = true
	}
	if !names["prep"] || !names["stack-master-bias"] {
		t.Fatalf("expected prep and stack-master-bias kept, got %v", names)
	}
	if names["calibrate-light"] {
		t.Fatal("expected calibrate-light excluded from a masters-only build")
	}
}

func TestMasterKindForPath(t *testing.T) {
	cases := map[string]engine.ImageKind{
		"masters/cam-1/flat/master-flat.fits":  engine.KindMasterFlat,
		"masters/cam-1/dark/master-dark.fits":  engine.KindMasterDark,
		"masters/cam-1/bias/master-bias.fits":  engine.KindMasterBias,
		"calibrated/target/light-1.fits":       "",
	}
	for path, want := range cases {
		if got := masterKindForPath(path); got != want {
			t.Errorf("masterKindForPath(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestToStringSlice(t *testing.T) {
	got := toStringSlice([]any{"h-alpha", "ha"})
	if len(got) != 2 || got[0] != "h-alpha" || got[1] != "ha" {
		t.Fatalf("unexpected conversion: %v", got)
	}
	if toStringSlice(42) != nil {
		t.Fatal("expected nil for a non-slice value")
	}
}

func TestReportExitCode(t *testing.T) {
	ok := Report{Rows: []ReportRow{{Status: engine.StatusSucceeded}, {Status: engine.StatusSkippedUpToDate}}}
	if ok.ExitCode() != 0 {
		t.Fatalf("expected exit code 0, got %d", ok.ExitCode())
	}
	bad := Report{Rows: []ReportRow{{Status: engine.StatusSucceeded}, {Status: engine.StatusFailed}}}
	if bad.ExitCode() != 1 {
		t.Fatalf("expected exit code 1, got %d", bad.ExitCode())
	}
}
