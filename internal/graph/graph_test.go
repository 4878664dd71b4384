package graph

import (
	"path/filepath"
	"testing"
	"time"

	"starbash/internal/catalog"
	"starbash/internal/engine"
)

func TestGuardsSatisfiedFilterList(t *testing.T) {
	b := &Builder{}
	session := engine.SessionRow{Filter: "ha"}
	reqs := []engine.Requirement{{Kind: "filter-in", Value: "ha,oiii,sii"}}
	ok, _, err := b.guardsSatisfied(reqs, session)
	if err != nil || !ok {
		t.Fatalf("expected ha to satisfy filter-in guard, ok=%v err=%v", ok, err)
	}
	session.Filter = "lum"
	ok, _, err = b.guardsSatisfied(reqs, session)
	if err != nil || ok {
		t.Fatalf("expected lum to fail filter-in guard, ok=%v err=%v", ok, err)
	}
}

func TestGuardsSatisfiedNeedsMasterGatesOnAvailability(t *testing.T) {
	store, err := catalog.Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	defer store.Close()

	b := &Builder{Store: store}
	session := engine.SessionRow{
		ID: "s1", Target: "m31", CameraID: "cam-1", Instrument: "scope-1",
		StartAt: time.Now(),
	}
	reqs := []engine.Requirement{{Kind: "needs-master", Value: "dark"}}

	ok, note, err := b.guardsSatisfied(reqs, session)
	if err != nil {
		t.Fatalf("guardsSatisfied: %v", err)
	}
	if ok {
		t.Fatal("expected needs-master guard to fail with no master in the catalog")
	}
	if note == "" {
		t.Fatal("expected an unavailable-master note")
	}
}

func TestResolveAlternativesKeepsHigherPriorityWhen(t *testing.T) {
	needsDark := engine.Stage{LongName: "r/stack", When: "stack", Priority: 10}
	noDarks := engine.Stage{LongName: "r/stack-no-darks", When: "stack", Priority: 1}
	other := engine.Stage{LongName: "r/other", When: "r/other"}

	kept, excluded := resolveAlternatives([]engine.Stage{noDarks, needsDark, other})

	if len(kept) != 2 {
		t.Fatalf("expected 2 surviving stages, got %d", len(kept))
	}
	var names []string
	for _, s := range kept {
		names = append(names, s.LongName)
	}
	if !contains(names, "r/stack") || !contains(names, "r/other") {
		t.Fatalf("expected r/stack and r/other to survive, got %v", names)
	}
	if len(excluded) != 1 || excluded[0].Name != "r/stack-no-darks" {
		t.Fatalf("expected r/stack-no-darks excluded, got %v", excluded)
	}
}

func TestResolveAlternativesPicksNoDarksWhenMasterStageExcludedUpstream(t *testing.T) {
	// Once guardsSatisfied has already excluded the needs-master stage
	// (unavailable master), only the no-darks alternative remains
	// eligible, so it survives resolveAlternatives as the sole member of
	// its When group.
	noDarks := engine.Stage{LongName: "r/stack-no-darks", When: "stack", Priority: 1}

	kept, excluded := resolveAlternatives([]engine.Stage{noDarks})

	if len(kept) != 1 || kept[0].LongName != "r/stack-no-darks" {
		t.Fatalf("expected r/stack-no-darks to survive alone, got %v", kept)
	}
	if len(excluded) != 0 {
		t.Fatalf("expected no exclusions, got %v", excluded)
	}
}

func TestInstantiatePopulatesMastersAndScrubsCoordinates(t *testing.T) {
	store, err := catalog.Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	defer store.Close()

	lat, lon := 45.5, -122.6
	observed := time.Now().Add(-time.Hour)
	err = store.UpsertImage(engine.ImageRecord{
		Path: "dark/cam-1_g100_b1_e300.fits", RepoID: "r1", Kind: engine.KindDark,
		ObservedAt: observed, ExposureSec: 300, Gain: 100, Binning: 1,
		CameraID: "cam-1", Instrument: "scope-1", Width: 4144, Height: 2822,
		Latitude: &lat, Longitude: &lon, StackCount: 1,
	})
	if err != nil {
		t.Fatalf("upsert dark: %v", err)
	}

	b := &Builder{Store: store, CacheRoot: t.TempDir()}
	stage := engine.Stage{
		LongName: "r1/calibrate", Tool: engine.ToolImageTool,
		Output:   []string{"calibrated/{target}/{session_id}.fits"},
		Requires: []engine.Requirement{{Kind: "needs-master", Value: "dark"}},
	}
	session := engine.SessionRow{
		ID: "s1", Target: "m31", CameraID: "cam-1", Instrument: "scope-1",
		ExposureSec: 300, Gain: 100, Binning: 1, Width: 4144, Height: 2822,
		StartAt: observed.Add(time.Minute),
	}

	task, note, err := b.instantiate(stage, session)
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	if note != "" {
		t.Fatalf("expected no unavailable-master note, got %q", note)
	}
	if len(task.Masters) != 1 {
		t.Fatalf("expected one master selection, got %d", len(task.Masters))
	}
	m := task.Masters[0]
	if m.Kind != "dark" || m.Chosen != "dark/cam-1_g100_b1_e300.fits" {
		t.Fatalf("unexpected master selection: %+v", m)
	}
	if len(m.Candidates) != 1 {
		t.Fatalf("expected one ranked candidate, got %d", len(m.Candidates))
	}
	if m.Candidates[0].Record.Latitude != nil || m.Candidates[0].Record.Longitude != nil {
		t.Fatal("expected latitude/longitude to be scrubbed from the audit-bound candidate")
	}
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}

func TestWireDependenciesLinksByOutputEquality(t *testing.T) {
	tasks := []engine.Task{
		{Name: "a", Outputs: []string{"masters/bias/cam-1.fits"}},
		{Name: "b", Inputs: []string{"masters/bias/cam-1.fits"}, Outputs: []string{"calibrated/light-1.fits"}},
	}
	wireDependencies(tasks)
	if len(tasks[1].Upstream) != 1 || tasks[1].Upstream[0] != "a" {
		t.Fatalf("expected task b to depend on task a, got %v", tasks[1].Upstream)
	}
	if len(tasks[0].Upstream) != 0 {
		t.Fatalf("expected task a to have no upstream, got %v", tasks[0].Upstream)
	}
}

func TestCullKeepsHighestPriorityAlternative(t *testing.T) {
	low := engine.Stage{LongName: "r/low", Priority: 1}
	high := engine.Stage{LongName: "r/high", Priority: 10}
	tasks := []engine.Task{
		{Name: "low", Outputs: []string{"out.fits"}, Stage: &low},
		{Name: "high", Outputs: []string{"out.fits"}, Stage: &high},
	}
	kept, excluded := cull(tasks)
	if len(kept) != 1 || kept[0].Name != "high" {
		t.Fatalf("expected high-priority alternative to survive, got %v", kept)
	}
	if len(excluded) != 1 || excluded[0].Name != "low" {
		t.Fatalf("expected low-priority alternative excluded, got %v", excluded)
	}
}

func TestTopoSortDetectsCycle(t *testing.T) {
	tasks := []engine.Task{
		{Name: "a", Upstream: []string{"b"}},
		{Name: "b", Upstream: []string{"a"}},
	}
	_, err := TopoSort(tasks)
	if err == nil {
		t.Fatal("expected a cycle error")
	}
	if _, ok := err.(*engine.GraphCycleError); !ok {
		t.Fatalf("expected *engine.GraphCycleError, got %T", err)
	}
}

func TestTopoSortOrdersUpstreamFirst(t *testing.T) {
	tasks := []engine.Task{
		{Name: "downstream", Upstream: []string{"upstream"}},
		{Name: "upstream"},
	}
	ordered, err := TopoSort(tasks)
	if err != nil {
		t.Fatalf("topo sort: %v", err)
	}
	if ordered[0].Name != "upstream" || ordered[1].Name != "downstream" {
		t.Fatalf("expected upstream before downstream, got %v, %v", ordered[0].Name, ordered[1].Name)
	}
}

func TestValidateRejectsUnsupportedTool(t *testing.T) {
	tasks := []engine.Task{{Name: "a", Tool: engine.ToolKind("unknown")}}
	if err := validate(tasks); err == nil {
		t.Fatal("expected unsupported tool kind to fail validation")
	}
}
