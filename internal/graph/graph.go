// Package graph implements the Task Graph Builder: it expands the
// materialized Stage set over selected targets/sessions into candidate
// Tasks according to each stage's Multiplex mode, resolves same-When
// alternatives and conflicting outputs down to one survivor, wires
// dependencies by output/input path equality, backfills
// master-generation tasks, and validates the result as an acyclic
// graph ready for the executor.
package graph

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"starbash/internal/calibration"
	"starbash/internal/catalog"
	"starbash/internal/engine"
	"starbash/internal/recipe"
)

// graceWindow mirrors the calibration package's master eligibility
// window; rankMasters queries the catalog with the same bound.
const graceWindow = 24 * time.Hour

// ExcludedCandidate records a task that lost culling, with the reason
// it did not survive, for the target's audit record.
type ExcludedCandidate struct {
	Name   string
	Reason string
}

// Result is everything the Build phase produces for one run.
type Result struct {
	Tasks    []engine.Task
	Excluded []ExcludedCandidate
	Notes    []string // e.g. "unavailable-master" notes, not fatal
}

// Builder has the dependencies Build needs to resolve calibration
// candidates and seed a ProcessingContext.
type Builder struct {
	Store     *catalog.Store
	CacheRoot string
}

// Build runs the five build-phase steps in order: instantiate
// candidates, wire dependencies, cull alternatives, backfill masters,
// validate the DAG.
func (b *Builder) Build(sel engine.Selection, stages []engine.Stage) (Result, error) {
	var result Result

	lightSessions, err := b.Store.SearchSessions(sel, engine.KindLight)
	if err != nil {
		return result, fmt.Errorf("graph build: search sessions: %w", err)
	}

	perSession, perTarget, single := splitByMultiplex(stages)

	var candidates []engine.Task
	for _, session := range lightSessions {
		eligible, notes, err := b.eligibleStages(perSession, session)
		if err != nil {
			return result, err
		}
		result.Notes = append(result.Notes, notes...)

		eligible, whenExcluded := resolveAlternatives(eligible)
		result.Excluded = append(result.Excluded, whenExcluded...)

		if len(eligible) == 0 {
			result.Notes = append(result.Notes,
				fmt.Sprintf("target %s session %s: no eligible stage", session.Target, session.ID))
			continue
		}
		for _, stage := range eligible {
			task, note, err := b.instantiate(stage, session)
			if err != nil {
				return result, err
			}
			if note != "" {
				result.Notes = append(result.Notes, note)
			}
			candidates = append(candidates, task)
		}
	}

	byTarget := groupSessionsByTarget(lightSessions)
	targets := make([]string, 0, len(byTarget))
	for t := range byTarget {
		targets = append(targets, t)
	}
	sort.Strings(targets)

	for _, stage := range perTarget {
		for _, target := range targets {
			matching, notes, err := b.sessionsSatisfying(stage, byTarget[target])
			if err != nil {
				return result, err
			}
			result.Notes = append(result.Notes, notes...)
			if len(matching) == 0 {
				continue
			}
			task, note, err := b.instantiateForTarget(stage, target, matching)
			if err != nil {
				return result, err
			}
			if note != "" {
				result.Notes = append(result.Notes, note)
			}
			candidates = append(candidates, task)
		}
	}

	for _, stage := range single {
		matching, notes, err := b.sessionsSatisfying(stage, lightSessions)
		if err != nil {
			return result, err
		}
		result.Notes = append(result.Notes, notes...)
		if len(matching) == 0 {
			continue
		}
		task, note, err := b.instantiateForTarget(stage, "", matching)
		if err != nil {
			return result, err
		}
		if note != "" {
			result.Notes = append(result.Notes, note)
		}
		candidates = append(candidates, task)
	}

	wireDependencies(candidates)

	kept, excluded := cull(candidates)
	result.Excluded = append(result.Excluded, excluded...)

	kept, backfillNotes, err := b.backfillMasters(kept, stages)
	if err != nil {
		return result, err
	}
	result.Notes = append(result.Notes, backfillNotes...)

	wireDependencies(kept)

	if err := validate(kept); err != nil {
		return result, err
	}

	result.Tasks = kept
	return result, nil
}

// eligibleStages returns the stages whose guards pass for session. A
// needs-master requirement whose master can't be resolved excludes the
// stage outright (with a note), rather than leaving the candidate to
// instantiate with an unset context variable — that is what lets a
// same-`When` no-master alternative win resolveAlternatives instead.
func (b *Builder) eligibleStages(stages []engine.Stage, session engine.SessionRow) ([]engine.Stage, []string, error) {
	var out []engine.Stage
	var notes []string
	for _, s := range stages {
		ok, note, err := b.guardsSatisfied(s.Requires, session)
		if err != nil {
			return nil, nil, err
		}
		if note != "" {
			notes = append(notes, fmt.Sprintf("target %s session %s: %s", session.Target, session.ID, note))
		}
		if ok {
			out = append(out, s)
		}
	}
	return out, notes, nil
}

func (b *Builder) guardsSatisfied(reqs []engine.Requirement, s engine.SessionRow) (bool, string, error) {
	for _, r := range reqs {
		switch r.Kind {
		case "instrument":
			if s.Instrument != r.Value {
				return false, "", nil
			}
		case "filter-in":
			if !filterListContains(r.Value, s.Filter) {
				return false, "", nil
			}
		case "kind":
			if string(s.Kind) != r.Value {
				return false, "", nil
			}
		case "needs-master":
			_, found, err := b.resolveMaster(s, calibration.Kind(r.Value))
			if err != nil {
				return false, "", err
			}
			if !found {
				return false, fmt.Sprintf("unavailable-master %s", r.Value), nil
			}
		}
	}
	return true, "", nil
}

// sessionsSatisfying filters sessions down to those whose guards pass
// for stage, for a per-target or single multiplex stage that must pick
// a representative subset of sessions to aggregate over.
func (b *Builder) sessionsSatisfying(stage engine.Stage, sessions []engine.SessionRow) ([]engine.SessionRow, []string, error) {
	var out []engine.SessionRow
	var notes []string
	for _, s := range sessions {
		ok, note, err := b.guardsSatisfied(stage.Requires, s)
		if err != nil {
			return nil, nil, err
		}
		if note != "" {
			notes = append(notes, fmt.Sprintf("target %s session %s: %s", s.Target, s.ID, note))
		}
		if ok {
			out = append(out, s)
		}
	}
	return out, notes, nil
}

// splitByMultiplex partitions stages by their Multiplex mode: per
// session (the default), per target, or a single instance across the
// whole build.
func splitByMultiplex(stages []engine.Stage) (perSession, perTarget, single []engine.Stage) {
	for _, s := range stages {
		switch s.Multiplex {
		case engine.MultiplexPerTarget:
			perTarget = append(perTarget, s)
		case engine.MultiplexSingle:
			single = append(single, s)
		default:
			perSession = append(perSession, s)
		}
	}
	return perSession, perTarget, single
}

func groupSessionsByTarget(sessions []engine.SessionRow) map[string][]engine.SessionRow {
	out := map[string][]engine.SessionRow{}
	for _, s := range sessions {
		out[s.Target] = append(out[s.Target], s)
	}
	return out
}

// resolveAlternatives keeps, for each distinct When value among
// stages, only the highest-priority stage sharing it; When defaults to
// a stage's own name (see decodeStage), so this only groups stages
// that explicitly declare themselves alternatives of one another (e.g.
// a needs-master stage and its no-master fallback). The losers are
// reported as excluded candidates, matching cull's output.
func resolveAlternatives(stages []engine.Stage) ([]engine.Stage, []ExcludedCandidate) {
	groups := map[string][]engine.Stage{}
	var order []string
	for _, s := range stages {
		if _, ok := groups[s.When]; !ok {
			order = append(order, s.When)
		}
		groups[s.When] = append(groups[s.When], s)
	}

	var kept []engine.Stage
	var excluded []ExcludedCandidate
	for _, when := range order {
		group := groups[when]
		if len(group) == 1 {
			kept = append(kept, group[0])
			continue
		}
		sort.SliceStable(group, func(i, j int) bool { return group[i].Priority > group[j].Priority })
		kept = append(kept, group[0])
		for _, loser := range group[1:] {
			excluded = append(excluded, ExcludedCandidate{
				Name:   loser.LongName,
				Reason: fmt.Sprintf("alternative for %q already satisfied by higher-priority stage %s", when, group[0].LongName),
			})
		}
	}
	return kept, excluded
}

func filterListContains(commaList, filter string) bool {
	for _, f := range strings.Split(commaList, ",") {
		if strings.TrimSpace(f) == filter {
			return true
		}
	}
	return false
}

// instantiate expands stage against session into one candidate Task,
// seeding the ProcessingContext with target/session identity, a work
// directory under the cache root, and any masters the stage's guards
// request from the Calibration Selector.
func (b *Builder) instantiate(stage engine.Stage, session engine.SessionRow) (engine.Task, string, error) {
	ctx := engine.ProcessingContext{
		"target":     session.Target,
		"session_id": session.ID,
		"camera_id":  session.CameraID,
		"instrument": session.Instrument,
		"filter":     session.Filter,
		"work_dir":   filepath.Join(b.CacheRoot, sanitizeTarget(session.Target)),
	}

	var note string
	var masters []engine.MasterSelection
	for _, req := range stage.Requires {
		if req.Kind != "needs-master" {
			continue
		}
		ranked, err := b.rankMasters(session, calibration.Kind(req.Value))
		if err != nil {
			return engine.Task{}, "", err
		}
		if len(ranked) == 0 {
			note = fmt.Sprintf("target %s session %s: unavailable-master %s", session.Target, session.ID, req.Value)
			continue
		}
		chosen := ranked[0]
		ctx["master_"+req.Value+"_path"] = chosen.Record.Path
		masters = append(masters, engine.MasterSelection{
			Kind:       req.Value,
			Chosen:     chosen.Record.Path,
			Candidates: scrubCandidates(ranked),
		})
	}

	name := fmt.Sprintf("%s_%s_%s", stage.LongName, sanitizeTarget(session.Target), session.ID)

	outputs, err := recipe.ExpandOutputs(ctx, stage)
	if err != nil {
		return engine.Task{}, "", err
	}

	var inputs []string
	if stage.Input.Glob != "" {
		glob, err := recipe.ExpandTemplate(ctx, stage.Input.Glob)
		if err != nil {
			return engine.Task{}, "", err
		}
		inputs = append(inputs, glob)
	}
	for _, f := range stage.Input.Files {
		expanded, err := recipe.ExpandTemplate(ctx, f)
		if err != nil {
			return engine.Task{}, "", err
		}
		inputs = append(inputs, expanded)
	}

	for k, v := range stage.Context {
		ctx[k] = v
	}

	task := engine.Task{
		Name:       name,
		Target:     session.Target,
		SessionIDs: []string{session.ID},
		Stage:      &stage,
		Inputs:     inputs,
		Outputs:    outputs,
		Tool:       stage.Tool,
		Context:    ctx,
		WorkDir:    ctx["work_dir"],
		MinOutputs: stage.MinOutputs,
		TimeoutSec: stage.TimeoutSec,
		Status:     engine.StatusPending,
		Note:       note,
		Masters:    masters,
	}
	return task, note, nil
}

// instantiateForTarget expands a per-target or single-multiplex stage
// once across every session in sessions, unioning each session's
// expanded inputs into the one task's Inputs. That union is what lets
// e.g. three per-filter stacked channels combine into one downstream
// step: each filter's session contributes its own expanded input path,
// and wireDependencies links all three to this one task.
func (b *Builder) instantiateForTarget(stage engine.Stage, target string, sessions []engine.SessionRow) (engine.Task, string, error) {
	if len(sessions) == 0 {
		return engine.Task{}, "", fmt.Errorf("instantiate %s: no sessions for target %s", stage.LongName, target)
	}
	primary := sessions[0]

	ctx := engine.ProcessingContext{
		"target":     target,
		"camera_id":  primary.CameraID,
		"instrument": primary.Instrument,
		"work_dir":   filepath.Join(b.CacheRoot, sanitizeTarget(target)),
	}

	var note string
	var masters []engine.MasterSelection
	var sessionIDs []string
	var inputs []string
	seenInput := map[string]bool{}

	for _, session := range sessions {
		sessionIDs = append(sessionIDs, session.ID)

		sessionCtx := make(engine.ProcessingContext, len(ctx)+2)
		for k, v := range ctx {
			sessionCtx[k] = v
		}
		sessionCtx["session_id"] = session.ID
		sessionCtx["filter"] = session.Filter

		for _, req := range stage.Requires {
			if req.Kind != "needs-master" {
				continue
			}
			ranked, err := b.rankMasters(session, calibration.Kind(req.Value))
			if err != nil {
				return engine.Task{}, "", err
			}
			if len(ranked) == 0 {
				note = fmt.Sprintf("target %s session %s: unavailable-master %s", target, session.ID, req.Value)
				continue
			}
			chosen := ranked[0]
			sessionCtx["master_"+req.Value+"_path"] = chosen.Record.Path
			masters = append(masters, engine.MasterSelection{
				Kind:       req.Value,
				Chosen:     chosen.Record.Path,
				Candidates: scrubCandidates(ranked),
			})
		}

		if stage.Input.Glob != "" {
			expanded, err := recipe.ExpandTemplate(sessionCtx, stage.Input.Glob)
			if err != nil {
				return engine.Task{}, "", err
			}
			if !seenInput[expanded] {
				seenInput[expanded] = true
				inputs = append(inputs, expanded)
			}
		}
		for _, f := range stage.Input.Files {
			expanded, err := recipe.ExpandTemplate(sessionCtx, f)
			if err != nil {
				return engine.Task{}, "", err
			}
			if !seenInput[expanded] {
				seenInput[expanded] = true
				inputs = append(inputs, expanded)
			}
		}
	}

	for k, v := range stage.Context {
		ctx[k] = v
	}

	outputs, err := recipe.ExpandOutputs(ctx, stage)
	if err != nil {
		return engine.Task{}, "", err
	}

	name := fmt.Sprintf("%s_%s", stage.LongName, sanitizeTarget(target))

	task := engine.Task{
		Name:       name,
		Target:     target,
		SessionIDs: sessionIDs,
		Stage:      &stage,
		Inputs:     inputs,
		Outputs:    outputs,
		Tool:       stage.Tool,
		Context:    ctx,
		WorkDir:    ctx["work_dir"],
		MinOutputs: stage.MinOutputs,
		TimeoutSec: stage.TimeoutSec,
		Status:     engine.StatusPending,
		Note:       note,
		Masters:    masters,
	}
	return task, note, nil
}

// rankMasters asks the Calibration Selector for every candidate master
// of kind eligible for session, best first, using the catalog as the
// candidate pool.
func (b *Builder) rankMasters(session engine.SessionRow, kind calibration.Kind) ([]engine.ScoredCandidate, error) {
	masterKind := masterKindFor(kind)
	candidates, err := b.Store.FindCandidates(masterKind, session.CameraID, session.Instrument, session.Filter,
		session.Width, session.Height, -1, session.Binning, session.ExposureSec,
		session.StartAt.Add(graceWindow))
	if err != nil {
		return nil, fmt.Errorf("resolve master %s: %w", kind, err)
	}
	if kind == calibration.DarkOrBias {
		biases, err := b.Store.FindCandidates(engine.KindBias, session.CameraID, session.Instrument, session.Filter,
			session.Width, session.Height, -1, session.Binning, session.ExposureSec,
			session.StartAt.Add(graceWindow))
		if err != nil {
			return nil, fmt.Errorf("resolve master %s: %w", kind, err)
		}
		candidates = append(candidates, biases...)
	}
	return calibration.Rank(session, kind, candidates), nil
}

// resolveMaster reports whether session has at least one eligible
// master of kind, and its path if so.
func (b *Builder) resolveMaster(session engine.SessionRow, kind calibration.Kind) (string, bool, error) {
	ranked, err := b.rankMasters(session, kind)
	if err != nil {
		return "", false, err
	}
	if len(ranked) == 0 {
		return "", false, nil
	}
	return ranked[0].Record.Path, true, nil
}

// scrubCandidates strips optional site coordinates from each
// candidate's record before it crosses into the audit record, which is
// written to disk and may be shared.
func scrubCandidates(ranked []engine.ScoredCandidate) []engine.ScoredCandidate {
	out := make([]engine.ScoredCandidate, len(ranked))
	for i, c := range ranked {
		rec := c.Record
		rec.Latitude = nil
		rec.Longitude = nil
		out[i] = engine.ScoredCandidate{Record: rec, Score: c.Score, Rationale: c.Rationale}
	}
	return out
}

func masterKindFor(kind calibration.Kind) engine.ImageKind {
	switch kind {
	case calibration.Flat:
		return engine.KindFlat
	case calibration.Dark, calibration.DarkOrBias:
		return engine.KindDark
	case calibration.Bias:
		return engine.KindBias
	default:
		return ""
	}
}

func sanitizeTarget(target string) string {
	return strings.ReplaceAll(strings.ToLower(target), " ", "-")
}

// wireDependencies links each task's Upstream names by string equality
// between its Inputs and other tasks' Outputs.
func wireDependencies(tasks []engine.Task) {
	byOutput := map[string]string{}
	for _, t := range tasks {
		for _, o := range t.Outputs {
			byOutput[o] = t.Name
		}
	}
	for i := range tasks {
		tasks[i].Upstream = nil
		seen := map[string]bool{}
		for _, in := range tasks[i].Inputs {
			producer, ok := byOutput[in]
			if !ok || producer == tasks[i].Name || seen[producer] {
				continue
			}
			seen[producer] = true
			tasks[i].Upstream = append(tasks[i].Upstream, producer)
		}
	}
}

// cull groups candidates by their first declared output path and keeps
// the one whose stage has the highest priority; the rest are excluded
// with a reason. Whether a candidate's own upstream inputs can be
// produced is not checked here.
func cull(tasks []engine.Task) ([]engine.Task, []ExcludedCandidate) {
	groups := map[string][]engine.Task{}
	var order []string
	for _, t := range tasks {
		key := ""
		if len(t.Outputs) > 0 {
			key = t.Outputs[0]
		} else {
			key = t.Name
		}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], t)
	}

	var kept []engine.Task
	var excluded []ExcludedCandidate
	for _, key := range order {
		group := groups[key]
		if len(group) == 1 {
			kept = append(kept, group[0])
			continue
		}
		sort.SliceStable(group, func(i, j int) bool {
			pi, pj := 0, 0
			if group[i].Stage != nil {
				pi = group[i].Stage.Priority
			}
			if group[j].Stage != nil {
				pj = group[j].Stage.Priority
			}
			return pi > pj
		})
		kept = append(kept, group[0])
		for _, loser := range group[1:] {
			excluded = append(excluded, ExcludedCandidate{
				Name:   loser.Name,
				Reason: fmt.Sprintf("output %s already produced by higher-priority stage %s", key, group[0].Name),
			})
		}
	}
	return kept, excluded
}

// backfillMasters synthesizes a master-generation task, reusing the
// matching stage, for any surviving task's input that names a master
// path not produced by a task. The catalog is not consulted, so a
// master that is already cataloged is backfilled all the same when a
// stage declares its path as a literal output. The synthesized task
// has no inputs, and no single-frame copy shortcut is applied.
func (b *Builder) backfillMasters(tasks []engine.Task, stages []engine.Stage) ([]engine.Task, []string, error) {
	byOutput := map[string]bool{}
	for _, t := range tasks {
		for _, o := range t.Outputs {
			byOutput[o] = true
		}
	}

	var notes []string
	var added []engine.Task
	seen := map[string]bool{}

	for _, t := range tasks {
		for _, in := range t.Inputs {
			if byOutput[in] || seen[in] || !looksLikeMasterPath(in) {
				continue
			}
			stage := findStageProducing(stages, in)
			if stage == nil {
				continue
			}
			seen[in] = true
			backfillTask := engine.Task{
				Name:       stage.LongName + "_backfill_" + in,
				Target:     t.Target,
				Stage:      stage,
				Outputs:    []string{in},
				Tool:       stage.Tool,
				Context:    engine.ProcessingContext{"target": t.Target, "work_dir": t.WorkDir},
				WorkDir:    t.WorkDir,
				MinOutputs: stage.MinOutputs,
				TimeoutSec: stage.TimeoutSec,
				Status:     engine.StatusPending,
			}
			added = append(added, backfillTask)
			notes = append(notes, fmt.Sprintf("backfilled master %s via stage %s", in, stage.LongName))
		}
	}
	return append(tasks, added...), notes, nil
}

func looksLikeMasterPath(path string) bool {
	return strings.Contains(path, "master")
}

// IsMasterTask reports whether t produces a master frame, used by the
// driver's process-masters trigger to restrict a build to master
// generation only.
func IsMasterTask(t engine.Task) bool {
	for _, o := range t.Outputs {
		if looksLikeMasterPath(o) {
			return true
		}
	}
	return false
}

func findStageProducing(stages []engine.Stage, output string) *engine.Stage {
	for i, s := range stages {
		for _, o := range s.Output {
			if strings.Contains(o, "{") {
				continue
			}
			if o == output {
				return &stages[i]
			}
		}
	}
	return nil
}

// validate checks the resulting DAG has no cycles and that every
// task's tool kind is one the Tool Runtime supports.
func validate(tasks []engine.Task) error {
	if _, err := TopoSort(tasks); err != nil {
		return err
	}
	for _, t := range tasks {
		switch t.Tool {
		case engine.ToolStacker, engine.ToolImageTool, engine.ToolScript:
		default:
			return &engine.MissingInputsError{Task: t.Name, Inputs: []string{"unsupported tool kind " + string(t.Tool)}}
		}
	}
	return nil
}

// TopoSort returns tasks ordered so every task appears after its
// Upstream dependencies, or a *engine.GraphCycleError if the Upstream
// edges are not acyclic. Ties among equally-ready tasks break by name,
// matching the executor's deterministic rerun ordering requirement.
func TopoSort(tasks []engine.Task) ([]engine.Task, error) {
	byName := map[string]engine.Task{}
	for _, t := range tasks {
		byName[t.Name] = t
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[string]int{}
	var order []engine.Task
	var stack []string

	var visit func(name string) error
	visit = func(name string) error {
		switch color[name] {
		case black:
			return nil
		case gray:
			cycle := append(append([]string{}, stack...), name)
			return &engine.GraphCycleError{Cycle: cycle}
		}
		t, ok := byName[name]
		if !ok {
			return nil
		}
		color[name] = gray
		stack = append(stack, name)

		upstream := append([]string{}, t.Upstream...)
		sort.Strings(upstream)
		for _, up := range upstream {
			if err := visit(up); err != nil {
				return err
			}
		}

		stack = stack[:len(stack)-1]
		color[name] = black
		order = append(order, t)
		return nil
	}

	names := make([]string, 0, len(tasks))
	for _, t := range tasks {
		names = append(names, t.Name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return order, nil
}
