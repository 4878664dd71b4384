// Package starbash is the driver-facing facade: it wires the Metadata
// Catalog, Repository Layer, Selection, Recipe/Stage materialization,
// Task Graph Builder, Incremental Executor, and Tool Runtime into the
// narrow operation set a CLI or server sits on top of, one constructor
// assembling every component the way a job-queue pipeline assembles
// its own dependencies.
package starbash

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"starbash/internal/catalog"
	"starbash/internal/config"
	"starbash/internal/engine"
	"starbash/internal/executor"
	"starbash/internal/graph"
	"starbash/internal/recipe"
	"starbash/internal/repo"
	"starbash/internal/selection"
	"starbash/internal/toolrun"
)

// Engine is the assembled, ready-to-drive instance of every component.
type Engine struct {
	Config     *config.EngineConfig
	Log        *slog.Logger
	Catalog    *catalog.Store
	Registry   *repo.Registry
	Selection  *selection.Store
	Loader     *repo.Loader
	Signatures *executor.SignatureStore
	Runtime    *toolrun.Runtime
	Executor   *executor.Executor
}

// New opens every persistent store under cfg's configured paths and
// assembles an Engine. Callers must call Close when done.
func New(cfg *config.EngineConfig, log *slog.Logger) (*Engine, error) {
	if err := os.MkdirAll(cfg.Paths.UserDataRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create user data root: %w", err)
	}
	if err := os.MkdirAll(cfg.Paths.CacheRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create cache root: %w", err)
	}

	cat, err := catalog.Open(filepath.Join(cfg.Paths.UserDataRoot, "catalog.db"))
	if err != nil {
		return nil, err
	}

	signatures, err := executor.OpenSignatureStore(filepath.Join(cfg.Paths.CacheRoot, "signatures.db"))
	if err != nil {
		cat.Close()
		return nil, err
	}

	registry := repo.NewRegistry(filepath.Join(cfg.Paths.UserConfig, "repos.json"))
	selStore := selection.NewStore(filepath.Join(cfg.Paths.UserDataRoot, "selection.json"))
	loader := repo.NewLoader(filepath.Join(cfg.Paths.CacheRoot, "remote"), log)
	runtime := toolrun.New(cfg.Tools, cfg.Processing.DefaultTimeoutSec, log)
	exec := executor.New(cfg.Processing.Concurrency, signatures, runtime, log)

	return &Engine{
		Config:     cfg,
		Log:        log,
		Catalog:    cat,
		Registry:   registry,
		Selection:  selStore,
		Loader:     loader,
		Signatures: signatures,
		Runtime:    runtime,
		Executor:   exec,
	}, nil
}

// Close releases the Engine's two sqlite connections.
func (e *Engine) Close() error {
	sigErr := e.Signatures.Close()
	catErr := e.Catalog.Close()
	if catErr != nil {
		return catErr
	}
	return sigErr
}

// AddRepository registers repo and, unless it is a recipe repository
// (whose content is read at build time, not ingested), indexes it
// immediately so info queries reflect it right away.
func (e *Engine) AddRepository(r engine.Repository) error {
	if err := e.Registry.Add(r); err != nil {
		return err
	}
	if r.Kind == engine.RepoKindRecipe {
		return nil
	}
	_, err := e.reindexOne(r)
	return err
}

// RemoveRepository drops repo from the configured set and removes
// every row it contributed to the Catalog, restoring the exact state
// the Catalog had before the matching AddRepository.
func (e *Engine) RemoveRepository(id string) error {
	if err := e.Registry.Remove(id); err != nil {
		return err
	}
	if err := e.Catalog.RemoveRepo(id); err != nil {
		return err
	}
	return nil
}

// Reindex re-scans repoID's tree and rebuilds sessions. Re-running it
// against an unchanged tree leaves image/session counts unchanged,
// since UpsertImage is a keyed upsert.
func (e *Engine) Reindex(repoID string) (catalog.IngestSummary, error) {
	repos, err := e.Registry.Load()
	if err != nil {
		return catalog.IngestSummary{}, err
	}
	for _, r := range repos {
		if r.ID == repoID {
			return e.reindexOne(r)
		}
	}
	return catalog.IngestSummary{}, fmt.Errorf("repository %s not configured", repoID)
}

func (e *Engine) reindexOne(r engine.Repository) (catalog.IngestSummary, error) {
	if r.Kind == engine.RepoKindRecipe {
		return catalog.IngestSummary{}, nil
	}
	aliases, err := e.loadAliases()
	if err != nil {
		return catalog.IngestSummary{}, err
	}
	sum, err := catalog.IngestRepo(context.Background(), e.Catalog, r, aliases, e.Log)
	if err != nil {
		return sum, err
	}
	return sum, e.Catalog.RebuildSessions()
}

// loadAliases materializes the alias map from every configured
// repository's `aliases` document key.
func (e *Engine) loadAliases() (*catalog.AliasMap, error) {
	repos, err := e.Registry.Load()
	if err != nil {
		return nil, err
	}
	u, err := e.Loader.Load(repos)
	if err != nil {
		return nil, err
	}
	table := map[string][]string{}
	for _, key := range u.Keys() {
		name, ok := strings.CutPrefix(key, "aliases.")
		if !ok {
			continue
		}
		entry, _ := u.Get(key)
		table[name] = toStringSlice(entry.Value)
	}
	return catalog.NewAliasMap(table), nil
}

func toStringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// loadStages materializes the current stage/recipe set from every
// configured repository.
func (e *Engine) loadStages() ([]engine.Stage, error) {
	repos, err := e.Registry.Load()
	if err != nil {
		return nil, err
	}
	u, err := e.Loader.Load(repos)
	if err != nil {
		return nil, err
	}
	stages, _, err := recipe.Materialize(u)
	return stages, err
}

// CurrentSelection returns the persisted Selection, creating an empty
// (universe) one on first use.
func (e *Engine) CurrentSelection() (engine.Selection, error) {
	return e.Selection.Load()
}

// mutateSelection loads the current selection, applies fn, and
// persists the result.
func (e *Engine) mutateSelection(fn func(engine.Selection) engine.Selection) (engine.Selection, error) {
	sel, err := e.Selection.Load()
	if err != nil {
		return engine.Selection{}, err
	}
	sel = fn(sel)
	if err := e.Selection.Save(sel); err != nil {
		return engine.Selection{}, err
	}
	return sel, nil
}

func (e *Engine) SetTargets(targets []string) (engine.Selection, error) {
	return e.mutateSelection(func(s engine.Selection) engine.Selection { return selection.SetTargets(s, targets) })
}

func (e *Engine) SetInstruments(instruments []string) (engine.Selection, error) {
	return e.mutateSelection(func(s engine.Selection) engine.Selection { return selection.SetInstruments(s, instruments) })
}

func (e *Engine) SetFilters(filters []string) (engine.Selection, error) {
	return e.mutateSelection(func(s engine.Selection) engine.Selection { return selection.SetFilters(s, filters) })
}

func (e *Engine) SetKinds(kinds []engine.ImageKind) (engine.Selection, error) {
	return e.mutateSelection(func(s engine.Selection) engine.Selection { return selection.SetKinds(s, kinds) })
}

func (e *Engine) SetAfter(t *time.Time) (engine.Selection, error) {
	return e.mutateSelection(func(s engine.Selection) engine.Selection { return selection.SetAfter(s, t) })
}

func (e *Engine) SetBefore(t *time.Time) (engine.Selection, error) {
	return e.mutateSelection(func(s engine.Selection) engine.Selection { return selection.SetBefore(s, t) })
}

func (e *Engine) ClearSelection() (engine.Selection, error) {
	return e.mutateSelection(selection.Clear)
}

// Targets, Instruments and Filters enumerate the distinct label sets
// among light sessions restricted by the current Selection.
func (e *Engine) Targets() ([]string, error) {
	sel, err := e.Selection.Load()
	if err != nil {
		return nil, err
	}
	return e.Catalog.Targets(sel)
}

func (e *Engine) Instruments() ([]string, error) {
	sel, err := e.Selection.Load()
	if err != nil {
		return nil, err
	}
	return e.Catalog.Instruments(sel)
}

func (e *Engine) Filters() ([]string, error) {
	sel, err := e.Selection.Load()
	if err != nil {
		return nil, err
	}
	return e.Catalog.Filters(sel)
}

// build runs the Task Graph Builder over the current Selection and
// the currently-materialized stage set.
func (e *Engine) build() (graph.Result, error) {
	sel, err := e.Selection.Load()
	if err != nil {
		return graph.Result{}, err
	}
	stages, err := e.loadStages()
	if err != nil {
		return graph.Result{}, err
	}
	b := &graph.Builder{Store: e.Catalog, CacheRoot: e.Config.Paths.CacheRoot}
	return b.Build(sel, stages)
}

// ProcessMasters builds and runs only the tasks that produce a master
// frame, plus whatever upstream tasks those depend on.
func (e *Engine) ProcessMasters(ctx context.Context) (Report, error) {
	result, err := e.build()
	if err != nil {
		return Report{}, err
	}
	tasks := masterClosure(result.Tasks)
	return e.runAndReport(ctx, tasks, result)
}

// ProcessAuto builds and runs the full pipeline for the current
// Selection.
func (e *Engine) ProcessAuto(ctx context.Context) (Report, error) {
	result, err := e.build()
	if err != nil {
		return Report{}, err
	}
	return e.runAndReport(ctx, result.Tasks, result)
}

// masterClosure restricts tasks to graph.IsMasterTask survivors and
// every task they transitively depend on.
func masterClosure(tasks []engine.Task) []engine.Task {
	byName := map[string]engine.Task{}
	for _, t := range tasks {
		byName[t.Name] = t
	}
	keep := map[string]bool{}
	var visit func(name string)
	visit = func(name string) {
		if keep[name] {
			return
		}
		t, ok := byName[name]
		if !ok {
			return
		}
		keep[name] = true
		for _, up := range t.Upstream {
			visit(up)
		}
	}
	for _, t := range tasks {
		if graph.IsMasterTask(t) {
			visit(t.Name)
		}
	}
	var out []engine.Task
	for _, t := range tasks {
		if keep[t.Name] {
			out = append(out, t)
		}
	}
	return out
}

// runAndReport drives tasks through the Executor, collects every
// status transition via Subscribe, performs the on-success master
// upsert and per-target audit write, and assembles the final Report.
func (e *Engine) runAndReport(ctx context.Context, tasks []engine.Task, built graph.Result) (Report, error) {
	ch, unsubscribe := e.Executor.Subscribe()
	final := map[string]engine.Task{}
	var mu sync.Mutex
	done := make(chan struct{})
	go func() {
		defer close(done)
		for t := range ch {
			mu.Lock()
			final[t.Name] = t
			mu.Unlock()
		}
	}()

	runErr := e.Executor.Run(ctx, tasks)
	unsubscribe()
	<-done

	for _, t := range tasks {
		if _, ok := final[t.Name]; !ok {
			final[t.Name] = t
		}
	}

	e.upsertMasters(final)
	e.writeAuditRecords(final, built)

	report := buildReport(final)
	if runErr != nil {
		return report, runErr
	}
	return report, nil
}

// upsertMasters registers every succeeded master task's output files
// as Catalog rows, so later builds can select them as calibration
// candidates (step 4's "upsert any newly generated master").
func (e *Engine) upsertMasters(final map[string]engine.Task) {
	masterRepoID := e.masterRepoID()
	for _, t := range final {
		if t.Status != engine.StatusSucceeded || !graph.IsMasterTask(t) {
			continue
		}
		for _, out := range t.Outputs {
			kind := masterKindForPath(out)
			if kind == "" {
				continue
			}
			if err := e.Catalog.UpsertMaster(out, masterRepoID, kind, t.Context); err != nil && e.Log != nil {
				e.Log.Warn("master upsert failed", "task", t.Name, "output", out, "error", err)
			}
		}
	}
}

func (e *Engine) masterRepoID() string {
	repos, err := e.Registry.Load()
	if err != nil {
		return ""
	}
	for _, r := range repos {
		if r.Kind == engine.RepoKindMaster {
			return r.ID
		}
	}
	return ""
}

func masterKindForPath(path string) engine.ImageKind {
	lower := strings.ToLower(path)
	switch {
	case strings.Contains(lower, "flat"):
		return engine.KindMasterFlat
	case strings.Contains(lower, "bias"):
		return engine.KindMasterBias
	case strings.Contains(lower, "dark"):
		return engine.KindMasterDark
	default:
		return ""
	}
}

// writeAuditRecords groups final task outcomes by target and writes
// one <target>.audit.toml per target under the documents root's
// processed/<target>/ directory.
func (e *Engine) writeAuditRecords(final map[string]engine.Task, built graph.Result) {
	byTarget := map[string][]engine.Task{}
	for _, t := range final {
		byTarget[t.Target] = append(byTarget[t.Target], t)
	}
	var excluded []executor.AuditExcludedEntry
	for _, ex := range built.Excluded {
		excluded = append(excluded, executor.AuditExcludedEntry{Name: ex.Name, Reason: ex.Reason})
	}

	for target, tasks := range byTarget {
		if target == "" {
			continue
		}
		sort.Slice(tasks, func(i, j int) bool { return tasks[i].Name < tasks[j].Name })
		rec := executor.AuditRecord{
			Target:      target,
			GeneratedAt: time.Now().UTC(),
			Excluded:    excluded,
			Notes:       built.Notes,
		}
		for _, t := range tasks {
			entry := executor.AuditTaskEntry{
				Name:    t.Name,
				Status:  t.Status,
				Outputs: t.Outputs,
			}
			if t.Stage != nil {
				entry.Stage = t.Stage.Name
			}
			if t.Status == engine.StatusFailed || t.Status == engine.StatusBlocked {
				entry.FailureReason = t.Note
			}
			for _, m := range t.Masters {
				entry.Masters = append(entry.Masters, executor.AuditMasterSelection{
					Kind:       m.Kind,
					Chosen:     m.Chosen,
					Candidates: m.Candidates,
				})
			}
			rec.Tasks = append(rec.Tasks, entry)
		}
		if err := executor.WriteAuditRecord(e.Config.Paths.DocumentsRoot, rec); err != nil && e.Log != nil {
			e.Log.Warn("write audit record failed", "target", target, "error", err)
		}
	}
}

