// Package executor implements the Incremental Executor: it walks a
// validated task DAG, skips tasks whose up-to-date signature already
// matches, and dispatches the rest to the Tool Runtime through a
// bounded worker pool, generalized from a flat job-queue pipeline into
// one that respects dependency edges and propagates failure as a
// blocked status to dependents.
package executor

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"starbash/internal/engine"
	"starbash/internal/graph"
	"starbash/internal/recipe"
)

// Runner is the Tool Runtime seam: dispatch one task's command in its
// materialized workspace and report the outcome.
type Runner interface {
	Run(ctx context.Context, t engine.Task) error
}

// Executor owns the worker pool and the signature store that makes
// reruns incremental.
type Executor struct {
	Concurrency int
	Signatures  *SignatureStore
	Runner      Runner
	Log         *slog.Logger

	mu      sync.Mutex
	subs    map[int]chan engine.Task
	nextSub int
}

// New constructs an Executor. concurrency < 1 is treated as 1.
func New(concurrency int, signatures *SignatureStore, runner Runner, log *slog.Logger) *Executor {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Executor{
		Concurrency: concurrency,
		Signatures:  signatures,
		Runner:      runner,
		Log:         log,
		subs:        map[int]chan engine.Task{},
	}
}

// Subscribe returns a channel receiving every task status transition.
func (e *Executor) Subscribe() (<-chan engine.Task, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextSub
	e.nextSub++
	ch := make(chan engine.Task, 16)
	e.subs[id] = ch
	unsub := func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if c, ok := e.subs[id]; ok {
			close(c)
			delete(e.subs, id)
		}
	}
	return ch, unsub
}

func (e *Executor) broadcast(t engine.Task) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, ch := range e.subs {
		select {
		case ch <- t:
		default:
			if e.Log != nil {
				e.Log.Warn("task status channel full", "subscriber", id, "task", t.Name)
			}
		}
	}
}

func (e *Executor) setStatus(t *engine.Task, status engine.TaskStatus) {
	t.Status = status
	e.broadcast(*t)
}

// run is the shared mutable state for one Run call.
type run struct {
	byName     map[string]*engine.Task
	remaining  map[string]map[string]bool // task -> unfinished upstream names
	dependents map[string][]string        // task -> tasks that depend on it

	mu      sync.Mutex
	done    map[string]bool
	blocked map[string]bool // task -> at least one upstream failed/cancelled

	sem chan struct{}
	wg  sync.WaitGroup

	e   *Executor
	ctx context.Context
}

// Run drives tasks (already validated acyclic by the Task Graph
// Builder) to completion: skips up-to-date tasks, dispatches ready
// tasks to a bounded worker pool, and marks downstream tasks blocked
// when an upstream task fails or is cancelled. Cancellation is
// cooperative: once ctx is done, in-flight tasks finish, every
// dispatched task that has not yet started is marked cancelled, tasks
// downstream of a cancelled task are marked blocked, and Run returns
// ctx.Err().
func (e *Executor) Run(ctx context.Context, tasks []engine.Task) error {
	ordered, err := graph.TopoSort(tasks)
	if err != nil {
		return err
	}

	r := &run{
		byName:     map[string]*engine.Task{},
		remaining:  map[string]map[string]bool{},
		dependents: map[string][]string{},
		done:       map[string]bool{},
		blocked:    map[string]bool{},
		sem:        make(chan struct{}, e.Concurrency),
		e:          e,
		ctx:        ctx,
	}

	for i := range ordered {
		t := &ordered[i]
		r.byName[t.Name] = t
		e.setStatus(t, engine.StatusPending)
		upstream := map[string]bool{}
		for _, up := range t.Upstream {
			upstream[up] = true
		}
		r.remaining[t.Name] = upstream
	}
	for _, t := range ordered {
		for up := range r.remaining[t.Name] {
			r.dependents[up] = append(r.dependents[up], t.Name)
		}
	}

	for _, t := range ordered {
		if len(r.remaining[t.Name]) == 0 {
			r.dispatch(r.byName[t.Name])
		}
	}

	r.wg.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

// dispatch launches a task on the worker pool, or marks it cancelled
// immediately if the run's context is already done.
func (r *run) dispatch(t *engine.Task) {
	if r.ctx.Err() != nil {
		r.e.setStatus(t, engine.StatusCancelled)
		r.complete(t, true)
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.sem <- struct{}{}
		defer func() { <-r.sem }()
		if r.ctx.Err() != nil {
			r.e.setStatus(t, engine.StatusCancelled)
			r.complete(t, true)
			return
		}
		r.e.runOne(r.ctx, t)
		failed := t.Status == engine.StatusFailed || t.Status == engine.StatusCancelled
		r.complete(t, failed)
	}()
}

// complete records t as finished and releases every dependent whose
// upstream set is now empty, either dispatching it (success) or
// marking it blocked and recursing (failure/cancellation), all under
// a single mutex so concurrent completions never race on remaining.
func (r *run) complete(t *engine.Task, failed bool) {
	r.mu.Lock()
	r.done[t.Name] = true
	deps := append([]string{}, r.dependents[t.Name]...)
	r.mu.Unlock()

	for _, depName := range deps {
		dep := r.byName[depName]

		r.mu.Lock()
		delete(r.remaining[depName], t.Name)
		if failed {
			r.blocked[depName] = true
		}
		ready := len(r.remaining[depName]) == 0
		isBlocked := r.blocked[depName]
		r.mu.Unlock()

		if !ready {
			continue
		}

		if isBlocked {
			r.e.setStatus(dep, engine.StatusBlocked)
			r.complete(dep, true)
			continue
		}
		r.dispatch(dep)
	}
}

func (e *Executor) runOne(ctx context.Context, t *engine.Task) {
	e.setStatus(t, engine.StatusReady)

	upToDate, err := IsUpToDate(e.Signatures, *t)
	if err != nil && e.Log != nil {
		e.Log.Warn("signature check failed, running task", "task", t.Name, "error", err)
	}
	if upToDate {
		e.setStatus(t, engine.StatusSkippedUpToDate)
		return
	}

	e.setStatus(t, engine.StatusRunning)
	if err := MaterializeInputs(t.WorkDir, t.Inputs); err != nil {
		t.Note = err.Error()
		e.setStatus(t, engine.StatusFailed)
		return
	}

	if err := bindCommand(t); err != nil {
		t.Note = err.Error()
		e.setStatus(t, engine.StatusFailed)
		return
	}

	if err := e.Runner.Run(ctx, *t); err != nil {
		t.Note = err.Error()
		e.setStatus(t, engine.StatusFailed)
		return
	}

	if have := countExisting(t.Outputs); have < t.MinOutputs {
		t.Note = (&engine.InsufficientOutputsError{Task: t.Name, Want: t.MinOutputs, Have: have}).Error()
		e.setStatus(t, engine.StatusFailed)
		return
	}

	sig, err := ComputeSignature(*t)
	if err == nil {
		if err := e.Signatures.Set(t.Name, sig); err != nil && e.Log != nil {
			e.Log.Warn("persist signature failed", "task", t.Name, "error", err)
		}
	}
	e.setStatus(t, engine.StatusSucceeded)
}

// countExisting reports how many of outputs are present on disk,
// satisfying execution-phase step 4's min-outputs check without
// trusting a clean tool exit alone.
func countExisting(outputs []string) int {
	have := 0
	for _, o := range outputs {
		if _, err := os.Stat(o); err == nil {
			have++
		}
	}
	return have
}

// bindCommand performs the execution-phase re-expansion: the
// ProcessingContext gets the workspace path bound and the stage's
// script text (inline or file) is resolved against it, producing the
// command the Tool Runtime actually dispatches. Script-kind stages are
// left unexpanded: the restricted evaluator reads ProcessingContext
// variables by name rather than by brace-substitution.
func bindCommand(t *engine.Task) error {
	if t.Stage == nil {
		return nil
	}
	if t.Context == nil {
		t.Context = engine.ProcessingContext{}
	}
	t.Context["workspace"] = t.WorkDir

	source := t.Stage.Script
	if source == "" && t.Stage.ScriptFile != "" {
		data, err := os.ReadFile(t.Stage.ScriptFile)
		if err != nil {
			return err
		}
		source = string(data)
	}

	if t.Tool == engine.ToolScript {
		t.Command = source
		return nil
	}

	expanded, err := recipe.ExpandTemplate(t.Context, source)
	if err != nil {
		return err
	}
	t.Command = expanded
	return nil
}
