package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"starbash/internal/engine"
)

type recordingRunner struct {
	mu   sync.Mutex
	ran  []string
	fail map[string]bool
}

func (r *recordingRunner) Run(ctx context.Context, t engine.Task) error {
	r.mu.Lock()
	r.ran = append(r.ran, t.Name)
	fail := r.fail[t.Name]
	r.mu.Unlock()
	if fail {
		return context.DeadlineExceeded
	}
	return nil
}

func openTestSignatureStore(t *testing.T) *SignatureStore {
	t.Helper()
	store, err := OpenSignatureStore(":memory:")
	if err != nil {
		t.Fatalf("open signature store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRunExecutesInDependencyOrder(t *testing.T) {
	runner := &recordingRunner{fail: map[string]bool{}}
	ex := New(2, openTestSignatureStore(t), runner, nil)
	workDir := t.TempDir()

	tasks := []engine.Task{
		{Name: "upstream", WorkDir: workDir, Outputs: []string{"/tmp/nonexistent-upstream-out"}},
		{Name: "downstream", WorkDir: workDir, Upstream: []string{"upstream"}, Outputs: []string{"/tmp/nonexistent-downstream-out"}},
	}

	if err := ex.Run(context.Background(), tasks); err != nil {
		t.Fatalf("run: %v", err)
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.ran) != 2 {
		t.Fatalf("expected both tasks to run, got %v", runner.ran)
	}
	if runner.ran[0] != "upstream" {
		t.Fatalf("expected upstream to run first, got %v", runner.ran)
	}
}

func TestRunBlocksDownstreamOnFailure(t *testing.T) {
	runner := &recordingRunner{fail: map[string]bool{"upstream": true}}
	ex := New(2, openTestSignatureStore(t), runner, nil)

	var lastDownstream engine.Task
	sub, unsub := ex.Subscribe()
	defer unsub()

	workDir := t.TempDir()
	tasks := []engine.Task{
		{Name: "upstream", WorkDir: workDir, Outputs: []string{"/tmp/nonexistent-a"}},
		{Name: "downstream", WorkDir: workDir, Upstream: []string{"upstream"}, Outputs: []string{"/tmp/nonexistent-b"}},
	}

	done := make(chan struct{})
	go func() {
		for ev := range sub {
			if ev.Name == "downstream" {
				lastDownstream = ev
			}
		}
		close(done)
	}()

	if err := ex.Run(context.Background(), tasks); err != nil {
		t.Fatalf("run: %v", err)
	}
	unsub()
	<-done

	runner.mu.Lock()
	ranDownstream := false
	for _, n := range runner.ran {
		if n == "downstream" {
			ranDownstream = true
		}
	}
	runner.mu.Unlock()
	if ranDownstream {
		t.Fatal("expected downstream task to be blocked, not run")
	}
	if lastDownstream.Status != engine.StatusBlocked {
		t.Fatalf("expected downstream status blocked, got %v", lastDownstream.Status)
	}
}

func TestComputeSignatureStableForSameInputs(t *testing.T) {
	t1 := engine.Task{Tool: engine.ToolStacker, Command: "stack", Outputs: []string{"out.fits"}}
	sigA, err := ComputeSignature(t1)
	if err != nil {
		t.Fatalf("signature: %v", err)
	}
	sigB, err := ComputeSignature(t1)
	if err != nil {
		t.Fatalf("signature: %v", err)
	}
	if sigA != sigB {
		t.Fatal("expected identical tasks to produce identical signatures")
	}

	t2 := t1
	t2.Command = "stack --different"
	sigC, err := ComputeSignature(t2)
	if err != nil {
		t.Fatalf("signature: %v", err)
	}
	if sigA == sigC {
		t.Fatal("expected a different command string to change the signature")
	}
}

func TestSignatureStoreRoundTrip(t *testing.T) {
	store := openTestSignatureStore(t)
	if _, found, err := store.Get("task-a"); err != nil || found {
		t.Fatalf("expected no signature yet, found=%v err=%v", found, err)
	}
	if err := store.Set("task-a", "abc123"); err != nil {
		t.Fatalf("set: %v", err)
	}
	sig, found, err := store.Get("task-a")
	if err != nil || !found || sig != "abc123" {
		t.Fatalf("expected abc123, got %q found=%v err=%v", sig, found, err)
	}
}

func TestRunRespectsCancellation(t *testing.T) {
	runner := &recordingRunner{fail: map[string]bool{}}
	ex := New(1, openTestSignatureStore(t), runner, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tasks := []engine.Task{{Name: "a"}}
	err := ex.Run(ctx, tasks)
	if err == nil {
		t.Fatal("expected cancellation error")
	}

	time.Sleep(10 * time.Millisecond)
}
