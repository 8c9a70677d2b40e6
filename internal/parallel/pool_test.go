package parallel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/droverhq/drover/internal/orchestrator"
	"github.com/droverhq/drover/internal/worktree"
	"github.com/droverhq/drover/pkg/models"
)

// fakeWorktreeGit backs a real worktree.Manager with in-memory branch
// state, mirroring worktree paths on disk so validation passes.
type fakeWorktreeGit struct {
	mu        sync.Mutex
	branches  map[string]bool
	worktrees map[string]string
}

func newFakeWorktreeGit() *fakeWorktreeGit {
	return &fakeWorktreeGit{branches: make(map[string]bool), worktrees: make(map[string]string)}
}

func (f *fakeWorktreeGit) WorktreeAddNewBranch(path, branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.MkdirAll(path, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(path, ".git"), []byte("gitdir: elsewhere"), 0o644); err != nil {
		return err
	}
	f.branches[branch] = true
	f.worktrees[path] = branch
	return nil
}

func (f *fakeWorktreeGit) WorktreeRemove(path string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.worktrees[path]; !ok {
		return fmt.Errorf("not a worktree: %s", path)
	}
	delete(f.worktrees, path)
	return os.RemoveAll(path)
}

func (f *fakeWorktreeGit) WorktreeListPorcelain() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := ""
	for path, branch := range f.worktrees {
		out += fmt.Sprintf("worktree %s\nHEAD abc\nbranch refs/heads/%s\n\n", path, branch)
	}
	return out, nil
}

func (f *fakeWorktreeGit) WorktreePrune() error { return nil }

func (f *fakeWorktreeGit) CurrentBranch() (string, error) { return "main", nil }
func (f *fakeWorktreeGit) CreateAndCheckoutBranch(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.branches[name] = true
	return nil
}
func (f *fakeWorktreeGit) CheckoutBranch(string) error { return nil }
func (f *fakeWorktreeGit) BranchExists(name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.branches[name], nil
}
func (f *fakeWorktreeGit) DeleteBranch(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.branches, name)
	return nil
}

func (f *fakeWorktreeGit) worktreeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.worktrees)
}

// fakeDriver drains a shared task counter, one task per Run.
type fakeDriver struct {
	workDir string
	tasks   *atomic.Int64
}

func (d *fakeDriver) Run(ctx context.Context) (*orchestrator.State, error) {
	if d.tasks.Add(-1) < 0 {
		return nil, orchestrator.ErrNoReadyTasks
	}
	return &orchestrator.State{
		SessionID: "sess",
		Task:      &models.Task{ID: "t", Title: "work"},
		Phase:     models.PhaseDone,
	}, nil
}

func setupPool(t *testing.T, agents int, tasks int64, strategy Strategy) (*Pool, *fakeWorktreeGit, *fakeMergeGit, *atomic.Int64, *[]orchestrator.Event) {
	t.Helper()

	wtGit := newFakeWorktreeGit()
	manager := worktree.NewManager("/repo", t.TempDir(), wtGit)
	mergeGit := newFakeMergeGit()
	coordinator := NewCoordinator(mergeGit, "main", strategy)

	remaining := &atomic.Int64{}
	remaining.Store(tasks)

	var mu sync.Mutex
	events := &[]orchestrator.Event{}
	pool := NewPool(agents, manager, coordinator, func(workDir, branch string) SessionRunner {
		return &fakeDriver{workDir: workDir, tasks: remaining}
	}, func(e orchestrator.Event) {
		mu.Lock()
		*events = append(*events, e)
		mu.Unlock()
	})
	return pool, wtGit, mergeGit, remaining, events
}

func TestPoolDrainsQueue(t *testing.T) {
	pool, wtGit, _, remaining, events := setupPool(t, 3, 5, StrategyDirect)

	if err := pool.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := remaining.Load(); got > 0 {
		t.Errorf("queue not drained, %d tasks left", got)
	}

	var merges int
	for _, e := range *events {
		if e.Type == orchestrator.EventMergeCompleted {
			merges++
		}
	}
	if merges != 5 {
		t.Errorf("merge_completed events = %d, want one per task", merges)
	}

	// Direct strategy removes worktrees when agents finish.
	if got := wtGit.worktreeCount(); got != 0 {
		t.Errorf("%d worktrees left after run, want 0", got)
	}
}

func TestPoolPRStrategyKeepsWorktrees(t *testing.T) {
	pool, wtGit, mergeGit, _, _ := setupPool(t, 2, 2, StrategyPR)

	if err := pool.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := wtGit.worktreeCount(); got != 2 {
		t.Errorf("%d worktrees left, want 2 kept for review", got)
	}
	if len(mergeGit.calls) != 0 {
		t.Errorf("pr strategy performed git calls: %v", mergeGit.calls)
	}
}

// flakyDriver consumes tasks like fakeDriver but fails its first runs.
type flakyDriver struct {
	tasks    *atomic.Int64
	failures *atomic.Int64
}

func (d *flakyDriver) Run(ctx context.Context) (*orchestrator.State, error) {
	if d.tasks.Add(-1) < 0 {
		return nil, orchestrator.ErrNoReadyTasks
	}
	if d.failures.Add(-1) >= 0 {
		return nil, errors.New("verification failed")
	}
	return &orchestrator.State{
		SessionID: "sess",
		Task:      &models.Task{ID: "t", Title: "work"},
		Phase:     models.PhaseDone,
	}, nil
}

func TestPoolRetiresWorktreeAfterFailedSession(t *testing.T) {
	wtGit := newFakeWorktreeGit()
	manager := worktree.NewManager("/repo", t.TempDir(), wtGit)
	coordinator := NewCoordinator(newFakeMergeGit(), "main", StrategyDirect)

	remaining := &atomic.Int64{}
	remaining.Store(2)
	failures := &atomic.Int64{}
	failures.Store(1)

	var mu sync.Mutex
	var workDirs, branches []string
	pool := NewPool(1, manager, coordinator, func(workDir, branch string) SessionRunner {
		mu.Lock()
		workDirs = append(workDirs, workDir)
		branches = append(branches, branch)
		mu.Unlock()
		return &flakyDriver{tasks: remaining, failures: failures}
	}, nil)

	if err := pool.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// The failed task's half-done worktree must not host the next
	// session, or its leftovers would ride along in the next commit.
	if len(workDirs) != 2 {
		t.Fatalf("driver factory called %d times, want 2", len(workDirs))
	}
	if workDirs[0] == workDirs[1] {
		t.Error("failed session's worktree was reused for the next task")
	}
	for i, branch := range branches {
		if !strings.HasPrefix(branch, worktree.BranchFor("agent-1")) {
			t.Errorf("branch[%d] = %q, want an agent-1 worktree branch", i, branch)
		}
	}

	// The dirty worktree stays behind for inspection; the clean one is
	// removed when the agent drains the queue.
	if got := wtGit.worktreeCount(); got != 1 {
		t.Errorf("%d worktrees left, want only the failed one kept", got)
	}
}

func TestPoolCancellation(t *testing.T) {
	pool, _, _, _, _ := setupPool(t, 2, 1000, StrategyDirect)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := pool.Run(ctx); err == nil {
		t.Error("canceled pool run should report the cancellation")
	}
}
