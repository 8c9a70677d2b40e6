package parallel

import (
	"errors"
	"strings"
	"testing"
)

// fakeMergeGit scripts the merge-relevant git operations and records
// the call sequence.
type fakeMergeGit struct {
	calls        []string
	ffFails      bool
	noFFFails    bool
	conflicted   bool
	head         string
	currentRef   string
	resetTargets []string
}

func newFakeMergeGit() *fakeMergeGit {
	return &fakeMergeGit{head: "abc123"}
}

func (f *fakeMergeGit) record(call string) { f.calls = append(f.calls, call) }

func (f *fakeMergeGit) CurrentBranch() (string, error)         { return f.currentRef, nil }
func (f *fakeMergeGit) CreateAndCheckoutBranch(n string) error { return nil }
func (f *fakeMergeGit) CheckoutBranch(name string) error {
	f.record("checkout " + name)
	f.currentRef = name
	return nil
}
func (f *fakeMergeGit) BranchExists(string) (bool, error) { return true, nil }
func (f *fakeMergeGit) DeleteBranch(string) error         { return nil }

func (f *fakeMergeGit) Status() (string, error)        { return "", nil }
func (f *fakeMergeGit) HasChanges() (bool, error)      { return false, nil }
func (f *fakeMergeGit) RevParse(ref string) (string, error) {
	f.record("rev-parse " + ref)
	return f.head, nil
}
func (f *fakeMergeGit) IsRepo() bool { return true }

func (f *fakeMergeGit) AddAll() error              { return nil }
func (f *fakeMergeGit) Commit(string) error        { return nil }
func (f *fakeMergeGit) ResetHard(ref string) error {
	f.record("reset " + ref)
	f.resetTargets = append(f.resetTargets, ref)
	return nil
}

func (f *fakeMergeGit) MergeFFOnly(branch string) error {
	f.record("merge-ff " + branch)
	if f.ffFails {
		return errors.New("not possible to fast-forward")
	}
	return nil
}
func (f *fakeMergeGit) MergeNoFFMessage(branch, message string) error {
	f.record("merge-no-ff " + branch)
	if f.noFFFails {
		return errors.New("merge conflict")
	}
	return nil
}
func (f *fakeMergeGit) MergeAbort() error {
	f.record("merge-abort")
	return nil
}
func (f *fakeMergeGit) HasConflicts() (bool, error) { return f.conflicted, nil }

func (f *fakeMergeGit) PullFFOnly() error {
	f.record("pull")
	return nil
}

func (f *fakeMergeGit) did(call string) bool {
	for _, c := range f.calls {
		if c == call {
			return true
		}
	}
	return false
}

func TestMergeFastForward(t *testing.T) {
	g := newFakeMergeGit()
	c := NewCoordinator(g, "main", StrategyDirect)

	if err := c.Merge("drover-agent-1"); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if !g.did("checkout main") || !g.did("merge-ff drover-agent-1") {
		t.Errorf("call sequence = %v", g.calls)
	}
	if g.did("merge-no-ff drover-agent-1") {
		t.Error("no-ff merge should not run when fast-forward succeeds")
	}
}

func TestMergeFallsBackToNoFF(t *testing.T) {
	g := newFakeMergeGit()
	g.ffFails = true
	c := NewCoordinator(g, "main", StrategyQueue)

	if err := c.Merge("drover-agent-1"); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if !g.did("merge-no-ff drover-agent-1") {
		t.Errorf("call sequence = %v", g.calls)
	}
}

func TestMergeConflictRestoresTarget(t *testing.T) {
	g := newFakeMergeGit()
	g.ffFails = true
	g.noFFFails = true
	g.conflicted = true
	c := NewCoordinator(g, "main", StrategyDirect)

	err := c.Merge("drover-agent-1")
	if err == nil {
		t.Fatal("conflicting merge should fail")
	}
	if !strings.Contains(err.Error(), "merge drover-agent-1 into main") {
		t.Errorf("err = %v", err)
	}
	if !g.did("merge-abort") {
		t.Errorf("conflict should abort the merge, calls = %v", g.calls)
	}
	if len(g.resetTargets) != 1 || g.resetTargets[0] != "abc123" {
		t.Errorf("reset targets = %v, want pre-merge head", g.resetTargets)
	}
}

func TestMergePRStrategyLeavesBranch(t *testing.T) {
	g := newFakeMergeGit()
	c := NewCoordinator(g, "main", StrategyPR)

	if err := c.Merge("drover-agent-1"); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if len(g.calls) != 0 {
		t.Errorf("pr strategy should touch nothing, calls = %v", g.calls)
	}
}

func TestMergeSerializesConcurrentCalls(t *testing.T) {
	g := newFakeMergeGit()
	g.ffFails = true
	c := NewCoordinator(g, "main", StrategyQueue)

	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() { done <- c.Merge("drover-agent-1") }()
	}
	for i := 0; i < 8; i++ {
		if err := <-done; err != nil {
			t.Fatalf("Merge failed: %v", err)
		}
	}

	// Serialized merges never interleave: every checkout is followed by
	// its own pull/rev-parse/ff/no-ff block.
	var sequence []string
	for _, call := range g.calls {
		sequence = append(sequence, strings.Fields(call)[0])
	}
	for i := 0; i+4 < len(sequence); i += 5 {
		want := []string{"checkout", "pull", "rev-parse", "merge-ff", "merge-no-ff"}
		for j, w := range want {
			if sequence[i+j] != w {
				t.Fatalf("interleaved merge at %d: %v", i, g.calls)
			}
		}
	}
}
