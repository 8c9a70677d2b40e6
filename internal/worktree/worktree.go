// Package worktree manages isolated git worktrees, one per concurrent
// orchestrator instance.
package worktree

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/droverhq/drover/internal/git"
)

// branchPrefix marks branches owned by drover worktrees.
const branchPrefix = "drover-"

// Worktree describes one isolated working copy.
type Worktree struct {
	// Path is the worktree's filesystem location.
	Path string
	// Branch is the agent-specific branch checked out in the worktree.
	Branch string
	// AgentID is the owning driver instance, derived from the branch name.
	AgentID string
}

// gitOps is the slice of git operations the manager needs.
type gitOps interface {
	git.WorktreeOperations
	git.BranchOperations
}

// Manager creates, validates, repairs, and removes worktrees.
type Manager struct {
	repoPath string
	baseDir  string
	git      gitOps
	mu       sync.Mutex
}

// NewManager creates a Manager for the repository at repoPath. baseDir
// is where worktrees are placed; empty means ~/.cache/drover/worktrees.
func NewManager(repoPath, baseDir string, g gitOps) *Manager {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			baseDir = filepath.Join(os.TempDir(), "drover-worktrees")
		} else {
			baseDir = filepath.Join(home, ".cache", "drover", "worktrees")
		}
	}
	return &Manager{repoPath: repoPath, baseDir: baseDir, git: g}
}

// BranchFor returns the branch name for an agent ID.
func BranchFor(agentID string) string {
	return branchPrefix + agentID
}

// PathFor returns the worktree path for an agent ID.
func (m *Manager) PathFor(agentID string) string {
	return filepath.Join(m.baseDir, branchPrefix+agentID)
}

// Create makes a new worktree with a new branch for the agent. The
// branch must not already exist; callers wanting reuse-or-recreate
// semantics use EnsureValid.
func (m *Manager) Create(agentID string) (*Worktree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(agentID)
}

func (m *Manager) createLocked(agentID string) (*Worktree, error) {
	if err := os.MkdirAll(m.baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create worktree base directory: %w", err)
	}

	wt := &Worktree{
		Path:    m.PathFor(agentID),
		Branch:  BranchFor(agentID),
		AgentID: agentID,
	}

	if err := m.git.WorktreeAddNewBranch(wt.Path, wt.Branch); err != nil {
		return nil, fmt.Errorf("add worktree for %s: %w", agentID, err)
	}
	return wt, nil
}

// Validate checks that a worktree is usable: its path exists, git
// metadata is present, and its branch exists.
func (m *Manager) Validate(wt *Worktree) error {
	if _, err := os.Stat(wt.Path); err != nil {
		return fmt.Errorf("worktree path missing: %w", err)
	}
	if _, err := os.Stat(filepath.Join(wt.Path, ".git")); err != nil {
		return fmt.Errorf("worktree git metadata missing: %w", err)
	}
	exists, err := m.git.BranchExists(wt.Branch)
	if err != nil {
		return fmt.Errorf("check worktree branch: %w", err)
	}
	if !exists {
		return fmt.Errorf("worktree branch %s missing", wt.Branch)
	}
	return nil
}

// EnsureValid returns a usable worktree for the agent, creating it if
// absent and repairing (recreating) it if corrupt.
func (m *Manager) EnsureValid(agentID string) (*Worktree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	wt := &Worktree{
		Path:    m.PathFor(agentID),
		Branch:  BranchFor(agentID),
		AgentID: agentID,
	}

	if _, err := os.Stat(wt.Path); os.IsNotExist(err) {
		return m.createLocked(agentID)
	}

	if err := m.Validate(wt); err != nil {
		log.Printf("[worktree] %s invalid (%v), repairing", wt.Path, err)
		return m.repairLocked(wt)
	}
	return wt, nil
}

// repairLocked recreates a corrupt worktree from scratch.
func (m *Manager) repairLocked(wt *Worktree) (*Worktree, error) {
	// Tear down whatever half-state exists; errors here are expected
	// when metadata is already gone.
	_ = m.git.WorktreeRemove(wt.Path, true)
	_ = os.RemoveAll(wt.Path)
	if err := m.git.WorktreePrune(); err != nil {
		return nil, fmt.Errorf("prune worktrees: %w", err)
	}
	if exists, err := m.git.BranchExists(wt.Branch); err == nil && exists {
		if err := m.git.DeleteBranch(wt.Branch); err != nil {
			return nil, fmt.Errorf("delete stale branch %s: %w", wt.Branch, err)
		}
	}
	return m.createLocked(wt.AgentID)
}

// Remove deletes a worktree and its branch.
func (m *Manager) Remove(wt *Worktree) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.git.WorktreeRemove(wt.Path, true); err != nil {
		return fmt.Errorf("remove worktree %s: %w", wt.Path, err)
	}
	if exists, err := m.git.BranchExists(wt.Branch); err == nil && exists {
		if err := m.git.DeleteBranch(wt.Branch); err != nil {
			return fmt.Errorf("delete branch %s: %w", wt.Branch, err)
		}
	}
	return nil
}

// List returns all drover-owned worktrees parsed from git's porcelain
// listing.
func (m *Manager) List() ([]*Worktree, error) {
	out, err := m.git.WorktreeListPorcelain()
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}
	return parsePorcelain(out), nil
}

// CleanupOrphans removes drover worktrees whose agent is not in the
// active set. Returns the paths removed.
func (m *Manager) CleanupOrphans(active map[string]bool) ([]string, error) {
	worktrees, err := m.List()
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, wt := range worktrees {
		if active[wt.AgentID] {
			continue
		}
		if err := m.Remove(wt); err != nil {
			log.Printf("[worktree] failed to remove orphan %s: %v", wt.Path, err)
			continue
		}
		removed = append(removed, wt.Path)
	}

	if err := m.git.WorktreePrune(); err != nil {
		log.Printf("[worktree] prune after cleanup: %v", err)
	}
	return removed, nil
}

// parsePorcelain extracts drover worktrees from `git worktree list
// --porcelain` output. Entries are separated by blank lines; each has a
// "worktree <path>" line and a "branch refs/heads/<name>" line.
func parsePorcelain(out string) []*Worktree {
	var result []*Worktree
	var current *Worktree

	flush := func() {
		if current != nil && strings.HasPrefix(current.Branch, branchPrefix) {
			current.AgentID = strings.TrimPrefix(current.Branch, branchPrefix)
			result = append(result, current)
		}
		current = nil
	}

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "worktree "):
			flush()
			current = &Worktree{Path: strings.TrimPrefix(line, "worktree ")}
		case strings.HasPrefix(line, "branch refs/heads/") && current != nil:
			current.Branch = strings.TrimPrefix(line, "branch refs/heads/")
		}
	}
	flush()
	return result
}
