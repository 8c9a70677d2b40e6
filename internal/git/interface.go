// Package git provides an interface for git operations.
package git

// BranchOperations defines the interface for git branch operations.
type BranchOperations interface {
	// CurrentBranch returns the name of the current branch.
	CurrentBranch() (string, error)
	// CreateAndCheckoutBranch creates and switches to a new branch (git checkout -b).
	CreateAndCheckoutBranch(name string) error
	// CheckoutBranch switches to the specified branch.
	CheckoutBranch(name string) error
	// BranchExists returns true if the branch exists.
	BranchExists(name string) (bool, error)
	// DeleteBranch deletes the specified branch (force delete).
	DeleteBranch(name string) error
}

// StatusOperations defines the interface for git status and history inspection.
type StatusOperations interface {
	// Status returns the output of git status --porcelain.
	Status() (string, error)
	// HasChanges returns true if there are uncommitted changes.
	HasChanges() (bool, error)
	// RevParse resolves a ref to a commit hash.
	RevParse(ref string) (string, error)
	// IsRepo returns true if the runner's path is inside a git repository.
	IsRepo() bool
}

// CommitOperations defines the interface for git commit operations.
type CommitOperations interface {
	// AddAll stages all changes in the working tree.
	AddAll() error
	// Commit creates a new commit with the given message.
	Commit(message string) error
	// ResetHard discards all changes and resets to the specified ref.
	ResetHard(ref string) error
}

// MergeOperations defines the interface for git merge operations.
type MergeOperations interface {
	// MergeFFOnly merges the branch only if a fast-forward is possible.
	MergeFFOnly(branch string) error
	// MergeNoFFMessage merges the branch with --no-ff and a custom message.
	MergeNoFFMessage(branch, message string) error
	// MergeAbort aborts an in-progress merge.
	MergeAbort() error
	// HasConflicts returns true if there are merge conflicts.
	HasConflicts() (bool, error)
}

// WorktreeOperations defines the interface for git worktree operations.
type WorktreeOperations interface {
	// WorktreeAddNewBranch creates a new worktree with a new branch (git worktree add -b).
	WorktreeAddNewBranch(path, branch string) error
	// WorktreeRemove removes the worktree at the given path, forcing if needed.
	WorktreeRemove(path string, force bool) error
	// WorktreeListPorcelain returns the raw porcelain worktree listing.
	WorktreeListPorcelain() (string, error)
	// WorktreePrune removes stale worktree entries immediately.
	WorktreePrune() error
}

// RemoteOperations defines the interface for git remote operations.
type RemoteOperations interface {
	// PullFFOnly pulls from remote with fast-forward only.
	// Returns nil if no remote is configured.
	PullFFOnly() error
}

// Runner defines the complete interface for git operations.
// This interface embeds all focused interfaces for full functionality.
// Consumers should prefer using focused interfaces when possible.
type Runner interface {
	BranchOperations
	StatusOperations
	CommitOperations
	MergeOperations
	WorktreeOperations
	RemoteOperations
}
