package parallel

import (
	"fmt"
	"log"
	"sync"

	"github.com/droverhq/drover/internal/git"
)

// mergeGit is the slice of git operations the coordinator needs.
type mergeGit interface {
	git.BranchOperations
	git.StatusOperations
	git.CommitOperations
	git.MergeOperations
	git.RemoteOperations
}

// Coordinator merges completed agent branches into the target branch.
// All merges are serialized under one lock: two agents finishing at the
// same time never race on the shared working tree.
type Coordinator struct {
	git          mergeGit
	targetBranch string
	strategy     Strategy
	mu           sync.Mutex
}

// NewCoordinator creates a Coordinator merging into targetBranch.
func NewCoordinator(g mergeGit, targetBranch string, strategy Strategy) *Coordinator {
	return &Coordinator{git: g, targetBranch: targetBranch, strategy: strategy}
}

// Strategy returns the coordinator's merge strategy.
func (c *Coordinator) Strategy() Strategy {
	return c.strategy
}

// Merge brings an agent branch into the target branch. Under the pr
// strategy the branch is left in place for review. On conflict the
// merge is aborted and the target branch restored to its pre-merge
// commit; the agent branch survives for manual inspection.
func (c *Coordinator) Merge(branch string) error {
	if c.strategy == StrategyPR {
		log.Printf("[merge] leaving %s for pull-request review", branch)
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.git.CheckoutBranch(c.targetBranch); err != nil {
		return fmt.Errorf("checkout %s: %w", c.targetBranch, err)
	}
	if err := c.git.PullFFOnly(); err != nil {
		log.Printf("[merge] pull before merge: %v", err)
	}

	initial, err := c.git.RevParse("HEAD")
	if err != nil {
		return fmt.Errorf("resolve %s head: %w", c.targetBranch, err)
	}

	if err := c.git.MergeFFOnly(branch); err == nil {
		return nil
	}

	message := fmt.Sprintf("merge %s into %s", branch, c.targetBranch)
	if err := c.git.MergeNoFFMessage(branch, message); err != nil {
		if conflicted, cerr := c.git.HasConflicts(); cerr == nil && conflicted {
			if aerr := c.git.MergeAbort(); aerr != nil {
				log.Printf("[merge] abort after conflict: %v", aerr)
			}
		}
		if rerr := c.git.ResetHard(initial); rerr != nil {
			log.Printf("[merge] restore %s to %s: %v", c.targetBranch, initial, rerr)
		}
		return fmt.Errorf("merge %s into %s: %w", branch, c.targetBranch, err)
	}
	return nil
}
