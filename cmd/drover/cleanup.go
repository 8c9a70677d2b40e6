package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/droverhq/drover/internal/git"
	"github.com/droverhq/drover/internal/reflexion"
	"github.com/droverhq/drover/internal/worktree"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove orphaned worktrees and expired reflections",
	Long: `Cleanup removes drover worktrees whose sessions are no longer
active and drops reflections older than the retention window.`,
	RunE: runCleanup,
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	repoPath, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	gitRunner := git.NewRunner(repoPath)
	if gitRunner.IsRepo() {
		active := make(map[string]bool)
		sessions, err := store.ActiveSessions()
		if err != nil {
			return err
		}
		for _, s := range sessions {
			if s.Branch != "" {
				active[agentIDFromBranch(s.Branch)] = true
			}
		}

		worktrees := worktree.NewManager(repoPath, cfg.Parallel.WorktreeBaseDir, gitRunner)
		removed, err := worktrees.CleanupOrphans(active)
		if err != nil {
			return fmt.Errorf("clean up worktrees: %w", err)
		}
		for _, path := range removed {
			fmt.Printf("removed worktree %s\n", path)
		}
		if len(removed) == 0 {
			fmt.Println("no orphaned worktrees")
		}
	}

	reflections := reflexion.NewStore(reflectionsPath(cfg))
	dropped, err := reflections.Purge(cfg.Reflexion.RetentionDays, time.Now())
	if err != nil {
		return fmt.Errorf("purge reflections: %w", err)
	}
	fmt.Printf("dropped %d expired reflections\n", dropped)
	return nil
}

// agentIDFromBranch strips the worktree branch prefix.
func agentIDFromBranch(branch string) string {
	return strings.TrimPrefix(branch, worktree.BranchFor(""))
}
