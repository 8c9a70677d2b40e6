package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/droverhq/drover/internal/git"
	"github.com/droverhq/drover/internal/orchestrator"
	"github.com/droverhq/drover/internal/parallel"
	"github.com/droverhq/drover/internal/worktree"
)

var parallelAgents int

var parallelCmd = &cobra.Command{
	Use:   "parallel",
	Short: "Drain the task queue with multiple agents in isolated worktrees",
	Long: `Parallel runs several agents concurrently, each in its own git
worktree on its own branch. Completed work is merged back into the
current branch serially; the merge strategy is chosen by agent count
unless configured explicitly.`,
	RunE: runParallel,
}

func init() {
	parallelCmd.Flags().IntVarP(&parallelAgents, "agents", "n", 0, "Agent count (default: derived from available memory)")
}

func runParallel(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := checkSubagentCLI(cfg); err != nil {
		return err
	}

	repoPath, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	gitRunner := git.NewRunner(repoPath)
	if !gitRunner.IsRepo() {
		return fmt.Errorf("parallel mode requires a git repository (worktree isolation)")
	}
	targetBranch, err := gitRunner.CurrentBranch()
	if err != nil {
		return fmt.Errorf("determine target branch: %w", err)
	}

	if parallelAgents > 0 {
		cfg.Parallel.MaxAgents = parallelAgents
	}
	agents := parallel.SafeMaxAgents(cfg.Parallel)
	strategy := parallel.ChooseStrategy(cfg.Parallel.MergeStrategy, agents)
	fmt.Printf("running %d agents, %s merge strategy, merging into %s\n", agents, strategy, targetBranch)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	router, err := buildRouter(ctx, cfg)
	if err != nil {
		return err
	}

	worktrees := worktree.NewManager(repoPath, cfg.Parallel.WorktreeBaseDir, gitRunner)
	coordinator := parallel.NewCoordinator(gitRunner, targetBranch, strategy)

	claims := orchestrator.NewClaims()
	pool := parallel.NewPool(agents, worktrees, coordinator, func(workDir, branch string) parallel.SessionRunner {
		return buildDriver(cfg, store, router, workDir, branch, claims, printEvent)
	}, printEvent)

	if err := pool.Run(ctx); err != nil {
		if ctx.Err() != nil {
			fmt.Println("interrupted; progress is checkpointed, rerun to resume")
			return nil
		}
		return err
	}
	fmt.Println("queue drained")
	return nil
}
