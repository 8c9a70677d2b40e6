package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/droverhq/drover/internal/orchestrator"
)

var runOnce bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Work through the task queue with a single agent",
	Long: `Run claims ready tasks one after another and drives each through
decomposition, execution, verification, and commit. An interrupted run
resumes from its checkpoint on the next invocation.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runOnce, "once", false, "Stop after one session instead of draining the queue")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := checkSubagentCLI(cfg); err != nil {
		return err
	}

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

	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	driver := buildDriver(cfg, store, router, workDir, "", orchestrator.NewClaims(), printEvent)

	sessions := 0
	for {
		st, err := driver.Run(ctx)
		if errors.Is(err, orchestrator.ErrNoReadyTasks) {
			if sessions == 0 {
				fmt.Println("no ready tasks; add some with 'drover add'")
			}
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				fmt.Println("interrupted; progress is checkpointed, rerun to resume")
				return nil
			}
			fmt.Fprintf(os.Stderr, "session failed: %v\n", err)
		} else if st != nil {
			fmt.Printf("task %s done\n", st.Task.ID)
		}

		sessions++
		if runOnce {
			return nil
		}
	}
}
