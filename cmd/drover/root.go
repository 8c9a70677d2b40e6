package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/droverhq/drover/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "drover",
	Short: "Autonomous task execution orchestrator",
	Long: `Drover works through a queue of tasks autonomously: it claims the
highest-priority ready task, decomposes it into subtasks, executes them
through a coding subagent, verifies the result, and commits.

Failures are handled in layers: a bounded healer repairs environment
and verification breakage, and reflections on failed attempts are fed
into retry prompts so the next attempt learns from the last.

Progress is checkpointed after every phase, so an interrupted run
resumes exactly where it stopped. In parallel mode multiple agents run
in isolated git worktrees and merge their results back serially.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(parallelCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads configuration for a command invocation.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// checkSubagentCLI verifies the configured CLI backend binary is on
// PATH. Only relevant when the cli backend is preferred.
func checkSubagentCLI(cfg *config.Config) error {
	if cfg.Subagent.Backend != "cli" {
		return nil
	}
	if _, err := exec.LookPath(cfg.Subagent.CLIBinary); err != nil {
		return fmt.Errorf("%s not found in PATH\n\n"+
			"Drover's cli backend drives the Claude Code CLI.\n\n"+
			"Install it with:\n"+
			"  npm install -g @anthropic-ai/claude-code\n\n"+
			"or switch to the api backend in .drover.yaml", cfg.Subagent.CLIBinary)
	}
	return nil
}
