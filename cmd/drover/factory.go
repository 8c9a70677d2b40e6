package main

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"github.com/fatih/color"

	"github.com/droverhq/drover/internal/checkpoint"
	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/exec"
	"github.com/droverhq/drover/internal/git"
	"github.com/droverhq/drover/internal/healer"
	"github.com/droverhq/drover/internal/orchestrator"
	"github.com/droverhq/drover/internal/reflexion"
	"github.com/droverhq/drover/internal/subagent"
	"github.com/droverhq/drover/internal/task"
	"github.com/droverhq/drover/internal/verify"
)

// dbPath returns the task database location under the state directory.
func dbPath(cfg *config.Config) string {
	return filepath.Join(cfg.State.Dir, "drover.db")
}

// reflectionsPath returns the reflection store location.
func reflectionsPath(cfg *config.Config) string {
	return filepath.Join(cfg.State.Dir, "sessions", "reflections.jsonl")
}

// openStore opens and migrates the task database.
func openStore(cfg *config.Config) (*task.DB, *task.Store, error) {
	db, err := task.Open(dbPath(cfg))
	if err != nil {
		return nil, nil, fmt.Errorf("open task database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate task database: %w", err)
	}
	return db, task.NewStore(db), nil
}

// buildRouter assembles the subagent backends in preference order.
func buildRouter(ctx context.Context, cfg *config.Config) (*subagent.Router, error) {
	runner := exec.NewRunner()
	cli := subagent.NewCLIBackend(cfg.Subagent.CLIBinary, cfg.Subagent.Model, runner)

	api, err := subagent.NewAPIBackend(ctx, subagent.APIConfig{
		Model:      cfg.Subagent.Model,
		APIKey:     cfg.Anthropic.APIKey,
		UseBedrock: cfg.Subagent.Backend == "bedrock",
		AWSRegion:  cfg.Subagent.AWSRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("build api backend: %w", err)
	}

	return subagent.NewRouter(cfg.Subagent.Backend, cli, api), nil
}

// buildDriver wires a driver operating in workDir on branch. router
// doubles as the invoker for healing, reflection, and decomposition;
// claims is shared by every driver in the process so concurrent agents
// cannot adopt each other's checkpoints.
func buildDriver(cfg *config.Config, store *task.Store, router *subagent.Router, workDir, branch string, claims *orchestrator.Claims, events orchestrator.EventHandler) *orchestrator.Driver {
	reflectionStore := reflexion.NewStore(reflectionsPath(cfg))

	var gitOps orchestrator.GitOps
	if runner := git.NewRunner(workDir); runner.IsRepo() {
		gitOps = runner
	}

	return orchestrator.NewDriver(cfg, orchestrator.Deps{
		Store:           store,
		Selector:        task.NewSelector(store),
		Decomposer:      orchestrator.NewDecomposer(router, cfg.Orchestrator),
		Router:          router,
		Verifier:        verify.New(exec.NewRunner()),
		Healer:          healer.New(cfg.Healer, router),
		Reflections:     reflexion.NewGenerator(cfg.Reflexion, router, reflectionStore),
		ReflectionStore: reflectionStore,
		Checkpoints:     checkpoint.NewManager(cfg.State.Dir),
		Claims:          claims,
		Git:             gitOps,
		WorkDir:         workDir,
		Branch:          branch,
		Events:          events,
	})
}

// printEvent renders one driver event for the terminal.
func printEvent(e orchestrator.Event) {
	ts := e.Timestamp.Format("15:04:05")
	subject := e.TaskID
	if e.SubtaskID != "" {
		subject = e.SubtaskID
	}

	line := fmt.Sprintf("%s  %-24s %s", ts, e.Type, subject)
	if e.Message != "" {
		line += "  " + e.Message
	}
	if e.Reason != "" {
		line += "  (" + e.Reason + ")"
	}

	switch e.Type {
	case orchestrator.EventSessionDone, orchestrator.EventSubtaskCompleted,
		orchestrator.EventVerificationPassed, orchestrator.EventHealerResolved,
		orchestrator.EventMergeCompleted:
		color.Green(line)
	case orchestrator.EventSessionFailed, orchestrator.EventSubtaskFailed,
		orchestrator.EventVerificationFailed:
		color.Red(line)
	case orchestrator.EventHealerInvoked, orchestrator.EventHealerSkipped,
		orchestrator.EventCheckpointDiscarded:
		color.Yellow(line)
	case orchestrator.EventCheckpointWritten:
		// Routine; keep the console quiet.
		log.Printf("[checkpoint] written for %s at %s", e.TaskID, e.Phase)
	default:
		fmt.Println(line)
	}
}
