// Package orchestrator contains the driver state machine that takes a
// task from selection through decomposition, execution, verification,
// and commit, with bounded healing and reflection on the way.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/droverhq/drover/internal/checkpoint"
	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/git"
	"github.com/droverhq/drover/internal/healer"
	"github.com/droverhq/drover/internal/reflexion"
	"github.com/droverhq/drover/internal/subagent"
	"github.com/droverhq/drover/internal/task"
	"github.com/droverhq/drover/internal/verify"
	"github.com/droverhq/drover/pkg/models"
)

// ErrNoReadyTasks is returned by Run when no task is ready to claim.
var ErrNoReadyTasks = errors.New("no ready tasks")

// GitOps is the slice of git operations the driver uses for failure
// context and committing. It may be nil when the work directory is not
// a git repository.
type GitOps interface {
	git.StatusOperations
	git.CommitOperations
}

// Deps bundles the driver's collaborators.
type Deps struct {
	// Store persists tasks and session records.
	Store *task.Store
	// Selector picks and claims the next ready task.
	Selector *task.Selector
	// Decomposer plans subtasks for the claimed task.
	Decomposer *Decomposer
	// Router dispatches subagent invocations.
	Router Invoker
	// Verifier runs the configured verification commands.
	Verifier *verify.Verifier
	// Healer performs bounded recovery invocations. May be nil.
	Healer *healer.Healer
	// Reflections generates failure reflections. May be nil.
	Reflections *reflexion.Generator
	// ReflectionStore retrieves prior reflections for retry prompts.
	ReflectionStore *reflexion.Store
	// Checkpoints persists progress snapshots.
	Checkpoints *checkpoint.Manager
	// Claims guards tasks against concurrent drivers in this process.
	// May be nil for a single driver.
	Claims *Claims
	// Git provides working-tree status and commits. May be nil.
	Git GitOps
	// WorkDir is where subagents and verification commands run.
	WorkDir string
	// Branch is the worktree branch the driver operates on. Empty
	// outside parallel mode.
	Branch string
	// Events receives lifecycle events. May be nil.
	Events EventHandler
}

// Driver runs one session: claim a task, decompose it, execute the
// subtasks, verify, and commit. A checkpoint is written after every
// phase transition so an interrupted session can resume.
type Driver struct {
	cfg  *config.Config
	deps Deps
}

// NewDriver creates a Driver.
func NewDriver(cfg *config.Config, deps Deps) *Driver {
	return &Driver{cfg: cfg, deps: deps}
}

// Run executes one full session and returns its final state. Returns
// ErrNoReadyTasks when there is nothing to do.
func (d *Driver) Run(ctx context.Context) (*State, error) {
	st, err := d.resumeOrSelect(ctx)
	if err != nil {
		return nil, err
	}
	defer d.deps.Claims.Release(st.Task.ID, st.SessionID)

	d.recordSession(st)

	for !st.Phase.Terminal() {
		if err := ctx.Err(); err != nil {
			// Leave the checkpoint in place; a later run resumes it.
			d.finishSession(st, task.SessionCanceled, err.Error())
			return st, err
		}

		var phaseErr error
		switch st.Phase {
		case models.PhaseOrient:
			phaseErr = d.orient(ctx, st)
		case models.PhaseDecompose:
			phaseErr = d.decompose(ctx, st)
		case models.PhaseExecute:
			phaseErr = d.execute(ctx, st)
		case models.PhaseVerify:
			phaseErr = d.verifyWork(ctx, st)
		case models.PhaseCommit:
			phaseErr = d.commit(st)
		default:
			phaseErr = fmt.Errorf("unknown phase %q", st.Phase)
		}

		if phaseErr != nil {
			return st, d.fail(st, phaseErr)
		}
	}

	d.finishSession(st, task.SessionCompleted, "")
	return st, nil
}

// orient runs the init verification commands. An unhealed init failure
// is fatal.
func (d *Driver) orient(ctx context.Context, st *State) error {
	result, err := d.deps.Verifier.Run(ctx, d.cfg.Verify.InitCommands, d.deps.WorkDir)
	if err != nil {
		return err
	}

	if !result.Passed {
		d.emit(st, Event{Type: EventVerificationFailed, Message: verify.Summarize(result)})
		if d.tryHeal(ctx, st, healer.ScenarioInitFailure, "", verify.Summarize(result)) == healer.OutcomeResolved {
			result, err = d.deps.Verifier.Run(ctx, d.cfg.Verify.InitCommands, d.deps.WorkDir)
			if err != nil {
				return err
			}
		}
		if !result.Passed {
			return fmt.Errorf("init verification failed (%s): %s", result.FailureType, result.FailedCommand)
		}
	}

	st.TestsPassingAtStart = true
	d.transition(st, models.PhaseDecompose)
	return nil
}

// decompose plans subtasks. A resumed session that already carries its
// decomposition skips planning. Decomposition failures are fatal and
// never healed.
func (d *Driver) decompose(ctx context.Context, st *State) error {
	if len(st.Subtasks) == 0 {
		subtasks, err := d.deps.Decomposer.Decompose(ctx, st.Task, d.deps.WorkDir)
		if err != nil {
			return fmt.Errorf("decompose task %s: %w", st.Task.ID, err)
		}
		st.Subtasks = subtasks
		d.emit(st, Event{Type: EventDecompositionComplete, Message: fmt.Sprintf("%d subtasks", len(subtasks))})
	}
	d.transition(st, models.PhaseExecute)
	return nil
}

// execute runs every non-completed subtask in order. Completed subtasks
// from a resumed checkpoint are never re-run.
func (d *Driver) execute(ctx context.Context, st *State) error {
	for _, sub := range st.Subtasks {
		if sub.Status == models.SubtaskStatusCompleted {
			continue
		}
		if err := d.runSubtask(ctx, st, sub); err != nil {
			return err
		}
		d.writeCheckpoint(st)
	}
	d.transition(st, models.PhaseVerify)
	return nil
}

// runSubtask drives one subtask through its retry loop: invoke the
// subagent, and on failure consult the healer, then reflect, then retry
// until the consecutive-failure budget is spent.
func (d *Driver) runSubtask(ctx context.Context, st *State, sub *models.Subtask) error {
	if sub.StartedAt == nil {
		now := time.Now()
		sub.StartedAt = &now
	}
	d.emit(st, Event{Type: EventSubtaskStarted, SubtaskID: sub.ID})

	for sub.FailureCount < d.cfg.Orchestrator.MaxConsecutiveFailures {
		sub.Status = models.SubtaskStatusInProgress
		result, err := d.deps.Router.Invoke(ctx, subagent.Request{
			Instructions:    sub.Instructions,
			ToolPermissions: subagent.ToolsAll,
			MaxTurns:        d.cfg.Orchestrator.MaxTurns,
			Reflections:     d.reflectionBlock(sub.ID),
			WorkDir:         d.deps.WorkDir,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			result = &subagent.Result{Success: false, Error: err.Error()}
		}

		if result.Success {
			now := time.Now()
			sub.Status = models.SubtaskStatusCompleted
			sub.CompletedAt = &now
			sub.Error = ""
			sub.LastFailureReason = ""
			d.emit(st, Event{Type: EventSubtaskCompleted, SubtaskID: sub.ID})
			return nil
		}

		sub.FailureCount++
		sub.Error = failureDetail(result)
		sub.LastFailureReason = firstLine(sub.Error)
		d.emit(st, Event{Type: EventSubtaskFailed, SubtaskID: sub.ID, Reason: sub.LastFailureReason})

		outcome := d.tryHeal(ctx, st, d.subtaskScenario(sub), sub.ID, sub.Error)
		if outcome == healer.OutcomeResolved {
			// Confirmed fix: the failure streak is broken, retry right away
			// without generating a reflection.
			sub.FailureCount = 0
			sub.Error = ""
			sub.LastFailureReason = ""
			sub.Status = models.SubtaskStatusPending
			d.writeCheckpoint(st)
			continue
		}

		if d.cfg.Reflexion.Enabled {
			d.generateReflection(ctx, st, sub)
		}
		d.writeCheckpoint(st)
	}

	sub.Status = models.SubtaskStatusFailed
	return fmt.Errorf("subtask %s failed after %d consecutive attempts: %s",
		sub.ID, sub.FailureCount, sub.LastFailureReason)
}

// subtaskScenario picks the healer scenario for a failed subtask.
// subtask_failure takes precedence; stuck_subtask is consulted only when
// the former is disabled and the stuck conditions hold.
func (d *Driver) subtaskScenario(sub *models.Subtask) healer.Scenario {
	if !d.cfg.Healer.Scenarios.OnSubtaskFailure && sub.StartedAt != nil &&
		healer.IsStuck(d.cfg.Healer, *sub.StartedAt, sub.FailureCount, time.Now()) {
		return healer.ScenarioStuckSubtask
	}
	return healer.ScenarioSubtaskFailure
}

// verifyWork runs post-work verification. A session resumed at or past
// this phase with verification already recorded does not re-verify.
func (d *Driver) verifyWork(ctx context.Context, st *State) error {
	if st.Resumed && st.TestsPassingAfterWork {
		d.transition(st, models.PhaseCommit)
		return nil
	}

	d.emit(st, Event{Type: EventVerificationStarted})
	result, err := d.deps.Verifier.Run(ctx, d.cfg.Verify.PostCommands, d.deps.WorkDir)
	if err != nil {
		return err
	}

	if !result.Passed {
		d.emit(st, Event{Type: EventVerificationFailed, Message: verify.Summarize(result)})
		if d.tryHeal(ctx, st, healer.ScenarioVerificationFailure, "", verify.Summarize(result)) == healer.OutcomeResolved {
			result, err = d.deps.Verifier.Run(ctx, d.cfg.Verify.PostCommands, d.deps.WorkDir)
			if err != nil {
				return err
			}
		}
		if !result.Passed {
			return fmt.Errorf("verification failed (%s): %s", result.FailureType, result.FailedCommand)
		}
	}

	st.TestsPassingAfterWork = true
	d.emit(st, Event{Type: EventVerificationPassed})
	d.transition(st, models.PhaseCommit)
	return nil
}

// commit stages and commits the work, marks the task done, and clears
// the checkpoint.
func (d *Driver) commit(st *State) error {
	if d.deps.Git != nil {
		hasChanges, err := d.deps.Git.HasChanges()
		if err != nil {
			return fmt.Errorf("inspect working tree: %w", err)
		}
		if hasChanges {
			if err := d.deps.Git.AddAll(); err != nil {
				return fmt.Errorf("stage changes: %w", err)
			}
			message := fmt.Sprintf("%s %s", d.cfg.Orchestrator.CommitPrefix, st.Task.Title)
			if err := d.deps.Git.Commit(message); err != nil {
				return fmt.Errorf("commit changes: %w", err)
			}
		}
	}

	if err := d.deps.Store.UpdateStatus(st.Task.ID, models.TaskStatusDone); err != nil {
		return fmt.Errorf("mark task done: %w", err)
	}

	st.Phase = models.PhaseDone
	if err := d.deps.Checkpoints.Clear(st.Task.ID); err != nil {
		log.Printf("[driver] clear checkpoint for %s: %v", st.Task.ID, err)
	}
	d.emit(st, Event{Type: EventSessionDone})
	return nil
}

// tryHeal consults healer policy, logs the decision, and performs the
// invocation when allowed. Returns the outcome; OutcomeSkipped when
// policy disallowed it.
func (d *Driver) tryHeal(ctx context.Context, st *State, scenario healer.Scenario, subtaskID, errorOutput string) healer.Outcome {
	decision := healer.ShouldRun(d.cfg.Healer, st.HealerCounters, scenario, subtaskID)
	log.Printf("[driver] healer policy scenario=%s allowed=%v reason=%q", scenario, decision.Allowed, decision.Reason)
	if !decision.Allowed {
		d.emit(st, Event{Type: EventHealerSkipped, SubtaskID: subtaskID, Reason: decision.Reason})
		return healer.OutcomeSkipped
	}
	if d.deps.Healer == nil {
		d.emit(st, Event{Type: EventHealerSkipped, SubtaskID: subtaskID, Reason: "healer not configured"})
		return healer.OutcomeSkipped
	}

	st.HealerCounters = st.HealerCounters.Increment(subtaskID)
	d.emit(st, Event{Type: EventHealerInvoked, SubtaskID: subtaskID, Message: string(scenario)})

	gitStatus := ""
	if d.deps.Git != nil {
		gitStatus, _ = d.deps.Git.Status()
	}

	inv, err := d.deps.Healer.Heal(ctx, healer.HealContext{
		Scenario:    scenario,
		TaskID:      st.Task.ID,
		SubtaskID:   subtaskID,
		ErrorOutput: errorOutput,
		GitStatus:   gitStatus,
		WorkDir:     d.deps.WorkDir,
	})
	if err != nil {
		log.Printf("[driver] healer invocation failed: %v", err)
		return healer.OutcomeUnresolved
	}
	if inv.Outcome == healer.OutcomeResolved {
		d.emit(st, Event{Type: EventHealerResolved, SubtaskID: subtaskID, Message: string(scenario)})
	}
	return inv.Outcome
}

// reflectionBlock renders the most recent reflections for a subtask as
// a prompt block, bounded by the per-retry cap.
func (d *Driver) reflectionBlock(subtaskID string) string {
	if !d.cfg.Reflexion.Enabled || d.deps.ReflectionStore == nil {
		return ""
	}
	recent, err := d.deps.ReflectionStore.RecentForSubtask(subtaskID, d.cfg.Reflexion.MaxReflectionsPerRetry)
	if err != nil {
		log.Printf("[driver] load reflections for %s: %v", subtaskID, err)
		return ""
	}
	return reflexion.FormatForPrompt(recent)
}

// generateReflection produces and persists a reflection for the
// subtask's latest failure. Generation problems are logged, never fatal.
func (d *Driver) generateReflection(ctx context.Context, st *State, sub *models.Subtask) {
	if d.deps.Reflections == nil {
		return
	}
	r, err := d.deps.Reflections.Generate(ctx, reflexion.FailureContext{
		SessionID:     st.SessionID,
		TaskID:        st.Task.ID,
		TaskTitle:     st.Task.Title,
		SubtaskID:     sub.ID,
		Instructions:  sub.Instructions,
		AttemptNumber: sub.FailureCount,
		ErrorOutput:   sub.Error,
	})
	if err != nil {
		log.Printf("[driver] reflection for %s: %v", sub.ID, err)
		return
	}
	d.emit(st, Event{Type: EventReflectionGenerated, SubtaskID: sub.ID, Message: string(r.Category)})
}

// transition moves to the next phase and checkpoints the new state.
func (d *Driver) transition(st *State, phase models.Phase) {
	st.Phase = phase
	d.writeCheckpoint(st)
}

// writeCheckpoint snapshots the state to disk and emits the event.
// Checkpoint write problems are logged, not fatal: losing resumability
// must not kill a running session.
func (d *Driver) writeCheckpoint(st *State) {
	if err := d.deps.Checkpoints.Write(st.snapshot()); err != nil {
		log.Printf("[driver] write checkpoint: %v", err)
		return
	}
	d.emit(st, Event{Type: EventCheckpointWritten})
}

// fail marks the session and task failed, checkpoints the terminal
// state, and returns the wrapped error.
func (d *Driver) fail(st *State, cause error) error {
	st.Error = cause.Error()
	st.Phase = models.PhaseError
	d.writeCheckpoint(st)

	if err := d.deps.Store.UpdateStatus(st.Task.ID, models.TaskStatusFailed); err != nil {
		log.Printf("[driver] mark task %s failed: %v", st.Task.ID, err)
	}
	d.finishSession(st, task.SessionFailed, st.Error)
	d.emit(st, Event{Type: EventSessionFailed, Message: st.Error})
	return cause
}

// recordSession inserts the session row. Failures are logged; the run
// continues without history.
func (d *Driver) recordSession(st *State) {
	err := d.deps.Store.CreateSession(&task.Session{
		ID:           st.SessionID,
		TaskID:       st.Task.ID,
		Status:       task.SessionActive,
		WorktreePath: d.deps.WorkDir,
		Branch:       d.deps.Branch,
		StartedAt:    time.Now(),
	})
	if err != nil {
		log.Printf("[driver] record session: %v", err)
	}
}

// finishSession marks the session row terminal.
func (d *Driver) finishSession(st *State, status task.SessionStatus, errMsg string) {
	if err := d.deps.Store.FinishSession(st.SessionID, status, errMsg); err != nil {
		log.Printf("[driver] finish session: %v", err)
	}
}

// emit stamps and delivers an event.
func (d *Driver) emit(st *State, e Event) {
	if d.deps.Events == nil {
		return
	}
	e.SessionID = st.SessionID
	if e.TaskID == "" && st.Task != nil {
		e.TaskID = st.Task.ID
	}
	if e.Phase == "" {
		e.Phase = st.Phase
	}
	e.Timestamp = time.Now()
	d.deps.Events(e)
}

// failureDetail picks the most informative failure text from a result.
func failureDetail(result *subagent.Result) string {
	if result.Error != "" {
		return result.Error
	}
	if result.Output != "" {
		return result.Output
	}
	return "subagent reported failure without detail"
}

// firstLine returns the first non-empty line of s, trimmed.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return s
}
