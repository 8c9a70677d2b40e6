package orchestrator

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/droverhq/drover/internal/checkpoint"
	"github.com/droverhq/drover/internal/healer"
	"github.com/droverhq/drover/pkg/models"
)

// resumeOrSelect restores the most recent valid checkpoint, or selects
// and claims a fresh task when none exists. While a valid checkpoint is
// live its task is the only one the driver will work on.
func (d *Driver) resumeOrSelect(ctx context.Context) (*State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sessionID := uuid.New().String()

	cp, err := d.deps.Checkpoints.LoadAny()
	if err != nil {
		log.Printf("[driver] load checkpoint: %v", err)
	}
	if cp != nil {
		st, err := d.restore(cp, sessionID)
		if err != nil {
			return nil, err
		}
		if st != nil {
			return st, nil
		}
	}

	t, err := d.deps.Selector.Next(sessionID)
	if err != nil {
		return nil, fmt.Errorf("select task: %w", err)
	}
	if t == nil {
		return nil, ErrNoReadyTasks
	}
	d.deps.Claims.Acquire(t.ID, sessionID)

	st := &State{
		SessionID:      sessionID,
		Task:           t,
		Phase:          models.PhaseOrient,
		HealerCounters: healer.NewCounters(),
	}
	d.emit(st, Event{Type: EventTaskSelected, Message: t.Title})
	d.emit(st, Event{Type: EventTaskClaimed})
	d.writeCheckpoint(st)
	return st, nil
}

// restore rebuilds session state from a checkpoint. Returns nil state
// when the checkpoint cannot be resumed right now: invalid checkpoints
// are discarded, and a checkpoint held by a live session in this
// process is left alone; either way the caller falls back to fresh
// selection. A store lookup failure is fatal so a transient error
// cannot strand a live checkpoint while another task is selected.
func (d *Driver) restore(cp *checkpoint.Checkpoint, sessionID string) (*State, error) {
	if cp.Phase.Terminal() || !cp.Phase.Valid() {
		d.discard(cp, sessionID, fmt.Sprintf("checkpoint phase %q is not resumable", cp.Phase))
		return nil, nil
	}

	t, err := d.deps.Store.Get(cp.TaskID)
	if err != nil {
		return nil, fmt.Errorf("look up checkpointed task %s: %w", cp.TaskID, err)
	}
	if t == nil {
		d.discard(cp, sessionID, "checkpointed task no longer exists")
		return nil, nil
	}

	if !d.deps.Claims.Acquire(t.ID, sessionID) {
		// A concurrent session owns the task and its checkpoint; leave
		// both alone and select other work.
		log.Printf("[driver] checkpointed task %s is held by a live session", t.ID)
		return nil, nil
	}

	switch t.Status {
	case models.TaskStatusOpen:
		claimed, err := d.deps.Store.Claim(t.ID, sessionID)
		if err != nil || !claimed {
			d.deps.Claims.Release(t.ID, sessionID)
			d.discard(cp, sessionID, "checkpointed task could not be re-claimed")
			return nil, nil
		}
		t.Status = models.TaskStatusInProgress
		t.Assignee = sessionID
	case models.TaskStatusInProgress:
		// Interrupted mid-run; adopt the claim under the new session ID.
		t.Assignee = sessionID
		if err := d.deps.Store.Update(t); err != nil {
			log.Printf("[driver] reassign task %s: %v", t.ID, err)
		}
	default:
		d.deps.Claims.Release(t.ID, sessionID)
		d.discard(cp, sessionID, fmt.Sprintf("checkpointed task is %s", t.Status))
		return nil, nil
	}

	subtasks := make([]*models.Subtask, len(cp.Subtasks))
	for i := range cp.Subtasks {
		sub := cp.Subtasks[i]
		// The completed set is authoritative even if a crash landed
		// between the status update and the list append.
		if cp.Completed(sub.ID) {
			sub.Status = models.SubtaskStatusCompleted
		}
		subtasks[i] = &sub
	}

	counters := cp.HealerCounters
	if counters.PerSubtask == nil {
		counters.PerSubtask = make(map[string]int)
	}

	st := &State{
		SessionID:             sessionID,
		Task:                  t,
		Phase:                 cp.Phase,
		Subtasks:              subtasks,
		HealerCounters:        counters,
		TestsPassingAtStart:   cp.TestsPassingAtStart,
		TestsPassingAfterWork: cp.TestsPassingAfterWork,
		Resumed:               true,
	}
	d.emit(st, Event{Type: EventCheckpointResumed, Message: fmt.Sprintf("resuming at %s, %d/%d subtasks done", cp.Phase, len(cp.CompletedSubtaskIDs), len(cp.Subtasks))})
	return st, nil
}

// discard drops an unusable checkpoint and reports why.
func (d *Driver) discard(cp *checkpoint.Checkpoint, sessionID, reason string) {
	if err := d.deps.Checkpoints.Clear(cp.TaskID); err != nil {
		log.Printf("[driver] discard checkpoint for %s: %v", cp.TaskID, err)
	}
	if d.deps.Events != nil {
		d.deps.Events(Event{
			Type:      EventCheckpointDiscarded,
			SessionID: sessionID,
			TaskID:    cp.TaskID,
			Reason:    reason,
			Timestamp: time.Now(),
		})
	}
	log.Printf("[driver] discarded checkpoint for %s: %s", cp.TaskID, reason)
}
