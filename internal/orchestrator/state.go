package orchestrator

import (
	"github.com/droverhq/drover/internal/checkpoint"
	"github.com/droverhq/drover/internal/healer"
	"github.com/droverhq/drover/pkg/models"
)

// State is the in-memory state of one driver session. It is the source
// of truth while running; checkpoints are snapshots of it.
type State struct {
	// SessionID identifies this run.
	SessionID string
	// Task is the claimed task.
	Task *models.Task
	// Phase is the current state-machine phase.
	Phase models.Phase
	// Subtasks is the ordered decomposition.
	Subtasks []*models.Subtask
	// HealerCounters tracks healer invocations across the session,
	// surviving resume.
	HealerCounters healer.Counters
	// TestsPassingAtStart records whether orientation verification passed.
	TestsPassingAtStart bool
	// TestsPassingAfterWork records whether post-work verification passed.
	// A resumed session at or past the verify phase with this set does not
	// re-verify.
	TestsPassingAfterWork bool
	// Resumed is true when the session was restored from a checkpoint.
	Resumed bool
	// Error is the terminal error message when the session fails.
	Error string
}

// completedSubtaskIDs lists the IDs of subtasks recorded as completed.
func (s *State) completedSubtaskIDs() []string {
	var ids []string
	for _, sub := range s.Subtasks {
		if sub.Status == models.SubtaskStatusCompleted {
			ids = append(ids, sub.ID)
		}
	}
	return ids
}

// snapshot builds a checkpoint from the current state.
func (s *State) snapshot() *checkpoint.Checkpoint {
	subtasks := make([]models.Subtask, len(s.Subtasks))
	for i, sub := range s.Subtasks {
		subtasks[i] = *sub
	}
	return &checkpoint.Checkpoint{
		SessionID:             s.SessionID,
		TaskID:                s.Task.ID,
		Phase:                 s.Phase,
		CompletedSubtaskIDs:   s.completedSubtaskIDs(),
		Subtasks:              subtasks,
		HealerCounters:        s.HealerCounters,
		TestsPassingAtStart:   s.TestsPassingAtStart,
		TestsPassingAfterWork: s.TestsPassingAfterWork,
		Error:                 s.Error,
	}
}
