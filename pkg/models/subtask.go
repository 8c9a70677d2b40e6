package models

import (
	"fmt"
	"time"
)

// SubtaskStatus represents the lifecycle state of a subtask.
type SubtaskStatus string

const (
	// SubtaskStatusPending means the subtask has not started yet.
	SubtaskStatusPending SubtaskStatus = "pending"
	// SubtaskStatusInProgress means the subtask is being executed.
	SubtaskStatusInProgress SubtaskStatus = "in_progress"
	// SubtaskStatusCompleted means the subtask finished successfully.
	SubtaskStatusCompleted SubtaskStatus = "completed"
	// SubtaskStatusFailed means the subtask failed.
	SubtaskStatusFailed SubtaskStatus = "failed"
)

// Valid returns true if the status is a known subtask status.
func (s SubtaskStatus) Valid() bool {
	switch s {
	case SubtaskStatusPending, SubtaskStatusInProgress, SubtaskStatusCompleted, SubtaskStatusFailed:
		return true
	}
	return false
}

// Subtask is an ordered step within a task's decomposition.
type Subtask struct {
	// ID is the hierarchical identifier, "<taskID>.<n>" with n starting at 1.
	ID string `json:"id"`
	// TaskID is the parent task's ID.
	TaskID string `json:"task_id"`
	// Instructions contains what the subagent should do for this step.
	Instructions string `json:"instructions"`
	// Status is the current lifecycle state.
	Status SubtaskStatus `json:"status"`
	// FailureCount is the number of consecutive failed attempts.
	FailureCount int `json:"failure_count"`
	// LastFailureReason is a short description of the most recent failure.
	LastFailureReason string `json:"last_failure_reason,omitempty"`
	// Error holds the raw error output from the most recent failed attempt.
	Error string `json:"error,omitempty"`
	// StartedAt is when execution first began, if it has.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt is when the subtask completed, if it has.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// SubtaskID builds the hierarchical ID for the nth subtask of a task.
// Ordinals start at 1.
func SubtaskID(taskID string, n int) string {
	return fmt.Sprintf("%s.%d", taskID, n)
}
