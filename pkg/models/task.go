// Package models defines the shared data types for tasks, subtasks, and
// driver phases.
package models

import "time"

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	// TaskStatusOpen means the task is ready to be claimed.
	TaskStatusOpen TaskStatus = "open"
	// TaskStatusInProgress means a session has claimed the task.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusBlocked means the task is waiting on something external.
	TaskStatusBlocked TaskStatus = "blocked"
	// TaskStatusDone means the task completed successfully.
	TaskStatusDone TaskStatus = "done"
	// TaskStatusFailed means the task's session gave up on it.
	TaskStatusFailed TaskStatus = "failed"
)

// Valid returns true if the status is a known task status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusOpen, TaskStatusInProgress, TaskStatusBlocked, TaskStatusDone, TaskStatusFailed:
		return true
	}
	return false
}

// Terminal returns true if the status ends the task's lifecycle.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusDone || s == TaskStatusFailed
}

// Priority levels. Lower values are more urgent.
const (
	// PriorityCritical is worked before everything else.
	PriorityCritical = 0
	// PriorityHigh is urgent but not an incident.
	PriorityHigh = 1
	// PriorityNormal is the default.
	PriorityNormal = 2
	// PriorityLow can wait.
	PriorityLow = 3
	// PriorityBacklog is picked up only when nothing else is ready.
	PriorityBacklog = 4
)

// Task is one unit of work in the queue.
type Task struct {
	// ID uniquely identifies the task.
	ID string `json:"id"`
	// Title is the short human-readable summary.
	Title string `json:"title"`
	// Description is the longer context given to the subagent.
	Description string `json:"description,omitempty"`
	// Status is the current lifecycle state.
	Status TaskStatus `json:"status"`
	// Priority orders ready tasks; lower is more urgent.
	Priority int `json:"priority"`
	// DependsOn lists task IDs that must be done before this one is ready.
	DependsOn []string `json:"depends_on,omitempty"`
	// Assignee is the session currently claiming the task, if any.
	Assignee string `json:"assignee,omitempty"`
	// CreatedAt is when the task was added.
	CreatedAt time.Time `json:"created_at"`
	// CompletedAt is when the task reached a terminal status, if it has.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
