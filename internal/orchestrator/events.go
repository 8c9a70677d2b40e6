package orchestrator

import (
	"time"

	"github.com/droverhq/drover/pkg/models"
)

// EventType identifies a driver lifecycle event.
type EventType string

const (
	EventTaskSelected          EventType = "task_selected"
	EventTaskClaimed           EventType = "task_claimed"
	EventDecompositionComplete EventType = "decomposition_complete"
	EventSubtaskStarted        EventType = "subtask_started"
	EventSubtaskCompleted      EventType = "subtask_completed"
	EventSubtaskFailed         EventType = "subtask_failed"
	EventVerificationStarted   EventType = "verification_started"
	EventVerificationPassed    EventType = "verification_passed"
	EventVerificationFailed    EventType = "verification_failed"
	EventHealerInvoked         EventType = "healer_invoked"
	EventHealerResolved        EventType = "healer_resolved"
	EventHealerSkipped         EventType = "healer_skipped"
	EventReflectionGenerated   EventType = "reflection_generated"
	EventCheckpointWritten     EventType = "checkpoint_written"
	EventCheckpointResumed     EventType = "checkpoint_resumed"
	EventCheckpointDiscarded   EventType = "checkpoint_discarded"
	EventMergeStarted          EventType = "merge_started"
	EventMergeCompleted        EventType = "merge_completed"
	EventSessionDone           EventType = "session_done"
	EventSessionFailed         EventType = "session_failed"
)

// Event is one observable driver occurrence. Fields not relevant to a
// given event type are left zero.
type Event struct {
	// Type identifies the occurrence.
	Type EventType `json:"type"`
	// SessionID is the emitting session.
	SessionID string `json:"session_id"`
	// TaskID is the task being worked on, when one is selected.
	TaskID string `json:"task_id,omitempty"`
	// SubtaskID is the subtask involved, for subtask-scoped events.
	SubtaskID string `json:"subtask_id,omitempty"`
	// Phase is the driver phase at emission time.
	Phase models.Phase `json:"phase,omitempty"`
	// Message carries event-specific detail.
	Message string `json:"message,omitempty"`
	// Reason carries policy decisions and discard explanations.
	Reason string `json:"reason,omitempty"`
	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"timestamp"`
}

// EventHandler receives driver events. Handlers must not block; the
// driver emits synchronously.
type EventHandler func(Event)
