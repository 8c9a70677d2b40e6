// Package checkpoint persists orchestrator progress after every phase
// transition so an interrupted session can resume where it stopped.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/droverhq/drover/internal/healer"
	"github.com/droverhq/drover/pkg/models"
)

// Checkpoint is the durable snapshot of one session's progress. It is
// written after each phase transition and read exactly once at startup.
type Checkpoint struct {
	// SessionID is the session that wrote the checkpoint.
	SessionID string `json:"session_id"`
	// TaskID is the selected task.
	TaskID string `json:"task_id"`
	// Phase is the phase the session had reached.
	Phase models.Phase `json:"phase"`
	// CompletedSubtaskIDs lists subtasks that finished and are never re-run.
	CompletedSubtaskIDs []string `json:"completed_subtask_ids"`
	// Subtasks is the full decomposition with per-subtask state.
	Subtasks []models.Subtask `json:"subtasks,omitempty"`
	// HealerCounters carries invocation counts across a resume.
	HealerCounters healer.Counters `json:"healer_counters"`
	// TestsPassingAtStart records the orientation verification result.
	TestsPassingAtStart bool `json:"tests_passing_at_start"`
	// TestsPassingAfterWork records the post-work verification result.
	TestsPassingAfterWork bool `json:"tests_passing_after_work"`
	// Error is the terminal error message, if the session failed.
	Error string `json:"error,omitempty"`
	// UpdatedAt is when the checkpoint was last written.
	UpdatedAt time.Time `json:"updated_at"`
}

// Completed reports whether the given subtask is recorded as completed.
func (c *Checkpoint) Completed(subtaskID string) bool {
	for _, id := range c.CompletedSubtaskIDs {
		if id == subtaskID {
			return true
		}
	}
	return false
}

// Manager reads and writes checkpoints under a state directory, one
// checkpoint file per task.
type Manager struct {
	stateDir string
}

// NewManager creates a Manager rooted at the given state directory.
func NewManager(stateDir string) *Manager {
	return &Manager{stateDir: stateDir}
}

// PathFor returns the checkpoint file path for a task.
func (m *Manager) PathFor(taskID string) string {
	return filepath.Join(m.stateDir, "sessions", taskID, "checkpoint.json")
}

// Write durably persists a checkpoint. The write goes through a temp
// file and rename so a crash mid-write never leaves a torn checkpoint.
func (m *Manager) Write(c *Checkpoint) error {
	c.UpdatedAt = time.Now()

	path := m.PathFor(c.TaskID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create checkpoint directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	return nil
}

// Load reads the checkpoint for a task. Returns nil when none exists.
func (m *Manager) Load(taskID string) (*Checkpoint, error) {
	data, err := os.ReadFile(m.PathFor(taskID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse checkpoint: %w", err)
	}
	if c.HealerCounters.PerSubtask == nil {
		c.HealerCounters.PerSubtask = make(map[string]int)
	}
	return &c, nil
}

// LoadAny returns the most recently updated checkpoint across all
// tasks, or nil when none exists.
func (m *Manager) LoadAny() (*Checkpoint, error) {
	sessionsDir := filepath.Join(m.stateDir, "sessions")
	entries, err := os.ReadDir(sessionsDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sessions directory: %w", err)
	}

	var newest *Checkpoint
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		c, err := m.Load(entry.Name())
		if err != nil || c == nil {
			continue
		}
		if newest == nil || c.UpdatedAt.After(newest.UpdatedAt) {
			newest = c
		}
	}
	return newest, nil
}

// Clear removes the checkpoint for a task. Missing checkpoints are not
// an error.
func (m *Manager) Clear(taskID string) error {
	err := os.Remove(m.PathFor(taskID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear checkpoint: %w", err)
	}
	// Best effort; the directory may hold other session artifacts.
	os.Remove(filepath.Dir(m.PathFor(taskID)))
	return nil
}
