package task

import (
	"fmt"
	"log"

	"github.com/droverhq/drover/pkg/models"
)

// Selector picks the next task to work on and claims it atomically, so
// that concurrent driver instances never double-claim.
type Selector struct {
	store *Store
}

// NewSelector creates a Selector over the given store.
func NewSelector(store *Store) *Selector {
	return &Selector{store: store}
}

// Next returns the highest-priority ready task, claimed for sessionID.
// Returns nil when no task is ready. If a ready task is claimed by a
// concurrent instance between listing and claiming, the next candidate
// is tried.
func (sel *Selector) Next(sessionID string) (*models.Task, error) {
	ready, err := sel.store.GetReadyTasks()
	if err != nil {
		return nil, fmt.Errorf("list ready tasks: %w", err)
	}

	for _, t := range ready {
		claimed, err := sel.store.Claim(t.ID, sessionID)
		if err != nil {
			return nil, fmt.Errorf("claim task %s: %w", t.ID, err)
		}
		if !claimed {
			log.Printf("[selector] task %s claimed by another session, trying next", t.ID)
			continue
		}
		t.Status = models.TaskStatusInProgress
		t.Assignee = sessionID
		return t, nil
	}

	return nil, nil
}
