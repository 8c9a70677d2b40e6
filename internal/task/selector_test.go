package task

import (
	"testing"
	"time"

	"github.com/droverhq/drover/pkg/models"
)

func TestSelectorNextPicksByPriority(t *testing.T) {
	store := setupTestStore(t)
	low := newTask("low", models.PriorityLow)
	low.CreatedAt = time.Now().Add(-time.Hour)
	high := newTask("high", models.PriorityCritical)
	for _, task := range []*models.Task{low, high} {
		if err := store.Create(task); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	sel := NewSelector(store)
	got, err := sel.Next("session-a")
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if got == nil || got.ID != "high" {
		t.Fatalf("Next = %v, want high", got)
	}
	if got.Status != models.TaskStatusInProgress {
		t.Errorf("selected task not claimed: %s", got.Status)
	}
}

func TestSelectorNextNoneReady(t *testing.T) {
	store := setupTestStore(t)
	blocked := newTask("blocked", models.PriorityNormal, "missing-dep")
	if err := store.Create(blocked); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	sel := NewSelector(store)
	got, err := sel.Next("session-a")
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if got != nil {
		t.Errorf("Next = %v, want nil", got)
	}
}

func TestSelectorSkipsAlreadyClaimed(t *testing.T) {
	store := setupTestStore(t)
	a := newTask("a", models.PriorityNormal)
	a.CreatedAt = time.Now().Add(-time.Minute)
	b := newTask("b", models.PriorityNormal)
	for _, task := range []*models.Task{a, b} {
		if err := store.Create(task); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	// Another session grabs the first candidate out from under us.
	if _, err := store.Claim("a", "session-other"); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}

	sel := NewSelector(store)
	got, err := sel.Next("session-a")
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if got == nil || got.ID != "b" {
		t.Fatalf("Next = %v, want b", got)
	}
}
