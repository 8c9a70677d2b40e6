package orchestrator

import (
	"context"
	"testing"

	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/subagent"
	"github.com/droverhq/drover/pkg/models"
)

func testTask() *models.Task {
	return &models.Task{ID: "t1", Title: "Build the widget", Description: "A widget with knobs."}
}

func TestDecomposeParsesSteps(t *testing.T) {
	inv := &scriptedInvoker{}
	inv.push(&subagent.Result{Success: true, Output: `Here is the plan:
[
  {"instructions": "Define the widget type"},
  {"instructions": "Wire the knobs"},
  {"instructions": "Add tests"}
]
Let me know if you need more detail.`})

	d := NewDecomposer(inv, config.Default().Orchestrator)
	subtasks, err := d.Decompose(context.Background(), testTask(), "")
	if err != nil {
		t.Fatalf("Decompose failed: %v", err)
	}

	if len(subtasks) != 3 {
		t.Fatalf("got %d subtasks, want 3", len(subtasks))
	}
	for i, sub := range subtasks {
		if want := models.SubtaskID("t1", i+1); sub.ID != want {
			t.Errorf("subtask %d ID = %s, want %s", i, sub.ID, want)
		}
		if sub.TaskID != "t1" {
			t.Errorf("subtask %d TaskID = %s, want t1", i, sub.TaskID)
		}
		if sub.Status != models.SubtaskStatusPending {
			t.Errorf("subtask %d status = %s, want pending", i, sub.Status)
		}
	}
	if subtasks[1].Instructions != "Wire the knobs" {
		t.Errorf("Instructions = %q", subtasks[1].Instructions)
	}
}

func TestDecomposeCapsSubtaskCount(t *testing.T) {
	cfg := config.Default().Orchestrator
	cfg.MaxSubtasks = 2

	inv := &scriptedInvoker{}
	inv.push(&subagent.Result{Success: true, Output: `[
		{"instructions": "one"}, {"instructions": "two"}, {"instructions": "three"}
	]`})

	d := NewDecomposer(inv, cfg)
	subtasks, err := d.Decompose(context.Background(), testTask(), "")
	if err != nil {
		t.Fatalf("Decompose failed: %v", err)
	}
	if len(subtasks) != 2 {
		t.Errorf("got %d subtasks, want cap of 2", len(subtasks))
	}
	if subtasks[1].Instructions != "two" {
		t.Errorf("cap should keep the first steps, got %q", subtasks[1].Instructions)
	}
}

func TestDecomposeRejectsEmptyPlan(t *testing.T) {
	inv := &scriptedInvoker{}
	inv.push(&subagent.Result{Success: true, Output: `[]`})

	d := NewDecomposer(inv, config.Default().Orchestrator)
	if _, err := d.Decompose(context.Background(), testTask(), ""); err == nil {
		t.Error("empty decomposition should be an error")
	}
}

func TestDecomposeRejectsNonJSON(t *testing.T) {
	inv := &scriptedInvoker{}
	inv.push(&subagent.Result{Success: true, Output: "I would split this into two parts."})

	d := NewDecomposer(inv, config.Default().Orchestrator)
	if _, err := d.Decompose(context.Background(), testTask(), ""); err == nil {
		t.Error("prose without a JSON array should be an error")
	}
}

func TestDecomposeWithoutInvokerIsTrivial(t *testing.T) {
	d := NewDecomposer(nil, config.Default().Orchestrator)
	subtasks, err := d.Decompose(context.Background(), testTask(), "")
	if err != nil {
		t.Fatalf("Decompose failed: %v", err)
	}
	if len(subtasks) != 1 {
		t.Fatalf("got %d subtasks, want 1", len(subtasks))
	}
	if subtasks[0].ID != "t1.1" {
		t.Errorf("ID = %s, want t1.1", subtasks[0].ID)
	}
	got := subtasks[0].Instructions
	if got == "" || got == "Build the widget" {
		t.Errorf("trivial instructions should include the description, got %q", got)
	}
}
