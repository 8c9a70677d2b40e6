package checkpoint

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/droverhq/drover/internal/healer"
	"github.com/droverhq/drover/pkg/models"
)

func testCheckpoint() *Checkpoint {
	counters := healer.NewCounters().Increment("t1.1")
	return &Checkpoint{
		SessionID:           "sess",
		TaskID:              "t1",
		Phase:               models.PhaseVerify,
		CompletedSubtaskIDs: []string{"t1.1", "t1.2"},
		Subtasks: []models.Subtask{
			{ID: "t1.1", TaskID: "t1", Status: models.SubtaskStatusCompleted},
			{ID: "t1.2", TaskID: "t1", Status: models.SubtaskStatusCompleted},
			{ID: "t1.3", TaskID: "t1", Status: models.SubtaskStatusPending},
		},
		HealerCounters:      counters,
		TestsPassingAtStart: true,
	}
}

func TestWriteLoadRoundTrip(t *testing.T) {
	m := NewManager(t.TempDir())
	want := testCheckpoint()

	if err := m.Write(want); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	got, err := m.Load("t1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got == nil {
		t.Fatal("Load returned nil for existing checkpoint")
	}

	if got.Phase != want.Phase {
		t.Errorf("Phase = %s, want %s", got.Phase, want.Phase)
	}
	if !reflect.DeepEqual(got.CompletedSubtaskIDs, want.CompletedSubtaskIDs) {
		t.Errorf("CompletedSubtaskIDs = %v, want %v", got.CompletedSubtaskIDs, want.CompletedSubtaskIDs)
	}
	if got.HealerCounters.Session != 1 || got.HealerCounters.ForSubtask("t1.1") != 1 {
		t.Errorf("HealerCounters = %+v", got.HealerCounters)
	}
	if len(got.Subtasks) != 3 || got.Subtasks[2].Status != models.SubtaskStatusPending {
		t.Errorf("Subtasks = %+v", got.Subtasks)
	}
}

func TestWriteIsIdempotentForEquivalentState(t *testing.T) {
	m := NewManager(t.TempDir())
	c := testCheckpoint()

	if err := m.Write(c); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	first, _ := m.Load("t1")

	if err := m.Write(first); err != nil {
		t.Fatalf("second Write failed: %v", err)
	}
	second, _ := m.Load("t1")

	if first.Phase != second.Phase ||
		!reflect.DeepEqual(first.CompletedSubtaskIDs, second.CompletedSubtaskIDs) ||
		!reflect.DeepEqual(first.HealerCounters, second.HealerCounters) {
		t.Error("write/load cycle should reproduce an equivalent checkpoint")
	}
}

func TestLoadMissing(t *testing.T) {
	m := NewManager(t.TempDir())
	got, err := m.Load("nope")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got != nil {
		t.Error("expected nil for missing checkpoint")
	}
}

func TestWriteLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)
	if err := m.Write(testCheckpoint()); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	taskDir := filepath.Dir(m.PathFor("t1"))
	entries, err := os.ReadDir(taskDir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "checkpoint.json" {
		t.Errorf("unexpected files in checkpoint dir: %v", entries)
	}
}

func TestClear(t *testing.T) {
	m := NewManager(t.TempDir())
	if err := m.Write(testCheckpoint()); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := m.Clear("t1"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	got, _ := m.Load("t1")
	if got != nil {
		t.Error("checkpoint should be gone after Clear")
	}

	// Clearing again is not an error.
	if err := m.Clear("t1"); err != nil {
		t.Errorf("second Clear failed: %v", err)
	}
}

func TestLoadAnyPicksNewest(t *testing.T) {
	m := NewManager(t.TempDir())

	older := testCheckpoint()
	older.TaskID = "t-old"
	if err := m.Write(older); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	newer := testCheckpoint()
	newer.TaskID = "t-new"
	if err := m.Write(newer); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	got, err := m.LoadAny()
	if err != nil {
		t.Fatalf("LoadAny failed: %v", err)
	}
	if got == nil || got.TaskID != "t-new" {
		t.Errorf("LoadAny = %v, want t-new", got)
	}
}

func TestCompleted(t *testing.T) {
	c := testCheckpoint()
	if !c.Completed("t1.1") || !c.Completed("t1.2") {
		t.Error("recorded subtasks should report completed")
	}
	if c.Completed("t1.3") {
		t.Error("pending subtask should not report completed")
	}
}
