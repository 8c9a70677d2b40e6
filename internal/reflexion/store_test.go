package reflexion

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "reflections.jsonl"))
}

func record(subtaskID string, attempt int, createdAt time.Time) *Reflection {
	return &Reflection{
		ID:            fmt.Sprintf("%s-%d", subtaskID, attempt),
		SubtaskID:     subtaskID,
		AttemptNumber: attempt,
		Category:      CategoryRootCause,
		Analysis:      "analysis",
		CreatedAt:     createdAt,
	}
}

func TestAppendAndRecentForSubtask(t *testing.T) {
	store := tempStore(t)
	now := time.Now()

	for i := 1; i <= 5; i++ {
		if err := store.Append(record("s1", i, now)); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	if err := store.Append(record("s2", 1, now)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	got, err := store.RecentForSubtask("s1", 3)
	if err != nil {
		t.Fatalf("RecentForSubtask failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d reflections, want 3", len(got))
	}
	// Newest first: attempts 5, 4, 3.
	for i, want := range []int{5, 4, 3} {
		if got[i].AttemptNumber != want {
			t.Errorf("got[%d].AttemptNumber = %d, want %d", i, got[i].AttemptNumber, want)
		}
	}
}

func TestRecentForSubtaskEmptyStore(t *testing.T) {
	store := tempStore(t)
	got, err := store.RecentForSubtask("s1", 3)
	if err != nil {
		t.Fatalf("RecentForSubtask failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d reflections from empty store", len(got))
	}
}

func TestReadSkipsCorruptLines(t *testing.T) {
	store := tempStore(t)
	now := time.Now()
	if err := store.Append(record("s1", 1, now)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	f, err := os.OpenFile(store.path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	f.WriteString("{not json\n")
	f.Close()

	if err := store.Append(record("s1", 2, now)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	got, err := store.RecentForSubtask("s1", 10)
	if err != nil {
		t.Fatalf("RecentForSubtask failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d reflections, want 2 (corrupt line skipped)", len(got))
	}
}

func TestPurge(t *testing.T) {
	store := tempStore(t)
	now := time.Now()

	if err := store.Append(record("s1", 1, now.AddDate(0, 0, -40))); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := store.Append(record("s1", 2, now)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	dropped, err := store.Purge(30, now)
	if err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	if dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}

	got, _ := store.RecentForSubtask("s1", 10)
	if len(got) != 1 || got[0].AttemptNumber != 2 {
		t.Errorf("remaining = %+v", got)
	}
}
