package models

import "testing"

func TestTaskStatusValid(t *testing.T) {
	valid := []TaskStatus{TaskStatusOpen, TaskStatusInProgress, TaskStatusBlocked, TaskStatusDone, TaskStatusFailed}
	for _, s := range valid {
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
	}
	if TaskStatus("bogus").Valid() {
		t.Error("bogus should not be valid")
	}
}

func TestTaskStatusTerminal(t *testing.T) {
	if !TaskStatusDone.Terminal() || !TaskStatusFailed.Terminal() {
		t.Error("done and failed are terminal")
	}
	if TaskStatusOpen.Terminal() || TaskStatusInProgress.Terminal() || TaskStatusBlocked.Terminal() {
		t.Error("open, in_progress, and blocked are not terminal")
	}
}

func TestSubtaskStatusValid(t *testing.T) {
	valid := []SubtaskStatus{SubtaskStatusPending, SubtaskStatusInProgress, SubtaskStatusCompleted, SubtaskStatusFailed}
	for _, s := range valid {
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
	}
	if SubtaskStatus("bogus").Valid() {
		t.Error("bogus should not be valid")
	}
}

func TestSubtaskID(t *testing.T) {
	if got := SubtaskID("abc123", 1); got != "abc123.1" {
		t.Errorf("SubtaskID = %s, want abc123.1", got)
	}
	if got := SubtaskID("abc123", 12); got != "abc123.12" {
		t.Errorf("SubtaskID = %s, want abc123.12", got)
	}
}

func TestPhaseProgression(t *testing.T) {
	order := []Phase{PhaseOrient, PhaseDecompose, PhaseExecute, PhaseVerify, PhaseCommit}
	for i := 0; i < len(order)-1; i++ {
		if !order[i].Before(order[i+1]) {
			t.Errorf("%s should precede %s", order[i], order[i+1])
		}
	}
	if PhaseVerify.Before(PhaseExecute) {
		t.Error("verify does not precede execute")
	}
}

func TestPhaseTerminal(t *testing.T) {
	if !PhaseDone.Terminal() || !PhaseError.Terminal() {
		t.Error("done and error are terminal")
	}
	if PhaseOrient.Terminal() || PhaseExecute.Terminal() {
		t.Error("working phases are not terminal")
	}
	if Phase("bogus").Valid() {
		t.Error("bogus is not a valid phase")
	}
}
