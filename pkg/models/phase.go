package models

// Phase is the orchestrator driver's state machine phase.
type Phase string

const (
	// PhaseOrient runs init verification and repo inspection.
	PhaseOrient Phase = "orient"
	// PhaseDecompose turns the selected task into subtasks.
	PhaseDecompose Phase = "decompose"
	// PhaseExecute runs subtasks through the subagent.
	PhaseExecute Phase = "execute"
	// PhaseVerify runs post-work verification.
	PhaseVerify Phase = "verify"
	// PhaseCommit commits the completed work.
	PhaseCommit Phase = "commit"
	// PhaseDone is the successful terminal phase.
	PhaseDone Phase = "done"
	// PhaseError is the failed terminal phase.
	PhaseError Phase = "error"
)

// Valid returns true if the phase is a known phase.
func (p Phase) Valid() bool {
	switch p {
	case PhaseOrient, PhaseDecompose, PhaseExecute, PhaseVerify, PhaseCommit, PhaseDone, PhaseError:
		return true
	}
	return false
}

// Terminal returns true if the phase ends the session.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseError
}

// phaseOrder maps phases to their position in the normal progression.
var phaseOrder = map[Phase]int{
	PhaseOrient:    0,
	PhaseDecompose: 1,
	PhaseExecute:   2,
	PhaseVerify:    3,
	PhaseCommit:    4,
	PhaseDone:      5,
	PhaseError:     5,
}

// Before reports whether p precedes other in the normal progression.
func (p Phase) Before(other Phase) bool {
	return phaseOrder[p] < phaseOrder[other]
}
