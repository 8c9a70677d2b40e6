// Package healer implements the bounded recovery subsystem. The driver
// invokes it synchronously at well-defined failure points; eligibility
// is decided by policy checks before any invocation happens.
package healer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/subagent"
)

// Scenario identifies a healer trigger point.
type Scenario string

const (
	// ScenarioInitFailure triggers when orientation verification fails.
	ScenarioInitFailure Scenario = "init_failure"
	// ScenarioSubtaskFailure triggers when a subagent invocation fails.
	ScenarioSubtaskFailure Scenario = "subtask_failure"
	// ScenarioVerificationFailure triggers when post-work verification fails.
	ScenarioVerificationFailure Scenario = "verification_failure"
	// ScenarioRuntimeError triggers on unexpected orchestrator errors.
	ScenarioRuntimeError Scenario = "runtime_error"
	// ScenarioStuckSubtask triggers when a subtask shows no progress for
	// longer than the configured threshold.
	ScenarioStuckSubtask Scenario = "stuck_subtask"
)

// Outcome is the result classification of a healer invocation.
type Outcome string

const (
	// OutcomeResolved means the healer fixed the failure.
	OutcomeResolved Outcome = "resolved"
	// OutcomeContained means the healer made changes but could not
	// confirm the failure is fixed.
	OutcomeContained Outcome = "contained"
	// OutcomeUnresolved means the healer could not fix the failure.
	OutcomeUnresolved Outcome = "unresolved"
	// OutcomeSkipped means policy checks prevented an invocation.
	OutcomeSkipped Outcome = "skipped"
)

// PolicyDecision records whether a healer invocation is allowed and why.
// Every decision is logged regardless of outcome.
type PolicyDecision struct {
	// Allowed is true when the invocation may proceed.
	Allowed bool
	// Reason explains the decision in a fixed, testable phrase.
	Reason string
}

// Counters tracks healer invocations for one session. It is a value
// threaded through call sites; Increment returns an updated copy rather
// than mutating shared state.
type Counters struct {
	// Session is the total number of invocations this session.
	Session int `json:"session"`
	// PerSubtask maps subtask ID to its invocation count.
	PerSubtask map[string]int `json:"per_subtask"`
}

// NewCounters returns zeroed counters.
func NewCounters() Counters {
	return Counters{PerSubtask: make(map[string]int)}
}

// Increment returns a copy of the counters with the session count and
// the given subtask's count bumped. An empty subtaskID bumps only the
// session count.
func (c Counters) Increment(subtaskID string) Counters {
	next := Counters{
		Session:    c.Session + 1,
		PerSubtask: make(map[string]int, len(c.PerSubtask)+1),
	}
	for k, v := range c.PerSubtask {
		next.PerSubtask[k] = v
	}
	if subtaskID != "" {
		next.PerSubtask[subtaskID]++
	}
	return next
}

// ForSubtask returns the invocation count recorded for a subtask.
func (c Counters) ForSubtask(subtaskID string) int {
	return c.PerSubtask[subtaskID]
}

// ShouldRun evaluates eligibility for a healer invocation. Checks run in
// a fixed order: globally enabled, scenario enabled, session counter
// room, subtask counter room. The first failing check wins.
func ShouldRun(cfg config.HealerConfig, counters Counters, scenario Scenario, subtaskID string) PolicyDecision {
	if !cfg.Enabled {
		return PolicyDecision{Allowed: false, Reason: "healer disabled"}
	}
	if !scenarioEnabled(cfg.Scenarios, scenario) {
		return PolicyDecision{Allowed: false, Reason: fmt.Sprintf("scenario %s disabled", scenario)}
	}
	if counters.Session >= cfg.MaxInvocationsPerSession {
		return PolicyDecision{Allowed: false, Reason: fmt.Sprintf("session limit reached (%d/%d)", counters.Session, cfg.MaxInvocationsPerSession)}
	}
	if subtaskID != "" && counters.ForSubtask(subtaskID) >= cfg.MaxInvocationsPerSubtask {
		return PolicyDecision{Allowed: false, Reason: fmt.Sprintf("subtask limit reached (%d/%d)", counters.ForSubtask(subtaskID), cfg.MaxInvocationsPerSubtask)}
	}
	return PolicyDecision{Allowed: true, Reason: fmt.Sprintf("scenario %s eligible", scenario)}
}

// scenarioEnabled maps a scenario to its config toggle.
func scenarioEnabled(s config.HealerScenarios, scenario Scenario) bool {
	switch scenario {
	case ScenarioInitFailure:
		return s.OnInitFailure
	case ScenarioSubtaskFailure:
		return s.OnSubtaskFailure
	case ScenarioVerificationFailure:
		return s.OnVerificationFailure
	case ScenarioRuntimeError:
		return s.OnRuntimeError
	case ScenarioStuckSubtask:
		return s.OnStuckSubtask
	default:
		return false
	}
}

// HealContext carries the failure details given to the healing subagent.
type HealContext struct {
	// Scenario is the trigger point.
	Scenario Scenario
	// TaskID is the task being worked on.
	TaskID string
	// SubtaskID is the failing subtask, when scenario-appropriate.
	SubtaskID string
	// ErrorOutput is the failing command or subagent output.
	ErrorOutput string
	// GitStatus is the porcelain status of the working tree at failure time.
	GitStatus string
	// WorkDir is where the healing subagent operates.
	WorkDir string
}

// Invocation is the record of one healer run.
type Invocation struct {
	// Scenario is the trigger that caused this invocation.
	Scenario Scenario
	// Outcome classifies the result.
	Outcome Outcome
	// Summary is the healing subagent's final output.
	Summary string
	// Key deduplicates repeated identical failures.
	Key string
	// At is when the invocation finished.
	At time.Time
}

// Invoker runs a bounded subagent request. *subagent.Router satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, req subagent.Request) (*subagent.Result, error)
}

// Healer performs bounded recovery invocations through a subagent.
type Healer struct {
	cfg     config.HealerConfig
	invoker Invoker
}

// New creates a Healer with the given config and invoker.
func New(cfg config.HealerConfig, invoker Invoker) *Healer {
	return &Healer{cfg: cfg, invoker: invoker}
}

const healPromptTemplate = `A coding session hit a failure that needs repair before work can continue.

Failure scenario: %s
Task: %s%s

Error output:
%s

Working tree status:
%s

Diagnose the failure and fix it directly in the working tree. Make the
smallest change that addresses the root cause. When you are done, print a
final line that is exactly "STATUS: RESOLVED" if the failure is fixed, or
"STATUS: UNRESOLVED" with a one-line reason if it is not.`

// Heal runs one healing invocation. Callers must have consulted
// ShouldRun first; Heal does not re-check policy.
func (h *Healer) Heal(ctx context.Context, hc HealContext) (*Invocation, error) {
	inv := &Invocation{
		Scenario: hc.Scenario,
		Key:      Key(hc.Scenario, hc.TaskID, hc.SubtaskID, hc.ErrorOutput),
	}

	subtaskLine := ""
	if hc.SubtaskID != "" {
		subtaskLine = fmt.Sprintf("\nSubtask: %s", hc.SubtaskID)
	}
	prompt := fmt.Sprintf(healPromptTemplate, hc.Scenario, hc.TaskID, subtaskLine, truncate(hc.ErrorOutput, 4000), hc.GitStatus)

	result, err := h.invoker.Invoke(ctx, subagent.Request{
		Instructions:    prompt,
		ToolPermissions: subagent.ToolsAll,
		MaxTurns:        h.cfg.MaxTurns,
		WorkDir:         hc.WorkDir,
	})
	if err != nil {
		return nil, fmt.Errorf("healer invocation: %w", err)
	}

	inv.Summary = result.Output
	inv.At = time.Now()
	inv.Outcome = classifyOutcome(result)
	log.Printf("[healer] scenario=%s outcome=%s key=%s", hc.Scenario, inv.Outcome, inv.Key[:12])
	return inv, nil
}

// classifyOutcome maps a subagent result to a healer outcome.
func classifyOutcome(result *subagent.Result) Outcome {
	if !result.Success {
		return OutcomeUnresolved
	}
	out := strings.ToUpper(result.Output)
	switch {
	case strings.Contains(out, "STATUS: RESOLVED"):
		return OutcomeResolved
	case strings.Contains(out, "STATUS: UNRESOLVED"):
		return OutcomeUnresolved
	default:
		// Work happened but the subagent never confirmed the fix.
		return OutcomeContained
	}
}

// Key builds a stable dedup key for a failure: identical failures at the
// same point hash to the same key.
func Key(scenario Scenario, taskID, subtaskID, errorOutput string) string {
	head := errorOutput
	if len(head) > 500 {
		head = head[:500]
	}
	sum := sha256.Sum256([]byte(string(scenario) + "|" + taskID + "|" + subtaskID + "|" + strings.TrimSpace(head)))
	return hex.EncodeToString(sum[:])
}

// IsStuck reports whether a subtask qualifies for the stuck scenario:
// running longer than the threshold with at least the configured number
// of consecutive failures.
func IsStuck(cfg config.HealerConfig, startedAt time.Time, failureCount int, now time.Time) bool {
	if startedAt.IsZero() {
		return false
	}
	threshold := time.Duration(cfg.StuckThresholdHours * float64(time.Hour))
	return now.Sub(startedAt) >= threshold && failureCount >= cfg.StuckMinConsecutiveFailures
}

// truncate limits s to n bytes, keeping the head.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n... (truncated)"
}
