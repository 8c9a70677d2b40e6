// Package verify runs configured shell verification commands and
// classifies their failures.
package verify

import (
	"context"
	"fmt"
	"strings"

	"github.com/droverhq/drover/internal/exec"
)

// FailureType classifies why a verification command failed.
type FailureType string

const (
	// FailureTypecheck indicates a compiler or typechecker error.
	FailureTypecheck FailureType = "typecheck_failed"
	// FailureTest indicates a failing test assertion.
	FailureTest FailureType = "test_failed"
	// FailureNetwork indicates a network problem during verification.
	FailureNetwork FailureType = "network_error"
	// FailureDiskFull indicates the disk ran out of space.
	FailureDiskFull FailureType = "disk_full"
	// FailurePermission indicates a filesystem permission problem.
	FailurePermission FailureType = "permission_denied"
	// FailureUnknown is used when no pattern matched.
	FailureUnknown FailureType = "unknown"
)

// Result holds the outcome of a verification run.
type Result struct {
	// Passed is true when every command exited successfully.
	Passed bool
	// Outputs contains the combined output of each command run, in order,
	// including the failing command's output when Passed is false.
	Outputs []string
	// FailedCommand is the command that failed, if any.
	FailedCommand string
	// FailureType classifies the failure, if any.
	FailureType FailureType
}

// Verifier runs an ordered list of shell commands, stopping at the first
// failure. It is used both for orientation pre-flight checks and for
// post-work verification.
type Verifier struct {
	runner exec.CommandRunner
}

// New creates a Verifier using the given command runner.
func New(runner exec.CommandRunner) *Verifier {
	return &Verifier{runner: runner}
}

// Run executes commands sequentially in cwd. It stops at the first failing
// command and returns all output captured up to and including that point.
func (v *Verifier) Run(ctx context.Context, commands []string, cwd string) (*Result, error) {
	result := &Result{Passed: true}

	for _, command := range commands {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		out, err := v.runner.RunShell(ctx, cwd, command)
		result.Outputs = append(result.Outputs, string(out))
		if err != nil {
			result.Passed = false
			result.FailedCommand = command
			result.FailureType = Classify(string(out) + "\n" + err.Error())
			return result, nil
		}
	}

	return result, nil
}

// Classify maps command output to a failure type by pattern matching.
func Classify(output string) FailureType {
	lower := strings.ToLower(output)
	switch {
	case strings.Contains(lower, "no space left on device") || strings.Contains(lower, "disk full"):
		return FailureDiskFull
	case strings.Contains(lower, "permission denied") || strings.Contains(lower, "operation not permitted"):
		return FailurePermission
	case strings.Contains(lower, "network") || strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "timeout") && strings.Contains(lower, "dial"):
		return FailureNetwork
	case strings.Contains(lower, "type error") || strings.Contains(lower, "cannot use") ||
		strings.Contains(lower, "undefined:") || strings.Contains(lower, "undeclared"):
		return FailureTypecheck
	case strings.Contains(lower, "--- fail") || strings.Contains(lower, "test failed") ||
		strings.Contains(lower, "assertion") || strings.Contains(lower, "expected"):
		return FailureTest
	default:
		return FailureUnknown
	}
}

// Summarize renders a short human-readable summary of a result, suitable
// for healer and reflection context.
func Summarize(r *Result) string {
	if r.Passed {
		return fmt.Sprintf("all %d verification commands passed", len(r.Outputs))
	}
	tail := r.Outputs[len(r.Outputs)-1]
	if len(tail) > 2000 {
		tail = tail[len(tail)-2000:]
	}
	return fmt.Sprintf("command %q failed (%s):\n%s", r.FailedCommand, r.FailureType, tail)
}
