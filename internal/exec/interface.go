// Package exec provides command execution abstraction for testability.
package exec

import "context"

// CommandRunner abstracts subprocess execution so callers can be tested
// with fakes instead of spawning real processes.
type CommandRunner interface {
	// Run executes a command in the given working directory and returns
	// combined stdout/stderr output.
	Run(ctx context.Context, workDir string, name string, args ...string) ([]byte, error)
	// RunShell executes a shell command line through "sh -c".
	RunShell(ctx context.Context, workDir string, command string) ([]byte, error)
	// CommandExists reports whether the named binary is on PATH.
	CommandExists(name string) bool
}
