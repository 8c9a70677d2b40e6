// Package subagent provides pluggable coding-subagent backends and the
// router that dispatches work to them.
package subagent

import "context"

// ToolPermissions controls what tools a subagent invocation may use.
type ToolPermissions string

const (
	// ToolsReadOnly allows only read and search tools.
	ToolsReadOnly ToolPermissions = "read_only"
	// ToolsEdit allows read tools plus file edits.
	ToolsEdit ToolPermissions = "edit"
	// ToolsAll allows all tools including shell execution.
	ToolsAll ToolPermissions = "all"
)

// Request describes one subagent invocation.
type Request struct {
	// Instructions is the prompt for the subagent.
	Instructions string
	// ToolPermissions constrains the tools the subagent may use.
	ToolPermissions ToolPermissions
	// MaxTurns bounds the invocation's agentic loop.
	MaxTurns int
	// Reflections is an optional pre-formatted block of prior-failure
	// reflections. The backend embeds it verbatim; it never interprets
	// the content.
	Reflections string
	// WorkDir is the directory the subagent operates in.
	WorkDir string
}

// Result is the uniform outcome shape returned by every backend.
type Result struct {
	// Success is true when the backend reports the work completed.
	Success bool
	// Diff contains the change produced, when the backend reports one.
	Diff string
	// Output is the backend's final textual output.
	Output string
	// Error holds failure details when Success is false.
	Error string
}

// Backend is one interchangeable coding-subagent implementation.
type Backend interface {
	// Name identifies the backend ("cli", "api", "bedrock").
	Name() string
	// Available reports whether the backend can currently serve calls.
	Available() bool
	// Invoke runs the request to completion. A failed invocation returns
	// a Result with Success=false; the error return is reserved for
	// transport-level problems (process spawn, network).
	Invoke(ctx context.Context, req Request) (*Result, error)
}
