package subagent

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/droverhq/drover/internal/exec"
)

// CLIBackend runs subtasks through the claude CLI in non-interactive
// print mode.
type CLIBackend struct {
	binary string
	model  string
	runner exec.CommandRunner
}

// NewCLIBackend creates a CLI backend using the given binary and model.
func NewCLIBackend(binary, model string, runner exec.CommandRunner) *CLIBackend {
	if binary == "" {
		binary = "claude"
	}
	return &CLIBackend{binary: binary, model: model, runner: runner}
}

// Name identifies this backend.
func (b *CLIBackend) Name() string { return "cli" }

// Available reports whether the CLI binary is on PATH.
func (b *CLIBackend) Available() bool {
	return b.runner.CommandExists(b.binary)
}

// cliResult is the JSON shape printed by the CLI with --output-format json.
type cliResult struct {
	Result  string `json:"result"`
	IsError bool   `json:"is_error"`
	Subtype string `json:"subtype"`
}

// Invoke spawns the CLI in print mode and parses its JSON result.
func (b *CLIBackend) Invoke(ctx context.Context, req Request) (*Result, error) {
	args := []string{"-p", req.Instructions, "--output-format", "json"}
	if b.model != "" {
		args = append(args, "--model", b.model)
	}
	if req.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(req.MaxTurns))
	}
	args = append(args, toolFlags(req.ToolPermissions)...)

	out, err := b.runner.Run(ctx, req.WorkDir, b.binary, args...)
	output := string(out)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return &Result{
			Success: false,
			Output:  output,
			Error:   fmt.Sprintf("cli exited with error: %v", err),
		}, nil
	}

	var parsed cliResult
	if err := json.Unmarshal(findJSONObject(output), &parsed); err == nil {
		if parsed.IsError {
			return &Result{Success: false, Output: parsed.Result, Error: parsed.Result}, nil
		}
		return &Result{Success: true, Output: parsed.Result}, nil
	}

	// Unparseable output from a zero exit still counts as success; the
	// verifier is the real gate.
	return &Result{Success: true, Output: output}, nil
}

// toolFlags maps a tool permission level to CLI flags.
func toolFlags(perms ToolPermissions) []string {
	switch perms {
	case ToolsReadOnly:
		return []string{"--allowedTools", "Read,Grep,Glob"}
	case ToolsEdit:
		return []string{"--allowedTools", "Read,Grep,Glob,Edit,Write"}
	default:
		return []string{"--dangerously-skip-permissions"}
	}
}

// findJSONObject extracts the outermost JSON object from mixed output.
func findJSONObject(s string) []byte {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return nil
	}
	return []byte(s[start : end+1])
}

// Verify CLIBackend implements Backend at compile time.
var _ Backend = (*CLIBackend)(nil)
