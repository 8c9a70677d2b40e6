package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/subagent"
	"github.com/droverhq/drover/pkg/models"
)

// Invoker runs a bounded subagent request. *subagent.Router satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, req subagent.Request) (*subagent.Result, error)
}

// Decomposer turns a task into an ordered list of subtasks. With an
// invoker it asks a subagent to plan the steps; without one it falls
// back to a single subtask covering the whole task.
type Decomposer struct {
	invoker Invoker
	cfg     config.OrchestratorConfig
}

// NewDecomposer creates a Decomposer. invoker may be nil, in which case
// every task decomposes to one subtask.
func NewDecomposer(invoker Invoker, cfg config.OrchestratorConfig) *Decomposer {
	return &Decomposer{invoker: invoker, cfg: cfg}
}

const decomposePromptTemplate = `Plan the implementation of the following task as an ordered list of
independent, concrete steps. Each step must be completable by a coding
agent in one sitting without needing the other steps' context.

Task: %s

%s

Respond with ONLY a JSON array of this shape, at most %d entries:
[{"instructions": "what to do in this step, specific enough to act on"}]`

// Decompose produces the subtask list for a task. Failures here are
// fatal for the session; they are never retried or healed.
func (d *Decomposer) Decompose(ctx context.Context, t *models.Task, workDir string) ([]*models.Subtask, error) {
	if d.invoker == nil {
		return d.trivial(t), nil
	}

	prompt := fmt.Sprintf(decomposePromptTemplate, t.Title, t.Description, d.cfg.MaxSubtasks)
	result, err := d.invoker.Invoke(ctx, subagent.Request{
		Instructions:    prompt,
		ToolPermissions: subagent.ToolsReadOnly,
		MaxTurns:        5,
		WorkDir:         workDir,
	})
	if err != nil {
		return nil, fmt.Errorf("decomposition invocation: %w", err)
	}
	if !result.Success {
		return nil, fmt.Errorf("decomposition failed: %s", result.Error)
	}

	steps, err := parseSteps(result.Output)
	if err != nil {
		return nil, fmt.Errorf("parse decomposition: %w", err)
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("decomposition produced no steps")
	}
	if len(steps) > d.cfg.MaxSubtasks {
		log.Printf("[decompose] %d steps exceeds cap, keeping first %d", len(steps), d.cfg.MaxSubtasks)
		steps = steps[:d.cfg.MaxSubtasks]
	}

	subtasks := make([]*models.Subtask, len(steps))
	for i, step := range steps {
		subtasks[i] = &models.Subtask{
			ID:           models.SubtaskID(t.ID, i+1),
			TaskID:       t.ID,
			Instructions: step,
			Status:       models.SubtaskStatusPending,
		}
	}
	return subtasks, nil
}

// trivial builds the single-subtask decomposition used when no planning
// subagent is available.
func (d *Decomposer) trivial(t *models.Task) []*models.Subtask {
	instructions := t.Title
	if t.Description != "" {
		instructions += "\n\n" + t.Description
	}
	return []*models.Subtask{{
		ID:           models.SubtaskID(t.ID, 1),
		TaskID:       t.ID,
		Instructions: instructions,
		Status:       models.SubtaskStatusPending,
	}}
}

// parseSteps extracts the instruction strings from the subagent's JSON
// array, tolerating surrounding prose.
func parseSteps(output string) ([]string, error) {
	start := strings.Index(output, "[")
	end := strings.LastIndex(output, "]")
	if start == -1 || end <= start {
		return nil, fmt.Errorf("no JSON array in output")
	}

	var parsed []struct {
		Instructions string `json:"instructions"`
	}
	if err := json.Unmarshal([]byte(output[start:end+1]), &parsed); err != nil {
		return nil, err
	}

	var steps []string
	for _, p := range parsed {
		if s := strings.TrimSpace(p.Instructions); s != "" {
			steps = append(steps, s)
		}
	}
	return steps, nil
}
