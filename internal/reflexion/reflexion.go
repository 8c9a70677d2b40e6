// Package reflexion generates short structured verbal reflections on
// subtask failures and injects them into retry prompts.
package reflexion

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/subagent"
)

// Category classifies what a reflection identifies as the problem.
type Category string

const (
	CategoryRootCause      Category = "root_cause"
	CategoryApproachFlaw   Category = "approach_flaw"
	CategoryMissingContext Category = "missing_context"
	CategoryToolMisuse     Category = "tool_misuse"
	CategoryTestGap        Category = "test_gap"
	CategoryVerification   Category = "verification"
)

// ErrorType is a coarse classification of a failure's error text, used
// by the heuristic fallback generator.
type ErrorType string

const (
	ErrorTypeType    ErrorType = "type"
	ErrorTypeImport  ErrorType = "import"
	ErrorTypeSyntax  ErrorType = "syntax"
	ErrorTypeRuntime ErrorType = "runtime"
	ErrorTypeTest    ErrorType = "test"
	ErrorTypeBuild   ErrorType = "build"
	ErrorTypeTimeout ErrorType = "timeout"
	ErrorTypeTool    ErrorType = "tool"
	ErrorTypeLogic   ErrorType = "logic"
	ErrorTypeUnknown ErrorType = "unknown"
)

// Reflection is a persisted post-mortem of one failed attempt.
type Reflection struct {
	// ID is the unique identifier for this reflection.
	ID string `json:"id"`
	// SessionID is the orchestrator session that produced it.
	SessionID string `json:"session_id"`
	// TaskID is the parent task.
	TaskID string `json:"task_id"`
	// SubtaskID is the failing subtask; reflections are retrieved by it.
	SubtaskID string `json:"subtask_id"`
	// AttemptNumber is the attempt that failed (1-indexed).
	AttemptNumber int `json:"attempt_number"`
	// Category classifies the identified problem.
	Category Category `json:"category"`
	// Analysis describes what went wrong and why.
	Analysis string `json:"analysis"`
	// Suggestion describes what to try on the next attempt.
	Suggestion string `json:"suggestion"`
	// ActionItems are concrete ordered steps for the retry.
	ActionItems []string `json:"action_items,omitempty"`
	// Confidence is the generator's confidence in [0,1].
	Confidence float64 `json:"confidence"`
	// CreatedAt is when the reflection was generated.
	CreatedAt time.Time `json:"created_at"`
}

// FailureContext carries everything known about a failed attempt.
type FailureContext struct {
	SessionID     string
	TaskID        string
	TaskTitle     string
	SubtaskID     string
	Instructions  string
	AttemptNumber int
	ErrorOutput   string
	CommandOutput string
}

// ClassifyError maps error text to a coarse error type.
func ClassifyError(errorOutput string) ErrorType {
	lower := strings.ToLower(errorOutput)
	switch {
	case strings.Contains(lower, "cannot find package") || strings.Contains(lower, "no required module") ||
		strings.Contains(lower, "cannot find module") || strings.Contains(lower, "imported and not used") ||
		strings.Contains(lower, "import cycle"):
		return ErrorTypeImport
	case strings.Contains(lower, "syntax error") || strings.Contains(lower, "unexpected token") ||
		strings.Contains(lower, "expected ';'") || strings.Contains(lower, "unexpected newline"):
		return ErrorTypeSyntax
	case strings.Contains(lower, "type error") || strings.Contains(lower, "cannot use") ||
		strings.Contains(lower, "undefined:") || strings.Contains(lower, "mismatched types"):
		return ErrorTypeType
	case strings.Contains(lower, "--- fail") || strings.Contains(lower, "test failed") ||
		strings.Contains(lower, "assertion"):
		return ErrorTypeTest
	case strings.Contains(lower, "build failed") || strings.Contains(lower, "compilation failed") ||
		strings.Contains(lower, "link error"):
		return ErrorTypeBuild
	case strings.Contains(lower, "timed out") || strings.Contains(lower, "timeout") ||
		strings.Contains(lower, "deadline exceeded"):
		return ErrorTypeTimeout
	case strings.Contains(lower, "command not found") || strings.Contains(lower, "no such file") ||
		strings.Contains(lower, "permission denied") || strings.Contains(lower, "tool use"):
		return ErrorTypeTool
	case strings.Contains(lower, "panic:") || strings.Contains(lower, "segmentation") ||
		strings.Contains(lower, "nil pointer") || strings.Contains(lower, "index out of range"):
		return ErrorTypeRuntime
	case strings.Contains(lower, "wrong result") || strings.Contains(lower, "incorrect"):
		return ErrorTypeLogic
	default:
		return ErrorTypeUnknown
	}
}

// heuristicEntry is a canned diagnosis for one error type.
type heuristicEntry struct {
	category    Category
	analysis    string
	suggestion  string
	actionItems []string
}

// heuristics holds the deterministic fallback diagnoses.
var heuristics = map[ErrorType]heuristicEntry{
	ErrorTypeType: {
		category:    CategoryRootCause,
		analysis:    "The change introduced a type mismatch: a value or identifier is used with an incompatible or undefined type.",
		suggestion:  "Locate the reported identifier, check its declared type, and align the usage or add the missing declaration.",
		actionItems: []string{"Read the full compiler message for the exact location", "Fix the declaration or usage at that location", "Re-run the typecheck before finishing"},
	},
	ErrorTypeImport: {
		category:    CategoryRootCause,
		analysis:    "A dependency or import is missing, unused, or cyclic, so the code cannot resolve its modules.",
		suggestion:  "Reconcile the import list with actual usage and ensure the dependency is declared in the module file.",
		actionItems: []string{"Check the import block of the failing file", "Add or remove imports to match usage", "Verify the module requirements include the package"},
	},
	ErrorTypeSyntax: {
		category:    CategoryRootCause,
		analysis:    "The edit left the file syntactically invalid, likely an unbalanced brace or incomplete statement.",
		suggestion:  "Re-read the edited region and repair the structure before attempting anything else.",
		actionItems: []string{"Open the file at the reported line", "Fix the malformed construct", "Re-run the parser or compiler"},
	},
	ErrorTypeRuntime: {
		category:    CategoryRootCause,
		analysis:    "The code compiles but crashes at runtime, pointing at an unhandled nil, bound, or invariant violation.",
		suggestion:  "Reproduce the crash, then guard or fix the violated assumption rather than masking the symptom.",
		actionItems: []string{"Find the crash site from the stack trace", "Add the missing guard or fix the invariant", "Re-run the reproducing command"},
	},
	ErrorTypeTest: {
		category:    CategoryTestGap,
		analysis:    "A test assertion failed: the implementation's observable behavior does not match what the test expects.",
		suggestion:  "Decide whether the implementation or the expectation is wrong before editing either.",
		actionItems: []string{"Read the failing assertion and its expected/actual values", "Fix the behavior (or the stale expectation)", "Run only the failing test until it passes"},
	},
	ErrorTypeBuild: {
		category:    CategoryRootCause,
		analysis:    "The build pipeline failed before tests could run, so the change is structurally broken.",
		suggestion:  "Fix the first build error first; later errors are often cascades of it.",
		actionItems: []string{"Take the first error in the build output", "Fix it and rebuild", "Repeat until the build is clean"},
	},
	ErrorTypeTimeout: {
		category:    CategoryApproachFlaw,
		analysis:    "The attempt ran out of time, which usually means the approach was too broad or looped without converging.",
		suggestion:  "Narrow the scope to the single smallest change that satisfies the subtask.",
		actionItems: []string{"Identify the minimal change required", "Avoid repository-wide exploration", "Verify incrementally instead of at the end"},
	},
	ErrorTypeTool: {
		category:    CategoryToolMisuse,
		analysis:    "A tool or command was used incorrectly: missing binary, wrong path, or insufficient permissions.",
		suggestion:  "Verify the tool exists and the path is correct before retrying the same invocation.",
		actionItems: []string{"Check the exact command and path that failed", "Use an available equivalent if the tool is missing", "Retry with the corrected invocation"},
	},
	ErrorTypeLogic: {
		category:    CategoryApproachFlaw,
		analysis:    "The change runs but produces wrong results, so the chosen approach encodes a wrong assumption.",
		suggestion:  "Re-derive the expected behavior from the task description before re-implementing.",
		actionItems: []string{"State the expected behavior explicitly", "Compare it with what the code does", "Fix the divergence"},
	},
	ErrorTypeUnknown: {
		category:    CategoryMissingContext,
		analysis:    "The failure does not match a known pattern; the attempt likely lacked context about the repository or task.",
		suggestion:  "Gather more context about the failing area before changing code again.",
		actionItems: []string{"Re-read the error output in full", "Inspect the files involved", "Form a hypothesis before editing"},
	},
}

const (
	// llmConfidence is assigned to model-generated reflections that do
	// not report their own confidence.
	llmConfidence = 0.7
	// heuristicConfidence is assigned to pattern-matched reflections.
	heuristicConfidence = 0.6
)

// Invoker runs a bounded subagent request. *subagent.Router satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, req subagent.Request) (*subagent.Result, error)
}

// Generator produces reflections, preferring a model-generated analysis
// and falling back to deterministic heuristics.
type Generator struct {
	cfg     config.ReflexionConfig
	invoker Invoker
	store   *Store
}

// NewGenerator creates a Generator writing to the given store. invoker
// may be nil, in which case only heuristic reflections are produced.
func NewGenerator(cfg config.ReflexionConfig, invoker Invoker, store *Store) *Generator {
	return &Generator{cfg: cfg, invoker: invoker, store: store}
}

const reflectionPromptTemplate = `An attempt at a coding subtask failed. Analyze the failure and respond
with ONLY a JSON object of this shape:
{"category": "root_cause|approach_flaw|missing_context|tool_misuse|test_gap|verification",
 "analysis": "what went wrong and why, two sentences max",
 "suggestion": "what to try on the next attempt, one sentence",
 "action_items": ["step 1", "step 2"],
 "confidence": 0.0}

Task: %s
Subtask instructions: %s
Attempt number: %d

Error output:
%s`

// Generate produces and persists a reflection for a failed attempt.
// Generation failures never propagate: the heuristic fallback always
// yields a usable reflection.
func (g *Generator) Generate(ctx context.Context, fc FailureContext) (*Reflection, error) {
	r := g.generateLLM(ctx, fc)
	if r == nil {
		r = heuristicReflection(fc)
	}

	r.ID = uuid.New().String()
	r.SessionID = fc.SessionID
	r.TaskID = fc.TaskID
	r.SubtaskID = fc.SubtaskID
	r.AttemptNumber = fc.AttemptNumber
	r.CreatedAt = time.Now()

	if g.store != nil {
		if err := g.store.Append(r); err != nil {
			return nil, fmt.Errorf("persist reflection: %w", err)
		}
	}
	return r, nil
}

// generateLLM asks the subagent for a reflection, bounded by the
// configured timeout. Returns nil on any failure.
func (g *Generator) generateLLM(ctx context.Context, fc FailureContext) *Reflection {
	if g.invoker == nil {
		return nil
	}

	genCtx, cancel := context.WithTimeout(ctx, g.cfg.GenerationTimeout)
	defer cancel()

	prompt := fmt.Sprintf(reflectionPromptTemplate,
		fc.TaskTitle, fc.Instructions, fc.AttemptNumber, truncate(fc.ErrorOutput, 3000))

	result, err := g.invoker.Invoke(genCtx, subagent.Request{
		Instructions:    prompt,
		ToolPermissions: subagent.ToolsReadOnly,
		MaxTurns:        1,
	})
	if err != nil || !result.Success {
		log.Printf("[reflexion] generation failed, using heuristic: %v", err)
		return nil
	}

	var parsed struct {
		Category    string   `json:"category"`
		Analysis    string   `json:"analysis"`
		Suggestion  string   `json:"suggestion"`
		ActionItems []string `json:"action_items"`
		Confidence  float64  `json:"confidence"`
	}
	raw := extractJSON(result.Output)
	if raw == nil {
		log.Printf("[reflexion] no JSON in generation output, using heuristic")
		return nil
	}
	if err := json.Unmarshal(raw, &parsed); err != nil || parsed.Analysis == "" {
		log.Printf("[reflexion] unparseable generation output, using heuristic")
		return nil
	}

	category := Category(parsed.Category)
	switch category {
	case CategoryRootCause, CategoryApproachFlaw, CategoryMissingContext,
		CategoryToolMisuse, CategoryTestGap, CategoryVerification:
	default:
		category = CategoryRootCause
	}

	confidence := parsed.Confidence
	if confidence <= 0 || confidence > 1 {
		confidence = llmConfidence
	}

	return &Reflection{
		Category:    category,
		Analysis:    parsed.Analysis,
		Suggestion:  parsed.Suggestion,
		ActionItems: parsed.ActionItems,
		Confidence:  confidence,
	}
}

// heuristicReflection builds a deterministic reflection from the error text.
func heuristicReflection(fc FailureContext) *Reflection {
	entry := heuristics[ClassifyError(fc.ErrorOutput)]
	return &Reflection{
		Category:    entry.category,
		Analysis:    entry.analysis,
		Suggestion:  entry.suggestion,
		ActionItems: append([]string(nil), entry.actionItems...),
		Confidence:  heuristicConfidence,
	}
}

// FormatForPrompt renders reflections as a prompt block, oldest first.
// The caller supplies the surrounding heading.
func FormatForPrompt(reflections []*Reflection) string {
	if len(reflections) == 0 {
		return ""
	}
	var sb strings.Builder
	for i := len(reflections) - 1; i >= 0; i-- {
		r := reflections[i]
		fmt.Fprintf(&sb, "Attempt %d (%s): %s\n", r.AttemptNumber, r.Category, r.Analysis)
		if r.Suggestion != "" {
			fmt.Fprintf(&sb, "  Suggestion: %s\n", r.Suggestion)
		}
		for _, item := range r.ActionItems {
			fmt.Fprintf(&sb, "  - %s\n", item)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// extractJSON pulls the outermost JSON object out of mixed output.
func extractJSON(s string) []byte {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return nil
	}
	return []byte(s[start : end+1])
}

// truncate limits s to n bytes, keeping the head.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n... (truncated)"
}
