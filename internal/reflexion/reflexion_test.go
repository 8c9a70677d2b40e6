package reflexion

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/subagent"
)

func testReflexionConfig() config.ReflexionConfig {
	return config.ReflexionConfig{
		Enabled:                true,
		MaxReflectionsPerRetry: 3,
		GenerationTimeout:      time.Second,
		RetentionDays:          30,
	}
}

// fakeInvoker returns a canned result or error.
type fakeInvoker struct {
	result *subagent.Result
	err    error
}

func (f *fakeInvoker) Invoke(ctx context.Context, req subagent.Request) (*subagent.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func failureContext() FailureContext {
	return FailureContext{
		SessionID:     "sess",
		TaskID:        "t1",
		TaskTitle:     "add parser",
		SubtaskID:     "t1.2",
		Instructions:  "implement the parser",
		AttemptNumber: 2,
		ErrorOutput:   "main.go:10: undefined: Parse",
	}
}

func TestClassifyError(t *testing.T) {
	cases := []struct {
		output string
		want   ErrorType
	}{
		{"cannot find package \"x\"", ErrorTypeImport},
		{"syntax error: unexpected token", ErrorTypeSyntax},
		{"cannot use x (type int) as string", ErrorTypeType},
		{"--- FAIL: TestX", ErrorTypeTest},
		{"build failed with 3 errors", ErrorTypeBuild},
		{"context deadline exceeded", ErrorTypeTimeout},
		{"sh: claude: command not found", ErrorTypeTool},
		{"panic: nil pointer dereference", ErrorTypeRuntime},
		{"something inexplicable", ErrorTypeUnknown},
	}
	for _, c := range cases {
		if got := ClassifyError(c.output); got != c.want {
			t.Errorf("ClassifyError(%q) = %s, want %s", c.output, got, c.want)
		}
	}
}

func TestGenerateFromLLM(t *testing.T) {
	inv := &fakeInvoker{result: &subagent.Result{
		Success: true,
		Output: `{"category": "tool_misuse", "analysis": "Used the wrong binary path.",
			"suggestion": "Use the PATH-resolved binary.", "action_items": ["check PATH"], "confidence": 0.9}`,
	}}
	store := NewStore(filepath.Join(t.TempDir(), "reflections.jsonl"))
	g := NewGenerator(testReflexionConfig(), inv, store)

	r, err := g.Generate(context.Background(), failureContext())
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if r.Category != CategoryToolMisuse {
		t.Errorf("Category = %s, want tool_misuse", r.Category)
	}
	if r.Confidence != 0.9 {
		t.Errorf("Confidence = %v, want 0.9", r.Confidence)
	}
	if r.SubtaskID != "t1.2" || r.AttemptNumber != 2 {
		t.Errorf("context fields not carried: %+v", r)
	}

	// Persisted regardless of generation path.
	got, err := store.RecentForSubtask("t1.2", 3)
	if err != nil {
		t.Fatalf("RecentForSubtask failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("stored %d reflections, want 1", len(got))
	}
}

func TestGenerateFallsBackToHeuristic(t *testing.T) {
	cases := []*fakeInvoker{
		{err: errors.New("backend down")},
		{result: &subagent.Result{Success: false, Error: "refused"}},
		{result: &subagent.Result{Success: true, Output: "not json at all"}},
	}
	for _, inv := range cases {
		store := NewStore(filepath.Join(t.TempDir(), "reflections.jsonl"))
		g := NewGenerator(testReflexionConfig(), inv, store)

		r, err := g.Generate(context.Background(), failureContext())
		if err != nil {
			t.Fatalf("Generate failed: %v", err)
		}
		// "undefined:" classifies as a type error.
		if r.Category != CategoryRootCause {
			t.Errorf("Category = %s, want root_cause heuristic", r.Category)
		}
		if r.Confidence != heuristicConfidence {
			t.Errorf("Confidence = %v, want %v", r.Confidence, heuristicConfidence)
		}
		if r.Analysis == "" || r.Suggestion == "" {
			t.Error("heuristic reflection missing analysis or suggestion")
		}
	}
}

func TestGenerateNilInvokerUsesHeuristic(t *testing.T) {
	g := NewGenerator(testReflexionConfig(), nil, nil)
	r, err := g.Generate(context.Background(), failureContext())
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if r.Confidence != heuristicConfidence {
		t.Errorf("Confidence = %v, want heuristic", r.Confidence)
	}
}

func TestFormatForPrompt(t *testing.T) {
	reflections := []*Reflection{
		{AttemptNumber: 2, Category: CategoryTestGap, Analysis: "Assertion mismatched.", Suggestion: "Fix the expectation.", ActionItems: []string{"run the one test"}},
		{AttemptNumber: 1, Category: CategoryRootCause, Analysis: "Missing import."},
	}

	got := FormatForPrompt(reflections)
	// Oldest attempt first.
	if strings.Index(got, "Attempt 1") > strings.Index(got, "Attempt 2") {
		t.Errorf("attempts out of order:\n%s", got)
	}
	if !strings.Contains(got, "Suggestion: Fix the expectation.") {
		t.Errorf("missing suggestion:\n%s", got)
	}
	if !strings.Contains(got, "- run the one test") {
		t.Errorf("missing action item:\n%s", got)
	}

	if FormatForPrompt(nil) != "" {
		t.Error("empty input should format to empty string")
	}
}
