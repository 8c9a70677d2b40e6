package subagent

import (
	"context"
	"strings"
	"testing"
)

// fakeBackend records invocations and returns a fixed result.
type fakeBackend struct {
	name      string
	available bool
	lastReq   Request
	calls     int
	result    *Result
}

func (f *fakeBackend) Name() string    { return f.name }
func (f *fakeBackend) Available() bool { return f.available }

func (f *fakeBackend) Invoke(ctx context.Context, req Request) (*Result, error) {
	f.calls++
	f.lastReq = req
	if f.result != nil {
		return f.result, nil
	}
	return &Result{Success: true, Output: "ok"}, nil
}

func TestRouterPrefersConfiguredBackend(t *testing.T) {
	first := &fakeBackend{name: "cli", available: true}
	second := &fakeBackend{name: "api", available: true}
	r := NewRouter("api", first, second)

	if _, err := r.Invoke(context.Background(), Request{Instructions: "do it"}); err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if second.calls != 1 || first.calls != 0 {
		t.Errorf("calls: cli=%d api=%d, want api only", first.calls, second.calls)
	}
	if r.ActiveBackend() != "api" {
		t.Errorf("ActiveBackend = %q, want api", r.ActiveBackend())
	}
}

func TestRouterStickyUntilUnavailable(t *testing.T) {
	first := &fakeBackend{name: "cli", available: true}
	second := &fakeBackend{name: "api", available: true}
	r := NewRouter("", first, second)

	for i := 0; i < 3; i++ {
		if _, err := r.Invoke(context.Background(), Request{}); err != nil {
			t.Fatalf("Invoke failed: %v", err)
		}
	}
	if first.calls != 3 || second.calls != 0 {
		t.Errorf("calls before failover: cli=%d api=%d", first.calls, second.calls)
	}

	// The active backend drops out; the router fails over.
	first.available = false
	if _, err := r.Invoke(context.Background(), Request{}); err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if second.calls != 1 {
		t.Errorf("api calls after failover = %d, want 1", second.calls)
	}
}

func TestRouterNoBackendAvailable(t *testing.T) {
	r := NewRouter("", &fakeBackend{name: "cli"})
	if _, err := r.Invoke(context.Background(), Request{}); err == nil {
		t.Error("expected error with no available backend")
	}
}

func TestRouterEmbedsReflections(t *testing.T) {
	backend := &fakeBackend{name: "cli", available: true}
	r := NewRouter("", backend)

	_, err := r.Invoke(context.Background(), Request{
		Instructions: "fix the parser",
		Reflections:  "1. The previous attempt missed the import.",
	})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	got := backend.lastReq.Instructions
	if !strings.Contains(got, "## Learning from Previous Failures") {
		t.Errorf("instructions missing reflections header:\n%s", got)
	}
	if !strings.Contains(got, "missed the import") {
		t.Errorf("instructions missing reflection body:\n%s", got)
	}
	if strings.Index(got, "fix the parser") > strings.Index(got, "Learning from") {
		t.Error("reflections should follow the original instructions")
	}
	if backend.lastReq.Reflections != "" {
		t.Error("reflections should be cleared after embedding")
	}
}

func TestRouterNoReflectionsNoHeader(t *testing.T) {
	backend := &fakeBackend{name: "cli", available: true}
	r := NewRouter("", backend)

	if _, err := r.Invoke(context.Background(), Request{Instructions: "fix it"}); err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if strings.Contains(backend.lastReq.Instructions, "Learning from Previous Failures") {
		t.Error("header should not appear without reflections")
	}
}
