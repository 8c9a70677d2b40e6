package subagent

import (
	"context"
	"fmt"
	"log"
	"sync"
)

// reflectionsHeader is the block heading under which prior-failure
// reflections are embedded into the instructions.
const reflectionsHeader = "## Learning from Previous Failures"

// Router dispatches subagent requests to one of several registered
// backends. Backend choice is sticky for the router's lifetime: once a
// backend has served a call, later calls use the same backend unless it
// becomes unavailable.
type Router struct {
	mu        sync.Mutex
	backends  []Backend
	preferred string
	active    Backend
}

// NewRouter creates a Router over the given backends. preferred names
// the backend to try first; empty means first-available wins.
func NewRouter(preferred string, backends ...Backend) *Router {
	return &Router{backends: backends, preferred: preferred}
}

// Invoke selects a backend and runs the request on it. When the request
// carries reflections, they are embedded into the instructions as a
// "Learning from Previous Failures" block before dispatch.
func (r *Router) Invoke(ctx context.Context, req Request) (*Result, error) {
	backend, err := r.selectBackend()
	if err != nil {
		return nil, err
	}

	if req.Reflections != "" {
		req.Instructions = fmt.Sprintf("%s\n\n%s\n\n%s", req.Instructions, reflectionsHeader, req.Reflections)
		req.Reflections = ""
	}

	return backend.Invoke(ctx, req)
}

// ActiveBackend returns the name of the backend currently serving calls,
// or "" when none has been selected yet.
func (r *Router) ActiveBackend() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return ""
	}
	return r.active.Name()
}

// selectBackend returns the sticky active backend, re-selecting only
// when none is set or the active one became unavailable.
func (r *Router) selectBackend() (Backend, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil && r.active.Available() {
		return r.active, nil
	}
	if r.active != nil {
		log.Printf("[subagent] backend %s no longer available, re-selecting", r.active.Name())
	}

	if r.preferred != "" {
		for _, b := range r.backends {
			if b.Name() == r.preferred && b.Available() {
				r.active = b
				return b, nil
			}
		}
	}

	for _, b := range r.backends {
		if b.Available() {
			if r.preferred != "" && b.Name() != r.preferred {
				log.Printf("[subagent] preferred backend %s unavailable, using %s", r.preferred, b.Name())
			}
			r.active = b
			return b, nil
		}
	}

	return nil, fmt.Errorf("no subagent backend available")
}
