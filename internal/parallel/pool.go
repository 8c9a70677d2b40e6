package parallel

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/droverhq/drover/internal/orchestrator"
	"github.com/droverhq/drover/internal/worktree"
)

// SessionRunner runs one full session. *orchestrator.Driver satisfies it.
type SessionRunner interface {
	Run(ctx context.Context) (*orchestrator.State, error)
}

// DriverFactory builds a session runner operating in the given work
// directory on the given branch. The pool calls it with an agent's
// worktree path, and again whenever the agent moves to a fresh
// worktree after a failed session.
type DriverFactory func(workDir, branch string) SessionRunner

// Pool runs N agents concurrently, each in its own worktree, draining
// the task queue until nothing is ready.
type Pool struct {
	agents      int
	worktrees   *worktree.Manager
	coordinator *Coordinator
	newDriver   DriverFactory
	events      orchestrator.EventHandler
}

// NewPool creates a Pool of the given size.
func NewPool(agents int, worktrees *worktree.Manager, coordinator *Coordinator, newDriver DriverFactory, events orchestrator.EventHandler) *Pool {
	return &Pool{
		agents:      agents,
		worktrees:   worktrees,
		coordinator: coordinator,
		newDriver:   newDriver,
		events:      events,
	}
}

// Run starts all agents and blocks until every agent has drained the
// queue or the context is canceled. The first agent error is returned;
// remaining agents still run to completion.
func (p *Pool) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	errs := make([]error, p.agents)

	for i := 0; i < p.agents; i++ {
		agentID := fmt.Sprintf("agent-%d", i+1)
		wg.Add(1)
		go func(idx int, agentID string) {
			defer wg.Done()
			errs[idx] = p.runAgent(ctx, agentID)
		}(i, agentID)
	}
	wg.Wait()

	return errors.Join(errs...)
}

// runAgent drives one agent: set up its worktree, run sessions until no
// tasks remain, merging each completed session's branch. A failed
// session's worktree is abandoned for inspection and the agent moves to
// a fresh one, so leftover edits never bleed into the next task's
// commit.
func (p *Pool) runAgent(ctx context.Context, agentID string) error {
	wt, err := p.worktrees.EnsureValid(agentID)
	if err != nil {
		return fmt.Errorf("%s: prepare worktree: %w", agentID, err)
	}

	driver := p.newDriver(wt.Path, wt.Branch)
	retired := 0

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		st, err := driver.Run(ctx)
		if errors.Is(err, orchestrator.ErrNoReadyTasks) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// One failed session does not stop the agent; the task is
			// already marked failed and the next ready task is tried
			// from a clean worktree.
			log.Printf("[pool] %s session failed: %v", agentID, err)
			retired++
			wt, err = p.worktrees.EnsureValid(fmt.Sprintf("%s-r%d", agentID, retired))
			if err != nil {
				return fmt.Errorf("%s: replace worktree: %w", agentID, err)
			}
			driver = p.newDriver(wt.Path, wt.Branch)
			continue
		}

		p.emit(orchestrator.Event{Type: orchestrator.EventMergeStarted, SessionID: st.SessionID, TaskID: st.Task.ID, Message: wt.Branch})
		if err := p.coordinator.Merge(wt.Branch); err != nil {
			log.Printf("[pool] %s merge failed: %v", agentID, err)
			continue
		}
		p.emit(orchestrator.Event{Type: orchestrator.EventMergeCompleted, SessionID: st.SessionID, TaskID: st.Task.ID, Message: wt.Branch})
	}

	// Branches merged under the pr strategy stay around for review, so
	// their worktrees stay too.
	if p.coordinator.Strategy() != StrategyPR {
		if err := p.worktrees.Remove(wt); err != nil {
			log.Printf("[pool] %s remove worktree: %v", agentID, err)
		}
	}
	return nil
}

func (p *Pool) emit(e orchestrator.Event) {
	if p.events != nil {
		e.Timestamp = time.Now()
		p.events(e)
	}
}
