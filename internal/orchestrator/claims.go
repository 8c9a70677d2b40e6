package orchestrator

import "sync"

// Claims tracks which tasks are held by live sessions in this process.
// The database claim guards fresh selection across processes; this
// registry guards checkpoint adoption between concurrent drivers that
// share a state directory, such as pool agents.
type Claims struct {
	mu   sync.Mutex
	held map[string]string
}

// NewClaims creates an empty registry.
func NewClaims() *Claims {
	return &Claims{held: make(map[string]string)}
}

// Acquire records sessionID as the holder of taskID. Returns false when
// a different live session already holds the task. A nil registry
// always grants, for single-driver use.
func (c *Claims) Acquire(taskID, sessionID string) bool {
	if c == nil {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if holder, ok := c.held[taskID]; ok && holder != sessionID {
		return false
	}
	c.held[taskID] = sessionID
	return true
}

// Release drops the claim if sessionID still holds it.
func (c *Claims) Release(taskID, sessionID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.held[taskID] == sessionID {
		delete(c.held, taskID)
	}
}
