package task

import (
	"database/sql"
	"fmt"
	"time"
)

// SessionStatus represents the status of an orchestrator session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionCanceled  SessionStatus = "canceled"
)

// Session records one orchestrator run against a task, including the
// worktree it owned when running in parallel mode.
type Session struct {
	ID           string        `json:"id"`
	TaskID       string        `json:"task_id"`
	Status       SessionStatus `json:"status"`
	WorktreePath string        `json:"worktree_path,omitempty"`
	Branch       string        `json:"branch,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   *time.Time    `json:"finished_at,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// CreateSession records a new session.
func (s *Store) CreateSession(sess *Session) error {
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, task_id, status, worktree_path, branch, started_at, finished_at, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, sess.ID, sess.TaskID, string(sess.Status), sess.WorktreePath, sess.Branch, formatTime(sess.StartedAt), nil, sess.Error)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// FinishSession marks a session terminal with an optional error message.
func (s *Store) FinishSession(id string, status SessionStatus, errMsg string) error {
	_, err := s.db.Exec(`
		UPDATE sessions SET status = ?, finished_at = ?, error = ? WHERE id = ?
	`, string(status), formatTime(time.Now()), errMsg, id)
	if err != nil {
		return fmt.Errorf("finish session: %w", err)
	}
	return nil
}

// ActiveSessions returns all sessions currently marked active.
func (s *Store) ActiveSessions() ([]*Session, error) {
	rows, err := s.db.Query(`
		SELECT id, task_id, status, worktree_path, branch, started_at, finished_at, error
		FROM sessions WHERE status = ? ORDER BY started_at DESC
	`, string(SessionActive))
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

// ListSessions returns all sessions, newest first.
func (s *Store) ListSessions() ([]*Session, error) {
	rows, err := s.db.Query(`
		SELECT id, task_id, status, worktree_path, branch, started_at, finished_at, error
		FROM sessions ORDER BY started_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

func scanSessions(rows *sql.Rows) ([]*Session, error) {
	var sessions []*Session
	for rows.Next() {
		var sess Session
		var startedAt string
		var finishedAt sql.NullString
		var worktreePath, branch, errMsg sql.NullString
		if err := rows.Scan(&sess.ID, &sess.TaskID, &sess.Status, &worktreePath, &branch, &startedAt, &finishedAt, &errMsg); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if worktreePath.Valid {
			sess.WorktreePath = worktreePath.String
		}
		if branch.Valid {
			sess.Branch = branch.String
		}
		if errMsg.Valid {
			sess.Error = errMsg.String
		}
		sess.StartedAt, _ = parseTime(startedAt)
		sess.FinishedAt = parseNullableTime(finishedAt)
		sessions = append(sessions, &sess)
	}
	return sessions, rows.Err()
}
