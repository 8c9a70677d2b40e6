package task

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/droverhq/drover/pkg/models"
)

// Store provides CRUD and claiming over task records.
type Store struct {
	db *DB
}

// NewStore creates a Store backed by the given database.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// Create inserts a new task.
func (s *Store) Create(t *models.Task) error {
	dependsOn, _ := json.Marshal(t.DependsOn)

	_, err := s.db.Exec(`
		INSERT INTO tasks (id, title, description, status, priority, depends_on, assignee, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.Title, t.Description, string(t.Status), t.Priority, string(dependsOn), t.Assignee, formatTime(t.CreatedAt), nil)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// Get retrieves a task by ID. Returns nil when no task exists.
func (s *Store) Get(id string) (*models.Task, error) {
	row := s.db.QueryRow(`
		SELECT id, title, description, status, priority, depends_on, assignee, created_at, completed_at
		FROM tasks WHERE id = ?
	`, id)

	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// Update rewrites a task's mutable fields.
func (s *Store) Update(t *models.Task) error {
	dependsOn, _ := json.Marshal(t.DependsOn)
	var completedAt *string
	if t.CompletedAt != nil {
		v := formatTime(*t.CompletedAt)
		completedAt = &v
	}

	_, err := s.db.Exec(`
		UPDATE tasks SET title = ?, description = ?, status = ?, priority = ?, depends_on = ?,
			assignee = ?, completed_at = ?
		WHERE id = ?
	`, t.Title, t.Description, string(t.Status), t.Priority, string(dependsOn), t.Assignee, completedAt, t.ID)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return nil
}

// UpdateStatus sets a task's status, stamping completion time on terminal states.
func (s *Store) UpdateStatus(id string, status models.TaskStatus) error {
	var completedAt *string
	if status.Terminal() {
		v := formatTime(time.Now())
		completedAt = &v
	}
	_, err := s.db.Exec(`
		UPDATE tasks SET status = ?, completed_at = COALESCE(?, completed_at) WHERE id = ?
	`, string(status), completedAt, id)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	return nil
}

// List returns all tasks, optionally filtered by status, oldest first.
func (s *Store) List(status *models.TaskStatus) ([]*models.Task, error) {
	var rows *sql.Rows
	var err error

	if status != nil {
		rows, err = s.db.Query(`
			SELECT id, title, description, status, priority, depends_on, assignee, created_at, completed_at
			FROM tasks WHERE status = ? ORDER BY created_at
		`, string(*status))
	} else {
		rows, err = s.db.Query(`
			SELECT id, title, description, status, priority, depends_on, assignee, created_at, completed_at
			FROM tasks ORDER BY created_at
		`)
	}
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// GetReadyTasks returns open tasks whose dependencies are all done and
// which have no assignee, ordered by priority then creation time.
func (s *Store) GetReadyTasks() ([]*models.Task, error) {
	status := models.TaskStatusOpen
	open, err := s.List(&status)
	if err != nil {
		return nil, err
	}

	var ready []*models.Task
	for _, t := range open {
		if t.Assignee != "" {
			continue
		}
		ok, err := s.dependenciesDone(t)
		if err != nil {
			return nil, err
		}
		if ok {
			ready = append(ready, t)
		}
	}

	sortByPriority(ready)
	return ready, nil
}

// Claim atomically claims an open task for the given session. Returns
// false when the task was already claimed or moved out of open by a
// concurrent driver instance.
func (s *Store) Claim(taskID, sessionID string) (bool, error) {
	res, err := s.db.Exec(`
		UPDATE tasks SET status = ?, assignee = ?
		WHERE id = ? AND status = ? AND (assignee IS NULL OR assignee = '')
	`, string(models.TaskStatusInProgress), sessionID, taskID, string(models.TaskStatusOpen))
	if err != nil {
		return false, fmt.Errorf("claim task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim task rows: %w", err)
	}
	return n == 1, nil
}

// Release returns a claimed task to open, clearing its assignee.
func (s *Store) Release(taskID string) error {
	_, err := s.db.Exec(`
		UPDATE tasks SET status = ?, assignee = '' WHERE id = ? AND status = ?
	`, string(models.TaskStatusOpen), taskID, string(models.TaskStatusInProgress))
	if err != nil {
		return fmt.Errorf("release task: %w", err)
	}
	return nil
}

// dependenciesDone reports whether all of a task's dependencies are done.
func (s *Store) dependenciesDone(t *models.Task) (bool, error) {
	for _, depID := range t.DependsOn {
		dep, err := s.Get(depID)
		if err != nil {
			return false, err
		}
		if dep == nil || dep.Status != models.TaskStatusDone {
			return false, nil
		}
	}
	return true, nil
}

// sortByPriority orders tasks by ascending priority value (0 most urgent),
// then by creation time. Insertion sort keeps creation order stable.
func sortByPriority(tasks []*models.Task) {
	for i := 1; i < len(tasks); i++ {
		for j := i; j > 0; j-- {
			a, b := tasks[j-1], tasks[j]
			if b.Priority < a.Priority ||
				(b.Priority == a.Priority && b.CreatedAt.Before(a.CreatedAt)) {
				tasks[j-1], tasks[j] = b, a
			} else {
				break
			}
		}
	}
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanTask reads one task record.
func scanTask(row rowScanner) (*models.Task, error) {
	var t models.Task
	var createdAt string
	var completedAt sql.NullString
	var description, dependsOn, assignee sql.NullString

	err := row.Scan(&t.ID, &t.Title, &description, &t.Status, &t.Priority, &dependsOn, &assignee, &createdAt, &completedAt)
	if err != nil {
		return nil, err
	}

	if description.Valid {
		t.Description = description.String
	}
	if dependsOn.Valid && dependsOn.String != "" {
		json.Unmarshal([]byte(dependsOn.String), &t.DependsOn)
	}
	if assignee.Valid {
		t.Assignee = assignee.String
	}
	t.CreatedAt, _ = parseTime(createdAt)
	t.CompletedAt = parseNullableTime(completedAt)
	return &t, nil
}
