package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Task priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Task statuses. Transitions are externally triggered (user action),
// never by routing logic.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

// Task is a productivity domain object.
type Task struct {
	ID          uuid.UUID  `json:"id"`
	UserID      uuid.UUID  `json:"user_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Priority    string     `json:"priority"`
	Status      string     `json:"status"`
	DueDate     string     `json:"due_date,omitempty"` // YYYY-MM-DD
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ValidPriority reports whether p is a recognized priority.
func ValidPriority(p string) bool {
	return p == PriorityLow || p == PriorityMedium || p == PriorityHigh
}

// ValidStatus reports whether s is a recognized status.
func ValidStatus(s string) bool {
	return s == StatusPending || s == StatusInProgress || s == StatusCompleted || s == StatusCancelled
}

// CreateTask inserts a new pending task.
func (s *Store) CreateTask(userID uuid.UUID, title, description, priority, dueDate string) (*Task, error) {
	if !ValidPriority(priority) {
		priority = PriorityMedium
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate id: %w", err)
	}
	now := time.Now().UTC()

	_, err = s.db.Exec(`
		INSERT INTO tasks (id, user_id, title, description, priority, status, due_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, id.String(), userID.String(), title, nullable(description), priority,
		StatusPending, nullable(dueDate), now.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}

	return &Task{
		ID:          id,
		UserID:      userID,
		Title:       title,
		Description: description,
		Priority:    priority,
		Status:      StatusPending,
		DueDate:     dueDate,
		CreatedAt:   now,
	}, nil
}

// GetTasks returns a user's tasks filtered by optional status and
// priority, ordered by priority (high first) then creation time.
func (s *Store) GetTasks(userID uuid.UUID, status, priority string) ([]*Task, error) {
	query := `
		SELECT id, user_id, title, description, priority, status, due_date, created_at, completed_at
		FROM tasks WHERE user_id = ?`
	args := []any{userID.String()}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	if priority != "" {
		query += ` AND priority = ?`
		args = append(args, priority)
	}
	query += `
		ORDER BY CASE priority WHEN 'high' THEN 0 WHEN 'medium' THEN 1 ELSE 2 END,
		         created_at`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// UpdateTaskStatus transitions a task. Completing a task stamps
// completed_at; any other transition clears it.
func (s *Store) UpdateTaskStatus(id uuid.UUID, status string) error {
	if !ValidStatus(status) {
		return fmt.Errorf("invalid task status %q", status)
	}

	var completedAt sql.NullString
	if status == StatusCompleted {
		completedAt = sql.NullString{String: time.Now().UTC().Format(time.RFC3339), Valid: true}
	}

	res, err := s.db.Exec(`UPDATE tasks SET status = ?, completed_at = ? WHERE id = ?`,
		status, completedAt, id.String())
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTask removes a task.
func (s *Store) DeleteTask(id uuid.UUID) error {
	res, err := s.db.Exec(`DELETE FROM tasks WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanTask(rows *sql.Rows) (*Task, error) {
	var t Task
	var idStr, userStr, createdStr string
	var desc, due, completed sql.NullString

	err := rows.Scan(&idStr, &userStr, &t.Title, &desc, &t.Priority, &t.Status, &due, &createdStr, &completed)
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}

	t.ID, _ = uuid.Parse(idStr)
	t.UserID, _ = uuid.Parse(userStr)
	if desc.Valid {
		t.Description = desc.String
	}
	if due.Valid {
		t.DueDate = due.String
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdStr)
	if completed.Valid {
		if ts, err := time.Parse(time.RFC3339, completed.String); err == nil {
			t.CompletedAt = &ts
		}
	}
	return &t, nil
}

// nullable converts "" to SQL NULL.
func nullable(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
