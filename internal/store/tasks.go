package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// AddTask stores a reminder. The same description with the same due time
// for the same user is stored once; the existing id is returned.
func (s *Store) AddTask(ctx context.Context, userID string, description string, intervalSeconds int, due time.Time) (int64, error) {
	var id int64
	err := s.DB.QueryRowContext(ctx,
		`SELECT id FROM tasks WHERE chat_id = ? AND task_description = ? AND due = ? AND status = 'active'`,
		userID, description, unix(due)).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	res, err := s.DB.ExecContext(ctx,
		`INSERT INTO tasks (chat_id, task_description, interval_seconds, due) VALUES (?, ?, ?, ?)`,
		userID, description, intervalSeconds, unix(due))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetPendingTasks returns the active tasks that are due at now: one-off tasks
// whose due time has passed, and recurring tasks whose interval has elapsed
// since the last run (or whose first due time has passed).
func (s *Store) GetPendingTasks(ctx context.Context, now time.Time) ([]Task, error) {
	query := `
		SELECT id, chat_id, task_description, interval_seconds, due
		FROM tasks
		WHERE status = 'active'
		AND due <= ?
		AND (interval_seconds = 0 OR last_run = 0 OR ? - last_run >= interval_seconds)
		ORDER BY id`
	rows, err := s.DB.QueryContext(ctx, query, now.Unix(), now.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var t Task
		var due int64
		if err := rows.Scan(&t.ID, &t.UserID, &t.Description, &t.IntervalSeconds, &due); err != nil {
			return nil, err
		}
		t.Due = fromUnix(due)
		t.Status = "active"
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// ListTasks returns the active tasks of a user.
func (s *Store) ListTasks(ctx context.Context, userID string) ([]Task, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, chat_id, task_description, interval_seconds, due, status FROM tasks WHERE chat_id = ? AND status = 'active' ORDER BY id`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var t Task
		var due int64
		if err := rows.Scan(&t.ID, &t.UserID, &t.Description, &t.IntervalSeconds, &due, &t.Status); err != nil {
			return nil, err
		}
		t.Due = fromUnix(due)
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// MarkTaskRun records a run at now. One-off tasks are retired.
func (s *Store) MarkTaskRun(ctx context.Context, id int64, now time.Time) error {
	query := `UPDATE tasks SET last_run = ?, status = CASE WHEN interval_seconds = 0 THEN 'done' ELSE status END WHERE id = ?`
	_, err := s.DB.ExecContext(ctx, query, now.Unix(), id)
	return err
}

func (s *Store) ClearTasks(ctx context.Context, userID string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM tasks WHERE chat_id = ?`, userID)
	return err
}
