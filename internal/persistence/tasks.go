package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/basket/gotodo/internal/bus"
	"github.com/basket/gotodo/internal/weekday"
)

type Task struct {
	ID          int64           `json:"id"`
	Time        string          `json:"time"`
	Content     string          `json:"content"`
	IsCompleted bool            `json:"is_completed"`
	Weekday     weekday.Weekday `json:"weekday,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// Filter narrows ListTasks. The zero value selects every task.
type Filter struct {
	// Weekday restricts to tasks tagged with that day. weekday.None disables it.
	Weekday weekday.Weekday
	// Completed restricts to one completion state when non-nil.
	Completed *bool
}

// TaskCounts summarizes the table for health and metrics endpoints.
type TaskCounts struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Completed int `json:"completed"`
}

const taskColumns = `id, time, content, is_completed, weekday, created_at, completed_at`

func scanTask(scanFn func(dest ...any) error, task *Task) error {
	var (
		wd          sql.NullInt64
		completedAt sql.NullTime
	)
	if err := scanFn(&task.ID, &task.Time, &task.Content, &task.IsCompleted, &wd, &task.CreatedAt, &completedAt); err != nil {
		return err
	}
	task.Weekday = weekday.None
	if wd.Valid {
		task.Weekday = weekday.Weekday(wd.Int64)
	}
	task.CompletedAt = nil
	if completedAt.Valid {
		ts := completedAt.Time
		task.CompletedAt = &ts
	}
	return nil
}

// weekdayColumn returns the SQL value for the weekday tag of a time label.
func weekdayColumn(label string) any {
	if wd := weekday.Find(label); wd.Valid() {
		return int(wd)
	}
	return nil
}

func getTaskTx(ctx context.Context, tx *sql.Tx, id int64) (*Task, error) {
	var task Task
	err := scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?;`, id).Scan, &task)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get task %d: %w", id, err)
	}
	return &task, nil
}

// CreateTask inserts a pending task. Both fields must be non-blank.
func (s *Store) CreateTask(ctx context.Context, timeLabel, content string) (*Task, error) {
	if strings.TrimSpace(timeLabel) == "" {
		return nil, fmt.Errorf("time is required: %w", ErrValidation)
	}
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("content is required: %w", ErrValidation)
	}

	var created *Task
	err := retryOnBusy(ctx, busyRetries, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		res, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (time, content, weekday)
			VALUES (?, ?, ?);
		`, timeLabel, content, weekdayColumn(timeLabel))
		if err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("insert task id: %w", err)
		}
		task, err := getTaskTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit task: %w", err)
		}
		created = task
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.bus.Publish(bus.TopicTaskCreated, bus.TaskEvent{TaskID: created.ID, Time: created.Time, Content: created.Content})
	return created, nil
}

func (s *Store) GetTask(ctx context.Context, id int64) (*Task, error) {
	var task Task
	err := scanTask(s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?;`, id).Scan, &task)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get task %d: %w", id, err)
	}
	return &task, nil
}

// ListTasks returns matching tasks ordered by time label, then id.
func (s *Store) ListTasks(ctx context.Context, f Filter) ([]Task, error) {
	var (
		where []string
		args  []any
	)
	if f.Weekday.Valid() {
		where = append(where, "weekday = ?")
		args = append(args, int(f.Weekday))
	}
	if f.Completed != nil {
		where = append(where, "is_completed = ?")
		args = append(args, boolToInt(*f.Completed))
	}
	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY time ASC, id ASC;"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	out := make([]Task, 0)
	for rows.Next() {
		var t Task
		if err := scanTask(rows.Scan, &t); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CompleteTask marks a task completed. Completing an already-completed task
// succeeds without touching completed_at.
func (s *Store) CompleteTask(ctx context.Context, id int64) (*Task, error) {
	var (
		updated    *Task
		transition bool
	)
	err := retryOnBusy(ctx, busyRetries, func() error {
		transition = false
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		current, err := getTaskTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if !current.IsCompleted {
			if _, err := tx.ExecContext(ctx, `
				UPDATE tasks
				SET is_completed = 1, completed_at = CURRENT_TIMESTAMP
				WHERE id = ?;
			`, id); err != nil {
				return fmt.Errorf("complete task %d: %w", id, err)
			}
			if current, err = getTaskTx(ctx, tx, id); err != nil {
				return err
			}
			transition = true
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit complete: %w", err)
		}
		updated = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	if transition {
		s.bus.Publish(bus.TopicTaskCompleted, bus.TaskEvent{TaskID: updated.ID, Time: updated.Time, Content: updated.Content})
	}
	return updated, nil
}

// DeleteTask permanently removes a task.
func (s *Store) DeleteTask(ctx context.Context, id int64) error {
	err := retryOnBusy(ctx, busyRetries, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?;`, id)
		if err != nil {
			return fmt.Errorf("delete task %d: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete task %d rows: %w", id, err)
		}
		if n == 0 {
			return fmt.Errorf("task %d: %w", id, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.bus.Publish(bus.TopicTaskDeleted, bus.TaskEvent{TaskID: id})
	return nil
}

// TaskExists reports whether a task with exactly this time and content exists.
func (s *Store) TaskExists(ctx context.Context, timeLabel, content string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM tasks WHERE time = ? AND content = ? LIMIT 1;
	`, timeLabel, content).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("task exists: %w", err)
	}
	return true, nil
}

func (s *Store) TaskCounts(ctx context.Context) (TaskCounts, error) {
	var c TaskCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(1),
			COALESCE(SUM(CASE WHEN is_completed = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN is_completed = 1 THEN 1 ELSE 0 END), 0)
		FROM tasks;
	`).Scan(&c.Total, &c.Pending, &c.Completed)
	if err != nil {
		return TaskCounts{}, fmt.Errorf("count tasks: %w", err)
	}
	return c, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
