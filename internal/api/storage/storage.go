package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/reservation-import/internal/domain"
	"github.com/jmoiron/sqlx"
)

const taskColumns = `task_id, file_path, status, COALESCE(error_report_path, '') AS error_report_path, created_at, updated_at`

type Storage struct {
	db *sqlx.DB
}

func NewStorage(db *sqlx.DB) *Storage {
	return &Storage{
		db: db,
	}
}

func (s *Storage) CreateTask(ctx context.Context, task *domain.Task) error {
	query := s.db.Rebind(`
		INSERT INTO tasks (
			task_id, file_path, status, created_at, updated_at
		) VALUES (
			?, ?, ?, ?, ?
		)
	`)

	_, err := s.db.ExecContext(
		ctx,
		query,
		task.TaskID,
		task.FilePath,
		string(task.Status),
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	return nil
}

func (s *Storage) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	var task domain.Task
	query := s.db.Rebind(`SELECT ` + taskColumns + ` FROM tasks WHERE task_id = ?`)

	err := s.db.GetContext(ctx, &task, query, taskID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	return &task, nil
}

// MarkTaskFailed fails a task that never reached the queue. Only PENDING
// tasks are touched.
func (s *Storage) MarkTaskFailed(ctx context.Context, taskID string) error {
	query := s.db.Rebind(`
		UPDATE tasks
		SET status = ?, updated_at = ?
		WHERE task_id = ? AND status = ?
	`)

	res, err := s.db.ExecContext(ctx, query,
		string(domain.TaskStatusFailed),
		time.Now().UTC().Truncate(time.Microsecond),
		taskID,
		string(domain.TaskStatusPending),
	)
	if err != nil {
		return fmt.Errorf("failed to mark task as failed: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: task %s is not pending", domain.ErrInvalidTransition, taskID)
	}

	return nil
}

type TaskFilter struct {
	Status   string
	PageSize int
	Cursor   *TaskCursor
}

// TaskCursor points at the last task of the previous page
type TaskCursor struct {
	CreatedAt time.Time
	TaskID    string
}

// ListTasks returns up to PageSize+1 tasks, newest first. The extra row
// tells the caller whether another page exists.
func (s *Storage) ListTasks(ctx context.Context, filter TaskFilter) ([]domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE 1=1`
	args := []interface{}{}

	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}

	if filter.Cursor != nil {
		query += " AND (created_at < ? OR (created_at = ? AND task_id < ?))"
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.CreatedAt, filter.Cursor.TaskID)
	}

	// Order by created_at DESC, task_id DESC for consistent pagination
	query += " ORDER BY created_at DESC, task_id DESC LIMIT ?"
	args = append(args, filter.PageSize+1)

	var tasks []domain.Task
	err := s.db.SelectContext(ctx, &tasks, s.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	return tasks, nil
}
