package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/reservation-import/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const taskColumns = `task_id, file_path, status, COALESCE(error_report_path, '') AS error_report_path, created_at, updated_at`

// Storage handles all database operations for the worker
type Storage struct {
	db        *sqlx.DB
	isolation sql.IsolationLevel
	logger    *slog.Logger
}

// NewStorage creates a new Storage instance. Transactions opened by RunInTx
// use the given isolation level.
func NewStorage(db *sqlx.DB, isolation sql.IsolationLevel, logger *slog.Logger) *Storage {
	return &Storage{
		db:        db,
		isolation: isolation,
		logger:    logger,
	}
}

// GetTask retrieves a task from the database by its ID
func (s *Storage) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	return getTask(ctx, s.db, taskID)
}

// MarkTaskFailed moves the task to FAILED outside of any transaction.
// reportPath may be empty.
func (s *Storage) MarkTaskFailed(ctx context.Context, taskID, reportPath string) error {
	return updateTaskStatus(ctx, s.db, taskID, domain.TaskStatusFailed, reportPath)
}

// RunInTx runs fn inside a single transaction. The transaction is committed
// when fn returns nil and rolled back otherwise.
func (s *Storage) RunInTx(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: s.isolation})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&Tx{tx: tx, logger: s.logger}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("Failed to rollback transaction",
				slog.Any("error", rbErr),
			)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Tx exposes the writes that must happen atomically while importing
type Tx struct {
	tx     *sqlx.Tx
	logger *slog.Logger
}

// UpdateTaskStatus moves a task to status if its current status allows it
func (t *Tx) UpdateTaskStatus(ctx context.Context, taskID string, status domain.TaskStatus) error {
	return updateTaskStatus(ctx, t.tx, taskID, status, "")
}

// UpsertReservations applies validated rows. Rows with a terminal status only
// update the status of an existing reservation and are skipped when it does
// not exist. Every other row is inserted or fully replaced.
func (t *Tx) UpsertReservations(ctx context.Context, reservations []domain.Reservation) (domain.UpsertResult, error) {
	var result domain.UpsertResult

	updateStatus, err := t.tx.PreparexContext(ctx, t.tx.Rebind(`
		UPDATE reservations
		SET status = ?, updated_at = ?
		WHERE reservation_id = ?
	`))
	if err != nil {
		return result, fmt.Errorf("failed to prepare status update: %w", err)
	}
	defer updateStatus.Close()

	upsert, err := t.tx.PreparexContext(ctx, t.tx.Rebind(`
		INSERT INTO reservations (
			reservation_id, guest_name, status,
			check_in_date, check_out_date, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (reservation_id) DO UPDATE SET
			guest_name = excluded.guest_name,
			status = excluded.status,
			check_in_date = excluded.check_in_date,
			check_out_date = excluded.check_out_date,
			updated_at = excluded.updated_at
	`))
	if err != nil {
		return result, fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer upsert.Close()

	now := timestamp()
	for _, r := range reservations {
		if r.Status.IsTerminal() {
			res, err := updateStatus.ExecContext(ctx, string(r.Status), now, r.ReservationID)
			if err != nil {
				return result, fmt.Errorf("failed to update reservation %d: %w", r.ReservationID, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return result, fmt.Errorf("failed to get rows affected: %w", err)
			}
			if n == 0 {
				result.Skipped++
				continue
			}
			result.StatusUpdated++
			continue
		}

		_, err := upsert.ExecContext(ctx,
			r.ReservationID,
			r.GuestName,
			string(r.Status),
			r.CheckInDate,
			r.CheckOutDate,
			now,
			now,
		)
		if err != nil {
			return result, fmt.Errorf("failed to upsert reservation %d: %w", r.ReservationID, err)
		}
		result.Upserted++
	}

	t.logger.Debug("Reservations applied",
		slog.Int("upserted", result.Upserted),
		slog.Int("status_updated", result.StatusUpdated),
		slog.Int("skipped", result.Skipped),
	)

	return result, nil
}

// GetReservation returns a reservation by its business key
func (s *Storage) GetReservation(ctx context.Context, reservationID int64) (*domain.Reservation, error) {
	var row struct {
		ReservationID int64     `db:"reservation_id"`
		GuestName     string    `db:"guest_name"`
		Status        string    `db:"status"`
		CheckInDate   time.Time `db:"check_in_date"`
		CheckOutDate  time.Time `db:"check_out_date"`
	}

	query := s.db.Rebind(`
		SELECT reservation_id, guest_name, status, check_in_date, check_out_date
		FROM reservations
		WHERE reservation_id = ?
	`)
	if err := s.db.GetContext(ctx, &row, query, reservationID); err != nil {
		return nil, fmt.Errorf("failed to get reservation %d: %w", reservationID, err)
	}

	return &domain.Reservation{
		ReservationID: row.ReservationID,
		GuestName:     row.GuestName,
		Status:        domain.ReservationStatus(row.Status),
		CheckInDate:   row.CheckInDate.UTC(),
		CheckOutDate:  row.CheckOutDate.UTC(),
	}, nil
}

// IsSerializationConflict reports whether err is a PostgreSQL serialization
// failure or deadlock, which are resolved by running the transaction again
func IsSerializationConflict(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "40001" || pqErr.Code == "40P01"
}

func getTask(ctx context.Context, q sqlx.ExtContext, taskID string) (*domain.Task, error) {
	var task domain.Task
	query := q.Rebind(`SELECT ` + taskColumns + ` FROM tasks WHERE task_id = ?`)

	if err := sqlx.GetContext(ctx, q, &task, query, taskID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	return &task, nil
}

func updateTaskStatus(ctx context.Context, ext sqlx.ExtContext, taskID string, status domain.TaskStatus, reportPath string) error {
	now := timestamp()

	set := `status = ?, updated_at = ?`
	args := []interface{}{string(status), now}
	if reportPath != "" {
		set += `, error_report_path = ?`
		args = append(args, reportPath)
	}
	args = append(args, taskID, domain.StatusStrings(status.AllowedPredecessors()))

	query, args, err := sqlx.In(`UPDATE tasks SET `+set+` WHERE task_id = ? AND status IN (?)`, args...)
	if err != nil {
		return fmt.Errorf("failed to build status update: %w", err)
	}

	res, err := ext.ExecContext(ctx, ext.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("failed to update task status: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	current, err := getTask(ctx, ext, taskID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, current.Status, status)
}

// timestamp returns the current time at the precision PostgreSQL stores
func timestamp() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
