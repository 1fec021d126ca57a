package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/reservation-import/internal/domain"
	"github.com/cuongbtq/reservation-import/internal/metrics"
	"github.com/cuongbtq/reservation-import/internal/notifier"
	"github.com/cuongbtq/reservation-import/internal/report"
	"github.com/cuongbtq/reservation-import/internal/spreadsheet"
	"github.com/cuongbtq/reservation-import/internal/validator"
	"github.com/cuongbtq/reservation-import/internal/worker/storage"
)

// ProcessorConfig holds the collaborators of a Processor
type ProcessorConfig struct {
	Logger    *slog.Logger
	Storage   *storage.Storage
	Reports   *report.Builder
	Publisher notifier.StatusPublisher

	// ConflictRetries is how many times a transaction that lost a
	// serialization conflict is run again before giving up
	ConflictRetries int

	// Load reads the workbook rows; defaults to spreadsheet.Load
	Load func(path string) ([]domain.ReservationRow, error)
	// Now is the clock used for date range validation; defaults to time.Now
	Now func() time.Time
}

// Processor imports one uploaded workbook per job
type Processor struct {
	logger          *slog.Logger
	storage         *storage.Storage
	reports         *report.Builder
	publisher       notifier.StatusPublisher
	conflictRetries int
	load            func(path string) ([]domain.ReservationRow, error)
	now             func() time.Time
}

// NewProcessor creates a processor
func NewProcessor(cfg *ProcessorConfig) *Processor {
	p := &Processor{
		logger:          cfg.Logger,
		storage:         cfg.Storage,
		reports:         cfg.Reports,
		publisher:       cfg.Publisher,
		conflictRetries: cfg.ConflictRetries,
		load:            cfg.Load,
		now:             cfg.Now,
	}
	if p.load == nil {
		p.load = spreadsheet.Load
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.conflictRetries < 0 {
		p.conflictRetries = 0
	}
	return p
}

// Process runs the import of the task named by msg. A nil error means the
// delivery is done with, whatever the task outcome. Errors wrapping
// domain.RetryableError may succeed on a later attempt; any other error is
// permanent.
func (p *Processor) Process(ctx context.Context, msg *domain.JobMessage) error {
	logger := p.logger.With(
		slog.String("task_id", msg.TaskID),
		slog.Int("attempt", msg.Attempt),
	)

	task, err := p.storage.GetTask(ctx, msg.TaskID)
	if err != nil {
		if errors.Is(err, domain.ErrTaskNotFound) {
			return fmt.Errorf("failed to load task %s: %w", msg.TaskID, err)
		}
		return p.infraFailure(ctx, logger, msg, fmt.Errorf("failed to load task: %w", err))
	}

	if task.Status.IsTerminal() {
		logger.Info("Task already finished, skipping duplicate delivery",
			slog.String("status", string(task.Status)),
		)
		return nil
	}

	rows, err := p.load(task.FilePath)
	if err != nil {
		if errors.Is(err, domain.ErrUnreadableWorkbook) {
			logger.Error("Workbook cannot be read",
				slog.String("file_path", task.FilePath),
				slog.String("error", err.Error()),
			)
			if markErr := p.markFailed(ctx, logger, task.TaskID, ""); markErr != nil {
				return p.infraFailure(ctx, logger, msg, markErr)
			}
			return err
		}
		return p.infraFailure(ctx, logger, msg, fmt.Errorf("failed to load workbook: %w", err))
	}

	reservations, rowErrs := validator.ValidateAll(rows, p.now())
	if len(rowErrs) > 0 {
		return p.reject(ctx, logger, msg, rowErrs, len(rows))
	}

	result, err := p.apply(ctx, logger, task.TaskID, reservations)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			logger.Warn("Task was finished by another delivery",
				slog.String("error", err.Error()),
			)
			return nil
		}
		return p.infraFailure(ctx, logger, msg, err)
	}

	metrics.AddRows(metrics.RowUpserted, result.Upserted+result.StatusUpdated)
	metrics.AddRows(metrics.RowSkipped, result.Skipped)
	metrics.IncTaskFinished(string(domain.TaskStatusCompleted))

	logger.Info("Reservations imported",
		slog.Int("rows", len(rows)),
		slog.Int("upserted", result.Upserted),
		slog.Int("status_updated", result.StatusUpdated),
		slog.Int("skipped", result.Skipped),
	)

	p.publish(ctx, logger, task.TaskID, domain.TaskStatusInProgress)
	p.publish(ctx, logger, task.TaskID, domain.TaskStatusCompleted)

	return nil
}

// reject writes the error report and fails the task. Validation failures are
// final, so nothing here is retried unless storage itself fails.
func (p *Processor) reject(ctx context.Context, logger *slog.Logger, msg *domain.JobMessage, rowErrs []domain.RowError, total int) error {
	metrics.AddRows(metrics.RowInvalid, len(rowErrs))

	reportPath, err := p.reports.Build(rowErrs)
	if err != nil {
		return p.infraFailure(ctx, logger, msg, fmt.Errorf("failed to build error report: %w", err))
	}

	logger.Warn("Workbook failed validation",
		slog.Int("rows", total),
		slog.Int("errors", len(rowErrs)),
		slog.String("report_path", reportPath),
	)

	if err := p.markFailed(ctx, logger, msg.TaskID, reportPath); err != nil {
		// the next attempt builds its own report
		if rmErr := p.reports.Remove(reportPath); rmErr != nil {
			logger.Warn("Failed to remove unattached error report",
				slog.String("report_path", reportPath),
				slog.String("error", rmErr.Error()),
			)
		}
		return p.infraFailure(ctx, logger, msg, err)
	}
	return nil
}

// apply writes IN_PROGRESS, the reservations and COMPLETED in one transaction
func (p *Processor) apply(ctx context.Context, logger *slog.Logger, taskID string, reservations []domain.Reservation) (domain.UpsertResult, error) {
	var result domain.UpsertResult

	run := func() error {
		return p.storage.RunInTx(ctx, func(tx *storage.Tx) error {
			if err := tx.UpdateTaskStatus(ctx, taskID, domain.TaskStatusInProgress); err != nil {
				return err
			}
			r, err := tx.UpsertReservations(ctx, reservations)
			if err != nil {
				return err
			}
			if err := tx.UpdateTaskStatus(ctx, taskID, domain.TaskStatusCompleted); err != nil {
				return err
			}
			result = r
			return nil
		})
	}

	var err error
	for attempt := 0; attempt <= p.conflictRetries; attempt++ {
		err = run()
		if err == nil || !storage.IsSerializationConflict(err) {
			break
		}
		logger.Warn("Serialization conflict, running transaction again",
			slog.Int("conflict_retry", attempt+1),
			slog.Int("conflict_retries", p.conflictRetries),
		)
	}

	return result, err
}

// infraFailure turns a transient failure into a retryable error. On the last
// attempt the task is marked FAILED first so it does not stay PENDING.
func (p *Processor) infraFailure(ctx context.Context, logger *slog.Logger, msg *domain.JobMessage, err error) error {
	if msg.IsFinalAttempt() {
		logger.Error("Final attempt failed, marking task as failed",
			slog.String("error", err.Error()),
		)
		if markErr := p.markFailed(ctx, logger, msg.TaskID, ""); markErr != nil {
			logger.Error("Failed to mark task as failed",
				slog.String("error", markErr.Error()),
			)
		}
	}
	return domain.NewRetryableError(err)
}

// markFailed moves the task to FAILED and announces it. A task that already
// completed is left alone.
func (p *Processor) markFailed(ctx context.Context, logger *slog.Logger, taskID, reportPath string) error {
	if err := p.storage.MarkTaskFailed(ctx, taskID, reportPath); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			logger.Warn("Task can no longer be marked as failed",
				slog.String("error", err.Error()),
			)
			return nil
		}
		return fmt.Errorf("failed to mark task as failed: %w", err)
	}

	metrics.IncTaskFinished(string(domain.TaskStatusFailed))
	p.publish(ctx, logger, taskID, domain.TaskStatusFailed)
	return nil
}

// publish announces a committed transition. Delivery is best-effort.
func (p *Processor) publish(ctx context.Context, logger *slog.Logger, taskID string, status domain.TaskStatus) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.PublishStatus(ctx, domain.StatusEvent{TaskID: taskID, Status: status}); err != nil {
		logger.Warn("Failed to publish status event",
			slog.String("status", string(status)),
			slog.String("error", err.Error()),
		)
	}
}
