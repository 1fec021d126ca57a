package worker

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/reservation-import/internal/domain"
	"github.com/cuongbtq/reservation-import/internal/report"
	"github.com/cuongbtq/reservation-import/internal/testutil"
	"github.com/cuongbtq/reservation-import/internal/worker/storage"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const testTaskID = "6f1c9e0e-8a57-4a44-9d3c-2f0a4c1b7e11"

var fixedNow = time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.StatusEvent
}

func (r *recordingPublisher) PublishStatus(_ context.Context, event domain.StatusEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingPublisher) statuses() []domain.TaskStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.TaskStatus, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Status)
	}
	return out
}

type processorFixture struct {
	db        *sqlx.DB
	storage   *storage.Storage
	publisher *recordingPublisher
	processor *Processor
	reportDir string
}

func newProcessorFixture(t *testing.T, load func(string) ([]domain.ReservationRow, error)) *processorFixture {
	t.Helper()

	db := testutil.NewSQLiteDB(t)
	store := storage.NewStorage(db, sql.LevelDefault, testutil.DiscardLogger())
	publisher := &recordingPublisher{}
	reportDir := filepath.Join(t.TempDir(), "reports")

	p := NewProcessor(&ProcessorConfig{
		Logger:    testutil.DiscardLogger(),
		Storage:   store,
		Reports:   report.NewBuilder(reportDir),
		Publisher: publisher,
		Load:      load,
		Now:       func() time.Time { return fixedNow },
	})

	return &processorFixture{
		db:        db,
		storage:   store,
		publisher: publisher,
		processor: p,
		reportDir: reportDir,
	}
}

func (f *processorFixture) createTask(t *testing.T, filePath string, status domain.TaskStatus) {
	t.Helper()
	now := time.Now().UTC()
	_, err := f.db.Exec(
		`INSERT INTO tasks (task_id, file_path, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		testTaskID, filePath, string(status), now, now,
	)
	require.NoError(t, err)
}

func (f *processorFixture) task(t *testing.T) *domain.Task {
	t.Helper()
	task, err := f.storage.GetTask(context.Background(), testTaskID)
	require.NoError(t, err)
	return task
}

func rowsOf(rows ...domain.ReservationRow) func(string) ([]domain.ReservationRow, error) {
	return func(string) ([]domain.ReservationRow, error) { return rows, nil }
}

func message(attempt int) *domain.JobMessage {
	return &domain.JobMessage{
		TaskID:      testTaskID,
		FilePath:    "uploads/x.xlsx",
		Attempt:     attempt,
		MaxAttempts: 3,
	}
}

func writeWorkbook(t *testing.T, rows [][]any) string {
	t.Helper()
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	path := filepath.Join(t.TempDir(), "upload.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func TestProcessor_ImportsValidWorkbook(t *testing.T) {
	path := writeWorkbook(t, [][]any{
		{"reservation_id", "guest_name", "status", "check_in_date", "check_out_date"},
		{1, "John", "oczekująca", "2024-01-01", "2024-01-05"},
	})
	f := newProcessorFixture(t, nil)
	f.createTask(t, path, domain.TaskStatusPending)

	require.NoError(t, f.processor.Process(context.Background(), message(1)))

	task := f.task(t)
	assert.Equal(t, domain.TaskStatusCompleted, task.Status)
	assert.False(t, task.HasReport())

	r, err := f.storage.GetReservation(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "John", r.GuestName)
	assert.Equal(t, domain.ReservationStatusPending, r.Status)

	assert.Equal(t, []domain.TaskStatus{domain.TaskStatusInProgress, domain.TaskStatusCompleted}, f.publisher.statuses())
}

func TestProcessor_ValidationFailureProducesReport(t *testing.T) {
	f := newProcessorFixture(t, rowsOf(domain.ReservationRow{
		ReservationID: "1",
		GuestName:     "John",
		Status:        "PENDING",
		CheckInDate:   "2024-01-05",
		CheckOutDate:  "2024-01-01",
	}))
	f.createTask(t, "uploads/x.xlsx", domain.TaskStatusPending)

	require.NoError(t, f.processor.Process(context.Background(), message(1)))

	task := f.task(t)
	assert.Equal(t, domain.TaskStatusFailed, task.Status)
	require.True(t, task.HasReport())
	assert.Equal(t, f.reportDir, filepath.Dir(task.ErrorReportPath))

	wb, err := excelize.OpenFile(task.ErrorReportPath)
	require.NoError(t, err)
	defer func() { _ = wb.Close() }()
	rows, err := wb.GetRows(report.SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "1", rows[1][0])
	assert.Contains(t, rows[1][2], "check_out_date")

	_, err = f.storage.GetReservation(context.Background(), 1)
	assert.ErrorIs(t, err, sql.ErrNoRows)

	assert.Equal(t, []domain.TaskStatus{domain.TaskStatusFailed}, f.publisher.statuses())
}

func TestProcessor_TerminalStatusForUnknownReservationIsSkipped(t *testing.T) {
	f := newProcessorFixture(t, rowsOf(domain.ReservationRow{
		ReservationID: "77",
		GuestName:     "Anna",
		Status:        "COMPLETED",
		CheckInDate:   "2024-01-01",
		CheckOutDate:  "2024-01-03",
	}))
	f.createTask(t, "uploads/x.xlsx", domain.TaskStatusPending)

	require.NoError(t, f.processor.Process(context.Background(), message(1)))

	assert.Equal(t, domain.TaskStatusCompleted, f.task(t).Status)
	_, err := f.storage.GetReservation(context.Background(), 77)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestProcessor_StorageFailureIsRetried(t *testing.T) {
	f := newProcessorFixture(t, rowsOf(domain.ReservationRow{
		ReservationID: "1",
		GuestName:     "John",
		Status:        "PENDING",
		CheckInDate:   "2024-01-01",
		CheckOutDate:  "2024-01-05",
	}))
	f.createTask(t, "uploads/x.xlsx", domain.TaskStatusPending)

	_, err := f.db.Exec(`DROP TABLE reservations`)
	require.NoError(t, err)

	for attempt := 1; attempt < 3; attempt++ {
		err = f.processor.Process(context.Background(), message(attempt))
		require.Error(t, err)
		assert.True(t, domain.IsRetryable(err))
		assert.Equal(t, domain.TaskStatusPending, f.task(t).Status, "attempt %d", attempt)
	}
	assert.Empty(t, f.publisher.statuses())

	err = f.processor.Process(context.Background(), message(3))
	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err))

	task := f.task(t)
	assert.Equal(t, domain.TaskStatusFailed, task.Status)
	assert.False(t, task.HasReport())
	assert.Equal(t, []domain.TaskStatus{domain.TaskStatusFailed}, f.publisher.statuses())
}

func TestProcessor_ReportIsRemovedWhenTaskCannotBeFailed(t *testing.T) {
	f := newProcessorFixture(t, rowsOf(domain.ReservationRow{
		ReservationID: "1",
		GuestName:     "John",
		Status:        "PENDING",
		CheckInDate:   "2024-01-05",
		CheckOutDate:  "2024-01-01",
	}))
	f.createTask(t, "uploads/x.xlsx", domain.TaskStatusPending)

	_, err := f.db.Exec(`CREATE TRIGGER tasks_no_fail BEFORE UPDATE ON tasks
		WHEN NEW.status = 'FAILED'
		BEGIN SELECT RAISE(ABORT, 'tasks locked'); END`)
	require.NoError(t, err)

	for attempt := 1; attempt <= 3; attempt++ {
		err = f.processor.Process(context.Background(), message(attempt))
		require.Error(t, err)
		assert.True(t, domain.IsRetryable(err))

		reports, _ := filepath.Glob(filepath.Join(f.reportDir, "*.xlsx"))
		assert.Empty(t, reports, "attempt %d", attempt)
	}

	assert.Equal(t, domain.TaskStatusPending, f.task(t).Status)
	assert.Empty(t, f.publisher.statuses())
}

func TestProcessor_DuplicateDeliveryIsNoop(t *testing.T) {
	calls := 0
	f := newProcessorFixture(t, func(string) ([]domain.ReservationRow, error) {
		calls++
		return nil, nil
	})
	f.createTask(t, "uploads/x.xlsx", domain.TaskStatusCompleted)

	require.NoError(t, f.processor.Process(context.Background(), message(1)))

	assert.Zero(t, calls)
	assert.Equal(t, domain.TaskStatusCompleted, f.task(t).Status)
	assert.Empty(t, f.publisher.statuses())
}

func TestProcessor_ReprocessingIsIdempotent(t *testing.T) {
	row := domain.ReservationRow{
		ReservationID: "5",
		GuestName:     "Piotr",
		Status:        "PENDING",
		CheckInDate:   "2024-01-01",
		CheckOutDate:  "2024-01-05",
	}
	f := newProcessorFixture(t, rowsOf(row))
	f.createTask(t, "uploads/x.xlsx", domain.TaskStatusPending)
	require.NoError(t, f.processor.Process(context.Background(), message(1)))
	first, err := f.storage.GetReservation(context.Background(), 5)
	require.NoError(t, err)

	// same rows under a second task leave the reservation unchanged
	_, err = f.db.Exec(`UPDATE tasks SET task_id = 'previous'`)
	require.NoError(t, err)
	f.createTask(t, "uploads/x.xlsx", domain.TaskStatusPending)
	require.NoError(t, f.processor.Process(context.Background(), message(1)))

	second, err := f.storage.GetReservation(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestProcessor_UnknownTaskIsPermanent(t *testing.T) {
	f := newProcessorFixture(t, rowsOf())

	err := f.processor.Process(context.Background(), message(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)
	assert.False(t, domain.IsRetryable(err))
}

func TestProcessor_UnreadableWorkbook(t *testing.T) {
	f := newProcessorFixture(t, func(string) ([]domain.ReservationRow, error) {
		return nil, errors.Join(domain.ErrUnreadableWorkbook, errors.New("zip: not a valid zip file"))
	})
	f.createTask(t, "uploads/x.xlsx", domain.TaskStatusPending)

	err := f.processor.Process(context.Background(), message(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnreadableWorkbook)
	assert.False(t, domain.IsRetryable(err))

	task := f.task(t)
	assert.Equal(t, domain.TaskStatusFailed, task.Status)
	assert.False(t, task.HasReport())
	assert.Equal(t, []domain.TaskStatus{domain.TaskStatusFailed}, f.publisher.statuses())
}
