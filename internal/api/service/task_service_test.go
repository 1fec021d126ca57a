package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/reservation-import/internal/api/storage"
	"github.com/cuongbtq/reservation-import/internal/domain"
	"github.com/cuongbtq/reservation-import/internal/testutil"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type published struct {
	messageID string
	body      []byte
}

type fakeQueue struct {
	mu       sync.Mutex
	messages []published
	err      error
}

func (q *fakeQueue) PublishWithRetry(_ context.Context, messageID string, body []byte, _ string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.messages = append(q.messages, published{messageID: messageID, body: body})
	return nil
}

func workbookBytes(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	header := []string{"reservation_id", "guest_name", "status", "check_in_date", "check_out_date"}
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &header))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func newService(t *testing.T, queue JobQueue) (*TaskService, *sqlx.DB, string) {
	t.Helper()
	db := testutil.NewSQLiteDB(t)
	dir := filepath.Join(t.TempDir(), "uploads")
	return NewTaskService(storage.NewStorage(db), queue, dir, testutil.DiscardLogger()), db, dir
}

func TestTaskService_Submit(t *testing.T) {
	queue := &fakeQueue{}
	svc, _, dir := newService(t, queue)
	ctx := context.Background()
	content := workbookBytes(t)

	taskID, err := svc.Submit(ctx, Upload{
		Filename:    "reservations.xlsx",
		ContentType: XLSXContentType,
		Content:     bytes.NewReader(content),
	})
	require.NoError(t, err)

	task, err := svc.GetStatus(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, task.Status)
	assert.Equal(t, filepath.Join(dir, taskID+".xlsx"), task.FilePath)

	stored, err := os.ReadFile(task.FilePath)
	require.NoError(t, err)
	assert.Equal(t, content, stored)

	require.Len(t, queue.messages, 1)
	assert.Equal(t, taskID, queue.messages[0].messageID)
	msg, err := domain.DecodeJobMessage(queue.messages[0].body)
	require.NoError(t, err)
	assert.Equal(t, taskID, msg.TaskID)
	assert.Equal(t, task.FilePath, msg.FilePath)
}

func TestTaskService_SubmitRejectsInvalidUploads(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		content     []byte
	}{
		{"wrong content type", "text/csv", []byte("a,b,c")},
		{"missing content type", "", []byte("a,b,c")},
		{"xlsx content type with text body", XLSXContentType, []byte("reservation_id,guest_name")},
		{"empty body", XLSXContentType, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queue := &fakeQueue{}
			svc, db, _ := newService(t, queue)

			_, err := svc.Submit(context.Background(), Upload{
				Filename:    "upload",
				ContentType: tt.contentType,
				Content:     bytes.NewReader(tt.content),
			})
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
			assert.Empty(t, queue.messages)

			var count int
			require.NoError(t, db.Get(&count, `SELECT COUNT(*) FROM tasks`))
			assert.Zero(t, count)
		})
	}
}

func TestTaskService_SubmitEnqueueFailureFailsTask(t *testing.T) {
	queue := &fakeQueue{err: errors.New("broker unavailable")}
	svc, db, _ := newService(t, queue)

	_, err := svc.Submit(context.Background(), Upload{
		ContentType: XLSXContentType,
		Content:     bytes.NewReader(workbookBytes(t)),
	})
	require.Error(t, err)

	var statuses []string
	require.NoError(t, db.Select(&statuses, `SELECT status FROM tasks`))
	assert.Equal(t, []string{string(domain.TaskStatusFailed)}, statuses)
}

func TestTaskService_GetReport(t *testing.T) {
	svc, db, _ := newService(t, &fakeQueue{})
	ctx := context.Background()

	reportPath := filepath.Join(t.TempDir(), "report.xlsx")
	require.NoError(t, os.WriteFile(reportPath, []byte("report"), 0o644))

	now := time.Now().UTC()
	insert := `INSERT INTO tasks (task_id, file_path, status, error_report_path, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`
	_, err := db.Exec(insert, "with-report", "u.xlsx", "FAILED", reportPath, now, now)
	require.NoError(t, err)
	_, err = db.Exec(insert, "without-report", "u.xlsx", "COMPLETED", nil, now, now)
	require.NoError(t, err)
	_, err = db.Exec(insert, "report-gone", "u.xlsx", "FAILED", filepath.Join(t.TempDir(), "gone.xlsx"), now, now)
	require.NoError(t, err)

	r, err := svc.GetReport(ctx, "with-report")
	require.NoError(t, err)
	data, err := io.ReadAll(r.Content)
	require.NoError(t, err)
	require.NoError(t, r.Content.Close())
	assert.Equal(t, "report", string(data))
	assert.Equal(t, int64(6), r.Size)

	_, err = svc.GetReport(ctx, "without-report")
	assert.ErrorIs(t, err, domain.ErrReportNotFound)

	_, err = svc.GetReport(ctx, "report-gone")
	assert.ErrorIs(t, err, domain.ErrReportNotFound)

	_, err = svc.GetReport(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)
}

func TestTaskService_ListTasks(t *testing.T) {
	queue := &fakeQueue{}
	svc, _, _ := newService(t, queue)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Submit(ctx, Upload{ContentType: XLSXContentType, Content: bytes.NewReader(workbookBytes(t))})
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	tasks, next, err := svc.ListTasks(ctx, storage.TaskFilter{PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
	require.NotNil(t, next)
	assert.Equal(t, tasks[1].TaskID, next.TaskID)

	tasks, next, err = svc.ListTasks(ctx, storage.TaskFilter{PageSize: 2, Cursor: next})
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
	assert.Nil(t, next)

	_, _, err = svc.ListTasks(ctx, storage.TaskFilter{PageSize: 2, Status: "DONE"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestTaskService_ListTasksPageSizeBounds(t *testing.T) {
	svc, _, _ := newService(t, &fakeQueue{})
	ctx := context.Background()

	_, err := svc.Submit(ctx, Upload{ContentType: XLSXContentType, Content: bytes.NewReader(workbookBytes(t))})
	require.NoError(t, err)

	tests := []struct {
		name     string
		pageSize int
	}{
		{"zero uses default", 0},
		{"negative uses default", -5},
		{"above max is capped", MaxPageSize + 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tasks, next, err := svc.ListTasks(ctx, storage.TaskFilter{PageSize: tt.pageSize})
			require.NoError(t, err)
			assert.Len(t, tasks, 1)
			assert.Nil(t, next)
		})
	}
}

func TestIsZipContainer(t *testing.T) {
	assert.True(t, isZipContainer([]byte("PK\x03\x04"+strings.Repeat("\x00", 26))))
	assert.False(t, isZipContainer([]byte("%PDF-1.7")))
	assert.False(t, isZipContainer(nil))

	payload, err := json.Marshal(map[string]string{"a": "b"})
	require.NoError(t, err)
	assert.False(t, isZipContainer(payload))
}
