package service

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/cuongbtq/reservation-import/internal/api/storage"
	"github.com/cuongbtq/reservation-import/internal/domain"
	"github.com/cuongbtq/reservation-import/internal/metrics"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// XLSXContentType is the only content type accepted for uploads
const XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// sniffLen is how much of an upload is inspected to detect its real type
const sniffLen = 3072

// Page size bounds for ListTasks
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// JobQueue publishes job messages for the workers
type JobQueue interface {
	PublishWithRetry(ctx context.Context, messageID string, body []byte, contentType string) error
}

// Upload is a workbook submitted for import
type Upload struct {
	Filename    string
	ContentType string
	Content     io.Reader
}

// Report is an open error report
type Report struct {
	Content io.ReadCloser
	Size    int64
}

// TaskService implements task submission and lookup
type TaskService struct {
	storage   *storage.Storage
	queue     JobQueue
	uploadDir string
	logger    *slog.Logger
}

// NewTaskService creates a task service that stores uploads in uploadDir
func NewTaskService(store *storage.Storage, queue JobQueue, uploadDir string, logger *slog.Logger) *TaskService {
	return &TaskService{
		storage:   store,
		queue:     queue,
		uploadDir: uploadDir,
		logger:    logger,
	}
}

// Submit stores the upload, creates a PENDING task and enqueues its job.
// The returned task id is available for status queries immediately.
func (s *TaskService) Submit(ctx context.Context, up Upload) (string, error) {
	if err := checkContentType(up.ContentType); err != nil {
		return "", err
	}

	content := bufio.NewReaderSize(up.Content, sniffLen)
	head, err := content.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return "", fmt.Errorf("failed to read upload: %w", err)
	}
	if !isZipContainer(head) {
		return "", fmt.Errorf("%w: file content is not an XLSX workbook", domain.ErrInvalidInput)
	}

	taskID := uuid.NewString()
	filePath, err := s.saveUpload(taskID, content)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	task := &domain.Task{
		TaskID:    taskID,
		FilePath:  filePath,
		Status:    domain.TaskStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.storage.CreateTask(ctx, task); err != nil {
		_ = os.Remove(filePath)
		return "", err
	}

	body, err := json.Marshal(domain.JobMessage{TaskID: taskID, FilePath: filePath})
	if err != nil {
		return "", fmt.Errorf("failed to marshal job message: %w", err)
	}

	if err := s.queue.PublishWithRetry(ctx, taskID, body, "application/json"); err != nil {
		s.logger.Error("Failed to enqueue task, marking as failed",
			slog.String("task_id", taskID),
			slog.String("error", err.Error()),
		)
		if markErr := s.storage.MarkTaskFailed(context.WithoutCancel(ctx), taskID); markErr != nil {
			s.logger.Error("Failed to mark unqueued task as failed",
				slog.String("task_id", taskID),
				slog.String("error", markErr.Error()),
			)
		}
		return "", fmt.Errorf("failed to enqueue task: %w", err)
	}

	metrics.IncTaskSubmitted()
	s.logger.Info("Task submitted",
		slog.String("task_id", taskID),
		slog.String("filename", up.Filename),
		slog.String("file_path", filePath),
	)

	return taskID, nil
}

func (s *TaskService) saveUpload(taskID string, content io.Reader) (string, error) {
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %w", err)
	}

	path := filepath.Join(s.uploadDir, taskID+".xlsx")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create upload file: %w", err)
	}

	if _, err := io.Copy(f, content); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to write upload file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to close upload file: %w", err)
	}

	return path, nil
}

// GetStatus returns the task with its current status
func (s *TaskService) GetStatus(ctx context.Context, taskID string) (*domain.Task, error) {
	return s.storage.GetTask(ctx, taskID)
}

// GetReport opens the error report of a task. The caller closes the content.
func (s *TaskService) GetReport(ctx context.Context, taskID string) (*Report, error) {
	task, err := s.storage.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !task.HasReport() {
		return nil, domain.ErrReportNotFound
	}

	f, err := os.Open(task.ErrorReportPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("Error report file is missing",
				slog.String("task_id", taskID),
				slog.String("report_path", task.ErrorReportPath),
			)
			return nil, domain.ErrReportNotFound
		}
		return nil, fmt.Errorf("failed to open error report: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to stat error report: %w", err)
	}

	return &Report{Content: f, Size: info.Size()}, nil
}

// ListTasks returns one page of tasks and the cursor of the next page, if any
func (s *TaskService) ListTasks(ctx context.Context, filter storage.TaskFilter) ([]domain.Task, *storage.TaskCursor, error) {
	if filter.Status != "" && !domain.TaskStatus(filter.Status).Valid() {
		return nil, nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidInput, filter.Status)
	}
	if filter.PageSize <= 0 {
		filter.PageSize = DefaultPageSize
	}
	if filter.PageSize > MaxPageSize {
		filter.PageSize = MaxPageSize
	}

	tasks, err := s.storage.ListTasks(ctx, filter)
	if err != nil {
		return nil, nil, err
	}

	if len(tasks) <= filter.PageSize {
		return tasks, nil, nil
	}

	tasks = tasks[:filter.PageSize]
	last := tasks[len(tasks)-1]
	return tasks, &storage.TaskCursor{CreatedAt: last.CreatedAt, TaskID: last.TaskID}, nil
}

func checkContentType(contentType string) error {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != XLSXContentType {
		return fmt.Errorf("%w: content type must be %s", domain.ErrInvalidInput, XLSXContentType)
	}
	return nil
}

// isZipContainer reports whether data starts like an XLSX file. Workbooks are
// ZIP archives, so the detected type or one of its parents must be ZIP.
func isZipContainer(data []byte) bool {
	for m := mimetype.Detect(data); m != nil; m = m.Parent() {
		if m.Is("application/zip") {
			return true
		}
	}
	return false
}
