package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/reservation-import/internal/api/dto"
	"github.com/cuongbtq/reservation-import/internal/api/service"
	"github.com/cuongbtq/reservation-import/internal/api/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Upload handles POST /tasks/upload
// Accepts an XLSX workbook in the multipart field "file" and queues its import
func (h *TaskHandler) Upload(c *gin.Context) {
	h.logger.Info("Upload called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("client_ip", c.ClientIP()),
	)

	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, dto.ErrorResponse{
				Error: fmt.Sprintf("file exceeds %d bytes", tooLarge.Limit),
			})
			return
		}
		h.logger.Error("Missing upload file", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "multipart field 'file' is required"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		h.logger.Error("Failed to open upload", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "failed to read upload"})
		return
	}
	defer file.Close()

	taskID, err := h.tasks.Submit(c.Request.Context(), service.Upload{
		Filename:    fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Content:     file,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, dto.SubmitTaskResponse{TaskID: taskID})
}

// GetStatus handles GET /tasks/status/:taskId
func (h *TaskHandler) GetStatus(c *gin.Context) {
	taskID, ok := h.taskIDParam(c)
	if !ok {
		return
	}

	task, err := h.tasks.GetStatus(c.Request.Context(), taskID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.TaskStatusResponse{
		TaskID: task.TaskID,
		Status: string(task.Status),
	})
}

// GetReport handles GET /tasks/report/:taskId
// Streams the validation error report of a failed task
func (h *TaskHandler) GetReport(c *gin.Context) {
	taskID, ok := h.taskIDParam(c)
	if !ok {
		return
	}

	report, err := h.tasks.GetReport(c.Request.Context(), taskID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	defer report.Content.Close()

	filename := fmt.Sprintf("error-report-%s.xlsx", time.Now().UTC().Format(time.RFC3339))
	c.DataFromReader(http.StatusOK, report.Size, service.XLSXContentType, report.Content, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", filename),
	})
}

// ListTasks handles GET /tasks
// Lists tasks newest first with optional status filter and cursor pagination
func (h *TaskHandler) ListTasks(c *gin.Context) {
	h.logger.Info("ListTasks called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("query", c.Request.URL.RawQuery),
	)

	var req dto.ListTasksRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid query parameters"})
		return
	}

	cursor, err := DecodeTaskCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid cursor"})
		return
	}

	tasks, next, err := h.tasks.ListTasks(c.Request.Context(), storage.TaskFilter{
		Status:   req.Status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	resp := dto.ListTasksResponse{Tasks: make([]dto.TaskDTO, len(tasks))}
	for i, task := range tasks {
		resp.Tasks[i] = dto.TaskDTO{
			TaskID:    task.TaskID,
			Status:    string(task.Status),
			HasReport: task.HasReport(),
			CreatedAt: task.CreatedAt.Format(time.RFC3339),
			UpdatedAt: task.UpdatedAt.Format(time.RFC3339),
		}
	}
	if next != nil {
		resp.NextCursor = EncodeTaskCursor(next)
	}

	c.JSON(http.StatusOK, resp)
}

func (h *TaskHandler) taskIDParam(c *gin.Context) (string, bool) {
	taskID := c.Param("taskId")
	if _, err := uuid.Parse(taskID); err != nil {
		h.logger.Error("Invalid taskId format", slog.String("task_id", taskID), slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "taskId must be a valid UUID"})
		return "", false
	}
	return taskID, true
}
