package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/reservation-import/internal/api/dto"
	"github.com/cuongbtq/reservation-import/internal/api/service"
	"github.com/cuongbtq/reservation-import/internal/domain"
	"github.com/cuongbtq/reservation-import/internal/notifier"
	"github.com/gin-gonic/gin"
)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger      *slog.Logger
	TaskService *service.TaskService
	Hub         *notifier.Hub

	// MaxUploadBytes caps the request body of an upload; zero means no limit
	MaxUploadBytes int64
	// AllowedOrigins lists the origins allowed for CORS and WebSocket
	// upgrades; empty allows any origin
	AllowedOrigins []string
	// UploadRateLimit is the number of uploads per second allowed per client;
	// zero disables limiting
	UploadRateLimit float64
	UploadBurst     int

	// HealthChecks are probed by GET /health, keyed by dependency name
	HealthChecks map[string]func(ctx context.Context) error
}

// TaskHandler handles task-related HTTP requests
type TaskHandler struct {
	logger         *slog.Logger
	tasks          *service.TaskService
	maxUploadBytes int64
}

// NewTaskHandler creates a new TaskHandler instance
func NewTaskHandler(deps *Dependencies) *TaskHandler {
	return &TaskHandler{
		logger:         deps.Logger,
		tasks:          deps.TaskService,
		maxUploadBytes: deps.MaxUploadBytes,
	}
}

// respondError maps service errors to HTTP responses
func respondError(c *gin.Context, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrTaskNotFound):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "task not found"})
	case errors.Is(err, domain.ErrReportNotFound):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "error report not found"})
	default:
		logger.Error("Request failed",
			slog.String("path", c.FullPath()),
			slog.String("error", err.Error()),
		)
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "internal server error"})
	}
}
