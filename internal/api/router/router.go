package router

import (
	"net/http"

	"github.com/cuongbtq/reservation-import/internal/api/handler"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware(deps.AllowedOrigins))

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		checks := gin.H{}
		healthy := true
		for name, check := range deps.HealthChecks {
			if err := check(c.Request.Context()); err != nil {
				checks[name] = err.Error()
				healthy = false
				continue
			}
			checks[name] = "ok"
		}

		if !healthy {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unhealthy",
				"service": "reservation-import-api",
				"checks":  checks,
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "reservation-import-api",
			"checks":  checks,
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	taskHandler := handler.NewTaskHandler(deps)
	liveStatusHandler := handler.NewLiveStatusHandler(deps)

	tasks := r.Group("/tasks")
	{
		// POST /tasks/upload - Submit a workbook for import
		tasks.POST("/upload", RateLimitMiddleware(deps.UploadRateLimit, deps.UploadBurst), taskHandler.Upload)

		// GET /tasks/status/:taskId - Current status of a task
		tasks.GET("/status/:taskId", taskHandler.GetStatus)

		// GET /tasks/report/:taskId - Download the validation error report
		tasks.GET("/report/:taskId", taskHandler.GetReport)

		// GET /tasks - List tasks with filtering and pagination
		tasks.GET("", taskHandler.ListTasks)
	}

	// GET /ws/tasks - Realtime task status channel
	r.GET("/ws/tasks", liveStatusHandler.Serve)

	return r
}
