package router

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cuongbtq/reservation-import/internal/api/handler"
	"github.com/cuongbtq/reservation-import/internal/api/service"
	"github.com/cuongbtq/reservation-import/internal/api/storage"
	"github.com/cuongbtq/reservation-import/internal/notifier"
	"github.com/cuongbtq/reservation-import/internal/testutil"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

type nopQueue struct{}

func (nopQueue) PublishWithRetry(context.Context, string, []byte, string) error { return nil }

func newTestRouter(t *testing.T, origins []string, rps float64) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := testutil.DiscardLogger()
	db := testutil.NewSQLiteDB(t)

	return SetupRouter(&handler.Dependencies{
		Logger:          logger,
		TaskService:     service.NewTaskService(storage.NewStorage(db), nopQueue{}, t.TempDir(), logger),
		Hub:             notifier.NewHub(logger),
		AllowedOrigins:  origins,
		UploadRateLimit: rps,
		UploadBurst:     1,
	})
}

func TestSetupRouter_Routes(t *testing.T) {
	r := newTestRouter(t, nil, 0)

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
	}{
		{"health", http.MethodGet, "/health", http.StatusOK},
		{"metrics", http.MethodGet, "/metrics", http.StatusOK},
		{"list tasks", http.MethodGet, "/tasks", http.StatusOK},
		{"status with bad id", http.MethodGet, "/tasks/status/xyz", http.StatusBadRequest},
		{"report with bad id", http.MethodGet, "/tasks/report/xyz", http.StatusBadRequest},
		{"upload without body", http.MethodPost, "/tasks/upload", http.StatusBadRequest},
		{"websocket without upgrade", http.MethodGet, "/ws/tasks", http.StatusBadRequest},
		{"unknown route", http.MethodGet, "/api/v1/jobs", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestHealth_ReportsFailingDependency(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := testutil.DiscardLogger()

	r := SetupRouter(&handler.Dependencies{
		Logger:      logger,
		TaskService: service.NewTaskService(storage.NewStorage(testutil.NewSQLiteDB(t)), nopQueue{}, t.TempDir(), logger),
		Hub:         notifier.NewHub(logger),
		HealthChecks: map[string]func(context.Context) error{
			"database": func(context.Context) error { return nil },
			"redis":    func(context.Context) error { return errors.New("connection refused") },
		},
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestRateLimitMiddleware(t *testing.T) {
	r := newTestRouter(t, nil, 0.001)

	send := func(ip string) int {
		req := httptest.NewRequest(http.MethodPost, "/tasks/upload", nil)
		req.RemoteAddr = ip + ":1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusBadRequest, send("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, send("10.0.0.1"))
	assert.Equal(t, http.StatusBadRequest, send("10.0.0.2"))
}

func TestClientLimiter_EvictsIdleClients(t *testing.T) {
	now := time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)
	l := newClientLimiter(rate.Limit(1), 2)
	l.now = func() time.Time { return now }
	l.lastSweep.Store(now.UnixNano())

	count := func() int {
		n := 0
		l.limiters.Range(func(_, _ any) bool {
			n++
			return true
		})
		return n
	}

	for i := 0; i < 50; i++ {
		l.get(fmt.Sprintf("10.0.0.%d", i))
	}
	assert.Equal(t, 50, count())

	now = now.Add(limiterIdleTTL / 2)
	active := l.get("10.0.0.1")
	assert.Equal(t, 50, count(), "no sweep before the idle ttl")

	now = now.Add(limiterIdleTTL/2 + time.Second)
	l.get("10.0.1.1")
	assert.Equal(t, 2, count())
	assert.Same(t, active, l.get("10.0.0.1"), "recently used bucket is kept")
}

func TestCORSMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		origins    []string
		origin     string
		wantHeader string
	}{
		{"any origin", nil, "http://client.test", "*"},
		{"listed origin", []string{"http://localhost:3000"}, "http://localhost:3000", "http://localhost:3000"},
		{"unlisted origin", []string{"http://localhost:3000"}, "http://evil.test", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(t, tt.origins, 0)

			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.wantHeader, w.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}
