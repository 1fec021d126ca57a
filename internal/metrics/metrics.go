package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "reservation_import"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint and status code.",
		},
		[]string{"endpoint", "code"},
	)

	tasksSubmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_submitted_total",
			Help:      "Import tasks accepted by the gateway.",
		},
	)

	tasksFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_finished_total",
			Help:      "Import tasks that reached a terminal status.",
		},
		[]string{"status"},
	)

	jobRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_retries_total",
			Help:      "Job deliveries scheduled for another attempt.",
		},
	)

	rows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_total",
			Help:      "Spreadsheet rows processed by outcome.",
		},
		[]string{"outcome"},
	)

	statusEvents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_events_published_total",
			Help:      "Task status change events published.",
		},
	)
)

// Row outcome labels
const (
	RowUpserted = "upserted"
	RowSkipped  = "skipped"
	RowInvalid  = "invalid"
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, tasksSubmitted, tasksFinished, jobRetries, rows, statusEvents)
	})
}

// IncHTTP increments the counter for an endpoint and response code
func IncHTTP(endpoint, code string) {
	httpRequests.WithLabelValues(endpoint, code).Inc()
}

func IncTaskSubmitted() {
	tasksSubmitted.Inc()
}

func IncTaskFinished(status string) {
	tasksFinished.WithLabelValues(status).Inc()
}

func IncJobRetry() {
	jobRetries.Inc()
}

// AddRows adds n rows under the given outcome label
func AddRows(outcome string, n int) {
	if n <= 0 {
		return
	}
	rows.WithLabelValues(outcome).Add(float64(n))
}

func IncStatusEvent() {
	statusEvents.Inc()
}
