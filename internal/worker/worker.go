package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/reservation-import/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrDeliveriesClosed is returned by Start when the broker stops delivering
var ErrDeliveriesClosed = errors.New("delivery channel closed")

// Broker is the job queue the worker consumes from
type Broker interface {
	SetQos(prefetchCount int) error
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
	PublishRetry(ctx context.Context, body []byte, headers amqp.Table, delay time.Duration) error
}

// JobProcessor runs a single import job
type JobProcessor interface {
	Process(ctx context.Context, msg *domain.JobMessage) error
}

// Config holds worker configuration
type Config struct {
	Logger        *slog.Logger
	Broker        Broker
	Processor     JobProcessor
	WorkerID      string
	Concurrency   int
	PrefetchCount int
	RetryPolicy   RetryPolicy
}

// job is a decoded message together with the delivery it came from
type job struct {
	msg      *domain.JobMessage
	delivery amqp.Delivery
}

// Worker represents the background job worker
type Worker struct {
	logger        *slog.Logger
	broker        Broker
	processor     JobProcessor
	workerID      string
	concurrency   int
	prefetchCount int
	retry         RetryPolicy

	jobsChan chan *job
	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = concurrency
	}
	retry := cfg.RetryPolicy
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryPolicy
	}

	return &Worker{
		logger:        cfg.Logger,
		broker:        cfg.Broker,
		processor:     cfg.Processor,
		workerID:      cfg.WorkerID,
		concurrency:   concurrency,
		prefetchCount: prefetch,
		retry:         retry,
		jobsChan:      make(chan *job),
		stopChan:      make(chan struct{}),
	}
}

// Start begins processing jobs and blocks until ctx is canceled or the
// broker closes the delivery channel, in which case it returns
// ErrDeliveriesClosed
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Int("max_attempts", w.retry.MaxAttempts),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return err
	}

	w.spawnWorkerPool(ctx)

	dispatchErr := make(chan error, 1)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		dispatchErr <- w.startMessageDispatcher(ctx, deliveries)
	}()

	select {
	case <-ctx.Done():
		w.logger.Info("Worker context canceled, stopping...")
		return nil
	case err := <-dispatchErr:
		if err != nil {
			w.logger.Error("Message dispatcher exited",
				slog.String("error", err.Error()),
			)
			return err
		}
		return nil
	}
}

// Stop waits for in-flight jobs to finish. Safe to call more than once.
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() {
		close(w.stopChan)
	})
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
