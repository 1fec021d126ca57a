package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/reservation-import/internal/domain"
	"github.com/cuongbtq/reservation-import/internal/metrics"
	amqp "github.com/rabbitmq/amqp091-go"
)

// outcome is what happens to a delivery once its job returns
type outcome int

const (
	outcomeAck outcome = iota
	outcomeRetry
	outcomeDeadLetter
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop is the main processing loop for each worker goroutine
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	logger := w.logger.With(slog.String("worker_name", workerName))
	logger.Debug("Worker goroutine started")

	// jobs already taken off the queue run to completion during shutdown
	jobCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-w.stopChan:
			logger.Debug("Worker goroutine stopping - stopChan closed")
			return

		case <-ctx.Done():
			logger.Debug("Worker goroutine stopping - context canceled")
			return

		case j := <-w.jobsChan:
			w.handleJob(jobCtx, logger, j)
		}
	}
}

// handleJob runs the job and settles its delivery
func (w *Worker) handleJob(ctx context.Context, logger *slog.Logger, j *job) {
	logger = logger.With(
		slog.String("task_id", j.msg.TaskID),
		slog.Int("attempt", j.msg.Attempt),
	)
	logger.Info("Worker received job")

	err := w.processor.Process(ctx, j.msg)

	switch decide(j.msg, err) {
	case outcomeAck:
		if ackErr := j.delivery.Ack(false); ackErr != nil {
			logger.Error("Failed to ACK message",
				slog.String("error", ackErr.Error()),
			)
			return
		}
		logger.Info("Job completed successfully")

	case outcomeRetry:
		delay := w.retry.Delay(j.msg.Attempt)
		headers := amqp.Table{}
		for k, v := range j.delivery.Headers {
			headers[k] = v
		}
		headers[AttemptHeader] = int32(j.msg.Attempt + 1)

		if pubErr := w.broker.PublishRetry(ctx, j.delivery.Body, headers, delay); pubErr != nil {
			logger.Error("Failed to schedule retry, requeueing",
				slog.String("error", pubErr.Error()),
			)
			if nackErr := j.delivery.Nack(false, true); nackErr != nil {
				logger.Error("Failed to NACK message",
					slog.String("error", nackErr.Error()),
				)
			}
			return
		}

		metrics.IncJobRetry()
		logger.Warn("Job failed, retry scheduled",
			slog.String("error", err.Error()),
			slog.Duration("retry_after", delay),
			slog.Int("max_attempts", j.msg.MaxAttempts),
		)
		if ackErr := j.delivery.Ack(false); ackErr != nil {
			logger.Error("Failed to ACK message after scheduling retry",
				slog.String("error", ackErr.Error()),
			)
		}

	case outcomeDeadLetter:
		logger.Error("Job failed permanently, moving to dead-letter queue",
			slog.String("error", err.Error()),
			slog.Bool("retryable", domain.IsRetryable(err)),
		)
		if nackErr := j.delivery.Nack(false, false); nackErr != nil {
			logger.Error("Failed to NACK message",
				slog.String("error", nackErr.Error()),
			)
		}
	}
}

// decide maps a processing result to the fate of the delivery. Only
// retryable errors with attempts left are retried; everything else that
// failed is dead-lettered.
func decide(msg *domain.JobMessage, err error) outcome {
	if err == nil {
		return outcomeAck
	}
	if domain.IsRetryable(err) && !msg.IsFinalAttempt() {
		return outcomeRetry
	}
	return outcomeDeadLetter
}
