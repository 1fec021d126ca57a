package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/reservation-import/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

// AttemptHeader carries the 1-based delivery attempt of a job message
const AttemptHeader = "x-attempt"

// setupConsumer sets up RabbitMQ consumer with QoS and returns delivery channel
func (w *Worker) setupConsumer() (<-chan amqp.Delivery, error) {
	// prefetch bounds the number of unacknowledged jobs held by this worker
	if err := w.broker.SetQos(w.prefetchCount); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	w.logger.Info("RabbitMQ QoS configured",
		slog.Int("prefetch_count", w.prefetchCount),
	)

	deliveries, err := w.broker.Consume(w.workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	w.logger.Info("RabbitMQ consumer started",
		slog.String("consumer_tag", w.workerID),
	)

	return deliveries, nil
}

// startMessageDispatcher listens to RabbitMQ deliveries and dispatches jobs to worker pool.
// It returns nil on cancellation and ErrDeliveriesClosed when the broker goes away.
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	w.logger.Info("Message dispatcher started",
		slog.String("worker_id", w.workerID),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed")
				return ErrDeliveriesClosed
			}

			j, err := w.decode(delivery)
			if err != nil {
				w.logger.Error("Rejecting malformed job message",
					slog.String("error", err.Error()),
					slog.String("body", string(delivery.Body)),
				)
				// malformed messages go straight to the dead-letter queue
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					w.logger.Error("Failed to NACK malformed message",
						slog.String("error", nackErr.Error()),
					)
				}
				continue
			}

			select {
			case w.jobsChan <- j:
				w.logger.Debug("Job dispatched to worker pool",
					slog.String("task_id", j.msg.TaskID),
					slog.Int("attempt", j.msg.Attempt),
					slog.Uint64("delivery_tag", delivery.DeliveryTag),
				)
			case <-ctx.Done():
				w.logger.Info("Message dispatcher stopped while dispatching job")
				if nackErr := delivery.Nack(false, true); nackErr != nil {
					w.logger.Error("Failed to NACK message on shutdown",
						slog.String("error", nackErr.Error()),
					)
				}
				return nil
			}
		}
	}
}

func (w *Worker) decode(delivery amqp.Delivery) (*job, error) {
	msg, err := domain.DecodeJobMessage(delivery.Body)
	if err != nil {
		return nil, err
	}

	msg.Attempt = attemptFromHeaders(delivery.Headers)
	msg.MaxAttempts = w.retry.MaxAttempts

	return &job{msg: msg, delivery: delivery}, nil
}

// attemptFromHeaders reads the attempt counter; a missing or invalid value
// means the first attempt
func attemptFromHeaders(headers amqp.Table) int {
	var attempt int
	switch v := headers[AttemptHeader].(type) {
	case int:
		attempt = v
	case int8:
		attempt = int(v)
	case int16:
		attempt = int(v)
	case int32:
		attempt = int(v)
	case int64:
		attempt = int(v)
	case uint8:
		attempt = int(v)
	case uint16:
		attempt = int(v)
	case uint32:
		attempt = int(v)
	}
	if attempt < 1 {
		return 1
	}
	return attempt
}
