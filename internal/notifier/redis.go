package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/reservation-import/internal/domain"
	"github.com/cuongbtq/reservation-import/internal/metrics"
	goredis "github.com/redis/go-redis/v9"
)

// DefaultChannel is the Redis channel carrying task status events
const DefaultChannel = "reservation-import:task-status"

// RedisPublisher publishes status events on a Redis channel
type RedisPublisher struct {
	client  *goredis.Client
	channel string
	logger  *slog.Logger
}

// NewRedisPublisher creates a publisher for channel
func NewRedisPublisher(client *goredis.Client, channel string, logger *slog.Logger) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel, logger: logger}
}

// PublishStatus sends event to every relay listening on the channel
func (p *RedisPublisher) PublishStatus(ctx context.Context, event domain.StatusEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal status event: %w", err)
	}

	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish status event: %w", err)
	}

	metrics.IncStatusEvent()
	p.logger.Debug("Status event published",
		slog.String("task_id", event.TaskID),
		slog.String("status", string(event.Status)),
	)

	return nil
}

// RedisRelay forwards status events from a Redis channel to a Hub
type RedisRelay struct {
	client  *goredis.Client
	channel string
	hub     *Hub
	logger  *slog.Logger
}

// NewRedisRelay creates a relay from channel into hub
func NewRedisRelay(client *goredis.Client, channel string, hub *Hub, logger *slog.Logger) *RedisRelay {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisRelay{client: client, channel: channel, hub: hub, logger: logger}
}

// Run subscribes to the channel and blocks until ctx is cancelled or the
// subscription fails
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer func() { _ = sub.Close() }()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}

	r.logger.Info("Relaying task status events",
		slog.String("channel", r.channel),
	)

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return fmt.Errorf("subscription to %s closed", r.channel)
			}
			r.relay(msg.Payload)
		}
	}
}

func (r *RedisRelay) relay(payload string) {
	var event domain.StatusEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		r.logger.Warn("Ignoring malformed status event",
			slog.Any("error", err),
		)
		return
	}

	delivered := r.hub.Broadcast(event)
	r.logger.Debug("Status event relayed",
		slog.String("task_id", event.TaskID),
		slog.String("status", string(event.Status)),
		slog.Int("subscribers", delivered),
	)
}
