package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Config holds RabbitMQ connection configuration
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	VHost              string
	ExchangeName       string
	ExchangeType       string
	ExchangeDurable    bool
	ExchangeAutoDelete bool
	QueueName          string
	QueueDurable       bool
	QueueAutoDelete    bool
	QueueExclusive     bool
	RoutingKey         string
	RetryAttempts      int
	RetryInterval      time.Duration
	Heartbeat          time.Duration
	PublishRetries     int
	PublishRetryDelay  time.Duration
	PublishBackoffMult float64
	ConfirmTimeout     time.Duration
}

var (
	// ErrPublishNacked means the broker refused to take ownership of a message
	ErrPublishNacked = errors.New("message nacked by broker")
	// ErrUnroutable means a mandatory message matched no queue
	ErrUnroutable = errors.New("message returned as unroutable")
)

// confirmation is the broker's pending answer to one publish
type confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

type publishFunc func(ctx context.Context, exchange, key string, msg amqp.Publishing) (confirmation, error)

// DeadLetterExchange is the exchange that receives rejected jobs
func (c *Config) DeadLetterExchange() string {
	return c.ExchangeName + ".dlx"
}

// RetryQueue holds jobs waiting for their next attempt
func (c *Config) RetryQueue() string {
	return c.QueueName + ".retry"
}

// DeadLetterQueue parks jobs that failed permanently
func (c *Config) DeadLetterQueue() string {
	return c.QueueName + ".dead"
}

// Client represents a RabbitMQ client
type Client struct {
	config      *Config
	conn        *amqp.Connection
	channel     *amqp.Channel
	logger      *slog.Logger
	closeChan   chan *amqp.Error
	returns     chan amqp.Return
	mu          sync.RWMutex
	isConnected bool

	// publishMu keeps one publish in flight so a return is matched to its publish
	publishMu sync.Mutex
	publish   publishFunc
}

// NewClient creates a new RabbitMQ client
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	client := &Client{
		config: config,
		logger: logger,
	}

	if err := client.connect(); err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ client: %w", err)
	}

	go client.watchClose()

	return client, nil
}

// connect establishes connection to RabbitMQ with retry logic
func (c *Client) connect() error {
	var err error

	dsn := fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		c.config.User,
		c.config.Password,
		c.config.Host,
		c.config.Port,
		c.config.VHost,
	)

	amqpConfig := amqp.Config{
		Heartbeat: c.config.Heartbeat,
		Locale:    "en_US",
	}

	attempts := c.config.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		c.logger.Info("Connecting to RabbitMQ",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
		)

		c.conn, err = amqp.DialConfig(dsn, amqpConfig)
		if err == nil {
			c.logger.Info("Successfully connected to RabbitMQ")
			break
		}

		c.logger.Error("Failed to connect to RabbitMQ",
			slog.Any("error", err),
			slog.Int("attempt", attempt),
		)

		if attempt < attempts {
			time.Sleep(c.config.RetryInterval)
		}
	}

	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, err)
	}

	c.channel, err = c.conn.Channel()
	if err != nil {
		c.conn.Close()
		return fmt.Errorf("failed to create channel: %w", err)
	}

	if err := c.setup(); err != nil {
		c.channel.Close()
		c.conn.Close()
		return fmt.Errorf("failed to setup exchange and queue: %w", err)
	}

	if err := c.channel.Confirm(false); err != nil {
		c.channel.Close()
		c.conn.Close()
		return fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	c.returns = c.channel.NotifyReturn(make(chan amqp.Return, 1))
	c.publish = c.publishOnChannel
	c.closeChan = make(chan *amqp.Error, 1)
	c.channel.NotifyClose(c.closeChan)
	c.setConnected(true)

	c.logger.Info("RabbitMQ client initialized",
		slog.String("exchange", c.config.ExchangeName),
		slog.String("queue", c.config.QueueName),
		slog.String("retry_queue", c.config.RetryQueue()),
		slog.String("dead_letter_queue", c.config.DeadLetterQueue()),
	)

	return nil
}

// watchClose marks the client disconnected once the channel goes away
func (c *Client) watchClose() {
	if amqpErr, ok := <-c.closeChan; ok && amqpErr != nil {
		c.logger.Error("RabbitMQ channel closed",
			slog.String("reason", amqpErr.Reason),
			slog.Int("code", amqpErr.Code),
		)
	}
	c.setConnected(false)
}

// setup declares the job exchange and queue, the retry queue that feeds
// expired messages back into the job queue, and the dead-letter pair
func (c *Client) setup() error {
	cfg := c.config

	exchanges := []string{cfg.ExchangeName, cfg.DeadLetterExchange()}
	for _, name := range exchanges {
		err := c.channel.ExchangeDeclare(
			name,                   // name
			cfg.ExchangeType,       // type
			cfg.ExchangeDurable,    // durable
			cfg.ExchangeAutoDelete, // auto-deleted
			false,                  // internal
			false,                  // no-wait
			nil,                    // arguments
		)
		if err != nil {
			return fmt.Errorf("failed to declare exchange %s: %w", name, err)
		}
	}

	queues := []struct {
		name     string
		exchange string
		bind     bool
		args     amqp.Table
	}{
		{
			name:     cfg.QueueName,
			exchange: cfg.ExchangeName,
			bind:     true,
			args: amqp.Table{
				"x-dead-letter-exchange":    cfg.DeadLetterExchange(),
				"x-dead-letter-routing-key": cfg.RoutingKey,
			},
		},
		{
			// published to through the default exchange, never bound
			name: cfg.RetryQueue(),
			args: amqp.Table{
				"x-dead-letter-exchange":    cfg.ExchangeName,
				"x-dead-letter-routing-key": cfg.RoutingKey,
			},
		},
		{
			name:     cfg.DeadLetterQueue(),
			exchange: cfg.DeadLetterExchange(),
			bind:     true,
		},
	}

	for _, q := range queues {
		_, err := c.channel.QueueDeclare(
			q.name,              // name
			cfg.QueueDurable,    // durable
			cfg.QueueAutoDelete, // auto-delete
			cfg.QueueExclusive,  // exclusive
			false,               // no-wait
			q.args,              // arguments
		)
		if err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", q.name, err)
		}

		if !q.bind {
			continue
		}
		err = c.channel.QueueBind(
			q.name,         // queue name
			cfg.RoutingKey, // routing key
			q.exchange,     // exchange
			false,          // no-wait
			nil,            // arguments
		)
		if err != nil {
			return fmt.Errorf("failed to bind queue %s: %w", q.name, err)
		}
	}

	return nil
}

func (c *Client) setConnected(connected bool) {
	c.mu.Lock()
	c.isConnected = connected
	c.mu.Unlock()
}

func (c *Client) connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

// SetQos limits the number of unacknowledged deliveries for this consumer
func (c *Client) SetQos(prefetchCount int) error {
	if !c.connected() {
		return fmt.Errorf("not connected to RabbitMQ")
	}
	// prefetch size 0 means no byte limit; global false applies it per consumer
	if err := c.channel.Qos(prefetchCount, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}
	return nil
}

// Consume starts consuming messages from the queue
func (c *Client) Consume(consumerTag string) (<-chan amqp.Delivery, error) {
	if !c.connected() {
		return nil, fmt.Errorf("not connected to RabbitMQ")
	}

	messages, err := c.channel.Consume(
		c.config.QueueName, // queue
		consumerTag,        // consumer tag
		false,              // auto-ack
		false,              // exclusive
		false,              // no-local
		false,              // no-wait
		nil,                // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to consume messages: %w", err)
	}

	c.logger.Info("Started consuming messages from RabbitMQ",
		slog.String("queue", c.config.QueueName),
		slog.String("consumer_tag", consumerTag),
	)

	return messages, nil
}

// PublishRetry parks a job in the retry queue until delay has passed, after
// which RabbitMQ routes it back to the job queue
func (c *Client) PublishRetry(ctx context.Context, body []byte, headers amqp.Table, delay time.Duration) error {
	if !c.connected() {
		return fmt.Errorf("not connected to RabbitMQ")
	}

	ms := delay.Milliseconds()
	if ms < 1 {
		ms = 1
	}

	err := c.publishConfirmed(ctx, "", c.config.RetryQueue(), amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		Headers:      headers,
		DeliveryMode: amqp.Persistent,
		Expiration:   strconv.FormatInt(ms, 10),
		Timestamp:    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to publish retry: %w", err)
	}

	c.logger.Debug("Message parked in retry queue",
		slog.String("queue", c.config.RetryQueue()),
		slog.Duration("delay", delay),
	)

	return nil
}

// Close closes the RabbitMQ connection
func (c *Client) Close() error {
	c.logger.Info("Closing RabbitMQ connection")

	c.setConnected(false)

	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			c.logger.Error("Failed to close RabbitMQ channel",
				slog.Any("error", err),
			)
		}
	}

	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Error("Failed to close RabbitMQ connection",
				slog.Any("error", err),
			)
			return err
		}
	}

	c.logger.Info("RabbitMQ connection closed successfully")
	return nil
}

// IsConnected returns the connection status
func (c *Client) IsConnected() bool {
	return c.connected() && c.conn != nil && !c.conn.IsClosed()
}

// PublishWithRetry publishes a job message with exponential backoff between
// failed attempts. messageID becomes the AMQP message id.
func (c *Client) PublishWithRetry(ctx context.Context, messageID string, body []byte, contentType string) error {
	if !c.connected() {
		return fmt.Errorf("not connected to RabbitMQ")
	}

	maxRetries := c.config.PublishRetries
	if maxRetries <= 0 {
		maxRetries = 3 // default
	}

	baseDelay := c.config.PublishRetryDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond // default
	}

	backoffMult := c.config.PublishBackoffMult
	if backoffMult <= 0 {
		backoffMult = 2.0 // default
	}

	var lastErr error
	backoffDelay := baseDelay
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := c.publishConfirmed(ctx, c.config.ExchangeName, c.config.RoutingKey, amqp.Publishing{
			ContentType:  contentType,
			MessageId:    messageID,
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		})

		if err == nil {
			c.logger.Debug("Message published to RabbitMQ",
				slog.String("message_id", messageID),
				slog.Int("attempt", attempt+1),
				slog.Int("body_size", len(body)),
			)
			return nil
		}

		lastErr = err

		if attempt < maxRetries {
			c.logger.Warn("Failed to publish message to RabbitMQ, retrying...",
				slog.String("message_id", messageID),
				slog.Int("attempt", attempt+1),
				slog.Int("max_retries", maxRetries),
				slog.Duration("retry_after", backoffDelay),
				slog.Any("error", err),
			)

			select {
			case <-time.After(backoffDelay):
			case <-ctx.Done():
				return fmt.Errorf("failed to publish message: %w", ctx.Err())
			}
			backoffDelay = time.Duration(float64(backoffDelay) * backoffMult)
		}
	}

	c.logger.Error("Failed to publish message to RabbitMQ after all retries",
		slog.String("message_id", messageID),
		slog.Int("attempts", maxRetries+1),
		slog.Any("error", lastErr),
	)
	return fmt.Errorf("failed to publish message after %d attempts: %w", maxRetries+1, lastErr)
}

// publishConfirmed publishes a mandatory message and waits until the broker
// confirms it. A nack, a return or a missing confirm within ConfirmTimeout is
// an error, so callers only settle their own state once the broker owns the
// message.
func (c *Client) publishConfirmed(ctx context.Context, exchange, key string, msg amqp.Publishing) error {
	c.publishMu.Lock()
	defer c.publishMu.Unlock()

	// a return left over from a timed out publish belongs to nobody
	for drained := false; !drained; {
		select {
		case <-c.returns:
		default:
			drained = true
		}
	}

	timeout := c.config.ConfirmTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	confirm, err := c.publish(ctx, exchange, key, msg)
	if err != nil {
		return err
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to wait for publisher confirm: %w", err)
	}
	if !acked {
		return ErrPublishNacked
	}

	// the broker sends basic.return before the ack of an unroutable message
	select {
	case ret := <-c.returns:
		return fmt.Errorf("%w: %d %s", ErrUnroutable, ret.ReplyCode, ret.ReplyText)
	default:
	}

	return nil
}

func (c *Client) publishOnChannel(ctx context.Context, exchange, key string, msg amqp.Publishing) (confirmation, error) {
	confirm, err := c.channel.PublishWithDeferredConfirmWithContext(
		ctx,
		exchange,
		key,
		true,  // mandatory
		false, // immediate
		msg,
	)
	if err != nil {
		return nil, err
	}
	if confirm == nil {
		return nil, fmt.Errorf("channel is not in confirm mode")
	}
	return confirm, nil
}
