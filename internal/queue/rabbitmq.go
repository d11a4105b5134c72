package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	reconnectBackoff = time.Second
	maxBackoff       = 30 * time.Second
	dialTimeout      = 15 * time.Second
	heartbeat        = 10 * time.Second
)

// RabbitMQ owns one broker connection, redials it when it drops and declares
// the signal queue once per connection.
type RabbitMQ struct {
	url    string
	name   string
	logger *zap.Logger

	mu       sync.RWMutex
	dialMu   sync.Mutex
	conn     *amqp.Connection
	declared *amqp.Connection
	closed   bool
}

// NewRabbitMQ dials the broker. name is reported to the broker as the
// connection name so api and worker processes can be told apart.
func NewRabbitMQ(url string, name string, logger *zap.Logger) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &RabbitMQ{url: url, name: name, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	if _, err := r.connection(ctx); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.closed = true
	r.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}

	return conn.Close()
}

// channel opens a fresh channel with the signal topology in place.
func (r *RabbitMQ) channel(ctx context.Context) (*amqp.Channel, error) {
	conn, err := r.connection(ctx)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		// The connection died between the liveness check and Channel.
		conn, err = r.redial(ctx, conn)
		if err != nil {
			return nil, err
		}
		if ch, err = conn.Channel(); err != nil {
			return nil, fmt.Errorf("failed to open rabbitmq channel after redial: %w", err)
		}
	}

	if err := r.ensureTopology(conn, ch); err != nil {
		_ = ch.Close()
		return nil, err
	}

	return ch, nil
}

func (r *RabbitMQ) connection(ctx context.Context) (*amqp.Connection, error) {
	r.mu.RLock()
	conn, closed := r.conn, r.closed
	r.mu.RUnlock()

	if closed {
		return nil, fmt.Errorf("rabbitmq connection is closed")
	}
	if conn != nil && !conn.IsClosed() {
		return conn, nil
	}
	return r.redial(ctx, conn)
}

// redial replaces stale with a new connection, retrying with exponential
// backoff until ctx ends. Concurrent callers share one dial.
func (r *RabbitMQ) redial(ctx context.Context, stale *amqp.Connection) (*amqp.Connection, error) {
	r.dialMu.Lock()
	defer r.dialMu.Unlock()

	r.mu.RLock()
	current := r.conn
	r.mu.RUnlock()
	if current != nil && current != stale && !current.IsClosed() {
		return current, nil
	}

	wait := reconnectBackoff
	for attempt := 1; ; attempt++ {
		conn, err := amqp.DialConfig(r.url, amqp.Config{
			Heartbeat:  heartbeat,
			Properties: amqp.Table{"connection_name": r.name},
		})
		if err == nil {
			r.mu.Lock()
			r.conn = conn
			r.mu.Unlock()

			if stale != nil && !stale.IsClosed() {
				_ = stale.Close()
			}
			r.watch(conn)
			if attempt > 1 {
				r.logger.Info("rabbitmq reconnected", zap.Int("attempts", attempt))
			}
			return conn, nil
		}

		r.logger.Warn("rabbitmq dial failed",
			zap.Int("attempt", attempt),
			zap.Duration("retryIn", wait),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("rabbitmq dial canceled: %w", ctx.Err())
		case <-time.After(wait):
		}

		wait = nextBackoff(wait)
	}
}

// watch logs an unexpected connection loss. The next channel call redials.
func (r *RabbitMQ) watch(conn *amqp.Connection) {
	closes := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		if amqpErr, ok := <-closes; ok && amqpErr != nil {
			r.logger.Warn("rabbitmq connection lost",
				zap.Int("code", amqpErr.Code),
				zap.String("reason", amqpErr.Reason),
			)
		}
	}()
}

func (r *RabbitMQ) ensureTopology(conn *amqp.Connection, ch *amqp.Channel) error {
	r.mu.RLock()
	done := r.declared == conn
	r.mu.RUnlock()
	if done {
		return nil
	}

	if err := declareTopology(ch); err != nil {
		return err
	}

	r.mu.Lock()
	r.declared = conn
	r.mu.Unlock()
	return nil
}

func declareTopology(ch *amqp.Channel) error {
	if _, err := ch.QueueDeclare(
		JobSignalQueue,
		true,
		false,
		false,
		false,
		signalQueueArgs(),
	); err != nil {
		return fmt.Errorf("failed to declare queue %q: %w", JobSignalQueue, err)
	}

	return nil
}

// signalQueueArgs bounds the backlog: stale signals expire and the oldest
// are dropped first once the queue is full.
func signalQueueArgs() amqp.Table {
	return amqp.Table{
		"x-message-ttl": int32(signalTTL / time.Millisecond),
		"x-max-length":  signalMaxLength,
		"x-overflow":    "drop-head",
	}
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}
