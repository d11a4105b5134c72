package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
	tag      string
	logger   *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RabbitMQConsumer{
		client:   client,
		prefetch: prefetch,
		tag:      "signals-" + uuid.NewString(),
		logger:   logger,
	}
}

// Consume delivers signals to handler until ctx ends, resubscribing with
// backoff whenever the broker drops the subscription.
func (c *RabbitMQConsumer) Consume(ctx context.Context, queue string, handler MessageHandler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	wait := reconnectBackoff
	for {
		err := c.subscribe(ctx, queue, handler)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			wait = reconnectBackoff
			continue
		}

		c.logger.Warn("signal subscription lost",
			zap.String("queue", queue),
			zap.Duration("retryIn", wait),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
		wait = nextBackoff(wait)
	}
}

func (c *RabbitMQConsumer) subscribe(ctx context.Context, queue string, handler MessageHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, queue, c.tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			if err := c.handleDelivery(ctx, d, handler); err != nil {
				return err
			}
		}
	}
}

// acknowledger is the part of amqp.Delivery used to settle a message.
type acknowledger interface {
	Ack(multiple bool) error
	Reject(requeue bool) error
}

func (c *RabbitMQConsumer) handleDelivery(ctx context.Context, d amqp.Delivery, handler MessageHandler) error {
	return c.settle(ctx, d.Body, d.MessageId, deliveryAcker{d}, handler)
}

func (c *RabbitMQConsumer) settle(ctx context.Context, body []byte, messageID string, acker acknowledger, handler MessageHandler) error {
	msg, err := decodeSignal(body)
	if err != nil {
		c.logger.Warn("rejecting job signal",
			zap.Error(err),
			zap.String("messageId", messageID),
		)
		if rejectErr := acker.Reject(false); rejectErr != nil {
			return fmt.Errorf("failed to reject invalid signal: %w", rejectErr)
		}
		return nil
	}

	// Signals are advisory, so a failing handler does not requeue.
	if err := handler(ctx, msg); err != nil {
		c.logger.Warn("job signal handler failed",
			zap.Error(err),
			zap.Uint64("jobId", msg.JobID),
		)
	}

	if err := acker.Ack(false); err != nil {
		return fmt.Errorf("failed to ack delivery: %w", err)
	}

	return nil
}

type deliveryAcker struct {
	d amqp.Delivery
}

func (a deliveryAcker) Ack(multiple bool) error   { return a.d.Ack(multiple) }
func (a deliveryAcker) Reject(requeue bool) error { return a.d.Reject(requeue) }

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
