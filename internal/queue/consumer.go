package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var errDeliveriesClosed = errors.New("delivery channel closed")

// acknowledger is the subset of amqp.Delivery the consumer settles with.
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
	Reject(requeue bool) error
}

// RabbitMQConsumer handles up to prefetch deliveries at once.
type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
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
		logger:   logger,
	}
}

// Consume blocks until ctx is cancelled, re-subscribing with backoff when
// the channel drops. In-flight handlers finish before it returns.
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

	backoff := reconnectBackoff
	for {
		err := c.consumeOnce(ctx, queue, handler)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			backoff = reconnectBackoff
			continue
		}

		c.logger.Warn("consumer interrupted, resubscribing",
			zap.String("queue", queue),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = nextBackoff(backoff)
	}
}

func (c *RabbitMQConsumer) consumeOnce(ctx context.Context, queue string, handler MessageHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // best-effort channel close

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	return c.dispatch(ctx, deliveries, handler)
}

// dispatch fans deliveries out to handler. Shutdown stops intake but
// handlers keep an uncancelled context so in-flight work can settle.
func (c *RabbitMQConsumer) dispatch(ctx context.Context, deliveries <-chan amqp.Delivery, handler MessageHandler) error {
	g, groupCtx := errgroup.WithContext(context.WithoutCancel(ctx))
	g.SetLimit(c.prefetch)

	var loopErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-groupCtx.Done():
			break loop
		case d, ok := <-deliveries:
			if !ok {
				loopErr = errDeliveriesClosed
				break loop
			}
			g.Go(func() error {
				return c.handleDelivery(groupCtx, d.Body, d.RoutingKey, &d, handler)
			})
		}
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return loopErr
}

func (c *RabbitMQConsumer) handleDelivery(ctx context.Context, body []byte, routingKey string, ack acknowledger, handler MessageHandler) error {
	msg, err := DecodeSendMessage(body)
	if err != nil {
		c.logger.Warn("rejecting message: invalid JSON",
			zap.Error(err),
			zap.String("routingKey", routingKey),
		)
		if rejectErr := ack.Reject(false); rejectErr != nil {
			return fmt.Errorf("failed to reject invalid message: %w", rejectErr)
		}
		return nil
	}

	if err := handler(ctx, msg); err != nil {
		c.logger.Error("handler failed, dead-lettering message",
			zap.String("notificationId", msg.NotificationID),
			zap.String("correlationId", msg.CorrelationID),
			zap.Error(err),
		)
		if nackErr := ack.Nack(false, false); nackErr != nil {
			return fmt.Errorf("handler failed and nack failed: %w", nackErr)
		}
		return nil
	}

	if err := ack.Ack(false); err != nil {
		return fmt.Errorf("failed to ack delivery: %w", err)
	}
	return nil
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
