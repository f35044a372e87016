package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// disposition is how a reconcile delivery is settled with the broker.
type disposition int

const (
	dispositionAck disposition = iota
	dispositionRequeue
	dispositionDeadLetter
)

func (d disposition) String() string {
	switch d {
	case dispositionAck:
		return "ack"
	case dispositionRequeue:
		return "requeue"
	default:
		return "dead_letter"
	}
}

// settle decides the fate of a handled job. A failed job gets one redelivery;
// a second failure, or a permanent one, goes to the dead-letter queue.
func settle(handlerErr error, redelivered bool) disposition {
	switch {
	case handlerErr == nil:
		return dispositionAck
	case IsPermanent(handlerErr) || redelivered:
		return dispositionDeadLetter
	default:
		return dispositionRequeue
	}
}

// decodeDelivery parses a reconcile job body. The AMQP correlation id fills in
// when the body carries none.
func decodeDelivery(d amqp.Delivery) (ReconcileMessage, error) {
	var msg ReconcileMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		return ReconcileMessage{}, fmt.Errorf("invalid reconcile job body: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return msg, fmt.Errorf("invalid reconcile job: %w", err)
	}
	if strings.TrimSpace(msg.CorrelationID) == "" {
		msg.CorrelationID = d.CorrelationId
	}
	return msg, nil
}

// ReconcileConsumer feeds reconcile jobs to a handler, reconnecting with
// backoff whenever the delivery stream breaks.
type ReconcileConsumer struct {
	broker   *Broker
	prefetch int
	logger   *zap.Logger
}

func NewReconcileConsumer(broker *Broker, prefetch int, logger *zap.Logger) *ReconcileConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ReconcileConsumer{
		broker:   broker,
		prefetch: prefetch,
		logger:   logger,
	}
}

func (c *ReconcileConsumer) Consume(ctx context.Context, queue string, handler MessageHandler) error {
	if c == nil || c.broker == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if strings.TrimSpace(queue) == "" {
		return fmt.Errorf("queue name is required")
	}
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	wait := reconnectBackoff
	for {
		err := c.consumeOnce(ctx, queue, handler)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			wait = reconnectBackoff
			continue
		}

		c.logger.Warn("reconcile consumer disconnected",
			zap.Error(err),
			zap.String("queue", queue),
			zap.Duration("retryIn", wait),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
		wait = nextBackoff(wait)
	}
}

func (c *ReconcileConsumer) consumeOnce(ctx context.Context, queue string, handler MessageHandler) error {
	ch, err := c.broker.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set prefetch: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery stream for %q closed", queue)
			}
			if err := c.handle(ctx, d, handler); err != nil {
				return err
			}
		}
	}
}

func (c *ReconcileConsumer) handle(ctx context.Context, d amqp.Delivery, handler MessageHandler) error {
	msg, err := decodeDelivery(d)
	if err != nil {
		c.logger.Warn("dead-lettering malformed reconcile job",
			zap.Error(err),
			zap.String("messageId", d.MessageId),
		)
		if rejectErr := d.Reject(false); rejectErr != nil {
			return fmt.Errorf("failed to reject malformed job: %w", rejectErr)
		}
		return nil
	}

	handlerErr := handler(ctx, msg)
	outcome := settle(handlerErr, d.Redelivered)

	switch outcome {
	case dispositionAck:
		err = d.Ack(false)
	case dispositionRequeue:
		err = d.Nack(false, true)
	default:
		err = d.Nack(false, false)
	}

	if handlerErr != nil {
		c.logger.Warn("reconcile job failed",
			zap.Error(handlerErr),
			zap.String("orderId", msg.OrderID),
			zap.String("attemptId", msg.AttemptID),
			zap.String("correlationId", msg.CorrelationID),
			zap.Stringer("disposition", outcome),
		)
	}
	if err != nil {
		return fmt.Errorf("failed to %s reconcile job for order %s: %w", outcome, msg.OrderID, err)
	}

	return nil
}

// Close is a no-op; each consume loop owns its channel and the broker owns
// the connection.
func (c *ReconcileConsumer) Close() error {
	return nil
}
