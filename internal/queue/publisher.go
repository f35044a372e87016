package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const reconcileMessageType = "payment.reconcile"

// ReconcilePublisher sends reconcile jobs for stale pending orders. It keeps
// one channel open across publishes and reopens it after a failure.
type ReconcilePublisher struct {
	broker *Broker
	now    func() time.Time

	mu sync.Mutex
	ch *amqp.Channel
}

func NewReconcilePublisher(broker *Broker) *ReconcilePublisher {
	return &ReconcilePublisher{broker: broker, now: time.Now}
}

func (p *ReconcilePublisher) Publish(ctx context.Context, queue string, msg ReconcileMessage) error {
	if p == nil || p.broker == nil {
		return fmt.Errorf("publisher is not initialized")
	}
	if strings.TrimSpace(queue) == "" {
		return fmt.Errorf("queue name is required")
	}

	publishing, err := reconcilePublishing(msg, p.now())
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil || p.ch.IsClosed() {
		ch, err := p.broker.channel(ctx)
		if err != nil {
			return err
		}
		p.ch = ch
	}

	if err := p.ch.PublishWithContext(ctx, "", queue, false, false, publishing); err != nil {
		_ = p.ch.Close()
		p.ch = nil
		return fmt.Errorf("failed to publish reconcile job for order %s: %w", msg.OrderID, err)
	}

	return nil
}

// Close releases the publisher channel. The broker connection stays open.
func (p *ReconcilePublisher) Close() error {
	if p == nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil || p.ch.IsClosed() {
		return nil
	}
	err := p.ch.Close()
	p.ch = nil
	return err
}

// reconcilePublishing renders a job as a persistent AMQP message. The order id
// doubles as message id so duplicate sweeps are visible in broker tooling.
func reconcilePublishing(msg ReconcileMessage, now time.Time) (amqp.Publishing, error) {
	if err := msg.Validate(); err != nil {
		return amqp.Publishing{}, fmt.Errorf("invalid reconcile message: %w", err)
	}
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = now.UTC()
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal reconcile message: %w", err)
	}

	return amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Timestamp:     msg.EnqueuedAt,
		MessageId:     msg.OrderID,
		CorrelationId: msg.CorrelationID,
		Type:          reconcileMessageType,
		Headers: amqp.Table{
			"attemptId": msg.AttemptID,
		},
		Body: body,
	}, nil
}
