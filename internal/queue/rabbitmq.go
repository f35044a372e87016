package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	dlxExchangeName  = "payments.dlx"
	reconnectBackoff = time.Second
	maxBackoff       = 30 * time.Second
	connectTimeout   = 15 * time.Second

	// Dead-lettered jobs expire after a week; the sweep re-enqueues orders
	// that are still pending.
	deadLetterTTL = 7 * 24 * time.Hour
)

// queueSpec is one work queue and the dead-letter queue behind it.
type queueSpec struct {
	Name     string
	DLQ      string
	WorkArgs amqp.Table
	DLQArgs  amqp.Table
}

func reconcileTopology() []queueSpec {
	specs := make([]queueSpec, 0, len(WorkQueueNames()))
	for _, name := range WorkQueueNames() {
		specs = append(specs, queueSpec{
			Name: name,
			DLQ:  DLQName(name),
			WorkArgs: amqp.Table{
				"x-dead-letter-exchange":    dlxExchangeName,
				"x-dead-letter-routing-key": name,
			},
			DLQArgs: amqp.Table{
				"x-message-ttl": deadLetterTTL.Milliseconds(),
			},
		})
	}
	return specs
}

// Broker owns the single AMQP connection shared by the reconcile publisher and
// consumers. The topology is declared once for every new connection.
type Broker struct {
	url  string
	dial func(url string) (*amqp.Connection, error)

	// dialMu serialises reconnects; readers only load conn.
	dialMu sync.Mutex
	conn   atomic.Pointer[amqp.Connection]
}

func NewBroker(url string) (*Broker, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}

	b := &Broker{url: url, dial: amqp.Dial}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if _, err := b.connection(ctx); err != nil {
		return nil, err
	}

	return b, nil
}

// Ping reports whether the broker connection is currently open.
func (b *Broker) Ping() error {
	if b == nil {
		return fmt.Errorf("rabbitmq is not initialized")
	}

	if conn := b.conn.Load(); conn == nil || conn.IsClosed() {
		return fmt.Errorf("rabbitmq connection is closed")
	}
	return nil
}

func (b *Broker) Close() error {
	conn := b.conn.Swap(nil)
	if conn == nil || conn.IsClosed() {
		return nil
	}
	return conn.Close()
}

// channel opens a fresh channel, redialing first when the connection dropped.
func (b *Broker) channel(ctx context.Context) (*amqp.Channel, error) {
	conn, err := b.connection(ctx)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err == nil {
		return ch, nil
	}

	// The connection may have died between the check and the call.
	b.drop(conn)
	if conn, err = b.connection(ctx); err != nil {
		return nil, err
	}
	if ch, err = conn.Channel(); err != nil {
		return nil, fmt.Errorf("failed to open rabbitmq channel after reconnect: %w", err)
	}
	return ch, nil
}

func (b *Broker) connection(ctx context.Context) (*amqp.Connection, error) {
	if conn := b.conn.Load(); conn != nil && !conn.IsClosed() {
		return conn, nil
	}

	b.dialMu.Lock()
	defer b.dialMu.Unlock()
	if conn := b.conn.Load(); conn != nil && !conn.IsClosed() {
		return conn, nil
	}

	wait := reconnectBackoff
	for {
		conn, err := b.dial(b.url)
		if err == nil {
			if err := declareTopology(conn); err != nil {
				_ = conn.Close()
				return nil, err
			}
			b.conn.Store(conn)
			return conn, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("rabbitmq connect canceled: %w", ctx.Err())
		case <-time.After(wait):
		}
		wait = nextBackoff(wait)
	}
}

func (b *Broker) drop(conn *amqp.Connection) {
	b.conn.CompareAndSwap(conn, nil)
	_ = conn.Close()
}

func declareTopology(conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open topology channel: %w", err)
	}
	defer ch.Close() //nolint:errcheck

	if err := ch.ExchangeDeclare(dlxExchangeName, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dlx exchange: %w", err)
	}

	for _, spec := range reconcileTopology() {
		if _, err := ch.QueueDeclare(spec.DLQ, true, false, false, false, spec.DLQArgs); err != nil {
			return fmt.Errorf("failed to declare dlq %q: %w", spec.DLQ, err)
		}
		if err := ch.QueueBind(spec.DLQ, spec.Name, dlxExchangeName, false, nil); err != nil {
			return fmt.Errorf("failed to bind dlq %q: %w", spec.DLQ, err)
		}
		if _, err := ch.QueueDeclare(spec.Name, true, false, false, false, spec.WorkArgs); err != nil {
			return fmt.Errorf("failed to declare queue %q: %w", spec.Name, err)
		}
	}

	return nil
}

func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}
