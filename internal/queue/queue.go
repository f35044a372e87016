package queue

import (
	"context"
	"errors"
	"fmt"
)

// Publisher publishes reconciliation jobs to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg ReconcileMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message.
type MessageHandler func(ctx context.Context, msg ReconcileMessage) error

// Consumer consumes reconciliation jobs from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

const (
	// ReconcileQueue carries stale pending orders that need a gateway status poll.
	ReconcileQueue = "payments.reconcile"

	dlqPrefix = "dlq."
)

// DLQName returns the dead-letter queue name for a work queue, e.g. dlq.payments.reconcile.
func DLQName(queue string) string {
	return fmt.Sprintf("%s%s", dlqPrefix, queue)
}

// WorkQueueNames returns every work queue the service declares.
func WorkQueueNames() []string {
	return []string{ReconcileQueue}
}

// DLQNames returns the dead-letter queue of every work queue.
func DLQNames() []string {
	work := WorkQueueNames()
	queues := make([]string, 0, len(work))
	for _, name := range work {
		queues = append(queues, DLQName(name))
	}
	return queues
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks a handler error that retrying cannot fix; the delivery is
// dead-lettered instead of requeued.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
