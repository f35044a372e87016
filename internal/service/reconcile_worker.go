package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/kursadbilgin/consult-payments/internal/domain"
	"github.com/kursadbilgin/consult-payments/internal/gateway"
	"github.com/kursadbilgin/consult-payments/internal/observability"
	"github.com/kursadbilgin/consult-payments/internal/queue"
	"github.com/kursadbilgin/consult-payments/internal/ratelimit"
	"github.com/kursadbilgin/consult-payments/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minWorkerConcurrency = 1

// ReconcileWorker consumes reconcile jobs and polls the gateway for each order.
type ReconcileWorker struct {
	payments    repository.PaymentRepository
	consumer    queue.Consumer
	poller      *StatusPoller
	rateLimiter ratelimit.RateLimiter
	logger      *zap.Logger
	metrics     *observability.Metrics
	concurrency int
}

func NewReconcileWorker(
	payments repository.PaymentRepository,
	consumer queue.Consumer,
	poller *StatusPoller,
	rateLimiter ratelimit.RateLimiter,
	concurrency int,
	logger *zap.Logger,
) (*ReconcileWorker, error) {
	if payments == nil {
		return nil, fmt.Errorf("payment repository is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if poller == nil {
		return nil, fmt.Errorf("status poller is required")
	}
	if rateLimiter == nil {
		rateLimiter = ratelimit.Unlimited{}
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ReconcileWorker{
		payments:    payments,
		consumer:    consumer,
		poller:      poller,
		rateLimiter: rateLimiter,
		logger:      logger,
		concurrency: concurrency,
	}, nil
}

func (w *ReconcileWorker) SetMetrics(metrics *observability.Metrics) {
	if w == nil {
		return
	}
	w.metrics = metrics
}

// Start runs concurrency consumers on every work queue until ctx is cancelled.
func (w *ReconcileWorker) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	queueNames := queue.WorkQueueNames()
	if len(queueNames) == 0 {
		return fmt.Errorf("no work queues configured")
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		queueName := queueNames[i%len(queueNames)]
		workerID := i + 1

		g.Go(func() error {
			w.logger.Info("reconcile worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)

			if err := w.consumer.Consume(groupCtx, queueName, w.processMessage); err != nil {
				w.logger.Error("reconcile worker stopped with error",
					zap.Int("workerId", workerID),
					zap.String("queue", queueName),
					zap.Error(err),
				)
				return err
			}

			w.logger.Info("reconcile worker stopped",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)
			return nil
		})
	}

	return g.Wait()
}

func (w *ReconcileWorker) processMessage(ctx context.Context, msg queue.ReconcileMessage) error {
	if msg.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, msg.CorrelationID)
	}
	logger := observability.WithOrderLogger(w.logger, ctx, msg.OrderID)

	if err := msg.Validate(); err != nil {
		return queue.Permanent(fmt.Errorf("invalid reconcile message: %w", err))
	}

	attempt, err := w.payments.GetByID(ctx, msg.AttemptID)
	if errors.Is(err, domain.ErrNotFound) {
		logger.Warn("reconcile job references missing attempt, skipping", zap.String("attemptId", msg.AttemptID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load attempt %s: %w", msg.AttemptID, err)
	}

	// Another channel settled the order after it was enqueued.
	if attempt.Status != domain.PaymentStatusPending {
		return nil
	}

	w.metrics.IncReconcileInFlight()
	defer w.metrics.DecReconcileInFlight()

	if err := w.rateLimiter.Wait(ctx, ratelimit.KeyGatewayStatus); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}

	transition, err := w.poller.Poll(ctx, attempt)
	switch {
	case err == nil:
		if transition.Changed {
			logger.Info("pending payment reconciled", zap.String("status", transition.To.String()))
		}
		return nil
	case errors.Is(err, errPollBusy):
		return nil
	case errors.Is(err, domain.ErrUnknownOrder):
		return queue.Permanent(err)
	case isGatewayFailure(err):
		// Left pending; the next sweep tries again.
		logger.Info("gateway status indeterminate, leaving order pending",
			zap.Bool("transient", gateway.IsTransient(err)),
		)
		return nil
	default:
		return err
	}
}
