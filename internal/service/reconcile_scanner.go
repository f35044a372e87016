package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/consult-payments/internal/observability"
	"github.com/kursadbilgin/consult-payments/internal/queue"
	"github.com/kursadbilgin/consult-payments/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultReconcileInterval = 30 * time.Second
	defaultReconcileMinAge   = time.Minute
	defaultReconcileLimit    = 100
)

// ReconcileScanner periodically enqueues pending orders whose outcome never
// arrived, so a worker can ask the gateway about them.
type ReconcileScanner struct {
	payments  repository.PaymentRepository
	publisher queue.Publisher
	logger    *zap.Logger
	metrics   *observability.Metrics
	interval  time.Duration
	minAge    time.Duration
	limit     int
	now       func() time.Time
}

func NewReconcileScanner(
	payments repository.PaymentRepository,
	publisher queue.Publisher,
	interval time.Duration,
	minAge time.Duration,
	limit int,
	logger *zap.Logger,
) (*ReconcileScanner, error) {
	if payments == nil {
		return nil, fmt.Errorf("payment repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if interval <= 0 {
		interval = defaultReconcileInterval
	}
	if minAge <= 0 {
		minAge = defaultReconcileMinAge
	}
	if limit <= 0 {
		limit = defaultReconcileLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ReconcileScanner{
		payments:  payments,
		publisher: publisher,
		logger:    logger,
		interval:  interval,
		minAge:    minAge,
		limit:     limit,
		now:       time.Now,
	}, nil
}

func (s *ReconcileScanner) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *ReconcileScanner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Orders left pending by a previous process should not wait for the first tick.
	if err := s.scanStale(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("reconcile scanner initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.scanStale(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("reconcile scanner scan failed", zap.Error(err))
			}
		}
	}
}

func (s *ReconcileScanner) scanStale(ctx context.Context) error {
	now := s.now().UTC()
	stale, err := s.payments.ListStalePending(ctx, now.Add(-s.minAge), now.Add(-s.interval), s.limit)
	if err != nil {
		return fmt.Errorf("failed to fetch stale pending payments: %w", err)
	}

	enqueued := 0
	for i := range stale {
		attempt := stale[i]
		msg := queue.ReconcileMessage{
			AttemptID:  attempt.ID,
			OrderID:    attempt.OrderKey(),
			EnqueuedAt: now,
		}
		if correlationID, ok := observability.CorrelationIDFromContext(ctx); ok {
			msg.CorrelationID = correlationID
		}

		if err := s.publisher.Publish(ctx, queue.ReconcileQueue, msg); err != nil {
			s.logger.Error("failed to enqueue reconcile job",
				zap.String("orderId", msg.OrderID),
				zap.String("queue", queue.ReconcileQueue),
				zap.Error(err),
			)
			continue
		}

		// Marking the poll time keeps the next sweep from enqueueing the order twice.
		if err := s.payments.TouchPolled(ctx, attempt.ID, now); err != nil {
			s.logger.Error("failed to mark reconcile job enqueued",
				zap.String("orderId", msg.OrderID),
				zap.Error(err),
			)
			continue
		}
		enqueued++
	}

	if enqueued > 0 {
		s.logger.Info("reconcile jobs enqueued", zap.Int("count", enqueued))
	}
	s.metrics.AddReconcileEnqueued(enqueued)

	return nil
}
