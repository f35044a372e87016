package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kursadbilgin/consult-payments/internal/domain"
	"github.com/kursadbilgin/consult-payments/internal/observability"
	"github.com/kursadbilgin/consult-payments/internal/repository"
	"go.uber.org/zap"
)

// CreditLedger hands out paid, unconsumed attempts to billable consult requests.
type CreditLedger struct {
	payments repository.PaymentRepository
	logger   *zap.Logger
	metrics  *observability.Metrics
}

func NewCreditLedger(payments repository.PaymentRepository, logger *zap.Logger) (*CreditLedger, error) {
	if payments == nil {
		return nil, fmt.Errorf("payment repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CreditLedger{
		payments: payments,
		logger:   logger,
	}, nil
}

func (l *CreditLedger) SetMetrics(metrics *observability.Metrics) {
	if l == nil {
		return
	}
	l.metrics = metrics
}

// Claim consumes the oldest credit of the pair. ErrNoCreditAvailable is the
// expected outcome when the payer has not paid yet.
func (l *CreditLedger) Claim(ctx context.Context, payerID, payeeID string) (*domain.PaymentAttempt, error) {
	if err := validateParties(payerID, payeeID); err != nil {
		return nil, err
	}

	logger := observability.WithContextLogger(l.logger, ctx).With(
		zap.String("payerId", payerID),
		zap.String("payeeId", payeeID),
	)

	attempt, err := l.payments.ClaimOldestCredit(ctx, payerID, payeeID)
	if errors.Is(err, domain.ErrNoCreditAvailable) {
		logger.Info("no unused credit to claim")
		l.metrics.IncCreditClaim("none_available")
		return nil, domain.ErrNoCreditAvailable
	}
	if err != nil {
		logger.Error("credit claim failed", zap.Error(err))
		l.metrics.IncCreditClaim("error")
		return nil, fmt.Errorf("failed to claim credit: %w", err)
	}

	logger.Info("credit claimed",
		zap.String("attemptId", attempt.ID),
		zap.String("orderId", attempt.OrderKey()),
	)
	l.metrics.IncCreditClaim("claimed")
	return attempt, nil
}

// CountUnconsumed is a best-effort read for UI display.
func (l *CreditLedger) CountUnconsumed(ctx context.Context, payerID, payeeID string) (int64, error) {
	if err := validateParties(payerID, payeeID); err != nil {
		return 0, err
	}

	count, err := l.payments.CountUnconsumed(ctx, payerID, payeeID)
	if err != nil {
		return 0, fmt.Errorf("failed to count credits: %w", err)
	}
	return count, nil
}

func validateParties(payerID, payeeID string) error {
	if strings.TrimSpace(payerID) == "" {
		return fmt.Errorf("%w: payerId is required", domain.ErrValidation)
	}
	if strings.TrimSpace(payeeID) == "" {
		return fmt.Errorf("%w: payeeId is required", domain.ErrValidation)
	}
	return nil
}
