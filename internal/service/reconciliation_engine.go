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

// Signal is one gateway outcome report, whatever channel delivered it.
// OrderID identifies the attempt; legacy attempts without an order id are
// addressed by PayerID and PayeeID instead. When both are set, the parties
// must belong to the order.
type Signal struct {
	OrderID string
	PayerID string
	PayeeID string
	State   string
	Channel domain.Channel
}

func (s Signal) isLegacy() bool {
	return strings.TrimSpace(s.OrderID) == ""
}

func (s Signal) matchesParties(attempt *domain.PaymentAttempt) bool {
	payerID := strings.TrimSpace(s.PayerID)
	payeeID := strings.TrimSpace(s.PayeeID)
	if payerID == "" && payeeID == "" {
		return true
	}
	return payerID == attempt.PayerID && payeeID == attempt.PayeeID
}

// Transition describes what Apply did to the stored attempt.
type Transition struct {
	Attempt *domain.PaymentAttempt
	State   domain.GatewayState
	From    domain.PaymentStatus
	To      domain.PaymentStatus
	Changed bool
}

// ReconciliationEngine is the only writer of payment status. Every channel
// reports through Apply, and every write is a conditional update on one row.
type ReconciliationEngine struct {
	payments repository.PaymentRepository
	logger   *zap.Logger
	metrics  *observability.Metrics
}

func NewReconciliationEngine(payments repository.PaymentRepository, logger *zap.Logger) (*ReconciliationEngine, error) {
	if payments == nil {
		return nil, fmt.Errorf("payment repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ReconciliationEngine{
		payments: payments,
		logger:   logger,
	}, nil
}

func (e *ReconciliationEngine) SetMetrics(metrics *observability.Metrics) {
	if e == nil {
		return
	}
	e.metrics = metrics
}

// Apply maps the signal state to an outcome and applies it to the attempt.
// A success always wins over a failure: PAID is reachable from PENDING and
// FAILED, FAILED only from PENDING. Pending-like states change nothing.
func (e *ReconciliationEngine) Apply(ctx context.Context, sig Signal) (*Transition, error) {
	if !sig.Channel.IsValid() {
		return nil, fmt.Errorf("%w: invalid channel %q", domain.ErrValidation, sig.Channel)
	}

	logger := observability.WithOrderLogger(e.logger, ctx, sig.OrderID).With(
		zap.String("channel", sig.Channel.String()),
		zap.String("state", sig.State),
	)

	attempt, err := e.resolve(ctx, sig)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownOrder) {
			logger.Warn("signal references unknown order",
				zap.String("payerId", sig.PayerID),
				zap.String("payeeId", sig.PayeeID),
			)
			e.metrics.IncSignalIgnored(sig.Channel.String(), "unknown_order")
		}
		return nil, err
	}
	if sig.isLegacy() {
		logger = logger.With(zap.String("attemptId", attempt.ID), zap.Bool("legacy", true))
	}

	state := domain.ParseGatewayState(sig.State)
	outcome := state.Outcome()
	result := &Transition{
		Attempt: attempt,
		State:   state,
		From:    attempt.Status,
		To:      attempt.Status,
	}

	target, ok := outcome.TargetStatus()
	if !ok {
		logger.Debug("signal carries no final outcome", zap.String("status", attempt.Status.String()))
		e.metrics.IncSignalIgnored(sig.Channel.String(), "not_final")
		return result, nil
	}

	changed, err := e.payments.TransitionStatus(ctx, attempt.ID, target, outcome.TransitionableFrom())
	if err != nil {
		logger.Error("failed to apply payment transition",
			zap.String("from", attempt.Status.String()),
			zap.String("to", target.String()),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to apply %s to order %s: %w", target, attempt.OrderKey(), err)
	}

	if !changed {
		// Another signal may have moved the row since it was read.
		current, err := e.payments.GetByID(ctx, attempt.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload attempt %s: %w", attempt.ID, err)
		}
		result.Attempt = current
		result.To = current.Status
		logger.Info("payment signal did not change status",
			zap.String("status", current.Status.String()),
			zap.String("wanted", target.String()),
		)
		e.metrics.IncSignalIgnored(sig.Channel.String(), "no_transition")
		return result, nil
	}

	attempt.Status = target
	result.To = target
	result.Changed = true

	logger.Info("payment status transitioned",
		zap.String("from", result.From.String()),
		zap.String("to", target.String()),
		zap.Bool("authoritative", sig.Channel.IsAuthoritative()),
	)
	e.metrics.IncPaymentTransition(sig.Channel.String(), target.String())

	return result, nil
}

func (e *ReconciliationEngine) resolve(ctx context.Context, sig Signal) (*domain.PaymentAttempt, error) {
	var (
		attempt *domain.PaymentAttempt
		err     error
	)

	if sig.isLegacy() {
		if strings.TrimSpace(sig.PayerID) == "" || strings.TrimSpace(sig.PayeeID) == "" {
			return nil, fmt.Errorf("%w: orderId or payerId and payeeId are required", domain.ErrValidation)
		}
		attempt, err = e.payments.FindLegacyByParties(ctx, sig.PayerID, sig.PayeeID)
	} else {
		attempt, err = e.payments.GetByOrderID(ctx, sig.OrderID)
	}

	if errors.Is(err, domain.ErrNotFound) {
		if sig.isLegacy() {
			return nil, fmt.Errorf("%w: no legacy attempt for payer %s and payee %s", domain.ErrUnknownOrder, sig.PayerID, sig.PayeeID)
		}
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownOrder, sig.OrderID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load attempt: %w", err)
	}
	// A signal naming parties must match the order's; a mismatch is reported
	// exactly like an absent order.
	if !sig.isLegacy() && !sig.matchesParties(attempt) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownOrder, sig.OrderID)
	}

	return attempt, nil
}
