package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/consult-payments/internal/domain"
	"github.com/kursadbilgin/consult-payments/internal/gateway"
	"github.com/kursadbilgin/consult-payments/internal/observability"
	"github.com/kursadbilgin/consult-payments/internal/repository"
	"go.uber.org/zap"
)

const defaultGatewayTimeout = 10 * time.Second

// PollLease serializes gateway status polls for one order across replicas.
type PollLease interface {
	TryAcquire(ctx context.Context, orderID string) (release func(), acquired bool, err error)
}

// errPollBusy means another caller holds the poll lease for the order.
var errPollBusy = errors.New("status poll already in progress")

// StatusPoller queries the gateway for one order and feeds the answer to the
// engine on the poll channel. It is shared by the status endpoint, the verify
// redirect mode and the reconcile worker.
type StatusPoller struct {
	gateway  gateway.Client
	payments repository.PaymentRepository
	engine   *ReconciliationEngine
	lease    PollLease
	timeout  time.Duration
	logger   *zap.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

func NewStatusPoller(
	client gateway.Client,
	payments repository.PaymentRepository,
	engine *ReconciliationEngine,
	lease PollLease,
	timeout time.Duration,
	logger *zap.Logger,
) (*StatusPoller, error) {
	if client == nil {
		return nil, fmt.Errorf("gateway client is required")
	}
	if payments == nil {
		return nil, fmt.Errorf("payment repository is required")
	}
	if engine == nil {
		return nil, fmt.Errorf("reconciliation engine is required")
	}
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &StatusPoller{
		gateway:  client,
		payments: payments,
		engine:   engine,
		lease:    lease,
		timeout:  timeout,
		logger:   logger,
		now:      time.Now,
	}, nil
}

func (p *StatusPoller) SetMetrics(metrics *observability.Metrics) {
	if p == nil {
		return
	}
	p.metrics = metrics
}

// Poll asks the gateway for the state of attempt and applies it. Gateway
// errors are returned unchanged; callers treat them as indeterminate and
// leave the stored status alone.
func (p *StatusPoller) Poll(ctx context.Context, attempt *domain.PaymentAttempt) (*Transition, error) {
	orderID := attempt.OrderKey()
	if orderID == "" {
		return nil, fmt.Errorf("%w: legacy attempt %s has no order id to poll", domain.ErrValidation, attempt.ID)
	}

	if p.lease != nil {
		release, acquired, err := p.lease.TryAcquire(ctx, orderID)
		if err != nil {
			// Redis trouble must not block reconciliation; the engine is idempotent.
			p.logger.Warn("poll lease unavailable, polling without it",
				zap.String("orderId", orderID),
				zap.Error(err),
			)
		} else if !acquired {
			return nil, errPollBusy
		} else {
			defer release()
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	started := p.now()
	status, err := p.gateway.QueryStatus(callCtx, orderID)
	p.metrics.ObserveGatewayCall("status", p.now().Sub(started))

	if touchErr := p.payments.TouchPolled(ctx, attempt.ID, p.now()); touchErr != nil {
		p.logger.Warn("failed to record poll time",
			zap.String("orderId", orderID),
			zap.Error(touchErr),
		)
	}

	if err != nil {
		observability.WithOrderLogger(p.logger, ctx, orderID).Warn("gateway status query failed",
			zap.Bool("transient", gateway.IsTransient(err)),
			zap.Error(err),
		)
		return nil, err
	}

	state := status.RawState
	if state == "" {
		state = status.State.String()
	}

	return p.engine.Apply(ctx, Signal{
		OrderID: orderID,
		State:   state,
		Channel: domain.ChannelPoll,
	})
}
