package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/consult-payments/internal/domain"
	"github.com/kursadbilgin/consult-payments/internal/gateway"
	"github.com/kursadbilgin/consult-payments/internal/queue"
	"github.com/kursadbilgin/consult-payments/internal/repository"
	"github.com/kursadbilgin/consult-payments/internal/testutil"
	"go.uber.org/zap"
)

type fakeGateway struct {
	initiateFn    func(ctx context.Context, req gateway.InitiateRequest) (*gateway.Session, error)
	queryStatusFn func(ctx context.Context, orderID string) (*gateway.StatusResult, error)
}

func (f *fakeGateway) Initiate(ctx context.Context, req gateway.InitiateRequest) (*gateway.Session, error) {
	if f.initiateFn == nil {
		return &gateway.Session{OrderID: req.OrderID, RedirectURL: "https://pay.example/" + req.OrderID}, nil
	}
	return f.initiateFn(ctx, req)
}

func (f *fakeGateway) QueryStatus(ctx context.Context, orderID string) (*gateway.StatusResult, error) {
	if f.queryStatusFn == nil {
		return &gateway.StatusResult{OrderID: orderID, State: domain.GatewayStatePending, RawState: "PENDING"}, nil
	}
	return f.queryStatusFn(ctx, orderID)
}

func statusResult(orderID, raw string) *gateway.StatusResult {
	return &gateway.StatusResult{
		OrderID:  orderID,
		State:    domain.ParseGatewayState(raw),
		RawState: raw,
	}
}

type fakePublisher struct {
	mu        sync.Mutex
	published []queue.ReconcileMessage
	publishFn func(ctx context.Context, queueName string, msg queue.ReconcileMessage) error
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, msg queue.ReconcileMessage) error {
	if f.publishFn != nil {
		if err := f.publishFn(ctx, queueName, msg); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.published = append(f.published, msg)
	f.mu.Unlock()
	return nil
}

func (f *fakePublisher) Close() error {
	return nil
}

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queueName string, handler queue.MessageHandler) error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn == nil {
		<-ctx.Done()
		return nil
	}
	return f.consumeFn(ctx, queueName, handler)
}

func (f *fakeConsumer) Close() error {
	return nil
}

type fakeRateLimiter struct {
	allowFn func(ctx context.Context, key string) (bool, error)
	waitFn  func(ctx context.Context, key string) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if f.allowFn == nil {
		return true, nil
	}
	return f.allowFn(ctx, key)
}

func (f *fakeRateLimiter) Wait(ctx context.Context, key string) error {
	if f.waitFn == nil {
		return nil
	}
	return f.waitFn(ctx, key)
}

type fakeLease struct {
	tryAcquireFn func(ctx context.Context, orderID string) (func(), bool, error)
}

func (f *fakeLease) TryAcquire(ctx context.Context, orderID string) (func(), bool, error) {
	if f.tryAcquireFn == nil {
		return func() {}, true, nil
	}
	return f.tryAcquireFn(ctx, orderID)
}

// stubPaymentRepo overrides selected methods of an underlying repository.
type stubPaymentRepo struct {
	repository.PaymentRepository
	getByIDFn          func(ctx context.Context, id string) (*domain.PaymentAttempt, error)
	listStalePendingFn func(ctx context.Context, createdBefore, polledBefore time.Time, limit int) ([]domain.PaymentAttempt, error)
	touchPolledFn      func(ctx context.Context, id string, at time.Time) error
}

func (s *stubPaymentRepo) GetByID(ctx context.Context, id string) (*domain.PaymentAttempt, error) {
	if s.getByIDFn != nil {
		return s.getByIDFn(ctx, id)
	}
	return s.PaymentRepository.GetByID(ctx, id)
}

func (s *stubPaymentRepo) ListStalePending(ctx context.Context, createdBefore, polledBefore time.Time, limit int) ([]domain.PaymentAttempt, error) {
	if s.listStalePendingFn != nil {
		return s.listStalePendingFn(ctx, createdBefore, polledBefore, limit)
	}
	return s.PaymentRepository.ListStalePending(ctx, createdBefore, polledBefore, limit)
}

func (s *stubPaymentRepo) TouchPolled(ctx context.Context, id string, at time.Time) error {
	if s.touchPolledFn != nil {
		return s.touchPolledFn(ctx, id, at)
	}
	return s.PaymentRepository.TouchPolled(ctx, id, at)
}

type staticVerifier struct {
	err error
}

func (v staticVerifier) Verify(string) error {
	return v.err
}

// testEnv wires the payment services over a private sqlite store.
type testEnv struct {
	payments repository.PaymentRepository
	events   repository.WebhookEventRepository
	gateway  *fakeGateway
	limiter  *fakeRateLimiter
	lease    *fakeLease
	engine   *ReconciliationEngine
	poller   *StatusPoller
	ledger   *CreditLedger
	service  *PaymentService
}

func newTestEnv(t *testing.T, opts PaymentOptions) *testEnv {
	t.Helper()

	db := testutil.NewSQLiteDB(t)
	env := &testEnv{
		payments: repository.NewGormPaymentRepo(db),
		events:   repository.NewGormWebhookEventRepo(db),
		gateway:  &fakeGateway{},
		limiter:  &fakeRateLimiter{},
		lease:    &fakeLease{},
	}

	var err error
	env.engine, err = NewReconciliationEngine(env.payments, zap.NewNop())
	if err != nil {
		t.Fatalf("NewReconciliationEngine() error = %v", err)
	}
	env.poller, err = NewStatusPoller(env.gateway, env.payments, env.engine, env.lease, time.Second, zap.NewNop())
	if err != nil {
		t.Fatalf("NewStatusPoller() error = %v", err)
	}
	env.ledger, err = NewCreditLedger(env.payments, zap.NewNop())
	if err != nil {
		t.Fatalf("NewCreditLedger() error = %v", err)
	}

	if opts.PublicBaseURL == "" {
		opts.PublicBaseURL = "https://api.example.com"
	}
	if opts.FrontendURL == "" {
		opts.FrontendURL = "https://app.example.com"
	}
	env.service, err = NewPaymentService(
		env.payments,
		env.events,
		env.gateway,
		env.engine,
		env.poller,
		staticVerifier{},
		env.limiter,
		opts,
		zap.NewNop(),
	)
	if err != nil {
		t.Fatalf("NewPaymentService() error = %v", err)
	}

	return env
}

func (e *testEnv) seed(t *testing.T, orderID *string, status domain.PaymentStatus, createdAt time.Time) *domain.PaymentAttempt {
	t.Helper()

	attempt := &domain.PaymentAttempt{
		ID:        uuid.NewString(),
		OrderID:   orderID,
		PayerID:   "patient-1",
		PayeeID:   "derm-1",
		Amount:    50000,
		Status:    status,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	if err := e.payments.Create(context.Background(), attempt); err != nil {
		t.Fatalf("seed Create() error = %v", err)
	}
	return attempt
}

func (e *testEnv) status(t *testing.T, id string) domain.PaymentStatus {
	t.Helper()

	attempt, err := e.payments.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	return attempt.Status
}

func strPtr(s string) *string { return &s }
