package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/consult-payments/internal/domain"
	"github.com/kursadbilgin/consult-payments/internal/gateway"
	"github.com/kursadbilgin/consult-payments/internal/observability"
	"github.com/kursadbilgin/consult-payments/internal/ratelimit"
	"github.com/kursadbilgin/consult-payments/internal/repository"
	"go.uber.org/zap"
)

const (
	orderIDPrefix = "ord-"

	redirectLandingPath = "/v1/payments/redirect-landing"
	webhookPath         = "/v1/payments/webhook"
	paymentStatusRoute  = "/#/payment-status"

	SourceGateway = "gateway"
	SourceStore   = "store"
)

// WebhookVerifier authenticates the Authorization header of a gateway callback.
type WebhookVerifier interface {
	Verify(authorization string) error
}

// PaymentOptions carries the URLs and redirect policy of the deployment.
type PaymentOptions struct {
	PublicBaseURL string
	FrontendURL   string
	TrustRedirect bool
}

// InitiateInput is a request to open a gateway payment page for one consult.
type InitiateInput struct {
	Amount  int64
	PayerID string
	PayeeID string
}

type InitiateResult struct {
	OrderID     string
	RedirectURL string
	Attempt     *domain.PaymentAttempt
}

// StatusView is the answer of a status query. Source tells whether the
// gateway was consulted; Indeterminate is set when it was and did not answer.
type StatusView struct {
	Attempt       *domain.PaymentAttempt
	GatewayState  domain.GatewayState
	Indeterminate bool
	Source        string
}

type webhookBody struct {
	Event   string `json:"event"`
	Payload struct {
		OrderID         string `json:"orderId"`
		MerchantOrderID string `json:"merchantOrderId"`
		State           string `json:"state"`
	} `json:"payload"`
}

type PaymentService struct {
	payments      repository.PaymentRepository
	webhookEvents repository.WebhookEventRepository
	gateway       gateway.Client
	engine        *ReconciliationEngine
	poller        *StatusPoller
	verifier      WebhookVerifier
	rateLimiter   ratelimit.RateLimiter
	opts          PaymentOptions
	logger        *zap.Logger
	metrics       *observability.Metrics
	now           func() time.Time
	newOrderID    func() string
}

func NewPaymentService(
	payments repository.PaymentRepository,
	webhookEvents repository.WebhookEventRepository,
	client gateway.Client,
	engine *ReconciliationEngine,
	poller *StatusPoller,
	verifier WebhookVerifier,
	rateLimiter ratelimit.RateLimiter,
	opts PaymentOptions,
	logger *zap.Logger,
) (*PaymentService, error) {
	if payments == nil {
		return nil, fmt.Errorf("payment repository is required")
	}
	if webhookEvents == nil {
		return nil, fmt.Errorf("webhook event repository is required")
	}
	if client == nil {
		return nil, fmt.Errorf("gateway client is required")
	}
	if engine == nil {
		return nil, fmt.Errorf("reconciliation engine is required")
	}
	if poller == nil {
		return nil, fmt.Errorf("status poller is required")
	}
	if verifier == nil {
		return nil, fmt.Errorf("webhook verifier is required")
	}
	if rateLimiter == nil {
		rateLimiter = ratelimit.Unlimited{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.PublicBaseURL = strings.TrimRight(strings.TrimSpace(opts.PublicBaseURL), "/")
	opts.FrontendURL = strings.TrimRight(strings.TrimSpace(opts.FrontendURL), "/")

	return &PaymentService{
		payments:      payments,
		webhookEvents: webhookEvents,
		gateway:       client,
		engine:        engine,
		poller:        poller,
		verifier:      verifier,
		rateLimiter:   rateLimiter,
		opts:          opts,
		logger:        logger,
		now:           time.Now,
		newOrderID:    func() string { return orderIDPrefix + uuid.NewString() },
	}, nil
}

func (s *PaymentService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Initiate stores a PENDING attempt and opens a gateway payment page for it.
// The row exists before the gateway is called so that an early webhook or
// redirect always finds it.
func (s *PaymentService) Initiate(ctx context.Context, in InitiateInput) (*InitiateResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	orderID := s.newOrderID()
	attempt := &domain.PaymentAttempt{
		ID:      uuid.NewString(),
		OrderID: &orderID,
		PayerID: strings.TrimSpace(in.PayerID),
		PayeeID: strings.TrimSpace(in.PayeeID),
		Amount:  in.Amount,
		Status:  domain.PaymentStatusPending,
	}
	if err := attempt.Validate(); err != nil {
		s.metrics.IncPaymentInitiated("invalid")
		return nil, err
	}

	logger := observability.WithOrderLogger(s.logger, ctx, orderID).With(
		zap.String("payerId", attempt.PayerID),
		zap.String("payeeId", attempt.PayeeID),
	)

	if err := s.payments.Create(ctx, attempt); err != nil {
		logger.Error("failed to store payment attempt", zap.Error(err))
		s.metrics.IncPaymentInitiated("error")
		return nil, fmt.Errorf("failed to store payment attempt: %w", err)
	}

	started := s.now()
	session, err := s.gateway.Initiate(ctx, gateway.InitiateRequest{
		OrderID:     orderID,
		Amount:      attempt.Amount,
		PayerID:     attempt.PayerID,
		PayeeID:     attempt.PayeeID,
		RedirectURL: s.redirectLandingURL(orderID, attempt.PayerID, attempt.PayeeID),
		CallbackURL: s.opts.PublicBaseURL + webhookPath,
	})
	s.metrics.ObserveGatewayCall("initiate", s.now().Sub(started))

	if err != nil {
		logger.Error("gateway initiation failed",
			zap.Bool("transient", gateway.IsTransient(err)),
			zap.Error(err),
		)
		s.metrics.IncPaymentInitiated("gateway_error")
		if _, applyErr := s.engine.Apply(ctx, Signal{
			OrderID: orderID,
			State:   domain.GatewayStateFailed.String(),
			Channel: domain.ChannelInitiate,
		}); applyErr != nil {
			logger.Error("failed to mark attempt failed after gateway error", zap.Error(applyErr))
		}
		return nil, err
	}

	if gatewayOrderID := strings.TrimSpace(session.GatewayOrderID); gatewayOrderID != "" {
		if err := s.payments.AttachGatewayOrderID(ctx, attempt.ID, gatewayOrderID); err != nil {
			logger.Warn("failed to store gateway order id", zap.Error(err))
		} else {
			attempt.GatewayOrderID = &gatewayOrderID
		}
	}

	logger.Info("payment initiated",
		zap.String("attemptId", attempt.ID),
		zap.Int64("amount", attempt.Amount),
	)
	s.metrics.IncPaymentInitiated("created")

	return &InitiateResult{
		OrderID:     orderID,
		RedirectURL: session.RedirectURL,
		Attempt:     attempt,
	}, nil
}

// Status returns the current state of an order, consulting the gateway when
// the order is not settled yet and the status rate limit allows it.
func (s *PaymentService) Status(ctx context.Context, orderID string) (*StatusView, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: orderId is required", domain.ErrValidation)
	}

	attempt, err := s.payments.GetByOrderID(ctx, orderID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownOrder, orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order %s: %w", orderID, err)
	}

	storeView := &StatusView{Attempt: attempt, Source: SourceStore}
	if attempt.Status.IsTerminal() {
		return storeView, nil
	}

	logger := observability.WithOrderLogger(s.logger, ctx, orderID)

	allowed, err := s.rateLimiter.Allow(ctx, ratelimit.KeyGatewayStatus)
	if err != nil {
		logger.Warn("status rate limiter unavailable", zap.Error(err))
		return storeView, nil
	}
	if !allowed {
		logger.Debug("status poll rate limited, answering from store")
		return storeView, nil
	}

	transition, err := s.poller.Poll(ctx, attempt)
	switch {
	case errors.Is(err, errPollBusy):
		return storeView, nil
	case err != nil && isGatewayFailure(err):
		return &StatusView{Attempt: attempt, Source: SourceGateway, Indeterminate: true}, nil
	case err != nil:
		return nil, fmt.Errorf("failed to reconcile order %s: %w", orderID, err)
	}

	return &StatusView{
		Attempt:      transition.Attempt,
		GatewayState: transition.State,
		Source:       SourceGateway,
	}, nil
}

// HandleWebhook authenticates and applies one gateway callback. Unknown
// orders are logged and audited but do not fail the delivery.
func (s *PaymentService) HandleWebhook(ctx context.Context, authorization string, body []byte) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.verifier.Verify(authorization); err != nil {
		observability.WithContextLogger(s.logger, ctx).Warn("rejected unauthenticated webhook")
		s.metrics.IncWebhookReceived("unauthorized")
		return domain.ErrUnauthorized
	}

	var parsed webhookBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		s.metrics.IncWebhookReceived("malformed")
		return fmt.Errorf("%w: webhook body is not valid JSON", domain.ErrValidation)
	}

	orderID := strings.TrimSpace(parsed.Payload.OrderID)
	if orderID == "" {
		orderID = strings.TrimSpace(parsed.Payload.MerchantOrderID)
	}
	state := strings.TrimSpace(parsed.Payload.State)
	if orderID == "" || state == "" {
		s.metrics.IncWebhookReceived("malformed")
		return fmt.Errorf("%w: webhook payload requires orderId and state", domain.ErrValidation)
	}

	logger := observability.WithOrderLogger(s.logger, ctx, orderID).With(zap.String("event", parsed.Event))

	event := &domain.WebhookEvent{
		ID:         uuid.NewString(),
		Event:      parsed.Event,
		OrderID:    orderID,
		State:      state,
		Payload:    body,
		ReceivedAt: s.now().UTC(),
	}

	transition, applyErr := s.engine.Apply(ctx, Signal{
		OrderID: orderID,
		State:   state,
		Channel: domain.ChannelWebhook,
	})

	var result error
	switch {
	case errors.Is(applyErr, domain.ErrUnknownOrder):
		event.Outcome = domain.WebhookOutcomeUnknownOrder
	case applyErr != nil:
		event.Outcome = domain.WebhookOutcomeFailed
		msg := applyErr.Error()
		event.Error = &msg
		result = applyErr
	case transition.Changed:
		event.Outcome = domain.WebhookOutcomeApplied
	default:
		event.Outcome = domain.WebhookOutcomeIgnored
	}

	if err := s.webhookEvents.Create(ctx, event); err != nil {
		logger.Error("failed to audit webhook", zap.String("outcome", event.Outcome.String()), zap.Error(err))
	}

	logger.Info("webhook processed", zap.String("outcome", event.Outcome.String()))
	s.metrics.IncWebhookReceived(event.Outcome.String())

	return result
}

// HandleRedirect applies the browser return from the gateway and returns the
// frontend URL to send the user to. Failures are logged and never block the
// redirect.
func (s *PaymentService) HandleRedirect(ctx context.Context, orderID, payerID, payeeID string) string {
	if ctx == nil {
		ctx = context.Background()
	}

	orderID = strings.TrimSpace(orderID)
	payerID = strings.TrimSpace(payerID)
	payeeID = strings.TrimSpace(payeeID)

	if payerID == "" || payeeID == "" {
		return s.frontendStatusURL(url.Values{"error": []string{"missing_params"}})
	}

	logger := observability.WithOrderLogger(s.logger, ctx, orderID).With(
		zap.String("payerId", payerID),
		zap.String("payeeId", payeeID),
	)

	if s.opts.TrustRedirect {
		if _, err := s.engine.Apply(ctx, Signal{
			OrderID: orderID,
			PayerID: payerID,
			PayeeID: payeeID,
			State:   domain.GatewayStateSuccess.String(),
			Channel: domain.ChannelRedirect,
		}); err != nil {
			logger.Warn("redirect could not be applied", zap.Error(err))
		}
	} else {
		s.verifyRedirect(ctx, logger, Signal{OrderID: orderID, PayerID: payerID, PayeeID: payeeID})
	}

	params := url.Values{}
	if orderID != "" {
		params.Set("orderId", orderID)
	}
	params.Set("payerId", payerID)
	params.Set("payeeId", payeeID)
	return s.frontendStatusURL(params)
}

func (s *PaymentService) verifyRedirect(ctx context.Context, logger *zap.Logger, sig Signal) {
	if sig.isLegacy() {
		logger.Warn("legacy redirect cannot be verified against the gateway")
		return
	}

	attempt, err := s.payments.GetByOrderID(ctx, sig.OrderID)
	if err == nil && !sig.matchesParties(attempt) {
		err = domain.ErrUnknownOrder
	}
	if err != nil {
		logger.Warn("redirect references unknown order", zap.Error(err))
		return
	}
	if attempt.Status.IsTerminal() {
		return
	}

	if _, err := s.poller.Poll(ctx, attempt); err != nil && !errors.Is(err, errPollBusy) {
		logger.Warn("redirect verification poll failed", zap.Error(err))
	}
}

func (s *PaymentService) redirectLandingURL(orderID, payerID, payeeID string) string {
	params := url.Values{}
	params.Set("orderId", orderID)
	params.Set("payerId", payerID)
	params.Set("payeeId", payeeID)
	return s.opts.PublicBaseURL + redirectLandingPath + "?" + params.Encode()
}

func (s *PaymentService) frontendStatusURL(params url.Values) string {
	return s.opts.FrontendURL + paymentStatusRoute + "?" + params.Encode()
}

func isGatewayFailure(err error) bool {
	return errors.Is(err, domain.ErrGatewayUnavailable) ||
		errors.Is(err, domain.ErrGatewayRejected) ||
		errors.Is(err, context.DeadlineExceeded)
}
