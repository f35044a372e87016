package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/consult-payments/internal/domain"
	"github.com/kursadbilgin/consult-payments/internal/observability"
	"github.com/kursadbilgin/consult-payments/internal/service"
	"github.com/kursadbilgin/consult-payments/internal/transport"
	"github.com/shopspring/decimal"
)

type PaymentService interface {
	Initiate(ctx context.Context, in service.InitiateInput) (*service.InitiateResult, error)
	Status(ctx context.Context, orderID string) (*service.StatusView, error)
	HandleWebhook(ctx context.Context, authorization string, body []byte) error
	HandleRedirect(ctx context.Context, orderID, payerID, payeeID string) string
}

type PaymentHandler struct {
	service PaymentService
}

func NewPaymentHandler(service PaymentService) (*PaymentHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("payment service is required")
	}
	return &PaymentHandler{service: service}, nil
}

func RegisterPaymentRoutes(router fiber.Router, service PaymentService) error {
	h, err := NewPaymentHandler(service)
	if err != nil {
		return err
	}

	payments := router.Group("/v1/payments")
	payments.Post("/initiate", h.Initiate)
	payments.Get("/status/:orderId", h.Status)
	payments.Post("/webhook", h.Webhook)
	payments.Get("/redirect-landing", h.RedirectLanding)

	return nil
}

// Amount is in major units and may be sent as a JSON number or string.
type initiatePaymentRequest struct {
	Amount  *decimal.Decimal `json:"amount"`
	PayerID string           `json:"payerId"`
	PayeeID string           `json:"payeeId"`
}

type initiatePaymentResponse struct {
	OrderID     string `json:"orderId"`
	RedirectURL string `json:"redirectUrl"`
}

type paymentStatusResponse struct {
	OrderID       string `json:"orderId"`
	Status        string `json:"status"`
	GatewayState  string `json:"gatewayState,omitempty"`
	Indeterminate bool   `json:"indeterminate"`
	Source        string `json:"source"`
	Amount        string `json:"amount"`
	PayerID       string `json:"payerId"`
	PayeeID       string `json:"payeeId"`
	Consumed      bool   `json:"consumed"`
}

func (h *PaymentHandler) Initiate(c *fiber.Ctx) error {
	var req initiatePaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.Amount == nil {
		return transport.ToHTTPError(fmt.Errorf("%w: amount is required", domain.ErrValidation))
	}

	amount, err := domain.AmountFromDecimal(*req.Amount)
	if err != nil {
		return transport.ToHTTPError(err)
	}

	result, err := h.service.Initiate(requestContext(c), service.InitiateInput{
		Amount:  amount,
		PayerID: strings.TrimSpace(req.PayerID),
		PayeeID: strings.TrimSpace(req.PayeeID),
	})
	if err != nil {
		return transport.ToHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(initiatePaymentResponse{
		OrderID:     result.OrderID,
		RedirectURL: result.RedirectURL,
	})
}

func (h *PaymentHandler) Status(c *fiber.Ctx) error {
	orderID := strings.TrimSpace(c.Params("orderId"))

	view, err := h.service.Status(requestContext(c), orderID)
	if err != nil {
		return transport.ToHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toPaymentStatusResponse(view))
}

func (h *PaymentHandler) Webhook(c *fiber.Ctx) error {
	// Body() is only valid for the lifetime of the handler; the audit row keeps a copy.
	body := append([]byte(nil), c.Body()...)

	if err := h.service.HandleWebhook(requestContext(c), c.Get(fiber.HeaderAuthorization), body); err != nil {
		return transport.ToHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "ok",
	})
}

func (h *PaymentHandler) RedirectLanding(c *fiber.Ctx) error {
	target := h.service.HandleRedirect(
		requestContext(c),
		c.Query("orderId"),
		c.Query("payerId"),
		c.Query("payeeId"),
	)
	return c.Redirect(target, fiber.StatusFound)
}

func toPaymentStatusResponse(view *service.StatusView) paymentStatusResponse {
	if view == nil || view.Attempt == nil {
		return paymentStatusResponse{}
	}

	attempt := view.Attempt
	return paymentStatusResponse{
		OrderID:       attempt.OrderKey(),
		Status:        attempt.Status.String(),
		GatewayState:  view.GatewayState.String(),
		Indeterminate: view.Indeterminate,
		Source:        view.Source,
		Amount:        domain.FormatAmount(attempt.Amount),
		PayerID:       attempt.PayerID,
		PayeeID:       attempt.PayeeID,
		Consumed:      attempt.Consumed,
	}
}

// requestContext carries the request id into service calls for log correlation.
func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if correlationID := requestCorrelationID(c); correlationID != "" {
		ctx = observability.WithCorrelationID(ctx, correlationID)
	}
	return ctx
}

func requestCorrelationID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(observability.CorrelationIDHeader)); value != "" {
		return value
	}
	if value, ok := c.Locals("requestid").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}
