package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/consult-payments/internal/domain"
	"github.com/kursadbilgin/consult-payments/internal/transport"
)

type CreditService interface {
	Claim(ctx context.Context, payerID, payeeID string) (*domain.PaymentAttempt, error)
	CountUnconsumed(ctx context.Context, payerID, payeeID string) (int64, error)
}

type CreditHandler struct {
	service CreditService
}

func NewCreditHandler(service CreditService) (*CreditHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("credit service is required")
	}
	return &CreditHandler{service: service}, nil
}

func RegisterCreditRoutes(router fiber.Router, service CreditService) error {
	h, err := NewCreditHandler(service)
	if err != nil {
		return err
	}

	credits := router.Group("/v1/credits")
	credits.Post("/claim", h.Claim)
	credits.Get("/count", h.Count)

	return nil
}

type claimCreditRequest struct {
	PayerID string `json:"payerId"`
	PayeeID string `json:"payeeId"`
}

type paymentAttemptResponse struct {
	ID             string    `json:"id"`
	OrderID        *string   `json:"orderId,omitempty"`
	PayerID        string    `json:"payerId"`
	PayeeID        string    `json:"payeeId"`
	Amount         string    `json:"amount"`
	Status         string    `json:"status"`
	Consumed       bool      `json:"consumed"`
	GatewayOrderID *string   `json:"gatewayOrderId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type creditCountResponse struct {
	PayerID string `json:"payerId"`
	PayeeID string `json:"payeeId"`
	Count   int64  `json:"count"`
}

func (h *CreditHandler) Claim(c *fiber.Ctx) error {
	var req claimCreditRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	attempt, err := h.service.Claim(requestContext(c), strings.TrimSpace(req.PayerID), strings.TrimSpace(req.PayeeID))
	if err != nil {
		return transport.ToHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toPaymentAttemptResponse(attempt))
}

func (h *CreditHandler) Count(c *fiber.Ctx) error {
	payerID := strings.TrimSpace(c.Query("payerId"))
	payeeID := strings.TrimSpace(c.Query("payeeId"))

	count, err := h.service.CountUnconsumed(requestContext(c), payerID, payeeID)
	if err != nil {
		return transport.ToHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(creditCountResponse{
		PayerID: payerID,
		PayeeID: payeeID,
		Count:   count,
	})
}

func toPaymentAttemptResponse(p *domain.PaymentAttempt) paymentAttemptResponse {
	if p == nil {
		return paymentAttemptResponse{}
	}

	return paymentAttemptResponse{
		ID:             p.ID,
		OrderID:        p.OrderID,
		PayerID:        p.PayerID,
		PayeeID:        p.PayeeID,
		Amount:         domain.FormatAmount(p.Amount),
		Status:         p.Status.String(),
		Consumed:       p.Consumed,
		GatewayOrderID: p.GatewayOrderID,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}
