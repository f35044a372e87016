package gateway

import (
	"context"

	"github.com/kursadbilgin/consult-payments/internal/domain"
)

// Client is the outbound payment gateway port. Calls have no side effects on
// the local store.
type Client interface {
	Initiate(ctx context.Context, req InitiateRequest) (*Session, error)
	QueryStatus(ctx context.Context, orderID string) (*StatusResult, error)
}

type InitiateRequest struct {
	OrderID     string
	Amount      int64
	PayerID     string
	PayeeID     string
	RedirectURL string
	CallbackURL string
}

// Session is a payment page opened at the gateway for one order.
type Session struct {
	OrderID        string
	RedirectURL    string
	GatewayOrderID string
}

type StatusResult struct {
	OrderID       string
	State         domain.GatewayState
	RawState      string
	TransactionID string
	Amount        int64
}
