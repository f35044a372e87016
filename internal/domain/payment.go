package domain

import (
	"fmt"
	"strings"
	"time"
)

// PaymentStatus is the local lifecycle state of a payment attempt.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "PENDING"
	PaymentStatusPaid    PaymentStatus = "PAID"
	PaymentStatusFailed  PaymentStatus = "FAILED"
)

func (s PaymentStatus) String() string { return string(s) }

func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further signal may change the status.
// FAILED is not terminal: a late success from the gateway supersedes it.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusPaid
}

func ParsePaymentStatusFromString(s string) (PaymentStatus, error) {
	st := PaymentStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid payment status %q", ErrValidation, s)
	}
	return st, nil
}

// Channel identifies the path a gateway outcome arrived through.
// ChannelInitiate is the synchronous answer to the initiation call itself.
type Channel string

const (
	ChannelWebhook  Channel = "WEBHOOK"
	ChannelRedirect Channel = "REDIRECT"
	ChannelPoll     Channel = "POLL"
	ChannelInitiate Channel = "INITIATE"
)

func (c Channel) String() string { return string(c) }

func (c Channel) IsValid() bool {
	switch c {
	case ChannelWebhook, ChannelRedirect, ChannelPoll, ChannelInitiate:
		return true
	}
	return false
}

// IsAuthoritative reports whether signals on this channel are verified against the gateway.
func (c Channel) IsAuthoritative() bool {
	return c == ChannelWebhook
}

// PaymentAttempt is one request to the gateway to collect money for a consult.
type PaymentAttempt struct {
	ID             string
	OrderID        *string
	PayerID        string
	PayeeID        string
	Amount         int64
	Status         PaymentStatus
	Consumed       bool
	GatewayOrderID *string
	LastPolledAt   *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// OrderKey returns the order id, or an empty string for legacy attempts.
func (p *PaymentAttempt) OrderKey() string {
	if p == nil || p.OrderID == nil {
		return ""
	}
	return *p.OrderID
}

// IsCredit reports whether the attempt can still authorize one billable consult.
func (p *PaymentAttempt) IsCredit() bool {
	return p != nil && p.Status == PaymentStatusPaid && !p.Consumed
}

func (p *PaymentAttempt) Validate() error {
	if strings.TrimSpace(p.PayerID) == "" {
		return fmt.Errorf("%w: payerId is required", ErrValidation)
	}
	if strings.TrimSpace(p.PayeeID) == "" {
		return fmt.Errorf("%w: payeeId is required", ErrValidation)
	}
	if p.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if !p.Status.IsValid() {
		return fmt.Errorf("%w: invalid payment status %q", ErrValidation, p.Status)
	}
	if p.Consumed && p.Status != PaymentStatusPaid {
		return fmt.Errorf("%w: only paid attempts can be consumed", ErrValidation)
	}
	return nil
}
