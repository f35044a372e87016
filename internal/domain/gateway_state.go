package domain

import "strings"

// GatewayState is the canonical outcome vocabulary of the payment gateway.
type GatewayState string

const (
	GatewayStatePending   GatewayState = "PENDING"
	GatewayStateSuccess   GatewayState = "SUCCESS"
	GatewayStateFailed    GatewayState = "FAILED"
	GatewayStateCancelled GatewayState = "CANCELLED"
	GatewayStateExpired   GatewayState = "EXPIRED"
)

func (s GatewayState) String() string { return string(s) }

// ParseGatewayState maps any channel vocabulary to a GatewayState.
// Unrecognised values map to PENDING, which the engine treats as a no-op.
func ParseGatewayState(raw string) GatewayState {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "SUCCESS", "COMPLETED":
		return GatewayStateSuccess
	case "FAILED":
		return GatewayStateFailed
	case "CANCELLED", "CANCELED":
		return GatewayStateCancelled
	case "EXPIRED":
		return GatewayStateExpired
	default:
		return GatewayStatePending
	}
}

// Outcome is the effect a gateway state has on a payment attempt.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomePaid
	OutcomeFailed
)

func (s GatewayState) Outcome() Outcome {
	switch s {
	case GatewayStateSuccess:
		return OutcomePaid
	case GatewayStateFailed, GatewayStateCancelled, GatewayStateExpired:
		return OutcomeFailed
	default:
		return OutcomeNone
	}
}

// TargetStatus returns the payment status an outcome moves towards.
func (o Outcome) TargetStatus() (PaymentStatus, bool) {
	switch o {
	case OutcomePaid:
		return PaymentStatusPaid, true
	case OutcomeFailed:
		return PaymentStatusFailed, true
	default:
		return "", false
	}
}

// TransitionableFrom lists the statuses from which the outcome may be applied.
// PAID is reachable from anything but itself; FAILED only from PENDING.
func (o Outcome) TransitionableFrom() []PaymentStatus {
	switch o {
	case OutcomePaid:
		return []PaymentStatus{PaymentStatusPending, PaymentStatusFailed}
	case OutcomeFailed:
		return []PaymentStatus{PaymentStatusPending}
	default:
		return nil
	}
}
