package domain

import "time"

// WebhookOutcome records what the engine did with an authenticated webhook delivery.
type WebhookOutcome string

const (
	WebhookOutcomeApplied      WebhookOutcome = "APPLIED"
	WebhookOutcomeIgnored      WebhookOutcome = "IGNORED"
	WebhookOutcomeUnknownOrder WebhookOutcome = "UNKNOWN_ORDER"
	WebhookOutcomeFailed       WebhookOutcome = "FAILED"
)

func (o WebhookOutcome) String() string { return string(o) }

// WebhookEvent is the audit record of one authenticated gateway callback.
type WebhookEvent struct {
	ID         string
	Event      string
	OrderID    string
	State      string
	Outcome    WebhookOutcome
	Error      *string
	Payload    []byte
	ReceivedAt time.Time
}
