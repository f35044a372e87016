package queue

import (
	"fmt"
	"strings"
	"time"
)

// ReconcileMessage asks a worker to poll the gateway for one pending order.
type ReconcileMessage struct {
	AttemptID     string    `json:"attemptId"`
	OrderID       string    `json:"orderId"`
	CorrelationID string    `json:"correlationId,omitempty"`
	EnqueuedAt    time.Time `json:"enqueuedAt"`
}

func (m ReconcileMessage) Validate() error {
	if strings.TrimSpace(m.AttemptID) == "" {
		return fmt.Errorf("attemptId is required")
	}
	if strings.TrimSpace(m.OrderID) == "" {
		return fmt.Errorf("orderId is required")
	}
	return nil
}
