package repository

import (
	"time"

	"github.com/kursadbilgin/consult-payments/internal/domain"
	"gorm.io/datatypes"
)

// PaymentAttemptModel is the persistence model for the payment_attempts table.
type PaymentAttemptModel struct {
	ID             string               `gorm:"type:uuid;primaryKey"`
	OrderID        *string              `gorm:"type:varchar(64)"`
	PayerID        string               `gorm:"type:varchar(128);not null"`
	PayeeID        string               `gorm:"type:varchar(128);not null"`
	Amount         int64                `gorm:"not null"`
	Status         domain.PaymentStatus `gorm:"type:varchar(10);not null"`
	Consumed       bool                 `gorm:"not null;default:false"`
	GatewayOrderID *string              `gorm:"type:varchar(128)"`
	LastPolledAt   *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (PaymentAttemptModel) TableName() string {
	return "payment_attempts"
}

// WebhookEventModel is the persistence model for webhook_events.
type WebhookEventModel struct {
	ID         string                `gorm:"type:uuid;primaryKey"`
	Event      string                `gorm:"type:varchar(64);not null"`
	OrderID    string                `gorm:"type:varchar(64);not null"`
	State      string                `gorm:"type:varchar(32);not null"`
	Outcome    domain.WebhookOutcome `gorm:"type:varchar(20);not null"`
	Error      *string               `gorm:"type:text"`
	Payload    datatypes.JSON
	ReceivedAt time.Time `gorm:"not null"`
}

func (WebhookEventModel) TableName() string {
	return "webhook_events"
}

func paymentModelFromDomain(p *domain.PaymentAttempt) *PaymentAttemptModel {
	if p == nil {
		return nil
	}

	return &PaymentAttemptModel{
		ID:             p.ID,
		OrderID:        p.OrderID,
		PayerID:        p.PayerID,
		PayeeID:        p.PayeeID,
		Amount:         p.Amount,
		Status:         p.Status,
		Consumed:       p.Consumed,
		GatewayOrderID: p.GatewayOrderID,
		LastPolledAt:   p.LastPolledAt,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

func paymentModelToDomain(m *PaymentAttemptModel) *domain.PaymentAttempt {
	if m == nil {
		return nil
	}

	return &domain.PaymentAttempt{
		ID:             m.ID,
		OrderID:        m.OrderID,
		PayerID:        m.PayerID,
		PayeeID:        m.PayeeID,
		Amount:         m.Amount,
		Status:         m.Status,
		Consumed:       m.Consumed,
		GatewayOrderID: m.GatewayOrderID,
		LastPolledAt:   m.LastPolledAt,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func webhookEventModelFromDomain(e *domain.WebhookEvent) *WebhookEventModel {
	if e == nil {
		return nil
	}

	var payload datatypes.JSON
	if len(e.Payload) > 0 {
		payload = datatypes.JSON(e.Payload)
	}

	return &WebhookEventModel{
		ID:         e.ID,
		Event:      e.Event,
		OrderID:    e.OrderID,
		State:      e.State,
		Outcome:    e.Outcome,
		Error:      e.Error,
		Payload:    payload,
		ReceivedAt: e.ReceivedAt,
	}
}

func webhookEventModelToDomain(m *WebhookEventModel) *domain.WebhookEvent {
	if m == nil {
		return nil
	}

	return &domain.WebhookEvent{
		ID:         m.ID,
		Event:      m.Event,
		OrderID:    m.OrderID,
		State:      m.State,
		Outcome:    m.Outcome,
		Error:      m.Error,
		Payload:    []byte(m.Payload),
		ReceivedAt: m.ReceivedAt,
	}
}
