package repository

import (
	"context"

	"github.com/kursadbilgin/consult-payments/internal/domain"
	"gorm.io/gorm"
)

type WebhookEventRepository interface {
	Create(ctx context.Context, e *domain.WebhookEvent) error
	ListByOrderID(ctx context.Context, orderID string) ([]domain.WebhookEvent, error)
}

type GormWebhookEventRepo struct {
	db *gorm.DB
}

func NewGormWebhookEventRepo(db *gorm.DB) *GormWebhookEventRepo {
	return &GormWebhookEventRepo{db: db}
}

func (r *GormWebhookEventRepo) Create(ctx context.Context, e *domain.WebhookEvent) error {
	model := webhookEventModelFromDomain(e)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if e != nil {
		*e = *webhookEventModelToDomain(model)
	}
	return nil
}

func (r *GormWebhookEventRepo) ListByOrderID(ctx context.Context, orderID string) ([]domain.WebhookEvent, error) {
	var models []WebhookEventModel
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("received_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	events := make([]domain.WebhookEvent, 0, len(models))
	for i := range models {
		events = append(events, *webhookEventModelToDomain(&models[i]))
	}

	return events, nil
}
