package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/consult-payments/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// claimAttempts bounds how often a claim re-selects after losing a conditional update.
const claimAttempts = 3

type PaymentRepository interface {
	Create(ctx context.Context, p *domain.PaymentAttempt) error
	GetByID(ctx context.Context, id string) (*domain.PaymentAttempt, error)
	GetByOrderID(ctx context.Context, orderID string) (*domain.PaymentAttempt, error)
	FindLegacyByParties(ctx context.Context, payerID, payeeID string) (*domain.PaymentAttempt, error)
	TransitionStatus(ctx context.Context, id string, to domain.PaymentStatus, from []domain.PaymentStatus) (bool, error)
	ClaimOldestCredit(ctx context.Context, payerID, payeeID string) (*domain.PaymentAttempt, error)
	CountUnconsumed(ctx context.Context, payerID, payeeID string) (int64, error)
	ListStalePending(ctx context.Context, createdBefore, polledBefore time.Time, limit int) ([]domain.PaymentAttempt, error)
	TouchPolled(ctx context.Context, id string, at time.Time) error
	AttachGatewayOrderID(ctx context.Context, id string, gatewayOrderID string) error
}

type GormPaymentRepo struct {
	db *gorm.DB
}

func NewGormPaymentRepo(db *gorm.DB) *GormPaymentRepo {
	return &GormPaymentRepo{db: db}
}

func (r *GormPaymentRepo) Create(ctx context.Context, p *domain.PaymentAttempt) error {
	model := paymentModelFromDomain(p)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrConflict
		}
		return err
	}
	if p != nil {
		*p = *paymentModelToDomain(model)
	}
	return nil
}

func (r *GormPaymentRepo) GetByID(ctx context.Context, id string) (*domain.PaymentAttempt, error) {
	var model PaymentAttemptModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return paymentModelToDomain(&model), nil
}

func (r *GormPaymentRepo) GetByOrderID(ctx context.Context, orderID string) (*domain.PaymentAttempt, error) {
	var model PaymentAttemptModel
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return paymentModelToDomain(&model), nil
}

// FindLegacyByParties resolves an attempt created before order ids existed.
// The oldest row that is not yet paid wins; when every legacy row of the pair
// is already paid the newest one is returned so a replayed success stays a no-op.
func (r *GormPaymentRepo) FindLegacyByParties(ctx context.Context, payerID, payeeID string) (*domain.PaymentAttempt, error) {
	base := func() *gorm.DB {
		return r.db.WithContext(ctx).
			Model(&PaymentAttemptModel{}).
			Where("order_id IS NULL AND payer_id = ? AND payee_id = ?", payerID, payeeID)
	}

	var model PaymentAttemptModel
	err := base().
		Where("status <> ?", domain.PaymentStatusPaid).
		Order("created_at ASC").
		Take(&model).Error
	if err == nil {
		return paymentModelToDomain(&model), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	err = base().Order("created_at DESC").Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return paymentModelToDomain(&model), nil
}

// TransitionStatus moves the row to the target status only while its current
// status is one of from. It reports whether the row changed.
func (r *GormPaymentRepo) TransitionStatus(ctx context.Context, id string, to domain.PaymentStatus, from []domain.PaymentStatus) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}

	result := r.db.WithContext(ctx).
		Model(&PaymentAttemptModel{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(map[string]any{
			"status":     to,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ClaimOldestCredit flips consumed on the oldest paid, unconsumed attempt of the pair.
func (r *GormPaymentRepo) ClaimOldestCredit(ctx context.Context, payerID, payeeID string) (*domain.PaymentAttempt, error) {
	for range claimAttempts {
		claimed, err := r.claimOnce(ctx, payerID, payeeID)
		if errors.Is(err, domain.ErrConflict) {
			continue
		}
		return claimed, err
	}
	return nil, domain.ErrNoCreditAvailable
}

func (r *GormPaymentRepo) claimOnce(ctx context.Context, payerID, payeeID string) (*domain.PaymentAttempt, error) {
	var claimed *domain.PaymentAttempt

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model PaymentAttemptModel
		err := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("payer_id = ? AND payee_id = ? AND status = ? AND consumed = ?",
				payerID, payeeID, domain.PaymentStatusPaid, false).
			Order("created_at ASC").
			Order("id ASC").
			Take(&model).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNoCreditAvailable
		}
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		result := tx.Model(&PaymentAttemptModel{}).
			Where("id = ? AND consumed = ?", model.ID, false).
			Updates(map[string]any{
				"consumed":   true,
				"updated_at": now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrConflict
		}

		model.Consumed = true
		model.UpdatedAt = now
		claimed = paymentModelToDomain(&model)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *GormPaymentRepo) CountUnconsumed(ctx context.Context, payerID, payeeID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&PaymentAttemptModel{}).
		Where("payer_id = ? AND payee_id = ? AND status = ? AND consumed = ?",
			payerID, payeeID, domain.PaymentStatusPaid, false).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// ListStalePending returns pending attempts with an order id that were created
// before createdBefore and not polled since polledBefore, oldest first.
func (r *GormPaymentRepo) ListStalePending(ctx context.Context, createdBefore, polledBefore time.Time, limit int) ([]domain.PaymentAttempt, error) {
	var models []PaymentAttemptModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND order_id IS NOT NULL AND created_at <= ?", domain.PaymentStatusPending, createdBefore.UTC()).
		Where("(last_polled_at IS NULL OR last_polled_at <= ?)", polledBefore.UTC()).
		Order("created_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	attempts := make([]domain.PaymentAttempt, 0, len(models))
	for i := range models {
		attempts = append(attempts, *paymentModelToDomain(&models[i]))
	}

	return attempts, nil
}

func (r *GormPaymentRepo) TouchPolled(ctx context.Context, id string, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&PaymentAttemptModel{}).
		Where("id = ?", id).
		Update("last_polled_at", at.UTC())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormPaymentRepo) AttachGatewayOrderID(ctx context.Context, id string, gatewayOrderID string) error {
	return r.db.WithContext(ctx).
		Model(&PaymentAttemptModel{}).
		Where("id = ?", id).
		Update("gateway_order_id", gatewayOrderID).Error
}
