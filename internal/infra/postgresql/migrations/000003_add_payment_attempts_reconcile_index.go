package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/consult-payments/internal/repository"
	"gorm.io/gorm"
)

func addPaymentAttemptsReconcileIndex() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_add_payment_attempts_reconcile_index",
		Migrate: func(tx *gorm.DB) error {
			migrator := tx.Migrator()
			if !migrator.HasColumn(&repository.PaymentAttemptModel{}, "LastPolledAt") {
				if err := migrator.AddColumn(&repository.PaymentAttemptModel{}, "LastPolledAt"); err != nil {
					return err
				}
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_payment_attempts_reconcile ON payment_attempts (created_at, last_polled_at) WHERE status = 'PENDING' AND order_id IS NOT NULL`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Exec(`DROP INDEX IF EXISTS idx_payment_attempts_reconcile`).Error
		},
	}
}
