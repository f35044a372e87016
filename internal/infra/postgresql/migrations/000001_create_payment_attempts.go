package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/consult-payments/internal/repository"
	"gorm.io/gorm"
)

func createPaymentAttemptsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_payment_attempts",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.PaymentAttemptModel{}); err != nil {
				return err
			}
			// Legacy rows carry no order id, so uniqueness only applies where one is set.
			return execAll(tx, []string{
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_payment_attempts_order_id ON payment_attempts (order_id) WHERE order_id IS NOT NULL`,
				`CREATE INDEX IF NOT EXISTS idx_payment_attempts_credits ON payment_attempts (payer_id, payee_id, status, consumed, created_at)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.PaymentAttemptModel{})
		},
	}
}
