package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/consult-payments/internal/repository"
	"gorm.io/gorm"
)

func createWebhookEventsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_webhook_events",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.WebhookEventModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_webhook_events_order_id ON webhook_events (order_id, received_at)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.WebhookEventModel{})
		},
	}
}
