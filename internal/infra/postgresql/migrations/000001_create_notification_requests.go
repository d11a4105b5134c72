package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/notification-center/internal/repository"
	"gorm.io/gorm"
)

func createNotificationRequestsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_notification_requests",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.NotificationModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_notification_requests_status ON notification_requests (status)`,
				`CREATE INDEX IF NOT EXISTS idx_notification_requests_channel_created ON notification_requests (channel, created_at)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.NotificationModel{})
		},
	}
}
