package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/notification-center/internal/repository"
	"gorm.io/gorm"
)

func createQueueTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_queue",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.JobModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_queue_status_created ON queue (status, created_at, id)`,
				`CREATE INDEX IF NOT EXISTS idx_queue_lease ON queue (lease_expires_at) WHERE status = 'processing'`,
				`CREATE INDEX IF NOT EXISTS idx_queue_request_id ON queue (request_id)`,
				`DO $$ BEGIN
					ALTER TABLE queue ADD CONSTRAINT fk_queue_request
						FOREIGN KEY (request_id) REFERENCES notification_requests (id) ON DELETE CASCADE;
				EXCEPTION WHEN duplicate_object THEN NULL;
				END $$`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.JobModel{})
		},
	}
}
