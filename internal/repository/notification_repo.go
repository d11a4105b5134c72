package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/kursadbilgin/notification-center/internal/domain"
	"gorm.io/gorm"
)

type NotificationRepository interface {
	Create(ctx context.Context, n *domain.Notification) error
	GetByID(ctx context.Context, id uint64) (*domain.Notification, error)
	UpdateStatus(ctx context.Context, id uint64, status domain.Status) error
}

type GormNotificationRepo struct {
	db *gorm.DB
}

func NewGormNotificationRepo(db *gorm.DB) *GormNotificationRepo {
	return &GormNotificationRepo{db: db}
}

func (r *GormNotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	if n == nil {
		return fmt.Errorf("%w: notification is required", domain.ErrValidation)
	}
	if n.Status == "" {
		n.Status = domain.StatusPending
	}

	model, err := notificationModelFromDomain(n)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return persistenceError("create notification", err)
	}

	created, err := notificationModelToDomain(model)
	if err != nil {
		return err
	}
	*n = *created
	return nil
}

func (r *GormNotificationRepo) GetByID(ctx context.Context, id uint64) (*domain.Notification, error) {
	var model NotificationModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, persistenceError("get notification", err)
	}
	return notificationModelToDomain(&model)
}

// UpdateStatus moves the notification to status when the current status
// allows it. A rejected transition yields ErrConflict.
func (r *GormNotificationRepo) UpdateStatus(ctx context.Context, id uint64, status domain.Status) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", domain.ErrValidation, status)
	}

	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND status IN ?", id, domain.TransitionSources(status)).
		Update("status", status)
	if result.Error != nil {
		return persistenceError("update notification status", result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: notification %d cannot move from %s to %s", domain.ErrConflict, id, current.Status, status)
}
