package repository

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/notification-center/internal/domain"
	"gorm.io/gorm"
)

// DeliveryLogRepository is the append-only store of delivery attempts.
type DeliveryLogRepository interface {
	Create(ctx context.Context, l *domain.DeliveryLog) error
	ListByRequestID(ctx context.Context, requestID uint64) ([]domain.DeliveryLog, error)
}

type GormDeliveryLogRepo struct {
	db *gorm.DB
}

func NewGormDeliveryLogRepo(db *gorm.DB) *GormDeliveryLogRepo {
	return &GormDeliveryLogRepo{db: db}
}

func (r *GormDeliveryLogRepo) Create(ctx context.Context, l *domain.DeliveryLog) error {
	if l == nil {
		return fmt.Errorf("%w: delivery log is required", domain.ErrValidation)
	}

	model := deliveryLogModelFromDomain(l)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return persistenceError("create delivery log", err)
	}
	*l = *deliveryLogModelToDomain(model)
	return nil
}

// ListByRequestID returns the delivery attempts of a request, most recent first.
func (r *GormDeliveryLogRepo) ListByRequestID(ctx context.Context, requestID uint64) ([]domain.DeliveryLog, error) {
	var models []DeliveryLogModel
	err := r.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&models).Error
	if err != nil {
		return nil, persistenceError("list delivery logs", err)
	}

	logs := make([]domain.DeliveryLog, 0, len(models))
	for i := range models {
		logs = append(logs, *deliveryLogModelToDomain(&models[i]))
	}

	return logs, nil
}
