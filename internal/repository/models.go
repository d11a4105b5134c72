package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kursadbilgin/notification-center/internal/domain"
	"gorm.io/datatypes"
)

// NotificationModel is the persistence model for the notification_requests table.
type NotificationModel struct {
	ID        uint64         `gorm:"primaryKey;autoIncrement"`
	Channel   string         `gorm:"type:varchar(50);not null"`
	Payload   datatypes.JSON `gorm:"column:payload_json;type:jsonb;not null"`
	Status    domain.Status  `gorm:"type:varchar(20);not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (NotificationModel) TableName() string {
	return "notification_requests"
}

// JobModel is the persistence model for the queue table.
type JobModel struct {
	ID             uint64           `gorm:"primaryKey;autoIncrement"`
	RequestID      uint64           `gorm:"not null"`
	Payload        datatypes.JSON   `gorm:"column:payload_json;type:jsonb;not null"`
	Status         domain.JobStatus `gorm:"type:varchar(20);not null"`
	Attempts       int              `gorm:"not null;default:0"`
	LockedBy       *string          `gorm:"type:varchar(64)"`
	LeaseExpiresAt *time.Time       `gorm:"type:timestamptz"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (JobModel) TableName() string {
	return "queue"
}

// DeliveryLogModel is the persistence model for notification_logs.
type DeliveryLogModel struct {
	ID           uint64         `gorm:"primaryKey;autoIncrement"`
	RequestID    uint64         `gorm:"not null"`
	Driver       string         `gorm:"type:varchar(50);not null"`
	Success      bool           `gorm:"not null"`
	Response     datatypes.JSON `gorm:"column:response_json;type:jsonb"`
	ErrorMessage *string        `gorm:"type:text"`
	CreatedAt    time.Time
}

func (DeliveryLogModel) TableName() string {
	return "notification_logs"
}

func notificationModelFromDomain(n *domain.Notification) (*NotificationModel, error) {
	if n == nil {
		return nil, nil
	}

	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode notification payload: %w", err)
	}

	return &NotificationModel{
		ID:        n.ID,
		Channel:   n.Channel,
		Payload:   datatypes.JSON(payload),
		Status:    n.Status,
		CreatedAt: n.CreatedAt,
		UpdatedAt: n.UpdatedAt,
	}, nil
}

func notificationModelToDomain(m *NotificationModel) (*domain.Notification, error) {
	if m == nil {
		return nil, nil
	}

	var payload domain.Payload
	if len(m.Payload) > 0 {
		if err := json.Unmarshal(m.Payload, &payload); err != nil {
			return nil, fmt.Errorf("failed to decode payload of notification %d: %w", m.ID, err)
		}
	}

	return &domain.Notification{
		ID:        m.ID,
		Channel:   m.Channel,
		Payload:   payload,
		Status:    m.Status,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}, nil
}

func jobModelToDomain(m *JobModel) (*domain.Job, error) {
	if m == nil {
		return nil, nil
	}

	var payload domain.JobPayload
	if len(m.Payload) > 0 {
		if err := json.Unmarshal(m.Payload, &payload); err != nil {
			return nil, fmt.Errorf("failed to decode payload of job %d: %w", m.ID, err)
		}
	}
	if payload.RequestID == 0 {
		payload.RequestID = m.RequestID
	}

	return &domain.Job{
		ID:             m.ID,
		Payload:        payload,
		Status:         m.Status,
		Attempts:       m.Attempts,
		LockedBy:       m.LockedBy,
		LeaseExpiresAt: m.LeaseExpiresAt,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}, nil
}

func deliveryLogModelFromDomain(l *domain.DeliveryLog) *DeliveryLogModel {
	if l == nil {
		return nil
	}

	var response datatypes.JSON
	if len(l.Response) > 0 {
		response = datatypes.JSON(l.Response)
	}

	return &DeliveryLogModel{
		ID:           l.ID,
		RequestID:    l.RequestID,
		Driver:       l.Driver,
		Success:      l.Success,
		Response:     response,
		ErrorMessage: l.ErrorMessage,
		CreatedAt:    l.CreatedAt,
	}
}

func deliveryLogModelToDomain(m *DeliveryLogModel) *domain.DeliveryLog {
	if m == nil {
		return nil
	}

	var response json.RawMessage
	if len(m.Response) > 0 {
		response = json.RawMessage(m.Response)
	}

	return &domain.DeliveryLog{
		ID:           m.ID,
		RequestID:    m.RequestID,
		Driver:       m.Driver,
		Success:      m.Success,
		Response:     response,
		ErrorMessage: m.ErrorMessage,
		CreatedAt:    m.CreatedAt,
	}
}

func persistenceError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrPersistence, op, err)
}
