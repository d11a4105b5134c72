package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/notification-center/internal/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultSweepLimit = 100

// JobRepository is the durable work queue.
type JobRepository interface {
	Enqueue(ctx context.Context, payload domain.JobPayload) (uint64, error)
	ClaimNext(ctx context.Context, workerID string, lease time.Duration) (*domain.Job, error)
	Get(ctx context.Context, id uint64) (*domain.Job, error)
	SetStatus(ctx context.Context, id uint64, workerID string, status domain.JobStatus) error
	IncrementAttempts(ctx context.Context, id uint64, workerID string) (int, error)
	SweepExpired(ctx context.Context, maxAttempts int, limit int) ([]SweptJob, error)
}

// SweptJob describes a processing job whose lease expired and was released.
type SweptJob struct {
	JobID     uint64
	RequestID uint64
	Channel   string
	Attempts  int
	Status    domain.JobStatus
}

type GormJobRepo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormJobRepo(db *gorm.DB) *GormJobRepo {
	return &GormJobRepo{db: db, now: time.Now}
}

func (r *GormJobRepo) Enqueue(ctx context.Context, payload domain.JobPayload) (uint64, error) {
	if err := payload.Validate(); err != nil {
		return 0, err
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to encode job payload: %w", err)
	}

	now := r.now().UTC()
	model := &JobModel{
		RequestID: payload.RequestID,
		Payload:   datatypes.JSON(encoded),
		Status:    domain.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return 0, persistenceError("enqueue job", err)
	}

	return model.ID, nil
}

// ClaimNext moves the oldest pending job to processing inside one transaction.
// The row is selected FOR UPDATE SKIP LOCKED so concurrent claimers never
// observe the same pending job. It returns nil when nothing is pending; on
// error the transaction is rolled back and no job is claimed.
func (r *GormJobRepo) ClaimNext(ctx context.Context, workerID string, lease time.Duration) (*domain.Job, error) {
	workerID = strings.TrimSpace(workerID)
	if workerID == "" {
		return nil, fmt.Errorf("%w: worker id is required", domain.ErrValidation)
	}
	if lease <= 0 {
		return nil, fmt.Errorf("%w: lease must be positive", domain.ErrValidation)
	}

	var claimed *JobModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model JobModel
		err := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ?", domain.JobStatusPending).
			Order("created_at ASC").
			Order("id ASC").
			Limit(1).
			Take(&model).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		now := r.now().UTC()
		expiresAt := now.Add(lease)
		result := tx.Model(&JobModel{}).
			Where("id = ? AND status = ?", model.ID, domain.JobStatusPending).
			Updates(map[string]any{
				"status":           domain.JobStatusProcessing,
				"locked_by":        workerID,
				"lease_expires_at": expiresAt,
				"updated_at":       now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}

		model.Status = domain.JobStatusProcessing
		model.LockedBy = &workerID
		model.LeaseExpiresAt = &expiresAt
		model.UpdatedAt = now
		claimed = &model
		return nil
	})
	if err != nil {
		return nil, persistenceError("claim next job", err)
	}
	if claimed == nil {
		return nil, nil
	}

	return jobModelToDomain(claimed)
}

func (r *GormJobRepo) Get(ctx context.Context, id uint64) (*domain.Job, error) {
	var model JobModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, persistenceError("get job", err)
	}
	return jobModelToDomain(&model)
}

// SetStatus updates a job the worker still holds. Leaving processing releases
// the lease. It returns domain.ErrConflict when the lease was swept or taken
// over by another worker.
func (r *GormJobRepo) SetStatus(ctx context.Context, id uint64, workerID string, status domain.JobStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: invalid job status %q", domain.ErrValidation, status)
	}

	updates := map[string]any{
		"status":     status,
		"updated_at": r.now().UTC(),
	}
	if status != domain.JobStatusProcessing {
		updates["locked_by"] = nil
		updates["lease_expires_at"] = nil
	}

	result := r.db.WithContext(ctx).
		Model(&JobModel{}).
		Where("id = ? AND locked_by = ? AND status = ?", id, workerID, domain.JobStatusProcessing).
		Updates(updates)
	if result.Error != nil {
		return persistenceError("set job status", result.Error)
	}
	if result.RowsAffected == 0 {
		return r.ownershipError(ctx, id, workerID)
	}
	return nil
}

// IncrementAttempts bumps the attempt counter of a job the worker still holds
// and returns the new value.
func (r *GormJobRepo) IncrementAttempts(ctx context.Context, id uint64, workerID string) (int, error) {
	var model JobModel
	result := r.db.WithContext(ctx).
		Model(&model).
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "attempts"}}}).
		Where("id = ? AND locked_by = ? AND status = ?", id, workerID, domain.JobStatusProcessing).
		Updates(map[string]any{
			"attempts":   gorm.Expr("attempts + 1"),
			"updated_at": r.now().UTC(),
		})
	if result.Error != nil {
		return 0, persistenceError("increment job attempts", result.Error)
	}
	if result.RowsAffected == 0 {
		return 0, r.ownershipError(ctx, id, workerID)
	}
	return model.Attempts, nil
}

// ownershipError tells a missing job apart from one the worker no longer holds.
func (r *GormJobRepo) ownershipError(ctx context.Context, id uint64, workerID string) error {
	var count int64
	err := r.db.WithContext(ctx).Model(&JobModel{}).Where("id = ?", id).Count(&count).Error
	if err != nil {
		return persistenceError("check job ownership", err)
	}
	if count == 0 {
		return domain.ErrNotFound
	}
	return fmt.Errorf("%w: job %d is not held by %s", domain.ErrConflict, id, workerID)
}

// SweepExpired releases processing jobs whose lease has expired. Each swept
// job is charged one attempt and returns to pending, or fails terminally once
// maxAttempts is reached.
func (r *GormJobRepo) SweepExpired(ctx context.Context, maxAttempts int, limit int) ([]SweptJob, error) {
	if limit <= 0 {
		limit = defaultSweepLimit
	}

	var swept []SweptJob
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := r.now().UTC()

		var models []JobModel
		err := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND lease_expires_at IS NOT NULL AND lease_expires_at < ?", domain.JobStatusProcessing, now).
			Order("lease_expires_at ASC").
			Limit(limit).
			Find(&models).Error
		if err != nil {
			return err
		}

		swept = make([]SweptJob, 0, len(models))
		for i := range models {
			model := models[i]
			attempts := model.Attempts + 1
			status := domain.NextStatusAfterFailure(attempts, maxAttempts)

			err := tx.Model(&JobModel{}).
				Where("id = ?", model.ID).
				Updates(map[string]any{
					"status":           status,
					"attempts":         attempts,
					"locked_by":        nil,
					"lease_expires_at": nil,
					"updated_at":       now,
				}).Error
			if err != nil {
				return err
			}

			job, err := jobModelToDomain(&model)
			if err != nil {
				return err
			}
			swept = append(swept, SweptJob{
				JobID:     model.ID,
				RequestID: job.Payload.RequestID,
				Channel:   job.Payload.Channel,
				Attempts:  attempts,
				Status:    status,
			})
		}
		return nil
	})
	if err != nil {
		return nil, persistenceError("sweep expired jobs", err)
	}

	return swept, nil
}
