package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/notification-center/internal/domain"
	"github.com/kursadbilgin/notification-center/internal/observability"
	"github.com/kursadbilgin/notification-center/internal/queue"
	"github.com/kursadbilgin/notification-center/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultSweepInterval = 30 * time.Second
	defaultSweepLimit    = 100

	leaseExpiredMessage = "delivery lease expired before the outcome was recorded"
)

// LeaseSweeper releases jobs left in processing by a worker that died or
// stalled past its lease.
type LeaseSweeper struct {
	jobs          repository.JobRepository
	notifications repository.NotificationRepository
	logs          repository.DeliveryLogRepository
	publisher     queue.Publisher
	logger        *zap.Logger
	metrics       *observability.Metrics
	interval      time.Duration
	limit         int
	maxAttempts   int
	now           func() time.Time
}

func NewLeaseSweeper(
	jobs repository.JobRepository,
	notifications repository.NotificationRepository,
	logs repository.DeliveryLogRepository,
	publisher queue.Publisher,
	interval time.Duration,
	limit int,
	maxAttempts int,
	logger *zap.Logger,
) (*LeaseSweeper, error) {
	if jobs == nil {
		return nil, fmt.Errorf("job repository is required")
	}
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if logs == nil {
		return nil, fmt.Errorf("delivery log repository is required")
	}
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	if maxAttempts < 1 {
		maxAttempts = defaultMaxAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &LeaseSweeper{
		jobs:          jobs,
		notifications: notifications,
		logs:          logs,
		publisher:     publisher,
		logger:        logger,
		interval:      interval,
		limit:         limit,
		maxAttempts:   maxAttempts,
		now:           time.Now,
	}, nil
}

func (s *LeaseSweeper) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *LeaseSweeper) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Jobs stranded by a previous process are released at startup.
	if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("lease sweeper initial sweep failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("lease sweeper sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepOnce releases expired leases and returns how many jobs it touched.
func (s *LeaseSweeper) SweepOnce(ctx context.Context) (int, error) {
	swept, err := s.jobs.SweepExpired(ctx, s.maxAttempts, s.limit)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired leases: %w", err)
	}

	for _, job := range swept {
		s.release(ctx, job)
	}
	if len(swept) > 0 {
		s.logger.Info("expired leases released", zap.Int("count", len(swept)))
	}

	return len(swept), nil
}

func (s *LeaseSweeper) release(ctx context.Context, job repository.SweptJob) {
	logger := s.logger.With(
		zap.Uint64("jobId", job.JobID),
		zap.Uint64("requestId", job.RequestID),
		zap.String("channel", job.Channel),
		zap.Int("attempts", job.Attempts),
	)

	msg := leaseExpiredMessage
	if err := s.logs.Create(ctx, &domain.DeliveryLog{
		RequestID:    job.RequestID,
		Driver:       job.Channel,
		Success:      false,
		ErrorMessage: &msg,
		CreatedAt:    s.now().UTC(),
	}); err != nil {
		logger.Error("failed to write delivery log for expired lease", zap.Error(err))
	}

	if err := s.notifications.UpdateStatus(ctx, job.RequestID, domain.StatusFailed); err != nil && !errors.Is(err, domain.ErrConflict) {
		logger.Error("failed to mark notification as failed after lease expiry", zap.Error(err))
	}

	if job.Status == domain.JobStatusFailed {
		s.metrics.IncJobSwept("failed")
		s.metrics.IncJobFailed(job.Channel, "lease_expired")
		logger.Warn("job failed after lease expiry")
		return
	}

	s.metrics.IncJobSwept("requeued")
	logger.Warn("job requeued after lease expiry")

	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, queue.JobSignalQueue, queue.JobSignal{
		JobID:     job.JobID,
		RequestID: job.RequestID,
		Channel:   job.Channel,
	}); err != nil {
		logger.Warn("failed to publish job signal for requeued job", zap.Error(err))
	}
}
