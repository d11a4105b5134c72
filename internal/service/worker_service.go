package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notification-center/internal/domain"
	"github.com/kursadbilgin/notification-center/internal/driver"
	"github.com/kursadbilgin/notification-center/internal/observability"
	"github.com/kursadbilgin/notification-center/internal/queue"
	"github.com/kursadbilgin/notification-center/internal/ratelimit"
	"github.com/kursadbilgin/notification-center/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultPollInterval  = 5 * time.Second
	defaultMaxAttempts   = 3
	defaultLeaseDuration = 5 * time.Minute
)

// DriverResolver returns the driver bound to a channel.
type DriverResolver interface {
	Resolve(channel string) (driver.Driver, error)
}

type WorkerConfig struct {
	PollInterval  time.Duration
	MaxAttempts   int
	LeaseDuration time.Duration
	WorkerID      string
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = defaultLeaseDuration
	}
	if c.WorkerID == "" {
		c.WorkerID = "worker-" + uuid.NewString()
	}
	return c
}

// WorkerService drains the job queue one job at a time.
type WorkerService struct {
	notifications repository.NotificationRepository
	jobs          repository.JobRepository
	logs          repository.DeliveryLogRepository
	drivers       DriverResolver
	rateLimiter   ratelimit.RateLimiter
	cfg           WorkerConfig
	logger        *zap.Logger
	metrics       *observability.Metrics
	wake          chan struct{}
	now           func() time.Time
}

func NewWorkerService(
	notifications repository.NotificationRepository,
	jobs repository.JobRepository,
	logs repository.DeliveryLogRepository,
	drivers DriverResolver,
	rateLimiter ratelimit.RateLimiter,
	cfg WorkerConfig,
	logger *zap.Logger,
) (*WorkerService, error) {
	if notifications == nil || jobs == nil || logs == nil {
		return nil, fmt.Errorf("notification, job and log repositories are required")
	}
	if drivers == nil {
		return nil, fmt.Errorf("driver resolver is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerService{
		notifications: notifications,
		jobs:          jobs,
		logs:          logs,
		drivers:       drivers,
		rateLimiter:   rateLimiter,
		cfg:           cfg.withDefaults(),
		logger:        logger,
		wake:          make(chan struct{}, 1),
		now:           time.Now,
	}, nil
}

func (s *WorkerService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *WorkerService) ID() string {
	return s.cfg.WorkerID
}

// Run claims and delivers jobs until ctx is canceled. Cancellation is only
// observed between jobs; a claimed job is always delivered and recorded.
func (s *WorkerService) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.logger.Info("worker started",
		zap.String("workerId", s.cfg.WorkerID),
		zap.Duration("pollInterval", s.cfg.PollInterval),
		zap.Int("maxAttempts", s.cfg.MaxAttempts),
	)

	for {
		if ctx.Err() != nil {
			s.logger.Info("worker stopped", zap.String("workerId", s.cfg.WorkerID))
			return nil
		}

		processed, err := s.ProcessNext(ctx)
		if err != nil {
			s.logger.Error("worker iteration failed", zap.String("workerId", s.cfg.WorkerID), zap.Error(err))
		}
		if processed {
			continue
		}

		s.idle(ctx)
	}
}

func (s *WorkerService) idle(ctx context.Context) {
	timer := time.NewTimer(s.cfg.PollInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	case <-s.wake:
	}
}

// Wake cuts the current idle sleep short.
func (s *WorkerService) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// HandleSignal is the queue handler for job signals.
func (s *WorkerService) HandleSignal(_ context.Context, msg queue.JobSignal) error {
	s.logger.Debug("job signal received",
		zap.Uint64("jobId", msg.JobID),
		zap.Uint64("requestId", msg.RequestID),
		zap.String("channel", msg.Channel),
	)
	s.Wake()
	return nil
}

// ProcessNext claims one job and runs it to completion. It reports false when
// no job was pending. A claim failure is treated as no job.
func (s *WorkerService) ProcessNext(ctx context.Context) (bool, error) {
	job, err := s.jobs.ClaimNext(ctx, s.cfg.WorkerID, s.cfg.LeaseDuration)
	if err != nil {
		return false, fmt.Errorf("failed to claim job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	// The claimed job finishes even if the loop is being shut down.
	s.process(context.WithoutCancel(ctx), job)
	return true, nil
}

func (s *WorkerService) process(ctx context.Context, job *domain.Job) {
	channel := job.Payload.Channel
	ctx = observability.WithDelivery(ctx, observability.DeliveryFields{
		JobID:     job.ID,
		RequestID: job.Payload.RequestID,
		Channel:   channel,
		Attempt:   job.Attempts + 1,
	})
	logger := observability.WithContextLogger(s.logger, ctx)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while recording delivery", zap.Any("panic", r))
		}
	}()

	s.metrics.IncJobClaimed(channel)
	s.metrics.IncWorkerInFlight(channel)
	defer s.metrics.DecWorkerInFlight(channel)

	logger.Info("job claimed")

	start := s.now()
	result := s.deliver(ctx, logger, job)
	s.metrics.ObserveDeliveryDuration(channel, s.now().Sub(start))
	s.metrics.IncDelivery(channel, result.Success)

	s.record(ctx, logger, job, result)
}

// deliver never fails: every error, including a driver panic, becomes a
// failed result.
func (s *WorkerService) deliver(ctx context.Context, logger *zap.Logger, job *domain.Job) (result driver.Result) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("driver panicked", zap.Any("panic", r))
			result = driver.Result{Success: false, Message: fmt.Sprintf("driver panic: %v", r)}
		}
	}()

	requestID := job.Payload.RequestID
	if err := s.notifications.UpdateStatus(ctx, requestID, domain.StatusProcessing); err != nil {
		// The job is still delivered; the request status catches up on record.
		logger.Warn("failed to mark notification as processing", zap.Error(err))
	}

	d, err := s.drivers.Resolve(job.Payload.Channel)
	if err != nil {
		return driver.Result{Success: false, Message: err.Error()}
	}

	if s.rateLimiter != nil {
		if err := s.rateLimiter.Wait(ctx, job.Payload.Channel); err != nil {
			return driver.Result{Success: false, Message: fmt.Sprintf("rate limiter wait failed: %v", err)}
		}
	}

	return d.Send(ctx, job.Payload.Payload)
}

func (s *WorkerService) record(ctx context.Context, logger *zap.Logger, job *domain.Job, result driver.Result) {
	channel := job.Payload.Channel
	requestID := job.Payload.RequestID

	entry := &domain.DeliveryLog{
		RequestID: requestID,
		Driver:    channel,
		Success:   result.Success,
		Response:  result.ResponseJSON(),
		CreatedAt: s.now().UTC(),
	}
	if !result.Success {
		msg := result.Message
		entry.ErrorMessage = &msg
	}
	if err := s.logs.Create(ctx, entry); err != nil {
		logger.Error("failed to write delivery log", zap.Error(err))
	}

	if result.Success {
		if err := s.jobs.SetStatus(ctx, job.ID, s.cfg.WorkerID, domain.JobStatusCompleted); err != nil {
			s.releaseFailed(logger, "failed to mark job as completed", err)
			return
		}
		if err := s.notifications.UpdateStatus(ctx, requestID, domain.StatusCompleted); err != nil {
			logger.Error("failed to mark notification as completed", zap.Error(err))
		}
		logger.Info("notification delivered")
		return
	}

	attempts, err := s.jobs.IncrementAttempts(ctx, job.ID, s.cfg.WorkerID)
	if err != nil {
		// Unless the lease was lost, the job stays processing until swept.
		s.releaseFailed(logger, "failed to count delivery attempt", err)
		return
	}

	next := domain.NextStatusAfterFailure(attempts, s.cfg.MaxAttempts)
	if err := s.jobs.SetStatus(ctx, job.ID, s.cfg.WorkerID, next); err != nil {
		s.releaseFailed(logger, "failed to release job", err, zap.String("status", next.String()))
		return
	}
	if err := s.notifications.UpdateStatus(ctx, requestID, domain.StatusFailed); err != nil && !errors.Is(err, domain.ErrConflict) {
		logger.Error("failed to mark notification as failed", zap.Error(err))
	}

	fields := []zap.Field{
		zap.Int("attempts", attempts),
		zap.Int("maxAttempts", s.cfg.MaxAttempts),
		zap.String("error", result.Message),
	}
	if next == domain.JobStatusFailed {
		s.metrics.IncJobFailed(channel, "attempts_exhausted")
		logger.Warn("delivery failed permanently", fields...)
		return
	}
	s.metrics.IncJobRetry(channel)
	logger.Warn("delivery failed, job requeued", fields...)
}

// releaseFailed logs a job update that did not apply. A conflict means the
// lease expired and the job belongs to the sweeper or another worker now, so
// the stale outcome only stays in the delivery log.
func (s *WorkerService) releaseFailed(logger *zap.Logger, msg string, err error, fields ...zap.Field) {
	fields = append(fields, zap.Error(err))
	if errors.Is(err, domain.ErrConflict) {
		logger.Warn("job lease lost before the outcome was recorded", fields...)
		return
	}
	logger.Error(msg, fields...)
}
