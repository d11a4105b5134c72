package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/notification-center/internal/domain"
	"github.com/kursadbilgin/notification-center/internal/observability"
	"github.com/kursadbilgin/notification-center/internal/queue"
	"github.com/kursadbilgin/notification-center/internal/repository"
	"go.uber.org/zap"
)

// ChannelCatalog reports which channels can be delivered.
type ChannelCatalog interface {
	HasChannel(name string) bool
	ListChannels() []string
}

type NotificationService struct {
	notifications repository.NotificationRepository
	jobs          repository.JobRepository
	logs          repository.DeliveryLogRepository
	channels      ChannelCatalog
	publisher     queue.Publisher
	logger        *zap.Logger
	metrics       *observability.Metrics
}

// NewNotificationService wires the intake side. publisher may be nil, in
// which case workers rely on polling alone.
func NewNotificationService(
	notifications repository.NotificationRepository,
	jobs repository.JobRepository,
	logs repository.DeliveryLogRepository,
	channels ChannelCatalog,
	publisher queue.Publisher,
	logger *zap.Logger,
) (*NotificationService, error) {
	if notifications == nil || jobs == nil || logs == nil {
		return nil, fmt.Errorf("notification, job and log repositories are required")
	}
	if channels == nil {
		return nil, fmt.Errorf("channel catalog is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &NotificationService{
		notifications: notifications,
		jobs:          jobs,
		logs:          logs,
		channels:      channels,
		publisher:     publisher,
		logger:        logger,
	}, nil
}

func (s *NotificationService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Send records a notification request, queues its delivery job and returns
// the request id. The request is queued by the time Send returns.
func (s *NotificationService) Send(
	ctx context.Context,
	channel string,
	recipient string,
	message string,
	subject *string,
	extra map[string]any,
) (uint64, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	channel = strings.ToLower(strings.TrimSpace(channel))
	if channel == "" {
		return 0, fmt.Errorf("%w: channel is required", domain.ErrValidation)
	}
	if !s.channels.HasChannel(channel) {
		return 0, fmt.Errorf("%w: unsupported channel %q", domain.ErrValidation, channel)
	}

	notification := &domain.Notification{
		Channel: channel,
		Payload: domain.NewPayload(strings.TrimSpace(recipient), strings.TrimSpace(message), normalizeOptionalString(subject), extra),
		Status:  domain.StatusPending,
	}
	if err := notification.Validate(); err != nil {
		return 0, err
	}

	if err := s.notifications.Create(ctx, notification); err != nil {
		return 0, err
	}
	logger := s.logger.With(zap.Uint64("requestId", notification.ID), zap.String("channel", channel))
	logger = observability.WithContextLogger(logger, ctx)

	jobID, err := s.jobs.Enqueue(ctx, domain.JobPayload{
		RequestID: notification.ID,
		Channel:   channel,
		Payload:   notification.Payload,
	})
	if err != nil {
		logger.Error("failed to enqueue notification", zap.Error(err))
		if updateErr := s.notifications.UpdateStatus(ctx, notification.ID, domain.StatusFailed); updateErr != nil {
			logger.Error("failed to mark notification as failed after enqueue error", zap.Error(updateErr))
			return 0, fmt.Errorf("failed to enqueue notification: %w (failed to mark as failed: %v)", err, updateErr)
		}
		return 0, fmt.Errorf("failed to enqueue notification: %w", err)
	}

	if err := s.notifications.UpdateStatus(ctx, notification.ID, domain.StatusQueued); err != nil {
		return 0, fmt.Errorf("failed to update notification status to queued: %w", err)
	}
	s.metrics.IncNotificationSubmitted(channel)

	s.signal(ctx, logger, queue.JobSignal{
		JobID:     jobID,
		RequestID: notification.ID,
		Channel:   channel,
	})

	return notification.ID, nil
}

// signal wakes idle workers. Failures are logged only; polling picks the
// job up regardless.
func (s *NotificationService) signal(ctx context.Context, logger *zap.Logger, msg queue.JobSignal) {
	if s.publisher == nil {
		return
	}
	if correlationID, ok := observability.CorrelationIDFromContext(ctx); ok {
		msg.CorrelationID = correlationID
	}
	if err := s.publisher.Publish(ctx, queue.JobSignalQueue, msg); err != nil {
		logger.Warn("failed to publish job signal", zap.Uint64("jobId", msg.JobID), zap.Error(err))
	}
}

func (s *NotificationService) GetStatus(ctx context.Context, requestID uint64) (*domain.Notification, error) {
	if requestID == 0 {
		return nil, fmt.Errorf("%w: request id is required", domain.ErrValidation)
	}
	return s.notifications.GetByID(ctx, requestID)
}

// GetLogs returns the delivery attempts of a request, most recent first.
func (s *NotificationService) GetLogs(ctx context.Context, requestID uint64) ([]domain.DeliveryLog, error) {
	if requestID == 0 {
		return nil, fmt.Errorf("%w: request id is required", domain.ErrValidation)
	}
	if _, err := s.notifications.GetByID(ctx, requestID); err != nil {
		return nil, err
	}
	return s.logs.ListByRequestID(ctx, requestID)
}

func (s *NotificationService) Channels() []string {
	return s.channels.ListChannels()
}

func normalizeOptionalString(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
