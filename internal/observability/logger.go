package observability

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type (
	correlationIDKey struct{}
	deliveryKey      struct{}
)

// DeliveryFields identify the delivery attempt a log line belongs to.
type DeliveryFields struct {
	JobID     uint64
	RequestID uint64
	Channel   string
	Attempt   int
}

func NewLogger(level string) (*zap.Logger, error) {
	parsedLevel, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsedLevel)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true

	logger, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger, nil
}

func parseLevel(level string) (zapcore.Level, error) {
	var parsed zapcore.Level
	normalized := strings.ToLower(strings.TrimSpace(level))
	if normalized == "" {
		normalized = "info"
	}

	if err := parsed.UnmarshalText([]byte(normalized)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	return parsed, nil
}

func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	return context.WithValue(ctx, correlationIDKey{}, correlationID)
}

func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}

	correlationID, ok := ctx.Value(correlationIDKey{}).(string)
	if !ok || correlationID == "" {
		return "", false
	}

	return correlationID, true
}

func WithDelivery(ctx context.Context, fields DeliveryFields) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	return context.WithValue(ctx, deliveryKey{}, fields)
}

func DeliveryFromContext(ctx context.Context) (DeliveryFields, bool) {
	if ctx == nil {
		return DeliveryFields{}, false
	}

	fields, ok := ctx.Value(deliveryKey{}).(DeliveryFields)
	return fields, ok
}

// WithContextLogger decorates logger with the correlation id and delivery
// fields carried by ctx.
func WithContextLogger(logger *zap.Logger, ctx context.Context) *zap.Logger {
	if logger == nil {
		return nil
	}

	fields := make([]zap.Field, 0, 5)
	if correlationID, ok := CorrelationIDFromContext(ctx); ok {
		fields = append(fields, zap.String("correlationId", correlationID))
	}
	if delivery, ok := DeliveryFromContext(ctx); ok {
		if delivery.JobID != 0 {
			fields = append(fields, zap.Uint64("jobId", delivery.JobID))
		}
		if delivery.RequestID != 0 {
			fields = append(fields, zap.Uint64("requestId", delivery.RequestID))
		}
		if delivery.Channel != "" {
			fields = append(fields, zap.String("channel", delivery.Channel))
		}
		if delivery.Attempt > 0 {
			fields = append(fields, zap.Int("attempt", delivery.Attempt))
		}
	}

	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}
