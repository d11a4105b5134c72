package driver

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const defaultMaxAttempts = 3

// attemptOutcome is what one call against a transport produced.
type attemptOutcome struct {
	Response   any
	StatusCode int
	Err        error
}

// retrier runs a bounded local retry loop. The wait before attempt n+1 is
// baseDelay*n.
type retrier struct {
	kind        Kind
	maxAttempts int
	baseDelay   time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
	logger      *zap.Logger
}

func (r retrier) run(ctx context.Context, successMessage string, attempt func(ctx context.Context) attemptOutcome) Result {
	maxAttempts := r.maxAttempts
	if maxAttempts < 1 {
		maxAttempts = defaultMaxAttempts
	}

	var (
		last     attemptOutcome
		attempts int
	)
	for attempts < maxAttempts {
		attempts++
		last = attempt(ctx)
		if last.Err == nil {
			return Result{
				Success:    true,
				Message:    successMessage,
				Response:   last.Response,
				StatusCode: statusCodePtr(last.StatusCode),
			}
		}

		r.logger.Warn("transport attempt failed",
			zap.String("driver", r.kind.String()),
			zap.Int("attempt", attempts),
			zap.Int("maxAttempts", maxAttempts),
			zap.Error(last.Err),
		)

		if attempts >= maxAttempts {
			break
		}
		if err := r.sleep(ctx, r.baseDelay*time.Duration(attempts)); err != nil {
			break
		}
	}

	return Result{
		Success:    false,
		Message:    fmt.Sprintf("failed to send %s after %d attempts: %v", r.kind, attempts, last.Err),
		Response:   last.Response,
		StatusCode: statusCodePtr(last.StatusCode),
	}
}

func statusCodePtr(code int) *int {
	if code <= 0 {
		return nil
	}
	return &code
}
