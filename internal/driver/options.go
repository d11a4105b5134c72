package driver

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const defaultConnectTimeout = 5 * time.Second

type options struct {
	httpClient    *http.Client
	retryDelay    *time.Duration
	sleep         func(ctx context.Context, d time.Duration) error
	mailTransport MailTransport
	logger        *zap.Logger
}

// Option customises how drivers are built.
type Option func(*options)

// WithHTTPClient replaces the HTTP client used by the sms, bot and webhook drivers.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithRetryDelay overrides the per-kind base delay between local retries.
func WithRetryDelay(d time.Duration) Option {
	return func(o *options) {
		o.retryDelay = &d
	}
}

// WithSleep replaces the wait used between local retries.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *options) {
		o.sleep = sleep
	}
}

// WithMailTransport forces the mail driver onto the given transport.
func WithMailTransport(t MailTransport) Option {
	return func(o *options) {
		o.mailTransport = t
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func buildOptions(opts []Option) options {
	o := options{
		sleep:  sleepContext,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.sleep == nil {
		o.sleep = sleepContext
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}

func (o options) delay(base time.Duration) time.Duration {
	if o.retryDelay != nil {
		return *o.retryDelay
	}
	return base
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
