package driver

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/notification-center/internal/domain"
)

const (
	smsRetryDelay    = 2 * time.Second
	defaultSMSSender = "Notification"
)

type SMSConfig struct {
	APIURL string
	APIKey string
	Sender string
}

type SMSDriver struct {
	cfg     SMSConfig
	client  *resty.Client
	retrier retrier
}

func NewSMSDriver(cfg SMSConfig, opts ...Option) *SMSDriver {
	o := buildOptions(opts)
	if cfg.Sender == "" {
		cfg.Sender = defaultSMSSender
	}

	return &SMSDriver{
		cfg:    cfg,
		client: newRestyClient(o, defaultHTTPTimeout),
		retrier: retrier{
			kind:        KindSMS,
			maxAttempts: defaultMaxAttempts,
			baseDelay:   o.delay(smsRetryDelay),
			sleep:       o.sleep,
			logger:      o.logger,
		},
	}
}

func newSMSFromSettings(s settings, opts ...Option) (Driver, error) {
	return NewSMSDriver(SMSConfig{
		APIURL: s.str("api_url", ""),
		APIKey: s.str("api_key", ""),
		Sender: s.str("sender", defaultSMSSender),
	}, opts...), nil
}

func (d *SMSDriver) Kind() Kind { return KindSMS }

func (d *SMSDriver) Send(ctx context.Context, payload domain.Payload) Result {
	to := payload.Recipient()
	if to == "" {
		return failure("sms recipient phone number is required")
	}
	message := payload.Message()
	if message == "" {
		return failure("sms message is required")
	}
	if d.cfg.APIURL == "" || d.cfg.APIKey == "" {
		return failure("sms api configuration is missing")
	}

	call := httpCall{
		URL:     d.cfg.APIURL,
		Headers: map[string]string{"Authorization": "Bearer " + d.cfg.APIKey},
		Body: map[string]string{
			"to":      to,
			"message": message,
			"sender":  d.cfg.Sender,
		},
	}

	return d.retrier.run(ctx, "sms sent successfully", func(ctx context.Context) attemptOutcome {
		return do(ctx, d.client, call)
	})
}
