package driver

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/notification-center/internal/domain"
)

const webhookRetryDelay = 2 * time.Second

// Payload keys that steer the webhook call instead of being delivered.
var webhookControlKeys = map[string]struct{}{
	"url":     {},
	"method":  {},
	"headers": {},
}

type WebhookConfig struct {
	Timeout    time.Duration
	RetryCount int
	AuthToken  string
}

// WebhookDriver calls an arbitrary HTTP endpoint named in the payload.
type WebhookDriver struct {
	cfg     WebhookConfig
	client  *resty.Client
	retrier retrier
}

func NewWebhookDriver(cfg WebhookConfig, opts ...Option) *WebhookDriver {
	o := buildOptions(opts)
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	if cfg.RetryCount <= 0 {
		cfg.RetryCount = defaultMaxAttempts
	}

	return &WebhookDriver{
		cfg:    cfg,
		client: newRestyClient(o, cfg.Timeout),
		retrier: retrier{
			kind:        KindWebhook,
			maxAttempts: cfg.RetryCount,
			baseDelay:   o.delay(webhookRetryDelay),
			sleep:       o.sleep,
			logger:      o.logger,
		},
	}
}

func newWebhookFromSettings(s settings, opts ...Option) (Driver, error) {
	return NewWebhookDriver(WebhookConfig{
		Timeout:    s.duration("timeout", defaultHTTPTimeout),
		RetryCount: s.int("retry_count", defaultMaxAttempts),
		AuthToken:  s.str("auth_token", ""),
	}, opts...), nil
}

func (d *WebhookDriver) Kind() Kind { return KindWebhook }

func (d *WebhookDriver) Send(ctx context.Context, payload domain.Payload) Result {
	target := payload.String("url")
	if target == "" {
		return failure("webhook url is required")
	}
	if _, err := url.ParseRequestURI(target); err != nil {
		return failure(fmt.Sprintf("invalid webhook url: %v", err))
	}

	method := strings.ToUpper(payload.String("method"))
	if method == "" {
		method = http.MethodPost
	}
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodGet:
	default:
		return failure(fmt.Sprintf("unsupported webhook method %q", method))
	}

	headers := webhookHeaders(payload["headers"])
	if d.cfg.AuthToken != "" {
		if _, ok := headers["Authorization"]; !ok {
			headers["Authorization"] = "Bearer " + d.cfg.AuthToken
		}
	}

	call := httpCall{
		Method:  method,
		URL:     target,
		Headers: headers,
	}
	data := webhookData(payload)
	if method == http.MethodGet {
		call.Query = queryParams(data)
	} else {
		call.Body = data
	}

	return d.retrier.run(ctx, "webhook sent successfully", func(ctx context.Context) attemptOutcome {
		return do(ctx, d.client, call)
	})
}

// webhookData picks the body: an explicit data or payload field, otherwise
// the notification payload without the control keys.
func webhookData(payload domain.Payload) any {
	for _, key := range []string{"data", "payload"} {
		if payload.Has(key) {
			return payload[key]
		}
	}

	body := make(map[string]any, len(payload))
	for k, v := range payload {
		if _, control := webhookControlKeys[k]; control {
			continue
		}
		body[k] = v
	}
	return body
}

// webhookHeaders accepts an object of name/value pairs or a list of
// "Name: value" strings.
func webhookHeaders(raw any) map[string]string {
	headers := make(map[string]string)
	switch v := raw.(type) {
	case map[string]any:
		for name, value := range v {
			if value == nil {
				continue
			}
			headers[http.CanonicalHeaderKey(strings.TrimSpace(name))] = strings.TrimSpace(fmt.Sprint(value))
		}
	case []any:
		for _, item := range v {
			line, ok := item.(string)
			if !ok {
				continue
			}
			name, value, found := strings.Cut(line, ":")
			if !found {
				continue
			}
			headers[http.CanonicalHeaderKey(strings.TrimSpace(name))] = strings.TrimSpace(value)
		}
	}
	return headers
}

func queryParams(data any) map[string]string {
	m, ok := data.(map[string]any)
	if !ok {
		return nil
	}
	params := make(map[string]string, len(m))
	for k, v := range m {
		if v == nil {
			continue
		}
		params[k] = domain.Payload(m).String(k)
	}
	return params
}
