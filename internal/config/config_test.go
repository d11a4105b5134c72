package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_DSN", "host=localhost user=test password=test dbname=test port=5432 sslmode=disable")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.APIPort != 8080 {
		t.Errorf("APIPort = %d, want 8080", cfg.APIPort)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %s, want info", cfg.LogLevel)
	}
	if cfg.WorkerMetricsPort != 9091 {
		t.Errorf("WorkerMetricsPort = %d, want 9091", cfg.WorkerMetricsPort)
	}
	if cfg.WorkerPollInterval != 5*time.Second {
		t.Errorf("WorkerPollInterval = %s, want 5s", cfg.WorkerPollInterval)
	}
	if cfg.WorkerMaxAttempts != 3 {
		t.Errorf("WorkerMaxAttempts = %d, want 3", cfg.WorkerMaxAttempts)
	}
	if cfg.WorkerLeaseDuration != 5*time.Minute {
		t.Errorf("WorkerLeaseDuration = %s, want 5m", cfg.WorkerLeaseDuration)
	}
	if cfg.ChannelRateLimitPerSec != 50 {
		t.Errorf("ChannelRateLimitPerSec = %d, want 50", cfg.ChannelRateLimitPerSec)
	}
	if cfg.Mail.SMTPPort != 587 {
		t.Errorf("Mail.SMTPPort = %d, want 587", cfg.Mail.SMTPPort)
	}
	if cfg.Bot.APIURL != "https://api.telegram.org/bot" {
		t.Errorf("Bot.APIURL = %s", cfg.Bot.APIURL)
	}
	if cfg.Webhook.Timeout != 10*time.Second {
		t.Errorf("Webhook.Timeout = %s, want 10s", cfg.Webhook.Timeout)
	}
	if cfg.RedisURL != "" || cfg.RabbitMQURL != "" {
		t.Errorf("optional urls should default to empty")
	}
}

func TestLoad_CustomValues(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("API_PORT", "9090")
	t.Setenv("WORKER_METRICS_PORT", "0")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("WORKER_POLL_INTERVAL", "250ms")
	t.Setenv("WORKER_MAX_ATTEMPTS", "5")
	t.Setenv("BOT_TOKEN", "secret")
	t.Setenv("WEBHOOK_RETRY_COUNT", "2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.APIPort != 9090 {
		t.Errorf("APIPort = %d, want 9090", cfg.APIPort)
	}
	if cfg.WorkerMetricsPort != 0 {
		t.Errorf("WorkerMetricsPort = %d, want 0", cfg.WorkerMetricsPort)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %s, want debug", cfg.LogLevel)
	}
	if cfg.WorkerPollInterval != 250*time.Millisecond {
		t.Errorf("WorkerPollInterval = %s, want 250ms", cfg.WorkerPollInterval)
	}
	if cfg.WorkerMaxAttempts != 5 {
		t.Errorf("WorkerMaxAttempts = %d, want 5", cfg.WorkerMaxAttempts)
	}
	if cfg.Bot.Token != "secret" {
		t.Errorf("Bot.Token = %q, want secret", cfg.Bot.Token)
	}
	if cfg.Webhook.RetryCount != 2 {
		t.Errorf("Webhook.RetryCount = %d, want 2", cfg.Webhook.RetryCount)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("DATABASE_DSN", "")
	os.Unsetenv("DATABASE_DSN")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for missing required env vars, got nil")
	}
}

func TestLoad_InvalidMaxAttempts(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("WORKER_MAX_ATTEMPTS", "0")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for zero max attempts, got nil")
	}
}

func TestLoad_LeaseShorterThanWebhookDelivery(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("WEBHOOK_TIMEOUT", "2m")
	t.Setenv("WEBHOOK_RETRY_COUNT", "3")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when the lease cannot cover webhook retries, got nil")
	}

	t.Setenv("WORKER_LEASE_DURATION", "10m")
	if _, err := Load(); err != nil {
		t.Fatalf("unexpected error with a long enough lease: %v", err)
	}
}

func TestWebhookWorstCase(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		timeout time.Duration
		retries int
		want    time.Duration
	}{
		{name: "defaults", timeout: 10 * time.Second, retries: 3, want: 36 * time.Second},
		{name: "single attempt", timeout: 5 * time.Second, retries: 1, want: 5 * time.Second},
		{name: "unset retries", timeout: time.Second, retries: 0, want: 9 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := Config{Webhook: WebhookConfig{Timeout: tt.timeout, RetryCount: tt.retries}}
			if got := cfg.WebhookWorstCase(); got != tt.want {
				t.Fatalf("WebhookWorstCase() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDefaultChannels(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SMS_API_URL", "https://sms.example.com/send")
	t.Setenv("SMS_API_KEY", "key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	channels, err := cfg.Channels()
	if err != nil {
		t.Fatalf("Channels() error = %v", err)
	}

	for _, name := range []string{"mail", "sms", "bot", "webhook"} {
		ch, ok := channels[name]
		if !ok {
			t.Fatalf("channel %q missing", name)
		}
		if ch.Driver != name {
			t.Errorf("channel %q driver = %q", name, ch.Driver)
		}
	}
	if got := channels["sms"].Settings["api_url"]; got != "https://sms.example.com/send" {
		t.Errorf("sms api_url = %q", got)
	}
	if got := channels["mail"].Settings["port"]; got != "587" {
		t.Errorf("mail port = %q", got)
	}
}

func TestParseChannels(t *testing.T) {
	t.Setenv("TEST_BOT_TOKEN", "from-env")

	raw := []byte(`
channels:
  Telegram:
    driver: bot
    config:
      bot_token: ${TEST_BOT_TOKEN}
  alerts:
    driver: webhook
    config:
      timeout: 3
      retry_count: 2
`)

	channels, err := ParseChannels(raw)
	if err != nil {
		t.Fatalf("ParseChannels() error = %v", err)
	}

	tg, ok := channels["telegram"]
	if !ok {
		t.Fatal("expected lowercased telegram channel")
	}
	if tg.Driver != "bot" {
		t.Errorf("telegram driver = %q, want bot", tg.Driver)
	}
	if tg.Settings["bot_token"] != "from-env" {
		t.Errorf("bot_token = %q, want from-env", tg.Settings["bot_token"])
	}
	if channels["alerts"].Settings["timeout"] != "3" {
		t.Errorf("timeout = %q, want 3", channels["alerts"].Settings["timeout"])
	}
}

func TestParseChannels_Invalid(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: `channels: {}`},
		{name: "missing driver", raw: "channels:\n  mail:\n    config:\n      host: x\n"},
		{name: "not yaml", raw: "channels: [unterminated"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := ParseChannels([]byte(tc.raw)); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestLoadChannels_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "drivers.yaml")
	if err := os.WriteFile(path, []byte("channels:\n  email:\n    driver: mail\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	setRequiredEnv(t)
	t.Setenv("DRIVERS_CONFIG_PATH", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	channels, err := cfg.Channels()
	if err != nil {
		t.Fatalf("Channels() error = %v", err)
	}
	if len(channels) != 1 || channels["email"].Driver != "mail" {
		t.Fatalf("unexpected channels: %+v", channels)
	}
}

func TestRateLimitOverrides(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		raw     string
		want    map[string]int
		wantErr bool
	}{
		{name: "empty", raw: "", want: map[string]int{}},
		{name: "pairs", raw: "SMS=10, bot=30", want: map[string]int{"sms": 10, "bot": 30}},
		{name: "missing separator", raw: "sms", wantErr: true},
		{name: "zero limit", raw: "sms=0", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := &Config{ChannelRateLimits: tc.raw}
			got, err := cfg.RateLimitOverrides()
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
			for k, v := range tc.want {
				if got[k] != v {
					t.Fatalf("got %v, want %v", got, tc.want)
				}
			}
		})
	}
}
