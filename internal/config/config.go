package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

// webhookRetryDelay matches the linear backoff step of the webhook driver.
const webhookRetryDelay = 2 * time.Second

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RedisURL    string `env:"REDIS_URL"`
	RabbitMQURL string `env:"RABBITMQ_URL"`
	APIPort     int    `env:"API_PORT,default=8080"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`

	WorkerPollInterval     time.Duration `env:"WORKER_POLL_INTERVAL,default=5s"`
	WorkerMaxAttempts      int           `env:"WORKER_MAX_ATTEMPTS,default=3"`
	WorkerLeaseDuration    time.Duration `env:"WORKER_LEASE_DURATION,default=5m"`
	WorkerMetricsPort      int           `env:"WORKER_METRICS_PORT,default=9091"`
	SweepInterval          time.Duration `env:"SWEEP_INTERVAL,default=30s"`
	SweepLimit             int           `env:"SWEEP_LIMIT,default=100"`
	ChannelRateLimitPerSec int           `env:"CHANNEL_RATE_LIMIT_PER_SEC,default=50"`
	ChannelRateLimits      string        `env:"CHANNEL_RATE_LIMITS"`
	DriversConfigPath      string        `env:"DRIVERS_CONFIG_PATH"`

	Mail    MailConfig
	SMS     SMSConfig
	Bot     BotConfig
	Webhook WebhookConfig
}

type MailConfig struct {
	SMTPHost     string `env:"MAIL_SMTP_HOST"`
	SMTPPort     int    `env:"MAIL_SMTP_PORT,default=587"`
	SMTPUser     string `env:"MAIL_SMTP_USER"`
	SMTPPass     string `env:"MAIL_SMTP_PASS"`
	FromEmail    string `env:"MAIL_FROM,default=noreply@example.com"`
	FromName     string `env:"MAIL_FROM_NAME,default=Notification Center"`
	SendmailPath string `env:"MAIL_SENDMAIL_PATH,default=/usr/sbin/sendmail"`
}

type SMSConfig struct {
	APIURL string `env:"SMS_API_URL"`
	APIKey string `env:"SMS_API_KEY"`
	Sender string `env:"SMS_SENDER,default=Notification"`
}

type BotConfig struct {
	Token  string `env:"BOT_TOKEN"`
	APIURL string `env:"BOT_API_URL,default=https://api.telegram.org/bot"`
}

type WebhookConfig struct {
	Timeout    time.Duration `env:"WEBHOOK_TIMEOUT,default=10s"`
	RetryCount int           `env:"WEBHOOK_RETRY_COUNT,default=3"`
	AuthToken  string        `env:"WEBHOOK_AUTH_TOKEN"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.WorkerPollInterval <= 0 {
		return fmt.Errorf("WORKER_POLL_INTERVAL must be positive")
	}
	if c.WorkerMaxAttempts < 1 {
		return fmt.Errorf("WORKER_MAX_ATTEMPTS must be at least 1")
	}
	if c.WorkerMetricsPort < 0 {
		return fmt.Errorf("WORKER_METRICS_PORT must not be negative")
	}
	if c.WorkerLeaseDuration <= 0 {
		return fmt.Errorf("WORKER_LEASE_DURATION must be positive")
	}
	if worst := c.WebhookWorstCase(); c.WorkerLeaseDuration < worst {
		return fmt.Errorf("WORKER_LEASE_DURATION %s is shorter than the worst-case webhook delivery %s", c.WorkerLeaseDuration, worst)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive")
	}
	if c.ChannelRateLimitPerSec < 0 {
		return fmt.Errorf("CHANNEL_RATE_LIMIT_PER_SEC must not be negative")
	}
	if _, err := c.RateLimitOverrides(); err != nil {
		return err
	}
	return nil
}

// WebhookWorstCase is the longest a webhook delivery can take: every attempt
// hitting WEBHOOK_TIMEOUT plus the backoff between them.
func (c *Config) WebhookWorstCase() time.Duration {
	attempts := c.Webhook.RetryCount
	if attempts < 1 {
		attempts = 3
	}
	worst := time.Duration(attempts) * c.Webhook.Timeout
	for n := 1; n < attempts; n++ {
		worst += webhookRetryDelay * time.Duration(n)
	}
	return worst
}

// RateLimitOverrides parses CHANNEL_RATE_LIMITS, a comma separated list of
// channel=limit pairs such as "sms=10,bot=30".
func (c *Config) RateLimitOverrides() (map[string]int, error) {
	overrides := make(map[string]int)
	for _, pair := range strings.Split(c.ChannelRateLimits, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		channel, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("CHANNEL_RATE_LIMITS entry %q must be channel=limit", pair)
		}
		limit, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || limit <= 0 {
			return nil, fmt.Errorf("CHANNEL_RATE_LIMITS entry %q needs a positive limit", pair)
		}
		overrides[strings.ToLower(strings.TrimSpace(channel))] = limit
	}
	return overrides, nil
}

// Channels returns the channel map: the YAML file at DriversConfigPath when
// set, otherwise one channel per driver kind built from the environment.
func (c *Config) Channels() (map[string]ChannelConfig, error) {
	if c.DriversConfigPath != "" {
		return LoadChannels(c.DriversConfigPath)
	}
	return c.DefaultChannels(), nil
}

func (c *Config) DefaultChannels() map[string]ChannelConfig {
	return map[string]ChannelConfig{
		"mail": {
			Driver: "mail",
			Settings: map[string]string{
				"host":          c.Mail.SMTPHost,
				"port":          strconv.Itoa(c.Mail.SMTPPort),
				"user":          c.Mail.SMTPUser,
				"pass":          c.Mail.SMTPPass,
				"from_email":    c.Mail.FromEmail,
				"from_name":     c.Mail.FromName,
				"sendmail_path": c.Mail.SendmailPath,
			},
		},
		"sms": {
			Driver: "sms",
			Settings: map[string]string{
				"api_url": c.SMS.APIURL,
				"api_key": c.SMS.APIKey,
				"sender":  c.SMS.Sender,
			},
		},
		"bot": {
			Driver: "bot",
			Settings: map[string]string{
				"bot_token": c.Bot.Token,
				"api_url":   c.Bot.APIURL,
			},
		},
		"webhook": {
			Driver: "webhook",
			Settings: map[string]string{
				"timeout":     c.Webhook.Timeout.String(),
				"retry_count": strconv.Itoa(c.Webhook.RetryCount),
				"auth_token":  c.Webhook.AuthToken,
			},
		},
	}
}
