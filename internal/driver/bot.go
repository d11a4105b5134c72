package driver

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/notification-center/internal/domain"
)

const (
	botRetryDelay     = time.Second
	defaultBotAPIURL  = "https://api.telegram.org/bot"
	defaultParseMode  = "HTML"
	errBotTokenAbsent = "bot token is not configured"
)

type BotConfig struct {
	Token  string
	APIURL string
}

// BotDriver posts messages to a Telegram compatible Bot API.
type BotDriver struct {
	cfg     BotConfig
	client  *resty.Client
	retrier retrier
}

func NewBotDriver(cfg BotConfig, opts ...Option) *BotDriver {
	o := buildOptions(opts)
	if cfg.APIURL == "" {
		cfg.APIURL = defaultBotAPIURL
	}

	return &BotDriver{
		cfg:    cfg,
		client: newRestyClient(o, defaultHTTPTimeout),
		retrier: retrier{
			kind:        KindBot,
			maxAttempts: defaultMaxAttempts,
			baseDelay:   o.delay(botRetryDelay),
			sleep:       o.sleep,
			logger:      o.logger,
		},
	}
}

func newBotFromSettings(s settings, opts ...Option) (Driver, error) {
	return NewBotDriver(BotConfig{
		Token:  s.str("bot_token", ""),
		APIURL: s.str("api_url", defaultBotAPIURL),
	}, opts...), nil
}

func (d *BotDriver) Kind() Kind { return KindBot }

func (d *BotDriver) Send(ctx context.Context, payload domain.Payload) Result {
	chatID := payload.Recipient()
	if chatID == "" {
		return failure("bot chat id is required")
	}
	message := payload.Message()
	if message == "" {
		return failure("bot message is required")
	}
	if strings.TrimSpace(d.cfg.Token) == "" {
		return failure(errBotTokenAbsent)
	}

	body := map[string]any{
		"chat_id":    chatID,
		"text":       message,
		"parse_mode": payload.String("parse_mode"),
	}
	if body["parse_mode"] == "" {
		body["parse_mode"] = defaultParseMode
	}
	if payload.Has("reply_markup") {
		body["reply_markup"] = payload["reply_markup"]
	}

	call := httpCall{
		Method: http.MethodPost,
		URL:    botEndpoint(d.cfg.APIURL, d.cfg.Token, "sendMessage"),
		Body:   body,
	}

	return d.retrier.run(ctx, "bot message sent successfully", func(ctx context.Context) attemptOutcome {
		outcome := do(ctx, d.client, call)
		if outcome.Err != nil {
			if description := botDescription(outcome.Response); description != "" {
				outcome.Err = &TransportError{StatusCode: outcome.StatusCode, Message: description}
			}
			return outcome
		}
		// Only an explicit "ok": true counts as accepted.
		decoded, _ := outcome.Response.(map[string]any)
		if decoded["ok"] != true {
			description := botDescription(decoded)
			if description == "" {
				description = fmt.Sprintf("%v", outcome.Response)
			}
			outcome.Err = &TransportError{Message: "bot api error: " + description}
		}
		return outcome
	})
}

func botDescription(response any) string {
	decoded, ok := response.(map[string]any)
	if !ok {
		return ""
	}
	description, _ := decoded["description"].(string)
	return strings.TrimSpace(description)
}

// botEndpoint joins the API base and token. A base ending in "/bot" takes the
// token directly, as the Telegram API expects.
func botEndpoint(apiURL, token, method string) string {
	base := strings.TrimRight(apiURL, "/")
	if strings.HasSuffix(base, "/bot") {
		return base + token + "/" + method
	}
	return base + "/" + token + "/" + method
}
