package driver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kursadbilgin/notification-center/internal/domain"
)

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return nil
}

func (r *sleepRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func TestWebhookDriverSendSuccess(t *testing.T) {
	t.Parallel()

	var (
		gotMethod string
		gotBody   map[string]any
		gotHeader string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotHeader = r.Header.Get("X-Source")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"received":true}`))
	}))
	defer server.Close()

	d := NewWebhookDriver(WebhookConfig{}, WithSleep((&sleepRecorder{}).sleep))
	payload := domain.NewPayload("-", "hi", nil, map[string]any{
		"url":     server.URL + "/hook",
		"headers": map[string]any{"x-source": "tests"},
		"data":    map[string]any{"event": "signup"},
	})

	result := d.Send(context.Background(), payload)
	if !result.Success {
		t.Fatalf("Send() failed: %s", result.Message)
	}
	if result.StatusCode == nil || *result.StatusCode != http.StatusAccepted {
		t.Fatalf("StatusCode = %v, want 202", result.StatusCode)
	}
	if gotMethod != http.MethodPost {
		t.Fatalf("method = %s, want POST", gotMethod)
	}
	if gotHeader != "tests" {
		t.Fatalf("X-Source = %q, want tests", gotHeader)
	}
	if gotBody["event"] != "signup" {
		t.Fatalf("body = %v, want data field", gotBody)
	}
	response, ok := result.Response.(map[string]any)
	if !ok || response["received"] != true {
		t.Fatalf("Response = %#v, want decoded json", result.Response)
	}
}

func TestWebhookDriverSendsPayloadWithoutControlKeys(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	d := NewWebhookDriver(WebhookConfig{})
	result := d.Send(context.Background(), domain.NewPayload("ops", "deploy done", nil, map[string]any{
		"url":    server.URL,
		"method": "put",
	}))
	if !result.Success {
		t.Fatalf("Send() failed: %s", result.Message)
	}
	if _, ok := gotBody["url"]; ok {
		t.Fatalf("body should not carry url: %v", gotBody)
	}
	if gotBody["message"] != "deploy done" || gotBody["to"] != "ops" {
		t.Fatalf("body = %v", gotBody)
	}
	if result.Response != "ok" {
		t.Fatalf("Response = %#v, want text body", result.Response)
	}
}

func TestWebhookDriverAlwaysFailingIsRetriedExactly(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		retryCount int
		wantCalls  int32
	}{
		{name: "default retry count", retryCount: 0, wantCalls: 3},
		{name: "configured retry count", retryCount: 5, wantCalls: 5},
		{name: "single attempt", retryCount: 1, wantCalls: 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte("boom"))
			}))
			defer server.Close()

			sleeps := &sleepRecorder{}
			d := NewWebhookDriver(WebhookConfig{RetryCount: tc.retryCount}, WithSleep(sleeps.sleep))
			result := d.Send(context.Background(), domain.NewPayload("-", "hi", nil, map[string]any{"url": server.URL + "/y"}))

			if result.Success {
				t.Fatal("expected failure")
			}
			if got := calls.Load(); got != tc.wantCalls {
				t.Fatalf("calls = %d, want %d", got, tc.wantCalls)
			}
			if !strings.Contains(result.Message, "HTTP 500") {
				t.Fatalf("Message = %q, want HTTP 500", result.Message)
			}
			if result.StatusCode == nil || *result.StatusCode != http.StatusInternalServerError {
				t.Fatalf("StatusCode = %v, want 500", result.StatusCode)
			}
			if got := len(sleeps.recorded()); got != int(tc.wantCalls)-1 {
				t.Fatalf("sleeps = %d, want %d", got, tc.wantCalls-1)
			}
		})
	}
}

func TestWebhookDriverBackoffScalesWithAttempt(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	sleeps := &sleepRecorder{}
	d := NewWebhookDriver(WebhookConfig{}, WithSleep(sleeps.sleep))
	result := d.Send(context.Background(), domain.NewPayload("-", "hi", nil, map[string]any{"url": server.URL}))

	if result.Message != "failed to send webhook after 3 attempts: HTTP 502: Unknown error" {
		t.Fatalf("Message = %q", result.Message)
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second}
	got := sleeps.recorded()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("delays = %v, want %v", got, want)
	}
}

func TestWebhookDriverGetEncodesQuery(t *testing.T) {
	t.Parallel()

	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		gotQuery = r.URL.Query().Get("user")
	}))
	defer server.Close()

	d := NewWebhookDriver(WebhookConfig{AuthToken: "tok"})
	result := d.Send(context.Background(), domain.NewPayload("-", "hi", nil, map[string]any{
		"url":    server.URL,
		"method": "GET",
		"data":   map[string]any{"user": float64(42)},
	}))
	if !result.Success {
		t.Fatalf("Send() failed: %s", result.Message)
	}
	if gotQuery != "42" {
		t.Fatalf("query user = %q, want 42", gotQuery)
	}
}

func TestWebhookDriverValidation(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	testCases := []struct {
		name    string
		extra   map[string]any
		wantMsg string
	}{
		{name: "missing url", extra: nil, wantMsg: "webhook url is required"},
		{name: "relative url", extra: map[string]any{"url": "not a url"}, wantMsg: "invalid webhook url"},
		{name: "bad method", extra: map[string]any{"url": server.URL, "method": "DELETE"}, wantMsg: "unsupported webhook method"},
	}

	d := NewWebhookDriver(WebhookConfig{})
	for _, tc := range testCases {
		result := d.Send(context.Background(), domain.NewPayload("-", "hi", nil, tc.extra))
		if result.Success {
			t.Fatalf("%s: expected failure", tc.name)
		}
		if !strings.Contains(result.Message, tc.wantMsg) {
			t.Fatalf("%s: Message = %q, want %q", tc.name, result.Message, tc.wantMsg)
		}
	}
	if got := calls.Load(); got != 0 {
		t.Fatalf("calls = %d, want 0", got)
	}
}

func TestSMSDriverSend(t *testing.T) {
	t.Parallel()

	var (
		gotAuth string
		gotBody map[string]string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"sms-1"}`))
	}))
	defer server.Close()

	d := NewSMSDriver(SMSConfig{APIURL: server.URL, APIKey: "k-1"})
	result := d.Send(context.Background(), domain.NewPayload("+905551112233", "code 1234", nil, nil))
	if !result.Success {
		t.Fatalf("Send() failed: %s", result.Message)
	}
	if gotAuth != "Bearer k-1" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if gotBody["to"] != "+905551112233" || gotBody["message"] != "code 1234" || gotBody["sender"] != "Notification" {
		t.Fatalf("body = %v", gotBody)
	}
}

func TestSMSDriverMissingConfigurationMakesNoCalls(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	testCases := []struct {
		name    string
		cfg     SMSConfig
		payload domain.Payload
		wantMsg string
	}{
		{name: "no api key", cfg: SMSConfig{APIURL: server.URL}, payload: domain.NewPayload("+1", "hi", nil, nil), wantMsg: "sms api configuration is missing"},
		{name: "no recipient", cfg: SMSConfig{APIURL: server.URL, APIKey: "k"}, payload: domain.NewPayload("", "hi", nil, nil), wantMsg: "sms recipient phone number is required"},
		{name: "no message", cfg: SMSConfig{APIURL: server.URL, APIKey: "k"}, payload: domain.NewPayload("+1", " ", nil, nil), wantMsg: "sms message is required"},
	}

	for _, tc := range testCases {
		result := NewSMSDriver(tc.cfg).Send(context.Background(), tc.payload)
		if result.Success || result.Message != tc.wantMsg {
			t.Fatalf("%s: result = %+v, want %q", tc.name, result, tc.wantMsg)
		}
	}
	if got := calls.Load(); got != 0 {
		t.Fatalf("calls = %d, want 0", got)
	}
}

func TestBotDriverWithoutTokenMakesNoCalls(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	d := NewBotDriver(BotConfig{APIURL: server.URL})
	result := d.Send(context.Background(), domain.NewPayload("123", "hello", nil, nil))

	if result.Success {
		t.Fatal("expected failure")
	}
	if result.Message != "bot token is not configured" {
		t.Fatalf("Message = %q", result.Message)
	}
	if got := calls.Load(); got != 0 {
		t.Fatalf("calls = %d, want 0", got)
	}
}

func TestBotDriverSend(t *testing.T) {
	t.Parallel()

	var (
		gotPath string
		gotBody map[string]any
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7}}`))
	}))
	defer server.Close()

	d := NewBotDriver(BotConfig{Token: "123:abc", APIURL: server.URL + "/bot"})
	result := d.Send(context.Background(), domain.NewPayload("123", "hello", nil, map[string]any{
		"reply_markup": map[string]any{"inline_keyboard": []any{}},
	}))
	if !result.Success {
		t.Fatalf("Send() failed: %s", result.Message)
	}
	if gotPath != "/bot123:abc/sendMessage" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotBody["chat_id"] != "123" || gotBody["text"] != "hello" || gotBody["parse_mode"] != "HTML" {
		t.Fatalf("body = %v", gotBody)
	}
	if _, ok := gotBody["reply_markup"]; !ok {
		t.Fatalf("reply_markup missing from body: %v", gotBody)
	}
}

func TestBotDriverRejectedMessageFails(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer server.Close()

	d := NewBotDriver(BotConfig{Token: "t", APIURL: server.URL}, WithRetryDelay(0))
	result := d.Send(context.Background(), domain.NewPayload("999", "hello", nil, nil))

	if result.Success {
		t.Fatal("expected failure")
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
	if !strings.Contains(result.Message, "chat not found") {
		t.Fatalf("Message = %q", result.Message)
	}
}

func TestBotDriverRequiresOkTrue(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{name: "missing ok", body: `{"result":{"message_id":7}}`},
		{name: "ok not boolean", body: `{"ok":"true"}`},
		{name: "not an object", body: `"sent"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			d := NewBotDriver(BotConfig{Token: "t", APIURL: server.URL}, WithRetryDelay(0))
			result := d.Send(context.Background(), domain.NewPayload("999", "hello", nil, nil))

			if result.Success {
				t.Fatalf("expected failure for body %s", tt.body)
			}
			if !strings.Contains(result.Message, "bot api error") {
				t.Fatalf("Message = %q", result.Message)
			}
			if got := calls.Load(); got != 3 {
				t.Fatalf("calls = %d, want 3", got)
			}
		})
	}
}

func TestDriverStopsRetryingWhenContextEnds(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	d := NewSMSDriver(SMSConfig{APIURL: server.URL, APIKey: "k"}, WithSleep(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	result := d.Send(ctx, domain.NewPayload("+1", "hi", nil, nil))
	if result.Success {
		t.Fatal("expected failure")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
	if !strings.HasPrefix(result.Message, "failed to send sms after 1 attempts") {
		t.Fatalf("Message = %q", result.Message)
	}
}
