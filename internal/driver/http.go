package driver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	maxRedirects       = 3
	userAgent          = "NotificationCenter/1.0"
)

func newRestyClient(o options, timeout time.Duration) *resty.Client {
	var client *resty.Client
	if o.httpClient != nil {
		client = resty.NewWithClient(o.httpClient)
	} else {
		dialer := &net.Dialer{Timeout: defaultConnectTimeout}
		client = resty.New()
		client.SetTransport(&http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         dialer.DialContext,
			TLSHandshakeTimeout: defaultConnectTimeout,
		})
	}

	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	client.SetTimeout(timeout)
	client.SetRetryCount(0)
	client.SetRedirectPolicy(resty.FlexibleRedirectPolicy(maxRedirects))
	client.SetHeader("User-Agent", userAgent)

	return client
}

type httpCall struct {
	Method  string
	URL     string
	Headers map[string]string
	Query   map[string]string
	Body    any
}

// do performs one HTTP call. Non-2xx responses become a *TransportError that
// still carries the decoded body.
func do(ctx context.Context, client *resty.Client, call httpCall) attemptOutcome {
	req := client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if len(call.Headers) > 0 {
		req.SetHeaders(call.Headers)
	}
	if len(call.Query) > 0 {
		req.SetQueryParams(call.Query)
	}
	if call.Body != nil {
		req.SetBody(call.Body)
	}

	method := strings.ToUpper(strings.TrimSpace(call.Method))
	if method == "" {
		method = http.MethodPost
	}

	response, err := req.Execute(method, call.URL)
	if err != nil {
		message := "request failed"
		if errors.Is(err, context.DeadlineExceeded) {
			message = "request timed out"
		}
		return attemptOutcome{Err: &TransportError{Message: message, Cause: err}}
	}
	if response == nil {
		return attemptOutcome{Err: &TransportError{Message: "empty response"}}
	}

	statusCode := response.StatusCode()
	body := decodeBody(response)
	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		return attemptOutcome{
			Response:   body,
			StatusCode: statusCode,
			Err: &TransportError{
				StatusCode: statusCode,
				Body:       strings.TrimSpace(response.String()),
			},
		}
	}

	return attemptOutcome{Response: body, StatusCode: statusCode}
}

// decodeBody parses JSON responses and returns any other body as text.
func decodeBody(response *resty.Response) any {
	raw := response.Body()
	if len(raw) == 0 {
		return nil
	}

	contentType := strings.ToLower(response.Header().Get("Content-Type"))
	if strings.Contains(contentType, "json") {
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err == nil {
			return decoded
		}
	}

	return strings.TrimSpace(string(raw))
}
