package driver

import (
	"context"
	"encoding/json"

	"github.com/kursadbilgin/notification-center/internal/domain"
)

// Kind names a driver implementation. Several channels may share a kind.
type Kind string

const (
	KindMail    Kind = "mail"
	KindSMS     Kind = "sms"
	KindBot     Kind = "bot"
	KindWebhook Kind = "webhook"
)

func (k Kind) String() string { return string(k) }

// Driver delivers one payload over one transport. Send never returns an
// error: every outcome, including validation and configuration problems, is
// reported through the Result.
type Driver interface {
	Kind() Kind
	Send(ctx context.Context, payload domain.Payload) Result
}

// Result is the outcome of one delivery attempt, after local retries.
type Result struct {
	Success    bool
	Message    string
	Response   any
	StatusCode *int
}

func failure(message string) Result {
	return Result{Success: false, Message: message}
}

// ResponseJSON encodes Response for storage. A nil response stays nil.
func (r Result) ResponseJSON() json.RawMessage {
	if r.Response == nil {
		return nil
	}
	if raw, ok := r.Response.(json.RawMessage); ok {
		return raw
	}
	encoded, err := json.Marshal(r.Response)
	if err != nil {
		return nil
	}
	return encoded
}
