package driver

import (
	"fmt"
	"strings"
)

// TransportError describes a failed call to an external transport.
type TransportError struct {
	StatusCode int
	Body       string
	Message    string
	Cause      error
}

func (e *TransportError) Error() string {
	if e == nil {
		return "<nil>"
	}

	if e.StatusCode > 0 {
		body := strings.TrimSpace(e.Body)
		if msg := strings.TrimSpace(e.Message); msg != "" {
			body = msg
		}
		if body == "" {
			body = "Unknown error"
		}
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, body)
	}

	parts := make([]string, 0, 2)
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	if len(parts) == 0 {
		return "transport error"
	}
	return strings.Join(parts, ": ")
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}
