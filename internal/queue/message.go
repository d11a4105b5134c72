package queue

import (
	"encoding/json"
	"fmt"
	"strings"
)

// JobSignal announces that a job was enqueued. It only wakes workers; the
// durable queue table stays the source of truth.
type JobSignal struct {
	JobID         uint64 `json:"jobId"`
	RequestID     uint64 `json:"requestId"`
	Channel       string `json:"channel"`
	CorrelationID string `json:"correlationId,omitempty"`
}

func (m JobSignal) Validate() error {
	if m.JobID == 0 {
		return fmt.Errorf("jobId is required")
	}
	if m.RequestID == 0 {
		return fmt.Errorf("requestId is required")
	}
	if strings.TrimSpace(m.Channel) == "" {
		return fmt.Errorf("channel is required")
	}
	return nil
}

func decodeSignal(body []byte) (JobSignal, error) {
	var msg JobSignal
	if err := json.Unmarshal(body, &msg); err != nil {
		return JobSignal{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return JobSignal{}, err
	}
	return msg, nil
}
