package domain

import (
	"encoding/json"
	"time"
)

// DeliveryLog is the append-only record of one delivery attempt.
type DeliveryLog struct {
	ID           uint64
	RequestID    uint64
	Driver       string
	Success      bool
	Response     json.RawMessage
	ErrorMessage *string
	CreatedAt    time.Time
}
