package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state of a notification request.
type Status string

const (
	StatusPending    Status = "pending"
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusQueued, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// statusPredecessors lists the states a notification may move from into the
// keyed state. A failed request re-enters processing when its job is retried.
var statusPredecessors = map[Status][]Status{
	StatusQueued:     {StatusPending},
	StatusProcessing: {StatusPending, StatusQueued, StatusFailed},
	StatusCompleted:  {StatusProcessing},
	StatusFailed:     {StatusPending, StatusQueued, StatusProcessing},
}

// CanTransition reports whether a notification may move from one status to
// another. Re-applying the current status is always allowed.
func CanTransition(from, to Status) bool {
	if !from.IsValid() || !to.IsValid() {
		return false
	}
	if from == to {
		return true
	}
	for _, allowed := range statusPredecessors[to] {
		if allowed == from {
			return true
		}
	}
	return false
}

// TransitionSources returns every status that may transition into to,
// including to itself.
func TransitionSources(to Status) []Status {
	sources := make([]Status, 0, len(statusPredecessors[to])+1)
	sources = append(sources, to)
	sources = append(sources, statusPredecessors[to]...)
	return sources
}

// Notification is a submitted delivery request and its latest known status.
type Notification struct {
	ID        uint64
	Channel   string
	Payload   Payload
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (n *Notification) Validate() error {
	if strings.TrimSpace(n.Channel) == "" {
		return fmt.Errorf("%w: channel is required", ErrValidation)
	}
	if n.Payload.Recipient() == "" {
		return fmt.Errorf("%w: recipient (to) is required", ErrValidation)
	}
	if n.Payload.Message() == "" {
		return fmt.Errorf("%w: message is required", ErrValidation)
	}
	return nil
}
