package domain

import (
	"fmt"
	"strings"
	"time"
)

// JobStatus represents the state of a queued delivery job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

func (s JobStatus) String() string { return string(s) }

func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// JobPayload is what a worker needs to perform one delivery.
type JobPayload struct {
	RequestID uint64  `json:"request_id"`
	Channel   string  `json:"channel"`
	Payload   Payload `json:"payload"`
}

func (p JobPayload) Validate() error {
	if p.RequestID == 0 {
		return fmt.Errorf("%w: request_id is required", ErrValidation)
	}
	if strings.TrimSpace(p.Channel) == "" {
		return fmt.Errorf("%w: channel is required", ErrValidation)
	}
	return nil
}

// Job is a durable unit of work. Jobs are never deleted.
type Job struct {
	ID             uint64
	Payload        JobPayload
	Status         JobStatus
	Attempts       int
	LockedBy       *string
	LeaseExpiresAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NextStatusAfterFailure returns the status a job takes once a failed attempt
// has been counted: pending while attempts stay under maxAttempts, failed once
// the cap is reached.
func NextStatusAfterFailure(attempts, maxAttempts int) JobStatus {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if attempts >= maxAttempts {
		return JobStatusFailed
	}
	return JobStatusPending
}
