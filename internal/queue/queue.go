package queue

import (
	"context"
	"fmt"
	"time"
)

// Publisher publishes job signals to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg JobSignal) error
	Close() error
}

// MessageHandler handles a consumed job signal.
type MessageHandler func(ctx context.Context, msg JobSignal) error

// Consumer consumes job signals from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

const (
	// JobSignalQueue carries wake-up signals for workers.
	JobSignalQueue = "notify.jobs"

	// Signals older than this are stale: the poller has picked the job up.
	signalTTL = time.Minute
	// Oldest signals are dropped beyond this backlog.
	signalMaxLength int32 = 10000
)

// SignalMessageID is the broker message id of a job signal.
func SignalMessageID(msg JobSignal) string {
	return fmt.Sprintf("job-%d", msg.JobID)
}
