package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kursadbilgin/notification-center/internal/domain"
	"github.com/kursadbilgin/notification-center/internal/driver"
	"github.com/kursadbilgin/notification-center/internal/queue"
	"github.com/kursadbilgin/notification-center/internal/repository"
)

// memStore is an in-memory stand-in for the postgres repositories.
type memStore struct {
	mu            sync.Mutex
	notifications map[uint64]*domain.Notification
	jobs          map[uint64]*domain.Job
	logs          []domain.DeliveryLog
	nextID        uint64
	clock         time.Time

	enqueueFn           func(ctx context.Context, payload domain.JobPayload) (uint64, error)
	createLogFn         func(ctx context.Context, l *domain.DeliveryLog) error
	incrementAttemptsFn func(ctx context.Context, id uint64, workerID string) (int, error)
	sweepExpiredFn      func(ctx context.Context, maxAttempts int, limit int) ([]repository.SweptJob, error)
}

func newMemStore() *memStore {
	return &memStore{
		notifications: make(map[uint64]*domain.Notification),
		jobs:          make(map[uint64]*domain.Job),
		clock:         time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (s *memStore) tick() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

func (s *memStore) id() uint64 {
	s.nextID++
	return s.nextID
}

func (s *memStore) Create(ctx context.Context, n *domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n.ID = s.id()
	n.CreatedAt = s.tick()
	n.UpdatedAt = n.CreatedAt
	stored := *n
	stored.Payload = n.Payload.Clone()
	s.notifications[n.ID] = &stored
	return nil
}

func (s *memStore) GetByID(ctx context.Context, id uint64) (*domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok {
		return nil, fmt.Errorf("%w: notification %d", domain.ErrNotFound, id)
	}
	out := *n
	return &out, nil
}

func (s *memStore) UpdateStatus(ctx context.Context, id uint64, status domain.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok {
		return fmt.Errorf("%w: notification %d", domain.ErrNotFound, id)
	}
	if !domain.CanTransition(n.Status, status) {
		return fmt.Errorf("%w: notification %d cannot move from %s to %s", domain.ErrConflict, id, n.Status, status)
	}
	n.Status = status
	n.UpdatedAt = s.tick()
	return nil
}

func (s *memStore) notificationStatus(id uint64) domain.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notifications[id].Status
}

func (s *memStore) Enqueue(ctx context.Context, payload domain.JobPayload) (uint64, error) {
	if s.enqueueFn != nil {
		return s.enqueueFn(ctx, payload)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	job := &domain.Job{ID: s.id(), Payload: payload, Status: domain.JobStatusPending}
	job.CreatedAt = s.tick()
	job.UpdatedAt = job.CreatedAt
	s.jobs[job.ID] = job
	return job.ID, nil
}

func (s *memStore) ClaimNext(ctx context.Context, workerID string, lease time.Duration) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next *domain.Job
	for _, job := range s.jobs {
		if job.Status != domain.JobStatusPending {
			continue
		}
		if next == nil || job.CreatedAt.Before(next.CreatedAt) ||
			(job.CreatedAt.Equal(next.CreatedAt) && job.ID < next.ID) {
			next = job
		}
	}
	if next == nil {
		return nil, nil
	}

	expires := s.clock.Add(lease)
	owner := workerID
	next.Status = domain.JobStatusProcessing
	next.LockedBy = &owner
	next.LeaseExpiresAt = &expires
	out := *next
	return &out, nil
}

func (s *memStore) Get(ctx context.Context, id uint64) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: job %d", domain.ErrNotFound, id)
	}
	out := *job
	return &out, nil
}

// held returns the job when workerID still holds its lease.
func (s *memStore) held(id uint64, workerID string) (*domain.Job, error) {
	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: job %d", domain.ErrNotFound, id)
	}
	if job.Status != domain.JobStatusProcessing || job.LockedBy == nil || *job.LockedBy != workerID {
		return nil, fmt.Errorf("%w: job %d is not held by %s", domain.ErrConflict, id, workerID)
	}
	return job, nil
}

func (s *memStore) SetStatus(ctx context.Context, id uint64, workerID string, status domain.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.held(id, workerID)
	if err != nil {
		return err
	}
	job.Status = status
	if status != domain.JobStatusProcessing {
		job.LockedBy = nil
		job.LeaseExpiresAt = nil
	}
	return nil
}

func (s *memStore) IncrementAttempts(ctx context.Context, id uint64, workerID string) (int, error) {
	if s.incrementAttemptsFn != nil {
		return s.incrementAttemptsFn(ctx, id, workerID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.held(id, workerID)
	if err != nil {
		return 0, err
	}
	job.Attempts++
	return job.Attempts, nil
}

func (s *memStore) SweepExpired(ctx context.Context, maxAttempts int, limit int) ([]repository.SweptJob, error) {
	if s.sweepExpiredFn != nil {
		return s.sweepExpiredFn(ctx, maxAttempts, limit)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]repository.SweptJob, 0)
	for _, job := range s.jobs {
		if len(out) >= limit {
			break
		}
		if job.Status != domain.JobStatusProcessing || job.LeaseExpiresAt == nil || job.LeaseExpiresAt.After(s.clock) {
			continue
		}
		job.Attempts++
		job.Status = domain.NextStatusAfterFailure(job.Attempts, maxAttempts)
		job.LockedBy = nil
		job.LeaseExpiresAt = nil
		out = append(out, repository.SweptJob{
			JobID:     job.ID,
			RequestID: job.Payload.RequestID,
			Channel:   job.Payload.Channel,
			Attempts:  job.Attempts,
			Status:    job.Status,
		})
	}
	return out, nil
}

func (s *memStore) job(id uint64) domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

func (s *memStore) jobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// jobForRequest returns the single job of a request.
func (s *memStore) jobForRequest(requestID uint64) domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.Payload.RequestID == requestID {
			return *job
		}
	}
	return domain.Job{}
}

func (s *memStore) advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = s.clock.Add(d)
}

// memLogs shares the store but exposes the delivery log Create method, which
// collides with the notification one on memStore.
type memLogs struct {
	store *memStore
}

func (l memLogs) Create(ctx context.Context, entry *domain.DeliveryLog) error {
	s := l.store
	if s.createLogFn != nil {
		return s.createLogFn(ctx, entry)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.ID = s.id()
	entry.CreatedAt = s.tick()
	s.logs = append(s.logs, *entry)
	return nil
}

func (l memLogs) ListByRequestID(ctx context.Context, requestID uint64) ([]domain.DeliveryLog, error) {
	s := l.store
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.DeliveryLog, 0)
	for _, entry := range s.logs {
		if entry.RequestID == requestID {
			out = append(out, entry)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *memStore) logsFor(requestID uint64) []domain.DeliveryLog {
	out, _ := memLogs{store: s}.ListByRequestID(context.Background(), requestID)
	return out
}

type fakeCatalog struct {
	channels []string
}

func (c fakeCatalog) HasChannel(name string) bool {
	for _, ch := range c.channels {
		if ch == name {
			return true
		}
	}
	return false
}

func (c fakeCatalog) ListChannels() []string {
	return append([]string(nil), c.channels...)
}

type fakePublisher struct {
	mu        sync.Mutex
	published []queue.JobSignal
	publishFn func(ctx context.Context, queueName string, msg queue.JobSignal) error
}

func (p *fakePublisher) Publish(ctx context.Context, queueName string, msg queue.JobSignal) error {
	if p.publishFn != nil {
		return p.publishFn(ctx, queueName, msg)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, msg)
	return nil
}

func (p *fakePublisher) Close() error {
	return nil
}

type fakeDriver struct {
	kind   driver.Kind
	mu     sync.Mutex
	calls  int
	sendFn func(ctx context.Context, payload domain.Payload) driver.Result
}

func (d *fakeDriver) Kind() driver.Kind {
	return d.kind
}

func (d *fakeDriver) Send(ctx context.Context, payload domain.Payload) driver.Result {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	if d.sendFn != nil {
		return d.sendFn(ctx, payload)
	}
	return driver.Result{Success: true, Message: "ok"}
}

func (d *fakeDriver) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type fakeResolver struct {
	resolveFn func(channel string) (driver.Driver, error)
}

func (r fakeResolver) Resolve(channel string) (driver.Driver, error) {
	return r.resolveFn(channel)
}

type fakeRateLimiter struct {
	waitFn func(ctx context.Context, channel string) error
}

func (l fakeRateLimiter) Allow(ctx context.Context, channel string) (bool, error) {
	return true, nil
}

func (l fakeRateLimiter) Wait(ctx context.Context, channel string) error {
	if l.waitFn != nil {
		return l.waitFn(ctx, channel)
	}
	return nil
}
