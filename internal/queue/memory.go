package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/providentiaww/dam-sync/internal/models"
)

type memoryEntry struct {
	job        models.ReconciliationJob
	visibleAt  time.Time
	leaseToken string
}

// MemoryQueue is an in-process Queue with the same lease semantics as SQLQueue.
type MemoryQueue struct {
	name       string
	mu         sync.Mutex
	entries    []*memoryEntry
	suspension SuspensionStore
	now        func() time.Time
}

// NewMemoryQueue creates an empty queue. suspension may be nil.
func NewMemoryQueue(name string, suspension SuspensionStore) *MemoryQueue {
	if suspension == nil {
		suspension = NewMemorySuspensionStore()
	}
	return &MemoryQueue{name: name, suspension: suspension, now: time.Now}
}

// WithClock overrides the time source.
func (q *MemoryQueue) WithClock(now func() time.Time) *MemoryQueue {
	q.now = now
	return q
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job models.ReconciliationJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	fillJob(&job, now.UTC())
	q.entries = append(q.entries, &memoryEntry{job: job, visibleAt: now})
	return nil
}

func (q *MemoryQueue) Claim(ctx context.Context, lease time.Duration) (*models.ReconciliationJob, error) {
	if err := suspendedErr(ctx, q.suspension, q.name); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	for _, e := range q.entries {
		if e.visibleAt.After(now) {
			continue
		}
		e.leaseToken = uuid.NewString()
		e.visibleAt = now.Add(lease)
		job := e.job
		job.LeaseToken = e.leaseToken
		return &job, nil
	}
	return nil, ErrEmpty
}

func (q *MemoryQueue) Ack(ctx context.Context, job *models.ReconciliationJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	i, err := q.find(job)
	if err != nil {
		return err
	}
	q.entries = append(q.entries[:i], q.entries[i+1:]...)
	return nil
}

func (q *MemoryQueue) Requeue(ctx context.Context, job *models.ReconciliationJob) error {
	return q.RequeueDelayed(ctx, job, 0)
}

func (q *MemoryQueue) RequeueDelayed(ctx context.Context, job *models.ReconciliationJob, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	i, err := q.find(job)
	if err != nil {
		return err
	}
	e := q.entries[i]
	e.leaseToken = ""
	e.job.Attempts++
	e.visibleAt = q.now().Add(delay)

	// Requeued jobs go to the back of the line.
	q.entries = append(append(q.entries[:i], q.entries[i+1:]...), e)
	return nil
}

func (q *MemoryQueue) find(job *models.ReconciliationJob) (int, error) {
	for i, e := range q.entries {
		if e.job.ID == job.ID {
			if e.leaseToken != job.LeaseToken || job.LeaseToken == "" {
				return -1, ErrLeaseLost
			}
			return i, nil
		}
	}
	return -1, ErrLeaseLost
}

func (q *MemoryQueue) Suspend(ctx context.Context, reason string, statusCode int) error {
	return q.suspension.Set(ctx, q.name, Suspension{Suspended: true, Reason: reason, StatusCode: statusCode, At: q.now().UTC()})
}

func (q *MemoryQueue) Resume(ctx context.Context) error {
	return q.suspension.Clear(ctx, q.name)
}

func (q *MemoryQueue) Status(ctx context.Context) (Status, error) {
	st, err := baseStatus(ctx, q.suspension, q.name)
	if err != nil {
		return st, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	for _, e := range q.entries {
		switch {
		case !e.visibleAt.After(now):
			st.Pending++
		case e.leaseToken != "":
			st.InFlight++
		default:
			st.Delayed++
		}
	}
	return st, nil
}

func (q *MemoryQueue) Close() error { return nil }

func suspendedErr(ctx context.Context, store SuspensionStore, name string) error {
	s, err := store.Get(ctx, name)
	if err != nil {
		return err
	}
	if s.Suspended {
		return ErrSuspended
	}
	return nil
}

func baseStatus(ctx context.Context, store SuspensionStore, name string) (Status, error) {
	s, err := store.Get(ctx, name)
	if err != nil {
		return Status{Name: name}, err
	}
	return Status{
		Name:        name,
		Suspended:   s.Suspended,
		Reason:      s.Reason,
		StatusCode:  s.StatusCode,
		SuspendedAt: s.At,
	}, nil
}
