package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/providentiaww/dam-sync/internal/models"
)

var (
	// ErrEmpty is returned by Claim when no job is visible.
	ErrEmpty = errors.New("queue is empty")
	// ErrSuspended is returned by Claim while the queue is suspended.
	ErrSuspended = errors.New("queue is suspended")
	// ErrLeaseLost is returned when a job's lease expired and was taken by another claim.
	ErrLeaseLost = errors.New("job lease lost")
)

// Status is the externally observable state of a queue.
type Status struct {
	Name        string    `json:"name"`
	Suspended   bool      `json:"suspended"`
	Reason      string    `json:"reason,omitempty"`
	StatusCode  int       `json:"status_code,omitempty"`
	SuspendedAt time.Time `json:"suspended_at,omitempty"`
	Pending     int       `json:"pending"`
	InFlight    int       `json:"in_flight"`
	Delayed     int       `json:"delayed"`
}

// Queue is a durable work queue with at-most-once claims.
type Queue interface {
	Enqueue(ctx context.Context, job models.ReconciliationJob) error
	// Claim leases the next visible job for lease. A job that is not acked or
	// requeued before the lease expires becomes claimable again.
	Claim(ctx context.Context, lease time.Duration) (*models.ReconciliationJob, error)
	Ack(ctx context.Context, job *models.ReconciliationJob) error
	Requeue(ctx context.Context, job *models.ReconciliationJob) error
	RequeueDelayed(ctx context.Context, job *models.ReconciliationJob, delay time.Duration) error
	// Suspend stops all further claims until Resume is called.
	Suspend(ctx context.Context, reason string, statusCode int) error
	Resume(ctx context.Context) error
	Status(ctx context.Context) (Status, error)
	Close() error
}

// NewJob builds a job for recordID.
func NewJob(recordID string) models.ReconciliationJob {
	return models.ReconciliationJob{
		ID:         uuid.NewString(),
		RecordID:   recordID,
		EnqueuedAt: time.Now().UTC(),
	}
}

func fillJob(job *models.ReconciliationJob, now time.Time) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = now
	}
	job.LeaseToken = ""
}
