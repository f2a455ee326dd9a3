package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/providentiaww/dam-sync/internal/models"
	"github.com/providentiaww/dam-sync/internal/storage"
)

// SQLQueue stores jobs in the dam_queue table. A claim sets a lease token and
// pushes visible_at to the lease expiry, so an abandoned job reappears on its own.
type SQLQueue struct {
	name       string
	db         *storage.DB
	suspension SuspensionStore
	now        func() time.Time
}

// NewSQLQueue creates the schema if needed. suspension defaults to a SQLSuspensionStore on db.
func NewSQLQueue(ctx context.Context, db *storage.DB, name string, suspension SuspensionStore) (*SQLQueue, error) {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS dam_queue (
			id VARCHAR(64) PRIMARY KEY,
			queue VARCHAR(255) NOT NULL,
			record_id VARCHAR(255) NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			lease_token VARCHAR(64) NOT NULL DEFAULT '',
			visible_at BIGINT NOT NULL,
			enqueued_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_dam_queue_visible ON dam_queue(queue, visible_at)`,
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to initialize queue schema: %w", err)
		}
	}

	if suspension == nil {
		store, err := NewSQLSuspensionStore(ctx, db)
		if err != nil {
			return nil, err
		}
		suspension = store
	}
	return &SQLQueue{name: name, db: db, suspension: suspension, now: time.Now}, nil
}

// WithClock overrides the time source.
func (q *SQLQueue) WithClock(now func() time.Time) *SQLQueue {
	q.now = now
	return q
}

func (q *SQLQueue) Enqueue(ctx context.Context, job models.ReconciliationJob) error {
	now := q.now().UTC()
	fillJob(&job, now)
	query := q.db.Rebind(`
		INSERT INTO dam_queue (id, queue, record_id, attempts, lease_token, visible_at, enqueued_at)
		VALUES (?, ?, ?, ?, '', ?, ?)
	`)
	_, err := q.db.ExecContext(ctx, query, job.ID, q.name, job.RecordID, job.Attempts, now.UnixMilli(), job.EnqueuedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to enqueue job for record %s: %w", job.RecordID, err)
	}
	return nil
}

func (q *SQLQueue) Claim(ctx context.Context, lease time.Duration) (*models.ReconciliationJob, error) {
	if err := suspendedErr(ctx, q.suspension, q.name); err != nil {
		return nil, err
	}

	now := q.now()
	token := uuid.NewString()

	lock := ""
	if q.db.Driver == "postgres" {
		lock = " FOR UPDATE SKIP LOCKED"
	}
	query := q.db.Rebind(`
		UPDATE dam_queue
		SET lease_token = ?, visible_at = ?
		WHERE id = (
			SELECT id FROM dam_queue
			WHERE queue = ? AND visible_at <= ?
			ORDER BY visible_at, enqueued_at, id
			LIMIT 1` + lock + `
		) AND visible_at <= ?
		RETURNING id, record_id, attempts, enqueued_at
	`)

	var job models.ReconciliationJob
	var enqueuedAt int64
	err := q.db.QueryRowContext(ctx, query, token, now.Add(lease).UnixMilli(), q.name, now.UnixMilli(), now.UnixMilli()).
		Scan(&job.ID, &job.RecordID, &job.Attempts, &enqueuedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	job.LeaseToken = token
	job.EnqueuedAt = time.UnixMilli(enqueuedAt).UTC()
	return &job, nil
}

func (q *SQLQueue) Ack(ctx context.Context, job *models.ReconciliationJob) error {
	res, err := q.db.ExecContext(ctx, q.db.Rebind(`DELETE FROM dam_queue WHERE id = ? AND lease_token = ?`), job.ID, job.LeaseToken)
	if err != nil {
		return fmt.Errorf("failed to ack job %s: %w", job.ID, err)
	}
	return leaseHeld(res)
}

func (q *SQLQueue) Requeue(ctx context.Context, job *models.ReconciliationJob) error {
	return q.RequeueDelayed(ctx, job, 0)
}

func (q *SQLQueue) RequeueDelayed(ctx context.Context, job *models.ReconciliationJob, delay time.Duration) error {
	query := q.db.Rebind(`
		UPDATE dam_queue
		SET lease_token = '', attempts = attempts + 1, visible_at = ?
		WHERE id = ? AND lease_token = ?
	`)
	res, err := q.db.ExecContext(ctx, query, q.now().Add(delay).UnixMilli(), job.ID, job.LeaseToken)
	if err != nil {
		return fmt.Errorf("failed to requeue job %s: %w", job.ID, err)
	}
	return leaseHeld(res)
}

func leaseHeld(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (q *SQLQueue) Suspend(ctx context.Context, reason string, statusCode int) error {
	return q.suspension.Set(ctx, q.name, Suspension{Suspended: true, Reason: reason, StatusCode: statusCode, At: q.now().UTC()})
}

func (q *SQLQueue) Resume(ctx context.Context) error {
	return q.suspension.Clear(ctx, q.name)
}

func (q *SQLQueue) Status(ctx context.Context) (Status, error) {
	st, err := baseStatus(ctx, q.suspension, q.name)
	if err != nil {
		return st, err
	}

	query := q.db.Rebind(`
		SELECT
			COALESCE(SUM(CASE WHEN visible_at <= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN visible_at > ? AND lease_token <> '' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN visible_at > ? AND lease_token = '' THEN 1 ELSE 0 END), 0)
		FROM dam_queue WHERE queue = ?
	`)
	now := q.now().UnixMilli()
	if err := q.db.QueryRowContext(ctx, query, now, now, now, q.name).Scan(&st.Pending, &st.InFlight, &st.Delayed); err != nil {
		return st, fmt.Errorf("failed to read queue status: %w", err)
	}
	return st, nil
}

// Close is a no-op; the connection is owned by the caller.
func (q *SQLQueue) Close() error { return nil }
