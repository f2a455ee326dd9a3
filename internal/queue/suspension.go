package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/providentiaww/dam-sync/internal/storage"
)

// Suspension records why a queue stopped issuing claims.
type Suspension struct {
	Suspended  bool
	Reason     string
	StatusCode int
	At         time.Time
}

// SuspensionStore persists the suspended flag so that every process sees it.
type SuspensionStore interface {
	Get(ctx context.Context, queue string) (Suspension, error)
	Set(ctx context.Context, queue string, s Suspension) error
	Clear(ctx context.Context, queue string) error
}

// MemorySuspensionStore keeps suspension state in process.
type MemorySuspensionStore struct {
	mu     sync.RWMutex
	states map[string]Suspension
}

func NewMemorySuspensionStore() *MemorySuspensionStore {
	return &MemorySuspensionStore{states: make(map[string]Suspension)}
}

func (m *MemorySuspensionStore) Get(ctx context.Context, queue string) (Suspension, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.states[queue], nil
}

func (m *MemorySuspensionStore) Set(ctx context.Context, queue string, s Suspension) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[queue] = s
	return nil
}

func (m *MemorySuspensionStore) Clear(ctx context.Context, queue string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, queue)
	return nil
}

// SQLSuspensionStore keeps suspension state in the dam_queue_state table.
type SQLSuspensionStore struct {
	db *storage.DB
}

func NewSQLSuspensionStore(ctx context.Context, db *storage.DB) (*SQLSuspensionStore, error) {
	query := `
	CREATE TABLE IF NOT EXISTS dam_queue_state (
		name VARCHAR(255) PRIMARY KEY,
		reason TEXT NOT NULL,
		status_code INTEGER NOT NULL DEFAULT 0,
		suspended_at BIGINT NOT NULL
	)`
	if _, err := db.ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("failed to initialize queue state schema: %w", err)
	}
	return &SQLSuspensionStore{db: db}, nil
}

func (s *SQLSuspensionStore) Get(ctx context.Context, queue string) (Suspension, error) {
	var out Suspension
	var at int64
	query := s.db.Rebind(`SELECT reason, status_code, suspended_at FROM dam_queue_state WHERE name = ?`)
	err := s.db.QueryRowContext(ctx, query, queue).Scan(&out.Reason, &out.StatusCode, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return Suspension{}, nil
	}
	if err != nil {
		return Suspension{}, fmt.Errorf("failed to read queue state: %w", err)
	}
	out.Suspended = true
	out.At = time.UnixMilli(at).UTC()
	return out, nil
}

func (s *SQLSuspensionStore) Set(ctx context.Context, queue string, st Suspension) error {
	query := s.db.Rebind(`
		INSERT INTO dam_queue_state (name, reason, status_code, suspended_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (name)
		DO UPDATE SET
			reason = excluded.reason,
			status_code = excluded.status_code,
			suspended_at = excluded.suspended_at
	`)
	if _, err := s.db.ExecContext(ctx, query, queue, st.Reason, st.StatusCode, st.At.UnixMilli()); err != nil {
		return fmt.Errorf("failed to store queue state: %w", err)
	}
	return nil
}

func (s *SQLSuspensionStore) Clear(ctx context.Context, queue string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM dam_queue_state WHERE name = ?`), queue)
	return err
}

// RedisSuspensionStore keeps suspension state in a Redis hash per queue.
type RedisSuspensionStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

func NewRedisSuspensionStore(client redis.UniversalClient, keyPrefix string) *RedisSuspensionStore {
	if keyPrefix == "" {
		keyPrefix = "damsync:queue"
	}
	return &RedisSuspensionStore{client: client, keyPrefix: keyPrefix}
}

func (r *RedisSuspensionStore) key(queue string) string {
	return r.keyPrefix + ":" + queue + ":suspended"
}

func (r *RedisSuspensionStore) Get(ctx context.Context, queue string) (Suspension, error) {
	fields, err := r.client.HGetAll(ctx, r.key(queue)).Result()
	if err != nil {
		return Suspension{}, fmt.Errorf("failed to read queue state: %w", err)
	}
	if len(fields) == 0 {
		return Suspension{}, nil
	}
	code, _ := strconv.Atoi(fields["status_code"])
	at, _ := strconv.ParseInt(fields["suspended_at"], 10, 64)
	return Suspension{
		Suspended:  true,
		Reason:     fields["reason"],
		StatusCode: code,
		At:         time.UnixMilli(at).UTC(),
	}, nil
}

func (r *RedisSuspensionStore) Set(ctx context.Context, queue string, s Suspension) error {
	err := r.client.HSet(ctx, r.key(queue),
		"reason", s.Reason,
		"status_code", strconv.Itoa(s.StatusCode),
		"suspended_at", strconv.FormatInt(s.At.UnixMilli(), 10),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to store queue state: %w", err)
	}
	return nil
}

func (r *RedisSuspensionStore) Clear(ctx context.Context, queue string) error {
	return r.client.Del(ctx, r.key(queue)).Err()
}
