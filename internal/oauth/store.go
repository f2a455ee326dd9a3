package oauth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/providentiaww/dam-sync/internal/storage"
)

// TokenStore persists the single AccessToken used to talk to the DAM.
type TokenStore interface {
	Load(ctx context.Context) (AccessToken, error)
	Save(ctx context.Context, token AccessToken) error
	Clear(ctx context.Context) error
}

// MemoryTokenStore keeps the token in process memory.
type MemoryTokenStore struct {
	mu    sync.RWMutex
	token *AccessToken
}

// NewMemoryTokenStore returns an empty store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{}
}

func (s *MemoryTokenStore) Load(ctx context.Context) (AccessToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil {
		return AccessToken{}, ErrNoToken
	}
	return *s.token, nil
}

func (s *MemoryTokenStore) Save(ctx context.Context, token AccessToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := token
	s.token = &t
	return nil
}

func (s *MemoryTokenStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = nil
	return nil
}

// SQLTokenStore keeps the token in a single-row table, sealed when a Sealer is configured.
type SQLTokenStore struct {
	db     *storage.DB
	sealer *Sealer
}

// NewSQLTokenStore initializes the schema and returns the store.
func NewSQLTokenStore(ctx context.Context, db *storage.DB, sealer *Sealer) (*SQLTokenStore, error) {
	store := &SQLTokenStore{db: db, sealer: sealer}
	if err := store.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize token schema: %w", err)
	}
	return store, nil
}

func (s *SQLTokenStore) initSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS dam_oauth_token (
		id INTEGER PRIMARY KEY,
		access_token TEXT NOT NULL,
		refresh_token TEXT NOT NULL,
		expires_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

func (s *SQLTokenStore) Load(ctx context.Context) (AccessToken, error) {
	var access, refresh string
	var expiresAt int64

	err := s.db.QueryRowContext(ctx, `SELECT access_token, refresh_token, expires_at FROM dam_oauth_token WHERE id = 1`).
		Scan(&access, &refresh, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return AccessToken{}, ErrNoToken
	}
	if err != nil {
		return AccessToken{}, fmt.Errorf("failed to load token: %w", err)
	}

	if access, err = s.open(access); err != nil {
		return AccessToken{}, err
	}
	if refresh, err = s.open(refresh); err != nil {
		return AccessToken{}, err
	}

	token := AccessToken{AccessToken: access, RefreshToken: refresh}
	if expiresAt > 0 {
		token.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	}
	return token, nil
}

// Save overwrites the whole row in one statement.
func (s *SQLTokenStore) Save(ctx context.Context, token AccessToken) error {
	access, err := s.seal(token.AccessToken)
	if err != nil {
		return err
	}
	refresh, err := s.seal(token.RefreshToken)
	if err != nil {
		return err
	}

	var expiresAt int64
	if !token.ExpiresAt.IsZero() {
		expiresAt = token.ExpiresAt.Unix()
	}

	query := s.db.Rebind(`
		INSERT INTO dam_oauth_token (id, access_token, refresh_token, expires_at, updated_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT (id)
		DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`)
	if _, err := s.db.ExecContext(ctx, query, access, refresh, expiresAt, time.Now().Unix()); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

func (s *SQLTokenStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dam_oauth_token WHERE id = 1`)
	return err
}

func (s *SQLTokenStore) seal(value string) (string, error) {
	if s.sealer == nil || value == "" {
		return value, nil
	}
	return s.sealer.Seal(value)
}

func (s *SQLTokenStore) open(value string) (string, error) {
	if s.sealer == nil || value == "" {
		return value, nil
	}
	return s.sealer.Open(value)
}
