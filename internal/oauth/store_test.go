package oauth

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/providentiaww/dam-sync/internal/storage"
)

func TestSealerRoundTrip(t *testing.T) {
	s, err := NewSealer("encryption-key")
	require.NoError(t, err)

	sealed, err := s.Seal("secret-value")
	require.NoError(t, err)
	require.NotEqual(t, "secret-value", sealed)

	opened, err := s.Open(sealed)
	require.NoError(t, err)
	require.Equal(t, "secret-value", opened)

	other, err := NewSealer("another-key")
	require.NoError(t, err)
	_, err = other.Open(sealed)
	require.Error(t, err)
}

func TestSQLTokenStoreOverwritesWholeToken(t *testing.T) {
	ctx := context.Background()
	db, err := storage.Open(ctx, "sqlite", filepath.Join(t.TempDir(), "tokens.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	sealer, err := NewSealer("encryption-key")
	require.NoError(t, err)
	store, err := NewSQLTokenStore(ctx, db, sealer)
	require.NoError(t, err)

	_, err = store.Load(ctx)
	require.ErrorIs(t, err, ErrNoToken)

	expires := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(ctx, AccessToken{AccessToken: "A1", RefreshToken: "R1", ExpiresAt: expires}))
	require.NoError(t, store.Save(ctx, AccessToken{AccessToken: "A2", RefreshToken: "R2", ExpiresAt: expires.Add(time.Hour)}))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, "A2", got.AccessToken)
	require.Equal(t, "R2", got.RefreshToken)
	require.True(t, expires.Add(time.Hour).Equal(got.ExpiresAt))

	var raw string
	require.NoError(t, db.QueryRowContext(ctx, `SELECT access_token FROM dam_oauth_token WHERE id = 1`).Scan(&raw))
	require.NotEqual(t, "A2", raw)

	require.NoError(t, store.Clear(ctx))
	_, err = store.Load(ctx)
	require.ErrorIs(t, err, ErrNoToken)
}

func TestAccessTokenExpiredWithSkew(t *testing.T) {
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	tok := AccessToken{ExpiresAt: now.Add(20 * time.Second)}
	require.False(t, tok.Expired(now, 0))
	require.True(t, tok.Expired(now, 30*time.Second))
	require.False(t, AccessToken{}.Expired(now, time.Hour))
}
