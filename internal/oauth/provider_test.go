package oauth

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConcurrentExpiredTokenRefreshesOnce(t *testing.T) {
	var calls int32
	srv := tokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(50 * time.Millisecond)
		writeToken(w, `{"access_token":"fresh","refresh_token":"R2","expires_in":3600,"token_type":"bearer"}`)
	})

	store := NewMemoryTokenStore()
	require.NoError(t, store.Save(context.Background(), AccessToken{
		AccessToken:  "stale",
		RefreshToken: "R1",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}))

	client := newTestClient(t, srv.URL, store)
	provider := NewProvider(store, client, nil)

	const callers = 10
	var wg sync.WaitGroup
	results := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = provider.Token(context.Background())
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, "fresh", results[i])
	}
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

type countingRefresher struct {
	calls int
	next  AccessToken
	store TokenStore
}

func (r *countingRefresher) Refresh(ctx context.Context, refreshToken string) (AccessToken, error) {
	r.calls++
	return r.next, r.store.Save(ctx, r.next)
}

func TestRefreshSkipsWhenStaleAlreadyReplaced(t *testing.T) {
	store := NewMemoryTokenStore()
	require.NoError(t, store.Save(context.Background(), AccessToken{
		AccessToken:  "newer",
		RefreshToken: "R2",
		ExpiresAt:    time.Now().Add(time.Hour),
	}))

	refresher := &countingRefresher{store: store}
	provider := NewProvider(store, refresher, nil)

	tok, err := provider.Refresh(context.Background(), "older")
	require.NoError(t, err)
	require.Equal(t, "newer", tok)
	require.Zero(t, refresher.calls)
}

func TestForcedRefreshOfCurrentToken(t *testing.T) {
	store := NewMemoryTokenStore()
	require.NoError(t, store.Save(context.Background(), AccessToken{
		AccessToken:  "current",
		RefreshToken: "R1",
		ExpiresAt:    time.Now().Add(time.Hour),
	}))

	refresher := &countingRefresher{store: store, next: AccessToken{AccessToken: "next", RefreshToken: "R2"}}
	provider := NewProvider(store, refresher, nil)

	tok, err := provider.Refresh(context.Background(), "current")
	require.NoError(t, err)
	require.Equal(t, "next", tok)
	require.Equal(t, 1, refresher.calls)
}

func TestTokenWithoutStoredTokenIsNotAuthenticated(t *testing.T) {
	provider := NewProvider(NewMemoryTokenStore(), &countingRefresher{}, nil)

	_, err := provider.Token(context.Background())
	require.ErrorIs(t, err, ErrNotAuthenticated)
	require.Equal(t, "not authenticated, please re-authenticate", err.Error())
	require.False(t, provider.Authenticated(context.Background()))
}

type fakeLocker struct {
	acquired int
	released int
}

func (l *fakeLocker) Acquire(ctx context.Context, key string, ttl, wait time.Duration) (func(), error) {
	l.acquired++
	return func() { l.released++ }, nil
}

func TestRefreshHoldsDistributedLock(t *testing.T) {
	store := NewMemoryTokenStore()
	require.NoError(t, store.Save(context.Background(), AccessToken{
		AccessToken:  "stale",
		RefreshToken: "R1",
		ExpiresAt:    time.Now().Add(-time.Hour),
	}))

	locker := &fakeLocker{}
	refresher := &countingRefresher{store: store, next: AccessToken{AccessToken: "next", RefreshToken: "R2"}}
	provider := NewProvider(store, refresher, nil, WithLocker(locker))

	tok, err := provider.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "next", tok)
	require.Equal(t, 1, locker.acquired)
	require.Equal(t, 1, locker.released)
}
