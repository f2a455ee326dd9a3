package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/providentiaww/dam-sync/cmd/dam-sync/auth"
	"github.com/providentiaww/dam-sync/internal/dam"
	"github.com/providentiaww/dam-sync/internal/models"
	"github.com/providentiaww/dam-sync/internal/oauth"
	"github.com/providentiaww/dam-sync/internal/queue"
	"github.com/providentiaww/dam-sync/internal/scheduler"
	"github.com/providentiaww/dam-sync/internal/worker"
)

type fakeAuthorizer struct {
	validState  string
	exchangeErr error
	codes       []string
}

func (f *fakeAuthorizer) AuthorizationURL(redirectURI string) (string, error) {
	return "https://dam.example.com/oauth2/authorize?redirect_uri=" + redirectURI + "&state=" + f.validState, nil
}

func (f *fakeAuthorizer) ValidateState(state string) bool {
	return state != "" && state == f.validState
}

func (f *fakeAuthorizer) ExchangeAuthorizationCode(ctx context.Context, code string) (oauth.AccessToken, error) {
	f.codes = append(f.codes, code)
	if f.exchangeErr != nil {
		return oauth.AccessToken{}, f.exchangeErr
	}
	return oauth.AccessToken{AccessToken: "at", RefreshToken: "rt", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

type fakeTokens bool

func (f fakeTokens) Authenticated(ctx context.Context) bool { return bool(f) }

type fakeProber struct{ err error }

func (f fakeProber) Probe(ctx context.Context) (dam.APIVersion, error) {
	if f.err != nil {
		return dam.APIVersion{}, f.err
	}
	return dam.V2, nil
}

type fakeCursor struct{ t time.Time }

func (f fakeCursor) LastSync(ctx context.Context) (time.Time, error) { return f.t, nil }

type fakePinger struct{ err error }

func (f fakePinger) Ping(ctx context.Context) error { return f.err }

type fakeRunner struct {
	syncErr error
	queued  int
}

func (f *fakeRunner) Sync(ctx context.Context) (int, error) { return f.queued, f.syncErr }

func (f *fakeRunner) Drain(ctx context.Context) (worker.DrainReport, error) {
	return worker.DrainReport{Processed: 3, Completed: 2, Requeued: 1}, nil
}

type env struct {
	deps   Deps
	q      *queue.MemoryQueue
	authz  *fakeAuthorizer
	runner *fakeRunner
}

func newEnv() *env {
	e := &env{
		q:      queue.NewMemoryQueue("dam_asset_refresh", nil),
		authz:  &fakeAuthorizer{validState: "good-state"},
		runner: &fakeRunner{queued: 4},
	}
	e.deps = Deps{
		Authorizer:  e.authz,
		Tokens:      fakeTokens(true),
		Prober:      fakeProber{},
		Queue:       e.q,
		Cursor:      fakeCursor{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
		Store:       fakePinger{},
		Runner:      e.runner,
		RedirectURI: "http://localhost:8080/oauth/callback",
	}
	return e
}

func (e *env) do(t *testing.T, method, path, token string) (*httptest.ResponseRecorder, models.Response) {
	t.Helper()
	router := NewRouter(New(e.deps), auth.NewAdminMiddleware("admin-token").Handler)
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var body models.Response
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func dataMap(t *testing.T, body models.Response) map[string]any {
	t.Helper()
	m, ok := body.Data.(map[string]any)
	require.True(t, ok, "data is %T", body.Data)
	return m
}

func TestHealth(t *testing.T) {
	e := newEnv()
	rec, body := e.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, body.Success)
	require.NotEmpty(t, body.RequestID)

	e.deps.Store = fakePinger{err: errors.New("db down")}
	rec, body = e.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.False(t, body.Success)
}

func TestStatusShowsSuspension(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	require.NoError(t, e.q.Suspend(ctx, "Unable to process queue due to authorization errors", http.StatusUnauthorized))
	require.NoError(t, e.q.Enqueue(ctx, queue.NewJob("r1")))

	rec, body := e.do(t, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	data := dataMap(t, body)
	require.Equal(t, true, data["authenticated"])
	require.Equal(t, "v2", data["api_version"])
	require.Equal(t, "2024-05-01T12:00:00Z", data["last_sync"])

	q := data["queue"].(map[string]any)
	require.Equal(t, true, q["suspended"])
	require.Equal(t, "Unable to process queue due to authorization errors", q["reason"])
	require.EqualValues(t, 1, q["pending"])
}

func TestStatusSkipsProbeWhenUnauthenticated(t *testing.T) {
	e := newEnv()
	e.deps.Tokens = fakeTokens(false)
	e.deps.Prober = fakeProber{err: errors.New("should not be called")}

	_, body := e.do(t, http.MethodGet, "/status", "")
	data := dataMap(t, body)
	require.Equal(t, false, data["authenticated"])
	require.NotContains(t, data, "probe_error")
}

func TestAuthorizeRedirects(t *testing.T) {
	e := newEnv()
	rec, _ := e.do(t, http.MethodGet, "/oauth/authorize", "")
	require.Equal(t, http.StatusFound, rec.Code)
	require.Contains(t, rec.Header().Get("Location"), "state=good-state")
}

func TestCallback(t *testing.T) {
	e := newEnv()

	rec, body := e.do(t, http.MethodGet, "/oauth/callback?code=abc&state=forged", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, models.ErrCodeInvalidRequest, body.Error.Code)
	require.Empty(t, e.authz.codes)

	rec, body = e.do(t, http.MethodGet, "/oauth/callback?code=abc&state=good-state", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, body.Success)
	require.Equal(t, []string{"abc"}, e.authz.codes)
}

func TestCallbackInvalidCredentials(t *testing.T) {
	e := newEnv()
	e.authz.exchangeErr = oauth.ErrInvalidCredentials

	rec, body := e.do(t, http.MethodGet, "/oauth/callback?code=abc&state=good-state", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, models.ErrCodeAuthFailed, body.Error.Code)
	require.Equal(t, "not authenticated, please re-authenticate", body.Error.Message)
}

func TestAdminRoutesRequireToken(t *testing.T) {
	e := newEnv()
	for _, path := range []string{"/admin/queue/resume", "/admin/sync", "/admin/drain"} {
		rec, _ := e.do(t, http.MethodPost, path, "")
		require.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestAdminResume(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	require.NoError(t, e.q.Suspend(ctx, "network down", 0))

	rec, body := e.do(t, http.MethodPost, "/admin/queue/resume", "admin-token")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, false, dataMap(t, body)["suspended"])

	st, err := e.q.Status(ctx)
	require.NoError(t, err)
	require.False(t, st.Suspended)
}

func TestAdminSyncAndDrain(t *testing.T) {
	e := newEnv()

	rec, body := e.do(t, http.MethodPost, "/admin/sync", "admin-token")
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 4, dataMap(t, body)["queued"])

	rec, body = e.do(t, http.MethodPost, "/admin/drain", "admin-token")
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 3, dataMap(t, body)["processed"])

	e.runner.syncErr = scheduler.ErrBusy
	rec, _ = e.do(t, http.MethodPost, "/admin/sync", "admin-token")
	require.Equal(t, http.StatusConflict, rec.Code)
}
