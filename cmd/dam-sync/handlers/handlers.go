package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/providentiaww/dam-sync/internal/dam"
	"github.com/providentiaww/dam-sync/internal/logging"
	"github.com/providentiaww/dam-sync/internal/models"
	"github.com/providentiaww/dam-sync/internal/oauth"
	"github.com/providentiaww/dam-sync/internal/queue"
	"github.com/providentiaww/dam-sync/internal/scheduler"
	"github.com/providentiaww/dam-sync/internal/worker"
)

// Authorizer runs the OAuth authorization-code flow.
type Authorizer interface {
	AuthorizationURL(redirectURI string) (string, error)
	ValidateState(state string) bool
	ExchangeAuthorizationCode(ctx context.Context, code string) (oauth.AccessToken, error)
}

// TokenStatus reports whether a usable DAM token is stored.
type TokenStatus interface {
	Authenticated(ctx context.Context) bool
}

// Prober detects the DAM API version the credentials work against.
type Prober interface {
	Probe(ctx context.Context) (dam.APIVersion, error)
}

// QueueControl exposes queue status and resumption.
type QueueControl interface {
	Status(ctx context.Context) (queue.Status, error)
	Resume(ctx context.Context) error
}

// Cursor reads the sync watermark.
type Cursor interface {
	LastSync(ctx context.Context) (time.Time, error)
}

// Pinger checks the record store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Runner triggers collect and drain passes.
type Runner interface {
	Sync(ctx context.Context) (int, error)
	Drain(ctx context.Context) (worker.DrainReport, error)
}

// Deps are the collaborators of the HTTP surface.
type Deps struct {
	Authorizer  Authorizer
	Tokens      TokenStatus
	Prober      Prober
	Queue       QueueControl
	Cursor      Cursor
	Store       Pinger
	Runner      Runner
	RedirectURI string
	Logger      logging.Logger
}

// Handler serves the status, OAuth and admin endpoints.
type Handler struct {
	deps Deps
	log  logging.Logger
}

func New(deps Deps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &Handler{deps: deps, log: logger.With("HTTP")}
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Health handles GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.deps.Store.Ping(ctx); err != nil {
		h.log.Errorf("Health check failed: %v", err)
		writeError(w, r, http.StatusServiceUnavailable, models.ErrCodeInternal, "record store unavailable")
		return
	}
	writeJSON(w, r, http.StatusOK, HealthResponse{Status: "healthy", Timestamp: time.Now().UTC()})
}

// StatusResponse summarizes sync state for operators.
type StatusResponse struct {
	Queue         queue.Status `json:"queue"`
	LastSync      *time.Time   `json:"last_sync,omitempty"`
	Authenticated bool         `json:"authenticated"`
	APIVersion    string       `json:"api_version,omitempty"`
	ProbeError    string       `json:"probe_error,omitempty"`
}

// Status handles GET /status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	st, err := h.deps.Queue.Status(ctx)
	if err != nil {
		h.log.Errorf("Failed to read queue status: %v", err)
		writeError(w, r, http.StatusInternalServerError, models.ErrCodeInternal, "failed to read queue status")
		return
	}

	resp := StatusResponse{Queue: st, Authenticated: h.deps.Tokens.Authenticated(ctx)}

	if last, err := h.deps.Cursor.LastSync(ctx); err != nil {
		h.log.Warnf("Failed to read last sync time: %v", err)
	} else if !last.IsZero() {
		resp.LastSync = &last
	}

	if resp.Authenticated && h.deps.Prober != nil {
		probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		version, err := h.deps.Prober.Probe(probeCtx)
		cancel()
		if err != nil {
			resp.ProbeError = err.Error()
		} else {
			resp.APIVersion = version.Name
		}
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, r, http.StatusOK, resp)
}

// Authorize handles GET /oauth/authorize by redirecting to the DAM.
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	target, err := h.deps.Authorizer.AuthorizationURL(h.deps.RedirectURI)
	if err != nil {
		h.log.Errorf("Failed to build authorization URL: %v", err)
		writeError(w, r, http.StatusInternalServerError, models.ErrCodeInternal, "failed to start authorization")
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// Callback handles GET /oauth/callback?code=&state=
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		writeError(w, r, http.StatusUnauthorized, models.ErrCodeAuthFailed, "authorization was denied: "+e)
		return
	}

	if !h.deps.Authorizer.ValidateState(q.Get("state")) {
		writeError(w, r, http.StatusBadRequest, models.ErrCodeInvalidRequest, "invalid or expired state")
		return
	}
	code := q.Get("code")
	if code == "" {
		writeError(w, r, http.StatusBadRequest, models.ErrCodeInvalidRequest, "missing authorization code")
		return
	}

	tok, err := h.deps.Authorizer.ExchangeAuthorizationCode(r.Context(), code)
	if err != nil {
		h.log.Errorf("Authorization code exchange failed: %v", err)
		if errors.Is(err, oauth.ErrInvalidCredentials) || errors.Is(err, oauth.ErrNotAuthenticated) {
			writeError(w, r, http.StatusUnauthorized, models.ErrCodeAuthFailed, oauth.ErrNotAuthenticated.Error())
			return
		}
		writeError(w, r, http.StatusBadGateway, models.ErrCodeAPIError, "failed to reach the DAM token endpoint")
		return
	}

	h.log.Infof("Stored new DAM access token")
	writeJSON(w, r, http.StatusOK, map[string]any{
		"authenticated": true,
		"expires_at":    tok.ExpiresAt,
	})
}

// Resume handles POST /admin/queue/resume
func (h *Handler) Resume(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Queue.Resume(r.Context()); err != nil {
		h.log.Errorf("Failed to resume queue: %v", err)
		writeError(w, r, http.StatusInternalServerError, models.ErrCodeInternal, "failed to resume queue")
		return
	}
	h.log.Infof("Queue resumed by operator")

	st, err := h.deps.Queue.Status(r.Context())
	if err != nil {
		writeJSON(w, r, http.StatusOK, map[string]bool{"resumed": true})
		return
	}
	writeJSON(w, r, http.StatusOK, st)
}

// Sync handles POST /admin/sync
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	n, err := h.deps.Runner.Sync(r.Context())
	if errors.Is(err, scheduler.ErrBusy) {
		writeError(w, r, http.StatusConflict, models.ErrCodeInvalidRequest, "a sync is already running")
		return
	}
	if err != nil {
		h.log.Errorf("Manual sync failed: %v", err)
		writeError(w, r, http.StatusInternalServerError, models.ErrCodeInternal, err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]int{"queued": n})
}

// Drain handles POST /admin/drain
func (h *Handler) Drain(w http.ResponseWriter, r *http.Request) {
	report, err := h.deps.Runner.Drain(r.Context())
	if errors.Is(err, scheduler.ErrBusy) {
		writeError(w, r, http.StatusConflict, models.ErrCodeInvalidRequest, "a drain is already running")
		return
	}
	if err != nil {
		h.log.Errorf("Manual drain failed: %v", err)
		writeError(w, r, http.StatusInternalServerError, models.ErrCodeInternal, err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, report)
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(models.SuccessResponse(data, middleware.GetReqID(r.Context())))
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(models.ErrorResponse(code, message, middleware.GetReqID(r.Context())))
}
