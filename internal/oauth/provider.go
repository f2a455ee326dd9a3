package oauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/providentiaww/dam-sync/internal/cache"
	"github.com/providentiaww/dam-sync/internal/logging"
)

const (
	refreshKey      = "dam-token-refresh"
	defaultSkew     = 30 * time.Second
	refreshLockTTL  = 30 * time.Second
	refreshLockWait = 15 * time.Second
)

// Refresher exchanges a refresh token for a new pair and persists it.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (AccessToken, error)
}

// Provider hands out a usable access token, refreshing at most once at a time.
type Provider struct {
	store     TokenStore
	refresher Refresher
	locker    cache.Locker
	group     singleflight.Group
	skew      time.Duration
	log       logging.Logger
	now       func() time.Time
}

// ProviderOption customizes a Provider.
type ProviderOption func(*Provider)

// WithLocker serializes refreshes across processes.
func WithLocker(locker cache.Locker) ProviderOption {
	return func(p *Provider) { p.locker = locker }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ProviderOption {
	return func(p *Provider) { p.now = now }
}

// WithSkew changes how early a token is considered expired.
func WithSkew(skew time.Duration) ProviderOption {
	return func(p *Provider) { p.skew = skew }
}

// NewProvider creates a Provider reading from store and refreshing through refresher.
func NewProvider(store TokenStore, refresher Refresher, logger logging.Logger, opts ...ProviderOption) *Provider {
	if logger == nil {
		logger = logging.Nop()
	}
	p := &Provider{
		store:     store,
		refresher: refresher,
		skew:      defaultSkew,
		log:       logger.With("TokenProvider"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Token returns the stored access token, refreshing it first if it is expired.
func (p *Provider) Token(ctx context.Context) (string, error) {
	current, err := p.load(ctx)
	if err != nil {
		return "", err
	}
	if !current.Expired(p.now(), p.skew) {
		return current.AccessToken, nil
	}
	return p.Refresh(ctx, current.AccessToken)
}

// Authenticated reports whether a token has been stored.
func (p *Provider) Authenticated(ctx context.Context) bool {
	_, err := p.load(ctx)
	return err == nil
}

// Refresh replaces stale with a new access token. If another caller already
// replaced it, the current token is returned without contacting the DAM.
func (p *Provider) Refresh(ctx context.Context, stale string) (string, error) {
	v, err, shared := p.group.Do(refreshKey, func() (interface{}, error) {
		return p.refresh(ctx, stale)
	})
	if err != nil {
		return "", err
	}
	if shared {
		p.log.Debugf("Joined in-flight token refresh")
	}
	return v.(string), nil
}

func (p *Provider) refresh(ctx context.Context, stale string) (string, error) {
	if p.locker != nil {
		release, err := p.locker.Acquire(ctx, refreshKey, refreshLockTTL, refreshLockWait)
		if err != nil {
			return "", fmt.Errorf("failed to acquire refresh lock: %w", err)
		}
		defer release()
	}

	current, err := p.load(ctx)
	if err != nil {
		return "", err
	}
	if current.AccessToken != stale && !current.Expired(p.now(), p.skew) {
		return current.AccessToken, nil
	}
	if current.RefreshToken == "" {
		return "", ErrNotAuthenticated
	}

	token, err := p.refresher.Refresh(ctx, current.RefreshToken)
	if err != nil {
		p.log.Errorf("Token refresh failed: %v", err)
		return "", err
	}
	p.log.Infof("Refreshed DAM access token, expires at %s", token.ExpiresAt.Format(time.RFC3339))
	return token.AccessToken, nil
}

func (p *Provider) load(ctx context.Context) (AccessToken, error) {
	current, err := p.store.Load(ctx)
	if errors.Is(err, ErrNoToken) {
		return AccessToken{}, ErrNotAuthenticated
	}
	if err != nil {
		return AccessToken{}, err
	}
	if current.AccessToken == "" {
		return AccessToken{}, ErrNotAuthenticated
	}
	return current, nil
}
