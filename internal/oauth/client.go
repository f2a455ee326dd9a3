package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"github.com/providentiaww/dam-sync/internal/logging"
)

// Config holds the DAM OAuth client settings.
type Config struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	RedirectURI  string
	Timeout      time.Duration
	StateSecret  string
	StateTTL     time.Duration
}

// Client performs authorization-code and refresh-token exchanges against the
// DAM token endpoint and records each result in the TokenStore.
type Client struct {
	cfg        Config
	oauth      *oauth2.Config
	store      TokenStore
	state      *StateManager
	httpClient *http.Client
	log        logging.Logger
	now        func() time.Time
}

// NewClient builds a Client. httpClient may be nil.
func NewClient(cfg Config, store TokenStore, httpClient *http.Client, logger logging.Logger) (*Client, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("DAM client id is required")
	}
	if cfg.TokenURL == "" {
		return nil, fmt.Errorf("DAM token url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = logging.Nop()
	}

	state, err := NewStateManager(cfg.StateSecret, cfg.StateTTL)
	if err != nil {
		return nil, err
	}

	return &Client{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		store:      store,
		state:      state,
		httpClient: httpClient,
		log:        logger.With("OAuth"),
		now:        time.Now,
	}, nil
}

// AuthorizationURL builds the DAM authorize link for redirectURI with a fresh
// CSRF state. It performs no network I/O.
func (c *Client) AuthorizationURL(redirectURI string) (string, error) {
	state, err := c.state.Issue()
	if err != nil {
		return "", err
	}
	cfg := *c.oauth
	if redirectURI != "" {
		cfg.RedirectURL = redirectURI
	}
	return cfg.AuthCodeURL(state), nil
}

// ValidateState reports whether token is a state this client issued and has
// not seen before.
func (c *Client) ValidateState(token string) bool {
	return c.state.Validate(token)
}

// ExchangeAuthorizationCode trades an authorization code for a token pair.
func (c *Client) ExchangeAuthorizationCode(ctx context.Context, code string) (AccessToken, error) {
	c.log.Debugf("Getting new access token from authorization code")

	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	tok, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return AccessToken{}, c.classify("authorization_code", err)
	}
	return c.persist(ctx, tok)
}

// Refresh trades a refresh token for a new token pair.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (AccessToken, error) {
	if refreshToken == "" {
		return AccessToken{}, ErrNotAuthenticated
	}
	c.log.Debugf("Refreshing access token %s", HashToken(refreshToken)[:8])

	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	tok, err := c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return AccessToken{}, c.classify("refresh_token", err)
	}
	return c.persist(ctx, tok)
}

func (c *Client) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	return context.WithTimeout(ctx, c.cfg.Timeout)
}

func (c *Client) persist(ctx context.Context, tok *oauth2.Token) (AccessToken, error) {
	token := AccessToken{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    c.expiresAt(tok),
	}
	if err := c.store.Save(ctx, token); err != nil {
		return AccessToken{}, fmt.Errorf("failed to store access token: %w", err)
	}
	return token, nil
}

// expiresAt derives the expiry as now + expires_in at the moment of exchange.
func (c *Client) expiresAt(tok *oauth2.Token) time.Time {
	var seconds int64
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		seconds = int64(v)
	case json.Number:
		seconds, _ = v.Int64()
	case string:
		seconds, _ = strconv.ParseInt(v, 10, 64)
	}
	if seconds > 0 {
		return c.now().Add(time.Duration(seconds) * time.Second).UTC()
	}
	return tok.Expiry.UTC()
}

func (c *Client) classify(grant string, err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		status := 0
		if rerr.Response != nil {
			status = rerr.Response.StatusCode
		}
		c.log.Errorf("Token endpoint rejected %s grant: status=%d", grant, status)
		return fmt.Errorf("%w: %s grant rejected with status %d", ErrInvalidCredentials, grant, status)
	}
	c.log.Errorf("Token endpoint request for %s grant failed: %v", grant, err)
	return fmt.Errorf("token endpoint request failed: %w", err)
}
