package dam

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/providentiaww/dam-sync/internal/logging"
	"github.com/providentiaww/dam-sync/internal/oauth"
)

// TokenSource supplies bearer tokens and replaces one the DAM rejected.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context, stale string) (string, error)
}

// Config holds the DAM connection settings.
type Config struct {
	BaseURL string
	Version APIVersion
	Timeout time.Duration
}

// SearchParams are the parameters of one search page.
type SearchParams struct {
	Query           string
	Limit           int
	Offset          int
	IncludeDeleted  bool
	IncludeArchived bool
	Expand          []string
}

// SearchResult is one page of search results.
type SearchResult struct {
	Items      []Asset
	TotalCount int
	Facets     json.RawMessage
}

// Client is an authenticated DAM REST client.
type Client struct {
	baseURL    string
	version    APIVersion
	tokens     TokenSource
	httpClient *http.Client
	log        logging.Logger
}

// Shared HTTP client with connection pooling
var sharedHTTPClient = &http.Client{
	Timeout: 30 * time.Second,
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	},
}

// NewClient creates a DAM client. Every request is bounded by cfg.Timeout.
func NewClient(cfg Config, tokens TokenSource, logger logging.Logger) *Client {
	client := sharedHTTPClient
	if cfg.Timeout > 0 && cfg.Timeout != sharedHTTPClient.Timeout {
		client = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: sharedHTTPClient.Transport,
		}
	}
	if cfg.Version.Name == "" {
		cfg.Version = V2
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		version:    cfg.Version,
		tokens:     tokens,
		httpClient: client,
		log:        logger.With("DAM"),
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// Version returns the API generation this client speaks.
func (c *Client) Version() APIVersion {
	return c.version
}

// Search runs one page of an asset search.
func (c *Client) Search(ctx context.Context, params SearchParams) (*SearchResult, error) {
	q := url.Values{}
	q.Set("query", params.Query)
	if params.Limit > 0 {
		q.Set("limit", strconv.Itoa(params.Limit))
	}
	q.Set("offset", strconv.Itoa(params.Offset))
	if params.IncludeDeleted {
		q.Set("include_deleted", "true")
	}
	if params.IncludeArchived {
		q.Set("include_archived", "true")
	}
	if len(params.Expand) > 0 {
		q.Set("expand", strings.Join(params.Expand, ","))
	}

	body, err := c.get(ctx, "search", c.baseURL+c.version.SearchPath+"?"+q.Encode(), true)
	if err != nil {
		return nil, err
	}

	var raw struct {
		Items      []Asset         `json:"items"`
		Assets     []Asset         `json:"assets"`
		TotalCount int             `json:"total_count"`
		Facets     json.RawMessage `json:"facets"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &Error{Kind: KindUnknown, Op: "search", Err: fmt.Errorf("failed to parse response: %w", err)}
	}

	items := raw.Items
	if c.version.ItemsKey == "assets" || len(items) == 0 {
		if len(raw.Assets) > 0 {
			items = raw.Assets
		}
	}
	return &SearchResult{Items: items, TotalCount: raw.TotalCount, Facets: raw.Facets}, nil
}

// GetAsset fetches one asset with the expands the materializer needs.
func (c *Client) GetAsset(ctx context.Context, id string) (*Asset, error) {
	u := c.baseURL + c.version.assetPath(url.PathEscape(id))
	if len(c.version.RequiredExpands) > 0 {
		u += "?expand=" + url.QueryEscape(strings.Join(c.version.RequiredExpands, ","))
	}

	body, err := c.get(ctx, "get asset", u, true)
	if err != nil {
		return nil, err
	}

	var asset Asset
	if err := json.Unmarshal(body, &asset); err != nil {
		return nil, &Error{Kind: KindUnknown, Op: "get asset", Err: fmt.Errorf("failed to parse asset %s: %w", id, err)}
	}
	return &asset, nil
}

// DownloadOriginal returns the original binary of an asset.
func (c *Client) DownloadOriginal(ctx context.Context, id string) ([]byte, error) {
	return c.get(ctx, "download original", c.baseURL+c.version.downloadPath(url.PathEscape(id)), true)
}

// DownloadRendition fetches a rendition URL with extra query parameters merged in.
// Renditions are served from public embed URLs and are fetched without credentials.
func (c *Client) DownloadRendition(ctx context.Context, rawURL string, query url.Values) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &Error{Kind: KindClient, Op: "download rendition", Err: fmt.Errorf("invalid rendition url: %w", err)}
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			q.Del(k)
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return c.get(ctx, "download rendition", u.String(), false)
}

func (c *Client) get(ctx context.Context, op, rawURL string, authenticated bool) ([]byte, error) {
	var token string
	if authenticated {
		t, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, authError(op, 0, err)
		}
		token = t
	}

	status, body, err := c.do(ctx, op, rawURL, token)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized && authenticated {
		c.log.Warnf("%s rejected with 401, refreshing token and retrying once", op)
		fresh, rerr := c.tokens.Refresh(ctx, token)
		if rerr != nil {
			return nil, authError(op, http.StatusUnauthorized, rerr)
		}
		status, body, err = c.do(ctx, op, rawURL, fresh)
		if err != nil {
			return nil, err
		}
	}

	if status != http.StatusOK {
		return nil, statusError(op, status, body)
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, op, rawURL, token string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, nil, &Error{Kind: KindUnknown, Op: op, Err: err}
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", "application/json, */*")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, transportError(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, transportError(op, err)
	}
	return resp.StatusCode, body, nil
}

// authError classifies a failure to obtain a token. Only a rejection by the
// token endpoint is an authorization failure; not reaching it is not.
func authError(op string, status int, err error) *Error {
	if kind, netStatus, ok := networkFailure(err); ok {
		return &Error{Kind: kind, Status: netStatus, Op: op, Err: err}
	}
	kind := KindAuthorization
	if errors.Is(err, oauth.ErrInvalidCredentials) {
		kind = KindInvalidCredentials
	}
	return &Error{Kind: kind, Status: status, Op: op, Err: err}
}
