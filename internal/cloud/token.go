package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

const (
	accessTokenPath = "/v1/get_access_token"
	refreshTimeout  = 15 * time.Second
)

// Token is a short-lived access token.
type Token struct {
	Value  string
	Expiry time.Time
}

// Valid reports whether the token can be used at now.
func (t Token) Valid(now time.Time) bool {
	return t.Value != "" && now.Before(t.Expiry)
}

// TokenCache holds the access token of one account and refreshes it from
// the long-lived refresh token when it expires.
//
// Concurrent callers that observe an expired token share a single refresh
// call: the second waiter receives the first one's result.
type TokenCache struct {
	baseURL      string
	apiKey       string
	refreshToken string
	httpClient   *http.Client
	logger       Logger
	now          func() time.Time

	mu    sync.Mutex
	token Token

	group     singleflight.Group
	refreshes atomic.Int64
}

// NewTokenCache creates a token cache. Nothing is fetched until Get.
func NewTokenCache(baseURL, apiKey, refreshToken string, httpClient *http.Client) *TokenCache {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &TokenCache{
		baseURL:      baseURL,
		apiKey:       apiKey,
		refreshToken: refreshToken,
		httpClient:   httpClient,
		logger:       noopLogger{},
		now:          time.Now,
	}
}

// SetLogger sets the logger for the cache.
func (c *TokenCache) SetLogger(logger Logger) {
	c.logger = logger
}

// Get returns a valid access token, refreshing it if needed.
//
// The shared refresh is detached from ctx and bounded by refreshTimeout, so
// a caller that gives up only abandons its own wait.
//
// Errors wrap ErrAuth when the refresh token is rejected, ErrTransport on
// network failure or when ctx ends first, and ErrProtocol when the response
// or the token itself cannot be parsed.
func (c *TokenCache) Get(ctx context.Context) (Token, error) {
	if tok, ok := c.cached(); ok {
		return tok, nil
	}

	ch := c.group.DoChan("refresh", func() (any, error) {
		// Another caller may have refreshed while we waited for the group.
		if tok, ok := c.cached(); ok {
			return tok, nil
		}
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		tok, err := c.fetch(fetchCtx)
		if err != nil {
			return Token{}, err
		}
		c.mu.Lock()
		c.token = tok
		c.mu.Unlock()
		return tok, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Token{}, res.Err
		}
		return res.Val.(Token), nil
	case <-ctx.Done():
		return Token{}, fmt.Errorf("%w: waiting for access token: %w", ErrTransport, ctx.Err())
	}
}

// Invalidate drops the cached token so the next Get refreshes.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.token = Token{}
	c.mu.Unlock()
}

// Refreshes returns how many refresh calls were issued.
func (c *TokenCache) Refreshes() int64 {
	return c.refreshes.Load()
}

func (c *TokenCache) cached() (Token, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token, c.token.Valid(c.now())
}

// fetch calls the access token endpoint with the refresh token as bearer.
func (c *TokenCache) fetch(ctx context.Context) (Token, error) {
	c.refreshes.Add(1)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+accessTokenPath, nil)
	if err != nil {
		return Token{}, fmt.Errorf("%w: creating request: %w", ErrProtocol, err)
	}
	req.Header.Set(headerAPIKey, c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.refreshToken)

	env, err := execute(c.httpClient, req)
	if err != nil {
		// Any rejection of the refresh call is a credential problem.
		var apiErr *APIError
		if asAPIError(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError {
			return Token{}, fmt.Errorf("%w: refreshing access token: %w", ErrAuth, apiErr)
		}
		return Token{}, fmt.Errorf("refreshing access token: %w", err)
	}
	if env.Status != statusSuccess {
		return Token{}, fmt.Errorf("%w: refreshing access token: %w", ErrAuth, env.apiError(http.StatusOK))
	}

	var msg struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(env.Message, &msg); err != nil || msg.AccessToken == "" {
		return Token{}, fmt.Errorf("%w: access token missing from response", ErrProtocol)
	}

	expiry, err := tokenExpiry(msg.AccessToken)
	if err != nil {
		return Token{}, err
	}

	c.logger.Debug("access token refreshed", "expires_at", expiry)
	return Token{Value: msg.AccessToken, Expiry: expiry}, nil
}

// tokenExpiry reads the exp claim without verifying the signature; the
// token is opaque to us and only its lifetime matters.
func tokenExpiry(raw string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return time.Time{}, fmt.Errorf("%w: decoding access token: %w", ErrProtocol, err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: reading token expiry: %w", ErrProtocol, err)
	}
	if exp == nil {
		return time.Time{}, fmt.Errorf("%w: access token has no exp claim", ErrProtocol)
	}
	return exp.Time, nil
}
