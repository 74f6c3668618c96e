package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/acmepay/payflow/internal/obs"
)

// Token is a bearer token with its expiry as reported by the login endpoint.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// LoginFunc performs one login call against the gateway.
type LoginFunc func(ctx context.Context) (Token, error)

// TokenCache owns the current bearer token and refreshes it on demand.
// Concurrent callers of GetToken share a single in-flight login; a failed
// refresh caches nothing and returns the error to every waiter.
type TokenCache struct {
	login     LoginFunc
	skew      time.Duration
	retryWait time.Duration

	mu  sync.RWMutex
	tok Token

	group singleflight.Group
}

// NewTokenCache builds a cache around the provided login call. The skew is
// subtracted from the token expiry so a token is refreshed before it actually
// lapses mid-request.
func NewTokenCache(login LoginFunc, skew, retryWait time.Duration) *TokenCache {
	if skew <= 0 {
		skew = 60 * time.Second
	}
	if retryWait <= 0 {
		retryWait = 500 * time.Millisecond
	}
	return &TokenCache{login: login, skew: skew, retryWait: retryWait}
}

// GetToken returns the cached token while it is still comfortably valid, and
// otherwise performs exactly one refresh regardless of caller concurrency.
func (c *TokenCache) GetToken(ctx context.Context) (Token, error) {
	if tok, ok := c.cached(); ok {
		return tok, nil
	}
	v, err, _ := c.group.Do("login", func() (any, error) {
		// A waiter queued behind a completed refresh can reuse its result.
		if tok, ok := c.cached(); ok {
			return tok, nil
		}
		tok, err := c.refresh(ctx)
		if err != nil {
			if obs.TokenRefreshTotal != nil {
				obs.TokenRefreshTotal.WithLabelValues("error").Inc()
			}
			return nil, err
		}
		c.mu.Lock()
		c.tok = tok
		c.mu.Unlock()
		if obs.TokenRefreshTotal != nil {
			obs.TokenRefreshTotal.WithLabelValues("success").Inc()
		}
		return tok, nil
	})
	if err != nil {
		return Token{}, err
	}
	return v.(Token), nil
}

// Invalidate drops the cached token if it still matches the value the caller
// used. A 401 from the gateway funnels through here so the next GetToken call
// performs a fresh login.
func (c *TokenCache) Invalidate(value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tok.Value == value {
		c.tok = Token{}
	}
}

func (c *TokenCache) cached() (Token, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.tok.Value != "" && time.Now().Before(c.tok.ExpiresAt.Add(-c.skew)) {
		return c.tok, true
	}
	return Token{}, false
}

// refresh performs the login call, retrying once with a fixed pause for
// transient failures. Credential and validation rejections surface
// immediately; retrying a bad API key will not make it valid.
func (c *TokenCache) refresh(ctx context.Context) (Token, error) {
	tok, err := c.login(ctx)
	if err == nil {
		return tok, nil
	}
	var credErr *CredentialError
	var valErr *ValidationError
	if errors.As(err, &credErr) || errors.As(err, &valErr) {
		return Token{}, err
	}
	select {
	case <-ctx.Done():
		return Token{}, ctx.Err()
	case <-time.After(c.retryWait):
	}
	return c.login(ctx)
}
