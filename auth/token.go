// Package auth acquires and caches bearer tokens for Azure Storage and hands them to the storage SDK.
package auth

import (
	"context"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"golang.org/x/sync/singleflight"

	"github.com/nkazure/azblobber/storage/common"
)

const (
	// DefaultExpiryMargin is how long before its expiry a cached token is already considered expired.
	// Tokens living less than twice the margin are refreshed at half their lifetime instead.
	DefaultExpiryMargin = 30 * time.Second

	// DefaultRefreshTimeout bounds a single token request.
	DefaultRefreshTimeout = 30 * time.Second
)

// Token is a bearer token with an absolute expiry time.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// TokenCache holds the current token for StorageScope and refreshes it on demand.
// It is safe for concurrent use.
type TokenCache struct {
	logger log.Logger
	source Source

	margin         time.Duration
	refreshTimeout time.Duration
	now            func() time.Time

	mu        sync.RWMutex
	token     Token
	refreshAt time.Time
	cached    bool

	flight singleflight.Group
}

// NewTokenCache creates a TokenCache that acquires tokens from s.
func NewTokenCache(l log.Logger, s Source, opts ...Option) *TokenCache {
	o := newOptions(opts)

	return &TokenCache{
		logger:         l,
		source:         s,
		margin:         o.expiryMargin,
		refreshTimeout: o.refreshTimeout,
		now:            o.now,
	}
}

// GetValidToken returns the cached token while it is valid, otherwise performs exactly one
// refresh that every concurrent caller observes. Failed refreshes are not cached.
func (c *TokenCache) GetValidToken(ctx context.Context) (Token, error) {
	if tok, ok := c.cachedToken(); ok {
		level.Debug(c.logger).Log("msg", "reusing cached token", "expiresAt", tok.ExpiresAt)
		return tok, nil
	}

	ch := c.flight.DoChan("token", func() (interface{}, error) {
		return c.refresh(ctx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Token{}, res.Err
		}

		return res.Val.(Token), nil
	case <-ctx.Done():
		return Token{}, common.NewError(common.ErrTransport, "acquire token", ctx.Err())
	}
}

// Invalidate drops the cached token so the next call refreshes.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.token, c.refreshAt, c.cached = Token{}, time.Time{}, false
}

func (c *TokenCache) cachedToken() (Token, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.cached || !c.now().Before(c.refreshAt) {
		return Token{}, false
	}

	return c.token, true
}

func (c *TokenCache) refresh(ctx context.Context) (Token, error) {
	// A flight that finished just before this one started may have stored a fresh token.
	if tok, ok := c.cachedToken(); ok {
		return tok, nil
	}

	// The request is shared by every waiter, so one caller's cancellation must not fail the others.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.refreshTimeout)
	defer cancel()

	level.Info(c.logger).Log("msg", "acquiring storage token", "scope", StorageScope)

	tok, err := c.source.Fetch(ctx)
	if err != nil {
		level.Error(c.logger).Log("msg", "failed to acquire storage token", "err", err)
		return Token{}, err
	}

	refreshAt := tok.ExpiresAt.Add(-c.marginFor(tok))

	c.mu.Lock()
	c.token, c.refreshAt, c.cached = tok, refreshAt, true
	c.mu.Unlock()

	level.Info(c.logger).Log("msg", "acquired storage token", "expiresAt", tok.ExpiresAt)

	return tok, nil
}

// marginFor returns the expiry margin for a token just fetched, at most half its remaining lifetime.
func (c *TokenCache) marginFor(tok Token) time.Duration {
	half := tok.ExpiresAt.Sub(c.now()) / 2
	if half < 0 {
		return 0
	}

	return min(c.margin, half)
}
