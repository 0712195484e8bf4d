package crm

import (
	"context"
	"sync"
	"time"
)

// Token is an access token with its absolute expiry.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// TokenSource fetches a fresh token.
type TokenSource func(ctx context.Context) (Token, error)

// TokenCache holds one token until shortly before it expires. Each CRM client owns its cache.
type TokenCache struct {
	mu     sync.Mutex
	source TokenSource
	skew   time.Duration
	now    func() time.Time
	token  Token
}

// NewTokenCache creates a cache refreshing skew before expiry.
func NewTokenCache(source TokenSource, skew time.Duration) *TokenCache {
	if skew <= 0 {
		skew = time.Minute
	}
	return &TokenCache{source: source, skew: skew, now: time.Now}
}

// Get returns the cached token or fetches a new one.
func (c *TokenCache) Get(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token.Value != "" && c.now().Add(c.skew).Before(c.token.ExpiresAt) {
		return c.token.Value, nil
	}
	tok, err := c.source(ctx)
	if err != nil {
		return "", err
	}
	c.token = tok
	return tok.Value, nil
}

// Invalidate drops the cached token, e.g. after a 401.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.token = Token{}
	c.mu.Unlock()
}
