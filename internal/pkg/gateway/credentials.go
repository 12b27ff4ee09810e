package gateway

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// refreshMargin is how close to expiry a cached credential may get before it
// is replaced.
const refreshMargin = 60 * time.Second

// TokenSource is the part of the gateway client the credential cache needs.
type TokenSource interface {
	GrantToken(ctx context.Context) (*TokenResponse, error)
	RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error)
}

// CredentialCache holds at most one gateway credential per process and
// refreshes it on demand. Concurrent callers during a refresh share a single
// in-flight grant call; failures are never cached. Each worker process keeps
// its own credential, which the gateway permits.
type CredentialCache struct {
	source TokenSource

	mu           sync.Mutex
	token        string
	refreshToken string
	expiresAt    time.Time

	group singleflight.Group
	now   func() time.Time
}

// NewCredentialCache creates an empty cache over the given token source.
func NewCredentialCache(source TokenSource) *CredentialCache {
	return &CredentialCache{
		source: source,
		now:    time.Now,
	}
}

// Token returns a credential that is valid for at least the refresh margin,
// requesting a new one from the gateway when needed.
func (cc *CredentialCache) Token(ctx context.Context) (string, error) {
	cc.mu.Lock()
	if cc.token != "" && cc.now().Before(cc.expiresAt.Add(-refreshMargin)) {
		token := cc.token
		cc.mu.Unlock()
		return token, nil
	}
	cc.mu.Unlock()

	v, err, _ := cc.group.Do("token", func() (interface{}, error) {
		// Another caller may have refreshed while we queued.
		cc.mu.Lock()
		if cc.token != "" && cc.now().Before(cc.expiresAt.Add(-refreshMargin)) {
			token := cc.token
			cc.mu.Unlock()
			return token, nil
		}
		refreshToken := cc.refreshToken
		cc.mu.Unlock()

		resp, err := cc.grant(ctx, refreshToken)
		if err != nil {
			return "", err
		}

		cc.mu.Lock()
		cc.token = resp.IDToken
		cc.refreshToken = resp.RefreshToken
		cc.expiresAt = cc.now().Add(time.Duration(resp.ExpiresIn) * time.Second)
		cc.mu.Unlock()
		return resp.IDToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// grant prefers the refresh grant when a refresh token is on hand and falls
// back to a fresh credential grant if the refresh is rejected.
func (cc *CredentialCache) grant(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	if refreshToken != "" {
		resp, err := cc.source.RefreshToken(ctx, refreshToken)
		if err == nil {
			return resp, nil
		}
		log.Printf("gateway credential refresh failed, requesting new grant: %v", err)
	}
	return cc.source.GrantToken(ctx)
}
