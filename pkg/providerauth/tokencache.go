// Package providerauth models the OAuth token cache collaborator named
// in spec.md §6 ("The core neither reads nor writes... the OAuth token
// cache"): a thin, refresh-on-expiry cache in front of an
// oauth2.TokenSource, plus a static API-key fallback credential, used by
// the pkg/providerclient adapters' credential-rotation policy.
package providerauth

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/oauth2"
)

// Credential is an opaque bearer credential handed to a concrete
// provider SDK call. Kind distinguishes an OAuth access token from a
// static API key so the adapter can set the right auth header.
type Credential struct {
	Kind  string // "oauth" or "api_key"
	Value string
}

// TokenCache wraps an oauth2.TokenSource with an in-memory cache so
// repeated calls within a token's lifetime don't force a refresh round
// trip, and exposes a same-shaped Credential as the API-key fallback.
type TokenCache struct {
	mu     sync.Mutex
	source oauth2.TokenSource
	cached *oauth2.Token
	apiKey string
}

// NewTokenCache builds a cache around source. apiKey, if non-empty, is
// the fallback credential APIKeyCredential returns.
func NewTokenCache(source oauth2.TokenSource, apiKey string) *TokenCache {
	return &TokenCache{source: source, apiKey: apiKey}
}

// OAuthCredential returns the cached access token, refreshing via the
// wrapped TokenSource if the cached one is missing or expired.
func (c *TokenCache) OAuthCredential(ctx context.Context) (Credential, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached == nil || !c.cached.Valid() {
		if c.source == nil {
			return Credential{}, fmt.Errorf("no oauth token source configured")
		}
		tok, err := c.source.Token()
		if err != nil {
			return Credential{}, fmt.Errorf("refreshing oauth token: %w", err)
		}
		c.cached = tok
	}
	return Credential{Kind: "oauth", Value: c.cached.AccessToken}, nil
}

// APIKeyCredential returns the static API-key fallback credential, if
// one was configured.
func (c *TokenCache) APIKeyCredential() (Credential, bool) {
	if c.apiKey == "" {
		return Credential{}, false
	}
	return Credential{Kind: "api_key", Value: c.apiKey}, true
}

// Next implements providerclient.CredentialSource: attempt 0 prefers the
// cached OAuth token; any subsequent attempt (after a rate-limit
// rotation) falls back to the static API key per spec.md §6.
func (c *TokenCache) Next(ctx context.Context, attempt int) (Credential, bool, error) {
	if attempt == 0 {
		cred, err := c.OAuthCredential(ctx)
		if err == nil {
			return cred, true, nil
		}
		if apiCred, ok := c.APIKeyCredential(); ok {
			return apiCred, true, nil
		}
		return Credential{}, false, err
	}
	if apiCred, ok := c.APIKeyCredential(); ok {
		return apiCred, true, nil
	}
	return Credential{}, false, nil
}
