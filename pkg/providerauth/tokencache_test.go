package providerauth

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type staticTokenSource struct {
	token *oauth2.Token
	err   error
	calls int
}

func (s *staticTokenSource) Token() (*oauth2.Token, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.token, nil
}

func TestTokenCache_OAuthCredential_CachesValidToken(t *testing.T) {
	src := &staticTokenSource{token: &oauth2.Token{AccessToken: "tok-1", Expiry: time.Now().Add(time.Hour)}}
	cache := NewTokenCache(src, "")

	cred, err := cache.OAuthCredential(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "oauth", cred.Kind)
	assert.Equal(t, "tok-1", cred.Value)

	_, err = cache.OAuthCredential(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls, "second call should reuse the cached token")
}

func TestTokenCache_OAuthCredential_RefreshesExpiredToken(t *testing.T) {
	src := &staticTokenSource{token: &oauth2.Token{AccessToken: "tok-1", Expiry: time.Now().Add(-time.Hour)}}
	cache := NewTokenCache(src, "")

	_, err := cache.OAuthCredential(context.Background())
	require.NoError(t, err)
	_, err = cache.OAuthCredential(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}

func TestTokenCache_APIKeyCredential(t *testing.T) {
	cache := NewTokenCache(nil, "sk-fallback")
	cred, ok := cache.APIKeyCredential()
	require.True(t, ok)
	assert.Equal(t, "api_key", cred.Kind)
	assert.Equal(t, "sk-fallback", cred.Value)

	empty := NewTokenCache(nil, "")
	_, ok = empty.APIKeyCredential()
	assert.False(t, ok)
}

func TestTokenCache_Next_FallsBackToAPIKeyOnOAuthFailure(t *testing.T) {
	src := &staticTokenSource{err: fmt.Errorf("refresh denied")}
	cache := NewTokenCache(src, "sk-fallback")

	cred, ok, err := cache.Next(context.Background(), 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "api_key", cred.Kind)
}

func TestTokenCache_Next_SubsequentAttemptUsesAPIKey(t *testing.T) {
	src := &staticTokenSource{token: &oauth2.Token{AccessToken: "tok-1", Expiry: time.Now().Add(time.Hour)}}
	cache := NewTokenCache(src, "sk-fallback")

	cred, ok, err := cache.Next(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "api_key", cred.Kind)
}

func TestTokenCache_Next_NoCredentialAvailable(t *testing.T) {
	src := &staticTokenSource{err: fmt.Errorf("refresh denied")}
	cache := NewTokenCache(src, "")

	_, ok, err := cache.Next(context.Background(), 0)
	assert.False(t, ok)
	assert.Error(t, err)
}
