package policy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentgateway/agentgateway-core/internal/config"
)

func tokenServer(t *testing.T, issueCount *int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*issueCount++
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "token-1",
			"token_type":   "bearer",
			"expires_in":   3600,
		})
	}))
}

func TestExchangeFetchesAndCachesToken(t *testing.T) {
	var calls int
	server := tokenServer(t, &calls)
	defer server.Close()

	v := NewOAuth2Verifier(map[string]string{"client1": "secret1"})
	spec := &config.OAuth2Spec{SectionName: "s1", Issuer: "https://issuer.example", ClientID: "client1", TokenURL: server.URL}

	tok1, err := v.Exchange(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, "token-1", tok1)

	tok2, err := v.Exchange(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, "token-1", tok2)
	assert.Equal(t, 1, calls, "a cached token must not trigger a second exchange")
}

func TestAuthenticateRejectsWithoutCachedToken(t *testing.T) {
	v := NewOAuth2Verifier(nil)
	_, err := v.Authenticate(&config.OAuth2Spec{SectionName: "s1"}, "whatever")
	assert.Error(t, err)
}

func TestAuthenticateAcceptsMatchingCachedToken(t *testing.T) {
	var calls int
	server := tokenServer(t, &calls)
	defer server.Close()

	v := NewOAuth2Verifier(map[string]string{"client1": "secret1"})
	spec := &config.OAuth2Spec{SectionName: "s1", ClientID: "client1", TokenURL: server.URL}
	_, err := v.Exchange(context.Background(), spec)
	require.NoError(t, err)

	identity, err := v.Authenticate(spec, "token-1")
	require.NoError(t, err)
	assert.Equal(t, "oauth2", identity.Scheme)
	assert.Equal(t, "client1", identity.Subject)
}

func TestAuthenticateRejectsMismatchedToken(t *testing.T) {
	var calls int
	server := tokenServer(t, &calls)
	defer server.Close()

	v := NewOAuth2Verifier(map[string]string{"client1": "secret1"})
	spec := &config.OAuth2Spec{SectionName: "s1", ClientID: "client1", TokenURL: server.URL}
	_, err := v.Exchange(context.Background(), spec)
	require.NoError(t, err)

	_, err = v.Authenticate(spec, "wrong-token")
	assert.Error(t, err)
}
