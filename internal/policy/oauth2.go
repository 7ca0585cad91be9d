package policy

import (
	"context"
	"crypto/subtle"
	"fmt"
	"sync"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/agentgateway/agentgateway-core/internal/config"
)

// OAuth2Verifier implements the listener-scoped OAuth2 client-credentials
// authentication mode: the gateway itself exchanges a
// client secret for a token on behalf of upstream calls, and separately
// validates presented bearer tokens introspectively by comparing against
// the cached token it minted. Per-issuer token caching avoids a token
// exchange on every request.
type OAuth2Verifier struct {
	ClientSecrets map[string]string // ClientID -> secret, injected out of band from config

	mu     sync.Mutex
	tokens map[string]string // SectionName -> cached access token
}

func NewOAuth2Verifier(secrets map[string]string) *OAuth2Verifier {
	return &OAuth2Verifier{ClientSecrets: secrets, tokens: map[string]string{}}
}

// Exchange performs (or reuses a cached) client-credentials token exchange
// for spec, returning the access token to attach as BackendAuth.
func (v *OAuth2Verifier) Exchange(ctx context.Context, spec *config.OAuth2Spec) (string, error) {
	v.mu.Lock()
	if tok, ok := v.tokens[spec.SectionName]; ok {
		v.mu.Unlock()
		return tok, nil
	}
	v.mu.Unlock()

	secret := v.ClientSecrets[spec.ClientID]
	cfg := clientcredentials.Config{
		ClientID:     spec.ClientID,
		ClientSecret: secret,
		TokenURL:     spec.TokenURL,
		Scopes:       spec.Scopes,
	}
	tok, err := cfg.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("oauth2 client-credentials exchange for issuer %q: %w", spec.Issuer, err)
	}

	v.mu.Lock()
	v.tokens[spec.SectionName] = tok.AccessToken
	v.mu.Unlock()
	return tok.AccessToken, nil
}

// Authenticate validates an inbound bearer token against the token this
// gateway itself minted for spec (constant-time compare to avoid a timing
// oracle on the cached secret).
func (v *OAuth2Verifier) Authenticate(spec *config.OAuth2Spec, presented string) (*config.Identity, error) {
	v.mu.Lock()
	cached, ok := v.tokens[spec.SectionName]
	v.mu.Unlock()
	if !ok || presented == "" || subtle.ConstantTimeCompare([]byte(cached), []byte(presented)) != 1 {
		return nil, fmt.Errorf("oauth2 token does not match issuer %q", spec.Issuer)
	}
	return &config.Identity{Scheme: "oauth2", Subject: spec.ClientID}, nil
}
