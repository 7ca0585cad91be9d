package policy

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"

	"github.com/agentgateway/agentgateway-core/internal/config"
	"github.com/agentgateway/agentgateway-core/internal/jwks"
)

// JWKSSource resolves the JWKS backing a JWTProviderSpec, either the
// shared Fetcher (remote) or a parsed inline document.
type JWKSSource interface {
	Get(uri string) (jose.JSONWebKeySet, bool)
}

// JWTVerifier validates bearer tokens against the JWT providers attached to
// a matched route.
type JWTVerifier struct {
	Fetcher JWKSSource
}

func NewJWTVerifier(fetcher JWKSSource) *JWTVerifier {
	return &JWTVerifier{Fetcher: fetcher}
}

// Authenticate tries every provider in spec in order and returns the identity
// from the first one whose signature, issuer and audience all verify. The
// request is denied 401 if none match.
func (v *JWTVerifier) Authenticate(spec *config.JWTSpec, bearerToken string) (*config.Identity, error) {
	if bearerToken == "" {
		return nil, fmt.Errorf("missing bearer token")
	}
	var lastErr error
	for _, provider := range spec.Providers {
		identity, err := v.authenticateWith(provider, bearerToken)
		if err == nil {
			return identity, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no jwt providers configured")
	}
	return nil, lastErr
}

func (v *JWTVerifier) authenticateWith(provider config.JWTProviderSpec, tokenStr string) (*config.Identity, error) {
	keySet, err := v.resolveKeySet(provider)
	if err != nil {
		return nil, err
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		key, err := selectKey(keySet, kid, t.Method.Alg())
		if err != nil {
			return nil, err
		}
		return key, nil
	}, jwt.WithValidMethods([]string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512", "EdDSA", "PS256", "PS384", "PS512"}))
	if err != nil {
		return nil, fmt.Errorf("jwt verification failed: %w", err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("jwt is not valid")
	}

	if provider.Issuer != "" {
		iss, _ := claims.GetIssuer()
		if iss != provider.Issuer {
			return nil, fmt.Errorf("unexpected issuer %q", iss)
		}
	}
	if len(provider.Audiences) > 0 {
		aud, _ := claims.GetAudience()
		if !audienceIntersects(aud, provider.Audiences) {
			return nil, fmt.Errorf("token audience does not match provider")
		}
	}

	subject, _ := claims.GetSubject()
	return &config.Identity{
		Scheme:  "jwt",
		Subject: subject,
		Claims:  map[string]any(claims),
	}, nil
}

func (v *JWTVerifier) resolveKeySet(provider config.JWTProviderSpec) (jose.JSONWebKeySet, error) {
	if len(provider.JWKSInline) > 0 {
		var set jose.JSONWebKeySet
		if err := json.Unmarshal(provider.JWKSInline, &set); err != nil {
			return jose.JSONWebKeySet{}, fmt.Errorf("parsing inline jwks: %w", err)
		}
		return set, nil
	}
	if v.Fetcher == nil {
		return jose.JSONWebKeySet{}, fmt.Errorf("no jwks fetcher configured for provider %q", provider.Issuer)
	}
	set, ok := v.Fetcher.Get(provider.JWKSURI)
	if !ok {
		return jose.JSONWebKeySet{}, fmt.Errorf("jwks for %q not yet fetched", provider.JWKSURI)
	}
	return set, nil
}

func selectKey(set jose.JSONWebKeySet, kid, alg string) (any, error) {
	for _, k := range set.Keys {
		if kid != "" && k.KeyID != kid {
			continue
		}
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		switch k.Key.(type) {
		case *rsa.PublicKey, *ecdsa.PublicKey, ed25519.PublicKey:
			return k.Key, nil
		}
	}
	return nil, fmt.Errorf("no matching jwks key for kid=%q alg=%q", kid, alg)
}

func audienceIntersects(tokenAud []string, allowed []string) bool {
	want := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		want[a] = struct{}{}
	}
	for _, a := range tokenAud {
		if _, ok := want[a]; ok {
			return true
		}
	}
	return false
}

// ForwardedClaimHeaders projects JWT claims into downstream request
// headers per JWTProviderSpec.ClaimsToHeaders.
func ForwardedClaimHeaders(provider config.JWTProviderSpec, claims map[string]any) map[string]string {
	out := map[string]string{}
	for claim, header := range provider.ClaimsToHeaders {
		if v, ok := claims[claim]; ok {
			out[header] = fmt.Sprintf("%v", v)
		}
	}
	return out
}

// BearerToken extracts the token from an Authorization: Bearer header.
func BearerToken(authHeader string) string {
	const prefix = "Bearer "
	if len(authHeader) > len(prefix) && strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return authHeader[len(prefix):]
	}
	return ""
}

// jwksFetcherAdapter lets *jwks.Fetcher satisfy JWKSSource without an
// import cycle (internal/jwks has no dependency on internal/policy).
type jwksFetcherAdapter struct{ f *jwks.Fetcher }

func NewFetcherSource(f *jwks.Fetcher) JWKSSource { return jwksFetcherAdapter{f: f} }

func (a jwksFetcherAdapter) Get(uri string) (jose.JSONWebKeySet, bool) { return a.f.Get(uri) }
