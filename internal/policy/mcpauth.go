package policy

import (
	"fmt"

	"github.com/agentgateway/agentgateway-core/internal/config"
)

// MCPAuthenticate validates a bearer token against an MCP Authorization-spec
// provider: same JWT mechanics as JWTVerifier, scoped to
// a single issuer/audience pair per MCP backend mount.
func (v *JWTVerifier) MCPAuthenticate(spec *config.MCPAuthenticationSpec, bearerToken string) (*config.Identity, error) {
	provider := config.JWTProviderSpec{
		Issuer:    spec.Issuer,
		Audiences: []string{spec.Audience},
		JWKSURI:   spec.JWKSURI,
	}
	identity, err := v.authenticateWith(provider, bearerToken)
	if err != nil {
		return nil, err
	}
	identity.Scheme = "mcp"
	return identity, nil
}

// ResourceMetadataChallenge builds the WWW-Authenticate header value the
// MCP Authorization spec requires on a 401: a Bearer
// challenge pointing at this mount's protected-resource metadata document.
func ResourceMetadataChallenge(spec *config.MCPAuthenticationSpec, publicBaseURL string) string {
	path := spec.ResourceMetadataPath
	if path == "" {
		path = "/.well-known/oauth-protected-resource"
	}
	return fmt.Sprintf(`Bearer resource_metadata=%q`, publicBaseURL+path)
}
