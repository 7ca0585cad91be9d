package mcp

import (
	"encoding/json"
	"net/http"

	"github.com/agentgateway/agentgateway-core/internal/config"
)

// ProtectedResourceMetadata is the document served at
// /.well-known/oauth-protected-resource/<mount>.
type ProtectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers"`
	BearerMethodsSupported []string `json:"bearer_methods_supported"`
	ScopesSupported        []string `json:"scopes_supported"`
}

// ServeProtectedResourceMetadata writes the metadata document for the MCP
// resource identified by resourceURL.
func ServeProtectedResourceMetadata(w http.ResponseWriter, spec *config.MCPAuthenticationSpec, resourceURL string, scopes []string) {
	doc := ProtectedResourceMetadata{
		Resource:               resourceURL,
		AuthorizationServers:   []string{spec.Issuer},
		BearerMethodsSupported: []string{"header"},
		ScopesSupported:        scopes,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(doc)
}
