package policy

import (
	"crypto/subtle"
	"fmt"

	"github.com/agentgateway/agentgateway-core/internal/config"
)

// APIKeyAuthenticate looks up key (from header or query param, whichever
// the caller resolved per spec.HeaderName/QueryParam) in spec.ValidKeys.
func APIKeyAuthenticate(spec *config.APIKeyAuthSpec, key string) (*config.Identity, error) {
	if key == "" {
		return nil, fmt.Errorf("missing api key")
	}
	for validKey, label := range spec.ValidKeys {
		if subtle.ConstantTimeCompare([]byte(validKey), []byte(key)) == 1 {
			return &config.Identity{Scheme: "apikey", Subject: label}, nil
		}
	}
	return nil, fmt.Errorf("invalid api key")
}
