package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentgateway/agentgateway-core/internal/config"
)

func TestAPIKeyAuthenticateRejectsEmptyKey(t *testing.T) {
	spec := &config.APIKeyAuthSpec{ValidKeys: map[string]string{"k1": "svc1"}}
	_, err := APIKeyAuthenticate(spec, "")
	assert.Error(t, err)
}

func TestAPIKeyAuthenticateRejectsUnknownKey(t *testing.T) {
	spec := &config.APIKeyAuthSpec{ValidKeys: map[string]string{"k1": "svc1"}}
	_, err := APIKeyAuthenticate(spec, "wrong")
	assert.Error(t, err)
}

func TestAPIKeyAuthenticateAcceptsKnownKey(t *testing.T) {
	spec := &config.APIKeyAuthSpec{ValidKeys: map[string]string{"k1": "svc1"}}
	identity, err := APIKeyAuthenticate(spec, "k1")
	require.NoError(t, err)
	assert.Equal(t, "apikey", identity.Scheme)
	assert.Equal(t, "svc1", identity.Subject)
}
