package policy

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentgateway/agentgateway-core/internal/config"
)

func hashedUser(user, pass string) string {
	sum := sha256.Sum256([]byte(user + ":" + pass))
	return hex.EncodeToString(sum[:])
}

func basicHeader(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

func TestBasicAuthenticateMissingHeader(t *testing.T) {
	_, err := BasicAuthenticate(&config.BasicAuthSpec{}, "")
	assert.Error(t, err)
}

func TestBasicAuthenticateMalformedBase64(t *testing.T) {
	_, err := BasicAuthenticate(&config.BasicAuthSpec{}, "Basic !!!not-base64")
	assert.Error(t, err)
}

func TestBasicAuthenticateUnknownUser(t *testing.T) {
	spec := &config.BasicAuthSpec{Users: map[string]string{}}
	_, err := BasicAuthenticate(spec, basicHeader("alice", "secret"))
	assert.Error(t, err)
}

func TestBasicAuthenticateWrongPassword(t *testing.T) {
	spec := &config.BasicAuthSpec{Users: map[string]string{"alice": hashedUser("alice", "secret")}}
	_, err := BasicAuthenticate(spec, basicHeader("alice", "wrong"))
	assert.Error(t, err)
}

func TestBasicAuthenticateSucceeds(t *testing.T) {
	spec := &config.BasicAuthSpec{Users: map[string]string{"alice": hashedUser("alice", "secret")}}
	identity, err := BasicAuthenticate(spec, basicHeader("alice", "secret"))
	require.NoError(t, err)
	assert.Equal(t, "basic", identity.Scheme)
	assert.Equal(t, "alice", identity.Subject)
}

func TestChallengeDefaultsRealm(t *testing.T) {
	assert.Equal(t, `Basic realm="agentgateway"`, Challenge(&config.BasicAuthSpec{}))
}

func TestChallengeUsesConfiguredRealm(t *testing.T) {
	assert.Equal(t, `Basic realm="internal"`, Challenge(&config.BasicAuthSpec{Realm: "internal"}))
}
