package policy

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/agentgateway/agentgateway-core/internal/config"
)

// BasicAuthenticate validates an Authorization: Basic header against
// spec.Users, where each value is a hex-encoded sha256 of "username:password".
func BasicAuthenticate(spec *config.BasicAuthSpec, authHeader string) (*config.Identity, error) {
	const prefix = "Basic "
	if !strings.HasPrefix(authHeader, prefix) {
		return nil, fmt.Errorf("missing basic auth credentials")
	}
	raw, err := base64.StdEncoding.DecodeString(authHeader[len(prefix):])
	if err != nil {
		return nil, fmt.Errorf("malformed basic auth header: %w", err)
	}
	user, pass, ok := strings.Cut(string(raw), ":")
	if !ok {
		return nil, fmt.Errorf("malformed basic auth credentials")
	}

	wantHash, ok := spec.Users[user]
	if !ok {
		return nil, fmt.Errorf("unknown user %q", user)
	}
	sum := sha256.Sum256([]byte(user + ":" + pass))
	gotHash := hex.EncodeToString(sum[:])
	if subtle.ConstantTimeCompare([]byte(gotHash), []byte(strings.ToLower(wantHash))) != 1 {
		return nil, fmt.Errorf("invalid credentials for user %q", user)
	}
	return &config.Identity{Scheme: "basic", Subject: user}, nil
}

// Challenge returns the WWW-Authenticate header value for a 401 response.
func Challenge(spec *config.BasicAuthSpec) string {
	realm := spec.Realm
	if realm == "" {
		realm = "agentgateway"
	}
	return fmt.Sprintf(`Basic realm=%q`, realm)
}
