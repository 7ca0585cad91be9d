package policy

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/agentgateway/agentgateway-core/internal/config"
)

var unsafeMethods = map[string]bool{"POST": true, "PUT": true, "PATCH": true, "DELETE": true}

// CheckCSRF validates an unsafe-method request's Origin against the listener's
// own host plus any AdditionalOrigins. Safe methods (GET/HEAD/OPTIONS) are
// never checked.
func CheckCSRF(spec *config.CSRFSpec, method, requestHost, originHeader string) error {
	if !unsafeMethods[strings.ToUpper(method)] {
		return nil
	}
	if originHeader == "" {
		return fmt.Errorf("csrf: missing Origin header on unsafe method %s", method)
	}
	u, err := url.Parse(originHeader)
	if err != nil {
		return fmt.Errorf("csrf: malformed Origin header: %w", err)
	}
	if strings.EqualFold(u.Host, requestHost) {
		return nil
	}
	for _, allowed := range spec.AdditionalOrigins {
		if strings.EqualFold(allowed, originHeader) || strings.EqualFold(allowed, u.Host) {
			return nil
		}
	}
	return fmt.Errorf("csrf: origin %q not allowed for host %q", originHeader, requestHost)
}
