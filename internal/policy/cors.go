package policy

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/agentgateway/agentgateway-core/internal/config"
)

// CORSDecision is the outcome of evaluating a CORS policy against one
// request.
type CORSDecision struct {
	// IsPreflight is true for an OPTIONS request carrying
	// Access-Control-Request-Method; such requests terminate with the
	// preflight response and never reach the backend.
	IsPreflight bool
	Allowed     bool
	Headers     http.Header
}

// EvaluateCORS applies spec to an inbound request's Origin/method, filling
// the response headers for both the simple-request and preflight cases.
func EvaluateCORS(spec *config.CORSSpec, origin, method string, isOptionsPreflight bool) CORSDecision {
	headers := http.Header{}
	if origin == "" {
		return CORSDecision{Allowed: true, Headers: headers}
	}

	allowed := originAllowed(spec.AllowedOrigins, origin)
	if !allowed {
		return CORSDecision{IsPreflight: isOptionsPreflight, Allowed: false, Headers: headers}
	}

	if originMatchesWildcard(spec.AllowedOrigins) && !spec.AllowCredentials {
		headers.Set("Access-Control-Allow-Origin", "*")
	} else {
		headers.Set("Access-Control-Allow-Origin", origin)
		headers.Add("Vary", "Origin")
	}
	if spec.AllowCredentials {
		headers.Set("Access-Control-Allow-Credentials", "true")
	}
	if len(spec.ExposedHeaders) > 0 {
		headers.Set("Access-Control-Expose-Headers", strings.Join(spec.ExposedHeaders, ", "))
	}

	if isOptionsPreflight {
		if len(spec.AllowedMethods) > 0 {
			headers.Set("Access-Control-Allow-Methods", strings.Join(spec.AllowedMethods, ", "))
		}
		if len(spec.AllowedHeaders) > 0 {
			headers.Set("Access-Control-Allow-Headers", strings.Join(spec.AllowedHeaders, ", "))
		}
		if spec.MaxAge > 0 {
			headers.Set("Access-Control-Max-Age", strconv.Itoa(int(spec.MaxAge.Seconds())))
		}
	}
	return CORSDecision{IsPreflight: isOptionsPreflight, Allowed: true, Headers: headers}
}

func originAllowed(allowed []string, origin string) bool {
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

func originMatchesWildcard(allowed []string) bool {
	for _, a := range allowed {
		if a == "*" {
			return true
		}
	}
	return false
}
