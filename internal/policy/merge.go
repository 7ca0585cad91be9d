// Package policy implements the Policy Pipeline: merging
// same-kind policies attached across the listener→route→rule→backend
// scope chain into one effective value (a Bind carries no policy
// attachments, so bind-scoped policies are not part of it), then running the
// authentication/authorization/request-shaping/rate-limiting phases in
// order against a RequestContext.
package policy

import (
	"github.com/agentgateway/agentgateway-core/internal/config"
)

// Chain is the ordered set of scope attachments that apply to one matched
// request, ascending in precedence.
type Chain struct {
	Listener *config.Listener
	Route    *config.Route
	Rule     *config.Rule
	Backend  *config.Backend
}

// policiesOfKind walks the chain in ascending precedence and returns every
// Policy of kind found, in the order they should be merged (least to most
// specific).
func policiesOfKind(snap *config.Snapshot, chain Chain, kind config.PolicyKind) []*config.Policy {
	var out []*config.Policy
	collect := func(idxs []config.PolicyIndex) {
		for _, idx := range idxs {
			p := snap.Policy(idx)
			if p.Kind == kind && p.Accepted {
				out = append(out, p)
			}
		}
	}
	if chain.Listener != nil {
		collect(chain.Listener.Policies)
	}
	if chain.Route != nil {
		collect(chain.Route.Policies)
	}
	if chain.Rule != nil {
		collect(chain.Rule.Policies)
	}
	if chain.Backend != nil {
		collect(chain.Backend.Policies)
	}
	return out
}

// Effective returns the single effective Policy of kind for chain, applying
// MergeStrategyFor(kind):
//   - MergeReplace: the most specific attachment wins outright.
//   - MergeAppend: every attachment's Spec is concatenated in order (the
//     caller type-asserts and flattens, e.g. the ExtAuthz chain).
//   - MergeDeep: handled by kind-specific merge functions below, since the
//     merge rule is per-field, not structural.
func Effective(snap *config.Snapshot, chain Chain, kind config.PolicyKind) *config.Policy {
	found := policiesOfKind(snap, chain, kind)
	if len(found) == 0 {
		return nil
	}
	switch config.MergeStrategyFor(kind) {
	case config.MergeReplace:
		return found[len(found)-1]
	default:
		// Append/Deep merging is resolved by the specific accessor
		// (EffectiveExtAuthzChain, EffectiveHeaderTransform, ...); callers
		// that only need "is one attached" can use the most specific.
		return found[len(found)-1]
	}
}

// AllOfKind is the raw, unmerged attachment list, used by MergeAppend kinds.
func AllOfKind(snap *config.Snapshot, chain Chain, kind config.PolicyKind) []*config.Policy {
	return policiesOfKind(snap, chain, kind)
}

// EffectiveHeaderTransform deep-merges every HeaderTransformSpec attached along
// chain: operations for distinct header names from different scopes all apply,
// and a more specific scope's operation for the same header name overrides an
// ancestor's.
func EffectiveHeaderTransform(snap *config.Snapshot, chain Chain) *config.HeaderTransformSpec {
	policies := policiesOfKind(snap, chain, config.PolicyHeaderTransform)
	if len(policies) == 0 {
		return nil
	}
	reqByName := map[string]config.HeaderOp{}
	var reqOrder []string
	respByName := map[string]config.HeaderOp{}
	var respOrder []string

	merge := func(ops []config.HeaderOp, byName map[string]config.HeaderOp, order *[]string) {
		for _, op := range ops {
			if _, exists := byName[op.Name]; !exists {
				*order = append(*order, op.Name)
			}
			byName[op.Name] = op
		}
	}
	for _, p := range policies {
		spec, ok := p.Spec.(*config.HeaderTransformSpec)
		if !ok || spec == nil {
			continue
		}
		merge(spec.Request, reqByName, &reqOrder)
		merge(spec.Response, respByName, &respOrder)
	}
	out := &config.HeaderTransformSpec{}
	for _, name := range reqOrder {
		out.Request = append(out.Request, reqByName[name])
	}
	for _, name := range respOrder {
		out.Response = append(out.Response, respByName[name])
	}
	return out
}

// EffectiveBackendAuth deep-merges BackendAuthSpec: a more specific scope's
// non-zero fields override the parent's same-named fields.
func EffectiveBackendAuth(snap *config.Snapshot, chain Chain) *config.BackendAuthSpec {
	policies := policiesOfKind(snap, chain, config.PolicyBackendAuth)
	if len(policies) == 0 {
		return nil
	}
	out := &config.BackendAuthSpec{}
	for _, p := range policies {
		spec, ok := p.Spec.(*config.BackendAuthSpec)
		if !ok || spec == nil {
			continue
		}
		if spec.Kind != "" {
			out.Kind = spec.Kind
		}
		if spec.Token != "" {
			out.Token = spec.Token
		}
		if spec.Username != "" {
			out.Username = spec.Username
		}
		if spec.Password != "" {
			out.Password = spec.Password
		}
		if spec.Region != "" {
			out.Region = spec.Region
		}
	}
	return out
}

// EffectiveExtAuthzChain returns every ExtAuthz attachment along chain, in
// order (MergeAppend: all attachments apply, called in attachment order).
func EffectiveExtAuthzChain(snap *config.Snapshot, chain Chain) []*config.ExtAuthzSpec {
	policies := policiesOfKind(snap, chain, config.PolicyExtAuthz)
	var out []*config.ExtAuthzSpec
	for _, p := range policies {
		if spec, ok := p.Spec.(*config.ExtAuthzSpec); ok {
			out = append(out, spec)
		}
	}
	return out
}

// EffectivePromptGuard concatenates every attached PromptGuardSpec's rules
// in attachment order (MergeAppend), the same pattern as
// EffectiveExtAuthzChain.
func EffectivePromptGuard(snap *config.Snapshot, chain Chain) []config.GuardRuleSpec {
	policies := policiesOfKind(snap, chain, config.PolicyPromptGuard)
	var out []config.GuardRuleSpec
	for _, p := range policies {
		if spec, ok := p.Spec.(*config.PromptGuardSpec); ok && spec != nil {
			out = append(out, spec.Rules...)
		}
	}
	return out
}

func EffectivePromptEnrichment(snap *config.Snapshot, chain Chain) *config.PromptEnrichmentSpec {
	return specOf[config.PromptEnrichmentSpec](snap, chain, config.PolicyPromptEnrichment)
}

// typed accessors for the MergeReplace kinds, so callers never type-assert
// policy.Spec themselves.

func EffectiveJWT(snap *config.Snapshot, chain Chain) *config.JWTSpec {
	return specOf[config.JWTSpec](snap, chain, config.PolicyJWT)
}

func EffectiveOAuth2(snap *config.Snapshot, chain Chain) *config.OAuth2Spec {
	return specOf[config.OAuth2Spec](snap, chain, config.PolicyOAuth2)
}

func EffectiveBasicAuth(snap *config.Snapshot, chain Chain) *config.BasicAuthSpec {
	return specOf[config.BasicAuthSpec](snap, chain, config.PolicyBasicAuth)
}

func EffectiveAPIKeyAuth(snap *config.Snapshot, chain Chain) *config.APIKeyAuthSpec {
	return specOf[config.APIKeyAuthSpec](snap, chain, config.PolicyAPIKeyAuth)
}

func EffectiveMCPAuthentication(snap *config.Snapshot, chain Chain) *config.MCPAuthenticationSpec {
	return specOf[config.MCPAuthenticationSpec](snap, chain, config.PolicyMCPAuthentication)
}

func EffectiveCORS(snap *config.Snapshot, chain Chain) *config.CORSSpec {
	return specOf[config.CORSSpec](snap, chain, config.PolicyCORS)
}

func EffectiveCSRF(snap *config.Snapshot, chain Chain) *config.CSRFSpec {
	return specOf[config.CSRFSpec](snap, chain, config.PolicyCSRF)
}

func EffectiveRateLimit(snap *config.Snapshot, chain Chain) *config.RateLimitSpec {
	return specOf[config.RateLimitSpec](snap, chain, config.PolicyRateLimit)
}

func EffectiveTransform(snap *config.Snapshot, chain Chain) *config.TransformSpec {
	return specOf[config.TransformSpec](snap, chain, config.PolicyTransform)
}

func EffectiveTimeouts(snap *config.Snapshot, chain Chain) *config.TimeoutsSpec {
	return specOf[config.TimeoutsSpec](snap, chain, config.PolicyTimeouts)
}

func EffectiveRetry(snap *config.Snapshot, chain Chain) *config.RetrySpec {
	return specOf[config.RetrySpec](snap, chain, config.PolicyRetry)
}

func EffectiveInferenceRouting(snap *config.Snapshot, chain Chain) *config.InferenceRoutingSpec {
	return specOf[config.InferenceRoutingSpec](snap, chain, config.PolicyInferenceRouting)
}

func EffectiveHTTPVersion(snap *config.Snapshot, chain Chain) *config.HTTPVersionSpec {
	return specOf[config.HTTPVersionSpec](snap, chain, config.PolicyHTTPVersion)
}

func specOf[T any](snap *config.Snapshot, chain Chain, kind config.PolicyKind) *T {
	p := Effective(snap, chain, kind)
	if p == nil {
		return nil
	}
	spec, ok := p.Spec.(*T)
	if !ok {
		return nil
	}
	return spec
}
