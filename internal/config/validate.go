package config

import (
	"fmt"
	"strings"

	"github.com/agentgateway/agentgateway-core/internal/celengine"
)

// ValidationErrors accumulates every problem found while validating a Snapshot,
// so a single apply() reports every unresolved reference and conflict at once
// rather than failing fast on the first one.
type ValidationErrors struct {
	Errors []ValidationError
}

// ValidationError names one concrete validation failure: an unresolved
// reference, a duplicate bind, an overlapping route, a policy conflict, or
// malformed CEL.
type ValidationError struct {
	Resource string // e.g. "route/checkout", "policy/jwt-default"
	Reason   string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Resource, e.Reason)
}

func (v *ValidationErrors) add(resource, reason string, args ...any) {
	v.Errors = append(v.Errors, ValidationError{Resource: resource, Reason: fmt.Sprintf(reason, args...)})
}

func (v *ValidationErrors) HasErrors() bool { return len(v.Errors) > 0 }

func (v *ValidationErrors) Error() string {
	msgs := make([]string, len(v.Errors))
	for i, e := range v.Errors {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks every cross-reference and structural invariant a
// configuration document must satisfy, appending any problems to errs. The
// only change it makes to snap is the status (Accepted/Reason/Message) of a
// policy found in conflict.
func Validate(snap *Snapshot, errs *ValidationErrors) {
	validateBackendRefs(snap, errs)
	validatePolicyRefs(snap, errs)
	validateRouteOverlap(snap, errs)
	validateCEL(snap, errs)
	validatePolicyConflicts(snap, errs)
}

func validateBackendRefs(snap *Snapshot, errs *ValidationErrors) {
	nBackends := BackendIndex(len(snap.Backends))
	for ri, rule := range snap.Rules {
		for _, wb := range rule.Backends {
			if wb.Backend < 0 || wb.Backend >= nBackends {
				errs.add(fmt.Sprintf("rule/%d", ri), "backend reference %d out of range", wb.Backend)
			}
		}
		for _, f := range rule.Filters {
			if f.Kind == FilterMirror && (f.MirrorBackend < 0 || f.MirrorBackend >= nBackends) {
				errs.add(fmt.Sprintf("rule/%d", ri), "mirror backend reference %d out of range", f.MirrorBackend)
			}
		}
	}
}

func validatePolicyRefs(snap *Snapshot, errs *ValidationErrors) {
	nPolicies := PolicyIndex(len(snap.Policies))
	checkAll := func(resource string, idxs []PolicyIndex) {
		for _, idx := range idxs {
			if idx < 0 || idx >= nPolicies {
				errs.add(resource, "policy reference %d out of range", idx)
			}
		}
	}
	for i, l := range snap.Listeners {
		checkAll(fmt.Sprintf("listener/%d", i), l.Policies)
	}
	for i, r := range snap.Routes {
		checkAll(fmt.Sprintf("route/%d", i), r.Policies)
	}
	for i, r := range snap.Rules {
		checkAll(fmt.Sprintf("rule/%d", i), r.Policies)
	}
	for i, be := range snap.Backends {
		checkAll(fmt.Sprintf("backend/%d", i), be.Policies)
	}
}

// validateRouteOverlap rejects two routes on the same listener with
// identical host/path/method predicates, since the tie-break rule
// can never distinguish them.
func validateRouteOverlap(snap *Snapshot, errs *ValidationErrors) {
	type key struct {
		listener ListenerIndex
		hosts    string
		pathType PathMatchType
		path     string
		methods  string
	}
	seen := map[key]int{}
	for i, r := range snap.Routes {
		k := key{
			listener: r.Listener,
			hosts:    strings.Join(r.Match.Hostnames, ","),
			pathType: r.Match.PathType,
			path:     r.Match.Path,
			methods:  strings.Join(r.Match.Methods, ","),
		}
		if prev, ok := seen[k]; ok {
			errs.add(fmt.Sprintf("route/%d", i), "overlaps identically with route/%d on the same listener", prev)
			continue
		}
		seen[k] = i
	}
}

// validateCEL compiles every CEL expression reachable from a Transform
// policy so malformed CEL fails configuration validation and never
// runtime traffic.
func validateCEL(snap *Snapshot, errs *ValidationErrors) {
	env := celengine.MustSchemaEnv()
	for i, p := range snap.Policies {
		ts, ok := p.Spec.(*TransformSpec)
		if !ok {
			continue
		}
		check := func(expr string) {
			if expr == "" {
				return
			}
			if _, err := env.Compile(expr); err != nil {
				errs.add(fmt.Sprintf("policy/%d", i), "malformed CEL expression %q: %v", expr, err)
			}
		}
		check(ts.RequestBodyExpr)
		check(ts.ResponseBodyExpr)
		check(ts.GuardExpr)
		for _, e := range ts.RequestHeaderExpr {
			check(e)
		}
		for _, e := range ts.ResponseHeaderExpr {
			check(e)
		}
	}
}

// validatePolicyConflicts rejects configurations where two policy kinds
// cannot coexist on overlapping scope, e.g. a route-level JWT policy
// together with a gateway/listener-scoped OAuth2 policy targeting the
// same listener section.
func validatePolicyConflicts(snap *Snapshot, errs *ValidationErrors) {
	for li, l := range snap.Listeners {
		var oauth2Sections = map[string]int{}
		for _, pidx := range l.Policies {
			p := &snap.Policies[pidx]
			if p.Kind != PolicyOAuth2 {
				continue
			}
			spec, ok := p.Spec.(*OAuth2Spec)
			if !ok {
				continue
			}
			oauth2Sections[spec.SectionName] = int(pidx)
		}
		if len(oauth2Sections) == 0 {
			continue
		}
		for _, ridx := range l.Routes {
			r := &snap.Routes[ridx]
			for _, pidx := range r.Policies {
				p := &snap.Policies[pidx]
				if p.Kind != PolicyJWT {
					continue
				}
				// A route JWT policy conflicts with any OAuth2 policy on
				// its listener that does not explicitly scope to a
				// disjoint section name.
				if _, overlap := oauth2Sections[""]; overlap {
					markConflict(snap, p, fmt.Sprintf("listener/%d", li), errs)
					continue
				}
			}
		}
	}
}

func markConflict(snap *Snapshot, p *Policy, resource string, errs *ValidationErrors) {
	p.Accepted = false
	p.Reason = "Invalid"
	p.Message = "invalid auth mode combination: route-level JWT policy conflicts with a gateway-scoped OAuth2 policy on the same listener section"
	errs.add(resource, "%s", p.Message)
}
