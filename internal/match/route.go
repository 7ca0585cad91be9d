package match

import (
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/agentgateway/agentgateway-core/internal/config"
)

// Request is the subset of an inbound request the matching engine needs.
// Built once per request from the live *http.Request by the caller.
type Request struct {
	Host    string
	Path    string // already normalized via NormalizePath
	Method  string
	Headers map[string][]string // lower-cased header names
	Query   map[string][]string
}

// HeaderValue returns the first value of a header, case-insensitively.
func (r *Request) HeaderValue(name string) (string, bool) {
	vals, ok := r.Headers[strings.ToLower(name)]
	if !ok || len(vals) == 0 {
		return "", false
	}
	return vals[0], true
}

// Result is the outcome of a successful match.
type Result struct {
	Route config.RouteIndex
	Rule  config.RuleIndex
}

// NoRouteReason is the telemetry reason attached when no route matches.
const NoRouteReason = "no-route"

var regexCache sync.Map // string -> *regexp.Regexp

func compileRegex(pattern string) (*regexp.Regexp, error) {
	if v, ok := regexCache.Load(pattern); ok {
		return v.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	regexCache.Store(pattern, re)
	return re, nil
}

// MatchRoutes selects a single (route, rule) pair for req among the listener's
// routes, applying the tie-break order: (1) most specific host, (2) longest
// path, (3) greatest number of header matches, (4) lowest configuration index.
func MatchRoutes(snap *config.Snapshot, listener config.ListenerIndex, req *Request) (Result, bool) {
	type candidate struct {
		routeIdx     config.RouteIndex
		ruleIdx      config.RuleIndex
		hostSpecificity int
		pathLen      int
		headerCount  int
		routeIndex   int
	}

	var candidates []candidate
	for _, ridx := range snap.Listener(listener).Routes {
		route := snap.Route(ridx)
		hostSpec, ok := hostMatches(route.Match.Hostnames, req.Host)
		if !ok {
			continue
		}
		if !pathMatches(route.Match.PathType, route.Match.Path, req.Path) {
			continue
		}
		if !methodMatches(route.Match.Methods, req.Method) {
			continue
		}
		if !headerPredicatesHold(route.Match.Headers, req) {
			continue
		}
		if !queryPredicatesHold(route.Match.Queries, req) {
			continue
		}

		rule, ruleIdx, ok := selectRule(snap, route, req)
		if !ok {
			continue
		}

		candidates = append(candidates, candidate{
			routeIdx:        ridx,
			ruleIdx:         ruleIdx,
			hostSpecificity: hostSpec,
			pathLen:         len(route.Match.Path),
			headerCount:     len(route.Match.Headers) + len(rule.Headers),
			routeIndex:      route.Index,
		})
	}

	if len(candidates) == 0 {
		return Result{}, false
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.hostSpecificity != b.hostSpecificity {
			return a.hostSpecificity > b.hostSpecificity
		}
		if a.pathLen != b.pathLen {
			return a.pathLen > b.pathLen
		}
		if a.headerCount != b.headerCount {
			return a.headerCount > b.headerCount
		}
		return a.routeIndex < b.routeIndex
	})

	best := candidates[0]
	return Result{Route: best.routeIdx, Rule: best.ruleIdx}, true
}

// hostMatches reports whether host matches any of the route's declared
// hostnames, and returns a specificity score (exact=2, wildcard=1,
// none-declared/any=0) for the tie-break.
func hostMatches(hostnames []string, host string) (int, bool) {
	if len(hostnames) == 0 {
		return 0, true
	}
	host = strings.ToLower(stripPort(host))
	best := -1
	for _, h := range hostnames {
		h = strings.ToLower(h)
		switch {
		case h == "*":
			if best < 0 {
				best = 0
			}
		case strings.HasPrefix(h, "*."):
			if hasWildcardSuffixMatch(host, h[2:]) && best < 1 {
				best = 1
			}
		case h == host:
			best = 2
		}
	}
	return best, best >= 0
}

func pathMatches(pt config.PathMatchType, pattern, path string) bool {
	switch pt {
	case config.PathExact:
		return path == pattern
	case config.PathRegex:
		re, err := compileRegex(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(path)
	case config.PathPrefix, "":
		if pattern == "" || pattern == "/" {
			return true
		}
		if !strings.HasPrefix(path, pattern) {
			return false
		}
		return len(path) == len(pattern) || path[len(pattern)] == '/'
	default:
		return false
	}
}

// methodMatches is case-sensitive upper-case comparison.
func methodMatches(methods []string, method string) bool {
	if len(methods) == 0 {
		return true
	}
	for _, m := range methods {
		if m == method {
			return true
		}
	}
	return false
}

func headerPredicatesHold(matches []config.HeaderMatch, req *Request) bool {
	for _, hm := range matches {
		if !headerMatchHolds(hm, req) {
			return false
		}
	}
	return true
}

func headerMatchHolds(hm config.HeaderMatch, req *Request) bool {
	val, present := req.HeaderValue(hm.Name)
	ok := present && headerValueMatches(hm, val)
	if hm.Invert {
		return !ok
	}
	return ok
}

func headerValueMatches(hm config.HeaderMatch, val string) bool {
	want := hm.Value
	have := val
	if hm.CaseInsensitive {
		want = strings.ToLower(want)
		have = strings.ToLower(have)
	}
	switch hm.Type {
	case config.HeaderRegex:
		re, err := compileRegex(hm.Value)
		if err != nil {
			return false
		}
		return re.MatchString(val)
	case config.HeaderPrefix:
		return strings.HasPrefix(have, want)
	default: // HeaderExact
		return have == want
	}
}

func queryPredicatesHold(matches []config.QueryMatch, req *Request) bool {
	for _, qm := range matches {
		vals, ok := req.Query[qm.Name]
		if !ok || len(vals) == 0 {
			return false
		}
		switch qm.Type {
		case config.HeaderRegex:
			re, err := compileRegex(qm.Value)
			if err != nil {
				return false
			}
			if !re.MatchString(vals[0]) {
				return false
			}
		default:
			if vals[0] != qm.Value {
				return false
			}
		}
	}
	return true
}

// selectRule picks the first rule (in declared order) whose header/query
// predicates hold.
func selectRule(snap *config.Snapshot, route *config.Route, req *Request) (*config.Rule, config.RuleIndex, bool) {
	for _, ridx := range route.Rules {
		rule := snap.Rule(ridx)
		if !headerPredicatesHold(rule.Headers, req) {
			continue
		}
		if !queryPredicatesHold(rule.Queries, req) {
			continue
		}
		return rule, ridx, true
	}
	return nil, 0, false
}
