package config

import (
	"fmt"
	"time"

	"sigs.k8s.io/yaml"
)

// Document is the top-level shape of a configuration document: binds,
// listeners, routes, backends, policies. Decoding goes through
// sigs.k8s.io/yaml (YAML -> JSON -> struct) so the same struct tags work
// whether the document arrives as YAML over the admin/file source or as JSON
// over the control-plane stream.
type Document struct {
	Binds     []BindDoc     `json:"binds"`
	Listeners []ListenerDoc `json:"listeners"`
	Routes    []RouteDoc    `json:"routes"`
	Backends  []BackendDoc  `json:"backends"`
	Policies  []PolicyDoc   `json:"policies"`
}

type BindDoc struct {
	Name     string `json:"name"`
	Address  string `json:"address"`
	Port     uint32 `json:"port"`
	Protocol string `json:"protocol"`
}

type TLSDoc struct {
	CertPEM      string   `json:"certPem"`
	KeyPEM       string   `json:"keyPem"`
	TrustedCAPEM string   `json:"trustedCaPem"`
	ALPN         []string `json:"alpn"`
}

type ListenerDoc struct {
	Name      string   `json:"name"`
	Bind      string   `json:"bind"`
	Hostnames []string `json:"hostnames"`
	TLS       *TLSDoc  `json:"tls"`
	Version   string   `json:"version"`
	Policies  []string `json:"policies"`
}

type HeaderMatchDoc struct {
	Name            string `json:"name"`
	Value           string `json:"value"`
	Type            string `json:"type"`
	CaseInsensitive bool   `json:"caseInsensitive"`
	Invert          bool   `json:"invert"`
}

type QueryMatchDoc struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	Type  string `json:"type"`
}

type RuleFilterDoc struct {
	Type                 string `json:"type"`
	HeaderName           string `json:"headerName"`
	HeaderValue          string `json:"headerValue"`
	RewriteTo            string `json:"rewriteTo"`
	RedirectScheme       string `json:"redirectScheme"`
	RedirectHostname     string `json:"redirectHostname"`
	RedirectPort         uint32 `json:"redirectPort"`
	RedirectPath         string `json:"redirectPath"`
	RedirectStatusCode   int    `json:"redirectStatusCode"`
	MirrorBackend        string `json:"mirrorBackend"`
	MirrorPercent        float64 `json:"mirrorPercent"`
	DirectResponseStatus int    `json:"directResponseStatus"`
	DirectResponseBody   string `json:"directResponseBody"`
}

type WeightedBackendDoc struct {
	Backend string `json:"backend"`
	Weight  int    `json:"weight"`
}

type RuleDoc struct {
	Name     string               `json:"name"`
	Headers  []HeaderMatchDoc     `json:"headers"`
	Queries  []QueryMatchDoc      `json:"queries"`
	Filters  []RuleFilterDoc      `json:"filters"`
	Backends []WeightedBackendDoc `json:"backends"`
	Policies []string             `json:"policies"`
}

type RouteDoc struct {
	Name      string           `json:"name"`
	Listener  string           `json:"listener"`
	Hostnames []string         `json:"hostnames"`
	PathType  string           `json:"pathType"`
	Path      string           `json:"path"`
	Methods   []string         `json:"methods"`
	Headers   []HeaderMatchDoc `json:"headers"`
	Queries   []QueryMatchDoc  `json:"queries"`
	Rules     []RuleDoc        `json:"rules"`
	Policies  []string         `json:"policies"`
}

type AIProviderDoc struct {
	OpenAI *struct {
		Model string `json:"model"`
	} `json:"openAI"`
	Anthropic *struct {
		Model string `json:"model"`
	} `json:"anthropic"`
}

type BackendDoc struct {
	Name     string `json:"name"`
	Service  *struct {
		Hostname    string `json:"hostname"`
		Port        uint32 `json:"port"`
		AppProtocol string `json:"appProtocol"`
	} `json:"service"`
	AI *struct {
		Name         string        `json:"name"`
		HostOverride string        `json:"hostOverride"`
		Provider     AIProviderDoc `json:"provider"`
	} `json:"ai"`
	MCP *struct {
		TargetName string `json:"targetName"`
	} `json:"mcp"`
	Opaque *struct {
		Hostname string `json:"hostname"`
		Port     uint32 `json:"port"`
	} `json:"opaque"`
	Policies []string `json:"policies"`
}

// PolicyDoc is the generic envelope; Spec holds the kind-specific fields
// and is decoded into the spec type selected by the Kind discriminator.
type PolicyDoc struct {
	Name  string         `json:"name"`
	Kind  string         `json:"kind"`
	Scope string         `json:"scope"`
	Spec  map[string]any `json:"spec"`
}

// ParseDocument decodes raw YAML/JSON bytes into a Document.
func ParseDocument(raw []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse configuration document: %w", err)
	}
	return &doc, nil
}

// BuildSnapshot translates a parsed Document into a validated Snapshot,
// wiring every named reference (bind name, listener name, backend name,
// policy name) into the corresponding arena index.
func BuildSnapshot(doc *Document, version int64) (*Snapshot, error) {
	b := NewBuilder(version)

	bindByName := map[string]BindIndex{}
	for _, bd := range doc.Binds {
		proto := ProtocolHTTP
		if bd.Protocol == "HTTPS" {
			proto = ProtocolHTTPTLS
		}
		idx, err := b.AddBind(Bind{Address: bd.Address, Port: bd.Port, Protocol: proto})
		if err != nil {
			return nil, fmt.Errorf("bind %q: %w", bd.Name, err)
		}
		bindByName[bd.Name] = idx
	}

	backendByName := map[string]BackendIndex{}
	for _, bed := range doc.Backends {
		be := Backend{Name: bed.Name}
		switch {
		case bed.Service != nil:
			be.Kind = BackendService
			be.Hostname = bed.Service.Hostname
			be.Port = bed.Service.Port
			be.AppProtocol = AppProtocol(bed.Service.AppProtocol)
		case bed.AI != nil:
			be.Kind = BackendAI
			be.AIHostOverride = bed.AI.HostOverride
			switch {
			case bed.AI.Provider.OpenAI != nil:
				be.AIProvider = AIProviderOpenAI
				be.AIModel = bed.AI.Provider.OpenAI.Model
			case bed.AI.Provider.Anthropic != nil:
				be.AIProvider = AIProviderAnthropic
				be.AIModel = bed.AI.Provider.Anthropic.Model
			}
		case bed.MCP != nil:
			be.Kind = BackendMCP
			be.MCPTargetName = bed.MCP.TargetName
		case bed.Opaque != nil:
			be.Kind = BackendOpaque
			be.Hostname = bed.Opaque.Hostname
			be.Port = bed.Opaque.Port
		default:
			return nil, fmt.Errorf("backend %q: exactly one of service/ai/mcp/opaque must be set", bed.Name)
		}
		backendByName[bed.Name] = b.AddBackend(be)
	}

	policyByName := map[string]PolicyIndex{}
	for _, pd := range doc.Policies {
		p, err := decodePolicy(pd, backendByName)
		if err != nil {
			return nil, fmt.Errorf("policy %q: %w", pd.Name, err)
		}
		policyByName[pd.Name] = b.AddPolicy(p)
	}

	resolvePolicies := func(names []string) ([]PolicyIndex, error) {
		out := make([]PolicyIndex, 0, len(names))
		for _, n := range names {
			idx, ok := policyByName[n]
			if !ok {
				return nil, fmt.Errorf("unresolved policy reference %q", n)
			}
			out = append(out, idx)
		}
		return out, nil
	}

	// Attach backend-scoped policies now that policies exist.
	for _, bed := range doc.Backends {
		idxs, err := resolvePolicies(bed.Policies)
		if err != nil {
			return nil, fmt.Errorf("backend %q: %w", bed.Name, err)
		}
		b.snap.Backends[backendByName[bed.Name]].Policies = idxs
	}

	listenerByName := map[string]ListenerIndex{}
	for _, ld := range doc.Listeners {
		bidx, ok := bindByName[ld.Bind]
		if !ok {
			return nil, fmt.Errorf("listener %q: unresolved bind reference %q", ld.Name, ld.Bind)
		}
		pidxs, err := resolvePolicies(ld.Policies)
		if err != nil {
			return nil, fmt.Errorf("listener %q: %w", ld.Name, err)
		}
		l := Listener{
			Bind:      bidx,
			Name:      ld.Name,
			Hostnames: ld.Hostnames,
			Version:   DownstreamHTTPVersion(ld.Version),
			Policies:  pidxs,
		}
		if ld.TLS != nil {
			l.TLS = &TLSConfig{
				CertPEM:      []byte(ld.TLS.CertPEM),
				KeyPEM:       []byte(ld.TLS.KeyPEM),
				TrustedCAPEM: []byte(ld.TLS.TrustedCAPEM),
				ALPNProtocols: ld.TLS.ALPN,
			}
		}
		if l.Version == "" {
			l.Version = DownstreamAuto
		}
		listenerByName[ld.Name] = b.AddListener(l)
	}

	for routeIdx, rd := range doc.Routes {
		lidx, ok := listenerByName[rd.Listener]
		if !ok {
			return nil, fmt.Errorf("route %q: unresolved listener reference %q", rd.Name, rd.Listener)
		}
		rpidxs, err := resolvePolicies(rd.Policies)
		if err != nil {
			return nil, fmt.Errorf("route %q: %w", rd.Name, err)
		}
		route := Route{
			Name:     rd.Name,
			Listener: lidx,
			Index:    routeIdx,
			Policies: rpidxs,
			Match: RouteMatch{
				Hostnames: rd.Hostnames,
				PathType:  pathType(rd.PathType),
				Path:      rd.Path,
				Methods:   rd.Methods,
				Headers:   decodeHeaderMatches(rd.Headers),
				Queries:   decodeQueryMatches(rd.Queries),
			},
		}
		ridx := b.AddRoute(route)

		for ruleIdx, ruleDoc := range rd.Rules {
			rule, err := decodeRule(ruleDoc, ruleIdx, backendByName, policyByName)
			if err != nil {
				return nil, fmt.Errorf("route %q rule %d: %w", rd.Name, ruleIdx, err)
			}
			ruleRef := b.AddRule(rule)
			b.snap.Routes[ridx].Rules = append(b.snap.Routes[ridx].Rules, ruleRef)
		}
	}

	return b.Build()
}

func decodeRule(rd RuleDoc, index int, backendByName map[string]BackendIndex, policyByName map[string]PolicyIndex) (Rule, error) {
	rule := Rule{
		Name:    rd.Name,
		Index:   index,
		Headers: decodeHeaderMatches(rd.Headers),
		Queries: decodeQueryMatches(rd.Queries),
	}
	for _, p := range rd.Policies {
		idx, ok := policyByName[p]
		if !ok {
			return Rule{}, fmt.Errorf("unresolved policy reference %q", p)
		}
		rule.Policies = append(rule.Policies, idx)
	}
	for _, wb := range rd.Backends {
		idx, ok := backendByName[wb.Backend]
		if !ok {
			return Rule{}, fmt.Errorf("unresolved backend reference %q", wb.Backend)
		}
		weight := wb.Weight
		if weight == 0 {
			weight = 1
		}
		rule.Backends = append(rule.Backends, WeightedBackend{Backend: idx, Weight: weight})
	}
	for _, fd := range rd.Filters {
		f := RuleFilter{
			Kind:                 FilterKind(fd.Type),
			HeaderName:           fd.HeaderName,
			HeaderValue:          fd.HeaderValue,
			RewriteTo:            fd.RewriteTo,
			RedirectScheme:       fd.RedirectScheme,
			RedirectHostname:     fd.RedirectHostname,
			RedirectPort:         fd.RedirectPort,
			RedirectPath:         fd.RedirectPath,
			RedirectStatusCode:   fd.RedirectStatusCode,
			MirrorPercent:        fd.MirrorPercent,
			DirectResponseStatus: fd.DirectResponseStatus,
			DirectResponseBody:   []byte(fd.DirectResponseBody),
		}
		if fd.MirrorBackend != "" {
			idx, ok := backendByName[fd.MirrorBackend]
			if !ok {
				return Rule{}, fmt.Errorf("unresolved mirror backend reference %q", fd.MirrorBackend)
			}
			f.MirrorBackend = idx
		}
		rule.Filters = append(rule.Filters, f)
	}
	return rule, nil
}

func decodeHeaderMatches(docs []HeaderMatchDoc) []HeaderMatch {
	out := make([]HeaderMatch, 0, len(docs))
	for _, d := range docs {
		t := HeaderExact
		if d.Type != "" {
			t = HeaderMatchType(d.Type)
		}
		out = append(out, HeaderMatch{Name: d.Name, Value: d.Value, Type: t, CaseInsensitive: d.CaseInsensitive, Invert: d.Invert})
	}
	return out
}

func decodeQueryMatches(docs []QueryMatchDoc) []QueryMatch {
	out := make([]QueryMatch, 0, len(docs))
	for _, d := range docs {
		t := HeaderExact
		if d.Type != "" {
			t = HeaderMatchType(d.Type)
		}
		out = append(out, QueryMatch{Name: d.Name, Value: d.Value, Type: t})
	}
	return out
}

func pathType(s string) PathMatchType {
	if s == "" {
		return PathPrefix
	}
	return PathMatchType(s)
}

func decodePolicy(pd PolicyDoc, backendByName map[string]BackendIndex) (Policy, error) {
	p := Policy{Name: pd.Name, Kind: PolicyKind(pd.Kind), Accepted: true}
	switch pd.Scope {
	case "bind":
		p.Scope = ScopeBind
	case "listener", "":
		p.Scope = ScopeListener
	case "route":
		p.Scope = ScopeRoute
	case "rule":
		p.Scope = ScopeRule
	case "backend":
		p.Scope = ScopeBackend
	default:
		return Policy{}, fmt.Errorf("unknown scope %q", pd.Scope)
	}

	spec, err := decodePolicySpec(p.Kind, pd.Spec)
	if err != nil {
		return Policy{}, err
	}
	p.Spec = spec
	return p, nil
}

// decodePolicySpec round-trips the loosely typed spec map through JSON
// into the kind-specific struct. This mirrors how sigs.k8s.io/yaml itself
// decodes (YAML -> JSON -> struct) and keeps decodePolicySpec generic
// instead of hand-rolling a field-by-field switch per kind.
func decodePolicySpec(kind PolicyKind, raw map[string]any) (any, error) {
	switch kind {
	case PolicyJWT:
		v := &JWTSpec{}
		return v, remarshalJSON(raw, v)
	case PolicyOAuth2:
		v := &OAuth2Spec{}
		return v, remarshalJSON(raw, v)
	case PolicyBasicAuth:
		v := &BasicAuthSpec{}
		return v, remarshalJSON(raw, v)
	case PolicyAPIKeyAuth:
		v := &APIKeyAuthSpec{}
		return v, remarshalJSON(raw, v)
	case PolicyMCPAuthentication:
		v := &MCPAuthenticationSpec{}
		return v, remarshalJSON(raw, v)
	case PolicyExtAuthz:
		v := &ExtAuthzSpec{}
		return v, remarshalDuration(raw, v)
	case PolicyCORS:
		v := &CORSSpec{}
		return v, remarshalDuration(raw, v)
	case PolicyCSRF:
		v := &CSRFSpec{}
		return v, remarshalJSON(raw, v)
	case PolicyHeaderTransform:
		v := &HeaderTransformSpec{}
		return v, remarshalJSON(raw, v)
	case PolicyRateLimit:
		v := &RateLimitSpec{}
		return v, remarshalDuration(raw, v)
	case PolicyTimeouts:
		v := &TimeoutsSpec{}
		return v, remarshalDuration(raw, v)
	case PolicyRetry:
		v := &RetrySpec{}
		return v, remarshalDuration(raw, v)
	case PolicyBackendTLS:
		v := &BackendTLSSpec{}
		return v, remarshalJSON(raw, v)
	case PolicyHTTPVersion:
		v := &HTTPVersionSpec{}
		return v, remarshalJSON(raw, v)
	case PolicyTransform:
		v := &TransformSpec{}
		return v, remarshalJSON(raw, v)
	case PolicyBackendAuth:
		v := &BackendAuthSpec{}
		return v, remarshalJSON(raw, v)
	case PolicyInferenceRouting:
		v := &InferenceRoutingSpec{}
		return v, remarshalDuration(raw, v)
	case PolicyPromptGuard:
		v := &PromptGuardSpec{}
		return v, remarshalJSON(raw, v)
	case PolicyPromptEnrichment:
		v := &PromptEnrichmentSpec{}
		return v, remarshalJSON(raw, v)
	default:
		return nil, fmt.Errorf("unknown policy kind %q", kind)
	}
}

func remarshalJSON(raw map[string]any, out any) error {
	b, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, out)
}

// remarshalDuration is remarshalJSON plus post-processing of any "*s"
// string duration fields that YAML can't decode directly into
// time.Duration; callers pass already-typed structs so field names below
// cover the handful of Spec types with duration fields.
func remarshalDuration(raw map[string]any, out any) error {
	if err := remarshalJSON(raw, out); err != nil {
		return err
	}
	durationFields := map[string]*time.Duration{}
	switch v := out.(type) {
	case *ExtAuthzSpec:
		durationFields["timeout"] = &v.Timeout
	case *CORSSpec:
		durationFields["maxAge"] = &v.MaxAge
	case *RateLimitSpec:
		durationFields["unit"] = &v.Unit
	case *TimeoutsSpec:
		durationFields["connect"] = &v.Connect
		durationFields["request"] = &v.Request
		durationFields["idle"] = &v.Idle
	case *RetrySpec:
		durationFields["perTryTimeout"] = &v.PerTryTimeout
	case *InferenceRoutingSpec:
		durationFields["timeout"] = &v.Timeout
	}
	// Second pass with string-valued duration keys held back; they are
	// parsed below.
	rest := make(map[string]any, len(raw))
	for k, val := range raw {
		if _, isDuration := durationFields[k]; isDuration {
			if _, isString := val.(string); isString {
				continue
			}
		}
		rest[k] = val
	}
	if err := remarshalJSON(rest, out); err != nil {
		return err
	}
	for key, field := range durationFields {
		if s, ok := raw[key].(string); ok {
			d, err := time.ParseDuration(s)
			if err != nil {
				return fmt.Errorf("field %q: %w", key, err)
			}
			*field = d
		}
	}
	return nil
}
