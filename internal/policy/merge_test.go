package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentgateway/agentgateway-core/internal/config"
)

func buildSnapshotWithPolicies(t *testing.T, doc *config.Document) *config.Snapshot {
	t.Helper()
	snap, err := config.BuildSnapshot(doc, 1)
	require.NoError(t, err)
	return snap
}

func baseDocument() *config.Document {
	return &config.Document{
		Binds:     []config.BindDoc{{Name: "web", Address: "0.0.0.0", Port: 8080, Protocol: "HTTP"}},
		Listeners: []config.ListenerDoc{{Name: "default", Bind: "web", Hostnames: []string{"*"}, Policies: []string{"listener-headers"}}},
		Backends: []config.BackendDoc{{
			Name: "svc1",
			Service: &struct {
				Hostname    string `json:"hostname"`
				Port        uint32 `json:"port"`
				AppProtocol string `json:"appProtocol"`
			}{Hostname: "svc1.internal", Port: 80},
		}},
		Routes: []config.RouteDoc{{
			Name:     "r1",
			Listener: "default",
			Path:     "/",
			PathType: "prefix",
			Policies: []string{"route-headers", "route-jwt"},
			Rules: []config.RuleDoc{{
				Name:     "rule1",
				Backends: []config.WeightedBackendDoc{{Backend: "svc1", Weight: 1}},
			}},
		}},
		Policies: []config.PolicyDoc{
			{
				Name: "listener-headers", Kind: "HeaderTransform", Scope: "listener",
				Spec: map[string]any{
					"request": []map[string]any{
						{"name": "x-from-listener", "value": "1", "op": "add_header"},
						{"name": "x-shared", "value": "listener-value", "op": "add_header"},
					},
				},
			},
			{
				Name: "route-headers", Kind: "HeaderTransform", Scope: "route",
				Spec: map[string]any{
					"request": []map[string]any{
						{"name": "x-shared", "value": "route-value", "op": "set_header"},
					},
				},
			},
			{
				Name: "route-jwt", Kind: "JWT", Scope: "route",
				Spec: map[string]any{
					"providers": []map[string]any{
						{"issuer": "https://issuer.example", "audiences": []string{"aud1"}},
					},
				},
			},
		},
	}
}

func TestEffectiveJWTDecodesToPointer(t *testing.T) {
	snap := buildSnapshotWithPolicies(t, baseDocument())
	route := &snap.Routes[0]
	chain := Chain{Listener: &snap.Listeners[0], Route: route}

	jwt := EffectiveJWT(snap, chain)
	require.NotNil(t, jwt, "JWT policy must decode to a non-nil effective spec")
	require.Len(t, jwt.Providers, 1)
	assert.Equal(t, "https://issuer.example", jwt.Providers[0].Issuer)
	assert.Equal(t, []string{"aud1"}, jwt.Providers[0].Audiences)
}

func TestEffectiveHeaderTransformDeepMerges(t *testing.T) {
	snap := buildSnapshotWithPolicies(t, baseDocument())
	route := &snap.Routes[0]
	chain := Chain{Listener: &snap.Listeners[0], Route: route}

	ht := EffectiveHeaderTransform(snap, chain)
	require.NotNil(t, ht)

	byName := map[string]config.HeaderOp{}
	for _, op := range ht.Request {
		byName[op.Name] = op
	}
	require.Contains(t, byName, "x-from-listener")
	require.Contains(t, byName, "x-shared")
	assert.Equal(t, "listener-value", byName["x-from-listener"].Value)
	assert.Equal(t, "route-value", byName["x-shared"].Value, "route scope must override the listener's value for the same header name")
}

func TestEffectiveReturnsNilWhenNoPolicyOfKindAttached(t *testing.T) {
	snap := buildSnapshotWithPolicies(t, baseDocument())
	route := &snap.Routes[0]
	chain := Chain{Listener: &snap.Listeners[0], Route: route}

	assert.Nil(t, EffectiveCORS(snap, chain))
	assert.Nil(t, EffectiveBasicAuth(snap, chain))
}
