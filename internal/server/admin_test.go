package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentgateway/agentgateway-core/internal/celengine"
	"github.com/agentgateway/agentgateway-core/internal/config"
)

func TestHandleReadyBeforeAnySnapshot(t *testing.T) {
	a := NewAdminServer(config.NewStore(), celengine.MustSchemaEnv())
	w := httptest.NewRecorder()
	a.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHandleReadyAfterSnapshotApplied(t *testing.T) {
	store := config.NewStore()
	result := store.ApplyDocument(minimalDocument())
	require.True(t, result.Accepted, "%+v", result.Errors)

	a := NewAdminServer(store, celengine.MustSchemaEnv())
	w := httptest.NewRecorder()
	a.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz/ready", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ready", w.Body.String())
}

func TestHandleCELRejectsNonPost(t *testing.T) {
	a := NewAdminServer(config.NewStore(), celengine.MustSchemaEnv())
	w := httptest.NewRecorder()
	a.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/cel", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandleCELEvaluatesExpression(t *testing.T) {
	a := NewAdminServer(config.NewStore(), celengine.MustSchemaEnv())
	body := `{"expression":"request.method == 'GET'","vars":{"request":{"method":"GET"}}}`
	w := httptest.NewRecorder()
	a.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/cel", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, w.Code)
	var resp celEvalResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.Error)
	assert.Equal(t, "true", resp.Value)
}

func TestHandleCELReportsCompileError(t *testing.T) {
	a := NewAdminServer(config.NewStore(), celengine.MustSchemaEnv())
	body := `{"expression":"this is not valid cel ("}`
	w := httptest.NewRecorder()
	a.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/cel", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, w.Code)
	var resp celEvalResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Error)
}

func minimalDocument() *config.Document {
	return &config.Document{
		Binds:     []config.BindDoc{{Name: "web", Address: "0.0.0.0", Port: 8080, Protocol: "HTTP"}},
		Listeners: []config.ListenerDoc{{Name: "default", Bind: "web", Hostnames: []string{"*"}}},
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
			Rules: []config.RuleDoc{{
				Name:     "rule1",
				Backends: []config.WeightedBackendDoc{{Backend: "svc1", Weight: 1}},
			}},
		}},
	}
}
