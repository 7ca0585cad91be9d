package server

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentgateway/agentgateway-core/internal/celengine"
	"github.com/agentgateway/agentgateway-core/internal/config"
)

// AdminServer exposes the admin HTTP surface: readiness,
// Prometheus metrics, and an ad-hoc CEL evaluation endpoint for debugging
// policy expressions against sample data.
type AdminServer struct {
	Store *config.Store
	CEL   *celengine.Env
	mux   *http.ServeMux
}

func NewAdminServer(store *config.Store, cel *celengine.Env) *AdminServer {
	a := &AdminServer{Store: store, CEL: cel, mux: http.NewServeMux()}
	a.mux.HandleFunc("/healthz/ready", a.handleReady)
	a.mux.Handle("/metrics", promhttp.Handler())
	a.mux.HandleFunc("/cel", a.handleCEL)
	return a
}

func (a *AdminServer) ServeHTTP(w http.ResponseWriter, r *http.Request) { a.mux.ServeHTTP(w, r) }

func (a *AdminServer) handleReady(w http.ResponseWriter, r *http.Request) {
	if !a.Store.Ready() {
		http.Error(w, "no configuration snapshot applied yet", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

type celEvalRequest struct {
	Expression string                    `json:"expression"`
	Vars       map[string]map[string]any `json:"vars"`
}

type celEvalResponse struct {
	Value string `json:"value,omitempty"`
	Error string `json:"error,omitempty"`
}

// handleCEL evaluates an expression against caller-supplied schema
// bindings, bounded by the same sandbox (timeout, declared variables) used
// for policy evaluation.
func (a *AdminServer) handleCEL(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	var req celEvalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	vars := celengine.Vars{}
	for k, v := range req.Vars {
		vars[k] = v
	}
	result := a.CEL.Eval(r.Context(), req.Expression, vars)

	w.Header().Set("Content-Type", "application/json")
	if result.Err != nil {
		_ = json.NewEncoder(w).Encode(celEvalResponse{Error: result.Err.Error()})
		return
	}
	if result.Timeout {
		_ = json.NewEncoder(w).Encode(celEvalResponse{Error: "evaluation timed out"})
		return
	}
	_ = json.NewEncoder(w).Encode(celEvalResponse{Value: formatCELValue(result.Value)})
}

func formatCELValue(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
