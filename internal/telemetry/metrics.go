package telemetry

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the per-route/backend counters and histograms Registered once
// at boot against the default Prometheus registry so GET /metrics can scrape
// them directly.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	BytesIn          *prometheus.CounterVec
	BytesOut         *prometheus.CounterVec
	RetriesTotal     *prometheus.CounterVec
	RateLimitedTotal *prometheus.CounterVec
	AITokensTotal    *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentgateway",
			Name:      "requests_total",
			Help:      "Total requests processed, labeled by route, backend, and response code.",
		}, []string{"route", "backend", "code"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentgateway",
			Name:      "request_duration_seconds",
			Help:      "Request latency from accept to completion.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "backend"}),
		BytesIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentgateway",
			Name:      "request_bytes_total",
			Help:      "Total request bytes received.",
		}, []string{"route", "backend"}),
		BytesOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentgateway",
			Name:      "response_bytes_total",
			Help:      "Total response bytes sent.",
		}, []string{"route", "backend"}),
		RetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentgateway",
			Name:      "retries_total",
			Help:      "Total upstream retry attempts, labeled by outcome.",
		}, []string{"route", "backend", "outcome"}),
		RateLimitedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentgateway",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by a RateLimit policy.",
		}, []string{"route"}),
		AITokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentgateway",
			Name:      "ai_tokens_total",
			Help:      "LLM token usage, labeled by backend, provider, and direction.",
		}, []string{"backend", "provider", "direction"}),
	}
	reg.MustRegister(m.RequestsTotal, m.RequestDuration, m.BytesIn, m.BytesOut, m.RetriesTotal, m.RateLimitedTotal, m.AITokensTotal)
	return m
}

// Observe records one completed request's Record against the metric set.
func (m *Metrics) Observe(r *Record) {
	code := "0"
	if r.ResponseCode != 0 {
		code = strconv.Itoa(r.ResponseCode)
	}
	m.RequestsTotal.WithLabelValues(r.RouteName, r.BackendName, code).Inc()
	m.RequestDuration.WithLabelValues(r.RouteName, r.BackendName).Observe(r.TotalLatency().Seconds())
	m.BytesIn.WithLabelValues(r.RouteName, r.BackendName).Add(float64(r.BytesIn))
	m.BytesOut.WithLabelValues(r.RouteName, r.BackendName).Add(float64(r.BytesOut))
	if r.RetryCount > 0 {
		m.RetriesTotal.WithLabelValues(r.RouteName, r.BackendName, r.RetryOutcome).Add(float64(r.RetryCount))
	}
	if r.AITotalTokens > 0 {
		m.AITokensTotal.WithLabelValues(r.BackendName, r.AIProvider, "input").Add(float64(r.AIInputTokens))
		m.AITokensTotal.WithLabelValues(r.BackendName, r.AIProvider, "output").Add(float64(r.AIOutputTokens))
	}
}
