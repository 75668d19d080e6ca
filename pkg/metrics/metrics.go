// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// QuotaDecisionsTotal tracks admission decisions by backend and outcome.
	QuotaDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quota_decisions_total",
			Help: "Quota admission decisions",
		},
		[]string{"backend", "outcome"},
	)

	// AIRequestsTotal tracks AI requests reaching a terminal state.
	AIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_requests_total",
			Help: "AI requests by source and terminal status",
		},
		[]string{"source", "status"},
	)

	// AIRequestDuration tracks generation wall-clock time.
	AIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_request_duration_seconds",
			Help:    "AI request processing duration",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"source", "status"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"provider", "direction"},
	)

	// WebhookRequestsTotal tracks webhook deliveries by integration type and outcome.
	WebhookRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_requests_total",
			Help: "Webhook deliveries by integration type and outcome",
		},
		[]string{"type", "outcome"},
	)

	// WSConnectionsActive tracks admitted websocket connections.
	WSConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_connections_active",
			Help: "Number of active websocket connections",
		},
	)

	// StreamsActive tracks in-flight streaming sessions.
	StreamsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stream_sessions_active",
			Help: "Number of in-flight streaming sessions",
		},
	)

	// StreamChunksTotal tracks chunks emitted to stream owners.
	StreamChunksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stream_chunks_total",
			Help: "Stream chunks emitted",
		},
	)

	// StreamSessionsTotal tracks finished stream sessions by final state.
	StreamSessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_sessions_total",
			Help: "Finished stream sessions by final state",
		},
		[]string{"state"},
	)

	// BroadcastDropsTotal tracks room events dropped for slow receivers.
	BroadcastDropsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_broadcast_drops_total",
			Help: "Room events dropped because a receiver buffer was full",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordQuotaDecision records one admission decision.
func RecordQuotaDecision(backend, outcome string) {
	QuotaDecisionsTotal.WithLabelValues(backend, outcome).Inc()
}

// RecordAIRequest records a request reaching a terminal state.
func RecordAIRequest(source, status string, duration float64) {
	AIRequestsTotal.WithLabelValues(source, status).Inc()
	AIRequestDuration.WithLabelValues(source, status).Observe(duration)
}

// RecordTokens records token usage for a provider.
func RecordTokens(provider string, prompt, completion int) {
	LLMTokensTotal.WithLabelValues(provider, "in").Add(float64(prompt))
	LLMTokensTotal.WithLabelValues(provider, "out").Add(float64(completion))
}

// RecordWebhook records a webhook delivery outcome.
func RecordWebhook(integrationType, outcome string) {
	WebhookRequestsTotal.WithLabelValues(integrationType, outcome).Inc()
}

// IncrementWSConnections increments the active websocket connection count.
func IncrementWSConnections() {
	WSConnectionsActive.Inc()
}

// DecrementWSConnections decrements the active websocket connection count.
func DecrementWSConnections() {
	WSConnectionsActive.Dec()
}
