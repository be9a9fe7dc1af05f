package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the query pipeline. Registered once at package
// load via promauto.
var (
	queriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spectraq_queries_total",
		Help: "Total queries processed, by query type and outcome",
	}, []string{"query_type", "status"})

	queryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "spectraq_query_duration_seconds",
		Help:    "End-to-end query processing latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"query_type"})

	toolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spectraq_tool_calls_total",
		Help: "Tool invocations, by server and outcome",
	}, []string{"server", "status"})

	toolCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "spectraq_tool_call_duration_seconds",
		Help:    "Tool invocation latency, by server",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"server"})

	activeStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spectraq_active_streams",
		Help: "Streaming queries currently in flight",
	})

	llmTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spectraq_llm_tokens_total",
		Help: "LLM tokens consumed, by kind (prompt/completion)",
	}, []string{"kind"})
)

func recordQuery(queryType string, failed bool, seconds float64) {
	status := "ok"
	if failed {
		status = "error"
	}
	queriesTotal.WithLabelValues(queryType, status).Inc()
	queryDuration.WithLabelValues(queryType).Observe(seconds)
}

func recordToolCall(server string, failed bool, seconds float64) {
	status := "ok"
	if failed {
		status = "error"
	}
	toolCallsTotal.WithLabelValues(server, status).Inc()
	toolCallDuration.WithLabelValues(server).Observe(seconds)
}

func recordTokenUsage(usage map[string]int) {
	if usage == nil {
		return
	}
	llmTokensTotal.WithLabelValues("prompt").Add(float64(usage["prompt_tokens"]))
	llmTokensTotal.WithLabelValues("completion").Add(float64(usage["completion_tokens"]))
}
