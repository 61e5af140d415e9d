// Package metrics exposes Prometheus instrumentation for the iteration
// loop. Collectors live on the default registry; exposition (if any) is the
// embedder's concern.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // prometheus collectors are package-level by convention
var (
	IterationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentloop_iterations_total",
		Help: "Iteration attempts by final status.",
	}, []string{"status"})

	CostUSDTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentloop_cost_usd_total",
		Help: "Cumulative agent spend in USD.",
	})

	TokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentloop_tokens_total",
		Help: "Tokens consumed by direction (input/output).",
	}, []string{"direction"})

	IterationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "agentloop_iteration_duration_seconds",
		Help:    "Wall-clock duration of iteration attempts.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s .. ~68m
	})

	RetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentloop_retries_total",
		Help: "Retried iteration attempts.",
	})
)

// ObserveAttempt records one finished attempt.
func ObserveAttempt(status string, durationSeconds, costUSD float64, inputTokens, outputTokens int64) {
	IterationsTotal.WithLabelValues(status).Inc()
	IterationDuration.Observe(durationSeconds)
	if costUSD > 0 {
		CostUSDTotal.Add(costUSD)
	}
	if inputTokens > 0 {
		TokensTotal.WithLabelValues("input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		TokensTotal.WithLabelValues("output").Add(float64(outputTokens))
	}
}
