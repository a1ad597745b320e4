// Package metrics exposes the run-level Prometheus instrumentation the
// orchestrator emits: findings per run, per-provider call outcomes,
// run duration, and cache hit/miss counts.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mpr_runs_total",
			Help: "Total orchestrator runs, labeled by terminal outcome.",
		},
		[]string{"outcome"},
	)
	runDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mpr_run_duration_seconds",
			Help:    "Wall-clock duration of an orchestrator run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"outcome"},
	)
	findingsEmitted = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mpr_findings_emitted",
			Help:    "Number of findings a run surfaces after consensus and suppression.",
			Buckets: []float64{0, 1, 3, 5, 10, 20, 50},
		},
		[]string{"intensity"},
	)
	providerCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mpr_provider_calls_total",
			Help: "Provider Client invocations, labeled by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)
	cacheResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mpr_cache_results_total",
			Help: "Run cache lookups, labeled hit or miss.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		runsTotal,
		runDurationSeconds,
		findingsEmitted,
		providerCallsTotal,
		cacheResultsTotal,
	)
}

// ObserveRun records a completed run's terminal outcome and duration.
func ObserveRun(outcome string, duration time.Duration) {
	runsTotal.WithLabelValues(outcome).Inc()
	runDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveFindings records how many findings a run surfaced at a given
// intensity.
func ObserveFindings(intensity string, count int) {
	findingsEmitted.WithLabelValues(intensity).Observe(float64(count))
}

// ObserveProviderCall records one Provider Client invocation outcome
// (the orchestrator reports success, timeout, rate-limited or error).
func ObserveProviderCall(provider, outcome string) {
	providerCallsTotal.WithLabelValues(provider, outcome).Inc()
}

// ObserveCacheResult records a run-cache lookup as a hit or miss.
func ObserveCacheResult(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheResultsTotal.WithLabelValues(result).Inc()
}
