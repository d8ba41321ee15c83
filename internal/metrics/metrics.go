// Package metrics exposes Prometheus collectors for the ingestion engine.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	sourceFetchTotal           *prometheus.CounterVec
	sourceFetchDurationSeconds *prometheus.HistogramVec
	candidatesTotal            *prometheus.CounterVec
	upsertsTotal               *prometheus.CounterVec
	sweepDurationSeconds       prometheus.Histogram
	sweepFlaggedTotal          prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		sourceFetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grantwatch_source_fetch_total",
				Help: "Source fetch attempts, labeled by source and result.",
			},
			[]string{"source", "result"},
		)

		sourceFetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "grantwatch_source_fetch_duration_seconds",
				Help:    "Histogram of source fetch latencies, labeled by source.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"source"},
		)

		candidatesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grantwatch_candidates_total",
				Help: "Candidates seen per source, labeled by admission outcome.",
			},
			[]string{"source", "outcome"},
		)

		upsertsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grantwatch_upserts_total",
				Help: "Upsert results per source, labeled by outcome.",
			},
			[]string{"source", "outcome"},
		)

		sweepDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "grantwatch_deadline_sweep_duration_seconds",
				Help:    "Histogram of deadline monitor sweep durations.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		)

		sweepFlaggedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "grantwatch_deadline_sweep_flagged_total",
				Help: "Records flagged urgent by the deadline monitor.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one source fetch attempt.
func ObserveFetch(source string, err bool, duration time.Duration) {
	result := "ok"
	if err {
		result = "error"
	}
	sourceFetchTotal.WithLabelValues(source, result).Inc()
	sourceFetchDurationSeconds.WithLabelValues(source).Observe(duration.Seconds())
}

// ObserveCandidate records one candidate's admission outcome.
func ObserveCandidate(source string, admitted bool) {
	outcome := "admitted"
	if !admitted {
		outcome = "rejected"
	}
	candidatesTotal.WithLabelValues(source, outcome).Inc()
}

// ObserveUpsert records one upsert outcome ("created", "updated", "failed").
func ObserveUpsert(source, outcome string) {
	upsertsTotal.WithLabelValues(source, outcome).Inc()
}

// ObserveSweep records one deadline monitor sweep.
func ObserveSweep(duration time.Duration, flagged int) {
	sweepDurationSeconds.Observe(duration.Seconds())
	if flagged > 0 {
		sweepFlaggedTotal.Add(float64(flagged))
	}
}
