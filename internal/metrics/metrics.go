// Package metrics exposes Prometheus collectors for the dispatch runtime.
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
	dispatchCallsTotal      *prometheus.CounterVec
	dispatchRetriesTotal    *prometheus.CounterVec
	dispatchInflight        *prometheus.GaugeVec
	dispatchQueueDepth      *prometheus.GaugeVec
	dispatchGateUsage       *prometheus.GaugeVec
	dispatchCallDuration    *prometheus.HistogramVec
	dispatchGateWaitSeconds *prometheus.HistogramVec
	traversalsTotal         *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors. It is safe to call this
// function multiple times.
func Init() {
	once.Do(func() {
		dispatchCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_calls_total",
				Help: "Total number of dispatched calls, labeled by service and outcome.",
			},
			[]string{"service", "outcome"},
		)

		dispatchRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_retries_total",
				Help: "Total number of transient-failure retries, labeled by service.",
			},
			[]string{"service"},
		)

		dispatchInflight = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dispatch_inflight_calls",
				Help: "Number of admitted calls currently executing, labeled by service.",
			},
			[]string{"service"},
		)

		dispatchQueueDepth = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dispatch_queue_depth",
				Help: "Number of work items waiting for admission, labeled by service.",
			},
			[]string{"service"},
		)

		dispatchGateUsage = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dispatch_rate_gate_usage",
				Help: "Trailing-window cost recorded by the rate gate, labeled by service.",
			},
			[]string{"service"},
		)

		dispatchCallDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dispatch_call_duration_seconds",
				Help:    "Histogram of backend call latencies, labeled by service.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"service"},
		)

		dispatchGateWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dispatch_rate_gate_wait_seconds",
				Help:    "Histogram of time items spent waiting on the rate gate.",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"service"},
		)

		traversalsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "decision_traversals_total",
				Help: "Total number of decision graph traversals, labeled by graph and outcome.",
			},
			[]string{"graph", "outcome"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCall records one finished call with its outcome and latency.
func ObserveCall(service, outcome string, duration time.Duration) {
	dispatchCallsTotal.WithLabelValues(service, outcome).Inc()
	dispatchCallDuration.WithLabelValues(service).Observe(duration.Seconds())
}

// ObserveRetry increments the retry counter for the service.
func ObserveRetry(service string) {
	dispatchRetriesTotal.WithLabelValues(service).Inc()
}

// ObserveGateWait records how long an item waited for admission.
func ObserveGateWait(service string, wait time.Duration) {
	dispatchGateWaitSeconds.WithLabelValues(service).Observe(wait.Seconds())
}

// SetQueueDepth reports the current queue depth for the service.
func SetQueueDepth(service string, depth int) {
	dispatchQueueDepth.WithLabelValues(service).Set(float64(depth))
}

// SetGateUsage reports the trailing-window usage for the service.
func SetGateUsage(service string, usage float64) {
	dispatchGateUsage.WithLabelValues(service).Set(usage)
}

// IncInflight increments the in-flight gauge for the service.
func IncInflight(service string) {
	dispatchInflight.WithLabelValues(service).Inc()
}

// DecInflight decrements the in-flight gauge for the service.
func DecInflight(service string) {
	dispatchInflight.WithLabelValues(service).Dec()
}

// ObserveTraversal records one finished decision graph traversal.
func ObserveTraversal(graph, outcome string) {
	traversalsTotal.WithLabelValues(graph, outcome).Inc()
}
