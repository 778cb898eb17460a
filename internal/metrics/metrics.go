// Package metrics provides Prometheus instrumentation for contentguard. It
// exposes counters for checks and gate decisions, histograms for classifier
// and review latency, and gauges for the draft gateway and review queue.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ChecksTotal counts pipeline checks by the stage that answered and the
	// outcome: "clean", "flagged", "empty" or "failed".
	ChecksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "contentguard_checks_total",
		Help: "Total number of moderation checks",
	}, []string{"source", "outcome"})

	// ClassifyLatency records remote classifier round trips in seconds.
	// Inference can be slow, hence the wide buckets.
	ClassifyLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "contentguard_classify_latency_seconds",
		Help:    "Remote classifier request latency in seconds",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	})

	// ClassifyErrors counts failed classifier calls by error kind.
	ClassifyErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "contentguard_classify_errors_total",
		Help: "Total number of failed classifier calls",
	}, []string{"kind"})

	// DenyListTerms is the size of the loaded deny list.
	DenyListTerms = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "contentguard_denylist_terms",
		Help: "Number of terms in the loaded deny list",
	})

	// GateDecisions counts policy gate decisions by content type and decision.
	GateDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "contentguard_gate_decisions_total",
		Help: "Total number of policy gate decisions",
	}, []string{"content_type", "decision"})

	// DebounceCollapsed counts pending checks cancelled by a newer edit.
	DebounceCollapsed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "contentguard_debounce_collapsed_total",
		Help: "Pending checks superseded before their timer fired",
	})

	// DebounceDiscarded counts completed checks whose result arrived after a
	// newer check had started.
	DebounceDiscarded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "contentguard_debounce_discarded_total",
		Help: "Check results dropped on arrival because they were superseded",
	})

	// ConnectionsTotal tracks the current number of draft gateway connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "contentguard_connections_total",
		Help: "Current number of active draft gateway connections",
	})

	// ReviewQueueDepth tracks submissions waiting for a review worker.
	ReviewQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "contentguard_review_queue_depth",
		Help: "Current number of submissions waiting for review",
	})

	// ReviewsTotal counts reviewed submissions by result: a gate decision,
	// "rate_limited", "queue_full" or "stopped".
	ReviewsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "contentguard_reviews_total",
		Help: "Total number of reviewed submissions",
	}, []string{"result"})

	// ReviewLatency records end-to-end review time in seconds.
	ReviewLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "contentguard_review_latency_seconds",
		Help:    "Submission review latency in seconds",
		Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 30, 60},
	})

	// SuspensionsTotal counts author suspensions issued after repeated
	// flagged submissions.
	SuspensionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "contentguard_suspensions_total",
		Help: "Total number of author suspensions issued",
	})
)

func init() {
	prometheus.MustRegister(
		ChecksTotal,
		ClassifyLatency,
		ClassifyErrors,
		DenyListTerms,
		GateDecisions,
		DebounceCollapsed,
		DebounceDiscarded,
		ConnectionsTotal,
		ReviewQueueDepth,
		ReviewsTotal,
		ReviewLatency,
		SuspensionsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
