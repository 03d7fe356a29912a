// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DecisionsTotal counts decisions by outcome.
	DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fraud",
		Name:      "decisions_total",
		Help:      "Decisions returned, labeled by outcome.",
	}, []string{"decision"})

	// DecisionLatency tracks end-to-end decision latency.
	DecisionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fraud",
		Name:      "decision_latency_seconds",
		Help:      "End-to-end decision pipeline latency.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.2, 0.4, 1},
	})

	// StageLatency tracks per-stage latency against the soft budgets.
	StageLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fraud",
		Name:      "stage_latency_seconds",
		Help:      "Pipeline stage latency.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.2},
	}, []string{"stage"})

	// SlowRequests counts requests breaching the hard deadline.
	SlowRequests = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fraud",
		Name:      "slow_requests_total",
		Help:      "Requests exceeding the end-to-end latency target.",
	})

	// CacheHits counts idempotency cache hits.
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fraud",
		Name:      "idempotency_hits_total",
		Help:      "Decisions served from the idempotency cache.",
	})

	// EvidenceCaptureFailures counts failed evidence writes. Capture
	// failures never fail the request, so this is the only signal.
	EvidenceCaptureFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fraud",
		Name:      "evidence_capture_failures_total",
		Help:      "Evidence rows that could not be written.",
	})

	// SideEffectCancellations counts post-decision side effects cancelled
	// after the response was emitted.
	SideEffectCancellations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fraud",
		Name:      "side_effect_cancellations_total",
		Help:      "Post-decision side effects cancelled before completion.",
	})

	// MLScores counts ML scoring outcomes by variant and result.
	MLScores = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fraud",
		Name:      "ml_scores_total",
		Help:      "ML scorer invocations by variant and outcome.",
	}, []string{"variant", "outcome"})

	// DetectorTriggers counts detector trigger events.
	DetectorTriggers = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fraud",
		Name:      "detector_triggers_total",
		Help:      "Detector triggers by detector name.",
	}, []string{"detector"})

	// KafkaPublishErrors counts failed decision event publishes.
	KafkaPublishErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fraud",
		Name:      "kafka_publish_errors_total",
		Help:      "Decision events that failed to publish.",
	})
)
