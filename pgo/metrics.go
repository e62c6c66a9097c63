package pgo

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// admissionTotal counts processing calls by strategy and decision
	admissionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "robustpgo_admission_total",
		Help: "Processed batches by strategy and re-optimization decision",
	}, []string{"strategy", "reoptimize"})

	// constraintTotal counts classified constraints by outcome
	constraintTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "robustpgo_constraints_total",
		Help: "Constraints seen by strategy, type and outcome",
	}, []string{"strategy", "type", "outcome"})

	// optimizeDuration tracks optimizer latency per graph
	optimizeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "robustpgo_optimize_duration_seconds",
		Help:    "Optimizer call duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"graph"})
)

func recordDecision(strategy string, reoptimize bool) {
	admissionTotal.WithLabelValues(strategy, strconv.FormatBool(reoptimize)).Inc()
}

func recordConstraint(strategy string, t ConstraintType, accepted bool) {
	outcome := "rejected"
	if accepted {
		outcome = "accepted"
	}
	constraintTotal.WithLabelValues(strategy, typeLabel(t), outcome).Inc()
}

// typeLabel bounds the type label to the known constraint types.
func typeLabel(t ConstraintType) string {
	switch t {
	case Odometry, LoopClosure, Prior:
		return string(t)
	}
	return "other"
}
