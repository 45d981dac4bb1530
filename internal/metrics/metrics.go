package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeComputed labels evaluations persisted with a valuation.
	OutcomeComputed = "computed"
	// OutcomeInsufficientData labels evaluations with no valuation result.
	OutcomeInsufficientData = "insufficient_data"
	// OutcomeRejected labels submissions refused by validation or the completeness policy.
	OutcomeRejected = "rejected"
	// OutcomeError labels evaluations that failed on infrastructure.
	OutcomeError = "error"
)

const (
	// ReasonError labels a methodology that returned an error.
	ReasonError = "error"
	// ReasonPanic labels a methodology that panicked.
	ReasonPanic = "panic"
	// ReasonTimeout labels a methodology that did not return in time.
	ReasonTimeout = "timeout"
)

var (
	evaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "valuation",
			Name:      "evaluations_total",
			Help:      "Total number of evaluation runs, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	evaluationDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "valuation",
			Name:      "evaluation_seconds",
			Help:      "End-to-end evaluation latency in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
	)

	methodologyFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "valuation",
			Name:      "methodology_failures_total",
			Help:      "Methodologies excluded from a run because they failed, partitioned by methodology and reason.",
		},
		[]string{"methodology", "reason"},
	)

	cascadeFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "valuation",
			Name:      "cascade_failures_total",
			Help:      "Soft deletes rolled back because the cascade could not complete.",
		},
	)
)

// Register attaches the engine collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		evaluationsTotal,
		evaluationDurationSeconds,
		methodologyFailuresTotal,
		cascadeFailuresTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveEvaluation records an evaluation duration and outcome label.
func ObserveEvaluation(duration time.Duration, outcome string) {
	switch outcome {
	case OutcomeComputed, OutcomeInsufficientData, OutcomeRejected:
	default:
		outcome = OutcomeError
	}
	evaluationsTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	evaluationDurationSeconds.Observe(duration.Seconds())
}

// ObserveMethodologyFailure counts a methodology excluded from a run.
func ObserveMethodologyFailure(methodology, reason string) {
	methodologyFailuresTotal.WithLabelValues(methodology, reason).Inc()
}

// ObserveCascadeFailure counts a rolled back soft delete.
func ObserveCascadeFailure() {
	cascadeFailuresTotal.Inc()
}
