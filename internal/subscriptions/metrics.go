package subscriptions

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "graphwatch"

var (
	renewalOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "renewal",
			Name:      "outcomes_total",
			Help:      "Renewal attempts by outcome",
		},
		[]string{"outcome"},
	)

	renewalCandidates = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "renewal",
			Name:      "candidates",
			Help:      "Subscriptions within the lookahead window at the last pass",
		},
	)

	renewalPassDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "renewal",
			Name:      "pass_duration_seconds",
			Help:      "Duration of a renewal pass",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	provisionAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provision",
			Name:      "attempts_total",
			Help:      "Subscription creation attempts by kind and status",
		},
		[]string{"kind", "status"},
	)
)

func recordRenewalOutcome(outcome string) {
	renewalOutcomes.WithLabelValues(outcome).Inc()
}

func recordRenewalCandidates(count int) {
	renewalCandidates.Set(float64(count))
}

func recordRenewalPassDuration(d time.Duration) {
	renewalPassDuration.Observe(d.Seconds())
}

func recordProvisionAttempt(kind, status string) {
	provisionAttempts.WithLabelValues(kind, status).Inc()
}
