package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		chargesTotal,
		chargeLatencyMs,
		verificationMismatchesTotal,
	)
}

var (
	chargesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "charges_total",
			Help: "Charge attempts by outcome.",
		},
		[]string{"outcome"}, // 'settled', 'failed', 'not_due', 'in_progress'
	)

	chargeLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "charge_latency_ms",
			Help:    "End-to-end charge execution latency in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 15000, 45000},
		},
	)

	verificationMismatchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "charge_verification_mismatches_total",
			Help: "Transfers accepted by the ledger whose balance delta fell short of the charged amount.",
		},
	)
)

func IncCharge(outcome string) {
	chargesTotal.WithLabelValues(outcome).Inc()
}

func ObserveChargeLatencyMs(ms float64) {
	chargeLatencyMs.Observe(ms)
}

func IncVerificationMismatch() {
	verificationMismatchesTotal.Inc()
}
