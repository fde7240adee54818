package metrics

import (
	"delegated-billing/internal/domain/model"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		grantsIssuedTotal,
		grantsActivatedTotal,
		subscriptionsTotal,
	)
}

var (
	grantsIssuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "grants_issued_total",
			Help: "Total delegated-authority grants issued.",
		},
	)

	grantsActivatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "grants_activated_total",
			Help: "Total grants activated after on-ledger approval.",
		},
	)

	subscriptionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "subscriptions_total",
			Help: "Current number of subscriptions by status.",
		},
		[]string{"status"}, // 'pending', 'active', 'expired', 'revoked'
	)
)

func IncGrantsIssued()    { grantsIssuedTotal.Inc() }
func IncGrantsActivated() { grantsActivatedTotal.Inc() }

func SetSubscriptionsTotal(counts map[model.SubscriptionStatus]int) {
	statuses := []model.SubscriptionStatus{
		model.SubscriptionStatusPending,
		model.SubscriptionStatusActive,
		model.SubscriptionStatusExpired,
		model.SubscriptionStatusRevoked,
	}
	// Absent statuses reset to zero so the gauge never reports a stale count.
	for _, status := range statuses {
		subscriptionsTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}
