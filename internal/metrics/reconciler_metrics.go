package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PurchaseResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buttonclicker_purchase_results_total",
			Help: "Purchase results received, by outcome",
		},
		[]string{"outcome"},
	)

	UpdatePagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buttonclicker_purchase_update_pages_total",
			Help: "Purchase history pages received, by status",
		},
		[]string{"status"},
	)

	RevocationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "buttonclicker_revocations_total",
			Help: "Revoked SKUs applied to entitlement state",
		},
	)

	StaleResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buttonclicker_stale_results_total",
			Help: "Results discarded because they belong to a user that is no longer tracked",
		},
		[]string{"kind"},
	)

	UnknownRequestsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "buttonclicker_unknown_requests_total",
			Help: "Already-entitled results whose request id was not pending",
		},
	)

	PendingEvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buttonclicker_pending_evictions_total",
			Help: "Pending purchase requests dropped before a result arrived",
		},
		[]string{"reason"},
	)

	CommitFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "buttonclicker_commit_failures_total",
			Help: "Entitlement commits that did not persist",
		},
	)

	UserSwitchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "buttonclicker_user_switches_total",
			Help: "Times the tracked user changed",
		},
	)
)

// RecordPurchaseResult counts a purchase result by outcome.
func RecordPurchaseResult(outcome string) {
	PurchaseResultsTotal.WithLabelValues(outcome).Inc()
}

// RecordUpdatePage counts a purchase history page by status.
func RecordUpdatePage(status string) {
	UpdatePagesTotal.WithLabelValues(status).Inc()
}

// RecordStaleResult counts a discarded result.
func RecordStaleResult(kind string) {
	StaleResultsTotal.WithLabelValues(kind).Inc()
}

// RecordPendingEviction counts a pending request dropped by the registry.
func RecordPendingEviction(reason string) {
	PendingEvictionsTotal.WithLabelValues(reason).Inc()
}
