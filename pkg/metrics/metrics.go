package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FamilyJoins records join-by-invite-code outcomes, labelled by error kind
	// or "success".
	FamilyJoins = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medstock_family_joins_total",
			Help: "Total number of family join attempts",
		},
		[]string{"result"},
	)

	// UserApprovals counts admin approval decisions (approved|rejected).
	UserApprovals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medstock_user_approvals_total",
			Help: "Total number of user approval decisions",
		},
		[]string{"status"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "medstock_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
