package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	salesApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_sales_applied_total",
		Help: "Completed sales posted to the ledger.",
	}, []string{"kind"})

	commissionPosted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_commission_minor_units_total",
		Help: "Minor units credited to wallets by sales, per party.",
	}, []string{"party"})

	withdrawalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_withdrawals_total",
		Help: "Withdrawal state changes.",
	}, []string{"status"})

	payoutEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_payout_events_total",
		Help: "Payout events handled by the consumer.",
	}, []string{"type"})

	payoutConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_payout_conflicts_total",
		Help: "Provider payouts reported for withdrawals that were already reversed.",
	})

	gatewayDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_gateway_request_duration_seconds",
		Help:    "Latency of payment gateway calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
)
