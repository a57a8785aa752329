package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PurchaseRequestsCreated counts purchase intents accepted.
	PurchaseRequestsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "purchase_requests_created_total",
		Help: "Number of purchase requests created",
	})

	// PurchaseTransitions counts purchase request status transitions.
	PurchaseTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "purchase_request_transitions_total",
		Help: "Purchase request status transitions by target status",
	}, []string{"to"})

	// CustodyStepsExecuted counts successful custody step advances.
	CustodyStepsExecuted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "custody_steps_executed_total",
		Help: "Number of custody transfer steps advanced",
	})

	// CustodyStepConflicts counts duplicate step executions absorbed by the
	// idempotency guard.
	CustodyStepConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "custody_step_conflicts_total",
		Help: "Number of duplicate step executions resolved idempotently",
	})

	// EscrowSettlements counts escrow settlements by outcome.
	EscrowSettlements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_settlements_total",
		Help: "Escrow settlements by outcome (released, refunded, frozen)",
	}, []string{"outcome"})

	// BridgeTransfers counts value bridge submissions by final report.
	BridgeTransfers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_transfers_total",
		Help: "Value bridge transfers by status",
	}, []string{"status"})

	// BridgeSubmissionDuration observes the latency of bridge submissions.
	BridgeSubmissionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bridge_submission_duration_seconds",
		Help:    "Latency of bridge endpoint submissions",
		Buckets: prometheus.DefBuckets,
	})

	// FeeQuotes counts fee oracle lookups by result.
	FeeQuotes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fee_quotes_total",
		Help: "Fee oracle quote requests by result",
	}, []string{"result"})

	// ManualConversionsPending gauges transfers flagged for manual
	// conversion retry.
	ManualConversionsPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bridge_manual_conversions_pending",
		Help: "Transfers waiting for a manual asset conversion",
	})
)
