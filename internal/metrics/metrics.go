// Package metrics exposes Prometheus instrumentation for the signal
// processing loop. Collectors are registered on the default registry and
// served from the status API's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CyclesTotal counts completed signal cycles by resulting action.
	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dca_bot",
		Name:      "signal_cycles_total",
		Help:      "Completed signal processing cycles by resulting action.",
	}, []string{"action"})

	// OrdersTotal counts exchange orders by side and outcome.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dca_bot",
		Name:      "orders_total",
		Help:      "Exchange orders placed by side and outcome.",
	}, []string{"side", "outcome"})

	// DeclinedBuysTotal counts buy declines by reason class.
	DeclinedBuysTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dca_bot",
		Name:      "declined_buys_total",
		Help:      "Buy intents declined by the budget allocator or admission control.",
	}, []string{"reason"})

	// OpenPositions tracks currently open positions.
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dca_bot",
		Name:      "open_positions",
		Help:      "Number of currently open positions.",
	})

	// CycleDuration observes wall time per signal cycle.
	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "dca_bot",
		Name:      "signal_cycle_duration_seconds",
		Help:      "Signal cycle wall time.",
		Buckets:   prometheus.DefBuckets,
	})
)

// Decline reason classes for DeclinedBuysTotal.
const (
	DeclineMaxDeals     = "max_deals"
	DeclineCooldown     = "cooldown"
	DeclineBudget       = "insufficient_budget"
	DeclineBelowMinimum = "below_minimum"
	DeclineConditions   = "conditions_not_met"
	DeclineNeutralZone  = "neutral_zone"
	DeclineSlippage     = "slippage_guard"
)
