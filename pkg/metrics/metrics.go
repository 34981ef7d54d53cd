// Package metrics declares the Prometheus collectors shared by the dispatch services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sls"

var (
	// Heartbeats counts processed agent reports by result (ok, unknown_agent, invalid).
	Heartbeats = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "heartbeats_total",
		Help:      "Agent heartbeat reports processed, by result.",
	}, []string{"result"})

	// PersistFailures counts best-effort writes that failed, by record kind.
	PersistFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "persist_failures_total",
		Help:      "Best-effort persistence writes that failed.",
	}, []string{"kind"})

	// Alerts counts inactivity alerts by delivery outcome.
	Alerts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "inactivity_alerts_total",
		Help:      "Inactivity alerts raised, by delivery outcome.",
	}, []string{"delivery"})

	// AgentStates reports how many agents sit in each monitor state after a scan.
	AgentStates = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "agent_states",
		Help:      "Agents per inactivity state at the last scan.",
	}, []string{"state"})

	// ScanDuration observes monitor scan latency.
	ScanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "monitor_scan_duration_seconds",
		Help:      "Time spent evaluating agents in one monitor scan.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
	})

	// Orders counts order intakes by result.
	Orders = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orders_total",
		Help:      "Order intakes, by result.",
	}, []string{"result"})

	// Deliveries counts side-channel calls by channel and outcome.
	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deliveries_total",
		Help:      "Outbound notification and task-board calls, by channel and outcome.",
	}, []string{"channel", "outcome"})

	// RuleEntries reports the loaded rule table sizes per bucket.
	RuleEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "naming_rule_entries",
		Help:      "Filename rule entries loaded per bucket.",
	}, []string{"bucket"})
)

// Outcome maps a delivered flag to a label value.
func Outcome(delivered bool) string {
	if delivered {
		return "delivered"
	}
	return "failed"
}
