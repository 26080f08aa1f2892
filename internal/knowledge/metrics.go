package knowledge

// Prometheus metrics for the knowledge base.

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CandidatesTotal counts candidate intake by result.
	// Labels: result (new, duplicate, malformed, error)
	CandidatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rulebank",
			Subsystem: "knowledge",
			Name:      "candidates_total",
			Help:      "Total number of ingested rule candidates by result",
		},
		[]string{"result"},
	)

	// DecisionsTotal counts validation decisions.
	// Labels: decision (promote, hold, reject)
	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rulebank",
			Subsystem: "knowledge",
			Name:      "validation_decisions_total",
			Help:      "Total number of validation engine decisions",
		},
		[]string{"decision"},
	)

	// OutcomesTotal counts recorded outcome evidence events.
	// Labels: outcome (success, partial, failure)
	OutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rulebank",
			Subsystem: "knowledge",
			Name:      "outcomes_total",
			Help:      "Total number of recorded outcome evidence events",
		},
		[]string{"outcome"},
	)

	// StoreBusyRetries counts bounded-wait lock timeouts that triggered a
	// retry.
	StoreBusyRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rulebank",
			Subsystem: "knowledge",
			Name:      "store_busy_retries_total",
			Help:      "Total number of store-busy retries",
		},
	)

	// SyncBatchesTotal counts synchronizer cycles by result.
	// Labels: result (applied, empty, error)
	SyncBatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rulebank",
			Subsystem: "sync",
			Name:      "batches_total",
			Help:      "Total number of synchronization batches by result",
		},
		[]string{"result"},
	)

	// SyncConflictsTotal counts merges whose confidence estimates diverged
	// beyond the conflict spread. Conflicts resolve deterministically; the
	// counter exists so divergence is visible.
	SyncConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rulebank",
			Subsystem: "sync",
			Name:      "conflicts_total",
			Help:      "Total number of sync merges with conflicting confidence estimates",
		},
	)

	// SyncMergedRules counts rules merged into the total store.
	// Labels: kind (inserted, merged)
	SyncMergedRules = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rulebank",
			Subsystem: "sync",
			Name:      "merged_rules_total",
			Help:      "Total number of rules merged into the total store",
		},
		[]string{"kind"},
	)

	// RuleConfidence observes confidence values after each update.
	RuleConfidence = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "rulebank",
			Subsystem: "knowledge",
			Name:      "rule_confidence",
			Help:      "Distribution of rule confidence after updates",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	// StoreRules gauges the number of rules per store scope and status.
	StoreRules = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "rulebank",
			Subsystem: "store",
			Name:      "rules",
			Help:      "Number of rules per store scope and validation status",
		},
		[]string{"scope", "status"},
	)
)

// UpdateStoreGauges mirrors store stats into the Prometheus gauges.
func UpdateStoreGauges(stats *StoreStats) {
	if stats == nil {
		return
	}
	for status, n := range stats.ByStatus {
		StoreRules.WithLabelValues(string(stats.Scope), string(status)).Set(float64(n))
	}
}
