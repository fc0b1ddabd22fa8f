// Package metrics holds the Prometheus instruments for rule matching.
package metrics

import (
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Match sources used as the "source" label.
const (
	SourceStatic   = "static"
	SourceGroup    = "group"
	SourceCategory = "category"
	SourceAI       = "ai"
	SourceNone     = "none"
)

// Rule matching metrics
var (
	RuleMatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rules_matches_total",
			Help: "Messages evaluated, by the condition source that decided the match",
		},
		[]string{"source"},
	)

	RuleEvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rules_evaluation_duration_seconds",
			Help:    "Time spent matching one message against a rule set, oracle included",
			Buckets: prometheus.DefBuckets,
		},
	)

	StoreLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rules_store_lookups_total",
			Help: "Data-store lookups issued by evaluation passes",
		},
		[]string{"kind"},
	)

	InvalidPatternsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rules_invalid_patterns_total",
			Help: "Static patterns that failed to compile",
		},
	)
)

// Oracle metrics
var (
	OracleCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rules_oracle_calls_total",
			Help: "Oracle calls by result (selected, none, error)",
		},
		[]string{"result"},
	)

	OracleCallDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rules_oracle_call_duration_seconds",
			Help:    "Latency of oracle calls",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)
)

// Bulk run metrics
var (
	BulkJobsEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rules_bulk_jobs_enqueued_total",
			Help: "Messages enqueued for a bulk rule run",
		},
	)

	BulkJobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rules_bulk_jobs_processed_total",
			Help: "Bulk rule-run jobs processed, by status",
		},
		[]string{"status"},
	)
)

// ObserveMatch records the outcome of one message evaluation.
func ObserveMatch(source string, elapsed time.Duration) {
	if source == "" {
		source = SourceNone
	}
	RuleMatchesTotal.WithLabelValues(source).Inc()
	RuleEvaluationDuration.Observe(elapsed.Seconds())
}

// ObserveOracle records one oracle call.
func ObserveOracle(result string, elapsed time.Duration) {
	OracleCallsTotal.WithLabelValues(result).Inc()
	OracleCallDuration.Observe(elapsed.Seconds())
}

// RegisterPool exposes database/sql pool statistics under the given name.
func RegisterPool(name string, db *sql.DB) error {
	return prometheus.Register(collectors.NewDBStatsCollector(db, name))
}
