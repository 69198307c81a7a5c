package rulerun

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"tariffcore/internal/hierarchy"
	"tariffcore/pkg/domain"
)

// Metrics provides observability for rule runs.
type Metrics struct {
	// Verdicts by rule and status
	RuleVerdicts *prometheus.CounterVec

	// Transaction checks by outcome: "successful", "unsuccessful" or "error"
	TransactionChecks *prometheus.CounterVec

	// Duration of a full transaction check including the archive write
	CheckLatency prometheus.Histogram

	// Inconsistencies found in freshly built commodity snapshots
	HierarchyInconsistencies prometheus.Counter
}

// NewMetrics registers the rule-run metrics on reg. A nil reg uses the
// default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		RuleVerdicts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tariffcore_rule_verdicts_total",
			Help: "Total rule verdicts by rule and status",
		}, []string{"rule", "status"}),

		TransactionChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tariffcore_transaction_checks_total",
			Help: "Total transaction checks by outcome",
		}, []string{"outcome"}),

		CheckLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tariffcore_transaction_check_duration_seconds",
			Help:    "Duration of a transaction rule run",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),

		HierarchyInconsistencies: factory.NewCounter(prometheus.CounterOpts{
			Name: "tariffcore_hierarchy_inconsistencies_total",
			Help: "Commodity hierarchy inconsistencies found while building snapshots",
		}),
	}
}

// IncrementVerdict records one verdict.
func (m *Metrics) IncrementVerdict(rule string, status domain.VerdictStatus) {
	if m != nil {
		m.RuleVerdicts.WithLabelValues(rule, string(status)).Inc()
	}
}

// IncrementCheck records a transaction check outcome.
func (m *Metrics) IncrementCheck(outcome string) {
	if m != nil {
		m.TransactionChecks.WithLabelValues(outcome).Inc()
	}
}

// ObserveCheckLatency records the duration of a transaction check.
func (m *Metrics) ObserveCheckLatency(d time.Duration) {
	if m != nil {
		m.CheckLatency.Observe(d.Seconds())
	}
}

// HierarchyBuildHook counts the inconsistencies of each built snapshot. Pass it
// to hierarchy.WithBuildHook.
func (m *Metrics) HierarchyBuildHook() func(*hierarchy.Snapshot) {
	return func(s *hierarchy.Snapshot) {
		if m == nil || s == nil {
			return
		}
		if n := len(s.Inconsistencies()); n > 0 {
			m.HierarchyInconsistencies.Add(float64(n))
		}
	}
}
