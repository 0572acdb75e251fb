// Package metrics exposes Prometheus counters for the inventory engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "produce_ledger"

// Metrics holds the engine's collectors on a private registry so several
// instances (one per test) never collide on the default registry.
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ledgerEntries    *prometheus.CounterVec
	reversals        *prometheus.CounterVec
	matches          *prometheus.CounterVec
	auditTransitions *prometheus.CounterVec
	valuations       *prometheus.CounterVec
	valuationClamps  prometheus.Counter
	overMatchFlags   prometheus.Counter
	hardSyncs        prometheus.Counter
	hardSyncSeconds  prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.ledgerEntries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_entries_total",
		Help:      "Ledger entries appended, by kind and annotation.",
	}, []string{"kind", "annotation"})

	m.reversals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "trade_line_reversals_total",
		Help:      "Trade line updates and deletes, by trade kind and operation.",
	}, []string{"trade_kind", "operation"})

	m.matches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "matches_total",
		Help:      "Match creations and cancellations.",
	}, []string{"operation"})

	m.auditTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audit_transitions_total",
		Help:      "Audit session state transitions.",
	}, []string{"operation"})

	m.valuations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "valuations_total",
		Help:      "Valuation requests, by how the value was obtained.",
	}, []string{"source"})

	m.valuationClamps = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "valuation_clamps_total",
		Help:      "Historical valuations that replayed below zero and were clamped.",
	})

	m.overMatchFlags = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "over_match_flags_total",
		Help:      "Sale line edits accepted while leaving matched quantity above the line quantity.",
	})

	m.hardSyncs = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "aggregate_hard_syncs_total",
		Help:      "Full aggregate cache rebuilds.",
	})

	m.hardSyncSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "aggregate_hard_sync_duration_seconds",
		Help:      "Duration of aggregate cache rebuilds.",
		Buckets:   prometheus.DefBuckets,
	})

	m.registry.MustRegister(
		m.ledgerEntries,
		m.reversals,
		m.matches,
		m.auditTransitions,
		m.valuations,
		m.valuationClamps,
		m.overMatchFlags,
		m.hardSyncs,
		m.hardSyncSeconds,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry is exposed for tests that gather values directly.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) LedgerEntry(kind, annotation string) {
	if m == nil {
		return
	}
	m.ledgerEntries.WithLabelValues(kind, annotation).Inc()
}

func (m *Metrics) Reversal(tradeKind, operation string) {
	if m == nil {
		return
	}
	m.reversals.WithLabelValues(tradeKind, operation).Inc()
}

func (m *Metrics) Match(operation string) {
	if m == nil {
		return
	}
	m.matches.WithLabelValues(operation).Inc()
}

func (m *Metrics) AuditTransition(operation string) {
	if m == nil {
		return
	}
	m.auditTransitions.WithLabelValues(operation).Inc()
}

func (m *Metrics) Valuation(source string) {
	if m == nil {
		return
	}
	m.valuations.WithLabelValues(source).Inc()
}

func (m *Metrics) ValuationClamped() {
	if m == nil {
		return
	}
	m.valuationClamps.Inc()
}

func (m *Metrics) OverMatchFlagged() {
	if m == nil {
		return
	}
	m.overMatchFlags.Inc()
}

func (m *Metrics) HardSync(took time.Duration) {
	if m == nil {
		return
	}
	m.hardSyncs.Inc()
	m.hardSyncSeconds.Observe(took.Seconds())
}
