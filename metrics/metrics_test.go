package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	metrics:
		for _, metric := range f.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue metrics
				}
			}
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}

func TestMetrics_CountersIncrement(t *testing.T) {
	m := New()

	m.LedgerEntry("IN", "apply")
	m.LedgerEntry("IN", "apply")
	m.LedgerEntry("OUT", "reverse-delete")
	m.ValuationClamped()
	m.HardSync(10 * time.Millisecond)

	assert.Equal(t, 2.0, counterValue(t, m, "produce_ledger_ledger_entries_total", map[string]string{"kind": "IN", "annotation": "apply"}))
	assert.Equal(t, 1.0, counterValue(t, m, "produce_ledger_ledger_entries_total", map[string]string{"kind": "OUT", "annotation": "reverse-delete"}))
	assert.Equal(t, 1.0, counterValue(t, m, "produce_ledger_valuation_clamps_total", nil))
	assert.Equal(t, 1.0, counterValue(t, m, "produce_ledger_aggregate_hard_syncs_total", nil))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.LedgerEntry("IN", "apply")
		m.Reversal("SALE", "update")
		m.Match("create")
		m.AuditTransition("finalize")
		m.Valuation("live")
		m.ValuationClamped()
		m.OverMatchFlagged()
		m.HardSync(time.Second)
	})
}

func TestMetrics_HandlerServesText(t *testing.T) {
	m := New()
	m.Valuation("replay")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `produce_ledger_valuations_total{source="replay"} 1`)
}

func TestMetrics_InstancesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.Match("create")

	assert.Equal(t, 1.0, counterValue(t, a, "produce_ledger_matches_total", map[string]string{"operation": "create"}))
	assert.Equal(t, 0.0, counterValue(t, b, "produce_ledger_matches_total", map[string]string{"operation": "create"}))
}
