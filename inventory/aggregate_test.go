package inventory_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/produce-ledger/inventory"
)

// =============================================================================
// INCREMENTAL MAINTENANCE
// =============================================================================

func TestAggregate_PurchasesAddAtCost(t *testing.T) {
	f := newFixture(t)
	f.purchase(apples, "100", "10")
	f.purchase(apples, "50", "12")

	row := f.row(apples)
	assertDec(t, "150", row.Quantity)
	assertDec(t, "300", row.Weight)
	assertDec(t, "1600", row.Value)
	assertDec(t, "12", row.LastPrice)
}

func TestAggregate_OversoldProduct_ValueFloorsOnRead(t *testing.T) {
	f := newFixture(t)
	f.purchase(apples, "10", "10")
	f.sale(apples, "15", "20")

	row := f.row(apples)
	assertDec(t, "-5", row.Quantity)
	assertDec(t, "-50", row.Value)
	assertDec(t, "0", row.Worth())
	assertDec(t, "10", row.AverageCost())

	v, err := f.svc.ValueAt(f.ctx, day1)
	require.NoError(t, err)
	assertDec(t, "0", v.Value)

	// restocking nets against the oversold value
	f.purchase(apples, "10", "10")
	assertDec(t, "50", f.row(apples).Value)
}

func TestAggregate_UnknownProduct_ReadsAsZeroRow(t *testing.T) {
	f := newFixture(t)

	row := f.row("kiwis")
	assert.Equal(t, inventory.ProductID("kiwis"), row.ProductID)
	assertDec(t, "0", row.Quantity)
	assertDec(t, "0", row.Value)
}

// =============================================================================
// HARD SYNC
// =============================================================================

func TestHardSync_RebuildsFromLots_AfterDrift(t *testing.T) {
	// GIVEN: Two lots, one matched sale and one unmatched sale
	// WHEN: HardSync runs
	// THEN: The live valuation equals Σ remaining × price over the lots exactly

	f := newFixture(t)
	_, lot1 := f.purchase(apples, "100", "10")
	f.purchase(apples, "50", "12")
	matched := f.sale(apples, "20", "15")
	f.match(matched.ID, lot1.ID, "20")
	f.sale(apples, "30", "15")
	f.purchase(pears, "40", "4")

	assert.False(t, f.row(apples).Value.Equal(d("1400")), "cache should have drifted from the lots")

	rows, err := f.svc.HardSync(f.ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	apple := f.row(apples)
	assertDec(t, "130", apple.Quantity)
	assertDec(t, "260", apple.Weight)
	assertDec(t, "1400", apple.Value)
	assertDec(t, "10.7692", apple.LastPrice)

	v, err := f.svc.ValueAt(f.ctx, day1)
	require.NoError(t, err)
	assert.Equal(t, inventory.SourceLive, v.Source)
	assertDec(t, f.lotValueSum().String(), v.Value)
	assertDec(t, "1560", v.Value)

	assert.Equal(t, 1.0, gatherCounter(t, f, "produce_ledger_aggregate_hard_syncs_total"))
}

func TestHardSync_MaxPolicy(t *testing.T) {
	cfg := inventory.DefaultConfig()
	cfg.PricePolicy = inventory.PriceMax
	f := newFixture(t, cfg)
	f.purchase(apples, "100", "10")
	f.purchase(apples, "50", "12")
	f.purchase(apples, "10", "11")

	_, err := f.svc.HardSync(f.ctx)
	require.NoError(t, err)

	assertDec(t, "12", f.row(apples).LastPrice)
	assertDec(t, "1710", f.row(apples).Value)
}

func TestHardSync_KeepsManualPrice_ZeroesDepletedProducts(t *testing.T) {
	f := newFixture(t)
	_, lot := f.purchase(pears, "10", "4")
	sale := f.sale(pears, "10", "6")
	f.match(sale.ID, lot.ID, "10")
	_, err := f.svc.SetManualPrice(f.ctx, pears, d("3.5"))
	require.NoError(t, err)

	_, err = f.svc.HardSync(f.ctx)
	require.NoError(t, err)

	row := f.row(pears)
	assertDec(t, "0", row.Quantity)
	assertDec(t, "0", row.Value)
	assertDec(t, "3.5", row.ManualPrice)
	assertDec(t, "4", row.LastPrice)
}

func TestSetManualPrice_Negative_Invalid(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.SetManualPrice(f.ctx, apples, d("-1"))
	assert.ErrorIs(t, err, inventory.ErrInvalidInput)
}
