package inventory_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/produce-ledger/inventory"
)

// =============================================================================
// PERIOD CLOSE
// =============================================================================

func TestClosePeriod_ComputesCostOfGoodsAndProfit(t *testing.T) {
	// GIVEN: day1 buy 100 @ 10, sell 40 @ 15 matched to that lot
	// WHEN: Closing day1 on day2
	// THEN: prior 0, current 600, purchases 1000, revenue 600, COGS 400, GP 200

	f := newFixture(t)
	_, lot := f.purchase(apples, "100", "10")
	sale := f.sale(apples, "40", "15")
	f.match(sale.ID, lot.ID, "40")

	f.clock.On(day2)
	snap, err := f.svc.CloseDay(f.ctx, day1)
	require.NoError(t, err)

	assert.Equal(t, "2025-03-10", inventory.DayKey(snap.Date))
	assert.Equal(t, "2025-03-10", inventory.DayKey(snap.PeriodStart))
	assertDec(t, "0", snap.PriorValuation)
	assertDec(t, "600", snap.CurrentValuation)
	assertDec(t, "1000", snap.PurchaseCost)
	assertDec(t, "600", snap.SalesRevenue)
	assertDec(t, "400", snap.CostOfGoods)
	assertDec(t, "200", snap.GrossProfit)

	require.Len(t, snap.Details, 1)
	assert.Equal(t, lot.ID, snap.Details[0].LotID)
	assertDec(t, "60", snap.Details[0].RemainingQuantity)
	assertDec(t, "600", snap.Details[0].Value)

	stored, err := f.svc.Closing(f.ctx, day1)
	require.NoError(t, err)
	assertDec(t, "600", stored.CurrentValuation)
	assert.Len(t, stored.Details, 1)
}

func TestClosePeriod_MultiDay_UsesPriorClosing(t *testing.T) {
	f := newFixture(t)
	f.purchase(apples, "100", "10")
	f.clock.On(day2)
	_, err := f.svc.CloseDay(f.ctx, day1)
	require.NoError(t, err)

	f.purchase(apples, "50", "10")
	f.clock.On(day3)
	f.sale(apples, "30", "20")

	f.clock.On(day4)
	snap, err := f.svc.ClosePeriod(f.ctx, day2, day3)
	require.NoError(t, err)

	assertDec(t, "1000", snap.PriorValuation)
	assertDec(t, "1200", snap.CurrentValuation)
	assertDec(t, "500", snap.PurchaseCost)
	assertDec(t, "600", snap.SalesRevenue)
	assertDec(t, "300", snap.CostOfGoods)
	assertDec(t, "300", snap.GrossProfit)
}

func TestClosedDay_ValuedByCurrentValuation_NotDetails(t *testing.T) {
	// GIVEN: day1 buy 100 @ 10, day2 sell 40 matched, day1 closed on day2
	// WHEN: Valuing day1 later
	// THEN: The closing's replayed 1000 is returned while its details show
	//       the lots as they stood at closing time

	f := newFixture(t)
	_, lot := f.purchase(apples, "100", "10")
	f.clock.On(day2)
	sale := f.sale(apples, "40", "15")
	f.match(sale.ID, lot.ID, "40")

	snap, err := f.svc.CloseDay(f.ctx, day1)
	require.NoError(t, err)
	assertDec(t, "1000", snap.CurrentValuation)
	require.Len(t, snap.Details, 1)
	assertDec(t, "60", snap.Details[0].RemainingQuantity)

	f.clock.On(day3)
	v, err := f.svc.ValueAt(f.ctx, day1)
	require.NoError(t, err)
	assert.Equal(t, inventory.SourceClosing, v.Source)
	assertDec(t, "1000", v.Value)
}

func TestClosePeriod_EndBeforeStart_Invalid(t *testing.T) {
	f := newFixture(t)
	f.clock.On(day4)

	_, err := f.svc.ClosePeriod(f.ctx, day3, day2)
	assert.ErrorIs(t, err, inventory.ErrInvalidInput)
}

// =============================================================================
// SETTLEMENT ORDER
// =============================================================================

func TestClose_OlderThanLatest_Rejected(t *testing.T) {
	f := newFixture(t)
	f.purchase(apples, "10", "10")
	f.clock.On(day3)
	_, err := f.svc.CloseDay(f.ctx, day2)
	require.NoError(t, err)

	_, err = f.svc.CloseDay(f.ctx, day1)
	assert.ErrorIs(t, err, inventory.ErrClosingNotLatest)
	assert.True(t, inventory.IsBusinessRule(err))

	// re-closing the latest day is an upsert
	_, err = f.svc.CloseDay(f.ctx, day2)
	assert.NoError(t, err)
}

func TestDeleteLastClosing_ReopensEarlierDay(t *testing.T) {
	f := newFixture(t)
	f.purchase(apples, "10", "10")
	f.clock.On(day3)
	_, err := f.svc.CloseDay(f.ctx, day2)
	require.NoError(t, err)

	deleted, err := f.svc.DeleteLastClosing(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, "2025-03-11", inventory.DayKey(deleted.Date))

	_, err = f.svc.Closing(f.ctx, day2)
	assert.ErrorIs(t, err, inventory.ErrClosingNotFound)

	_, err = f.svc.CloseDay(f.ctx, day1)
	assert.NoError(t, err)
}

func TestDeleteLastClosing_NoneExists(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.DeleteLastClosing(f.ctx)
	assert.ErrorIs(t, err, inventory.ErrClosingNotFound)
}
