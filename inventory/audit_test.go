package inventory_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/produce-ledger/inventory"
)

func countOf(qty string) inventory.ItemCount {
	v := d(qty)
	checked := true
	return inventory.ItemCount{ActualQuantity: &v, Checked: &checked}
}

// =============================================================================
// SNAPSHOT & STALENESS
// =============================================================================

func TestAudit_SnapshotFrozen_WhileTradingContinues(t *testing.T) {
	// GIVEN: An audit started while the lot held 60
	// WHEN: A sale of 10 is matched against the lot during the audit
	// THEN: The item shows system 60, current 50 until it is re-synced

	f := newFixture(t)
	_, lot := f.purchase(apples, "60", "10")

	s, err := f.svc.StartAudit(f.ctx, central, day1)
	require.NoError(t, err)
	require.Len(t, s.Items, 1)
	item := s.Items[0]
	assertDec(t, "60", item.SystemQuantity)

	sale := f.sale(apples, "10", "15")
	f.match(sale.ID, lot.ID, "10")

	s, err = f.svc.GetAudit(f.ctx, s.ID)
	require.NoError(t, err)
	assertDec(t, "60", s.Items[0].SystemQuantity)
	assertDec(t, "50", s.Items[0].CurrentQuantity)
	assert.True(t, s.Items[0].Drifted())

	synced, err := f.svc.SyncAuditItem(f.ctx, item.ID)
	require.NoError(t, err)
	assertDec(t, "50", synced.SystemQuantity)
	assert.False(t, synced.Drifted())
}

func TestAudit_SkipsDepletedLotsAndOtherWarehouses(t *testing.T) {
	f := newFixture(t)
	_, open := f.purchase(apples, "10", "10")
	_, gone := f.purchase(apples, "5", "10")
	sale := f.sale(apples, "5", "15")
	f.match(sale.ID, gone.ID, "5")
	_, err := f.svc.RecordPurchase(f.ctx, inventory.TradeInput{
		WarehouseID: "wh-north",
		Lines:       []inventory.LineInput{{ProductID: pears, Quantity: d("3"), UnitPrice: d("4")}},
	})
	require.NoError(t, err)

	s, err := f.svc.StartAudit(f.ctx, central, day1)
	require.NoError(t, err)
	require.Len(t, s.Items, 1)
	assert.Equal(t, open.ID, s.Items[0].LotID)
}

func TestAudit_EmptyWarehouse_StartsWithNoItems(t *testing.T) {
	f := newFixture(t)

	s, err := f.svc.StartAudit(f.ctx, central, day1)
	require.NoError(t, err)
	assert.Empty(t, s.Items)
	assert.Equal(t, inventory.AuditInProgress, s.Status)
}

// =============================================================================
// FINALIZE & REVERT
// =============================================================================

func TestAudit_FinalizeThenRevert_RoundTrips(t *testing.T) {
	// GIVEN: A lot of 60 counted at 55
	// WHEN: The audit is finalized, then reverted
	// THEN: Lot and aggregate go 60 -> 55 -> 60 and the log holds both rows

	f := newFixture(t)
	_, lot := f.purchase(apples, "60", "10")
	s, err := f.svc.StartAudit(f.ctx, central, day1)
	require.NoError(t, err)
	_, err = f.svc.UpdateAuditItem(f.ctx, s.Items[0].ID, countOf("55"))
	require.NoError(t, err)

	fin, err := f.svc.FinalizeAudit(f.ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.AuditCompleted, fin.Session.Status)
	assert.Equal(t, 1, fin.Session.Round)
	require.Len(t, fin.Adjustments, 1)
	assertDec(t, "-5", fin.Adjustments[0].QuantityDelta)
	assert.Equal(t, inventory.AdjustmentFinalize, fin.Adjustments[0].Kind)
	require.Len(t, fin.Entries, 1)
	assert.Equal(t, inventory.EntryAdjust, fin.Entries[0].Kind)
	assert.Equal(t, inventory.NoteAuditFinalize, fin.Entries[0].Annotation)

	assertDec(t, "55", f.lot(lot.ID).RemainingQuantity)
	assertDec(t, "55", f.row(apples).Quantity)
	assertDec(t, "550", f.row(apples).Value)

	rev, err := f.svc.RevertAudit(f.ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.AuditInProgress, rev.Session.Status)
	require.Len(t, rev.Adjustments, 1)
	assertDec(t, "5", rev.Adjustments[0].QuantityDelta)
	assert.Equal(t, inventory.AdjustmentRevert, rev.Adjustments[0].Kind)

	assertDec(t, "60", f.lot(lot.ID).RemainingQuantity)
	assertDec(t, "60", f.row(apples).Quantity)
	assertDec(t, "600", f.row(apples).Value)

	adjs, err := f.store.AdjustmentsBySession(f.ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, adjs, 2)
}

func TestAudit_SecondRound_RevertsOnlyItsOwnAdjustments(t *testing.T) {
	f := newFixture(t)
	_, lot := f.purchase(apples, "60", "10")
	s, err := f.svc.StartAudit(f.ctx, central, day1)
	require.NoError(t, err)
	itemID := s.Items[0].ID

	_, err = f.svc.UpdateAuditItem(f.ctx, itemID, countOf("55"))
	require.NoError(t, err)
	_, err = f.svc.FinalizeAudit(f.ctx, s.ID)
	require.NoError(t, err)
	_, err = f.svc.RevertAudit(f.ctx, s.ID)
	require.NoError(t, err)

	_, err = f.svc.UpdateAuditItem(f.ctx, itemID, countOf("58"))
	require.NoError(t, err)
	fin, err := f.svc.FinalizeAudit(f.ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, fin.Session.Round)
	assertDec(t, "58", f.lot(lot.ID).RemainingQuantity)

	rev, err := f.svc.RevertAudit(f.ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, rev.Adjustments, 1)
	assertDec(t, "2", rev.Adjustments[0].QuantityDelta)
	assert.Equal(t, 2, rev.Adjustments[0].Round)
	assertDec(t, "60", f.lot(lot.ID).RemainingQuantity)
}

func TestAudit_UncountedAndMatchingItems_NoAdjustment(t *testing.T) {
	f := newFixture(t)
	f.purchase(apples, "10", "10")
	f.purchase(pears, "20", "4")
	s, err := f.svc.StartAudit(f.ctx, central, day1)
	require.NoError(t, err)
	require.Len(t, s.Items, 2)

	_, err = f.svc.UpdateAuditItem(f.ctx, s.Items[0].ID, countOf(s.Items[0].SystemQuantity.String()))
	require.NoError(t, err)

	fin, err := f.svc.FinalizeAudit(f.ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, fin.Adjustments)
	assert.Equal(t, inventory.AuditCompleted, fin.Session.Status)
}

func TestAudit_CountAboveSystem_RestoresStock(t *testing.T) {
	f := newFixture(t)
	_, lot := f.purchase(apples, "40", "10")
	s, err := f.svc.StartAudit(f.ctx, central, day1)
	require.NoError(t, err)
	_, err = f.svc.UpdateAuditItem(f.ctx, s.Items[0].ID, countOf("42"))
	require.NoError(t, err)

	_, err = f.svc.FinalizeAudit(f.ctx, s.ID)
	require.NoError(t, err)

	got := f.lot(lot.ID)
	assertDec(t, "42", got.RemainingQuantity)
	assertDec(t, "84", got.RemainingWeight)
	assertDec(t, "420", f.row(apples).Value)
}

// =============================================================================
// STATE MACHINE
// =============================================================================

func TestAudit_TransitionsOutOfState_AreStale(t *testing.T) {
	f := newFixture(t)
	f.purchase(apples, "10", "10")
	s, err := f.svc.StartAudit(f.ctx, central, day1)
	require.NoError(t, err)

	_, err = f.svc.RevertAudit(f.ctx, s.ID)
	var stale *inventory.StaleAuditError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, inventory.AuditInProgress, stale.Status)

	_, err = f.svc.CancelAudit(f.ctx, s.ID)
	require.NoError(t, err)

	_, err = f.svc.FinalizeAudit(f.ctx, s.ID)
	assert.ErrorIs(t, err, inventory.ErrStaleAudit)
	_, err = f.svc.CancelAudit(f.ctx, s.ID)
	assert.ErrorIs(t, err, inventory.ErrStaleAudit)
	_, err = f.svc.UpdateAuditItem(f.ctx, s.Items[0].ID, countOf("9"))
	assert.ErrorIs(t, err, inventory.ErrStaleAudit)
	_, err = f.svc.SyncAuditItem(f.ctx, s.Items[0].ID)
	assert.ErrorIs(t, err, inventory.ErrStaleAudit)
}

func TestAudit_CompletedSession_RejectsItemEdits(t *testing.T) {
	f := newFixture(t)
	f.purchase(apples, "10", "10")
	s, err := f.svc.StartAudit(f.ctx, central, day1)
	require.NoError(t, err)
	_, err = f.svc.FinalizeAudit(f.ctx, s.ID)
	require.NoError(t, err)

	_, err = f.svc.UpdateAuditItem(f.ctx, s.Items[0].ID, countOf("9"))
	assert.True(t, inventory.IsBusinessRule(err))
}

func TestAudit_NegativeCount_Invalid(t *testing.T) {
	f := newFixture(t)
	f.purchase(apples, "10", "10")
	s, err := f.svc.StartAudit(f.ctx, central, day1)
	require.NoError(t, err)

	_, err = f.svc.UpdateAuditItem(f.ctx, s.Items[0].ID, countOf("-1"))
	assert.ErrorIs(t, err, inventory.ErrInvalidInput)
}
