package inventory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/produce-ledger/inventory"
	"github.com/warp/produce-ledger/inventory/store"
)

func newLotBook(t *testing.T) (*inventory.LotBook, context.Context) {
	t.Helper()
	clock := &testClock{}
	clock.On(day1)
	return inventory.NewLotBook(store.NewMemory(), clock.Now), context.Background()
}

func TestLotBook_CreateReduceRestore(t *testing.T) {
	book, ctx := newLotBook(t)

	lot, err := book.Create(ctx, inventory.Lot{
		ProductID:        apples,
		WarehouseID:      central,
		UnitPrice:        d("10"),
		OriginalQuantity: d("100"),
		OriginalWeight:   d("200"),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, lot.ID)
	assertDec(t, "100", lot.RemainingQuantity)
	assertDec(t, "200", lot.RemainingWeight)

	lot, err = book.Reduce(ctx, lot.ID, d("30"), lot.WeightFor(d("30")))
	require.NoError(t, err)
	assertDec(t, "70", lot.RemainingQuantity)
	assertDec(t, "140", lot.RemainingWeight)

	_, err = book.Reduce(ctx, lot.ID, d("71"), d("0"))
	var stock *inventory.InsufficientStockError
	require.ErrorAs(t, err, &stock)
	assertDec(t, "70", stock.Remaining)
	assertDec(t, "71", stock.Requested)

	lot, err = book.Reduce(ctx, lot.ID, d("70"), d("139"))
	require.NoError(t, err)
	assert.Equal(t, inventory.LotDepleted, lot.Status())
	assertDec(t, "0", lot.RemainingWeight)

	lot, err = book.Restore(ctx, lot.ID, d("5"), d("10"))
	require.NoError(t, err)
	assert.True(t, lot.IsAvailable())
	assertDec(t, "5", lot.RemainingQuantity)
}

func TestLotBook_Create_Validates(t *testing.T) {
	book, ctx := newLotBook(t)

	_, err := book.Create(ctx, inventory.Lot{ProductID: apples, OriginalQuantity: d("0"), UnitPrice: d("1")})
	assert.ErrorIs(t, err, inventory.ErrInvalidInput)

	_, err = book.Create(ctx, inventory.Lot{ProductID: apples, OriginalQuantity: d("1"), UnitPrice: d("-1")})
	assert.ErrorIs(t, err, inventory.ErrInvalidInput)
}

func TestLotBook_Reshape(t *testing.T) {
	book, ctx := newLotBook(t)
	lot, err := book.Create(ctx, inventory.Lot{ProductID: apples, UnitPrice: d("10"), OriginalQuantity: d("100"), OriginalWeight: d("200")})
	require.NoError(t, err)
	lot, err = book.Reduce(ctx, lot.ID, d("60"), d("120"))
	require.NoError(t, err)

	grown, err := book.Reshape(ctx, lot, d("120"), d("240"), d("11"))
	require.NoError(t, err)
	assertDec(t, "120", grown.OriginalQuantity)
	assertDec(t, "60", grown.RemainingQuantity)
	assertDec(t, "120", grown.RemainingWeight)
	assertDec(t, "11", grown.UnitPrice)

	_, err = book.Reshape(ctx, grown, d("50"), d("100"), d("11"))
	assert.ErrorIs(t, err, inventory.ErrInsufficientStock)
}

func TestSortForMatching(t *testing.T) {
	base := day1
	lots := []inventory.Lot{
		{ID: "late", PurchaseDate: base.Add(24 * time.Hour)},
		{ID: "unranked", PurchaseDate: base, CreatedAt: base},
		{ID: "rank2", PurchaseDate: base, ManualRank: 2, CreatedAt: base.Add(time.Minute)},
		{ID: "rank1", PurchaseDate: base, ManualRank: 1, CreatedAt: base.Add(2 * time.Minute)},
		{ID: "unranked-later", PurchaseDate: base, CreatedAt: base.Add(3 * time.Minute)},
	}

	inventory.SortForMatching(lots)

	var got []inventory.LotID
	for _, l := range lots {
		got = append(got, l.ID)
	}
	assert.Equal(t, []inventory.LotID{"rank1", "rank2", "unranked", "unranked-later", "late"}, got)
}
