package inventory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LOT BOOK - Purchase batches and their remaining stock
// =============================================================================

// LotBook owns lot mutations. Reduce is the only operation that can fail on
// stock grounds; Restore is unconditional because reversals must always land.
type LotBook struct {
	Store LotStore
	Now   func() time.Time
}

func NewLotBook(store LotStore, now func() time.Time) *LotBook {
	return &LotBook{Store: store, Now: now}
}

// Create persists a new lot with its remaining quantity and weight equal to
// the originals.
func (b *LotBook) Create(ctx context.Context, lot Lot) (Lot, error) {
	if !lot.OriginalQuantity.IsPositive() {
		return Lot{}, invalid("lot quantity must be positive, got %s", lot.OriginalQuantity)
	}
	if lot.UnitPrice.IsNegative() {
		return Lot{}, invalid("lot unit price must not be negative, got %s", lot.UnitPrice)
	}
	if lot.ID == "" {
		lot.ID = LotID(NewID())
	}
	now := b.Now()
	lot.RemainingQuantity = lot.OriginalQuantity
	lot.RemainingWeight = lot.OriginalWeight
	lot.CreatedAt = now
	lot.UpdatedAt = now
	if err := b.Store.CreateLot(ctx, lot); err != nil {
		return Lot{}, fmt.Errorf("create lot: %w", err)
	}
	return lot, nil
}

// Reduce draws qty (and weight) from a lot.
func (b *LotBook) Reduce(ctx context.Context, id LotID, qty, weight decimal.Decimal) (Lot, error) {
	if qty.IsNegative() {
		return Lot{}, invalid("reduce quantity must not be negative, got %s", qty)
	}
	lot, err := b.Store.GetLot(ctx, id)
	if err != nil {
		return Lot{}, err
	}
	if lot.RemainingQuantity.LessThan(qty) {
		return Lot{}, &InsufficientStockError{LotID: id, Remaining: lot.RemainingQuantity, Requested: qty}
	}
	lot.RemainingQuantity = lot.RemainingQuantity.Sub(qty)
	lot.RemainingWeight = decimal.Max(lot.RemainingWeight.Sub(weight), decimal.Zero)
	if lot.RemainingQuantity.IsZero() {
		lot.RemainingWeight = decimal.Zero
	}
	return b.save(ctx, lot)
}

// Restore returns qty (and weight) to a lot.
func (b *LotBook) Restore(ctx context.Context, id LotID, qty, weight decimal.Decimal) (Lot, error) {
	lot, err := b.Store.GetLot(ctx, id)
	if err != nil {
		return Lot{}, err
	}
	lot.RemainingQuantity = lot.RemainingQuantity.Add(qty)
	lot.RemainingWeight = lot.RemainingWeight.Add(weight)
	return b.save(ctx, lot)
}

// Reshape applies an edited purchase line to its lot: the original quantity
// becomes newQty and the remaining quantity moves by the same delta.
func (b *LotBook) Reshape(ctx context.Context, lot Lot, newQty, newWeight, newPrice decimal.Decimal) (Lot, error) {
	delta := newQty.Sub(lot.OriginalQuantity)
	remaining := lot.RemainingQuantity.Add(delta)
	if remaining.IsNegative() {
		return Lot{}, &InsufficientStockError{LotID: lot.ID, Remaining: lot.RemainingQuantity, Requested: delta.Neg()}
	}
	weightDelta := newWeight.Sub(lot.OriginalWeight)
	lot.OriginalQuantity = newQty
	lot.RemainingQuantity = remaining
	lot.OriginalWeight = newWeight
	lot.RemainingWeight = decimal.Max(lot.RemainingWeight.Add(weightDelta), decimal.Zero)
	lot.UnitPrice = newPrice
	return b.save(ctx, lot)
}

// SetManualOrder assigns ranks 1..n in the order given.
func (b *LotBook) SetManualOrder(ctx context.Context, ids []LotID) error {
	for i, id := range ids {
		lot, err := b.Store.GetLot(ctx, id)
		if err != nil {
			return err
		}
		lot.ManualRank = i + 1
		if _, err := b.save(ctx, lot); err != nil {
			return err
		}
	}
	return nil
}

func (b *LotBook) save(ctx context.Context, lot Lot) (Lot, error) {
	lot.UpdatedAt = b.Now()
	if err := b.Store.UpdateLot(ctx, lot); err != nil {
		return Lot{}, fmt.Errorf("update lot %s: %w", lot.ID, err)
	}
	return lot, nil
}

// =============================================================================
// DEFAULT ORDER
// =============================================================================

// SortForMatching orders lots for automatic matching: oldest purchase date
// first, then lowest manual rank. Unranked lots (rank 0) follow ranked ones.
func SortForMatching(lots []Lot) {
	sort.SliceStable(lots, func(i, j int) bool {
		a, b := lots[i], lots[j]
		if !a.PurchaseDate.Equal(b.PurchaseDate) {
			return a.PurchaseDate.Before(b.PurchaseDate)
		}
		if a.ManualRank != b.ManualRank {
			if a.ManualRank == 0 {
				return false
			}
			if b.ManualRank == 0 {
				return true
			}
			return a.ManualRank < b.ManualRank
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}
