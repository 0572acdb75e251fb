/*
reversal.go - Edits and deletes of trade lines

PURPOSE:
  A recorded trade line has already moved the aggregate cache and written a
  ledger entry. Editing or deleting it must undo that effect and, for edits,
  apply the corrected one. Both halves run inside the caller's transaction so
  the ledger never shows one without the other.

PHASES:
  Update:  reverse-old (inverse of old effect) then apply-new (new effect)
           Purchase and production-output lines also reshape their lot.
           Production inputs give back what they drew and draw again.
  Delete:  reverse-delete (inverse of current effect)
           Purchase/production output: the lot goes too, unless something
           matched it.
           Sale/production input: every match is released back to its lot.

COST OF A REVERSAL PAIR:
  Self-priced lines move the aggregate at their own price. Everything else
  moves at the moving-average cost, read once before the pair is posted and
  used for both halves, so an edit to identical values nets to zero.

OVER-MATCH ON SALE EDITS:
  Matches reference the sale line, not its quantity. Shrinking a sale below
  what is already matched leaves an over-match the engine will not resolve on
  its own. OverMatchPolicy decides: reject the edit, or accept and report it.

SEE ALSO:
  - trade.go: line effects and initial recording
  - match.go: match release
*/
package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OverMatchPolicy decides what happens when a sale edit would leave more
// quantity matched than the line carries.
type OverMatchPolicy string

const (
	OverMatchReject OverMatchPolicy = "reject"
	OverMatchFlag   OverMatchPolicy = "flag"
)

func (p OverMatchPolicy) Valid() bool {
	return p == OverMatchReject || p == OverMatchFlag
}

// LineUpdate carries the editable fields of a trade line. Nil fields keep
// their current value.
type LineUpdate struct {
	Quantity    *decimal.Decimal `json:"quantity,omitempty"`
	UnitPrice   *decimal.Decimal `json:"unit_price,omitempty"`
	TotalWeight *decimal.Decimal `json:"total_weight,omitempty"`
}

type UpdateResult struct {
	Line    TradeLine     `json:"line"`
	Lot     *Lot          `json:"lot,omitempty"`
	Entries []LedgerEntry `json:"entries"`

	// Consumed lists the fresh draws of a production input line.
	Consumed []Match `json:"consumed,omitempty"`

	// OverMatched is the matched quantity in excess of the new line quantity,
	// non-zero only under OverMatchFlag.
	OverMatched decimal.Decimal `json:"over_matched"`
}

type DeleteResult struct {
	Line     TradeLine   `json:"line"`
	Entry    LedgerEntry `json:"entry"`
	Released []Match     `json:"released,omitempty"`
	Lot      *Lot        `json:"lot,omitempty"`
}

// ReversalCoordinator records, edits and deletes trade lines.
type ReversalCoordinator struct {
	Store     Store
	Lots      *LotBook
	Ledger    *Ledger
	Matches   *MatchEngine
	OverMatch OverMatchPolicy
	Now       func() time.Time
}

func (rc *ReversalCoordinator) lineWithTrade(ctx context.Context, id TradeLineID) (TradeLine, Trade, error) {
	line, err := rc.Store.GetLine(ctx, id)
	if err != nil {
		return TradeLine{}, Trade{}, err
	}
	trade, err := rc.Store.GetTrade(ctx, line.TradeID)
	if err != nil {
		return TradeLine{}, Trade{}, err
	}
	return line, trade, nil
}

// =============================================================================
// UPDATE
// =============================================================================

func (rc *ReversalCoordinator) Update(ctx context.Context, id TradeLineID, upd LineUpdate) (UpdateResult, error) {
	old, trade, err := rc.lineWithTrade(ctx, id)
	if err != nil {
		return UpdateResult{}, err
	}

	next := old
	if upd.Quantity != nil {
		next.Quantity = *upd.Quantity
	}
	if upd.UnitPrice != nil {
		next.UnitPrice = *upd.UnitPrice
	}
	if upd.TotalWeight != nil {
		w := *upd.TotalWeight
		next.TotalWeight = &w
	}
	if err := validateLine(trade.Kind, next.Quantity, next.UnitPrice, next.TotalWeight); err != nil {
		return UpdateResult{}, err
	}
	if createsLot(trade.Kind, old.Quantity) != createsLot(trade.Kind, next.Quantity) {
		return UpdateResult{}, invalid("production line %s cannot change between input and output", id)
	}

	res := UpdateResult{OverMatched: decimal.Zero}

	if trade.Kind == TradeSale {
		matched, err := rc.Matches.matchedQuantity(ctx, id)
		if err != nil {
			return UpdateResult{}, err
		}
		if excess := matched.Sub(next.Quantity.Abs()); excess.IsPositive() {
			if rc.OverMatch != OverMatchFlag {
				return UpdateResult{}, &OverMatchError{Side: SideSaleLine, ID: string(id), Capacity: next.Quantity.Abs(), Requested: matched}
			}
			res.OverMatched = excess
		}
	}

	oldEff, err := rc.effect(ctx, trade.Kind, old)
	if err != nil {
		return UpdateResult{}, err
	}
	newEff, err := rc.effect(ctx, trade.Kind, next)
	if err != nil {
		return UpdateResult{}, err
	}
	if !oldEff.AtCost {
		cost, err := rc.Ledger.Cache.AverageCost(ctx, old.ProductID)
		if err != nil {
			return UpdateResult{}, err
		}
		oldEff.Cost, newEff.Cost = &cost, &cost
	}

	consumes := consumesLots(trade.Kind, next.Quantity)
	if consumes {
		if _, err := rc.Matches.release(ctx, id); err != nil {
			return UpdateResult{}, err
		}
	}

	rev := inverse(oldEff)
	rev.Annotation = NoteReverseOld
	revEntry, err := rc.Ledger.Post(ctx, rev)
	if err != nil {
		return UpdateResult{}, err
	}
	newEff.Annotation = NoteApplyNew
	applyEntry, err := rc.Ledger.Post(ctx, newEff)
	if err != nil {
		return UpdateResult{}, err
	}
	res.Entries = []LedgerEntry{revEntry, applyEntry}

	if createsLot(trade.Kind, next.Quantity) {
		lot, err := rc.Store.LotForLine(ctx, id)
		if err != nil {
			return UpdateResult{}, err
		}
		lot, err = rc.Lots.Reshape(ctx, lot, newEff.Quantity, newEff.Weight, next.UnitPrice)
		if err != nil {
			return UpdateResult{}, err
		}
		res.Lot = &lot
	}
	if consumes {
		if res.Consumed, err = rc.Matches.Consume(ctx, next, trade.WarehouseID); err != nil {
			return UpdateResult{}, err
		}
	}

	next.UpdatedAt = rc.Now()
	if err := rc.Store.UpdateLine(ctx, next); err != nil {
		return UpdateResult{}, fmt.Errorf("update trade line %s: %w", id, err)
	}
	res.Line = next
	return res, nil
}

// =============================================================================
// DELETE
// =============================================================================

func (rc *ReversalCoordinator) Delete(ctx context.Context, id TradeLineID) (DeleteResult, error) {
	line, trade, err := rc.lineWithTrade(ctx, id)
	if err != nil {
		return DeleteResult{}, err
	}
	res := DeleteResult{Line: line}

	var lot Lot
	owned := createsLot(trade.Kind, line.Quantity)
	if owned {
		lot, err = rc.Store.LotForLine(ctx, id)
		if err != nil {
			return DeleteResult{}, err
		}
		matches, err := rc.Store.MatchesByLot(ctx, lot.ID)
		if err != nil {
			return DeleteResult{}, fmt.Errorf("load matches for lot %s: %w", lot.ID, err)
		}
		if len(matches) > 0 {
			return DeleteResult{}, &LotInUseError{LotID: lot.ID, Matches: len(matches)}
		}
	}

	eff, err := rc.effect(ctx, trade.Kind, line)
	if err != nil {
		return DeleteResult{}, err
	}
	rev := inverse(eff)
	rev.Annotation = NoteReverseDelete
	if res.Entry, err = rc.Ledger.Post(ctx, rev); err != nil {
		return DeleteResult{}, err
	}

	switch {
	case owned:
		if err := rc.Store.DeleteLot(ctx, lot.ID); err != nil {
			return DeleteResult{}, fmt.Errorf("delete lot %s: %w", lot.ID, err)
		}
		res.Lot = &lot
	case trade.Kind == TradeSale || consumesLots(trade.Kind, line.Quantity):
		if res.Released, err = rc.Matches.release(ctx, id); err != nil {
			return DeleteResult{}, err
		}
	}

	if err := rc.Store.DeleteLine(ctx, id); err != nil {
		return DeleteResult{}, fmt.Errorf("delete trade line %s: %w", id, err)
	}
	return res, nil
}

// =============================================================================
// MATCH CANCELLATION
// =============================================================================

// ReverseMatched takes a cancelled match's quantity off its sale line. A line
// left with nothing is deleted; otherwise it shrinks through Update, scaling
// an explicit weight in proportion.
func (rc *ReversalCoordinator) ReverseMatched(ctx context.Context, m Match) (*UpdateResult, *DeleteResult, error) {
	line, err := rc.Store.GetLine(ctx, m.SaleLineID)
	if err != nil {
		return nil, nil, err
	}
	remaining := line.Quantity.Abs().Sub(m.Quantity)
	if !remaining.IsPositive() {
		del, err := rc.Delete(ctx, line.ID)
		if err != nil {
			return nil, nil, err
		}
		return nil, &del, nil
	}

	upd := LineUpdate{Quantity: &remaining}
	if line.TotalWeight != nil {
		w := line.TotalWeight.Mul(remaining).Div(line.Quantity.Abs()).Round(4)
		upd.TotalWeight = &w
	}
	res, err := rc.Update(ctx, line.ID, upd)
	if err != nil {
		return nil, nil, err
	}
	return &res, nil, nil
}
