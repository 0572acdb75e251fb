package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MATCH ENGINE - Attributes sale quantity to lots
// =============================================================================

// MatchRequest asks for qty of a sale line to be drawn from one lot.
type MatchRequest struct {
	LotID    LotID           `json:"lot_id"`
	Quantity decimal.Decimal `json:"quantity"`
}

// MatchEngine validates and records matches. It never posts ledger entries:
// the sale's quantity effect was recorded when the sale line was, so a match
// only moves stock between lot-level buckets. Production inputs draw from
// lots through the same records.
type MatchEngine struct {
	Store Store
	Lots  *LotBook
	Now   func() time.Time
}

func NewMatchEngine(store Store, lots *LotBook, now func() time.Time) *MatchEngine {
	return &MatchEngine{Store: store, Lots: lots, Now: now}
}

// Unmatched returns |line quantity| minus everything already matched to it.
func (e *MatchEngine) Unmatched(ctx context.Context, line TradeLine) (decimal.Decimal, error) {
	matched, err := e.matchedQuantity(ctx, line.ID)
	if err != nil {
		return decimal.Zero, err
	}
	return line.Quantity.Abs().Sub(matched), nil
}

func (e *MatchEngine) matchedQuantity(ctx context.Context, lineID TradeLineID) (decimal.Decimal, error) {
	matches, err := e.Store.MatchesByLine(ctx, lineID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("load matches for line %s: %w", lineID, err)
	}
	total := decimal.Zero
	for _, m := range matches {
		total = total.Add(m.Quantity)
	}
	return total, nil
}

// Match records each request in order. Any failure aborts the whole call; the
// caller's transaction discards the matches already written.
func (e *MatchEngine) Match(ctx context.Context, saleLineID TradeLineID, reqs []MatchRequest) ([]Match, error) {
	if len(reqs) == 0 {
		return nil, invalid("no lots to match")
	}
	line, err := e.saleLine(ctx, saleLineID)
	if err != nil {
		return nil, err
	}
	remainder, err := e.Unmatched(ctx, line)
	if err != nil {
		return nil, err
	}

	out := make([]Match, 0, len(reqs))
	for _, req := range reqs {
		if !req.Quantity.IsPositive() {
			return nil, invalid("match quantity must be positive, got %s", req.Quantity)
		}
		lot, err := e.Store.GetLot(ctx, req.LotID)
		if err != nil {
			return nil, err
		}
		if lot.ProductID != line.ProductID {
			return nil, &LotNotAvailableError{LotID: lot.ID, Reason: fmt.Sprintf("lot holds product %s, sale line %s", lot.ProductID, line.ProductID)}
		}
		if !lot.IsAvailable() {
			return nil, &LotNotAvailableError{LotID: lot.ID, Reason: "depleted"}
		}
		if req.Quantity.GreaterThan(lot.RemainingQuantity) {
			return nil, &OverMatchError{Side: SideLot, ID: string(lot.ID), Capacity: lot.RemainingQuantity, Requested: req.Quantity}
		}
		if req.Quantity.GreaterThan(remainder) {
			return nil, &OverMatchError{Side: SideSaleLine, ID: string(line.ID), Capacity: remainder, Requested: req.Quantity}
		}

		m, err := e.draw(ctx, line.ID, lot, req.Quantity)
		if err != nil {
			return nil, err
		}
		remainder = remainder.Sub(req.Quantity)
		out = append(out, m)
	}
	return out, nil
}

// draw records a match of qty from lot and reduces the lot.
func (e *MatchEngine) draw(ctx context.Context, lineID TradeLineID, lot Lot, qty decimal.Decimal) (Match, error) {
	weight := lot.WeightFor(qty)
	m := Match{
		ID:           MatchID(NewID()),
		SaleLineID:   lineID,
		LotID:        lot.ID,
		Quantity:     qty,
		Weight:       weight,
		LotUnitPrice: lot.UnitPrice,
		CreatedAt:    e.Now(),
	}
	if err := e.Store.CreateMatch(ctx, m); err != nil {
		return Match{}, fmt.Errorf("create match: %w", err)
	}
	if _, err := e.Lots.Reduce(ctx, lot.ID, qty, weight); err != nil {
		return Match{}, err
	}
	return m, nil
}

// availableLots lists a product's non-depleted lots in a warehouse in
// default matching order.
func (e *MatchEngine) availableLots(ctx context.Context, productID ProductID, warehouseID WarehouseID) ([]Lot, error) {
	lots, err := e.Store.ListLots(ctx, LotFilter{ProductID: productID, WarehouseID: warehouseID, AvailableOnly: true})
	if err != nil {
		return nil, fmt.Errorf("list lots: %w", err)
	}
	SortForMatching(lots)
	return lots, nil
}

// Consume draws a production input line's full quantity from the lots of
// its product in the warehouse, in default order. Unlike a sale, an input
// must be covered entirely.
func (e *MatchEngine) Consume(ctx context.Context, line TradeLine, warehouseID WarehouseID) ([]Match, error) {
	need := line.Quantity.Abs()
	lots, err := e.availableLots(ctx, line.ProductID, warehouseID)
	if err != nil {
		return nil, err
	}
	available := decimal.Zero
	for _, lot := range lots {
		available = available.Add(lot.RemainingQuantity)
	}
	if available.LessThan(need) {
		return nil, &InsufficientStockError{ProductID: line.ProductID, Remaining: available, Requested: need}
	}

	var out []Match
	for _, lot := range lots {
		if !need.IsPositive() {
			break
		}
		take := decimal.Min(need, lot.RemainingQuantity)
		m, err := e.draw(ctx, line.ID, lot, take)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
		need = need.Sub(take)
	}
	return out, nil
}

// Plan builds requests covering the sale line's unmatched remainder from the
// available lots of its product in the sale's warehouse, in default order.
// When stock runs out the plan covers what it can.
func (e *MatchEngine) Plan(ctx context.Context, saleLineID TradeLineID) ([]MatchRequest, error) {
	line, err := e.saleLine(ctx, saleLineID)
	if err != nil {
		return nil, err
	}
	trade, err := e.Store.GetTrade(ctx, line.TradeID)
	if err != nil {
		return nil, err
	}
	remainder, err := e.Unmatched(ctx, line)
	if err != nil {
		return nil, err
	}
	lots, err := e.availableLots(ctx, line.ProductID, trade.WarehouseID)
	if err != nil {
		return nil, err
	}

	var plan []MatchRequest
	for _, lot := range lots {
		if !remainder.IsPositive() {
			break
		}
		take := decimal.Min(remainder, lot.RemainingQuantity)
		plan = append(plan, MatchRequest{LotID: lot.ID, Quantity: take})
		remainder = remainder.Sub(take)
	}
	return plan, nil
}

// Cancel deletes a match and returns its quantity to the lot. The caller is
// responsible for reversing the matched portion of the line.
func (e *MatchEngine) Cancel(ctx context.Context, id MatchID) (Match, error) {
	m, err := e.Store.GetMatch(ctx, id)
	if err != nil {
		return Match{}, err
	}
	if err := e.Store.DeleteMatch(ctx, id); err != nil {
		return Match{}, fmt.Errorf("delete match %s: %w", id, err)
	}
	if _, err := e.Lots.Restore(ctx, m.LotID, m.Quantity, m.Weight); err != nil {
		return Match{}, err
	}
	return m, nil
}

// release deletes every match of a sale or production input line and
// restores the lots.
func (e *MatchEngine) release(ctx context.Context, lineID TradeLineID) ([]Match, error) {
	matches, err := e.Store.MatchesByLine(ctx, lineID)
	if err != nil {
		return nil, fmt.Errorf("load matches for line %s: %w", lineID, err)
	}
	for _, m := range matches {
		if _, err := e.Cancel(ctx, m.ID); err != nil {
			return nil, err
		}
	}
	return matches, nil
}

func (e *MatchEngine) saleLine(ctx context.Context, id TradeLineID) (TradeLine, error) {
	line, err := e.Store.GetLine(ctx, id)
	if err != nil {
		return TradeLine{}, err
	}
	trade, err := e.Store.GetTrade(ctx, line.TradeID)
	if err != nil {
		return TradeLine{}, err
	}
	if trade.Kind != TradeSale {
		return TradeLine{}, invalid("line %s belongs to a %s trade, not a sale", id, trade.Kind)
	}
	return line, nil
}
