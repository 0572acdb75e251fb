/*
valuation.go - Inventory value at any date

PURPOSE:
  ValueAt(date) answers "what was the stock worth at the end of that day".

RESOLUTION ORDER:
  1. Today (or later): the live valuation, Σ aggregate row values
  2. A stored closing for the day: its current valuation, no computation.
     Closing details are a lot breakdown at the time of closing and are not
     consulted.
  3. Otherwise: live valuation minus the value of every ledger entry after
     the end of the day, each priced by the cost cascade

COST CASCADE (first tier that prices the quantity wins):
  1. matched cost     SALE entries: matches of the line at their copied price;
                      any unmatched remainder falls through
  2. recorded price   PURCHASE entries always; other non-sale entries when
                      their recorded price is non-zero
  3. latest purchase  newest lot price for the product, depleted lots included
  4. manual price     operator price on the aggregate row
  5. zero

CLAMPING:
  A correct ledger never replays below zero. When one does, the result is
  clamped to zero and marked with a ReconstructionInconsistencyError so the
  caller can log it. Valuation never fails for data-quality reasons and never
  writes.
*/
package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type ValuationSource string

const (
	SourceLive    ValuationSource = "live"
	SourceClosing ValuationSource = "closing"
	SourceReplay  ValuationSource = "replay"
)

type Valuation struct {
	Date     time.Time       `json:"date"`
	Value    decimal.Decimal `json:"value"`
	Source   ValuationSource `json:"source"`
	Live     decimal.Decimal `json:"live"`
	Replayed int             `json:"replayed"`
	Clamped  bool            `json:"clamped"`

	// Inconsistency is set when the replay went negative.
	Inconsistency *ReconstructionInconsistencyError `json:"-"`
}

// =============================================================================
// COST TIERS
// =============================================================================

// CostTier prices some or all of qty units of a ledger entry. It returns the
// value it accounts for and the quantity it leaves for the next tier.
type CostTier interface {
	Name() string
	Price(ctx context.Context, e LedgerEntry, qty decimal.Decimal) (value, rest decimal.Decimal, err error)
}

type matchedCostTier struct{ matches MatchStore }

func (matchedCostTier) Name() string { return "matched_cost" }

func (t matchedCostTier) Price(ctx context.Context, e LedgerEntry, qty decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	if e.Origin != OriginSale || e.TradeLineID == nil {
		return decimal.Zero, qty, nil
	}
	matches, err := t.matches.MatchesByLine(ctx, *e.TradeLineID)
	if err != nil {
		return decimal.Zero, qty, fmt.Errorf("load matches for line %s: %w", *e.TradeLineID, err)
	}
	matchedQty, matchedCost := decimal.Zero, decimal.Zero
	for _, m := range matches {
		matchedQty = matchedQty.Add(m.Quantity)
		matchedCost = matchedCost.Add(m.Cost())
	}
	if !matchedQty.IsPositive() {
		return decimal.Zero, qty, nil
	}
	covered := decimal.Min(qty, matchedQty)
	value := matchedCost
	if covered.LessThan(matchedQty) {
		value = matchedCost.Mul(covered).Div(matchedQty)
	}
	return value, qty.Sub(covered), nil
}

type recordedPriceTier struct{}

func (recordedPriceTier) Name() string { return "recorded_price" }

func (recordedPriceTier) Price(_ context.Context, e LedgerEntry, qty decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	switch {
	case e.Origin == OriginPurchase:
	case e.Origin != OriginSale && !e.UnitPrice.IsZero():
	default:
		return decimal.Zero, qty, nil
	}
	return qty.Mul(e.UnitPrice), decimal.Zero, nil
}

// latestPurchaseTier prices from the newest lot of the product.
type latestPurchaseTier struct{ latest map[ProductID]decimal.Decimal }

func (latestPurchaseTier) Name() string { return "latest_purchase" }

func (t latestPurchaseTier) Price(_ context.Context, e LedgerEntry, qty decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	price, ok := t.latest[e.ProductID]
	if !ok || price.IsZero() {
		return decimal.Zero, qty, nil
	}
	return qty.Mul(price), decimal.Zero, nil
}

type manualPriceTier struct{ rows map[ProductID]AggregateRow }

func (manualPriceTier) Name() string { return "manual_price" }

func (t manualPriceTier) Price(_ context.Context, e LedgerEntry, qty decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	row, ok := t.rows[e.ProductID]
	if !ok || row.ManualPrice.IsZero() {
		return decimal.Zero, qty, nil
	}
	return qty.Mul(row.ManualPrice), decimal.Zero, nil
}

type zeroTier struct{}

func (zeroTier) Name() string { return "zero" }

func (zeroTier) Price(context.Context, LedgerEntry, decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	return decimal.Zero, decimal.Zero, nil
}

// Cascade runs tiers in order until the quantity is fully priced.
type Cascade []CostTier

// Value returns the signed value an entry contributed to inventory.
func (c Cascade) Value(ctx context.Context, e LedgerEntry) (decimal.Decimal, error) {
	rest := e.QuantityDelta.Abs()
	total := decimal.Zero
	for _, tier := range c {
		if rest.IsZero() {
			break
		}
		value, left, err := tier.Price(ctx, e, rest)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%s: %w", tier.Name(), err)
		}
		total = total.Add(value)
		rest = left
	}
	if e.QuantityDelta.IsNegative() {
		total = total.Neg()
	}
	return total, nil
}

// =============================================================================
// RECONSTRUCTOR
// =============================================================================

// ValuationReconstructor is read-only.
type ValuationReconstructor struct {
	Store    Store
	Cache    *AggregateCache
	Location *time.Location
	Now      func() time.Time
}

// BuildCascade loads the reference prices the lower tiers need.
func (v *ValuationReconstructor) BuildCascade(ctx context.Context) (Cascade, error) {
	lots, err := v.Store.ListLots(ctx, LotFilter{})
	if err != nil {
		return nil, fmt.Errorf("list lots: %w", err)
	}
	latest := make(map[ProductID]decimal.Decimal)
	newest := make(map[ProductID]Lot)
	for _, lot := range lots {
		cur, ok := newest[lot.ProductID]
		if !ok || lot.PurchaseDate.After(cur.PurchaseDate) ||
			(lot.PurchaseDate.Equal(cur.PurchaseDate) && lot.CreatedAt.After(cur.CreatedAt)) {
			newest[lot.ProductID] = lot
			latest[lot.ProductID] = lot.UnitPrice
		}
	}

	rows, err := v.Store.ListAggregates(ctx)
	if err != nil {
		return nil, fmt.Errorf("list aggregates: %w", err)
	}
	byProduct := make(map[ProductID]AggregateRow, len(rows))
	for _, r := range rows {
		byProduct[r.ProductID] = r
	}

	return Cascade{
		matchedCostTier{matches: v.Store},
		recordedPriceTier{},
		latestPurchaseTier{latest: latest},
		manualPriceTier{rows: byProduct},
		zeroTier{},
	}, nil
}

// ValueAt returns the inventory value at the end of date.
func (v *ValuationReconstructor) ValueAt(ctx context.Context, date time.Time) (Valuation, error) {
	return v.value(ctx, date, true)
}

// Recompute is ValueAt ignoring any stored closing for the date.
func (v *ValuationReconstructor) Recompute(ctx context.Context, date time.Time) (Valuation, error) {
	return v.value(ctx, date, false)
}

func (v *ValuationReconstructor) value(ctx context.Context, date time.Time, useClosing bool) (Valuation, error) {
	day := StartOfDay(date, v.Location)
	live, err := v.Cache.LiveValuation(ctx)
	if err != nil {
		return Valuation{}, err
	}
	out := Valuation{Date: day, Live: live}

	if !day.Before(StartOfDay(v.Now(), v.Location)) {
		out.Value, out.Source = live, SourceLive
		return out, nil
	}

	if useClosing {
		closing, err := v.Store.GetClosing(ctx, day)
		switch {
		case err == nil:
			out.Value, out.Source = closing.CurrentValuation, SourceClosing
			return out, nil
		case !IsNotFound(err):
			return Valuation{}, err
		}
	}

	entries, err := v.Store.EntriesAfter(ctx, EndOfDay(day, v.Location))
	if err != nil {
		return Valuation{}, fmt.Errorf("load ledger entries: %w", err)
	}
	cascade, err := v.BuildCascade(ctx)
	if err != nil {
		return Valuation{}, err
	}

	value := live
	for i := len(entries) - 1; i >= 0; i-- {
		contributed, err := cascade.Value(ctx, entries[i])
		if err != nil {
			return Valuation{}, err
		}
		value = value.Sub(contributed)
	}

	out.Source = SourceReplay
	out.Replayed = len(entries)
	out.Value = value
	if value.IsNegative() {
		out.Value = decimal.Zero
		out.Clamped = true
		out.Inconsistency = &ReconstructionInconsistencyError{Date: day, Raw: value, Replayed: len(entries)}
	}
	return out, nil
}
