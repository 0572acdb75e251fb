/*
aggregate.go - Per-product rolling totals

PURPOSE:
  The AggregateCache keeps quantity, weight, value and last purchase price per
  product so the live valuation and stock screens never scan lots.

DRIFT:
  Incremental maintenance prices sales at the moving-average cost while the
  lots they draw from carry their own prices, and unmatched sales move the
  aggregate without touching any lot. The cache can therefore drift from the
  lot-level truth. HardSync is the repair: it rebuilds every row strictly from
  non-depleted lots. Drift between syncs is expected behaviour.

SIGNED VALUES:
  Row value is stored signed. An oversold product carries a negative
  quantity and value until purchases or a HardSync bring it back, and a
  reverse-old/apply-new pair nets out exactly even when the reversal dips
  below zero. Readers floor with AggregateRow.Worth.

SEE ALSO:
  - lot.go: the authoritative remaining quantities
  - valuation.go: live valuation is the sum of row values
*/
package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PricePolicy selects how HardSync derives a product's price from its lots.
type PricePolicy string

const (
	PriceWeightedAverage PricePolicy = "weighted_average"
	PriceMax             PricePolicy = "max"
)

func (p PricePolicy) Valid() bool {
	return p == PriceWeightedAverage || p == PriceMax
}

// Delta is one signed change to a product's row.
type Delta struct {
	ProductID ProductID
	Quantity  decimal.Decimal
	Weight    decimal.Decimal

	// Price, when set, moves the row value by Quantity × Price instead of the
	// moving-average cost.
	Price *decimal.Decimal

	// SetLastPrice records Price as the product's last purchase price.
	SetLastPrice bool
}

type AggregateCache struct {
	Store  AggregateStore
	Policy PricePolicy
	Now    func() time.Time
}

func NewAggregateCache(store AggregateStore, policy PricePolicy, now func() time.Time) *AggregateCache {
	if !policy.Valid() {
		policy = PriceWeightedAverage
	}
	return &AggregateCache{Store: store, Policy: policy, Now: now}
}

// ApplyDelta moves one product's row and returns its quantity before and
// after, which the caller stamps on the ledger entry.
func (c *AggregateCache) ApplyDelta(ctx context.Context, d Delta) (before, after decimal.Decimal, err error) {
	row, err := c.Store.GetAggregate(ctx, d.ProductID)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("load aggregate %s: %w", d.ProductID, err)
	}
	before = row.Quantity

	price := row.AverageCost()
	if d.Price != nil {
		price = *d.Price
	}
	row.Quantity = row.Quantity.Add(d.Quantity)
	row.Weight = row.Weight.Add(d.Weight)
	row.Value = row.Value.Add(d.Quantity.Mul(price))
	if d.SetLastPrice && d.Price != nil {
		row.LastPrice = *d.Price
	}
	row.UpdatedAt = c.Now()

	if err := c.Store.SaveAggregate(ctx, row); err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("save aggregate %s: %w", d.ProductID, err)
	}
	return before, row.Quantity, nil
}

// AverageCost is the product's current moving-average cost.
func (c *AggregateCache) AverageCost(ctx context.Context, productID ProductID) (decimal.Decimal, error) {
	row, err := c.Store.GetAggregate(ctx, productID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("load aggregate %s: %w", productID, err)
	}
	return row.AverageCost(), nil
}

// SetManualPrice stores an operator price used by the valuation cascade.
func (c *AggregateCache) SetManualPrice(ctx context.Context, productID ProductID, price decimal.Decimal) (AggregateRow, error) {
	if price.IsNegative() {
		return AggregateRow{}, invalid("manual price must not be negative, got %s", price)
	}
	row, err := c.Store.GetAggregate(ctx, productID)
	if err != nil {
		return AggregateRow{}, err
	}
	row.ManualPrice = price
	row.UpdatedAt = c.Now()
	if err := c.Store.SaveAggregate(ctx, row); err != nil {
		return AggregateRow{}, fmt.Errorf("save aggregate %s: %w", productID, err)
	}
	return row, nil
}

// HardSync zeroes every row and recomputes from the given lots. Depleted lots
// are ignored. Manual prices and last prices survive; quantity, weight and
// value are rebuilt exactly.
func (c *AggregateCache) HardSync(ctx context.Context, lots []Lot) ([]AggregateRow, error) {
	existing, err := c.Store.ListAggregates(ctx)
	if err != nil {
		return nil, fmt.Errorf("list aggregates: %w", err)
	}
	now := c.Now()

	rows := make(map[ProductID]*AggregateRow, len(existing))
	order := make([]ProductID, 0, len(existing))
	for _, r := range existing {
		r := r
		r.Quantity = decimal.Zero
		r.Weight = decimal.Zero
		r.Value = decimal.Zero
		r.UpdatedAt = now
		rows[r.ProductID] = &r
		order = append(order, r.ProductID)
	}

	maxPrice := make(map[ProductID]decimal.Decimal)
	for _, lot := range lots {
		if !lot.IsAvailable() {
			continue
		}
		row, ok := rows[lot.ProductID]
		if !ok {
			fresh := ZeroAggregate(lot.ProductID)
			fresh.UpdatedAt = now
			row = &fresh
			rows[lot.ProductID] = row
			order = append(order, lot.ProductID)
		}
		row.Quantity = row.Quantity.Add(lot.RemainingQuantity)
		row.Weight = row.Weight.Add(lot.RemainingWeight)
		row.Value = row.Value.Add(lot.Value())
		if mp, ok := maxPrice[lot.ProductID]; !ok || lot.UnitPrice.GreaterThan(mp) {
			maxPrice[lot.ProductID] = lot.UnitPrice
		}
	}

	for id, row := range rows {
		if !row.Quantity.IsPositive() {
			continue
		}
		switch c.Policy {
		case PriceMax:
			row.LastPrice = maxPrice[id]
		default:
			row.LastPrice = row.Value.Div(row.Quantity).Round(4)
		}
	}

	if err := c.Store.ClearAggregates(ctx); err != nil {
		return nil, fmt.Errorf("clear aggregates: %w", err)
	}
	out := make([]AggregateRow, 0, len(order))
	for _, id := range order {
		if err := c.Store.SaveAggregate(ctx, *rows[id]); err != nil {
			return nil, fmt.Errorf("save aggregate %s: %w", id, err)
		}
		out = append(out, *rows[id])
	}
	return out, nil
}

// LiveValuation is the sum of every row's value, oversold rows counting zero.
func (c *AggregateCache) LiveValuation(ctx context.Context) (decimal.Decimal, error) {
	rows, err := c.Store.ListAggregates(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("list aggregates: %w", err)
	}
	total := decimal.Zero
	for _, r := range rows {
		total = total.Add(r.Worth())
	}
	return total, nil
}
