package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CLOSING BOOK - Settled valuations
// =============================================================================

// ClosingBook writes closings in date order. Once a newer closing exists the
// older ones are settled: they cannot be rewritten or deleted.
type ClosingBook struct {
	Store    Store
	Valuer   *ValuationReconstructor
	Location *time.Location
	Now      func() time.Time
}

// Close upserts the snapshot for its date, replacing any previous details.
func (b *ClosingBook) Close(ctx context.Context, c ClosingSnapshot) (ClosingSnapshot, error) {
	c.Date = StartOfDay(c.Date, b.Location)
	latest, err := b.Store.LatestClosing(ctx)
	switch {
	case err == nil:
		if DayKey(c.Date) < DayKey(latest.Date) {
			return ClosingSnapshot{}, fmt.Errorf("%w: closing %s predates %s",
				ErrClosingNotLatest, DayKey(c.Date), DayKey(latest.Date))
		}
	case !errors.Is(err, ErrClosingNotFound):
		return ClosingSnapshot{}, err
	}

	c.CreatedAt = b.Now()
	for i := range c.Details {
		c.Details[i].ClosingDate = c.Date
	}
	if err := b.Store.SaveClosing(ctx, c); err != nil {
		return ClosingSnapshot{}, fmt.Errorf("save closing %s: %w", DayKey(c.Date), err)
	}
	return c, nil
}

// DeleteLast removes the most recent closing and returns it.
func (b *ClosingBook) DeleteLast(ctx context.Context) (ClosingSnapshot, error) {
	latest, err := b.Store.LatestClosing(ctx)
	if err != nil {
		return ClosingSnapshot{}, err
	}
	if err := b.Store.DeleteClosing(ctx, latest.Date); err != nil {
		return ClosingSnapshot{}, fmt.Errorf("delete closing %s: %w", DayKey(latest.Date), err)
	}
	return latest, nil
}

// ClosePeriod values the period [start, end] and stores it as the closing
// for end. CurrentValuation is replayed to the end of that day and is what
// ValueAt returns for it from then on. Details list the available lots as
// they stand at closing time.
//
//	cost of goods = prior valuation + purchases − current valuation
//	gross profit  = sales revenue − cost of goods
func (b *ClosingBook) ClosePeriod(ctx context.Context, start, end time.Time) (ClosingSnapshot, error) {
	period := Period{Start: StartOfDay(start, b.Location), End: StartOfDay(end, b.Location)}
	if !period.Valid() {
		return ClosingSnapshot{}, invalid("period %s ends before it starts", period)
	}

	prior, err := b.Valuer.ValueAt(ctx, period.Start.AddDate(0, 0, -1))
	if err != nil {
		return ClosingSnapshot{}, fmt.Errorf("prior valuation: %w", err)
	}
	current, err := b.Valuer.Recompute(ctx, period.End)
	if err != nil {
		return ClosingSnapshot{}, fmt.Errorf("current valuation: %w", err)
	}

	from, to := period.Start, EndOfDay(period.End, b.Location)
	purchases, err := b.sumLines(ctx, TradePurchase, from, to)
	if err != nil {
		return ClosingSnapshot{}, err
	}
	revenue, err := b.sumLines(ctx, TradeSale, from, to)
	if err != nil {
		return ClosingSnapshot{}, err
	}

	cogs := prior.Value.Add(purchases).Sub(current.Value)
	snap := ClosingSnapshot{
		Date:             period.End,
		PeriodStart:      period.Start,
		PriorValuation:   prior.Value,
		CurrentValuation: current.Value,
		PurchaseCost:     purchases,
		CostOfGoods:      cogs,
		SalesRevenue:     revenue,
		GrossProfit:      revenue.Sub(cogs),
	}

	lots, err := b.Store.ListLots(ctx, LotFilter{AvailableOnly: true})
	if err != nil {
		return ClosingSnapshot{}, fmt.Errorf("list lots: %w", err)
	}
	for _, lot := range lots {
		snap.Details = append(snap.Details, ClosingDetail{
			LotID:             lot.ID,
			ProductID:         lot.ProductID,
			RemainingQuantity: lot.RemainingQuantity,
			UnitPrice:         lot.UnitPrice,
			Value:             lot.Value(),
		})
	}
	return b.Close(ctx, snap)
}

func (b *ClosingBook) sumLines(ctx context.Context, kind TradeKind, from, to time.Time) (decimal.Decimal, error) {
	lines, err := b.Store.ListLines(ctx, kind, from, to)
	if err != nil {
		return decimal.Zero, fmt.Errorf("list %s lines: %w", kind, err)
	}
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Amount())
	}
	return total, nil
}
