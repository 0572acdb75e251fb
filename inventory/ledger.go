/*
ledger.go - Append-only inventory change log

PURPOSE:
  The ledger is the only source of historical truth. Every change to a
  product's aggregate quantity is written here in the same transaction, with
  the quantity before and after, so ValuationReconstructor can walk backwards
  from the live state to any past date.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: LedgerRecorder has Append and nothing else
  2. PAIRED: every Post moves the aggregate and appends exactly one entry
  3. CORRECTIONS ARE NEW ROWS: edits post reverse-old then apply-new,
     deletes post reverse-delete

SEE ALSO:
  - store.go: LedgerRecorder / LedgerReader split
  - reversal.go: the phases that produce annotations
*/
package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Posting is one signed inventory movement to be recorded.
type Posting struct {
	// Kind defaults to IN or OUT from the sign of Quantity.
	Kind        EntryKind
	Origin      EntryOrigin
	ProductID   ProductID
	Quantity    decimal.Decimal
	Weight      decimal.Decimal
	UnitPrice   decimal.Decimal
	TradeLineID *TradeLineID
	Annotation  string

	// AtCost moves the aggregate value at UnitPrice instead of the
	// moving-average cost. Purchases, production output and audit
	// adjustments are self-priced.
	AtCost bool

	// Cost, when set, moves the aggregate value at this price whatever AtCost
	// says. Reversal pairs pin both halves to one cost so they net out.
	Cost *decimal.Decimal
}

// Ledger pairs the aggregate update with the ledger append. One Ledger is
// built per transaction; Posted lists what it wrote so callers can log and
// count after commit.
type Ledger struct {
	Recorder LedgerRecorder
	Cache    *AggregateCache
	Now      func() time.Time

	Posted []LedgerEntry
}

func NewLedger(recorder LedgerRecorder, cache *AggregateCache, now func() time.Time) *Ledger {
	return &Ledger{Recorder: recorder, Cache: cache, Now: now}
}

// Post applies p to the aggregate cache and appends the matching entry.
func (l *Ledger) Post(ctx context.Context, p Posting) (LedgerEntry, error) {
	if p.ProductID == "" {
		return LedgerEntry{}, invalid("posting without product")
	}
	kind := p.Kind
	if kind == "" {
		kind = EntryIn
		if p.Quantity.IsNegative() {
			kind = EntryOut
		}
	}

	d := Delta{ProductID: p.ProductID, Quantity: p.Quantity, Weight: p.Weight}
	switch {
	case p.Cost != nil:
		cost := *p.Cost
		d.Price = &cost
	case p.AtCost:
		price := p.UnitPrice
		d.Price = &price
		d.SetLastPrice = p.Quantity.IsPositive() &&
			(p.Origin == OriginPurchase || p.Origin == OriginProduction) &&
			(p.Annotation == NoteApply || p.Annotation == NoteApplyNew)
	}
	before, after, err := l.Cache.ApplyDelta(ctx, d)
	if err != nil {
		return LedgerEntry{}, err
	}

	entry := LedgerEntry{
		ID:             EntryID(NewID()),
		OccurredAt:     l.Now(),
		Kind:           kind,
		Origin:         p.Origin,
		ProductID:      p.ProductID,
		QuantityDelta:  p.Quantity,
		WeightDelta:    p.Weight,
		UnitPrice:      p.UnitPrice,
		QuantityBefore: before,
		QuantityAfter:  after,
		TradeLineID:    p.TradeLineID,
		Annotation:     p.Annotation,
	}
	if err := l.Recorder.Append(ctx, entry); err != nil {
		return LedgerEntry{}, fmt.Errorf("append ledger entry: %w", err)
	}
	l.Posted = append(l.Posted, entry)
	return entry, nil
}
