package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TRADE INPUT
// =============================================================================

type LineInput struct {
	ProductID   ProductID        `json:"product_id"`
	Quantity    decimal.Decimal  `json:"quantity"`
	UnitPrice   decimal.Decimal  `json:"unit_price"`
	TotalWeight *decimal.Decimal `json:"total_weight,omitempty"`
}

type TradeInput struct {
	WarehouseID WarehouseID `json:"warehouse_id"`
	CompanyID   CompanyID   `json:"company_id"`
	TradeDate   time.Time   `json:"trade_date"`
	Lines       []LineInput `json:"lines"`

	// AutoMatch applies to sales only.
	AutoMatch bool `json:"auto_match,omitempty"`
}

// RecordedTrade is what recording a trade produced.
type RecordedTrade struct {
	Trade   Trade         `json:"trade"`
	Lines   []TradeLine   `json:"lines"`
	Lots    []Lot         `json:"lots,omitempty"`
	Matches []Match       `json:"matches,omitempty"`
	Entries []LedgerEntry `json:"entries"`
}

func validateLine(kind TradeKind, qty, price decimal.Decimal, weight *decimal.Decimal) error {
	switch kind {
	case TradePurchase, TradeSale:
		if !qty.IsPositive() {
			return invalid("%s quantity must be positive, got %s", kind, qty)
		}
	case TradeProduction:
		if qty.IsZero() {
			return invalid("production quantity must not be zero")
		}
	default:
		return invalid("unknown trade kind %q", kind)
	}
	if price.IsNegative() {
		return invalid("unit price must not be negative, got %s", price)
	}
	if weight != nil && weight.IsNegative() {
		return invalid("total weight must not be negative, got %s", *weight)
	}
	return nil
}

// createsLot reports whether a line of this kind and sign owns a lot.
func createsLot(kind TradeKind, qty decimal.Decimal) bool {
	return kind == TradePurchase || (kind == TradeProduction && qty.IsPositive())
}

// consumesLots reports whether a line draws its quantity from lots as soon as
// it is recorded. Sales are matched separately.
func consumesLots(kind TradeKind, qty decimal.Decimal) bool {
	return kind == TradeProduction && qty.IsNegative()
}

// =============================================================================
// LINE EFFECT - What a line does to inventory
// =============================================================================

// lineWeight is the explicit total weight when given, otherwise
// |quantity| × product unit weight.
func lineWeight(line TradeLine, product Product) decimal.Decimal {
	if line.TotalWeight != nil {
		return line.TotalWeight.Abs()
	}
	return line.Quantity.Abs().Mul(product.UnitWeight)
}

// effect is the signed inventory movement a line causes when applied.
// Purchases add, sales remove, production lines carry their own sign.
func (rc *ReversalCoordinator) effect(ctx context.Context, kind TradeKind, line TradeLine) (Posting, error) {
	product, err := rc.Store.Product(ctx, line.ProductID)
	if err != nil {
		return Posting{}, err
	}
	qty := line.Quantity.Abs()
	switch kind {
	case TradeSale:
		qty = qty.Neg()
	case TradeProduction:
		qty = line.Quantity
	}
	weight := lineWeight(line, product)
	if qty.IsNegative() {
		weight = weight.Neg()
	}
	id := line.ID
	return Posting{
		Origin:      originOf(kind),
		ProductID:   line.ProductID,
		Quantity:    qty,
		Weight:      weight,
		UnitPrice:   line.UnitPrice,
		TradeLineID: &id,
		AtCost:      createsLot(kind, line.Quantity),
	}, nil
}

// inverse flips the sign of a posting.
func inverse(p Posting) Posting {
	p.Quantity = p.Quantity.Neg()
	p.Weight = p.Weight.Neg()
	return p
}

// =============================================================================
// RECORD - New trades
// =============================================================================

// Record persists a trade with its lines, posts an "apply" entry per line,
// opens a lot for every purchase line and positive production line, and
// draws every negative production line from the warehouse's lots.
func (rc *ReversalCoordinator) Record(ctx context.Context, kind TradeKind, in TradeInput) (RecordedTrade, error) {
	if len(in.Lines) == 0 {
		return RecordedTrade{}, invalid("trade has no lines")
	}
	if in.WarehouseID == "" {
		return RecordedTrade{}, invalid("trade has no warehouse")
	}
	for i, l := range in.Lines {
		if err := validateLine(kind, l.Quantity, l.UnitPrice, l.TotalWeight); err != nil {
			return RecordedTrade{}, fmt.Errorf("line %d: %w", i, err)
		}
	}

	now := rc.Now()
	tradeDate := in.TradeDate
	if tradeDate.IsZero() {
		tradeDate = now
	}
	trade := Trade{
		ID:          TradeID(NewID()),
		Kind:        kind,
		WarehouseID: in.WarehouseID,
		CompanyID:   in.CompanyID,
		TradeDate:   tradeDate,
		CreatedAt:   now,
	}
	if err := rc.Store.CreateTrade(ctx, trade); err != nil {
		return RecordedTrade{}, fmt.Errorf("create trade: %w", err)
	}

	out := RecordedTrade{Trade: trade}
	for _, l := range in.Lines {
		line := TradeLine{
			ID:          TradeLineID(NewID()),
			TradeID:     trade.ID,
			ProductID:   l.ProductID,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			TotalWeight: l.TotalWeight,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		eff, err := rc.effect(ctx, kind, line)
		if err != nil {
			return RecordedTrade{}, err
		}
		if err := rc.Store.CreateLine(ctx, line); err != nil {
			return RecordedTrade{}, fmt.Errorf("create trade line: %w", err)
		}
		eff.Annotation = NoteApply
		entry, err := rc.Ledger.Post(ctx, eff)
		if err != nil {
			return RecordedTrade{}, err
		}
		out.Lines = append(out.Lines, line)
		out.Entries = append(out.Entries, entry)

		if createsLot(kind, line.Quantity) {
			lot, err := rc.Lots.Create(ctx, Lot{
				ProductID:        line.ProductID,
				WarehouseID:      trade.WarehouseID,
				TradeLineID:      line.ID,
				PurchaseDate:     trade.TradeDate,
				UnitPrice:        line.UnitPrice,
				OriginalQuantity: eff.Quantity,
				OriginalWeight:   eff.Weight,
			})
			if err != nil {
				return RecordedTrade{}, err
			}
			out.Lots = append(out.Lots, lot)
		}
		if consumesLots(kind, line.Quantity) {
			ms, err := rc.Matches.Consume(ctx, line, trade.WarehouseID)
			if err != nil {
				return RecordedTrade{}, err
			}
			out.Matches = append(out.Matches, ms...)
		}
	}
	return out, nil
}
