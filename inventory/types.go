/*
Package inventory provides the inventory cost ledger and reconciliation engine.

PURPOSE:
  Tracks purchase batches (lots), attributes sale quantities to them, keeps a
  per-product aggregate cache in step with the lots, records every
  inventory-affecting event in an append-only ledger, reconciles physical
  counts, and reconstructs inventory value at past dates.

KEY CONCEPTS IN THIS FILE (types.go):
  - Lot: one purchase (or production) batch with its own unit cost
  - TradeLine: a purchase/sale/production line owned by a Trade
  - Match: a sale quantity drawn from a specific lot at the lot's cost
  - LedgerEntry: immutable record of one quantity-affecting event
  - AggregateRow: per-product rolling totals derived from the ledger
  - AuditSession / AuditItem: a frozen physical-count session
  - ClosingSnapshot: a persisted valuation for a day or period

DESIGN PRINCIPLES:
  1. Precision: every quantity, weight, price and value is a decimal.Decimal
  2. Derived state is derived: lot status is computed, never stored
  3. History is appended: ledger and adjustment rows are never rewritten
  4. Copied prices: a Match keeps the lot price it was drawn at

SEE ALSO:
  - store.go: persistence interfaces
  - service.go: the operations exposed to the API layer
*/
package inventory

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ProductID string
type WarehouseID string
type CompanyID string
type TradeID string
type TradeLineID string
type LotID string
type MatchID string
type EntryID string
type SessionID string
type AuditItemID string
type AdjustmentID string

// NewID returns a fresh random identifier.
func NewID() string {
	return uuid.NewString()
}

// =============================================================================
// REFERENCE DATA - owned by the catalog, read-only here
// =============================================================================

// Product is the slice of product metadata the ledger needs.
type Product struct {
	ID         ProductID       `db:"id" json:"id"`
	Name       string          `db:"name" json:"name"`
	UnitWeight decimal.Decimal `db:"unit_weight" json:"unit_weight"` // weight of one unit
}

// =============================================================================
// TRADES
// =============================================================================

type TradeKind string

const (
	TradePurchase   TradeKind = "PURCHASE"
	TradeSale       TradeKind = "SALE"
	TradeProduction TradeKind = "PRODUCTION"
)

func (k TradeKind) Valid() bool {
	switch k {
	case TradePurchase, TradeSale, TradeProduction:
		return true
	}
	return false
}

type Trade struct {
	ID          TradeID     `db:"id"`
	Kind        TradeKind   `db:"kind"`
	WarehouseID WarehouseID `db:"warehouse_id"`
	CompanyID   CompanyID   `db:"company_id"`
	TradeDate   time.Time   `db:"trade_date"`
	CreatedAt   time.Time   `db:"created_at"`
}

// TradeLine is one product line of a trade. Quantity is signed: production
// inputs are negative, everything else is recorded positive.
type TradeLine struct {
	ID          TradeLineID      `db:"id"`
	TradeID     TradeID          `db:"trade_id"`
	ProductID   ProductID        `db:"product_id"`
	Quantity    decimal.Decimal  `db:"quantity"`
	UnitPrice   decimal.Decimal  `db:"unit_price"`
	TotalWeight *decimal.Decimal `db:"total_weight"` // explicit weight overrides quantity × unit weight
	CreatedAt   time.Time        `db:"created_at"`
	UpdatedAt   time.Time        `db:"updated_at"`
}

// Amount returns quantity × unit price.
func (l TradeLine) Amount() decimal.Decimal {
	return l.Quantity.Abs().Mul(l.UnitPrice)
}

// =============================================================================
// LOT - Purchase batch
// =============================================================================

type LotStatus string

const (
	LotAvailable LotStatus = "AVAILABLE"
	LotDepleted  LotStatus = "DEPLETED"
)

// Lot is a purchase (or production output) batch tracked for cost attribution.
//
// INVARIANTS:
//   - RemainingQuantity >= 0
//   - Status() is AVAILABLE iff RemainingQuantity > 0
type Lot struct {
	ID                LotID           `db:"id"`
	ProductID         ProductID       `db:"product_id"`
	WarehouseID       WarehouseID     `db:"warehouse_id"`
	TradeLineID       TradeLineID     `db:"trade_line_id"`
	PurchaseDate      time.Time       `db:"purchase_date"`
	UnitPrice         decimal.Decimal `db:"unit_price"`
	OriginalQuantity  decimal.Decimal `db:"original_quantity"`
	RemainingQuantity decimal.Decimal `db:"remaining_quantity"`
	OriginalWeight    decimal.Decimal `db:"original_weight"`
	RemainingWeight   decimal.Decimal `db:"remaining_weight"`
	ManualRank        int             `db:"manual_rank"`
	CreatedAt         time.Time       `db:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at"`
}

// Status is derived from the remaining quantity on every call.
func (l Lot) Status() LotStatus {
	if l.RemainingQuantity.IsPositive() {
		return LotAvailable
	}
	return LotDepleted
}

func (l Lot) IsAvailable() bool { return l.Status() == LotAvailable }

// Value is the remaining quantity at the lot's cost.
func (l Lot) Value() decimal.Decimal {
	return l.RemainingQuantity.Mul(l.UnitPrice)
}

// WeightFor returns the share of the lot's weight carried by qty units.
func (l Lot) WeightFor(qty decimal.Decimal) decimal.Decimal {
	if l.OriginalQuantity.IsZero() {
		return decimal.Zero
	}
	return l.OriginalWeight.Mul(qty).Div(l.OriginalQuantity).Round(4)
}

// =============================================================================
// MATCH - Sale quantity attributed to a lot
// =============================================================================

// Match links a sale line to a lot. LotUnitPrice is copied at match time so
// later lot price edits never change historical cost. Production input lines
// record their consumption as matches too, under SaleLineID.
type Match struct {
	ID           MatchID         `db:"id"`
	SaleLineID   TradeLineID     `db:"sale_line_id"`
	LotID        LotID           `db:"lot_id"`
	Quantity     decimal.Decimal `db:"quantity"`
	Weight       decimal.Decimal `db:"weight"`
	LotUnitPrice decimal.Decimal `db:"lot_unit_price"`
	CreatedAt    time.Time       `db:"created_at"`
}

// Cost is the matched quantity at the copied lot price.
func (m Match) Cost() decimal.Decimal {
	return m.Quantity.Mul(m.LotUnitPrice)
}

// =============================================================================
// LEDGER ENTRY - Immutable change record
// =============================================================================

type EntryKind string

const (
	EntryIn     EntryKind = "IN"
	EntryOut    EntryKind = "OUT"
	EntryAdjust EntryKind = "ADJUST"
)

// EntryOrigin names the kind of record an entry came from. The valuation
// cascade picks its pricing tier from it.
type EntryOrigin string

const (
	OriginPurchase   EntryOrigin = "PURCHASE"
	OriginSale       EntryOrigin = "SALE"
	OriginProduction EntryOrigin = "PRODUCTION"
	OriginAudit      EntryOrigin = "AUDIT"
)

func originOf(kind TradeKind) EntryOrigin {
	return EntryOrigin(kind)
}

// Annotations distinguishing the phases of a recorded change.
const (
	NoteApply         = "apply"
	NoteReverseOld    = "reverse-old"
	NoteApplyNew      = "apply-new"
	NoteReverseDelete = "reverse-delete"
	NoteAuditFinalize = "audit-finalize"
	NoteAuditRevert   = "audit-revert"
)

// LedgerEntry is one inventory-quantity-affecting event. Never updated or
// deleted after insertion.
type LedgerEntry struct {
	ID             EntryID         `db:"id"`
	OccurredAt     time.Time       `db:"occurred_at"`
	Kind           EntryKind       `db:"kind"`
	Origin         EntryOrigin     `db:"origin"`
	ProductID      ProductID       `db:"product_id"`
	QuantityDelta  decimal.Decimal `db:"quantity_delta"`
	WeightDelta    decimal.Decimal `db:"weight_delta"`
	UnitPrice      decimal.Decimal `db:"unit_price"`
	QuantityBefore decimal.Decimal `db:"quantity_before"`
	QuantityAfter  decimal.Decimal `db:"quantity_after"`
	TradeLineID    *TradeLineID    `db:"trade_line_id"`
	Annotation     string          `db:"annotation"`
}

// =============================================================================
// AGGREGATE ROW - Per-product cache
// =============================================================================

// AggregateRow holds per-product rolling totals. Value is the stock at cost,
// kept so the live valuation is an exact sum. ManualPrice is operator-set and
// survives hard syncs.
type AggregateRow struct {
	ProductID   ProductID       `db:"product_id"`
	Quantity    decimal.Decimal `db:"quantity"`
	Weight      decimal.Decimal `db:"weight"`
	Value       decimal.Decimal `db:"value"`
	LastPrice   decimal.Decimal `db:"last_price"`
	ManualPrice decimal.Decimal `db:"manual_price"`
	UpdatedAt   time.Time       `db:"updated_at"`
}

// AverageCost is the moving-average unit cost, falling back to the last
// purchase price when the row holds no stock.
// Worth is the row value floored at zero.
func (r AggregateRow) Worth() decimal.Decimal {
	if r.Value.IsNegative() {
		return decimal.Zero
	}
	return r.Value
}

func (r AggregateRow) AverageCost() decimal.Decimal {
	if r.Quantity.IsPositive() && !r.Value.IsNegative() {
		return r.Value.Div(r.Quantity)
	}
	return r.LastPrice
}

// =============================================================================
// AUDIT - Physical count sessions
// =============================================================================

type AuditStatus string

const (
	AuditInProgress AuditStatus = "IN_PROGRESS"
	AuditCompleted  AuditStatus = "COMPLETED"
	AuditCancelled  AuditStatus = "CANCELLED"
)

type AuditSession struct {
	ID          SessionID   `db:"id"`
	WarehouseID WarehouseID `db:"warehouse_id"`
	AuditDate   time.Time   `db:"audit_date"`
	Status      AuditStatus `db:"status"`
	Round       int         `db:"round"` // incremented by every finalize
	CreatedAt   time.Time   `db:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at"`
	Items       []AuditItem `db:"-"`
}

// AuditItem keeps two quantities on purpose: SystemQuantity is frozen at
// session start (or at the last explicit sync); CurrentQuantity is a live
// read filled in when the item is loaded and is never persisted.
type AuditItem struct {
	ID              AuditItemID      `db:"id"`
	SessionID       SessionID        `db:"session_id"`
	LotID           LotID            `db:"lot_id"`
	ProductID       ProductID        `db:"product_id"`
	SystemQuantity  decimal.Decimal  `db:"system_quantity"`
	CurrentQuantity decimal.Decimal  `db:"-"`
	ActualQuantity  *decimal.Decimal `db:"actual_quantity"`
	Checked         bool             `db:"checked"`
	Notes           string           `db:"notes"`
	UpdatedAt       time.Time        `db:"updated_at"`
}

// Difference returns actual − system, and false while the item is uncounted.
func (i AuditItem) Difference() (decimal.Decimal, bool) {
	if i.ActualQuantity == nil {
		return decimal.Zero, false
	}
	return i.ActualQuantity.Sub(i.SystemQuantity), true
}

// Drifted reports whether live stock moved away from the frozen snapshot.
func (i AuditItem) Drifted() bool {
	return !i.CurrentQuantity.Equal(i.SystemQuantity)
}

type AdjustmentKind string

const (
	AdjustmentFinalize AdjustmentKind = "FINALIZE"
	AdjustmentRevert   AdjustmentKind = "REVERT"
)

// Adjustment records one signed lot change produced by an audit. Append-only:
// a revert appends the inverse rather than removing the original.
type Adjustment struct {
	ID            AdjustmentID    `db:"id"`
	SessionID     SessionID       `db:"session_id"`
	Round         int             `db:"round"`
	Kind          AdjustmentKind  `db:"kind"`
	LotID         LotID           `db:"lot_id"`
	QuantityDelta decimal.Decimal `db:"quantity_delta"`
	Reason        string          `db:"reason"`
	CreatedAt     time.Time       `db:"created_at"`
}

// =============================================================================
// CLOSING - Persisted valuation snapshots
// =============================================================================

type ClosingSnapshot struct {
	Date             time.Time       `db:"closing_date"`
	PeriodStart      time.Time       `db:"period_start"`
	PriorValuation   decimal.Decimal `db:"prior_valuation"`
	CurrentValuation decimal.Decimal `db:"current_valuation"`
	PurchaseCost     decimal.Decimal `db:"purchase_cost"`
	CostOfGoods      decimal.Decimal `db:"cost_of_goods"`
	SalesRevenue     decimal.Decimal `db:"sales_revenue"`
	GrossProfit      decimal.Decimal `db:"gross_profit"`
	CreatedAt        time.Time       `db:"created_at"`
	Details          []ClosingDetail `db:"-"`
}

// ClosingDetail is one lot's valuation captured when the closing was written,
// which for a day closed after the fact already includes later movements.
// The snapshot's CurrentValuation is the figure of record for its date.
type ClosingDetail struct {
	ClosingDate       time.Time       `db:"closing_date"`
	LotID             LotID           `db:"lot_id"`
	ProductID         ProductID       `db:"product_id"`
	RemainingQuantity decimal.Decimal `db:"remaining_quantity"`
	UnitPrice         decimal.Decimal `db:"unit_price"`
	Value             decimal.Decimal `db:"value"`
}
