/*
store.go - Persistence interfaces for the inventory engine

PURPOSE:
  Defines the boundary between the domain logic and the database. Each
  component gets its own narrow interface; Store composes them and TxStore
  adds the transaction boundary every mutation runs inside.

KEY INTERFACES:
  LotStore:        purchase lots (create, read, reshape, delete)
  LedgerRecorder:  append-only ledger writes
  LedgerReader:    read-only ledger queries for valuation and reporting
  MatchStore:      sale-to-lot attributions
  AggregateStore:  per-product cache rows
  AuditStore:      count sessions and their frozen items
  ClosingStore:    day/period valuation snapshots

APPEND-ONLY CONTRACT:
  LedgerRecorder and AdjustmentStore expose no update or delete. Corrections
  are written as new entries (reverse-old / apply-new, REVERT adjustments).

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite via sqlx
  - inventory/store/memory.go: in-memory for tests and development

SEE ALSO:
  - service.go: runs every mutation inside TxStore.WithTx
*/
package inventory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// REFERENCE DATA & TRADES
// =============================================================================

type ProductCatalog interface {
	Product(ctx context.Context, id ProductID) (Product, error)
	SaveProduct(ctx context.Context, p Product) error
}

type TradeStore interface {
	CreateTrade(ctx context.Context, t Trade) error
	GetTrade(ctx context.Context, id TradeID) (Trade, error)

	CreateLine(ctx context.Context, l TradeLine) error
	GetLine(ctx context.Context, id TradeLineID) (TradeLine, error)
	UpdateLine(ctx context.Context, l TradeLine) error
	DeleteLine(ctx context.Context, id TradeLineID) error

	// ListLines returns lines of trades of the given kind whose trade date
	// falls in [from, to].
	ListLines(ctx context.Context, kind TradeKind, from, to time.Time) ([]TradeLine, error)
}

// =============================================================================
// LOTS
// =============================================================================

// LotFilter narrows ListLots. Zero values mean "any".
type LotFilter struct {
	ProductID     ProductID
	WarehouseID   WarehouseID
	AvailableOnly bool
}

type LotStore interface {
	CreateLot(ctx context.Context, l Lot) error
	GetLot(ctx context.Context, id LotID) (Lot, error)
	UpdateLot(ctx context.Context, l Lot) error
	DeleteLot(ctx context.Context, id LotID) error
	ListLots(ctx context.Context, f LotFilter) ([]Lot, error)

	// LotForLine returns the lot created by a purchase or production line.
	LotForLine(ctx context.Context, lineID TradeLineID) (Lot, error)
}

// =============================================================================
// LEDGER - Append-only
// =============================================================================

// LedgerRecorder is the only write path to the ledger.
type LedgerRecorder interface {
	Append(ctx context.Context, e LedgerEntry) error
}

// LedgerReader is deliberately separate from LedgerRecorder so read paths
// cannot write.
type LedgerReader interface {
	// EntriesAfter returns entries with OccurredAt strictly after t, oldest first.
	EntriesAfter(ctx context.Context, t time.Time) ([]LedgerEntry, error)
	Entries(ctx context.Context, productID ProductID) ([]LedgerEntry, error)
}

// =============================================================================
// MATCHES
// =============================================================================

type MatchStore interface {
	CreateMatch(ctx context.Context, m Match) error
	GetMatch(ctx context.Context, id MatchID) (Match, error)
	DeleteMatch(ctx context.Context, id MatchID) error
	MatchesByLot(ctx context.Context, lotID LotID) ([]Match, error)
	MatchesByLine(ctx context.Context, lineID TradeLineID) ([]Match, error)
}

// =============================================================================
// AGGREGATE CACHE
// =============================================================================

type AggregateStore interface {
	// GetAggregate returns a zero row for products never seen.
	GetAggregate(ctx context.Context, productID ProductID) (AggregateRow, error)
	SaveAggregate(ctx context.Context, r AggregateRow) error
	ListAggregates(ctx context.Context) ([]AggregateRow, error)
	ClearAggregates(ctx context.Context) error
}

// =============================================================================
// AUDIT
// =============================================================================

// AdjustmentStore is append-only like the ledger.
type AdjustmentStore interface {
	AppendAdjustment(ctx context.Context, a Adjustment) error
	AdjustmentsBySession(ctx context.Context, id SessionID) ([]Adjustment, error)
}

type AuditStore interface {
	// CreateSession persists the session together with its items.
	CreateSession(ctx context.Context, s AuditSession) error
	GetSession(ctx context.Context, id SessionID) (AuditSession, error)
	UpdateSession(ctx context.Context, s AuditSession) error
	GetItem(ctx context.Context, id AuditItemID) (AuditItem, error)
	UpdateItem(ctx context.Context, i AuditItem) error
}

// =============================================================================
// CLOSINGS
// =============================================================================

type ClosingStore interface {
	// SaveClosing upserts the snapshot by date and replaces its details.
	SaveClosing(ctx context.Context, c ClosingSnapshot) error
	GetClosing(ctx context.Context, date time.Time) (ClosingSnapshot, error)
	// LatestClosing returns ErrClosingNotFound when no closing exists.
	LatestClosing(ctx context.Context) (ClosingSnapshot, error)
	DeleteClosing(ctx context.Context, date time.Time) error
}

// =============================================================================
// COMPOSED STORE
// =============================================================================

type Store interface {
	ProductCatalog
	TradeStore
	LotStore
	LedgerRecorder
	LedgerReader
	MatchStore
	AggregateStore
	AdjustmentStore
	AuditStore
	ClosingStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// ZeroAggregate is what GetAggregate returns for a product with no history.
func ZeroAggregate(id ProductID) AggregateRow {
	return AggregateRow{
		ProductID:   id,
		Quantity:    decimal.Zero,
		Weight:      decimal.Zero,
		Value:       decimal.Zero,
		LastPrice:   decimal.Zero,
		ManualPrice: decimal.Zero,
	}
}
