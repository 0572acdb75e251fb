/*
Package sqlite provides a SQLite-backed implementation of inventory.TxStore.

PURPOSE:
  Persists every table the inventory engine uses. Queries go through sqlx so
  rows scan straight into the domain structs; the same query set runs against
  the connection pool or inside a transaction.

APPEND-ONLY ENFORCEMENT:
  ledger_entries and adjustment_entries reject UPDATE and DELETE at the
  database level (triggers). Corrections are new rows only.

KEY TABLES:
  products, trades, trade_lines:   reference data and trade documents
  lots:                            purchase batches, one per purchase line
  ledger_entries:                  immutable change log (valuation replay)
  matches:                         sale quantity attributed to lots
  aggregate_cache:                 per-product rolling totals
  audit_sessions, audit_items:     count sessions and frozen snapshots
  adjustment_entries:              append-only audit adjustments
  closing_snapshots(_details):     settled day/period valuations

ENCODING:
  Decimals are TEXT (exact). Timestamps are DATETIME in UTC so lexical order
  is time order. closing_date is the business-day key (YYYY-MM-DD).

CONCURRENCY:
  The pool is capped at one connection. SQLite allows a single writer anyway,
  and ":memory:" databases are per connection.

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := inventory.NewService(store, inventory.DefaultConfig())

SEE ALSO:
  - inventory/store.go: interface definitions
  - inventory/store/memory.go: in-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/produce-ledger/inventory"
)

// Store implements inventory.TxStore using SQLite.
type Store struct {
	*queries
	db *sqlx.DB
}

var _ inventory.TxStore = (*Store)(nil)

// New opens (or creates) the database at dbPath and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_loc=UTC")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := Open(db)
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Open wraps an existing connection without migrating it.
func Open(db *sqlx.DB) *Store {
	return &Store{queries: &queries{ext: db}, db: db}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(inventory.Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&queries{ext: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const schema = `
	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		unit_weight TEXT NOT NULL DEFAULT '0'
	);

	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		warehouse_id TEXT NOT NULL,
		company_id TEXT NOT NULL DEFAULT '',
		trade_date DATETIME NOT NULL,
		created_at DATETIME NOT NULL
	);

	-- Period closes sum lines by trade kind and date
	CREATE INDEX IF NOT EXISTS idx_trades_kind_date
		ON trades(kind, trade_date);

	CREATE TABLE IF NOT EXISTS trade_lines (
		id TEXT PRIMARY KEY,
		trade_id TEXT NOT NULL REFERENCES trades(id),
		product_id TEXT NOT NULL,
		quantity TEXT NOT NULL,
		unit_price TEXT NOT NULL,
		total_weight TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_trade_lines_trade
		ON trade_lines(trade_id);

	CREATE TABLE IF NOT EXISTS lots (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL,
		warehouse_id TEXT NOT NULL,
		trade_line_id TEXT NOT NULL,
		purchase_date DATETIME NOT NULL,
		unit_price TEXT NOT NULL,
		original_quantity TEXT NOT NULL,
		remaining_quantity TEXT NOT NULL,
		original_weight TEXT NOT NULL,
		remaining_weight TEXT NOT NULL,
		manual_rank INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_lots_product_warehouse
		ON lots(product_id, warehouse_id);
	CREATE INDEX IF NOT EXISTS idx_lots_trade_line
		ON lots(trade_line_id);

	-- Ledger (append-only)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		occurred_at DATETIME NOT NULL,
		kind TEXT NOT NULL,
		origin TEXT NOT NULL,
		product_id TEXT NOT NULL,
		quantity_delta TEXT NOT NULL,
		weight_delta TEXT NOT NULL,
		unit_price TEXT NOT NULL,
		quantity_before TEXT NOT NULL,
		quantity_after TEXT NOT NULL,
		trade_line_id TEXT,
		annotation TEXT NOT NULL DEFAULT ''
	);

	-- Valuation replay walks everything after a point in time (hot path)
	CREATE INDEX IF NOT EXISTS idx_ledger_entries_occurred_at
		ON ledger_entries(occurred_at);
	CREATE INDEX IF NOT EXISTS idx_ledger_entries_product
		ON ledger_entries(product_id, occurred_at);

	CREATE TRIGGER IF NOT EXISTS ledger_entries_no_update
		BEFORE UPDATE ON ledger_entries
		BEGIN SELECT RAISE(ABORT, 'ledger_entries is append-only'); END;
	CREATE TRIGGER IF NOT EXISTS ledger_entries_no_delete
		BEFORE DELETE ON ledger_entries
		BEGIN SELECT RAISE(ABORT, 'ledger_entries is append-only'); END;

	CREATE TABLE IF NOT EXISTS matches (
		id TEXT PRIMARY KEY,
		sale_line_id TEXT NOT NULL REFERENCES trade_lines(id),
		lot_id TEXT NOT NULL REFERENCES lots(id),
		quantity TEXT NOT NULL,
		weight TEXT NOT NULL,
		lot_unit_price TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_matches_sale_line
		ON matches(sale_line_id);
	CREATE INDEX IF NOT EXISTS idx_matches_lot
		ON matches(lot_id);

	CREATE TABLE IF NOT EXISTS aggregate_cache (
		product_id TEXT PRIMARY KEY,
		quantity TEXT NOT NULL,
		weight TEXT NOT NULL,
		value TEXT NOT NULL,
		last_price TEXT NOT NULL,
		manual_price TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS audit_sessions (
		id TEXT PRIMARY KEY,
		warehouse_id TEXT NOT NULL,
		audit_date DATETIME NOT NULL,
		status TEXT NOT NULL,
		round INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS audit_items (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES audit_sessions(id),
		lot_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		system_quantity TEXT NOT NULL,
		actual_quantity TEXT,
		checked BOOLEAN NOT NULL DEFAULT FALSE,
		notes TEXT NOT NULL DEFAULT '',
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_items_session
		ON audit_items(session_id);

	-- Adjustments (append-only)
	CREATE TABLE IF NOT EXISTS adjustment_entries (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES audit_sessions(id),
		round INTEGER NOT NULL,
		kind TEXT NOT NULL,
		lot_id TEXT NOT NULL,
		quantity_delta TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_adjustment_entries_session
		ON adjustment_entries(session_id);

	CREATE TRIGGER IF NOT EXISTS adjustment_entries_no_update
		BEFORE UPDATE ON adjustment_entries
		BEGIN SELECT RAISE(ABORT, 'adjustment_entries is append-only'); END;
	CREATE TRIGGER IF NOT EXISTS adjustment_entries_no_delete
		BEFORE DELETE ON adjustment_entries
		BEGIN SELECT RAISE(ABORT, 'adjustment_entries is append-only'); END;

	CREATE TABLE IF NOT EXISTS closing_snapshots (
		closing_date DATE PRIMARY KEY,
		period_start DATETIME NOT NULL,
		prior_valuation TEXT NOT NULL,
		current_valuation TEXT NOT NULL,
		purchase_cost TEXT NOT NULL,
		cost_of_goods TEXT NOT NULL,
		sales_revenue TEXT NOT NULL,
		gross_profit TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS closing_snapshot_details (
		closing_date DATE NOT NULL REFERENCES closing_snapshots(closing_date) ON DELETE CASCADE,
		lot_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		remaining_quantity TEXT NOT NULL,
		unit_price TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (closing_date, lot_id)
	);
`

// =============================================================================
// QUERIES - Shared by the pool and by transactions
// =============================================================================

type queries struct {
	ext sqlx.ExtContext
}

// utc normalises timestamps before they are bound.
func utc(ts ...*time.Time) {
	for _, t := range ts {
		*t = t.UTC()
	}
}

func notFound(err, sentinel error, id any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %v", sentinel, id)
	}
	return err
}

// execOne runs a statement that must touch exactly one row.
func (q *queries) execOne(ctx context.Context, sentinel error, id any, query string, args ...any) error {
	res, err := q.ext.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return oneRow(res, sentinel, id)
}

func (q *queries) namedOne(ctx context.Context, sentinel error, id any, query string, arg any) error {
	res, err := sqlx.NamedExecContext(ctx, q.ext, query, arg)
	if err != nil {
		return err
	}
	return oneRow(res, sentinel, id)
}

func oneRow(res sql.Result, sentinel error, id any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %v", sentinel, id)
	}
	return nil
}

// =============================================================================
// PRODUCTS & TRADES
// =============================================================================

func (q *queries) Product(ctx context.Context, id inventory.ProductID) (inventory.Product, error) {
	var p inventory.Product
	err := sqlx.GetContext(ctx, q.ext, &p, `SELECT * FROM products WHERE id = ?`, id)
	return p, notFound(err, inventory.ErrProductNotFound, id)
}

func (q *queries) SaveProduct(ctx context.Context, p inventory.Product) error {
	_, err := sqlx.NamedExecContext(ctx, q.ext, `
		INSERT INTO products (id, name, unit_weight)
		VALUES (:id, :name, :unit_weight)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, unit_weight = excluded.unit_weight
	`, p)
	if err != nil {
		return fmt.Errorf("failed to save product: %w", err)
	}
	return nil
}

func (q *queries) CreateTrade(ctx context.Context, t inventory.Trade) error {
	utc(&t.TradeDate, &t.CreatedAt)
	_, err := sqlx.NamedExecContext(ctx, q.ext, `
		INSERT INTO trades (id, kind, warehouse_id, company_id, trade_date, created_at)
		VALUES (:id, :kind, :warehouse_id, :company_id, :trade_date, :created_at)
	`, t)
	if err != nil {
		return fmt.Errorf("failed to create trade: %w", err)
	}
	return nil
}

func (q *queries) GetTrade(ctx context.Context, id inventory.TradeID) (inventory.Trade, error) {
	var t inventory.Trade
	err := sqlx.GetContext(ctx, q.ext, &t, `SELECT * FROM trades WHERE id = ?`, id)
	return t, notFound(err, inventory.ErrTradeNotFound, id)
}

func (q *queries) CreateLine(ctx context.Context, l inventory.TradeLine) error {
	utc(&l.CreatedAt, &l.UpdatedAt)
	_, err := sqlx.NamedExecContext(ctx, q.ext, `
		INSERT INTO trade_lines (id, trade_id, product_id, quantity, unit_price, total_weight, created_at, updated_at)
		VALUES (:id, :trade_id, :product_id, :quantity, :unit_price, :total_weight, :created_at, :updated_at)
	`, l)
	if err != nil {
		return fmt.Errorf("failed to create trade line: %w", err)
	}
	return nil
}

func (q *queries) GetLine(ctx context.Context, id inventory.TradeLineID) (inventory.TradeLine, error) {
	var l inventory.TradeLine
	err := sqlx.GetContext(ctx, q.ext, &l, `SELECT * FROM trade_lines WHERE id = ?`, id)
	return l, notFound(err, inventory.ErrTradeLineNotFound, id)
}

func (q *queries) UpdateLine(ctx context.Context, l inventory.TradeLine) error {
	utc(&l.CreatedAt, &l.UpdatedAt)
	return q.namedOne(ctx, inventory.ErrTradeLineNotFound, l.ID, `
		UPDATE trade_lines
		SET quantity = :quantity, unit_price = :unit_price, total_weight = :total_weight, updated_at = :updated_at
		WHERE id = :id
	`, l)
}

func (q *queries) DeleteLine(ctx context.Context, id inventory.TradeLineID) error {
	return q.execOne(ctx, inventory.ErrTradeLineNotFound, id, `DELETE FROM trade_lines WHERE id = ?`, id)
}

func (q *queries) ListLines(ctx context.Context, kind inventory.TradeKind, from, to time.Time) ([]inventory.TradeLine, error) {
	var lines []inventory.TradeLine
	err := sqlx.SelectContext(ctx, q.ext, &lines, `
		SELECT l.* FROM trade_lines l
		JOIN trades t ON t.id = l.trade_id
		WHERE t.kind = ? AND t.trade_date >= ? AND t.trade_date <= ?
		ORDER BY t.trade_date ASC, l.created_at ASC
	`, kind, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list trade lines: %w", err)
	}
	return lines, nil
}

// =============================================================================
// LOTS
// =============================================================================

func (q *queries) CreateLot(ctx context.Context, l inventory.Lot) error {
	utc(&l.PurchaseDate, &l.CreatedAt, &l.UpdatedAt)
	_, err := sqlx.NamedExecContext(ctx, q.ext, `
		INSERT INTO lots (id, product_id, warehouse_id, trade_line_id, purchase_date, unit_price,
		                  original_quantity, remaining_quantity, original_weight, remaining_weight,
		                  manual_rank, created_at, updated_at)
		VALUES (:id, :product_id, :warehouse_id, :trade_line_id, :purchase_date, :unit_price,
		        :original_quantity, :remaining_quantity, :original_weight, :remaining_weight,
		        :manual_rank, :created_at, :updated_at)
	`, l)
	if err != nil {
		return fmt.Errorf("failed to create lot: %w", err)
	}
	return nil
}

func (q *queries) GetLot(ctx context.Context, id inventory.LotID) (inventory.Lot, error) {
	var l inventory.Lot
	err := sqlx.GetContext(ctx, q.ext, &l, `SELECT * FROM lots WHERE id = ?`, id)
	return l, notFound(err, inventory.ErrLotNotFound, id)
}

func (q *queries) UpdateLot(ctx context.Context, l inventory.Lot) error {
	utc(&l.PurchaseDate, &l.CreatedAt, &l.UpdatedAt)
	return q.namedOne(ctx, inventory.ErrLotNotFound, l.ID, `
		UPDATE lots
		SET unit_price = :unit_price,
		    original_quantity = :original_quantity, remaining_quantity = :remaining_quantity,
		    original_weight = :original_weight, remaining_weight = :remaining_weight,
		    manual_rank = :manual_rank, updated_at = :updated_at
		WHERE id = :id
	`, l)
}

func (q *queries) DeleteLot(ctx context.Context, id inventory.LotID) error {
	return q.execOne(ctx, inventory.ErrLotNotFound, id, `DELETE FROM lots WHERE id = ?`, id)
}

func (q *queries) ListLots(ctx context.Context, f inventory.LotFilter) ([]inventory.Lot, error) {
	var (
		conditions []string
		args       []any
	)
	if f.ProductID != "" {
		conditions = append(conditions, "product_id = ?")
		args = append(args, f.ProductID)
	}
	if f.WarehouseID != "" {
		conditions = append(conditions, "warehouse_id = ?")
		args = append(args, f.WarehouseID)
	}

	query := "SELECT * FROM lots"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY purchase_date ASC, created_at ASC, id ASC"

	var lots []inventory.Lot
	if err := sqlx.SelectContext(ctx, q.ext, &lots, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list lots: %w", err)
	}
	if !f.AvailableOnly {
		return lots, nil
	}
	// remaining_quantity is TEXT; availability is decided on the decoded decimal
	available := lots[:0]
	for _, l := range lots {
		if l.IsAvailable() {
			available = append(available, l)
		}
	}
	return available, nil
}

func (q *queries) LotForLine(ctx context.Context, lineID inventory.TradeLineID) (inventory.Lot, error) {
	var l inventory.Lot
	err := sqlx.GetContext(ctx, q.ext, &l, `SELECT * FROM lots WHERE trade_line_id = ?`, lineID)
	if errors.Is(err, sql.ErrNoRows) {
		return l, fmt.Errorf("%w: for line %s", inventory.ErrLotNotFound, lineID)
	}
	return l, err
}

// =============================================================================
// LEDGER
// =============================================================================

func (q *queries) Append(ctx context.Context, e inventory.LedgerEntry) error {
	utc(&e.OccurredAt)
	_, err := sqlx.NamedExecContext(ctx, q.ext, `
		INSERT INTO ledger_entries (id, occurred_at, kind, origin, product_id, quantity_delta, weight_delta,
		                            unit_price, quantity_before, quantity_after, trade_line_id, annotation)
		VALUES (:id, :occurred_at, :kind, :origin, :product_id, :quantity_delta, :weight_delta,
		        :unit_price, :quantity_before, :quantity_after, :trade_line_id, :annotation)
	`, e)
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

func (q *queries) EntriesAfter(ctx context.Context, t time.Time) ([]inventory.LedgerEntry, error) {
	var entries []inventory.LedgerEntry
	err := sqlx.SelectContext(ctx, q.ext, &entries, `
		SELECT * FROM ledger_entries WHERE occurred_at > ? ORDER BY occurred_at ASC, rowid ASC
	`, t.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	return entries, nil
}

func (q *queries) Entries(ctx context.Context, productID inventory.ProductID) ([]inventory.LedgerEntry, error) {
	var entries []inventory.LedgerEntry
	err := sqlx.SelectContext(ctx, q.ext, &entries, `
		SELECT * FROM ledger_entries WHERE product_id = ? ORDER BY occurred_at ASC, rowid ASC
	`, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	return entries, nil
}

// =============================================================================
// MATCHES
// =============================================================================

func (q *queries) CreateMatch(ctx context.Context, m inventory.Match) error {
	utc(&m.CreatedAt)
	_, err := sqlx.NamedExecContext(ctx, q.ext, `
		INSERT INTO matches (id, sale_line_id, lot_id, quantity, weight, lot_unit_price, created_at)
		VALUES (:id, :sale_line_id, :lot_id, :quantity, :weight, :lot_unit_price, :created_at)
	`, m)
	if err != nil {
		return fmt.Errorf("failed to create match: %w", err)
	}
	return nil
}

func (q *queries) GetMatch(ctx context.Context, id inventory.MatchID) (inventory.Match, error) {
	var m inventory.Match
	err := sqlx.GetContext(ctx, q.ext, &m, `SELECT * FROM matches WHERE id = ?`, id)
	return m, notFound(err, inventory.ErrMatchNotFound, id)
}

func (q *queries) DeleteMatch(ctx context.Context, id inventory.MatchID) error {
	return q.execOne(ctx, inventory.ErrMatchNotFound, id, `DELETE FROM matches WHERE id = ?`, id)
}

func (q *queries) MatchesByLot(ctx context.Context, lotID inventory.LotID) ([]inventory.Match, error) {
	return q.selectMatches(ctx, `SELECT * FROM matches WHERE lot_id = ? ORDER BY created_at ASC, id ASC`, lotID)
}

func (q *queries) MatchesByLine(ctx context.Context, lineID inventory.TradeLineID) ([]inventory.Match, error) {
	return q.selectMatches(ctx, `SELECT * FROM matches WHERE sale_line_id = ? ORDER BY created_at ASC, id ASC`, lineID)
}

func (q *queries) selectMatches(ctx context.Context, query string, args ...any) ([]inventory.Match, error) {
	var ms []inventory.Match
	if err := sqlx.SelectContext(ctx, q.ext, &ms, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query matches: %w", err)
	}
	return ms, nil
}

// =============================================================================
// AGGREGATE CACHE
// =============================================================================

func (q *queries) GetAggregate(ctx context.Context, productID inventory.ProductID) (inventory.AggregateRow, error) {
	var r inventory.AggregateRow
	err := sqlx.GetContext(ctx, q.ext, &r, `SELECT * FROM aggregate_cache WHERE product_id = ?`, productID)
	if errors.Is(err, sql.ErrNoRows) {
		return inventory.ZeroAggregate(productID), nil
	}
	return r, err
}

func (q *queries) SaveAggregate(ctx context.Context, r inventory.AggregateRow) error {
	utc(&r.UpdatedAt)
	_, err := sqlx.NamedExecContext(ctx, q.ext, `
		INSERT INTO aggregate_cache (product_id, quantity, weight, value, last_price, manual_price, updated_at)
		VALUES (:product_id, :quantity, :weight, :value, :last_price, :manual_price, :updated_at)
		ON CONFLICT(product_id) DO UPDATE SET
			quantity = excluded.quantity,
			weight = excluded.weight,
			value = excluded.value,
			last_price = excluded.last_price,
			manual_price = excluded.manual_price,
			updated_at = excluded.updated_at
	`, r)
	if err != nil {
		return fmt.Errorf("failed to save aggregate: %w", err)
	}
	return nil
}

func (q *queries) ListAggregates(ctx context.Context) ([]inventory.AggregateRow, error) {
	var rows []inventory.AggregateRow
	if err := sqlx.SelectContext(ctx, q.ext, &rows, `SELECT * FROM aggregate_cache ORDER BY product_id`); err != nil {
		return nil, fmt.Errorf("failed to list aggregates: %w", err)
	}
	return rows, nil
}

func (q *queries) ClearAggregates(ctx context.Context) error {
	_, err := q.ext.ExecContext(ctx, `DELETE FROM aggregate_cache`)
	return err
}

// =============================================================================
// AUDIT
// =============================================================================

func (q *queries) AppendAdjustment(ctx context.Context, a inventory.Adjustment) error {
	utc(&a.CreatedAt)
	_, err := sqlx.NamedExecContext(ctx, q.ext, `
		INSERT INTO adjustment_entries (id, session_id, round, kind, lot_id, quantity_delta, reason, created_at)
		VALUES (:id, :session_id, :round, :kind, :lot_id, :quantity_delta, :reason, :created_at)
	`, a)
	if err != nil {
		return fmt.Errorf("failed to append adjustment: %w", err)
	}
	return nil
}

func (q *queries) AdjustmentsBySession(ctx context.Context, id inventory.SessionID) ([]inventory.Adjustment, error) {
	var adjs []inventory.Adjustment
	err := sqlx.SelectContext(ctx, q.ext, &adjs, `
		SELECT * FROM adjustment_entries WHERE session_id = ? ORDER BY created_at ASC, rowid ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query adjustments: %w", err)
	}
	return adjs, nil
}

func (q *queries) CreateSession(ctx context.Context, s inventory.AuditSession) error {
	utc(&s.AuditDate, &s.CreatedAt, &s.UpdatedAt)
	_, err := sqlx.NamedExecContext(ctx, q.ext, `
		INSERT INTO audit_sessions (id, warehouse_id, audit_date, status, round, created_at, updated_at)
		VALUES (:id, :warehouse_id, :audit_date, :status, :round, :created_at, :updated_at)
	`, s)
	if err != nil {
		return fmt.Errorf("failed to create audit session: %w", err)
	}
	for _, it := range s.Items {
		it.SessionID = s.ID
		utc(&it.UpdatedAt)
		_, err := sqlx.NamedExecContext(ctx, q.ext, `
			INSERT INTO audit_items (id, session_id, lot_id, product_id, system_quantity, actual_quantity, checked, notes, updated_at)
			VALUES (:id, :session_id, :lot_id, :product_id, :system_quantity, :actual_quantity, :checked, :notes, :updated_at)
		`, it)
		if err != nil {
			return fmt.Errorf("failed to create audit item: %w", err)
		}
	}
	return nil
}

func (q *queries) GetSession(ctx context.Context, id inventory.SessionID) (inventory.AuditSession, error) {
	var s inventory.AuditSession
	if err := sqlx.GetContext(ctx, q.ext, &s, `SELECT * FROM audit_sessions WHERE id = ?`, id); err != nil {
		return s, notFound(err, inventory.ErrAuditNotFound, id)
	}
	err := sqlx.SelectContext(ctx, q.ext, &s.Items, `SELECT * FROM audit_items WHERE session_id = ? ORDER BY rowid ASC`, id)
	if err != nil {
		return s, fmt.Errorf("failed to load audit items: %w", err)
	}
	return s, nil
}

func (q *queries) UpdateSession(ctx context.Context, s inventory.AuditSession) error {
	utc(&s.UpdatedAt)
	return q.execOne(ctx, inventory.ErrAuditNotFound, s.ID,
		`UPDATE audit_sessions SET status = ?, round = ?, updated_at = ? WHERE id = ?`,
		s.Status, s.Round, s.UpdatedAt, s.ID)
}

func (q *queries) GetItem(ctx context.Context, id inventory.AuditItemID) (inventory.AuditItem, error) {
	var it inventory.AuditItem
	err := sqlx.GetContext(ctx, q.ext, &it, `SELECT * FROM audit_items WHERE id = ?`, id)
	return it, notFound(err, inventory.ErrAuditItemNotFound, id)
}

func (q *queries) UpdateItem(ctx context.Context, it inventory.AuditItem) error {
	utc(&it.UpdatedAt)
	return q.namedOne(ctx, inventory.ErrAuditItemNotFound, it.ID, `
		UPDATE audit_items
		SET system_quantity = :system_quantity, actual_quantity = :actual_quantity,
		    checked = :checked, notes = :notes, updated_at = :updated_at
		WHERE id = :id
	`, it)
}

// =============================================================================
// CLOSINGS
// =============================================================================

func (q *queries) SaveClosing(ctx context.Context, c inventory.ClosingSnapshot) error {
	key := inventory.DayKey(c.Date)
	_, err := q.ext.ExecContext(ctx, `
		INSERT INTO closing_snapshots (closing_date, period_start, prior_valuation, current_valuation,
		                               purchase_cost, cost_of_goods, sales_revenue, gross_profit, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(closing_date) DO UPDATE SET
			period_start = excluded.period_start,
			prior_valuation = excluded.prior_valuation,
			current_valuation = excluded.current_valuation,
			purchase_cost = excluded.purchase_cost,
			cost_of_goods = excluded.cost_of_goods,
			sales_revenue = excluded.sales_revenue,
			gross_profit = excluded.gross_profit,
			created_at = excluded.created_at
	`, key, c.PeriodStart.UTC(), c.PriorValuation, c.CurrentValuation,
		c.PurchaseCost, c.CostOfGoods, c.SalesRevenue, c.GrossProfit, c.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save closing: %w", err)
	}

	if _, err := q.ext.ExecContext(ctx, `DELETE FROM closing_snapshot_details WHERE closing_date = ?`, key); err != nil {
		return fmt.Errorf("failed to replace closing details: %w", err)
	}
	for _, d := range c.Details {
		_, err := q.ext.ExecContext(ctx, `
			INSERT INTO closing_snapshot_details (closing_date, lot_id, product_id, remaining_quantity, unit_price, value)
			VALUES (?, ?, ?, ?, ?, ?)
		`, key, d.LotID, d.ProductID, d.RemainingQuantity, d.UnitPrice, d.Value)
		if err != nil {
			return fmt.Errorf("failed to save closing detail: %w", err)
		}
	}
	return nil
}

func (q *queries) GetClosing(ctx context.Context, date time.Time) (inventory.ClosingSnapshot, error) {
	return q.loadClosing(ctx, inventory.DayKey(date))
}

func (q *queries) LatestClosing(ctx context.Context) (inventory.ClosingSnapshot, error) {
	var key sql.NullString
	err := sqlx.GetContext(ctx, q.ext, &key, `SELECT MAX(closing_date) FROM closing_snapshots`)
	if err != nil {
		return inventory.ClosingSnapshot{}, fmt.Errorf("failed to find latest closing: %w", err)
	}
	if !key.Valid {
		return inventory.ClosingSnapshot{}, inventory.ErrClosingNotFound
	}
	return q.loadClosing(ctx, key.String)
}

func (q *queries) loadClosing(ctx context.Context, key string) (inventory.ClosingSnapshot, error) {
	var c inventory.ClosingSnapshot
	if err := sqlx.GetContext(ctx, q.ext, &c, `SELECT * FROM closing_snapshots WHERE closing_date = ?`, key); err != nil {
		return c, notFound(err, inventory.ErrClosingNotFound, key)
	}
	err := sqlx.SelectContext(ctx, q.ext, &c.Details, `
		SELECT * FROM closing_snapshot_details WHERE closing_date = ? ORDER BY rowid ASC
	`, key)
	if err != nil {
		return c, fmt.Errorf("failed to load closing details: %w", err)
	}
	return c, nil
}

func (q *queries) DeleteClosing(ctx context.Context, date time.Time) error {
	key := inventory.DayKey(date)
	if _, err := q.ext.ExecContext(ctx, `DELETE FROM closing_snapshot_details WHERE closing_date = ?`, key); err != nil {
		return fmt.Errorf("failed to delete closing details: %w", err)
	}
	return q.execOne(ctx, inventory.ErrClosingNotFound, key, `DELETE FROM closing_snapshots WHERE closing_date = ?`, key)
}
