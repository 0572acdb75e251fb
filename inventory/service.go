/*
service.go - Operations exposed to the API layer

PURPOSE:
  Service is the single entry point for callers. Every mutation builds its
  components over the transactional view of the store, runs inside
  TxStore.WithTx, and only logs and counts once the transaction committed.

ATOMIC UNITS:
  - one trade recording (all lines, entries and lots)
  - one reversal pair (reverse-old + apply-new) or one reverse-delete
  - one match batch, one match cancellation with its sale reversal
  - one audit finalize or revert
  - one period closing

READS:
  ValueAt, GetAudit, ListLots, Aggregates and the ledger listings run outside any
  transaction and see whatever has committed at read time.
*/
package inventory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/produce-ledger/metrics"
)

// Config holds the engine's policy knobs.
type Config struct {
	PricePolicy     PricePolicy
	OverMatchPolicy OverMatchPolicy
	Location        *time.Location
}

func DefaultConfig() Config {
	return Config{
		PricePolicy:     PriceWeightedAverage,
		OverMatchPolicy: OverMatchReject,
		Location:        time.UTC,
	}
}

type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

type Service struct {
	store   TxStore
	cfg     Config
	now     func() time.Time
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewService(store TxStore, cfg Config, opts ...Option) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if !cfg.PricePolicy.Valid() {
		cfg.PricePolicy = PriceWeightedAverage
	}
	if !cfg.OverMatchPolicy.Valid() {
		cfg.OverMatchPolicy = OverMatchReject
	}
	s := &Service{
		store: store,
		cfg:   cfg,
		now:   time.Now,
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// =============================================================================
// COMPONENT WIRING
// =============================================================================

// components is one set of engine parts bound to a store view.
type components struct {
	lots     *LotBook
	cache    *AggregateCache
	ledger   *Ledger
	matches  *MatchEngine
	reversal *ReversalCoordinator
	audit    *AuditReconciler
	valuer   *ValuationReconstructor
	closings *ClosingBook
}

func (s *Service) bind(st Store) *components {
	c := &components{}
	c.lots = NewLotBook(st, s.now)
	c.cache = NewAggregateCache(st, s.cfg.PricePolicy, s.now)
	c.ledger = NewLedger(st, c.cache, s.now)
	c.matches = NewMatchEngine(st, c.lots, s.now)
	c.reversal = &ReversalCoordinator{
		Store:     st,
		Lots:      c.lots,
		Ledger:    c.ledger,
		Matches:   c.matches,
		OverMatch: s.cfg.OverMatchPolicy,
		Now:       s.now,
	}
	c.audit = &AuditReconciler{Store: st, Lots: c.lots, Ledger: c.ledger, Now: s.now}
	c.valuer = &ValuationReconstructor{Store: st, Cache: c.cache, Location: s.cfg.Location, Now: s.now}
	c.closings = &ClosingBook{Store: st, Valuer: c.valuer, Location: s.cfg.Location, Now: s.now}
	return c
}

// inTx runs fn in a transaction and reports posted ledger entries after
// commit.
func (s *Service) inTx(ctx context.Context, op string, fn func(c *components) error) error {
	var posted []LedgerEntry
	err := s.store.WithTx(ctx, func(st Store) error {
		c := s.bind(st)
		if err := fn(c); err != nil {
			return err
		}
		posted = c.ledger.Posted
		return nil
	})
	if err != nil {
		s.log.Debug("operation rolled back", zap.String("op", op), zap.Error(err))
		return err
	}
	for _, e := range posted {
		s.metrics.LedgerEntry(string(e.Kind), e.Annotation)
	}
	return nil
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

func (s *Service) SaveProduct(ctx context.Context, p Product) error {
	if p.ID == "" {
		return invalid("product needs an id")
	}
	if p.UnitWeight.IsNegative() {
		return invalid("unit weight must not be negative")
	}
	return s.store.SaveProduct(ctx, p)
}

func (s *Service) Product(ctx context.Context, id ProductID) (Product, error) {
	return s.store.Product(ctx, id)
}

func (s *Service) TradeLine(ctx context.Context, id TradeLineID) (TradeLine, error) {
	return s.store.GetLine(ctx, id)
}

// =============================================================================
// TRADES
// =============================================================================

func (s *Service) RecordPurchase(ctx context.Context, in TradeInput) (RecordedTrade, error) {
	return s.record(ctx, TradePurchase, in)
}

// RecordSale records a sale. With AutoMatch set every line is matched against
// the warehouse's lots in default order, as far as stock allows.
func (s *Service) RecordSale(ctx context.Context, in TradeInput) (RecordedTrade, error) {
	return s.record(ctx, TradeSale, in)
}

func (s *Service) RecordProduction(ctx context.Context, in TradeInput) (RecordedTrade, error) {
	return s.record(ctx, TradeProduction, in)
}

func (s *Service) record(ctx context.Context, kind TradeKind, in TradeInput) (RecordedTrade, error) {
	var out RecordedTrade
	err := s.inTx(ctx, "record_"+string(kind), func(c *components) error {
		var err error
		if out, err = c.reversal.Record(ctx, kind, in); err != nil {
			return err
		}
		if kind != TradeSale || !in.AutoMatch {
			return nil
		}
		for _, line := range out.Lines {
			plan, err := c.matches.Plan(ctx, line.ID)
			if err != nil {
				return err
			}
			if len(plan) == 0 {
				continue
			}
			ms, err := c.matches.Match(ctx, line.ID, plan)
			if err != nil {
				return err
			}
			out.Matches = append(out.Matches, ms...)
		}
		return nil
	})
	if err != nil {
		return RecordedTrade{}, err
	}
	s.log.Info("trade recorded",
		zap.String("trade_id", string(out.Trade.ID)),
		zap.String("kind", string(kind)),
		zap.String("warehouse_id", string(out.Trade.WarehouseID)),
		zap.Int("lines", len(out.Lines)),
		zap.Int("lots", len(out.Lots)),
		zap.Int("matches", len(out.Matches)),
	)
	return out, nil
}

func (s *Service) UpdateTradeLine(ctx context.Context, id TradeLineID, upd LineUpdate) (UpdateResult, error) {
	var out UpdateResult
	var kind TradeKind
	err := s.inTx(ctx, "update_line", func(c *components) error {
		_, trade, err := c.reversal.lineWithTrade(ctx, id)
		if err != nil {
			return err
		}
		kind = trade.Kind
		out, err = c.reversal.Update(ctx, id, upd)
		return err
	})
	if err != nil {
		return UpdateResult{}, err
	}
	s.metrics.Reversal(string(kind), "update")
	if out.OverMatched.IsPositive() {
		s.metrics.OverMatchFlagged()
		s.log.Warn("sale line left over-matched",
			zap.String("line_id", string(id)),
			zap.Stringer("quantity", out.Line.Quantity),
			zap.Stringer("over_matched", out.OverMatched),
		)
	}
	s.log.Info("trade line updated",
		zap.String("line_id", string(id)),
		zap.String("kind", string(kind)),
		zap.Stringer("quantity", out.Line.Quantity),
		zap.Stringer("unit_price", out.Line.UnitPrice),
	)
	return out, nil
}

func (s *Service) DeleteTradeLine(ctx context.Context, id TradeLineID) (DeleteResult, error) {
	var out DeleteResult
	var kind TradeKind
	err := s.inTx(ctx, "delete_line", func(c *components) error {
		_, trade, err := c.reversal.lineWithTrade(ctx, id)
		if err != nil {
			return err
		}
		kind = trade.Kind
		out, err = c.reversal.Delete(ctx, id)
		return err
	})
	if err != nil {
		return DeleteResult{}, err
	}
	s.metrics.Reversal(string(kind), "delete")
	s.log.Info("trade line deleted",
		zap.String("line_id", string(id)),
		zap.String("kind", string(kind)),
		zap.Int("released_matches", len(out.Released)),
	)
	return out, nil
}

// =============================================================================
// MATCHING
// =============================================================================

func (s *Service) MatchSale(ctx context.Context, saleLineID TradeLineID, reqs []MatchRequest) ([]Match, error) {
	var out []Match
	err := s.inTx(ctx, "match", func(c *components) error {
		var err error
		out, err = c.matches.Match(ctx, saleLineID, reqs)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logMatches(saleLineID, out)
	return out, nil
}

// AutoMatchSale matches the line's unmatched remainder in default lot order.
func (s *Service) AutoMatchSale(ctx context.Context, saleLineID TradeLineID) ([]Match, error) {
	var out []Match
	err := s.inTx(ctx, "auto_match", func(c *components) error {
		plan, err := c.matches.Plan(ctx, saleLineID)
		if err != nil || len(plan) == 0 {
			return err
		}
		out, err = c.matches.Match(ctx, saleLineID, plan)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logMatches(saleLineID, out)
	return out, nil
}

func (s *Service) logMatches(lineID TradeLineID, ms []Match) {
	for _, m := range ms {
		s.metrics.Match("create")
		s.log.Info("sale matched",
			zap.String("line_id", string(lineID)),
			zap.String("lot_id", string(m.LotID)),
			zap.Stringer("quantity", m.Quantity),
			zap.Stringer("lot_unit_price", m.LotUnitPrice),
		)
	}
}

// CancelResult reports a cancelled match and what happened to its sale line.
type CancelResult struct {
	Match       Match         `json:"match"`
	LineUpdated *UpdateResult `json:"line_updated,omitempty"`
	LineDeleted *DeleteResult `json:"line_deleted,omitempty"`
}

// CancelMatch deletes a match, restores its lot, and reverses the matched
// quantity on the owning sale line, all in one transaction. Production input
// draws are changed through their line instead.
func (s *Service) CancelMatch(ctx context.Context, id MatchID) (CancelResult, error) {
	var out CancelResult
	err := s.inTx(ctx, "cancel_match", func(c *components) error {
		m, err := c.matches.Store.GetMatch(ctx, id)
		if err != nil {
			return err
		}
		if _, err := c.matches.saleLine(ctx, m.SaleLineID); err != nil {
			return err
		}
		if out.Match, err = c.matches.Cancel(ctx, id); err != nil {
			return err
		}
		out.LineUpdated, out.LineDeleted, err = c.reversal.ReverseMatched(ctx, out.Match)
		return err
	})
	if err != nil {
		return CancelResult{}, err
	}
	s.metrics.Match("cancel")
	s.log.Info("match cancelled",
		zap.String("match_id", string(id)),
		zap.String("lot_id", string(out.Match.LotID)),
		zap.Stringer("quantity", out.Match.Quantity),
		zap.Bool("line_deleted", out.LineDeleted != nil),
	)
	return out, nil
}

func (s *Service) SetManualOrder(ctx context.Context, ids []LotID) error {
	return s.inTx(ctx, "manual_order", func(c *components) error {
		return c.lots.SetManualOrder(ctx, ids)
	})
}

// =============================================================================
// AGGREGATE CACHE
// =============================================================================

// HardSync rebuilds the aggregate cache from the lots.
func (s *Service) HardSync(ctx context.Context) ([]AggregateRow, error) {
	started := time.Now()
	var rows []AggregateRow
	err := s.inTx(ctx, "hard_sync", func(c *components) error {
		lots, err := c.lots.Store.ListLots(ctx, LotFilter{AvailableOnly: true})
		if err != nil {
			return err
		}
		rows, err = c.cache.HardSync(ctx, lots)
		return err
	})
	if err != nil {
		return nil, err
	}
	took := time.Since(started)
	s.metrics.HardSync(took)
	s.log.Info("aggregate cache rebuilt", zap.Int("products", len(rows)), zap.Duration("took", took))
	return rows, nil
}

func (s *Service) SetManualPrice(ctx context.Context, productID ProductID, price decimal.Decimal) (AggregateRow, error) {
	var row AggregateRow
	err := s.inTx(ctx, "manual_price", func(c *components) error {
		var err error
		row, err = c.cache.SetManualPrice(ctx, productID, price)
		return err
	})
	if err != nil {
		return AggregateRow{}, err
	}
	s.log.Info("manual price set", zap.String("product_id", string(productID)), zap.Stringer("price", price))
	return row, nil
}

func (s *Service) Aggregates(ctx context.Context) ([]AggregateRow, error) {
	return s.store.ListAggregates(ctx)
}

func (s *Service) ListLots(ctx context.Context, f LotFilter) ([]Lot, error) {
	return s.store.ListLots(ctx, f)
}

// ProductLedger lists every entry of one product, oldest first.
func (s *Service) ProductLedger(ctx context.Context, id ProductID) ([]LedgerEntry, error) {
	if _, err := s.store.Product(ctx, id); err != nil {
		return nil, err
	}
	return s.store.Entries(ctx, id)
}

// LedgerSince lists entries strictly after t.
func (s *Service) LedgerSince(ctx context.Context, t time.Time) ([]LedgerEntry, error) {
	return s.store.EntriesAfter(ctx, t)
}

// =============================================================================
// AUDITS
// =============================================================================

func (s *Service) StartAudit(ctx context.Context, warehouseID WarehouseID, auditDate time.Time) (AuditSession, error) {
	var out AuditSession
	err := s.inTx(ctx, "audit_start", func(c *components) error {
		var err error
		out, err = c.audit.Start(ctx, warehouseID, auditDate)
		return err
	})
	if err != nil {
		return AuditSession{}, err
	}
	s.metrics.AuditTransition("start")
	s.log.Info("audit started",
		zap.String("session_id", string(out.ID)),
		zap.String("warehouse_id", string(warehouseID)),
		zap.Int("items", len(out.Items)),
	)
	return out, nil
}

func (s *Service) GetAudit(ctx context.Context, id SessionID) (AuditSession, error) {
	return s.bind(s.store).audit.Get(ctx, id)
}

func (s *Service) UpdateAuditItem(ctx context.Context, id AuditItemID, count ItemCount) (AuditItem, error) {
	var out AuditItem
	err := s.inTx(ctx, "audit_item", func(c *components) error {
		var err error
		out, err = c.audit.UpdateItem(ctx, id, count)
		return err
	})
	return out, err
}

func (s *Service) SyncAuditItem(ctx context.Context, id AuditItemID) (AuditItem, error) {
	var out AuditItem
	err := s.inTx(ctx, "audit_sync", func(c *components) error {
		var err error
		out, err = c.audit.SyncItem(ctx, id)
		return err
	})
	if err != nil {
		return AuditItem{}, err
	}
	s.log.Info("audit item re-frozen",
		zap.String("item_id", string(id)),
		zap.Stringer("system_quantity", out.SystemQuantity),
	)
	return out, nil
}

func (s *Service) FinalizeAudit(ctx context.Context, id SessionID) (AuditResult, error) {
	return s.auditTransition(ctx, id, "finalize", func(c *components) (AuditResult, error) {
		return c.audit.Finalize(ctx, id)
	})
}

func (s *Service) RevertAudit(ctx context.Context, id SessionID) (AuditResult, error) {
	return s.auditTransition(ctx, id, "revert", func(c *components) (AuditResult, error) {
		return c.audit.Revert(ctx, id)
	})
}

func (s *Service) auditTransition(ctx context.Context, id SessionID, op string, fn func(c *components) (AuditResult, error)) (AuditResult, error) {
	var out AuditResult
	err := s.inTx(ctx, "audit_"+op, func(c *components) error {
		var err error
		out, err = fn(c)
		return err
	})
	if err != nil {
		return AuditResult{}, err
	}
	s.metrics.AuditTransition(op)
	s.log.Info("audit "+op,
		zap.String("session_id", string(id)),
		zap.Int("round", out.Session.Round),
		zap.Int("adjustments", len(out.Adjustments)),
	)
	return out, nil
}

func (s *Service) CancelAudit(ctx context.Context, id SessionID) (AuditSession, error) {
	var out AuditSession
	err := s.inTx(ctx, "audit_cancel", func(c *components) error {
		var err error
		out, err = c.audit.Cancel(ctx, id)
		return err
	})
	if err != nil {
		return AuditSession{}, err
	}
	s.metrics.AuditTransition("cancel")
	s.log.Info("audit cancelled", zap.String("session_id", string(id)))
	return out, nil
}

// =============================================================================
// VALUATION & CLOSINGS
// =============================================================================

// ValueAt never fails on data-quality grounds: a replay that went negative is
// clamped, logged and counted.
func (s *Service) ValueAt(ctx context.Context, date time.Time) (Valuation, error) {
	v, err := s.bind(s.store).valuer.ValueAt(ctx, date)
	if err != nil {
		return Valuation{}, err
	}
	s.metrics.Valuation(string(v.Source))
	if v.Inconsistency != nil {
		s.metrics.ValuationClamped()
		s.log.Warn("valuation clamped",
			zap.String("date", DayKey(v.Date)),
			zap.Stringer("raw", v.Inconsistency.Raw),
			zap.Int("replayed", v.Replayed),
			zap.Error(v.Inconsistency),
		)
	}
	return v, nil
}

func (s *Service) ClosePeriod(ctx context.Context, start, end time.Time) (ClosingSnapshot, error) {
	var out ClosingSnapshot
	err := s.inTx(ctx, "close_period", func(c *components) error {
		var err error
		out, err = c.closings.ClosePeriod(ctx, start, end)
		return err
	})
	if err != nil {
		return ClosingSnapshot{}, err
	}
	s.log.Info("period closed",
		zap.String("start", DayKey(out.PeriodStart)),
		zap.String("end", DayKey(out.Date)),
		zap.Stringer("current_valuation", out.CurrentValuation),
		zap.Stringer("gross_profit", out.GrossProfit),
	)
	return out, nil
}

// CloseDay closes the single day date.
func (s *Service) CloseDay(ctx context.Context, date time.Time) (ClosingSnapshot, error) {
	return s.ClosePeriod(ctx, date, date)
}

func (s *Service) DeleteLastClosing(ctx context.Context) (ClosingSnapshot, error) {
	var out ClosingSnapshot
	err := s.inTx(ctx, "delete_closing", func(c *components) error {
		var err error
		out, err = c.closings.DeleteLast(ctx)
		return err
	})
	if err != nil {
		return ClosingSnapshot{}, err
	}
	s.log.Info("closing deleted", zap.String("date", DayKey(out.Date)))
	return out, nil
}

func (s *Service) Closing(ctx context.Context, date time.Time) (ClosingSnapshot, error) {
	return s.store.GetClosing(ctx, StartOfDay(date, s.cfg.Location))
}

// Location is the business-day time zone.
func (s *Service) Location() *time.Location {
	return s.cfg.Location
}
