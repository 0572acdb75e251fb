// Package store provides in-memory Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/produce-ledger/inventory"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory is a TxStore held in maps. WithTx takes the write lock for the whole
// callback, snapshots the state, and restores it if the callback fails.
type Memory struct {
	mu sync.RWMutex
	d  *data
}

func NewMemory() *Memory {
	return &Memory{d: newData()}
}

var _ inventory.TxStore = (*Memory)(nil)

// WithTx executes fn within a transaction.
// For the memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(_ context.Context, fn func(inventory.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.d.clone()
	if err := fn(m.d); err != nil {
		m.d = snapshot
		return err
	}
	return nil
}

// =============================================================================
// DATA - Unlocked state; implements inventory.Store
// =============================================================================

type data struct {
	products     map[inventory.ProductID]inventory.Product
	trades       map[inventory.TradeID]inventory.Trade
	lines        map[inventory.TradeLineID]inventory.TradeLine
	lots         map[inventory.LotID]inventory.Lot
	entries      []inventory.LedgerEntry
	matches      map[inventory.MatchID]inventory.Match
	aggregates   map[inventory.ProductID]inventory.AggregateRow
	adjustments  []inventory.Adjustment
	sessions     map[inventory.SessionID]inventory.AuditSession
	items        map[inventory.AuditItemID]inventory.AuditItem
	sessionItems map[inventory.SessionID][]inventory.AuditItemID
	closings     map[string]inventory.ClosingSnapshot
}

func newData() *data {
	return &data{
		products:     make(map[inventory.ProductID]inventory.Product),
		trades:       make(map[inventory.TradeID]inventory.Trade),
		lines:        make(map[inventory.TradeLineID]inventory.TradeLine),
		lots:         make(map[inventory.LotID]inventory.Lot),
		matches:      make(map[inventory.MatchID]inventory.Match),
		aggregates:   make(map[inventory.ProductID]inventory.AggregateRow),
		sessions:     make(map[inventory.SessionID]inventory.AuditSession),
		items:        make(map[inventory.AuditItemID]inventory.AuditItem),
		sessionItems: make(map[inventory.SessionID][]inventory.AuditItemID),
		closings:     make(map[string]inventory.ClosingSnapshot),
	}
}

func cloneMap[K comparable, V any](src map[K]V) map[K]V {
	dst := make(map[K]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func (d *data) clone() *data {
	c := &data{
		products:     cloneMap(d.products),
		trades:       cloneMap(d.trades),
		lines:        cloneMap(d.lines),
		lots:         cloneMap(d.lots),
		entries:      append([]inventory.LedgerEntry(nil), d.entries...),
		matches:      cloneMap(d.matches),
		aggregates:   cloneMap(d.aggregates),
		adjustments:  append([]inventory.Adjustment(nil), d.adjustments...),
		sessions:     cloneMap(d.sessions),
		items:        cloneMap(d.items),
		sessionItems: make(map[inventory.SessionID][]inventory.AuditItemID, len(d.sessionItems)),
		closings:     make(map[string]inventory.ClosingSnapshot, len(d.closings)),
	}
	for k, v := range d.sessionItems {
		c.sessionItems[k] = append([]inventory.AuditItemID(nil), v...)
	}
	for k, v := range d.closings {
		v.Details = append([]inventory.ClosingDetail(nil), v.Details...)
		c.closings[k] = v
	}
	return c
}

// --- products & trades ---

func (d *data) Product(_ context.Context, id inventory.ProductID) (inventory.Product, error) {
	p, ok := d.products[id]
	if !ok {
		return inventory.Product{}, fmt.Errorf("%w: %s", inventory.ErrProductNotFound, id)
	}
	return p, nil
}

func (d *data) SaveProduct(_ context.Context, p inventory.Product) error {
	d.products[p.ID] = p
	return nil
}

func (d *data) CreateTrade(_ context.Context, t inventory.Trade) error {
	d.trades[t.ID] = t
	return nil
}

func (d *data) GetTrade(_ context.Context, id inventory.TradeID) (inventory.Trade, error) {
	t, ok := d.trades[id]
	if !ok {
		return inventory.Trade{}, fmt.Errorf("%w: %s", inventory.ErrTradeNotFound, id)
	}
	return t, nil
}

func (d *data) CreateLine(_ context.Context, l inventory.TradeLine) error {
	d.lines[l.ID] = l
	return nil
}

func (d *data) GetLine(_ context.Context, id inventory.TradeLineID) (inventory.TradeLine, error) {
	l, ok := d.lines[id]
	if !ok {
		return inventory.TradeLine{}, fmt.Errorf("%w: %s", inventory.ErrTradeLineNotFound, id)
	}
	return l, nil
}

func (d *data) UpdateLine(_ context.Context, l inventory.TradeLine) error {
	if _, ok := d.lines[l.ID]; !ok {
		return fmt.Errorf("%w: %s", inventory.ErrTradeLineNotFound, l.ID)
	}
	d.lines[l.ID] = l
	return nil
}

func (d *data) DeleteLine(_ context.Context, id inventory.TradeLineID) error {
	if _, ok := d.lines[id]; !ok {
		return fmt.Errorf("%w: %s", inventory.ErrTradeLineNotFound, id)
	}
	delete(d.lines, id)
	return nil
}

func (d *data) ListLines(_ context.Context, kind inventory.TradeKind, from, to time.Time) ([]inventory.TradeLine, error) {
	var out []inventory.TradeLine
	for _, l := range d.lines {
		t, ok := d.trades[l.TradeID]
		if !ok || t.Kind != kind {
			continue
		}
		if t.TradeDate.Before(from) || t.TradeDate.After(to) {
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// --- lots ---

func (d *data) CreateLot(_ context.Context, l inventory.Lot) error {
	d.lots[l.ID] = l
	return nil
}

func (d *data) GetLot(_ context.Context, id inventory.LotID) (inventory.Lot, error) {
	l, ok := d.lots[id]
	if !ok {
		return inventory.Lot{}, fmt.Errorf("%w: %s", inventory.ErrLotNotFound, id)
	}
	return l, nil
}

func (d *data) UpdateLot(_ context.Context, l inventory.Lot) error {
	if _, ok := d.lots[l.ID]; !ok {
		return fmt.Errorf("%w: %s", inventory.ErrLotNotFound, l.ID)
	}
	d.lots[l.ID] = l
	return nil
}

func (d *data) DeleteLot(_ context.Context, id inventory.LotID) error {
	if _, ok := d.lots[id]; !ok {
		return fmt.Errorf("%w: %s", inventory.ErrLotNotFound, id)
	}
	delete(d.lots, id)
	return nil
}

func (d *data) ListLots(_ context.Context, f inventory.LotFilter) ([]inventory.Lot, error) {
	var out []inventory.Lot
	for _, l := range d.lots {
		if f.ProductID != "" && l.ProductID != f.ProductID {
			continue
		}
		if f.WarehouseID != "" && l.WarehouseID != f.WarehouseID {
			continue
		}
		if f.AvailableOnly && !l.IsAvailable() {
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PurchaseDate.Equal(out[j].PurchaseDate) {
			return out[i].PurchaseDate.Before(out[j].PurchaseDate)
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (d *data) LotForLine(_ context.Context, lineID inventory.TradeLineID) (inventory.Lot, error) {
	for _, l := range d.lots {
		if l.TradeLineID == lineID {
			return l, nil
		}
	}
	return inventory.Lot{}, fmt.Errorf("%w: for line %s", inventory.ErrLotNotFound, lineID)
}

// --- ledger ---

func (d *data) Append(_ context.Context, e inventory.LedgerEntry) error {
	d.entries = append(d.entries, e)
	return nil
}

func (d *data) EntriesAfter(_ context.Context, t time.Time) ([]inventory.LedgerEntry, error) {
	var out []inventory.LedgerEntry
	for _, e := range d.entries {
		if e.OccurredAt.After(t) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}

func (d *data) Entries(_ context.Context, productID inventory.ProductID) ([]inventory.LedgerEntry, error) {
	var out []inventory.LedgerEntry
	for _, e := range d.entries {
		if e.ProductID == productID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}

// --- matches ---

func (d *data) CreateMatch(_ context.Context, m inventory.Match) error {
	d.matches[m.ID] = m
	return nil
}

func (d *data) GetMatch(_ context.Context, id inventory.MatchID) (inventory.Match, error) {
	m, ok := d.matches[id]
	if !ok {
		return inventory.Match{}, fmt.Errorf("%w: %s", inventory.ErrMatchNotFound, id)
	}
	return m, nil
}

func (d *data) DeleteMatch(_ context.Context, id inventory.MatchID) error {
	if _, ok := d.matches[id]; !ok {
		return fmt.Errorf("%w: %s", inventory.ErrMatchNotFound, id)
	}
	delete(d.matches, id)
	return nil
}

func (d *data) MatchesByLot(_ context.Context, lotID inventory.LotID) ([]inventory.Match, error) {
	return d.filterMatches(func(m inventory.Match) bool { return m.LotID == lotID }), nil
}

func (d *data) MatchesByLine(_ context.Context, lineID inventory.TradeLineID) ([]inventory.Match, error) {
	return d.filterMatches(func(m inventory.Match) bool { return m.SaleLineID == lineID }), nil
}

func (d *data) filterMatches(keep func(inventory.Match) bool) []inventory.Match {
	var out []inventory.Match
	for _, m := range d.matches {
		if keep(m) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// --- aggregates ---

func (d *data) GetAggregate(_ context.Context, id inventory.ProductID) (inventory.AggregateRow, error) {
	r, ok := d.aggregates[id]
	if !ok {
		return inventory.ZeroAggregate(id), nil
	}
	return r, nil
}

func (d *data) SaveAggregate(_ context.Context, r inventory.AggregateRow) error {
	d.aggregates[r.ProductID] = r
	return nil
}

func (d *data) ListAggregates(_ context.Context) ([]inventory.AggregateRow, error) {
	out := make([]inventory.AggregateRow, 0, len(d.aggregates))
	for _, r := range d.aggregates {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (d *data) ClearAggregates(_ context.Context) error {
	d.aggregates = make(map[inventory.ProductID]inventory.AggregateRow)
	return nil
}

// --- audits ---

func (d *data) AppendAdjustment(_ context.Context, a inventory.Adjustment) error {
	d.adjustments = append(d.adjustments, a)
	return nil
}

func (d *data) AdjustmentsBySession(_ context.Context, id inventory.SessionID) ([]inventory.Adjustment, error) {
	var out []inventory.Adjustment
	for _, a := range d.adjustments {
		if a.SessionID == id {
			out = append(out, a)
		}
	}
	return out, nil
}

func (d *data) CreateSession(_ context.Context, s inventory.AuditSession) error {
	ids := make([]inventory.AuditItemID, 0, len(s.Items))
	for _, it := range s.Items {
		it.SessionID = s.ID
		d.items[it.ID] = it
		ids = append(ids, it.ID)
	}
	s.Items = nil
	d.sessions[s.ID] = s
	d.sessionItems[s.ID] = ids
	return nil
}

func (d *data) GetSession(_ context.Context, id inventory.SessionID) (inventory.AuditSession, error) {
	s, ok := d.sessions[id]
	if !ok {
		return inventory.AuditSession{}, fmt.Errorf("%w: %s", inventory.ErrAuditNotFound, id)
	}
	for _, itemID := range d.sessionItems[id] {
		s.Items = append(s.Items, d.items[itemID])
	}
	return s, nil
}

func (d *data) UpdateSession(_ context.Context, s inventory.AuditSession) error {
	if _, ok := d.sessions[s.ID]; !ok {
		return fmt.Errorf("%w: %s", inventory.ErrAuditNotFound, s.ID)
	}
	s.Items = nil
	d.sessions[s.ID] = s
	return nil
}

func (d *data) GetItem(_ context.Context, id inventory.AuditItemID) (inventory.AuditItem, error) {
	it, ok := d.items[id]
	if !ok {
		return inventory.AuditItem{}, fmt.Errorf("%w: %s", inventory.ErrAuditItemNotFound, id)
	}
	return it, nil
}

func (d *data) UpdateItem(_ context.Context, it inventory.AuditItem) error {
	if _, ok := d.items[it.ID]; !ok {
		return fmt.Errorf("%w: %s", inventory.ErrAuditItemNotFound, it.ID)
	}
	d.items[it.ID] = it
	return nil
}

// --- closings ---

func (d *data) SaveClosing(_ context.Context, c inventory.ClosingSnapshot) error {
	c.Details = append([]inventory.ClosingDetail(nil), c.Details...)
	d.closings[inventory.DayKey(c.Date)] = c
	return nil
}

func (d *data) GetClosing(_ context.Context, date time.Time) (inventory.ClosingSnapshot, error) {
	c, ok := d.closings[inventory.DayKey(date)]
	if !ok {
		return inventory.ClosingSnapshot{}, fmt.Errorf("%w: %s", inventory.ErrClosingNotFound, inventory.DayKey(date))
	}
	return c, nil
}

func (d *data) LatestClosing(_ context.Context) (inventory.ClosingSnapshot, error) {
	var latest string
	for k := range d.closings {
		if k > latest {
			latest = k
		}
	}
	if latest == "" {
		return inventory.ClosingSnapshot{}, inventory.ErrClosingNotFound
	}
	return d.closings[latest], nil
}

func (d *data) DeleteClosing(_ context.Context, date time.Time) error {
	key := inventory.DayKey(date)
	if _, ok := d.closings[key]; !ok {
		return fmt.Errorf("%w: %s", inventory.ErrClosingNotFound, key)
	}
	delete(d.closings, key)
	return nil
}

// =============================================================================
// LOCKED ACCESS - Memory's own methods outside WithTx
// =============================================================================

func (m *Memory) Product(ctx context.Context, id inventory.ProductID) (inventory.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.Product(ctx, id)
}

func (m *Memory) SaveProduct(ctx context.Context, p inventory.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.SaveProduct(ctx, p)
}

func (m *Memory) CreateTrade(ctx context.Context, t inventory.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.CreateTrade(ctx, t)
}

func (m *Memory) GetTrade(ctx context.Context, id inventory.TradeID) (inventory.Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.GetTrade(ctx, id)
}

func (m *Memory) CreateLine(ctx context.Context, l inventory.TradeLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.CreateLine(ctx, l)
}

func (m *Memory) GetLine(ctx context.Context, id inventory.TradeLineID) (inventory.TradeLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.GetLine(ctx, id)
}

func (m *Memory) UpdateLine(ctx context.Context, l inventory.TradeLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.UpdateLine(ctx, l)
}

func (m *Memory) DeleteLine(ctx context.Context, id inventory.TradeLineID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.DeleteLine(ctx, id)
}

func (m *Memory) ListLines(ctx context.Context, kind inventory.TradeKind, from, to time.Time) ([]inventory.TradeLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.ListLines(ctx, kind, from, to)
}

func (m *Memory) CreateLot(ctx context.Context, l inventory.Lot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.CreateLot(ctx, l)
}

func (m *Memory) GetLot(ctx context.Context, id inventory.LotID) (inventory.Lot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.GetLot(ctx, id)
}

func (m *Memory) UpdateLot(ctx context.Context, l inventory.Lot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.UpdateLot(ctx, l)
}

func (m *Memory) DeleteLot(ctx context.Context, id inventory.LotID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.DeleteLot(ctx, id)
}

func (m *Memory) ListLots(ctx context.Context, f inventory.LotFilter) ([]inventory.Lot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.ListLots(ctx, f)
}

func (m *Memory) LotForLine(ctx context.Context, lineID inventory.TradeLineID) (inventory.Lot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.LotForLine(ctx, lineID)
}

func (m *Memory) Append(ctx context.Context, e inventory.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.Append(ctx, e)
}

func (m *Memory) EntriesAfter(ctx context.Context, t time.Time) ([]inventory.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.EntriesAfter(ctx, t)
}

func (m *Memory) Entries(ctx context.Context, productID inventory.ProductID) ([]inventory.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.Entries(ctx, productID)
}

func (m *Memory) CreateMatch(ctx context.Context, mt inventory.Match) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.CreateMatch(ctx, mt)
}

func (m *Memory) GetMatch(ctx context.Context, id inventory.MatchID) (inventory.Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.GetMatch(ctx, id)
}

func (m *Memory) DeleteMatch(ctx context.Context, id inventory.MatchID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.DeleteMatch(ctx, id)
}

func (m *Memory) MatchesByLot(ctx context.Context, lotID inventory.LotID) ([]inventory.Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.MatchesByLot(ctx, lotID)
}

func (m *Memory) MatchesByLine(ctx context.Context, lineID inventory.TradeLineID) ([]inventory.Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.MatchesByLine(ctx, lineID)
}

func (m *Memory) GetAggregate(ctx context.Context, id inventory.ProductID) (inventory.AggregateRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.GetAggregate(ctx, id)
}

func (m *Memory) SaveAggregate(ctx context.Context, r inventory.AggregateRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.SaveAggregate(ctx, r)
}

func (m *Memory) ListAggregates(ctx context.Context) ([]inventory.AggregateRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.ListAggregates(ctx)
}

func (m *Memory) ClearAggregates(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.ClearAggregates(ctx)
}

func (m *Memory) AppendAdjustment(ctx context.Context, a inventory.Adjustment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.AppendAdjustment(ctx, a)
}

func (m *Memory) AdjustmentsBySession(ctx context.Context, id inventory.SessionID) ([]inventory.Adjustment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.AdjustmentsBySession(ctx, id)
}

func (m *Memory) CreateSession(ctx context.Context, s inventory.AuditSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.CreateSession(ctx, s)
}

func (m *Memory) GetSession(ctx context.Context, id inventory.SessionID) (inventory.AuditSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.GetSession(ctx, id)
}

func (m *Memory) UpdateSession(ctx context.Context, s inventory.AuditSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.UpdateSession(ctx, s)
}

func (m *Memory) GetItem(ctx context.Context, id inventory.AuditItemID) (inventory.AuditItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.GetItem(ctx, id)
}

func (m *Memory) UpdateItem(ctx context.Context, it inventory.AuditItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.UpdateItem(ctx, it)
}

func (m *Memory) SaveClosing(ctx context.Context, c inventory.ClosingSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.SaveClosing(ctx, c)
}

func (m *Memory) GetClosing(ctx context.Context, date time.Time) (inventory.ClosingSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.GetClosing(ctx, date)
}

func (m *Memory) LatestClosing(ctx context.Context) (inventory.ClosingSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.LatestClosing(ctx)
}

func (m *Memory) DeleteClosing(ctx context.Context, date time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.DeleteClosing(ctx, date)
}
