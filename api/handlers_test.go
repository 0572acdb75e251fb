/*
handlers_test.go - Tests for the HTTP adapter

Tests for:
- Trade recording, matching and valuation through the router
- Error category to status mapping
- Audit and closing endpoints
- Health, metrics and the hard sync scheduler
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/produce-ledger/inventory"
	"github.com/warp/produce-ledger/inventory/store"
	"github.com/warp/produce-ledger/metrics"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var tradeDay = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

type testServer struct {
	t      *testing.T
	router http.Handler
	svc    *inventory.Service
	store  *store.Memory
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	clock := tradeDay
	now := func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	mem := store.NewMemory()
	m := metrics.New()
	svc := inventory.NewService(mem, inventory.DefaultConfig(),
		inventory.WithClock(now),
		inventory.WithMetrics(m),
	)
	h := NewHandler(svc, zap.NewNop())
	router := NewRouter(h, RouterConfig{Metrics: m, MetricsPath: "/metrics"})

	ts := &testServer{t: t, router: router, svc: svc, store: mem}
	ts.do(http.MethodPost, "/api/products", inventory.Product{ID: "apples", Name: "Apples", UnitWeight: decimal.NewFromInt(2)}, http.StatusCreated, nil)
	return ts
}

// do sends a request, asserts the status and decodes the body into out.
func (ts *testServer) do(method, path string, body any, wantStatus int, out any) *httptest.ResponseRecorder {
	ts.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(ts.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	ts.router.ServeHTTP(rec, req)

	require.Equalf(ts.t, wantStatus, rec.Code, "%s %s: %s", method, path, rec.Body.String())
	if out != nil {
		require.NoError(ts.t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec
}

func (ts *testServer) trade(path, qty, price string) inventory.RecordedTrade {
	ts.t.Helper()
	var rec inventory.RecordedTrade
	ts.do(http.MethodPost, path, inventory.TradeInput{
		WarehouseID: "wh-central",
		TradeDate:   tradeDay,
		Lines: []inventory.LineInput{{
			ProductID: "apples",
			Quantity:  decimal.RequireFromString(qty),
			UnitPrice: decimal.RequireFromString(price),
		}},
	}, http.StatusCreated, &rec)
	return rec
}

func assertDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

// =============================================================================
// FLOWS
// =============================================================================

func TestAPI_PurchaseSaleMatchAndValue(t *testing.T) {
	// GIVEN: A purchase of 100 @ 10 and a sale of 40
	// WHEN: The sale is matched through the API
	// THEN: The lot holds 60 and the day is valued at 600

	ts := newTestServer(t)
	buy := ts.trade("/api/purchases", "100", "10")
	require.Len(t, buy.Lots, 1)
	sale := ts.trade("/api/sales", "40", "15")

	var ms []inventory.Match
	ts.do(http.MethodPost, "/api/trade-lines/"+string(sale.Lines[0].ID)+"/matches", MatchSaleRequest{
		Matches: []inventory.MatchRequest{{LotID: buy.Lots[0].ID, Quantity: decimal.NewFromInt(40)}},
	}, http.StatusCreated, &ms)
	require.Len(t, ms, 1)
	assertDec(t, "10", ms[0].LotUnitPrice)

	var lots []inventory.Lot
	ts.do(http.MethodGet, "/api/lots?product_id=apples&available=true", nil, http.StatusOK, &lots)
	require.Len(t, lots, 1)
	assertDec(t, "60", lots[0].RemainingQuantity)

	var v inventory.Valuation
	ts.do(http.MethodGet, "/api/valuation?date=2025-03-10", nil, http.StatusOK, &v)
	assertDec(t, "600", v.Value)

	var entries []inventory.LedgerEntry
	ts.do(http.MethodGet, "/api/ledger", nil, http.StatusOK, &entries)
	assert.Len(t, entries, 2)
}

func TestAPI_EditAndCancelMatch(t *testing.T) {
	ts := newTestServer(t)
	buy := ts.trade("/api/purchases", "100", "10")
	sale := ts.trade("/api/sales", "40", "15")

	var ms []inventory.Match
	ts.do(http.MethodPost, "/api/trade-lines/"+string(sale.Lines[0].ID)+"/auto-match", nil, http.StatusCreated, &ms)
	require.Len(t, ms, 1)
	assert.Equal(t, buy.Lots[0].ID, ms[0].LotID)

	var res inventory.CancelResult
	ts.do(http.MethodDelete, "/api/matches/"+string(ms[0].ID), nil, http.StatusOK, &res)
	require.NotNil(t, res.LineDeleted)

	newQty := decimal.NewFromInt(120)
	var upd inventory.UpdateResult
	ts.do(http.MethodPatch, "/api/trade-lines/"+string(buy.Lines[0].ID), inventory.LineUpdate{Quantity: &newQty}, http.StatusOK, &upd)
	require.NotNil(t, upd.Lot)
	assertDec(t, "120", upd.Lot.RemainingQuantity)
}

func TestAPI_ErrorStatuses(t *testing.T) {
	ts := newTestServer(t)
	buy := ts.trade("/api/purchases", "10", "10")
	sale := ts.trade("/api/sales", "5", "15")

	var body ErrorResponse

	// unknown id
	ts.do(http.MethodGet, "/api/trade-lines/nope", nil, http.StatusNotFound, &body)
	assert.Equal(t, "Failed to get trade line", body.Error)

	// over-match on the sale line
	ts.do(http.MethodPost, "/api/trade-lines/"+string(sale.Lines[0].ID)+"/matches", MatchSaleRequest{
		Matches: []inventory.MatchRequest{{LotID: buy.Lots[0].ID, Quantity: decimal.NewFromInt(6)}},
	}, http.StatusConflict, &body)
	assert.Contains(t, body.Details, "over-match")

	// invalid input
	ts.do(http.MethodPost, "/api/purchases", inventory.TradeInput{
		WarehouseID: "wh-central",
		Lines:       []inventory.LineInput{{ProductID: "apples", Quantity: decimal.NewFromInt(-1), UnitPrice: decimal.NewFromInt(1)}},
	}, http.StatusBadRequest, &body)

	// malformed body
	req := httptest.NewRequest(http.MethodPost, "/api/sales", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// bad date
	ts.do(http.MethodGet, "/api/valuation?date=10/03/2025", nil, http.StatusBadRequest, nil)
}

func TestAPI_AuditLifecycle(t *testing.T) {
	ts := newTestServer(t)
	buy := ts.trade("/api/purchases", "60", "10")

	var s inventory.AuditSession
	ts.do(http.MethodPost, "/api/audits", StartAuditRequest{WarehouseID: "wh-central", AuditDate: "2025-03-10"}, http.StatusCreated, &s)
	require.Len(t, s.Items, 1)

	actual, checked := decimal.NewFromInt(55), true
	var item inventory.AuditItem
	ts.do(http.MethodPatch, "/api/audit-items/"+string(s.Items[0].ID), inventory.ItemCount{ActualQuantity: &actual, Checked: &checked}, http.StatusOK, &item)
	assert.True(t, item.Checked)

	var fin inventory.AuditResult
	ts.do(http.MethodPost, "/api/audits/"+string(s.ID)+"/finalize", nil, http.StatusOK, &fin)
	assert.Equal(t, inventory.AuditCompleted, fin.Session.Status)

	lot, err := ts.store.GetLot(context.Background(), buy.Lots[0].ID)
	require.NoError(t, err)
	assertDec(t, "55", lot.RemainingQuantity)

	// completed sessions cannot be cancelled
	ts.do(http.MethodPost, "/api/audits/"+string(s.ID)+"/cancel", nil, http.StatusConflict, nil)

	var rev inventory.AuditResult
	ts.do(http.MethodPost, "/api/audits/"+string(s.ID)+"/revert", nil, http.StatusOK, &rev)
	assert.Equal(t, inventory.AuditInProgress, rev.Session.Status)
}

func TestAPI_Closings(t *testing.T) {
	ts := newTestServer(t)
	ts.trade("/api/purchases", "100", "10")

	var snap inventory.ClosingSnapshot
	ts.do(http.MethodPost, "/api/closings", ClosePeriodRequest{Start: "2025-03-10"}, http.StatusCreated, &snap)
	assertDec(t, "1000", snap.PurchaseCost)

	ts.do(http.MethodGet, "/api/closings/2025-03-10", nil, http.StatusOK, &snap)
	assertDec(t, "1000", snap.CurrentValuation)

	ts.do(http.MethodDelete, "/api/closings/latest", nil, http.StatusOK, nil)
	ts.do(http.MethodGet, "/api/closings/2025-03-10", nil, http.StatusNotFound, nil)
}

func TestAPI_AggregatesAndManualPrice(t *testing.T) {
	ts := newTestServer(t)
	ts.trade("/api/purchases", "10", "4")

	var row inventory.AggregateRow
	ts.do(http.MethodPut, "/api/aggregates/apples/manual-price", ManualPriceRequest{Price: decimal.RequireFromString("3.5")}, http.StatusOK, &row)
	assertDec(t, "3.5", row.ManualPrice)

	var rows []inventory.AggregateRow
	ts.do(http.MethodPost, "/api/aggregates/sync", nil, http.StatusOK, &rows)
	require.Len(t, rows, 1)
	assertDec(t, "40", rows[0].Value)
}

func TestAPI_ProductLedger(t *testing.T) {
	ts := newTestServer(t)
	ts.do(http.MethodPost, "/api/products", inventory.Product{ID: "pears", Name: "Pears", UnitWeight: decimal.NewFromInt(1)}, http.StatusCreated, nil)
	ts.trade("/api/purchases", "10", "4")
	ts.trade("/api/sales", "3", "6")

	var entries []inventory.LedgerEntry
	ts.do(http.MethodGet, "/api/products/apples/ledger", nil, http.StatusOK, &entries)
	require.Len(t, entries, 2)
	assert.Equal(t, inventory.EntryIn, entries[0].Kind)
	assert.Equal(t, inventory.EntryOut, entries[1].Kind)

	ts.do(http.MethodGet, "/api/products/pears/ledger", nil, http.StatusOK, &entries)
	assert.Empty(t, entries)

	ts.do(http.MethodGet, "/api/products/kiwis/ledger", nil, http.StatusNotFound, nil)
}

func TestAPI_ProductionInputBeyondStock_Conflict(t *testing.T) {
	ts := newTestServer(t)
	ts.trade("/api/purchases", "5", "4")

	var body ErrorResponse
	ts.do(http.MethodPost, "/api/productions", inventory.TradeInput{
		WarehouseID: "wh-central",
		TradeDate:   tradeDay,
		Lines:       []inventory.LineInput{{ProductID: "apples", Quantity: decimal.NewFromInt(-8), UnitPrice: decimal.NewFromInt(4)}},
	}, http.StatusConflict, &body)
	assert.Contains(t, body.Details, "insufficient stock of apples")
}

// =============================================================================
// OPERATIONS
// =============================================================================

func TestAPI_HealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)
	ts.trade("/api/purchases", "1", "1")

	var health HealthResponse
	ts.do(http.MethodGet, "/healthz", nil, http.StatusOK, &health)
	assert.Equal(t, "ok", health.Status)

	rec := ts.do(http.MethodGet, "/metrics", nil, http.StatusOK, nil)
	assert.Contains(t, rec.Body.String(), "produce_ledger_ledger_entries_total")
}

func TestHardSyncScheduler(t *testing.T) {
	ts := newTestServer(t)
	ts.trade("/api/purchases", "10", "4")

	// disabled: Start and Stop are no-ops
	off := NewHardSyncScheduler(ts.svc, 0, nil)
	off.Start()
	off.Stop()

	s := NewHardSyncScheduler(ts.svc, time.Hour, zap.NewNop())
	s.Start()
	require.NoError(t, s.RunNow(context.Background()))
	s.Stop()

	rows, err := ts.svc.Aggregates(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assertDec(t, "40", rows[0].Value)
}
