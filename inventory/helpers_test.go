package inventory_test

import (
	"context"
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

// testClock ticks one second per read so ledger entries keep a strict order.
type testClock struct {
	t time.Time
}

func (c *testClock) Now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

// On moves the clock to 09:00 on the given day.
func (c *testClock) On(day time.Time) {
	c.t = time.Date(day.Year(), day.Month(), day.Day(), 9, 0, 0, 0, time.UTC)
}

var (
	day1 = time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)
	day2 = day1.AddDate(0, 0, 1)
	day3 = day1.AddDate(0, 0, 2)
	day4 = day1.AddDate(0, 0, 3)
)

const (
	apples  inventory.ProductID   = "apples"
	pears   inventory.ProductID   = "pears"
	central inventory.WarehouseID = "wh-central"
)

type fixture struct {
	t       *testing.T
	ctx     context.Context
	svc     *inventory.Service
	store   *store.Memory
	clock   *testClock
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, cfg ...inventory.Config) *fixture {
	t.Helper()
	c := inventory.DefaultConfig()
	if len(cfg) > 0 {
		c = cfg[0]
	}
	return newFixtureWithLogger(t, zap.NewNop(), c)
}

func newFixtureWithLogger(t *testing.T, log *zap.Logger, cfg inventory.Config) *fixture {
	t.Helper()
	f := &fixture{
		t:       t,
		ctx:     context.Background(),
		store:   store.NewMemory(),
		clock:   &testClock{},
		metrics: metrics.New(),
	}
	f.clock.On(day1)
	f.svc = inventory.NewService(f.store, cfg,
		inventory.WithClock(f.clock.Now),
		inventory.WithLogger(log),
		inventory.WithMetrics(f.metrics),
	)
	require.NoError(t, f.svc.SaveProduct(f.ctx, inventory.Product{ID: apples, Name: "Apples", UnitWeight: d("2")}))
	require.NoError(t, f.svc.SaveProduct(f.ctx, inventory.Product{ID: pears, Name: "Pears", UnitWeight: d("1.5")}))
	return f
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func assertDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, d(want).Equal(got), "want %s, got %s", want, got)
}

func (f *fixture) purchase(product inventory.ProductID, qty, price string) (inventory.TradeLine, inventory.Lot) {
	f.t.Helper()
	rec, err := f.svc.RecordPurchase(f.ctx, inventory.TradeInput{
		WarehouseID: central,
		TradeDate:   f.clock.t,
		Lines:       []inventory.LineInput{{ProductID: product, Quantity: d(qty), UnitPrice: d(price)}},
	})
	require.NoError(f.t, err)
	require.Len(f.t, rec.Lots, 1)
	return rec.Lines[0], rec.Lots[0]
}

func (f *fixture) sale(product inventory.ProductID, qty, price string) inventory.TradeLine {
	f.t.Helper()
	rec, err := f.svc.RecordSale(f.ctx, inventory.TradeInput{
		WarehouseID: central,
		TradeDate:   f.clock.t,
		Lines:       []inventory.LineInput{{ProductID: product, Quantity: d(qty), UnitPrice: d(price)}},
	})
	require.NoError(f.t, err)
	return rec.Lines[0]
}

func (f *fixture) match(line inventory.TradeLineID, lot inventory.LotID, qty string) inventory.Match {
	f.t.Helper()
	ms, err := f.svc.MatchSale(f.ctx, line, []inventory.MatchRequest{{LotID: lot, Quantity: d(qty)}})
	require.NoError(f.t, err)
	require.Len(f.t, ms, 1)
	return ms[0]
}

func (f *fixture) lot(id inventory.LotID) inventory.Lot {
	f.t.Helper()
	l, err := f.store.GetLot(f.ctx, id)
	require.NoError(f.t, err)
	return l
}

func (f *fixture) row(id inventory.ProductID) inventory.AggregateRow {
	f.t.Helper()
	r, err := f.store.GetAggregate(f.ctx, id)
	require.NoError(f.t, err)
	return r
}

func (f *fixture) entries() []inventory.LedgerEntry {
	f.t.Helper()
	es, err := f.svc.LedgerSince(f.ctx, time.Time{})
	require.NoError(f.t, err)
	return es
}

func (f *fixture) lotValueSum() decimal.Decimal {
	f.t.Helper()
	lots, err := f.svc.ListLots(f.ctx, inventory.LotFilter{AvailableOnly: true})
	require.NoError(f.t, err)
	total := decimal.Zero
	for _, l := range lots {
		total = total.Add(l.RemainingQuantity.Mul(l.UnitPrice))
	}
	return total
}
