package inventory

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubMatches map[TradeLineID][]Match

func (stubMatches) CreateMatch(context.Context, Match) error        { return nil }
func (stubMatches) GetMatch(context.Context, MatchID) (Match, error) { return Match{}, ErrMatchNotFound }
func (stubMatches) DeleteMatch(context.Context, MatchID) error      { return nil }
func (stubMatches) MatchesByLot(context.Context, LotID) ([]Match, error) {
	return nil, nil
}
func (s stubMatches) MatchesByLine(_ context.Context, id TradeLineID) ([]Match, error) {
	return s[id], nil
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testCascade(matches stubMatches) Cascade {
	return Cascade{
		matchedCostTier{matches: matches},
		recordedPriceTier{},
		latestPurchaseTier{latest: map[ProductID]decimal.Decimal{"apples": dec("14"), "figs": decimal.Zero}},
		manualPriceTier{rows: map[ProductID]AggregateRow{"plums": {ProductID: "plums", ManualPrice: dec("3")}}},
		zeroTier{},
	}
}

func TestCascade_TierSelection(t *testing.T) {
	line := TradeLineID("sale-1")
	cascade := testCascade(stubMatches{
		line: {
			{Quantity: dec("10"), LotUnitPrice: dec("10")},
			{Quantity: dec("10"), LotUnitPrice: dec("11")},
		},
	})

	tests := []struct {
		name  string
		entry LedgerEntry
		want  string
	}{
		{
			name:  "fully matched sale at copied lot prices",
			entry: LedgerEntry{Origin: OriginSale, ProductID: "apples", QuantityDelta: dec("-20"), TradeLineID: &line},
			want:  "-210",
		},
		{
			name:  "sale beyond matches falls through to latest purchase",
			entry: LedgerEntry{Origin: OriginSale, ProductID: "apples", QuantityDelta: dec("-25"), TradeLineID: &line},
			want:  "-280",
		},
		{
			name:  "partial sale reversal takes a proportional share of match cost",
			entry: LedgerEntry{Origin: OriginSale, ProductID: "apples", QuantityDelta: dec("5"), TradeLineID: &line},
			want:  "52.5",
		},
		{
			name:  "sale ignores its own selling price",
			entry: LedgerEntry{Origin: OriginSale, ProductID: "apples", QuantityDelta: dec("-2"), UnitPrice: dec("99")},
			want:  "-28",
		},
		{
			name:  "purchase at recorded price even when zero",
			entry: LedgerEntry{Origin: OriginPurchase, ProductID: "apples", QuantityDelta: dec("4"), UnitPrice: decimal.Zero},
			want:  "0",
		},
		{
			name:  "production input with recorded price",
			entry: LedgerEntry{Origin: OriginProduction, ProductID: "apples", QuantityDelta: dec("-3"), UnitPrice: dec("9")},
			want:  "-27",
		},
		{
			name:  "production without price uses latest purchase",
			entry: LedgerEntry{Origin: OriginProduction, ProductID: "apples", QuantityDelta: dec("-3")},
			want:  "-42",
		},
		{
			name:  "zero latest price falls through to zero tier",
			entry: LedgerEntry{Origin: OriginProduction, ProductID: "figs", QuantityDelta: dec("-3")},
			want:  "0",
		},
		{
			name:  "manual price when no lot ever existed",
			entry: LedgerEntry{Origin: OriginAudit, ProductID: "plums", QuantityDelta: dec("-4")},
			want:  "-12",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := cascade.Value(context.Background(), tt.entry)
			require.NoError(t, err)
			assert.Truef(t, dec(tt.want).Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestCascade_ZeroQuantity_IsZero(t *testing.T) {
	got, err := testCascade(nil).Value(context.Background(), LedgerEntry{Origin: OriginPurchase, ProductID: "apples", UnitPrice: dec("5")})
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}
