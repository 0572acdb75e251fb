package inventory_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warp/produce-ledger/inventory"
)

func TestErrorCategories(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		businessRule bool
		notFound     bool
	}{
		{"insufficient stock", &inventory.InsufficientStockError{LotID: "l1", Remaining: d("1"), Requested: d("2")}, true, false},
		{"over-match", &inventory.OverMatchError{Side: inventory.SideLot, ID: "l1"}, true, false},
		{"lot in use", &inventory.LotInUseError{LotID: "l1", Matches: 2}, true, false},
		{"stale audit", &inventory.StaleAuditError{SessionID: "s1", Status: inventory.AuditCancelled, Operation: "finalize"}, true, false},
		{"wrapped not found", fmt.Errorf("load: %w", inventory.ErrLotNotFound), false, true},
		{"plain error", errors.New("disk on fire"), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.businessRule, inventory.IsBusinessRule(tt.err))
			assert.Equal(t, tt.notFound, inventory.IsNotFound(tt.err))
			assert.False(t, inventory.IsInconsistency(tt.err))
		})
	}
}

func TestStructuredErrors_Messages(t *testing.T) {
	err := &inventory.OverMatchError{Side: inventory.SideSaleLine, ID: "line-7", Capacity: d("30"), Requested: d("40")}
	assert.Equal(t, "over-match on sale_line line-7: capacity 30, requested 40", err.Error())

	stale := &inventory.StaleAuditError{SessionID: "s1", Status: inventory.AuditCompleted, Operation: "cancel"}
	assert.Contains(t, stale.Error(), "cannot cancel audit s1")
}
