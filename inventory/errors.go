/*
errors.go - Centralized error types for the inventory engine

PURPOSE:
  All error types in one place so the API layer can tell a business rule
  violation from a missing record from an internal inconsistency without
  parsing strings.

ERROR CATEGORIES:
  1. Business rules - InsufficientStock, OverMatch, LotNotAvailable,
     LotInUse, StaleAudit, closing order
  2. Not found - every lookup by id
  3. Inconsistency - ReconstructionInconsistency (logged, never returned
     from valuation)

USAGE:
  if errors.Is(err, inventory.ErrLotInUse) {
      // purchase already sold against
  }
  var stock *inventory.InsufficientStockError
  if errors.As(err, &stock) {
      log(stock.Remaining)
  }
*/
package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrOverMatch         = errors.New("match exceeds remaining capacity")
	ErrLotNotAvailable   = errors.New("lot not available")
	ErrLotInUse          = errors.New("lot is referenced by matches")
	ErrStaleAudit        = errors.New("audit session is not in the expected state")
	ErrInvalidInput      = errors.New("invalid input")

	// ErrClosingNotLatest is returned when deleting or rewriting a closing
	// that a newer closing already settled.
	ErrClosingNotLatest = errors.New("closing is not the most recent")

	ErrReconstructionInconsistency = errors.New("valuation replay required clamping")

	ErrProductNotFound    = errors.New("product not found")
	ErrTradeNotFound      = errors.New("trade not found")
	ErrTradeLineNotFound  = errors.New("trade line not found")
	ErrLotNotFound        = errors.New("lot not found")
	ErrMatchNotFound      = errors.New("match not found")
	ErrAuditNotFound      = errors.New("audit session not found")
	ErrAuditItemNotFound  = errors.New("audit item not found")
	ErrClosingNotFound    = errors.New("closing not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientStockError is returned when a reduction would take a lot below
// zero. ProductID is set instead of LotID when a production input cannot be
// covered by a warehouse's lots.
type InsufficientStockError struct {
	LotID     LotID
	ProductID ProductID
	Remaining decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	if e.LotID == "" {
		return fmt.Sprintf("insufficient stock of %s: available %s, requested %s",
			e.ProductID, e.Remaining, e.Requested)
	}
	return fmt.Sprintf("insufficient stock on lot %s: remaining %s, requested %s",
		e.LotID, e.Remaining, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// MatchSide names which capacity an over-match ran out of.
type MatchSide string

const (
	SideLot      MatchSide = "lot"
	SideSaleLine MatchSide = "sale_line"
)

// OverMatchError is returned when a match exceeds the lot's remaining
// quantity or the sale line's unmatched remainder.
type OverMatchError struct {
	Side      MatchSide
	ID        string
	Capacity  decimal.Decimal
	Requested decimal.Decimal
}

func (e *OverMatchError) Error() string {
	return fmt.Sprintf("over-match on %s %s: capacity %s, requested %s",
		e.Side, e.ID, e.Capacity, e.Requested)
}

func (e *OverMatchError) Unwrap() error { return ErrOverMatch }

// LotNotAvailableError is returned when matching against a depleted lot or a
// lot of a different product.
type LotNotAvailableError struct {
	LotID  LotID
	Reason string
}

func (e *LotNotAvailableError) Error() string {
	return fmt.Sprintf("lot %s not available: %s", e.LotID, e.Reason)
}

func (e *LotNotAvailableError) Unwrap() error { return ErrLotNotAvailable }

// LotInUseError is returned when deleting a purchase that has been sold against.
type LotInUseError struct {
	LotID   LotID
	Matches int
}

func (e *LotInUseError) Error() string {
	return fmt.Sprintf("lot %s is referenced by %d match(es)", e.LotID, e.Matches)
}

func (e *LotInUseError) Unwrap() error { return ErrLotInUse }

// StaleAuditError is returned when an audit transition is attempted from the
// wrong state.
type StaleAuditError struct {
	SessionID SessionID
	Status    AuditStatus
	Operation string
}

func (e *StaleAuditError) Error() string {
	return fmt.Sprintf("cannot %s audit %s in status %s", e.Operation, e.SessionID, e.Status)
}

func (e *StaleAuditError) Unwrap() error { return ErrStaleAudit }

// ReconstructionInconsistencyError describes a replay that produced a
// negative value. It is logged and attached to the valuation result; it never
// blocks reporting.
type ReconstructionInconsistencyError struct {
	Date     time.Time
	Raw      decimal.Decimal
	Replayed int
}

func (e *ReconstructionInconsistencyError) Error() string {
	return fmt.Sprintf("valuation at %s replayed %d entries to %s; clamped to 0",
		e.Date.Format("2006-01-02"), e.Replayed, e.Raw)
}

func (e *ReconstructionInconsistencyError) Unwrap() error { return ErrReconstructionInconsistency }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsBusinessRule returns true if the error is a rule violation the caller can
// act on.
func IsBusinessRule(err error) bool {
	return errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrOverMatch) ||
		errors.Is(err, ErrLotNotAvailable) ||
		errors.Is(err, ErrLotInUse) ||
		errors.Is(err, ErrStaleAudit) ||
		errors.Is(err, ErrClosingNotLatest) ||
		errors.Is(err, ErrInvalidInput)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrTradeNotFound) ||
		errors.Is(err, ErrTradeLineNotFound) ||
		errors.Is(err, ErrLotNotFound) ||
		errors.Is(err, ErrMatchNotFound) ||
		errors.Is(err, ErrAuditNotFound) ||
		errors.Is(err, ErrAuditItemNotFound) ||
		errors.Is(err, ErrClosingNotFound)
}

// IsInconsistency returns true for internal data-quality failures.
func IsInconsistency(err error) bool {
	return errors.Is(err, ErrReconstructionInconsistency)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
