/*
dto.go - Request bodies and response helpers for the HTTP adapter

PURPOSE:
  Most responses serialise the inventory types directly (they carry json
  tags). The types here cover request bodies that do not map one-to-one onto
  a Service argument, plus the error envelope.

DATES:
  Business days are "YYYY-MM-DD" and are interpreted in the engine's
  business time zone. Timestamps (ledger "since") are RFC3339.

SEE ALSO:
  - handlers.go: uses these types
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/produce-ledger/inventory"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

type MatchSaleRequest struct {
	Matches []inventory.MatchRequest `json:"matches"`
}

type ManualOrderRequest struct {
	LotIDs []inventory.LotID `json:"lot_ids"`
}

type ManualPriceRequest struct {
	Price decimal.Decimal `json:"price"`
}

type StartAuditRequest struct {
	WarehouseID inventory.WarehouseID `json:"warehouse_id"`
	AuditDate   string                `json:"audit_date"`
}

type ClosePeriodRequest struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// statusFor maps engine errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, inventory.ErrInvalidInput):
		return http.StatusBadRequest
	case inventory.IsNotFound(err):
		return http.StatusNotFound
	case inventory.IsBusinessRule(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func parseDay(s string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", s, loc)
}
