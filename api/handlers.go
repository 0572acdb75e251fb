/*
handlers.go - HTTP handlers over the inventory Service

PURPOSE:
  Thin adapter: decode the request, call one Service operation, encode the
  result. No business logic lives here.

ENDPOINTS:
  Reference data:
    POST   /api/products                      Create or update a product
    GET    /api/products/{id}                 Get a product
    GET    /api/products/{id}/ledger          Ledger entries of one product

  Trades:
    POST   /api/purchases                     Record a purchase
    POST   /api/sales                         Record a sale (optional auto_match)
    POST   /api/productions                   Record a production
    GET    /api/trade-lines/{id}              Get a trade line
    PATCH  /api/trade-lines/{id}              Edit quantity/price/weight
    DELETE /api/trade-lines/{id}              Delete a line

  Matching:
    POST   /api/trade-lines/{id}/matches      Match a sale line to lots
    POST   /api/trade-lines/{id}/auto-match   Match using the default lot order
    DELETE /api/matches/{id}                  Cancel a match
    GET    /api/lots                          List lots (product_id, warehouse_id, available)
    PUT    /api/lots/order                    Set the manual lot order

  Aggregates & ledger:
    GET    /api/aggregates                    Per-product cache rows
    POST   /api/aggregates/sync               Rebuild the cache from lots
    PUT    /api/aggregates/{id}/manual-price  Set the manual fallback price
    GET    /api/ledger?since=RFC3339          Ledger entries after a timestamp

  Audits:
    POST   /api/audits                        Start an audit
    GET    /api/audits/{id}                   Session with items
    POST   /api/audits/{id}/finalize
    POST   /api/audits/{id}/revert
    POST   /api/audits/{id}/cancel
    PATCH  /api/audit-items/{id}              Record a count
    POST   /api/audit-items/{id}/sync         Re-freeze the system quantity

  Valuation & closings:
    GET    /api/valuation?date=YYYY-MM-DD     Inventory value at end of day
    POST   /api/closings                      Close a period
    GET    /api/closings/{date}               Stored closing
    DELETE /api/closings/latest               Re-open the latest closing

ERROR HANDLING:
  - 400: malformed body or invalid input
  - 404: unknown id
  - 409: business rule violation (stock, over-match, lot in use, stale audit)
  - 500: anything else (logged)

SEE ALSO:
  - dto.go: request types and helpers
  - server.go: router and middleware
*/
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/produce-ledger/inventory"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

type Handler struct {
	Service *inventory.Service
	Log     *zap.Logger

	// Ping reports storage health; nil means always healthy.
	Ping func(context.Context) error
}

func NewHandler(svc *inventory.Service, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Service: svc, Log: log}
}

// fail writes err with the status its category maps to.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Log.Error(message,
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, status, message, err)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.Ping != nil {
		if err := h.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Storage unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// =============================================================================
// PRODUCTS
// =============================================================================

func (h *Handler) SaveProduct(w http.ResponseWriter, r *http.Request) {
	var p inventory.Product
	if err := decode(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.Service.SaveProduct(r.Context(), p); err != nil {
		h.fail(w, r, "Failed to save product", err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.Service.Product(r.Context(), inventory.ProductID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "Failed to get product", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) ProductLedger(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Service.ProductLedger(r.Context(), inventory.ProductID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "Failed to list product ledger", err)
		return
	}
	if entries == nil {
		entries = []inventory.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// =============================================================================
// TRADES
// =============================================================================

func (h *Handler) RecordPurchase(w http.ResponseWriter, r *http.Request) {
	h.record(w, r, h.Service.RecordPurchase)
}

func (h *Handler) RecordSale(w http.ResponseWriter, r *http.Request) {
	h.record(w, r, h.Service.RecordSale)
}

func (h *Handler) RecordProduction(w http.ResponseWriter, r *http.Request) {
	h.record(w, r, h.Service.RecordProduction)
}

func (h *Handler) record(w http.ResponseWriter, r *http.Request, fn func(context.Context, inventory.TradeInput) (inventory.RecordedTrade, error)) {
	var in inventory.TradeInput
	if err := decode(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	rec, err := fn(r.Context(), in)
	if err != nil {
		h.fail(w, r, "Failed to record trade", err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *Handler) GetTradeLine(w http.ResponseWriter, r *http.Request) {
	line, err := h.Service.TradeLine(r.Context(), inventory.TradeLineID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "Failed to get trade line", err)
		return
	}
	writeJSON(w, http.StatusOK, line)
}

func (h *Handler) UpdateTradeLine(w http.ResponseWriter, r *http.Request) {
	var upd inventory.LineUpdate
	if err := decode(r, &upd); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	res, err := h.Service.UpdateTradeLine(r.Context(), inventory.TradeLineID(chi.URLParam(r, "id")), upd)
	if err != nil {
		h.fail(w, r, "Failed to update trade line", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) DeleteTradeLine(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.DeleteTradeLine(r.Context(), inventory.TradeLineID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "Failed to delete trade line", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// =============================================================================
// MATCHING & LOTS
// =============================================================================

func (h *Handler) MatchSale(w http.ResponseWriter, r *http.Request) {
	var req MatchSaleRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	ms, err := h.Service.MatchSale(r.Context(), inventory.TradeLineID(chi.URLParam(r, "id")), req.Matches)
	if err != nil {
		h.fail(w, r, "Failed to match sale", err)
		return
	}
	writeJSON(w, http.StatusCreated, ms)
}

func (h *Handler) AutoMatchSale(w http.ResponseWriter, r *http.Request) {
	ms, err := h.Service.AutoMatchSale(r.Context(), inventory.TradeLineID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "Failed to auto-match sale", err)
		return
	}
	writeJSON(w, http.StatusCreated, ms)
}

func (h *Handler) CancelMatch(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.CancelMatch(r.Context(), inventory.MatchID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "Failed to cancel match", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) ListLots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := inventory.LotFilter{
		ProductID:   inventory.ProductID(q.Get("product_id")),
		WarehouseID: inventory.WarehouseID(q.Get("warehouse_id")),
	}
	if v := q.Get("available"); v != "" {
		available, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid available flag", err)
			return
		}
		f.AvailableOnly = available
	}
	lots, err := h.Service.ListLots(r.Context(), f)
	if err != nil {
		h.fail(w, r, "Failed to list lots", err)
		return
	}
	if lots == nil {
		lots = []inventory.Lot{}
	}
	writeJSON(w, http.StatusOK, lots)
}

func (h *Handler) SetManualOrder(w http.ResponseWriter, r *http.Request) {
	var req ManualOrderRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.Service.SetManualOrder(r.Context(), req.LotIDs); err != nil {
		h.fail(w, r, "Failed to set lot order", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// AGGREGATES & LEDGER
// =============================================================================

func (h *Handler) ListAggregates(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Service.Aggregates(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list aggregates", err)
		return
	}
	if rows == nil {
		rows = []inventory.AggregateRow{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *Handler) HardSync(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Service.HardSync(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to rebuild aggregates", err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *Handler) SetManualPrice(w http.ResponseWriter, r *http.Request) {
	var req ManualPriceRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	row, err := h.Service.SetManualPrice(r.Context(), inventory.ProductID(chi.URLParam(r, "id")), req.Price)
	if err != nil {
		h.fail(w, r, "Failed to set manual price", err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (h *Handler) LedgerSince(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid since (use RFC3339)", err)
			return
		}
		since = t
	}
	entries, err := h.Service.LedgerSince(r.Context(), since)
	if err != nil {
		h.fail(w, r, "Failed to list ledger entries", err)
		return
	}
	if entries == nil {
		entries = []inventory.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// =============================================================================
// AUDITS
// =============================================================================

func (h *Handler) StartAudit(w http.ResponseWriter, r *http.Request) {
	var req StartAuditRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	date, err := parseDay(req.AuditDate, h.Service.Location())
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid audit_date format (use YYYY-MM-DD)", err)
		return
	}
	s, err := h.Service.StartAudit(r.Context(), req.WarehouseID, date)
	if err != nil {
		h.fail(w, r, "Failed to start audit", err)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

func (h *Handler) GetAudit(w http.ResponseWriter, r *http.Request) {
	s, err := h.Service.GetAudit(r.Context(), inventory.SessionID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "Failed to get audit", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) FinalizeAudit(w http.ResponseWriter, r *http.Request) {
	h.auditResult(w, r, "Failed to finalize audit", h.Service.FinalizeAudit)
}

func (h *Handler) RevertAudit(w http.ResponseWriter, r *http.Request) {
	h.auditResult(w, r, "Failed to revert audit", h.Service.RevertAudit)
}

func (h *Handler) auditResult(w http.ResponseWriter, r *http.Request, message string, fn func(context.Context, inventory.SessionID) (inventory.AuditResult, error)) {
	res, err := fn(r.Context(), inventory.SessionID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, message, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) CancelAudit(w http.ResponseWriter, r *http.Request) {
	s, err := h.Service.CancelAudit(r.Context(), inventory.SessionID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "Failed to cancel audit", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) UpdateAuditItem(w http.ResponseWriter, r *http.Request) {
	var count inventory.ItemCount
	if err := decode(r, &count); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	item, err := h.Service.UpdateAuditItem(r.Context(), inventory.AuditItemID(chi.URLParam(r, "id")), count)
	if err != nil {
		h.fail(w, r, "Failed to update audit item", err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) SyncAuditItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.Service.SyncAuditItem(r.Context(), inventory.AuditItemID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "Failed to sync audit item", err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// =============================================================================
// VALUATION & CLOSINGS
// =============================================================================

func (h *Handler) ValueAt(w http.ResponseWriter, r *http.Request) {
	date, err := parseDay(r.URL.Query().Get("date"), h.Service.Location())
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}
	v, err := h.Service.ValueAt(r.Context(), date)
	if err != nil {
		h.fail(w, r, "Failed to value inventory", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) ClosePeriod(w http.ResponseWriter, r *http.Request) {
	var req ClosePeriodRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	loc := h.Service.Location()
	start, err := parseDay(req.Start, loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start format (use YYYY-MM-DD)", err)
		return
	}
	end := start
	if req.End != "" {
		if end, err = parseDay(req.End, loc); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid end format (use YYYY-MM-DD)", err)
			return
		}
	}
	snap, err := h.Service.ClosePeriod(r.Context(), start, end)
	if err != nil {
		h.fail(w, r, "Failed to close period", err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (h *Handler) GetClosing(w http.ResponseWriter, r *http.Request) {
	date, err := parseDay(chi.URLParam(r, "date"), h.Service.Location())
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}
	snap, err := h.Service.Closing(r.Context(), date)
	if err != nil {
		h.fail(w, r, "Failed to get closing", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) DeleteLastClosing(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Service.DeleteLastClosing(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to delete closing", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
