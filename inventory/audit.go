/*
audit.go - Physical count sessions

PURPOSE:
  Reconciles what the counter finds on the floor with what the lots say.

STATE MACHINE:
  IN_PROGRESS --finalize--> COMPLETED --revert--> IN_PROGRESS
  IN_PROGRESS --cancel----> CANCELLED (terminal)

STALENESS WINDOW:
  SystemQuantity is frozen when the session starts. Trading continues while
  the audit is open and no lot is locked, so the live CurrentQuantity may
  move away from it. Nothing rebases the snapshot automatically; SyncItem is
  the operator's explicit re-freeze. Finalize diffs the count against the
  frozen value, stale or not.

ROUNDS:
  Every finalize increments Round and tags its adjustments with it. Revert
  appends REVERT rows for the current round only, so finalize/revert cycles
  stay separable in the append-only adjustment log.
*/
package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ItemCount is an update to one audit item. Nil fields are left alone.
type ItemCount struct {
	ActualQuantity *decimal.Decimal `json:"actual_quantity,omitempty"`
	Checked        *bool            `json:"checked,omitempty"`
	Notes          *string          `json:"notes,omitempty"`
}

type AuditResult struct {
	Session     AuditSession  `json:"session"`
	Adjustments []Adjustment  `json:"adjustments"`
	Entries     []LedgerEntry `json:"entries"`
}

type AuditReconciler struct {
	Store  Store
	Lots   *LotBook
	Ledger *Ledger
	Now    func() time.Time
}

// Start snapshots every available lot in the warehouse.
func (a *AuditReconciler) Start(ctx context.Context, warehouseID WarehouseID, auditDate time.Time) (AuditSession, error) {
	if warehouseID == "" {
		return AuditSession{}, invalid("audit needs a warehouse")
	}
	lots, err := a.Store.ListLots(ctx, LotFilter{WarehouseID: warehouseID, AvailableOnly: true})
	if err != nil {
		return AuditSession{}, fmt.Errorf("list lots: %w", err)
	}
	now := a.Now()
	if auditDate.IsZero() {
		auditDate = now
	}
	s := AuditSession{
		ID:          SessionID(NewID()),
		WarehouseID: warehouseID,
		AuditDate:   auditDate,
		Status:      AuditInProgress,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, lot := range lots {
		s.Items = append(s.Items, AuditItem{
			ID:              AuditItemID(NewID()),
			SessionID:       s.ID,
			LotID:           lot.ID,
			ProductID:       lot.ProductID,
			SystemQuantity:  lot.RemainingQuantity,
			CurrentQuantity: lot.RemainingQuantity,
			UpdatedAt:       now,
		})
	}
	if err := a.Store.CreateSession(ctx, s); err != nil {
		return AuditSession{}, fmt.Errorf("create audit session: %w", err)
	}
	return s, nil
}

// Get loads a session and fills every item's live quantity.
func (a *AuditReconciler) Get(ctx context.Context, id SessionID) (AuditSession, error) {
	s, err := a.Store.GetSession(ctx, id)
	if err != nil {
		return AuditSession{}, err
	}
	for i := range s.Items {
		if s.Items[i].CurrentQuantity, err = a.live(ctx, s.Items[i].LotID); err != nil {
			return AuditSession{}, err
		}
	}
	return s, nil
}

// live reads a lot's remaining quantity; a lot deleted since the snapshot
// reads as zero.
func (a *AuditReconciler) live(ctx context.Context, id LotID) (decimal.Decimal, error) {
	lot, err := a.Store.GetLot(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return lot.RemainingQuantity, nil
}

func (a *AuditReconciler) openItem(ctx context.Context, id AuditItemID, op string) (AuditItem, error) {
	item, err := a.Store.GetItem(ctx, id)
	if err != nil {
		return AuditItem{}, err
	}
	s, err := a.Store.GetSession(ctx, item.SessionID)
	if err != nil {
		return AuditItem{}, err
	}
	if s.Status != AuditInProgress {
		return AuditItem{}, &StaleAuditError{SessionID: s.ID, Status: s.Status, Operation: op}
	}
	return item, nil
}

func (a *AuditReconciler) UpdateItem(ctx context.Context, id AuditItemID, c ItemCount) (AuditItem, error) {
	item, err := a.openItem(ctx, id, "update item of")
	if err != nil {
		return AuditItem{}, err
	}
	if c.ActualQuantity != nil {
		if c.ActualQuantity.IsNegative() {
			return AuditItem{}, invalid("counted quantity must not be negative, got %s", *c.ActualQuantity)
		}
		actual := *c.ActualQuantity
		item.ActualQuantity = &actual
	}
	if c.Checked != nil {
		item.Checked = *c.Checked
	}
	if c.Notes != nil {
		item.Notes = *c.Notes
	}
	return a.saveItem(ctx, item)
}

// SyncItem re-freezes SystemQuantity to the lot's live quantity.
func (a *AuditReconciler) SyncItem(ctx context.Context, id AuditItemID) (AuditItem, error) {
	item, err := a.openItem(ctx, id, "sync item of")
	if err != nil {
		return AuditItem{}, err
	}
	if item.SystemQuantity, err = a.live(ctx, item.LotID); err != nil {
		return AuditItem{}, err
	}
	return a.saveItem(ctx, item)
}

func (a *AuditReconciler) saveItem(ctx context.Context, item AuditItem) (AuditItem, error) {
	item.UpdatedAt = a.Now()
	if err := a.Store.UpdateItem(ctx, item); err != nil {
		return AuditItem{}, fmt.Errorf("update audit item %s: %w", item.ID, err)
	}
	var err error
	if item.CurrentQuantity, err = a.live(ctx, item.LotID); err != nil {
		return AuditItem{}, err
	}
	return item, nil
}

// Finalize turns every counted difference into an adjustment, a lot change
// and an ADJUST ledger entry.
func (a *AuditReconciler) Finalize(ctx context.Context, id SessionID) (AuditResult, error) {
	s, err := a.Store.GetSession(ctx, id)
	if err != nil {
		return AuditResult{}, err
	}
	if s.Status != AuditInProgress {
		return AuditResult{}, &StaleAuditError{SessionID: id, Status: s.Status, Operation: "finalize"}
	}
	s.Round++

	var res AuditResult
	for _, item := range s.Items {
		diff, counted := item.Difference()
		if !counted || diff.IsZero() {
			continue
		}
		reason := item.Notes
		if reason == "" {
			reason = fmt.Sprintf("counted %s against system %s", item.ActualQuantity, item.SystemQuantity)
		}
		adj, entry, err := a.adjust(ctx, s, item.LotID, diff, AdjustmentFinalize, reason, NoteAuditFinalize)
		if err != nil {
			return AuditResult{}, err
		}
		res.Adjustments = append(res.Adjustments, adj)
		res.Entries = append(res.Entries, entry)
	}

	s.Status = AuditCompleted
	if res.Session, err = a.saveSession(ctx, s); err != nil {
		return AuditResult{}, err
	}
	return res, nil
}

// Revert applies the inverse of the current round's adjustments and reopens
// the session.
func (a *AuditReconciler) Revert(ctx context.Context, id SessionID) (AuditResult, error) {
	s, err := a.Store.GetSession(ctx, id)
	if err != nil {
		return AuditResult{}, err
	}
	if s.Status != AuditCompleted {
		return AuditResult{}, &StaleAuditError{SessionID: id, Status: s.Status, Operation: "revert"}
	}
	adjs, err := a.Store.AdjustmentsBySession(ctx, id)
	if err != nil {
		return AuditResult{}, fmt.Errorf("load adjustments: %w", err)
	}

	var res AuditResult
	for _, prior := range adjs {
		if prior.Round != s.Round || prior.Kind != AdjustmentFinalize {
			continue
		}
		reason := fmt.Sprintf("revert of %s", prior.ID)
		adj, entry, err := a.adjust(ctx, s, prior.LotID, prior.QuantityDelta.Neg(), AdjustmentRevert, reason, NoteAuditRevert)
		if err != nil {
			return AuditResult{}, err
		}
		res.Adjustments = append(res.Adjustments, adj)
		res.Entries = append(res.Entries, entry)
	}

	s.Status = AuditInProgress
	if res.Session, err = a.saveSession(ctx, s); err != nil {
		return AuditResult{}, err
	}
	return res, nil
}

// Cancel discards an open session without touching inventory.
func (a *AuditReconciler) Cancel(ctx context.Context, id SessionID) (AuditSession, error) {
	s, err := a.Store.GetSession(ctx, id)
	if err != nil {
		return AuditSession{}, err
	}
	if s.Status != AuditInProgress {
		return AuditSession{}, &StaleAuditError{SessionID: id, Status: s.Status, Operation: "cancel"}
	}
	s.Status = AuditCancelled
	return a.saveSession(ctx, s)
}

func (a *AuditReconciler) adjust(ctx context.Context, s AuditSession, lotID LotID, delta decimal.Decimal, kind AdjustmentKind, reason, note string) (Adjustment, LedgerEntry, error) {
	lot, err := a.Store.GetLot(ctx, lotID)
	if err != nil {
		return Adjustment{}, LedgerEntry{}, err
	}
	weight := lot.WeightFor(delta.Abs())
	if delta.IsNegative() {
		_, err = a.Lots.Reduce(ctx, lotID, delta.Abs(), weight)
	} else {
		_, err = a.Lots.Restore(ctx, lotID, delta, weight)
	}
	if err != nil {
		return Adjustment{}, LedgerEntry{}, err
	}

	adj := Adjustment{
		ID:            AdjustmentID(NewID()),
		SessionID:     s.ID,
		Round:         s.Round,
		Kind:          kind,
		LotID:         lotID,
		QuantityDelta: delta,
		Reason:        reason,
		CreatedAt:     a.Now(),
	}
	if err := a.Store.AppendAdjustment(ctx, adj); err != nil {
		return Adjustment{}, LedgerEntry{}, fmt.Errorf("append adjustment: %w", err)
	}

	if delta.IsNegative() {
		weight = weight.Neg()
	}
	entry, err := a.Ledger.Post(ctx, Posting{
		Kind:       EntryAdjust,
		Origin:     OriginAudit,
		ProductID:  lot.ProductID,
		Quantity:   delta,
		Weight:     weight,
		UnitPrice:  lot.UnitPrice,
		Annotation: note,
		AtCost:     true,
	})
	if err != nil {
		return Adjustment{}, LedgerEntry{}, err
	}
	return adj, entry, nil
}

func (a *AuditReconciler) saveSession(ctx context.Context, s AuditSession) (AuditSession, error) {
	s.UpdatedAt = a.Now()
	if err := a.Store.UpdateSession(ctx, s); err != nil {
		return AuditSession{}, fmt.Errorf("update audit session %s: %w", s.ID, err)
	}
	return a.Get(ctx, s.ID)
}
