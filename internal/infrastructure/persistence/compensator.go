package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/paymentalloc/internal/domain/allocation"
	"github.com/erp/paymentalloc/internal/domain/shared"
	"github.com/erp/paymentalloc/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormCompensator reverses committed allocations all-or-nothing
type GormCompensator struct {
	tx *TxRunner
}

// NewGormCompensator creates a new GormCompensator
func NewGormCompensator(tx *TxRunner) *GormCompensator {
	return &GormCompensator{tx: tx}
}

// Rollback reverses the selected allocations. Ids that no longer exist are
// reported as skipped, so repeating a rollback is a no-op.
func (c *GormCompensator) Rollback(ctx context.Context, sel allocation.RollbackSelector) (*allocation.RollbackResult, error) {
	if sel.IsEmpty() {
		return nil, shared.NewDomainError("INVALID_INPUT", "batch_id or allocation_ids is required")
	}

	result := &allocation.RollbackResult{
		Reversed: []uuid.UUID{},
		Skipped:  []uuid.UUID{},
		Payments: []*allocation.Payment{},
	}
	err := c.tx.InTx(ctx, func(tx *gorm.DB) error {
		selected, err := selectAllocations(tx, sel)
		if err != nil {
			return err
		}
		requested := requestedIDs(sel, selected)
		if len(selected) == 0 {
			result.Skipped = requested
			return nil
		}

		paymentIDs := make([]uuid.UUID, 0, len(selected))
		refs := make([]allocation.ObligationRef, 0, len(selected))
		selectedIDs := make([]uuid.UUID, 0, len(selected))
		for i := range selected {
			paymentIDs = append(paymentIDs, selected[i].PaymentID)
			refs = append(refs, allocation.ObligationRef{Type: selected[i].ObligationType, ID: selected[i].ObligationID})
			selectedIDs = append(selectedIDs, selected[i].ID)
		}

		payments, err := lockPayments(tx, paymentIDs)
		if err != nil {
			return err
		}
		refs = sortedRefs(refs)
		obligations, err := lockObligations(tx, refs)
		if err != nil {
			return err
		}

		var rows []models.AllocationModel
		if err := forUpdate(tx).Where("id IN ?", sortedIDs(selectedIDs)).Order("id").Find(&rows).Error; err != nil {
			return fmt.Errorf("lock allocations: %w", err)
		}
		present := make(map[uuid.UUID]bool, len(rows))
		for i := range rows {
			present[rows[i].ID] = true
		}
		for _, id := range requested {
			if !present[id] {
				result.Skipped = append(result.Skipped, id)
			}
		}
		if len(rows) == 0 {
			return nil
		}

		if err := reverse(rows, payments, obligations); err != nil {
			return err
		}

		ids := make([]uuid.UUID, len(rows))
		for i := range rows {
			ids[i] = rows[i].ID
		}
		if err := tx.Where("id IN ?", ids).Delete(&models.AllocationModel{}).Error; err != nil {
			return fmt.Errorf("delete allocations: %w", err)
		}

		now := time.Now()
		touchedRefs := make(map[allocation.ObligationRef]bool)
		touchedPayments := make(map[uuid.UUID]bool)
		for i := range rows {
			touchedRefs[allocation.ObligationRef{Type: rows[i].ObligationType, ID: rows[i].ObligationID}] = true
			touchedPayments[rows[i].PaymentID] = true
			result.Amount = result.Amount.Add(rows[i].Amount)
		}
		for _, ref := range refs {
			if !touchedRefs[ref] {
				continue
			}
			if err := saveSatisfied(tx, obligations[ref], now); err != nil {
				return err
			}
		}
		for _, id := range sortedIDs(paymentIDs) {
			if !touchedPayments[id] {
				continue
			}
			if err := savePaymentBalance(tx, payments[id]); err != nil {
				return err
			}
			result.Payments = append(result.Payments, payments[id])
		}
		result.Reversed = ids
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// reverse releases every row against its locked obligation and payment.
// Every row is tried so the error lists all ids that failed.
func reverse(rows []models.AllocationModel, payments map[uuid.UUID]*allocation.Payment, obligations map[allocation.ObligationRef]allocation.Obligation) error {
	var (
		missing []uuid.UUID
		failed  []uuid.UUID
		first   *allocation.Error
	)
	for i := range rows {
		row := rows[i]
		ref := allocation.ObligationRef{Type: row.ObligationType, ID: row.ObligationID}
		o, okO := obligations[ref]
		p, okP := payments[row.PaymentID]
		if !okO || !okP {
			missing = append(missing, row.ID)
			continue
		}
		if err := o.Release(row.Amount); err != nil {
			failed = append(failed, row.ID)
			if ae, ok := allocation.AsError(err); ok && first == nil {
				first = ae
				first.Ref = &ref
				first.PaymentID = &row.PaymentID
			}
			continue
		}
		if err := p.Restore(row.Amount); err != nil {
			failed = append(failed, row.ID)
			if ae, ok := allocation.AsError(err); ok && first == nil {
				first = ae
			}
		}
	}

	if len(missing) > 0 {
		e := allocation.NewError(allocation.KindNotFound, "allocation references a payment or obligation that no longer exists")
		e.Failed = missing
		return e
	}
	if len(failed) > 0 {
		e := allocation.NewError(allocation.KindPartialRollbackFailure,
			fmt.Sprintf("%d allocation(s) could not be reversed without breaking a balance invariant", len(failed)))
		e.Failed = failed
		if first != nil {
			e.Ref = first.Ref
			e.PaymentID = first.PaymentID
			e.Requested = first.Requested
			e.Available = first.Available
		}
		return e
	}
	return nil
}

func selectAllocations(tx *gorm.DB, sel allocation.RollbackSelector) ([]models.AllocationModel, error) {
	q := tx.Model(&models.AllocationModel{})
	switch {
	case sel.BatchID != nil && len(sel.AllocationIDs) > 0:
		q = q.Where("batch_id = ? OR id IN ?", *sel.BatchID, sel.AllocationIDs)
	case sel.BatchID != nil:
		q = q.Where("batch_id = ?", *sel.BatchID)
	default:
		q = q.Where("id IN ?", sel.AllocationIDs)
	}
	var rows []models.AllocationModel
	if err := q.Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("select allocations: %w", err)
	}
	return rows, nil
}

// requestedIDs is every id the caller named or the batch resolved to
func requestedIDs(sel allocation.RollbackSelector, selected []models.AllocationModel) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(selected)+len(sel.AllocationIDs))
	for i := range selected {
		ids = append(ids, selected[i].ID)
	}
	ids = append(ids, sel.AllocationIDs...)
	return sortedIDs(ids)
}

var _ allocation.Compensator = (*GormCompensator)(nil)
