package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/paymentalloc/internal/domain/allocation"
	"github.com/erp/paymentalloc/internal/infrastructure/logger"
	"github.com/erp/paymentalloc/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// GormAllocator is the only forward writer of payment_allocations.
// Each Allocate is one transaction that locks the payment, then the
// target obligations in (type, id) order, re-validates against the locked
// values and writes the rows and both counters.
type GormAllocator struct {
	tx *TxRunner
}

// NewGormAllocator creates a new GormAllocator
func NewGormAllocator(tx *TxRunner) *GormAllocator {
	return &GormAllocator{tx: tx}
}

// Allocate applies cmd.Lines against the payment all-or-nothing
func (a *GormAllocator) Allocate(ctx context.Context, cmd allocation.AllocateCommand) (*allocation.AllocationResult, error) {
	if len(cmd.Lines) == 0 {
		return nil, allocation.NewError(allocation.KindInvalidAmount, "at least one allocation line is required")
	}

	var result *allocation.AllocationResult
	err := a.tx.InTx(ctx, func(tx *gorm.DB) error {
		payments, err := lockPayments(tx, []uuid.UUID{cmd.PaymentID})
		if err != nil {
			return err
		}
		payment, ok := payments[cmd.PaymentID]
		if !ok {
			return allocation.NewNotFoundError("payment", cmd.PaymentID)
		}
		if payment.IsVoided() {
			e := allocation.NewError(allocation.KindInvalidState, fmt.Sprintf("payment %s is voided", payment.ID))
			e.PaymentID = &payment.ID
			return e
		}
		if err := payment.CheckVersion(cmd.ExpectedVersion); err != nil {
			return err
		}
		if err := rejectHeld(tx, allocation.HoldSubjectPayment, []uuid.UUID{payment.ID}); err != nil {
			return err
		}

		refs := make([]allocation.ObligationRef, len(cmd.Lines))
		for i, l := range cmd.Lines {
			refs[i] = l.Ref
		}
		refs = sortedRefs(refs)
		locked, err := lockObligations(tx, refs)
		if err != nil {
			return err
		}

		// Foreign obligations are left out so the validator reports them
		// as not found.
		remaining := make(map[allocation.ObligationRef]decimal.Decimal, len(locked))
		heldIDs := make(map[allocation.ObligationType][]uuid.UUID)
		for ref, o := range locked {
			if o.Customer() != payment.CustomerID {
				continue
			}
			remaining[ref] = o.Remaining()
			heldIDs[ref.Type] = append(heldIDs[ref.Type], ref.ID)
		}
		for _, t := range models.ObligationTypes() {
			if err := rejectHeld(tx, allocation.HoldSubjectFor(t), heldIDs[t]); err != nil {
				return err
			}
		}

		res := allocation.Validate(payment.AmountUnapplied, cmd.Lines, remaining)
		if !res.Valid {
			if res.Error.PaymentID == nil {
				res.Error.PaymentID = &payment.ID
			}
			return res.Error
		}

		batchID := uuid.New()
		now := time.Now()
		rows := make([]*models.AllocationModel, 0, len(cmd.Lines))
		allocs := make([]*allocation.Allocation, 0, len(cmd.Lines))
		for _, l := range cmd.Lines {
			if err := locked[l.Ref].Satisfy(l.Amount); err != nil {
				return err
			}
			alloc := allocation.NewAllocation(batchID, payment.ID, l)
			alloc.CreatedAt = now
			allocs = append(allocs, alloc)
			rows = append(rows, models.AllocationModelFromDomain(alloc))
		}
		if err := payment.Apply(res.TotalAllocated); err != nil {
			return err
		}

		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("insert allocations: %w", err)
		}
		for _, ref := range refs {
			if err := saveSatisfied(tx, locked[ref], now); err != nil {
				return err
			}
		}
		if err := savePaymentBalance(tx, payment); err != nil {
			return err
		}

		ids := make([]uuid.UUID, len(allocs))
		for i, al := range allocs {
			ids[i] = al.ID
		}
		result = &allocation.AllocationResult{
			Payment:       payment,
			BatchID:       batchID,
			AllocationIDs: ids,
			Allocations:   allocs,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.L(ctx).Debug("allocation batch written",
		zap.String("batch_id", result.BatchID.String()),
		zap.Int("lines", len(result.Allocations)),
	)
	return result, nil
}

// rejectHeld fails with IntegrityHold when any subject has an active hold
func rejectHeld(tx *gorm.DB, subject allocation.HoldSubject, ids []uuid.UUID) error {
	holds, err := activeHolds(tx, subject, ids)
	if err != nil {
		return err
	}
	if len(holds) == 0 {
		return nil
	}
	h := holds[0]
	return allocation.NewIntegrityHoldError(h.SubjectType, h.SubjectID, string(h.Reason))
}

var _ allocation.Allocator = (*GormAllocator)(nil)
