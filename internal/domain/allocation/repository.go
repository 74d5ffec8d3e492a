package allocation

import (
	"context"

	"github.com/erp/paymentalloc/internal/domain/shared"
	"github.com/google/uuid"
)

// ObligationSource reads outstanding obligations. Read-only.
type ObligationSource interface {
	// ListObligations returns outstanding obligations for a customer.
	// Unknown customer is NotFound; no obligations is empty lists.
	ListObligations(ctx context.Context, customerID uuid.UUID) (*CustomerObligations, error)
	// FindObligations resolves refs without locking. Unknown refs are
	// omitted from the result.
	FindObligations(ctx context.Context, refs []ObligationRef) ([]Obligation, error)
}

// UnappliedFilter narrows the unapplied payment listing
type UnappliedFilter struct {
	shared.Filter
	CustomerID *uuid.UUID
}

// PaymentRepository stores payments outside the allocate path
type PaymentRepository interface {
	Create(ctx context.Context, payment *Payment) error
	FindByID(ctx context.Context, id uuid.UUID) (*Payment, error)
	// Void persists a soft void under a row lock.
	Void(ctx context.Context, id uuid.UUID, reason string) (*Payment, error)
	ListAllocations(ctx context.Context, paymentID uuid.UUID) ([]*Allocation, error)
}

// AllocateCommand is the input to Allocator.Allocate
type AllocateCommand struct {
	PaymentID uuid.UUID
	Lines     []Line
	// ExpectedVersion, when set, must match the locked payment's version.
	ExpectedVersion *int
}

// Allocator is the only writer that creates allocations
type Allocator interface {
	Allocate(ctx context.Context, cmd AllocateCommand) (*AllocationResult, error)
}

// RollbackSelector picks the allocations to reverse: a batch, explicit
// ids, or both.
type RollbackSelector struct {
	BatchID       *uuid.UUID
	AllocationIDs []uuid.UUID
}

// IsEmpty reports whether nothing was selected
func (s RollbackSelector) IsEmpty() bool {
	return s.BatchID == nil && len(s.AllocationIDs) == 0
}

// Compensator reverses committed allocations all-or-nothing
type Compensator interface {
	Rollback(ctx context.Context, sel RollbackSelector) (*RollbackResult, error)
}

// Ledger answers unapplied-balance queries and checks the counters
type Ledger interface {
	ListUnapplied(ctx context.Context, filter UnappliedFilter) ([]*Payment, int64, error)
	UnappliedStats(ctx context.Context) (*UnappliedStats, error)
	Reconcile(ctx context.Context) (*ReconciliationReport, error)
}

// HoldRepository stores integrity holds
type HoldRepository interface {
	// Place stores holds, skipping subjects that already have an active
	// hold, and returns how many were stored.
	Place(ctx context.Context, holds ...*IntegrityHold) (int, error)
	FindByID(ctx context.Context, id uuid.UUID) (*IntegrityHold, error)
	ListActive(ctx context.Context) ([]*IntegrityHold, error)
	Release(ctx context.Context, id uuid.UUID, by string) (*IntegrityHold, error)
}
