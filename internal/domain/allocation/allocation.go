package allocation

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Allocation links one payment to one obligation for an amount.
// Rows are only ever created by a committed allocate and removed by a
// rollback.
type Allocation struct {
	ID             uuid.UUID       `json:"id"`
	BatchID        uuid.UUID       `json:"batch_id"`
	PaymentID      uuid.UUID       `json:"payment_id"`
	ObligationType ObligationType  `json:"obligation_type"`
	ObligationID   uuid.UUID       `json:"obligation_id"`
	Amount         decimal.Decimal `json:"amount"`
	CreatedAt      time.Time       `json:"created_at"`
}

// NewAllocation creates an allocation row for a batch
func NewAllocation(batchID, paymentID uuid.UUID, line Line) *Allocation {
	return &Allocation{
		ID:             uuid.New(),
		BatchID:        batchID,
		PaymentID:      paymentID,
		ObligationType: line.Ref.Type,
		ObligationID:   line.Ref.ID,
		Amount:         line.Amount,
		CreatedAt:      time.Now(),
	}
}

// Ref returns the target obligation ref
func (a *Allocation) Ref() ObligationRef {
	return ObligationRef{Type: a.ObligationType, ID: a.ObligationID}
}

// Line is a proposed (target, amount) pair
type Line struct {
	Ref    ObligationRef   `json:"obligation"`
	Amount decimal.Decimal `json:"amount"`
}

// TotalOf sums line amounts
func TotalOf(lines []Line) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Amount)
	}
	return total
}

// AllocationResult is the outcome of a committed allocate
type AllocationResult struct {
	Payment       *Payment      `json:"payment"`
	BatchID       uuid.UUID     `json:"batch_id"`
	AllocationIDs []uuid.UUID   `json:"allocation_ids"`
	Allocations   []*Allocation `json:"allocations"`
}

// RollbackResult is the outcome of a rollback
type RollbackResult struct {
	Reversed []uuid.UUID `json:"reversed"`
	// Skipped ids were already absent; a retried rollback lands here.
	Skipped  []uuid.UUID `json:"skipped"`
	Payments []*Payment  `json:"payments"`
	// Amount is the total restored to payments.
	Amount decimal.Decimal `json:"amount"`
}
