package allocation

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DiscrepancyKind classifies a reconciliation finding
type DiscrepancyKind string

const (
	// DiscrepancyUnapplied: amount - sum(allocations) != amount_unapplied
	DiscrepancyUnapplied DiscrepancyKind = "UNAPPLIED_MISMATCH"
	// DiscrepancyPaymentStatus: stored status disagrees with amount_unapplied
	DiscrepancyPaymentStatus DiscrepancyKind = "PAYMENT_STATUS_MISMATCH"
	// DiscrepancySatisfied: sum(allocations) != amount_satisfied
	DiscrepancySatisfied DiscrepancyKind = "SATISFIED_MISMATCH"
	// DiscrepancyOverCapacity: amount_satisfied > max_amount
	DiscrepancyOverCapacity DiscrepancyKind = "OVER_CAPACITY"
)

// Discrepancy is one record whose stored counters disagree with a full
// recomputation from allocation rows.
type Discrepancy struct {
	Kind        DiscrepancyKind `json:"kind"`
	SubjectType HoldSubject     `json:"subject_type"`
	SubjectID   uuid.UUID       `json:"subject_id"`
	Stored      decimal.Decimal `json:"stored"`
	Recomputed  decimal.Decimal `json:"recomputed"`
	Detail      string          `json:"detail,omitempty"`
}

// ReconciliationReport is the outcome of a full ledger check
type ReconciliationReport struct {
	CheckedAt          time.Time     `json:"checked_at"`
	PaymentsChecked    int64         `json:"payments_checked"`
	ObligationsChecked int64         `json:"obligations_checked"`
	Discrepancies      []Discrepancy `json:"discrepancies"`
	HoldsPlaced        int           `json:"holds_placed"`
}

// Consistent is true when no discrepancy was found
func (r *ReconciliationReport) Consistent() bool {
	return len(r.Discrepancies) == 0
}

// UnappliedStats summarizes open credit for dashboards
type UnappliedStats struct {
	TotalAmount    decimal.Decimal `json:"total_amount"`
	TotalCount     int64           `json:"total_count"`
	CustomersCount int64           `json:"customers_count"`
}
