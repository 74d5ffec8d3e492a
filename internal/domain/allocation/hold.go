package allocation

import (
	"time"

	"github.com/google/uuid"
)

// HoldSubject is the kind of record an integrity hold freezes
type HoldSubject string

const (
	HoldSubjectPayment        HoldSubject = "PAYMENT"
	HoldSubjectInvoice        HoldSubject = HoldSubject(ObligationTypeInvoice)
	HoldSubjectOpeningBalance HoldSubject = HoldSubject(ObligationTypeOpeningBalance)
	HoldSubjectCreditSale     HoldSubject = HoldSubject(ObligationTypeCreditSale)
)

// HoldSubjectFor maps an obligation type to its hold subject
func HoldSubjectFor(t ObligationType) HoldSubject {
	return HoldSubject(t)
}

// HoldReason explains why a record was frozen
type HoldReason string

const (
	HoldReasonReconciliationMismatch HoldReason = "RECONCILIATION_MISMATCH"
	HoldReasonPartialRollback        HoldReason = "PARTIAL_ROLLBACK"
	HoldReasonManual                 HoldReason = "MANUAL"
)

// IntegrityHold freezes allocation against a payment or obligation until a
// person reviews and releases it.
type IntegrityHold struct {
	ID          uuid.UUID   `json:"id"`
	SubjectType HoldSubject `json:"subject_type"`
	SubjectID   uuid.UUID   `json:"subject_id"`
	Reason      HoldReason  `json:"reason"`
	Detail      string      `json:"detail"`
	CreatedAt   time.Time   `json:"created_at"`
	ReleasedAt  *time.Time  `json:"released_at,omitempty"`
	ReleasedBy  string      `json:"released_by,omitempty"`
}

// NewIntegrityHold creates an active hold
func NewIntegrityHold(subject HoldSubject, subjectID uuid.UUID, reason HoldReason, detail string) *IntegrityHold {
	return &IntegrityHold{
		ID:          uuid.New(),
		SubjectType: subject,
		SubjectID:   subjectID,
		Reason:      reason,
		Detail:      detail,
		CreatedAt:   time.Now(),
	}
}

// IsActive returns true until the hold is released
func (h *IntegrityHold) IsActive() bool {
	return h.ReleasedAt == nil
}

// Release clears the hold
func (h *IntegrityHold) Release(by string) error {
	if !h.IsActive() {
		return NewError(KindInvalidState, "integrity hold already released")
	}
	if by == "" {
		return NewError(KindInvalidState, "releasing reviewer is required")
	}
	now := time.Now()
	h.ReleasedAt = &now
	h.ReleasedBy = by
	return nil
}
