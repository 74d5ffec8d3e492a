package allocation

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/erp/paymentalloc/internal/domain/allocation"
	"github.com/erp/paymentalloc/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RecordPaymentRequest represents a request to record a received payment
type RecordPaymentRequest struct {
	CustomerID    uuid.UUID       `json:"customer_id" binding:"required"`
	Amount        decimal.Decimal `json:"amount" binding:"money"`
	PaymentDate   civil.Date      `json:"payment_date" binding:"required"`
	PaymentMethod string          `json:"payment_method" binding:"required,oneof=cash bank_transfer upi cheque card other"`
	Reference     string          `json:"reference" binding:"max=100"`
}

// LineRequest is one proposed (obligation, amount) pair
type LineRequest struct {
	ObligationType string          `json:"obligation_type" binding:"required,oneof=INVOICE OPENING_BALANCE CREDIT_SALE"`
	ObligationID   uuid.UUID       `json:"obligation_id" binding:"required"`
	Amount         decimal.Decimal `json:"amount"`
}

// ValidateAllocationRequest carries lines to check without committing
type ValidateAllocationRequest struct {
	Lines []LineRequest `json:"lines" binding:"max=500,dive"`
}

// CommitAllocationRequest carries lines to commit
type CommitAllocationRequest struct {
	Lines []LineRequest `json:"lines" binding:"max=500,dive"`
	// ExpectedVersion is the payment version the proposal was built from.
	ExpectedVersion *int `json:"expected_version"`
}

// ProposeAllocationRequest picks a strategy; empty means the configured default
type ProposeAllocationRequest struct {
	Strategy string `json:"strategy"`
}

// RollbackAllocationRequest selects allocations to reverse
type RollbackAllocationRequest struct {
	BatchID       *uuid.UUID  `json:"batch_id"`
	AllocationIDs []uuid.UUID `json:"allocation_ids" binding:"omitempty,max=500"`
}

// VoidPaymentRequest represents a request to soft-void a payment
type VoidPaymentRequest struct {
	Reason string `json:"reason" binding:"required,max=500"`
}

// ReleaseHoldRequest represents a reviewer releasing an integrity hold.
// ReleasedBy is ignored when the caller is authenticated.
type ReleaseHoldRequest struct {
	ReleasedBy string `json:"released_by" binding:"omitempty,max=100"`
}

// ToLines converts request lines to domain lines
func ToLines(reqs []LineRequest) []allocation.Line {
	lines := make([]allocation.Line, len(reqs))
	for i, r := range reqs {
		lines[i] = allocation.Line{
			Ref:    allocation.ObligationRef{Type: allocation.ObligationType(r.ObligationType), ID: r.ObligationID},
			Amount: r.Amount,
		}
	}
	return lines
}

// CommitInput is the input to CommitAllocation
type CommitInput struct {
	PaymentID       uuid.UUID
	Lines           []allocation.Line
	ExpectedVersion *int
	// IdempotencyKey makes a retried commit replay the first outcome.
	IdempotencyKey string
}

// RollbackInput is the input to RollbackAllocation
type RollbackInput struct {
	BatchID       *uuid.UUID
	AllocationIDs []uuid.UUID
}

// PaymentResponse represents a payment in API responses
type PaymentResponse struct {
	ID              uuid.UUID  `json:"id"`
	CustomerID      uuid.UUID  `json:"customer_id"`
	Amount          string     `json:"amount"`
	AmountUnapplied string     `json:"amount_unapplied"`
	AmountAllocated string     `json:"amount_allocated"`
	PaymentDate     string     `json:"payment_date"`
	PaymentMethod   string     `json:"payment_method"`
	Reference       string     `json:"reference"`
	Status          string     `json:"status"`
	Version         int        `json:"version"`
	VoidedAt        *time.Time `json:"voided_at,omitempty"`
	VoidReason      string     `json:"void_reason,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// AllocationResponse represents one allocation row
type AllocationResponse struct {
	ID             uuid.UUID `json:"id"`
	BatchID        uuid.UUID `json:"batch_id"`
	PaymentID      uuid.UUID `json:"payment_id"`
	ObligationType string    `json:"obligation_type"`
	ObligationID   uuid.UUID `json:"obligation_id"`
	Amount         string    `json:"amount"`
	CreatedAt      time.Time `json:"created_at"`
}

// ObligationResponse represents any obligation variant
type ObligationResponse struct {
	ObligationType  string    `json:"obligation_type"`
	ID              uuid.UUID `json:"id"`
	CustomerID      uuid.UUID `json:"customer_id"`
	Label           string    `json:"label"`
	Date            string    `json:"date"`
	DueDate         string    `json:"due_date,omitempty"`
	Status          string    `json:"status,omitempty"`
	MaxAmount       string    `json:"max_amount"`
	AmountSatisfied string    `json:"amount_satisfied"`
	Remaining       string    `json:"remaining"`
}

// CustomerObligationsResponse is a customer's outstanding obligations
type CustomerObligationsResponse struct {
	CustomerID     uuid.UUID            `json:"customer_id"`
	Invoices       []ObligationResponse `json:"invoices"`
	OpeningBalance *ObligationResponse  `json:"opening_balance"`
	CreditSales    []ObligationResponse `json:"credit_sales"`
	TotalRemaining string               `json:"total_remaining"`
}

// LineResponse is one proposed line
type LineResponse struct {
	ObligationType string    `json:"obligation_type"`
	ObligationID   uuid.UUID `json:"obligation_id"`
	Label          string    `json:"label,omitempty"`
	Amount         string    `json:"amount"`
}

// ProposalResponse is a strategy's proposal for a payment
type ProposalResponse struct {
	PaymentID uuid.UUID `json:"payment_id"`
	Strategy  string    `json:"strategy"`
	// PaymentVersion can be sent back as expected_version on commit.
	PaymentVersion int            `json:"payment_version"`
	Available      string         `json:"available"`
	Lines          []LineResponse `json:"lines"`
	TotalAllocated string         `json:"total_allocated"`
	UnappliedAfter string         `json:"unapplied_after"`
}

// ValidationErrorResponse describes why lines failed validation
type ValidationErrorResponse struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// ValidationResponse is the advisory validation outcome
type ValidationResponse struct {
	Valid          bool                     `json:"valid"`
	TotalAllocated string                   `json:"total_allocated"`
	UnappliedAfter string                   `json:"unapplied_after,omitempty"`
	Error          *ValidationErrorResponse `json:"error,omitempty"`
}

// CommitResponse is the outcome of a committed allocation
type CommitResponse struct {
	Payment       PaymentResponse      `json:"payment"`
	BatchID       uuid.UUID            `json:"batch_id"`
	AllocationIDs []uuid.UUID          `json:"allocation_ids"`
	Allocations   []AllocationResponse `json:"allocations"`
	// Replayed is true when the response came from the idempotency store.
	Replayed bool `json:"replayed"`
}

// RollbackResponse is the outcome of a rollback
type RollbackResponse struct {
	Reversed []uuid.UUID       `json:"reversed"`
	Skipped  []uuid.UUID       `json:"skipped"`
	Payments []PaymentResponse `json:"payments"`
	Amount   string            `json:"amount"`
}

// StatsResponse summarizes open credit
type StatsResponse struct {
	TotalAmount    string `json:"total_amount"`
	TotalCount     int64  `json:"total_count"`
	CustomersCount int64  `json:"customers_count"`
}

// HoldResponse represents an integrity hold
type HoldResponse struct {
	ID          uuid.UUID  `json:"id"`
	SubjectType string     `json:"subject_type"`
	SubjectID   uuid.UUID  `json:"subject_id"`
	Reason      string     `json:"reason"`
	Detail      string     `json:"detail"`
	Active      bool       `json:"active"`
	CreatedAt   time.Time  `json:"created_at"`
	ReleasedAt  *time.Time `json:"released_at,omitempty"`
	ReleasedBy  string     `json:"released_by,omitempty"`
}

// DiscrepancyResponse is one reconciliation finding
type DiscrepancyResponse struct {
	Kind        string    `json:"kind"`
	SubjectType string    `json:"subject_type"`
	SubjectID   uuid.UUID `json:"subject_id"`
	Stored      string    `json:"stored"`
	Recomputed  string    `json:"recomputed"`
	Detail      string    `json:"detail,omitempty"`
}

// ReconciliationResponse is the outcome of a reconciliation run
type ReconciliationResponse struct {
	CheckedAt          time.Time             `json:"checked_at"`
	Consistent         bool                  `json:"consistent"`
	PaymentsChecked    int64                 `json:"payments_checked"`
	ObligationsChecked int64                 `json:"obligations_checked"`
	Discrepancies      []DiscrepancyResponse `json:"discrepancies"`
	HoldsPlaced        int                   `json:"holds_placed"`
}

func money(d decimal.Decimal) string {
	return d.StringFixed(valueobject.MinorUnitPlaces)
}

func dateString(d civil.Date) string {
	if d.IsZero() {
		return ""
	}
	return d.String()
}

// ToPaymentResponse converts a domain Payment
func ToPaymentResponse(p *allocation.Payment) PaymentResponse {
	return PaymentResponse{
		ID:              p.ID,
		CustomerID:      p.CustomerID,
		Amount:          money(p.Amount),
		AmountUnapplied: money(p.AmountUnapplied),
		AmountAllocated: money(p.Allocated()),
		PaymentDate:     dateString(p.PaymentDate),
		PaymentMethod:   string(p.PaymentMethod),
		Reference:       p.Reference,
		Status:          string(p.Status),
		Version:         p.Version,
		VoidedAt:        p.VoidedAt,
		VoidReason:      p.VoidReason,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

// ToPaymentResponses converts a slice of payments
func ToPaymentResponses(ps []*allocation.Payment) []PaymentResponse {
	out := make([]PaymentResponse, len(ps))
	for i, p := range ps {
		out[i] = ToPaymentResponse(p)
	}
	return out
}

// ToAllocationResponse converts a domain Allocation
func ToAllocationResponse(a *allocation.Allocation) AllocationResponse {
	return AllocationResponse{
		ID:             a.ID,
		BatchID:        a.BatchID,
		PaymentID:      a.PaymentID,
		ObligationType: string(a.ObligationType),
		ObligationID:   a.ObligationID,
		Amount:         money(a.Amount),
		CreatedAt:      a.CreatedAt,
	}
}

// ToAllocationResponses converts a slice of allocations
func ToAllocationResponses(as []*allocation.Allocation) []AllocationResponse {
	out := make([]AllocationResponse, len(as))
	for i, a := range as {
		out[i] = ToAllocationResponse(a)
	}
	return out
}

// ToObligationResponse converts any obligation variant
func ToObligationResponse(o allocation.Obligation) ObligationResponse {
	ref := o.Ref()
	b := o.Capacity()
	r := ObligationResponse{
		ObligationType:  string(ref.Type),
		ID:              ref.ID,
		CustomerID:      o.Customer(),
		Label:           o.Label(),
		Date:            dateString(o.Date()),
		MaxAmount:       money(b.MaxAmount),
		AmountSatisfied: money(b.AmountSatisfied),
		Remaining:       money(o.Remaining()),
	}
	if inv, ok := o.(*allocation.Invoice); ok {
		r.DueDate = dateString(inv.DueDate)
		r.Status = string(inv.Status())
	}
	return r
}

// ToCustomerObligationsResponse converts a customer's obligations
func ToCustomerObligationsResponse(c *allocation.CustomerObligations) CustomerObligationsResponse {
	out := CustomerObligationsResponse{
		CustomerID:     c.CustomerID,
		Invoices:       make([]ObligationResponse, len(c.Invoices)),
		CreditSales:    make([]ObligationResponse, len(c.CreditSales)),
		TotalRemaining: money(c.TotalRemaining()),
	}
	for i, inv := range c.Invoices {
		out.Invoices[i] = ToObligationResponse(inv)
	}
	for i, cs := range c.CreditSales {
		out.CreditSales[i] = ToObligationResponse(cs)
	}
	if c.OpeningBalance != nil {
		ob := ToObligationResponse(c.OpeningBalance)
		out.OpeningBalance = &ob
	}
	return out
}

// ToCommitResponse converts an allocation result
func ToCommitResponse(r *allocation.AllocationResult) *CommitResponse {
	return &CommitResponse{
		Payment:       ToPaymentResponse(r.Payment),
		BatchID:       r.BatchID,
		AllocationIDs: r.AllocationIDs,
		Allocations:   ToAllocationResponses(r.Allocations),
	}
}

// ToRollbackResponse converts a rollback result
func ToRollbackResponse(r *allocation.RollbackResult) *RollbackResponse {
	return &RollbackResponse{
		Reversed: r.Reversed,
		Skipped:  r.Skipped,
		Payments: ToPaymentResponses(r.Payments),
		Amount:   money(r.Amount),
	}
}

// ToHoldResponse converts an integrity hold
func ToHoldResponse(h *allocation.IntegrityHold) HoldResponse {
	return HoldResponse{
		ID:          h.ID,
		SubjectType: string(h.SubjectType),
		SubjectID:   h.SubjectID,
		Reason:      string(h.Reason),
		Detail:      h.Detail,
		Active:      h.IsActive(),
		CreatedAt:   h.CreatedAt,
		ReleasedAt:  h.ReleasedAt,
		ReleasedBy:  h.ReleasedBy,
	}
}

// ToReconciliationResponse converts a reconciliation report
func ToReconciliationResponse(r *allocation.ReconciliationReport) *ReconciliationResponse {
	out := &ReconciliationResponse{
		CheckedAt:          r.CheckedAt,
		Consistent:         r.Consistent(),
		PaymentsChecked:    r.PaymentsChecked,
		ObligationsChecked: r.ObligationsChecked,
		Discrepancies:      make([]DiscrepancyResponse, len(r.Discrepancies)),
		HoldsPlaced:        r.HoldsPlaced,
	}
	for i, d := range r.Discrepancies {
		out.Discrepancies[i] = DiscrepancyResponse{
			Kind:        string(d.Kind),
			SubjectType: string(d.SubjectType),
			SubjectID:   d.SubjectID,
			Stored:      money(d.Stored),
			Recomputed:  money(d.Recomputed),
			Detail:      d.Detail,
		}
	}
	return out
}
