package allocation

import (
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/erp/paymentalloc/internal/domain/shared"
	"github.com/erp/paymentalloc/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentStatus is derived from amount_unapplied
type PaymentStatus string

const (
	PaymentStatusUnapplied        PaymentStatus = "unapplied"
	PaymentStatusPartiallyApplied PaymentStatus = "partially_applied"
	PaymentStatusFullyApplied     PaymentStatus = "fully_applied"
)

// IsValid checks if the status is a valid PaymentStatus
func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentStatusUnapplied, PaymentStatusPartiallyApplied, PaymentStatusFullyApplied:
		return true
	}
	return false
}

// StatusFor derives the status a payment of amount should have when
// unapplied is left over.
func StatusFor(amount, unapplied decimal.Decimal) PaymentStatus {
	switch {
	case unapplied.IsZero():
		return PaymentStatusFullyApplied
	case unapplied.Equal(amount):
		return PaymentStatusUnapplied
	default:
		return PaymentStatusPartiallyApplied
	}
}

// PaymentMethod represents the method of payment
type PaymentMethod string

const (
	PaymentMethodCash         PaymentMethod = "cash"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodUPI          PaymentMethod = "upi"
	PaymentMethodCheque       PaymentMethod = "cheque"
	PaymentMethodCard         PaymentMethod = "card"
	PaymentMethodOther        PaymentMethod = "other"
)

// IsValid checks if the payment method is valid
func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodBankTransfer, PaymentMethodUPI,
		PaymentMethodCheque, PaymentMethodCard, PaymentMethodOther:
		return true
	}
	return false
}

// Payment is money received from a customer.
// Invariant: AmountUnapplied + sum(allocations) == Amount.
type Payment struct {
	shared.BaseAggregateRoot
	CustomerID      uuid.UUID       `json:"customer_id"`
	Amount          decimal.Decimal `json:"amount"`
	PaymentDate     civil.Date      `json:"payment_date"`
	PaymentMethod   PaymentMethod   `json:"payment_method"`
	Reference       string          `json:"reference"`
	AmountUnapplied decimal.Decimal `json:"amount_unapplied"`
	Status          PaymentStatus   `json:"status"`
	VoidedAt        *time.Time      `json:"voided_at,omitempty"`
	VoidReason      string          `json:"void_reason,omitempty"`
}

// NewPayment records a payment with its full amount unapplied
func NewPayment(
	customerID uuid.UUID,
	amount decimal.Decimal,
	paymentDate civil.Date,
	method PaymentMethod,
	reference string,
) (*Payment, error) {
	if customerID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_CUSTOMER", "Customer ID cannot be empty")
	}
	if !amount.IsPositive() || !valueobject.HasMinorUnitPrecision(amount) {
		return nil, newInvalidAmountError(amount, -1)
	}
	if !paymentDate.IsValid() {
		return nil, shared.NewDomainError("INVALID_PAYMENT_DATE", "Payment date is required")
	}
	if !method.IsValid() {
		return nil, shared.NewDomainError("INVALID_PAYMENT_METHOD", fmt.Sprintf("Payment method %q is not valid", method))
	}
	if len(reference) > 100 {
		return nil, shared.NewDomainError("INVALID_REFERENCE", "Payment reference cannot exceed 100 characters")
	}

	return &Payment{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		CustomerID:        customerID,
		Amount:            amount,
		PaymentDate:       paymentDate,
		PaymentMethod:     method,
		Reference:         strings.TrimSpace(reference),
		AmountUnapplied:   amount,
		Status:            PaymentStatusUnapplied,
	}, nil
}

// IsVoided returns true if the payment was soft-voided
func (p *Payment) IsVoided() bool {
	return p.VoidedAt != nil
}

// Allocated returns the amount currently allocated
func (p *Payment) Allocated() decimal.Decimal {
	return p.Amount.Sub(p.AmountUnapplied)
}

// Apply takes total out of the unapplied balance
func (p *Payment) Apply(total decimal.Decimal) error {
	if p.IsVoided() {
		return p.voidedError()
	}
	if !total.IsPositive() {
		return newInvalidAmountError(total, -1)
	}
	if total.GreaterThan(p.AmountUnapplied) {
		e := newOverAllocationError(total, p.AmountUnapplied)
		e.PaymentID = &p.ID
		return e
	}
	p.AmountUnapplied = p.AmountUnapplied.Sub(total)
	p.refreshStatus()
	return nil
}

// Restore returns amount to the unapplied balance
func (p *Payment) Restore(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return newInvalidAmountError(amount, -1)
	}
	restored := p.AmountUnapplied.Add(amount)
	if restored.GreaterThan(p.Amount) {
		return &Error{
			Kind:      KindPartialRollbackFailure,
			Message:   "restore would exceed payment amount",
			Index:     -1,
			Requested: amount,
			Available: p.Allocated(),
			PaymentID: &p.ID,
		}
	}
	p.AmountUnapplied = restored
	p.refreshStatus()
	return nil
}

// Void soft-voids a payment that has nothing allocated
func (p *Payment) Void(reason string) error {
	if p.IsVoided() {
		return p.voidedError()
	}
	if !p.AmountUnapplied.Equal(p.Amount) {
		return &Error{
			Kind:      KindInvalidState,
			Message:   "cannot void a payment with allocations; roll them back first",
			Index:     -1,
			Requested: p.Amount,
			Available: p.AmountUnapplied,
			PaymentID: &p.ID,
		}
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return shared.NewDomainError("INVALID_REASON", "Void reason is required")
	}
	now := time.Now()
	p.VoidedAt = &now
	p.VoidReason = reason
	p.IncrementVersion()
	return nil
}

// CheckVersion returns StaleState when expected is set and differs
func (p *Payment) CheckVersion(expected *int) error {
	if expected == nil || *expected == p.Version {
		return nil
	}
	return &Error{
		Kind:      KindStaleState,
		Message:   fmt.Sprintf("payment changed since proposal (version %d, expected %d), please retry", p.Version, *expected),
		Index:     -1,
		Available: p.AmountUnapplied,
		PaymentID: &p.ID,
	}
}

func (p *Payment) refreshStatus() {
	p.Status = StatusFor(p.Amount, p.AmountUnapplied)
	p.IncrementVersion()
}

func (p *Payment) voidedError() *Error {
	return &Error{
		Kind:      KindInvalidState,
		Message:   fmt.Sprintf("payment %s is voided", p.ID),
		Index:     -1,
		PaymentID: &p.ID,
	}
}
