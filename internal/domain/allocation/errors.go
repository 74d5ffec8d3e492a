package allocation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/erp/paymentalloc/internal/domain/shared"
	"github.com/erp/paymentalloc/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrorKind classifies allocation failures
type ErrorKind string

const (
	KindInvalidAmount             ErrorKind = "INVALID_AMOUNT"
	KindInvalidStrategy           ErrorKind = "INVALID_STRATEGY"
	KindExceedsObligationCapacity ErrorKind = "EXCEEDS_OBLIGATION_CAPACITY"
	KindOverAllocation            ErrorKind = "OVER_ALLOCATION"
	KindStaleState                ErrorKind = "STALE_STATE"
	KindLockTimeout               ErrorKind = "LOCK_TIMEOUT"
	KindNotFound                  ErrorKind = "NOT_FOUND"
	KindInvalidState              ErrorKind = "INVALID_STATE"
	KindIntegrityHold             ErrorKind = "INTEGRITY_HOLD"
	KindPartialRollbackFailure    ErrorKind = "PARTIAL_ROLLBACK_FAILURE"
)

// Retryable reports whether the same request may succeed if sent again
func (k ErrorKind) Retryable() bool {
	return k == KindStaleState || k == KindLockTimeout
}

// Error is a typed allocation failure. It carries the authoritative
// values observed when the check failed so the caller can re-propose.
type Error struct {
	Kind    ErrorKind
	Message string
	// Ref is the obligation the failure is about, if any.
	Ref *ObligationRef
	// Index is the position of the offending line, -1 when not line-specific.
	Index     int
	Requested decimal.Decimal
	Available decimal.Decimal
	// Excess is Requested - Available for OverAllocation.
	Excess decimal.Decimal
	// PaymentID is set for failures about a payment row.
	PaymentID *uuid.UUID
	// Failed lists allocation ids a rollback could not reverse.
	Failed []uuid.UUID
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Ref != nil {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Ref)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the error as a shared.DomainError so generic handlers
// can map it by code.
func (e *Error) Unwrap() error {
	return shared.NewDomainError(string(e.Kind), e.Message)
}

// Retryable reports whether the caller should simply retry
func (e *Error) Retryable() bool {
	return e.Kind.Retryable()
}

// Details returns the authoritative values as display strings
func (e *Error) Details() map[string]string {
	d := map[string]string{}
	if e.Ref != nil {
		d["obligation_type"] = string(e.Ref.Type)
		d["obligation_id"] = e.Ref.ID.String()
	}
	if e.Index >= 0 {
		d["index"] = fmt.Sprintf("%d", e.Index)
	}
	if e.PaymentID != nil {
		d["payment_id"] = e.PaymentID.String()
	}
	switch e.Kind {
	case KindExceedsObligationCapacity, KindOverAllocation, KindStaleState, KindPartialRollbackFailure:
		d["requested"] = e.Requested.StringFixed(valueobject.MinorUnitPlaces)
		d["available"] = e.Available.StringFixed(valueobject.MinorUnitPlaces)
	case KindInvalidAmount:
		d["requested"] = e.Requested.String()
	}
	if e.Kind == KindOverAllocation {
		d["excess"] = e.Excess.StringFixed(valueobject.MinorUnitPlaces)
	}
	if len(e.Failed) > 0 {
		ids := make([]string, len(e.Failed))
		for i, id := range e.Failed {
			ids[i] = id.String()
		}
		d["failed_allocation_ids"] = strings.Join(ids, ",")
	}
	return d
}

// AsError extracts an *Error from err
func AsError(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// IsKind reports whether err is an *Error of the given kind
func IsKind(err error, kind ErrorKind) bool {
	ae, ok := AsError(err)
	return ok && ae.Kind == kind
}

// NewError creates a bare typed error
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message, Index: -1}
}

// NewNotFoundError reports an unknown payment, obligation or customer
func NewNotFoundError(what string, id uuid.UUID) *Error {
	return &Error{
		Kind:    KindNotFound,
		Message: fmt.Sprintf("%s %s not found", what, id),
		Index:   -1,
	}
}

// NewObligationNotFoundError reports an unknown or foreign obligation ref
func NewObligationNotFoundError(ref ObligationRef, index int) *Error {
	r := ref
	return &Error{
		Kind:    KindNotFound,
		Message: fmt.Sprintf("obligation %s not found for this customer", ref),
		Ref:     &r,
		Index:   index,
	}
}

// NewLockTimeoutError wraps a lock-wait or deadline failure
func NewLockTimeoutError(cause error) *Error {
	msg := "timed out waiting for row lock, please retry"
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, cause)
	}
	return &Error{Kind: KindLockTimeout, Message: msg, Index: -1}
}

// NewIntegrityHoldError reports that a record is frozen pending review
func NewIntegrityHoldError(subject HoldSubject, id uuid.UUID, reason string) *Error {
	return &Error{
		Kind:    KindIntegrityHold,
		Message: fmt.Sprintf("%s %s is on integrity hold: %s", subject, id, reason),
		Index:   -1,
	}
}

func newInvalidAmountError(amount decimal.Decimal, index int) *Error {
	return &Error{
		Kind:      KindInvalidAmount,
		Message:   fmt.Sprintf("amount %s must be positive with at most 2 decimal places", amount.String()),
		Index:     index,
		Requested: amount,
	}
}

func newCapacityError(ref ObligationRef, index int, requested, available decimal.Decimal) *Error {
	r := ref
	return &Error{
		Kind: KindExceedsObligationCapacity,
		Message: fmt.Sprintf("allocation of %s exceeds remaining %s",
			valueobject.FormatINR(requested), valueobject.FormatINR(available)),
		Ref:       &r,
		Index:     index,
		Requested: requested,
		Available: available,
	}
}

func newOverAllocationError(total, unapplied decimal.Decimal) *Error {
	excess := total.Sub(unapplied)
	return &Error{
		Kind:      KindOverAllocation,
		Message:   fmt.Sprintf("over-allocated by %s", valueobject.FormatINR(excess)),
		Index:     -1,
		Requested: total,
		Available: unapplied,
		Excess:    excess,
	}
}
