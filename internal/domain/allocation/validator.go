package allocation

import (
	"github.com/erp/paymentalloc/internal/domain/shared/valueobject"
	"github.com/shopspring/decimal"
)

// ValidationResult is the outcome of Validate
type ValidationResult struct {
	Valid          bool            `json:"valid"`
	TotalAllocated decimal.Decimal `json:"total_allocated"`
	UnappliedAfter decimal.Decimal `json:"unapplied_after"`
	Error          *Error          `json:"-"`
}

// Err returns the validation failure as an error, nil when valid
func (r *ValidationResult) Err() error {
	if r.Error == nil {
		return nil
	}
	return r.Error
}

// Validate checks proposed lines against a payment's unapplied amount and
// each target's remaining capacity. It performs no I/O.
//
// Checks run in order and the first failure wins:
//  0. there is at least one line
//  1. every amount is positive with at most two fractional digits
//  2. every target is known and the amount fits its remaining; a target
//     named twice is checked against the cumulative amount
//  3. the total fits the unapplied amount
//
// The same function gates a proposal before commit and again inside the
// allocate transaction against locked rows.
func Validate(unapplied decimal.Decimal, lines []Line, remaining map[ObligationRef]decimal.Decimal) *ValidationResult {
	if len(lines) == 0 {
		return invalid(NewError(KindInvalidAmount, "at least one allocation line is required"))
	}
	for i, l := range lines {
		if !l.Amount.IsPositive() || !valueobject.HasMinorUnitPrecision(l.Amount) {
			return invalid(newInvalidAmountError(l.Amount, i))
		}
	}

	used := make(map[ObligationRef]decimal.Decimal, len(lines))
	for i, l := range lines {
		capacity, ok := remaining[l.Ref]
		if !ok {
			return invalid(NewObligationNotFoundError(l.Ref, i))
		}
		cumulative := used[l.Ref].Add(l.Amount)
		if cumulative.GreaterThan(capacity) {
			return invalid(newCapacityError(l.Ref, i, cumulative, capacity))
		}
		used[l.Ref] = cumulative
	}

	total := TotalOf(lines)
	if total.GreaterThan(unapplied) {
		return invalid(newOverAllocationError(total, unapplied))
	}

	return &ValidationResult{
		Valid:          true,
		TotalAllocated: total,
		UnappliedAfter: unapplied.Sub(total),
	}
}

func invalid(err *Error) *ValidationResult {
	return &ValidationResult{Valid: false, Error: err}
}
