package valueobject

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Currency represents a currency code (ISO 4217)
type Currency string

const (
	INR Currency = "INR" // Indian Rupee (default)
	USD Currency = "USD" // US Dollar
)

// DefaultCurrency is the default currency for the system
const DefaultCurrency = INR

// MinorUnitPlaces is the number of fractional digits every amount carries
const MinorUnitPlaces int32 = 2

var currencySymbols = map[Currency]string{
	INR: "₹",
	USD: "$",
}

// ErrPrecision is returned when an amount has more than two fractional digits
var ErrPrecision = errors.New("amount has more than 2 fractional digits")

// Money is a value object representing monetary amounts
// It is immutable - all operations return new Money instances
type Money struct {
	amount   decimal.Decimal
	currency Currency
}

// NewMoney creates a new Money with the specified amount and currency
func NewMoney(amount decimal.Decimal, currency Currency) (Money, error) {
	if currency == "" {
		return Money{}, errors.New("currency cannot be empty")
	}
	if !HasMinorUnitPrecision(amount) {
		return Money{}, ErrPrecision
	}
	return Money{
		amount:   amount,
		currency: currency,
	}, nil
}

// NewMoneyFromString creates Money from a string representation
func NewMoneyFromString(amount string, currency Currency) (Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount string: %w", err)
	}
	return NewMoney(d, currency)
}

// NewMoneyINR creates Money in INR without a precision check
func NewMoneyINR(amount decimal.Decimal) Money {
	return Money{amount: amount, currency: INR}
}

// Zero returns a zero-value Money in the specified currency
func Zero(currency Currency) Money {
	return Money{amount: decimal.Zero, currency: currency}
}

// HasMinorUnitPrecision reports whether d has at most two fractional digits.
// Trailing zeros do not count, so 1.500 is accepted.
func HasMinorUnitPrecision(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(MinorUnitPlaces))
}

// Amount returns the decimal amount
func (m Money) Amount() decimal.Decimal {
	return m.amount
}

// Currency returns the currency code
func (m Money) Currency() Currency {
	return m.currency
}

// IsZero returns true if the amount is zero
func (m Money) IsZero() bool {
	return m.amount.IsZero()
}

// IsPositive returns true if the amount is positive
func (m Money) IsPositive() bool {
	return m.amount.IsPositive()
}

// IsNegative returns true if the amount is negative
func (m Money) IsNegative() bool {
	return m.amount.IsNegative()
}

// Add returns a new Money with the sum of both amounts
// Returns error if currencies don't match
func (m Money) Add(other Money) (Money, error) {
	if m.currency != other.currency {
		return Money{}, fmt.Errorf("cannot add money with different currencies: %s and %s", m.currency, other.currency)
	}
	return Money{amount: m.amount.Add(other.amount), currency: m.currency}, nil
}

// Subtract returns a new Money with the difference
// Returns error if currencies don't match
func (m Money) Subtract(other Money) (Money, error) {
	if m.currency != other.currency {
		return Money{}, fmt.Errorf("cannot subtract money with different currencies: %s and %s", m.currency, other.currency)
	}
	return Money{amount: m.amount.Sub(other.amount), currency: m.currency}, nil
}

// Equals returns true if both amount and currency match
func (m Money) Equals(other Money) bool {
	return m.currency == other.currency && m.amount.Equal(other.amount)
}

// String returns the plain fixed-point amount, e.g. "1000.00"
func (m Money) String() string {
	return m.amount.StringFixed(MinorUnitPlaces)
}

// Format renders the amount with a currency symbol and digit grouping,
// e.g. "₹1,000.00". The integer part is grouped by x/text; the fraction
// is taken from the decimal so no float conversion happens.
func (m Money) Format() string {
	fixed := m.amount.Abs().StringFixed(MinorUnitPlaces)
	intPart, frac, _ := strings.Cut(fixed, ".")

	whole := m.amount.Abs().Truncate(0).IntPart()
	grouped := message.NewPrinter(language.English).Sprintf("%d", whole)
	if len(intPart) > 18 {
		// Beyond int64; fall back to the ungrouped digits.
		grouped = intPart
	}

	symbol, ok := currencySymbols[m.currency]
	if !ok {
		symbol = string(m.currency) + " "
	}

	sign := ""
	if m.amount.IsNegative() {
		sign = "-"
	}
	return sign + symbol + grouped + "." + frac
}

// FormatINR formats a bare decimal as rupees
func FormatINR(d decimal.Decimal) string {
	return NewMoneyINR(d).Format()
}
