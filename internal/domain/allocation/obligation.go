package allocation

import (
	"bytes"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ObligationType tags the variant of an obligation
type ObligationType string

const (
	ObligationTypeInvoice        ObligationType = "INVOICE"
	ObligationTypeOpeningBalance ObligationType = "OPENING_BALANCE"
	ObligationTypeCreditSale     ObligationType = "CREDIT_SALE"
)

// IsValid checks if the obligation type is known
func (t ObligationType) IsValid() bool {
	switch t {
	case ObligationTypeInvoice, ObligationTypeOpeningBalance, ObligationTypeCreditSale:
		return true
	}
	return false
}

// String returns the string representation of ObligationType
func (t ObligationType) String() string {
	return string(t)
}

// ObligationRef identifies an obligation across all variants
type ObligationRef struct {
	Type ObligationType `json:"type"`
	ID   uuid.UUID      `json:"id"`
}

// String renders the ref as TYPE:id
func (r ObligationRef) String() string {
	return string(r.Type) + ":" + r.ID.String()
}

// Less orders refs by (type, id). Every writer locks obligation rows in
// this order.
func (r ObligationRef) Less(other ObligationRef) bool {
	if r.Type != other.Type {
		return r.Type < other.Type
	}
	return bytes.Compare(r.ID[:], other.ID[:]) < 0
}

// Balance is the capacity shared by every obligation variant.
// Invariant: 0 <= AmountSatisfied <= MaxAmount.
type Balance struct {
	MaxAmount       decimal.Decimal `json:"max_amount"`
	AmountSatisfied decimal.Decimal `json:"amount_satisfied"`
}

// Remaining returns MaxAmount - AmountSatisfied
func (b *Balance) Remaining() decimal.Decimal {
	return b.MaxAmount.Sub(b.AmountSatisfied)
}

// IsSettled reports whether nothing remains to be paid
func (b *Balance) IsSettled() bool {
	return !b.Remaining().IsPositive()
}

// Satisfy applies amount against the balance
func (b *Balance) Satisfy(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return newInvalidAmountError(amount, -1)
	}
	if amount.GreaterThan(b.Remaining()) {
		return &Error{
			Kind:      KindExceedsObligationCapacity,
			Message:   "amount exceeds obligation remaining",
			Index:     -1,
			Requested: amount,
			Available: b.Remaining(),
		}
	}
	b.AmountSatisfied = b.AmountSatisfied.Add(amount)
	return nil
}

// Release reverses a previous Satisfy
func (b *Balance) Release(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return newInvalidAmountError(amount, -1)
	}
	if amount.GreaterThan(b.AmountSatisfied) {
		return &Error{
			Kind:      KindPartialRollbackFailure,
			Message:   "release exceeds amount satisfied",
			Index:     -1,
			Requested: amount,
			Available: b.AmountSatisfied,
		}
	}
	b.AmountSatisfied = b.AmountSatisfied.Sub(amount)
	return nil
}

// Obligation is anything a customer owes that a payment can be matched
// against. Implemented by *Invoice, *OpeningBalance and *CreditSale.
type Obligation interface {
	Ref() ObligationRef
	Customer() uuid.UUID
	Label() string
	// Date orders obligations for the oldest-first strategies.
	// The zero date sorts first.
	Date() civil.Date
	Remaining() decimal.Decimal
	Satisfy(amount decimal.Decimal) error
	Release(amount decimal.Decimal) error
	Capacity() *Balance
}

// InvoiceStatus is derived from an invoice's remaining amount
type InvoiceStatus string

const (
	InvoiceStatusOutstanding   InvoiceStatus = "outstanding"
	InvoiceStatusPartiallyPaid InvoiceStatus = "partially_paid"
	InvoiceStatusPaid          InvoiceStatus = "paid"
)

// Invoice is a billed obligation
type Invoice struct {
	Balance
	ID            uuid.UUID  `json:"id"`
	CustomerID    uuid.UUID  `json:"customer_id"`
	InvoiceNumber string     `json:"invoice_number"`
	InvoiceDate   civil.Date `json:"invoice_date"`
	DueDate       civil.Date `json:"due_date"`
}

// Ref implements Obligation
func (i *Invoice) Ref() ObligationRef {
	return ObligationRef{Type: ObligationTypeInvoice, ID: i.ID}
}

// Customer implements Obligation
func (i *Invoice) Customer() uuid.UUID { return i.CustomerID }

// Label implements Obligation
func (i *Invoice) Label() string { return i.InvoiceNumber }

// Date implements Obligation
func (i *Invoice) Date() civil.Date { return i.InvoiceDate }

// Capacity implements Obligation
func (i *Invoice) Capacity() *Balance { return &i.Balance }

// Status derives the invoice status from its remaining amount
func (i *Invoice) Status() InvoiceStatus {
	switch {
	case i.IsSettled():
		return InvoiceStatusPaid
	case i.AmountSatisfied.IsPositive():
		return InvoiceStatusPartiallyPaid
	default:
		return InvoiceStatusOutstanding
	}
}

// OpeningBalance is the legacy lump-sum debt bucket. At most one per customer.
type OpeningBalance struct {
	Balance
	ID         uuid.UUID  `json:"id"`
	CustomerID uuid.UUID  `json:"customer_id"`
	AsOf       civil.Date `json:"as_of"`
}

// Ref implements Obligation
func (o *OpeningBalance) Ref() ObligationRef {
	return ObligationRef{Type: ObligationTypeOpeningBalance, ID: o.ID}
}

// Customer implements Obligation
func (o *OpeningBalance) Customer() uuid.UUID { return o.CustomerID }

// Label implements Obligation
func (o *OpeningBalance) Label() string { return "Opening balance" }

// Date implements Obligation
func (o *OpeningBalance) Date() civil.Date { return o.AsOf }

// Capacity implements Obligation
func (o *OpeningBalance) Capacity() *Balance { return &o.Balance }

// CreditSale is an unbilled sale with its own outstanding amount
type CreditSale struct {
	Balance
	ID         uuid.UUID  `json:"id"`
	CustomerID uuid.UUID  `json:"customer_id"`
	SaleNumber string     `json:"sale_number"`
	SaleDate   civil.Date `json:"sale_date"`
}

// Ref implements Obligation
func (c *CreditSale) Ref() ObligationRef {
	return ObligationRef{Type: ObligationTypeCreditSale, ID: c.ID}
}

// Customer implements Obligation
func (c *CreditSale) Customer() uuid.UUID { return c.CustomerID }

// Label implements Obligation
func (c *CreditSale) Label() string { return c.SaleNumber }

// Date implements Obligation
func (c *CreditSale) Date() civil.Date { return c.SaleDate }

// Capacity implements Obligation
func (c *CreditSale) Capacity() *Balance { return &c.Balance }

// CustomerObligations is the outstanding state of one customer
type CustomerObligations struct {
	CustomerID     uuid.UUID       `json:"customer_id"`
	Invoices       []*Invoice      `json:"invoices"`
	OpeningBalance *OpeningBalance `json:"opening_balance"`
	CreditSales    []*CreditSale   `json:"credit_sales"`
}

// All flattens the obligations into one list: opening balance, invoices,
// then credit sales.
func (c *CustomerObligations) All() []Obligation {
	all := make([]Obligation, 0, len(c.Invoices)+len(c.CreditSales)+1)
	if c.OpeningBalance != nil {
		all = append(all, c.OpeningBalance)
	}
	for _, inv := range c.Invoices {
		all = append(all, inv)
	}
	for _, cs := range c.CreditSales {
		all = append(all, cs)
	}
	return all
}

// RemainingByRef indexes remaining amounts by obligation ref
func (c *CustomerObligations) RemainingByRef() map[ObligationRef]decimal.Decimal {
	all := c.All()
	out := make(map[ObligationRef]decimal.Decimal, len(all))
	for _, o := range all {
		out[o.Ref()] = o.Remaining()
	}
	return out
}

// TotalRemaining sums the remaining amount across all obligations
func (c *CustomerObligations) TotalRemaining() decimal.Decimal {
	total := decimal.Zero
	for _, o := range c.All() {
		total = total.Add(o.Remaining())
	}
	return total
}
