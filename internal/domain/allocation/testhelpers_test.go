package allocation

import (
	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func day(s string) civil.Date {
	d, err := civil.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// idN returns a deterministic uuid whose first byte is n, so tests can
// reason about id ordering.
func idN(n byte) uuid.UUID {
	var id uuid.UUID
	id[0] = n
	id[15] = 1
	return id
}

func invoice(id uuid.UUID, date, maxAmount, satisfied string) *Invoice {
	return &Invoice{
		Balance:       Balance{MaxAmount: dec(maxAmount), AmountSatisfied: dec(satisfied)},
		ID:            id,
		CustomerID:    idN(200),
		InvoiceNumber: "INV-" + id.String()[:4],
		InvoiceDate:   day(date),
		DueDate:       day(date).AddDays(30),
	}
}

func creditSale(id uuid.UUID, date, maxAmount string) *CreditSale {
	return &CreditSale{
		Balance:    Balance{MaxAmount: dec(maxAmount), AmountSatisfied: decimal.Zero},
		ID:         id,
		CustomerID: idN(200),
		SaleNumber: "CS-" + id.String()[:4],
		SaleDate:   day(date),
	}
}

func opening(id uuid.UUID, maxAmount string) *OpeningBalance {
	return &OpeningBalance{
		Balance:    Balance{MaxAmount: dec(maxAmount), AmountSatisfied: decimal.Zero},
		ID:         id,
		CustomerID: idN(200),
		AsOf:       day("2020-04-01"),
	}
}
