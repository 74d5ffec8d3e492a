package models

import (
	"time"

	"github.com/erp/paymentalloc/internal/domain/allocation"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BalanceColumns are the capacity columns every obligation table carries
type BalanceColumns struct {
	CustomerID      uuid.UUID       `gorm:"type:uuid;not null;index"`
	MaxAmount       decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	AmountSatisfied decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"`
}

func (c BalanceColumns) balance() allocation.Balance {
	return allocation.Balance{MaxAmount: c.MaxAmount, AmountSatisfied: c.AmountSatisfied}
}

// InvoiceModel is the persistence model for invoices
type InvoiceModel struct {
	BaseModel
	BalanceColumns
	InvoiceNumber string    `gorm:"type:varchar(50);not null;uniqueIndex"`
	InvoiceDate   time.Time `gorm:"type:date;not null"`
	DueDate       time.Time `gorm:"type:date;not null"`
}

// TableName returns the table name for GORM
func (InvoiceModel) TableName() string {
	return "invoices"
}

// ToDomain converts the persistence model to a domain Invoice
func (m *InvoiceModel) ToDomain() *allocation.Invoice {
	return &allocation.Invoice{
		Balance:       m.balance(),
		ID:            m.ID,
		CustomerID:    m.CustomerID,
		InvoiceNumber: m.InvoiceNumber,
		InvoiceDate:   DateFromColumn(m.InvoiceDate),
		DueDate:       DateFromColumn(m.DueDate),
	}
}

// OpeningBalanceModel is the persistence model for opening balances.
// customer_id is unique: at most one bucket per customer.
type OpeningBalanceModel struct {
	BaseModel
	CustomerID      uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex"`
	MaxAmount       decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	AmountSatisfied decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"`
	AsOf            time.Time       `gorm:"type:date;not null"`
}

// TableName returns the table name for GORM
func (OpeningBalanceModel) TableName() string {
	return "opening_balances"
}

// ToDomain converts the persistence model to a domain OpeningBalance
func (m *OpeningBalanceModel) ToDomain() *allocation.OpeningBalance {
	return &allocation.OpeningBalance{
		Balance:    allocation.Balance{MaxAmount: m.MaxAmount, AmountSatisfied: m.AmountSatisfied},
		ID:         m.ID,
		CustomerID: m.CustomerID,
		AsOf:       DateFromColumn(m.AsOf),
	}
}

// CreditSaleModel is the persistence model for unbilled credit sales
type CreditSaleModel struct {
	BaseModel
	BalanceColumns
	SaleNumber string    `gorm:"type:varchar(50);not null;uniqueIndex"`
	SaleDate   time.Time `gorm:"type:date;not null"`
}

// TableName returns the table name for GORM
func (CreditSaleModel) TableName() string {
	return "credit_sales"
}

// ToDomain converts the persistence model to a domain CreditSale
func (m *CreditSaleModel) ToDomain() *allocation.CreditSale {
	return &allocation.CreditSale{
		Balance:    m.balance(),
		ID:         m.ID,
		CustomerID: m.CustomerID,
		SaleNumber: m.SaleNumber,
		SaleDate:   DateFromColumn(m.SaleDate),
	}
}

// ObligationTable returns the table holding obligations of type t
func ObligationTable(t allocation.ObligationType) string {
	switch t {
	case allocation.ObligationTypeInvoice:
		return InvoiceModel{}.TableName()
	case allocation.ObligationTypeOpeningBalance:
		return OpeningBalanceModel{}.TableName()
	case allocation.ObligationTypeCreditSale:
		return CreditSaleModel{}.TableName()
	}
	return ""
}

// ObligationDateColumn returns the column the oldest-first ordering uses
func ObligationDateColumn(t allocation.ObligationType) string {
	switch t {
	case allocation.ObligationTypeInvoice:
		return "invoice_date"
	case allocation.ObligationTypeOpeningBalance:
		return "as_of"
	case allocation.ObligationTypeCreditSale:
		return "sale_date"
	}
	return "created_at"
}

// ObligationTypes lists every variant in lock order
func ObligationTypes() []allocation.ObligationType {
	return []allocation.ObligationType{
		allocation.ObligationTypeCreditSale,
		allocation.ObligationTypeInvoice,
		allocation.ObligationTypeOpeningBalance,
	}
}
