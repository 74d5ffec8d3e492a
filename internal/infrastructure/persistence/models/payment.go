package models

import (
	"time"

	"github.com/erp/paymentalloc/internal/domain/allocation"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CustomerModel is the read-only view of customers this service needs
type CustomerModel struct {
	BaseModel
	Name string `gorm:"type:varchar(200);not null"`
}

// TableName returns the table name for GORM
func (CustomerModel) TableName() string {
	return "customers"
}

// PaymentModel is the persistence model for the Payment aggregate
type PaymentModel struct {
	AggregateModel
	CustomerID      uuid.UUID                `gorm:"type:uuid;not null;index"`
	Amount          decimal.Decimal          `gorm:"type:decimal(18,2);not null"`
	PaymentDate     time.Time                `gorm:"type:date;not null"`
	PaymentMethod   allocation.PaymentMethod `gorm:"type:varchar(30);not null"`
	Reference       string                   `gorm:"type:varchar(100)"`
	AmountUnapplied decimal.Decimal          `gorm:"type:decimal(18,2);not null"`
	Status          allocation.PaymentStatus `gorm:"type:varchar(20);not null;default:'unapplied';index"`
	VoidedAt        *time.Time
	VoidReason      string `gorm:"type:varchar(500)"`
}

// TableName returns the table name for GORM
func (PaymentModel) TableName() string {
	return "payments"
}

// ToDomain converts the persistence model to a domain Payment
func (m *PaymentModel) ToDomain() *allocation.Payment {
	return &allocation.Payment{
		BaseAggregateRoot: m.ToDomainAggregateRoot(),
		CustomerID:        m.CustomerID,
		Amount:            m.Amount,
		PaymentDate:       DateFromColumn(m.PaymentDate),
		PaymentMethod:     m.PaymentMethod,
		Reference:         m.Reference,
		AmountUnapplied:   m.AmountUnapplied,
		Status:            m.Status,
		VoidedAt:          m.VoidedAt,
		VoidReason:        m.VoidReason,
	}
}

// FromDomain populates the model from a domain Payment
func (m *PaymentModel) FromDomain(p *allocation.Payment) {
	m.FromDomainAggregateRoot(p.BaseAggregateRoot)
	m.CustomerID = p.CustomerID
	m.Amount = p.Amount
	m.PaymentDate = DateColumn(p.PaymentDate)
	m.PaymentMethod = p.PaymentMethod
	m.Reference = p.Reference
	m.AmountUnapplied = p.AmountUnapplied
	m.Status = p.Status
	m.VoidedAt = p.VoidedAt
	m.VoidReason = p.VoidReason
}

// PaymentModelFromDomain creates a model from a domain Payment
func PaymentModelFromDomain(p *allocation.Payment) *PaymentModel {
	m := &PaymentModel{}
	m.FromDomain(p)
	return m
}

// AllocationModel is one row of payment_allocations
type AllocationModel struct {
	ID             uuid.UUID                 `gorm:"type:uuid;primary_key"`
	BatchID        uuid.UUID                 `gorm:"type:uuid;not null;index"`
	PaymentID      uuid.UUID                 `gorm:"type:uuid;not null;index"`
	ObligationType allocation.ObligationType `gorm:"type:varchar(20);not null;index:idx_allocation_obligation,priority:1"`
	ObligationID   uuid.UUID                 `gorm:"type:uuid;not null;index:idx_allocation_obligation,priority:2"`
	Amount         decimal.Decimal           `gorm:"type:decimal(18,2);not null"`
	CreatedAt      time.Time                 `gorm:"not null"`
}

// TableName returns the table name for GORM
func (AllocationModel) TableName() string {
	return "payment_allocations"
}

// ToDomain converts the persistence model to a domain Allocation
func (m *AllocationModel) ToDomain() *allocation.Allocation {
	return &allocation.Allocation{
		ID:             m.ID,
		BatchID:        m.BatchID,
		PaymentID:      m.PaymentID,
		ObligationType: m.ObligationType,
		ObligationID:   m.ObligationID,
		Amount:         m.Amount,
		CreatedAt:      m.CreatedAt,
	}
}

// AllocationModelFromDomain creates a model from a domain Allocation
func AllocationModelFromDomain(a *allocation.Allocation) *AllocationModel {
	return &AllocationModel{
		ID:             a.ID,
		BatchID:        a.BatchID,
		PaymentID:      a.PaymentID,
		ObligationType: a.ObligationType,
		ObligationID:   a.ObligationID,
		Amount:         a.Amount,
		CreatedAt:      a.CreatedAt,
	}
}
