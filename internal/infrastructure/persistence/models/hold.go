package models

import (
	"time"

	"github.com/erp/paymentalloc/internal/domain/allocation"
	"github.com/google/uuid"
)

// IntegrityHoldModel is the persistence model for integrity holds
type IntegrityHoldModel struct {
	ID          uuid.UUID              `gorm:"type:uuid;primary_key"`
	SubjectType allocation.HoldSubject `gorm:"type:varchar(20);not null;index:idx_hold_subject,priority:1"`
	SubjectID   uuid.UUID              `gorm:"type:uuid;not null;index:idx_hold_subject,priority:2"`
	Reason      allocation.HoldReason  `gorm:"type:varchar(40);not null"`
	Detail      string                 `gorm:"type:text"`
	CreatedAt   time.Time              `gorm:"not null"`
	ReleasedAt  *time.Time
	ReleasedBy  string `gorm:"type:varchar(100)"`
}

// TableName returns the table name for GORM
func (IntegrityHoldModel) TableName() string {
	return "integrity_holds"
}

// ToDomain converts the persistence model to a domain IntegrityHold
func (m *IntegrityHoldModel) ToDomain() *allocation.IntegrityHold {
	return &allocation.IntegrityHold{
		ID:          m.ID,
		SubjectType: m.SubjectType,
		SubjectID:   m.SubjectID,
		Reason:      m.Reason,
		Detail:      m.Detail,
		CreatedAt:   m.CreatedAt,
		ReleasedAt:  m.ReleasedAt,
		ReleasedBy:  m.ReleasedBy,
	}
}

// FromDomain populates the model from a domain IntegrityHold
func (m *IntegrityHoldModel) FromDomain(h *allocation.IntegrityHold) {
	m.ID = h.ID
	m.SubjectType = h.SubjectType
	m.SubjectID = h.SubjectID
	m.Reason = h.Reason
	m.Detail = h.Detail
	m.CreatedAt = h.CreatedAt
	m.ReleasedAt = h.ReleasedAt
	m.ReleasedBy = h.ReleasedBy
}

// AllModels returns every model for AutoMigrate in tests
func AllModels() []any {
	return []any{
		&CustomerModel{},
		&PaymentModel{},
		&AllocationModel{},
		&InvoiceModel{},
		&OpeningBalanceModel{},
		&CreditSaleModel{},
		&IntegrityHoldModel{},
	}
}
