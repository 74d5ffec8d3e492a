package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/erp/paymentalloc/internal/domain/allocation"
	"github.com/erp/paymentalloc/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormPaymentRepository stores payments outside the allocate path
type GormPaymentRepository struct {
	db *gorm.DB
	tx *TxRunner
}

// NewGormPaymentRepository creates a new GormPaymentRepository
func NewGormPaymentRepository(db *gorm.DB, tx *TxRunner) *GormPaymentRepository {
	return &GormPaymentRepository{db: db, tx: tx}
}

// Create inserts a new payment after checking the customer exists
func (r *GormPaymentRepository) Create(ctx context.Context, payment *allocation.Payment) error {
	return r.tx.InTx(ctx, func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.CustomerModel{}).Where("id = ?", payment.CustomerID).Count(&count).Error; err != nil {
			return fmt.Errorf("check customer: %w", err)
		}
		if count == 0 {
			return allocation.NewNotFoundError("customer", payment.CustomerID)
		}
		if err := tx.Create(models.PaymentModelFromDomain(payment)).Error; err != nil {
			return fmt.Errorf("create payment: %w", err)
		}
		return nil
	})
}

// FindByID returns the payment or a NotFound allocation error
func (r *GormPaymentRepository) FindByID(ctx context.Context, id uuid.UUID) (*allocation.Payment, error) {
	var m models.PaymentModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, allocation.NewNotFoundError("payment", id)
		}
		return nil, fmt.Errorf("find payment: %w", err)
	}
	return m.ToDomain(), nil
}

// Void soft-voids a payment under its row lock
func (r *GormPaymentRepository) Void(ctx context.Context, id uuid.UUID, reason string) (*allocation.Payment, error) {
	var voided *allocation.Payment
	err := r.tx.InTx(ctx, func(tx *gorm.DB) error {
		locked, err := lockPayments(tx, []uuid.UUID{id})
		if err != nil {
			return err
		}
		p, ok := locked[id]
		if !ok {
			return allocation.NewNotFoundError("payment", id)
		}
		if err := p.Void(reason); err != nil {
			return err
		}
		if err := savePaymentBalance(tx, p); err != nil {
			return err
		}
		voided = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return voided, nil
}

// ListAllocations returns a payment's allocations, oldest first
func (r *GormPaymentRepository) ListAllocations(ctx context.Context, paymentID uuid.UUID) ([]*allocation.Allocation, error) {
	var rows []models.AllocationModel
	err := r.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("created_at, id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list allocations: %w", err)
	}
	out := make([]*allocation.Allocation, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out, nil
}

var _ allocation.PaymentRepository = (*GormPaymentRepository)(nil)
