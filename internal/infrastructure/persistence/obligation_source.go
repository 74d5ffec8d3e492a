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

// GormObligationSource reads outstanding obligations from the invoice,
// opening balance and credit sale tables.
type GormObligationSource struct {
	db *gorm.DB
}

// NewGormObligationSource creates a new GormObligationSource
func NewGormObligationSource(db *gorm.DB) *GormObligationSource {
	return &GormObligationSource{db: db}
}

const outstanding = "customer_id = ? AND amount_satisfied < max_amount"

// ListObligations returns a customer's obligations that still have a
// positive remaining, each list ordered by date then id.
func (s *GormObligationSource) ListObligations(ctx context.Context, customerID uuid.UUID) (*allocation.CustomerObligations, error) {
	db := s.db.WithContext(ctx)

	var customer models.CustomerModel
	if err := db.Select("id").Where("id = ?", customerID).Take(&customer).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, allocation.NewNotFoundError("customer", customerID)
		}
		return nil, fmt.Errorf("find customer: %w", err)
	}

	out := &allocation.CustomerObligations{
		CustomerID:  customerID,
		Invoices:    []*allocation.Invoice{},
		CreditSales: []*allocation.CreditSale{},
	}

	var invoices []models.InvoiceModel
	if err := db.Where(outstanding, customerID).Order(models.ObligationDateColumn(allocation.ObligationTypeInvoice) + ", id").Find(&invoices).Error; err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	for i := range invoices {
		out.Invoices = append(out.Invoices, invoices[i].ToDomain())
	}

	var sales []models.CreditSaleModel
	if err := db.Where(outstanding, customerID).Order(models.ObligationDateColumn(allocation.ObligationTypeCreditSale) + ", id").Find(&sales).Error; err != nil {
		return nil, fmt.Errorf("list credit sales: %w", err)
	}
	for i := range sales {
		out.CreditSales = append(out.CreditSales, sales[i].ToDomain())
	}

	var opening []models.OpeningBalanceModel
	if err := db.Where(outstanding, customerID).Limit(1).Find(&opening).Error; err != nil {
		return nil, fmt.Errorf("find opening balance: %w", err)
	}
	if len(opening) == 1 {
		out.OpeningBalance = opening[0].ToDomain()
	}

	return out, nil
}

// FindObligations resolves refs without locking; unknown refs are omitted
func (s *GormObligationSource) FindObligations(ctx context.Context, refs []allocation.ObligationRef) ([]allocation.Obligation, error) {
	byType := make(map[allocation.ObligationType][]uuid.UUID)
	for _, ref := range sortedRefs(refs) {
		byType[ref.Type] = append(byType[ref.Type], ref.ID)
	}

	var out []allocation.Obligation
	for _, t := range models.ObligationTypes() {
		ids := byType[t]
		if len(ids) == 0 {
			continue
		}
		found, err := loadObligations(s.db.WithContext(ctx), t, ids, false)
		if err != nil {
			return nil, fmt.Errorf("find %s rows: %w", models.ObligationTable(t), err)
		}
		out = append(out, found...)
	}
	return out, nil
}

var _ allocation.ObligationSource = (*GormObligationSource)(nil)
