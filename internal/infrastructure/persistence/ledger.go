package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/paymentalloc/internal/domain/allocation"
	"github.com/erp/paymentalloc/internal/domain/shared/valueobject"
	"github.com/erp/paymentalloc/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// GormLedger answers unapplied-balance queries. The counters it reads are
// maintained by the allocator and compensator inside their transactions;
// Reconcile recomputes them from allocation rows.
type GormLedger struct {
	db *gorm.DB
	tx *TxRunner
}

// NewGormLedger creates a new GormLedger
func NewGormLedger(db *gorm.DB, tx *TxRunner) *GormLedger {
	return &GormLedger{db: db, tx: tx}
}

const openCredit = "amount_unapplied > 0 AND voided_at IS NULL"

// ListUnapplied returns payments with open credit, oldest first
func (l *GormLedger) ListUnapplied(ctx context.Context, filter allocation.UnappliedFilter) ([]*allocation.Payment, int64, error) {
	q := l.db.WithContext(ctx).Model(&models.PaymentModel{}).Where(openCredit)
	if filter.CustomerID != nil {
		q = q.Where("customer_id = ?", *filter.CustomerID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count unapplied payments: %w", err)
	}

	if filter.PageSize <= 0 {
		filter.PageSize = 50
	}
	var rows []models.PaymentModel
	err := q.Order("payment_date, created_at, id").
		Offset(filter.Offset()).
		Limit(filter.PageSize).
		Find(&rows).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list unapplied payments: %w", err)
	}

	out := make([]*allocation.Payment, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out, total, nil
}

// UnappliedStats sums open credit across all customers
func (l *GormLedger) UnappliedStats(ctx context.Context) (*allocation.UnappliedStats, error) {
	var row struct {
		TotalAmount    decimal.Decimal
		TotalCount     int64
		CustomersCount int64
	}
	err := l.db.WithContext(ctx).Model(&models.PaymentModel{}).
		Select("COALESCE(SUM(amount_unapplied), 0) AS total_amount, COUNT(*) AS total_count, COUNT(DISTINCT customer_id) AS customers_count").
		Where(openCredit).
		Scan(&row).Error
	if err != nil {
		return nil, fmt.Errorf("unapplied stats: %w", err)
	}
	return &allocation.UnappliedStats{
		TotalAmount:    row.TotalAmount.Round(valueobject.MinorUnitPlaces),
		TotalCount:     row.TotalCount,
		CustomersCount: row.CustomersCount,
	}, nil
}

type paymentTally struct {
	ID              uuid.UUID
	Amount          decimal.Decimal
	AmountUnapplied decimal.Decimal
	Status          allocation.PaymentStatus
	Allocated       decimal.Decimal
}

type obligationTally struct {
	ID              uuid.UUID
	MaxAmount       decimal.Decimal
	AmountSatisfied decimal.Decimal
	Allocated       decimal.Decimal
}

// Reconcile recomputes every counter from payment_allocations in one
// snapshot and lists the records that disagree. It writes nothing.
func (l *GormLedger) Reconcile(ctx context.Context) (*allocation.ReconciliationReport, error) {
	report := &allocation.ReconciliationReport{
		CheckedAt:     time.Now(),
		Discrepancies: []allocation.Discrepancy{},
	}

	err := l.tx.ReadOnly(ctx, func(tx *gorm.DB) error {
		var payments []paymentTally
		err := tx.Table("payments AS p").
			Select("p.id, p.amount, p.amount_unapplied, p.status, COALESCE(SUM(a.amount), 0) AS allocated").
			Joins("LEFT JOIN payment_allocations a ON a.payment_id = p.id").
			Group("p.id, p.amount, p.amount_unapplied, p.status").
			Order("p.id").
			Scan(&payments).Error
		if err != nil {
			return fmt.Errorf("tally payments: %w", err)
		}
		report.PaymentsChecked = int64(len(payments))
		for _, p := range payments {
			report.Discrepancies = append(report.Discrepancies, checkPayment(p)...)
		}

		for _, t := range models.ObligationTypes() {
			var tallies []obligationTally
			table := models.ObligationTable(t)
			err := tx.Table(table+" AS o").
				Select("o.id, o.max_amount, o.amount_satisfied, COALESCE(SUM(a.amount), 0) AS allocated").
				Joins("LEFT JOIN payment_allocations a ON a.obligation_id = o.id AND a.obligation_type = ?", t).
				Group("o.id, o.max_amount, o.amount_satisfied").
				Order("o.id").
				Scan(&tallies).Error
			if err != nil {
				return fmt.Errorf("tally %s: %w", table, err)
			}
			report.ObligationsChecked += int64(len(tallies))
			for _, o := range tallies {
				report.Discrepancies = append(report.Discrepancies, checkObligation(t, o)...)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

func checkPayment(p paymentTally) []allocation.Discrepancy {
	var out []allocation.Discrepancy
	recomputed := p.Amount.Sub(p.Allocated.Round(valueobject.MinorUnitPlaces))
	if !recomputed.Equal(p.AmountUnapplied) {
		out = append(out, allocation.Discrepancy{
			Kind:        allocation.DiscrepancyUnapplied,
			SubjectType: allocation.HoldSubjectPayment,
			SubjectID:   p.ID,
			Stored:      p.AmountUnapplied,
			Recomputed:  recomputed,
		})
	}
	if want := allocation.StatusFor(p.Amount, p.AmountUnapplied); want != p.Status {
		out = append(out, allocation.Discrepancy{
			Kind:        allocation.DiscrepancyPaymentStatus,
			SubjectType: allocation.HoldSubjectPayment,
			SubjectID:   p.ID,
			Stored:      p.AmountUnapplied,
			Recomputed:  p.AmountUnapplied,
			Detail:      fmt.Sprintf("status %s, expected %s", p.Status, want),
		})
	}
	return out
}

func checkObligation(t allocation.ObligationType, o obligationTally) []allocation.Discrepancy {
	var out []allocation.Discrepancy
	subject := allocation.HoldSubjectFor(t)
	allocated := o.Allocated.Round(valueobject.MinorUnitPlaces)
	if !allocated.Equal(o.AmountSatisfied) {
		out = append(out, allocation.Discrepancy{
			Kind:        allocation.DiscrepancySatisfied,
			SubjectType: subject,
			SubjectID:   o.ID,
			Stored:      o.AmountSatisfied,
			Recomputed:  allocated,
		})
	}
	if o.AmountSatisfied.GreaterThan(o.MaxAmount) {
		out = append(out, allocation.Discrepancy{
			Kind:        allocation.DiscrepancyOverCapacity,
			SubjectType: subject,
			SubjectID:   o.ID,
			Stored:      o.AmountSatisfied,
			Recomputed:  o.MaxAmount,
			Detail:      fmt.Sprintf("satisfied exceeds max amount %s", o.MaxAmount.StringFixed(valueobject.MinorUnitPlaces)),
		})
	}
	return out
}

var _ allocation.Ledger = (*GormLedger)(nil)
