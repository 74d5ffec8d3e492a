package persistence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/erp/paymentalloc/internal/domain/allocation"
	"github.com/erp/paymentalloc/internal/domain/shared"
	"github.com/erp/paymentalloc/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PostgreSQL error codes that mean "try again later"
const (
	pgLockNotAvailable     = "55P03"
	pgDeadlockDetected     = "40P01"
	pgSerializationFailure = "40001"
)

// TxRunner runs allocation writes in a transaction with a bounded lock wait
type TxRunner struct {
	db          *gorm.DB
	lockTimeout time.Duration
}

// NewTxRunner creates a TxRunner. A zero lockTimeout leaves the server
// default in place and relies on the request deadline alone.
func NewTxRunner(db *gorm.DB, lockTimeout time.Duration) *TxRunner {
	return &TxRunner{db: db, lockTimeout: lockTimeout}
}

// InTx runs fn in one transaction. Lock waits, deadlocks and deadline
// expiry come back as a LockTimeout allocation error; typed allocation
// errors returned by fn pass through unchanged.
func (r *TxRunner) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if r.lockTimeout > 0 && tx.Dialector.Name() == "postgres" {
			stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())
			if err := tx.Exec(stmt).Error; err != nil {
				return err
			}
		}
		return fn(tx)
	})
	return translateError(ctx, err)
}

// ReadOnly runs fn in a REPEATABLE READ read-only transaction on
// PostgreSQL, so every query sees one snapshot, and in a plain
// transaction elsewhere.
func (r *TxRunner) ReadOnly(ctx context.Context, fn func(tx *gorm.DB) error) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if tx.Dialector.Name() == "postgres" {
			if err := tx.Exec("SET TRANSACTION ISOLATION LEVEL REPEATABLE READ READ ONLY").Error; err != nil {
				return err
			}
		}
		return fn(tx)
	})
	return translateError(ctx, err)
}

func translateError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := allocation.AsError(err); ok {
		return err
	}
	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		return err
	}
	if isLockFailure(err) || ctx.Err() != nil {
		return allocation.NewLockTimeoutError(err)
	}
	return fmt.Errorf("transaction failed: %w", err)
}

func isLockFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgLockNotAvailable, pgDeadlockDetected, pgSerializationFailure:
			return true
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

func forUpdate(tx *gorm.DB) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// lockPayments locks payment rows in id order. Missing ids are absent
// from the result.
func lockPayments(tx *gorm.DB, ids []uuid.UUID) (map[uuid.UUID]*allocation.Payment, error) {
	sorted := sortedIDs(ids)
	var rows []models.PaymentModel
	if len(sorted) > 0 {
		if err := forUpdate(tx).Where("id IN ?", sorted).Order("id").Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("lock payments: %w", err)
		}
	}
	out := make(map[uuid.UUID]*allocation.Payment, len(rows))
	for i := range rows {
		out[rows[i].ID] = rows[i].ToDomain()
	}
	return out, nil
}

// lockObligations locks obligation rows in (type, id) order, one
// statement per table.
func lockObligations(tx *gorm.DB, refs []allocation.ObligationRef) (map[allocation.ObligationRef]allocation.Obligation, error) {
	byType := make(map[allocation.ObligationType][]uuid.UUID)
	for _, ref := range refs {
		byType[ref.Type] = append(byType[ref.Type], ref.ID)
	}

	out := make(map[allocation.ObligationRef]allocation.Obligation, len(refs))
	for _, t := range models.ObligationTypes() {
		ids := sortedIDs(byType[t])
		if len(ids) == 0 {
			continue
		}
		found, err := loadObligations(forUpdate(tx), t, ids, true)
		if err != nil {
			return nil, fmt.Errorf("lock %s rows: %w", models.ObligationTable(t), err)
		}
		for _, o := range found {
			out[o.Ref()] = o
		}
	}
	return out, nil
}

// loadObligations reads obligations of type t by id
func loadObligations(q *gorm.DB, t allocation.ObligationType, ids []uuid.UUID, ordered bool) ([]allocation.Obligation, error) {
	q = q.Where("id IN ?", ids)
	if ordered {
		q = q.Order("id")
	}
	var out []allocation.Obligation
	switch t {
	case allocation.ObligationTypeInvoice:
		var rows []models.InvoiceModel
		if err := q.Find(&rows).Error; err != nil {
			return nil, err
		}
		for i := range rows {
			out = append(out, rows[i].ToDomain())
		}
	case allocation.ObligationTypeOpeningBalance:
		var rows []models.OpeningBalanceModel
		if err := q.Find(&rows).Error; err != nil {
			return nil, err
		}
		for i := range rows {
			out = append(out, rows[i].ToDomain())
		}
	case allocation.ObligationTypeCreditSale:
		var rows []models.CreditSaleModel
		if err := q.Find(&rows).Error; err != nil {
			return nil, err
		}
		for i := range rows {
			out = append(out, rows[i].ToDomain())
		}
	}
	return out, nil
}

// saveSatisfied writes the amount_satisfied counter back
func saveSatisfied(tx *gorm.DB, o allocation.Obligation, now time.Time) error {
	ref := o.Ref()
	res := tx.Table(models.ObligationTable(ref.Type)).
		Where("id = ?", ref.ID).
		Updates(map[string]any{
			"amount_satisfied": o.Capacity().AmountSatisfied,
			"updated_at":       now,
		})
	if res.Error != nil {
		return fmt.Errorf("update %s: %w", ref, res.Error)
	}
	return nil
}

// savePaymentBalance writes the unapplied counter, status and version back
func savePaymentBalance(tx *gorm.DB, p *allocation.Payment) error {
	res := tx.Model(&models.PaymentModel{}).
		Where("id = ?", p.ID).
		Updates(map[string]any{
			"amount_unapplied": p.AmountUnapplied,
			"status":           p.Status,
			"version":          p.Version,
			"voided_at":        p.VoidedAt,
			"void_reason":      p.VoidReason,
			"updated_at":       p.UpdatedAt,
		})
	if res.Error != nil {
		return fmt.Errorf("update payment %s: %w", p.ID, res.Error)
	}
	return nil
}

// activeHolds returns active holds for any of the subjects
func activeHolds(tx *gorm.DB, subject allocation.HoldSubject, ids []uuid.UUID) ([]models.IntegrityHoldModel, error) {
	var holds []models.IntegrityHoldModel
	if len(ids) == 0 {
		return holds, nil
	}
	err := tx.Where("subject_type = ? AND subject_id IN ? AND released_at IS NULL", subject, ids).
		Order("created_at").
		Find(&holds).Error
	if err != nil {
		return nil, fmt.Errorf("check integrity holds: %w", err)
	}
	return holds, nil
}

func sortedIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return string(out[i][:]) < string(out[j][:])
	})
	return out
}

func sortedRefs(refs []allocation.ObligationRef) []allocation.ObligationRef {
	seen := make(map[allocation.ObligationRef]struct{}, len(refs))
	out := make([]allocation.ObligationRef, 0, len(refs))
	for _, r := range refs {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
