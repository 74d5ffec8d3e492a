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

// GormHoldRepository stores integrity holds
type GormHoldRepository struct {
	db *gorm.DB
	tx *TxRunner
}

// NewGormHoldRepository creates a new GormHoldRepository
func NewGormHoldRepository(db *gorm.DB, tx *TxRunner) *GormHoldRepository {
	return &GormHoldRepository{db: db, tx: tx}
}

// Place stores holds for subjects that have no active hold yet
func (r *GormHoldRepository) Place(ctx context.Context, holds ...*allocation.IntegrityHold) (int, error) {
	placed := 0
	err := r.tx.InTx(ctx, func(tx *gorm.DB) error {
		seen := make(map[string]bool, len(holds))
		for _, h := range holds {
			key := string(h.SubjectType) + ":" + h.SubjectID.String()
			if seen[key] {
				continue
			}
			seen[key] = true

			existing, err := activeHolds(tx, h.SubjectType, []uuid.UUID{h.SubjectID})
			if err != nil {
				return err
			}
			if len(existing) > 0 {
				continue
			}
			m := &models.IntegrityHoldModel{}
			m.FromDomain(h)
			if err := tx.Create(m).Error; err != nil {
				return fmt.Errorf("create integrity hold: %w", err)
			}
			placed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return placed, nil
}

// FindByID returns the hold or a NotFound allocation error
func (r *GormHoldRepository) FindByID(ctx context.Context, id uuid.UUID) (*allocation.IntegrityHold, error) {
	var m models.IntegrityHoldModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, allocation.NewNotFoundError("integrity hold", id)
		}
		return nil, fmt.Errorf("find integrity hold: %w", err)
	}
	return m.ToDomain(), nil
}

// ListActive returns unreleased holds, oldest first
func (r *GormHoldRepository) ListActive(ctx context.Context) ([]*allocation.IntegrityHold, error) {
	var rows []models.IntegrityHoldModel
	if err := r.db.WithContext(ctx).Where("released_at IS NULL").Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list integrity holds: %w", err)
	}
	out := make([]*allocation.IntegrityHold, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out, nil
}

// Release clears a hold under its row lock
func (r *GormHoldRepository) Release(ctx context.Context, id uuid.UUID, by string) (*allocation.IntegrityHold, error) {
	var released *allocation.IntegrityHold
	err := r.tx.InTx(ctx, func(tx *gorm.DB) error {
		var m models.IntegrityHoldModel
		if err := forUpdate(tx).Where("id = ?", id).Take(&m).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return allocation.NewNotFoundError("integrity hold", id)
			}
			return fmt.Errorf("lock integrity hold: %w", err)
		}
		h := m.ToDomain()
		if err := h.Release(by); err != nil {
			return err
		}
		err := tx.Model(&models.IntegrityHoldModel{}).Where("id = ?", id).Updates(map[string]any{
			"released_at": h.ReleasedAt,
			"released_by": h.ReleasedBy,
		}).Error
		if err != nil {
			return fmt.Errorf("release integrity hold: %w", err)
		}
		released = h
		return nil
	})
	if err != nil {
		return nil, err
	}
	return released, nil
}

var _ allocation.HoldRepository = (*GormHoldRepository)(nil)
