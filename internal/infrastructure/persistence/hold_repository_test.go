package persistence

import (
	"context"
	"testing"

	"github.com/erp/paymentalloc/internal/domain/allocation"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGormHoldRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("place skips subjects already held", func(t *testing.T) {
		f := newFixture(t)
		subject := uuid.New()

		n, err := f.holds.Place(ctx,
			allocation.NewIntegrityHold(allocation.HoldSubjectPayment, subject, allocation.HoldReasonReconciliationMismatch, "first"),
			allocation.NewIntegrityHold(allocation.HoldSubjectPayment, subject, allocation.HoldReasonReconciliationMismatch, "duplicate in batch"),
		)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = f.holds.Place(ctx, allocation.NewIntegrityHold(allocation.HoldSubjectPayment, subject, allocation.HoldReasonManual, "again"))
		require.NoError(t, err)
		assert.Zero(t, n)

		active, err := f.holds.ListActive(ctx)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "first", active[0].Detail)
	})

	t.Run("same id under another subject type is separate", func(t *testing.T) {
		f := newFixture(t)
		id := uuid.New()
		n, err := f.holds.Place(ctx,
			allocation.NewIntegrityHold(allocation.HoldSubjectInvoice, id, allocation.HoldReasonManual, ""),
			allocation.NewIntegrityHold(allocation.HoldSubjectCreditSale, id, allocation.HoldReasonManual, ""),
		)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("release clears the hold", func(t *testing.T) {
		f := newFixture(t)
		h := allocation.NewIntegrityHold(allocation.HoldSubjectPayment, uuid.New(), allocation.HoldReasonPartialRollback, "rollback failed")
		_, err := f.holds.Place(ctx, h)
		require.NoError(t, err)

		released, err := f.holds.Release(ctx, h.ID, "auditor@example.com")
		require.NoError(t, err)
		assert.False(t, released.IsActive())
		assert.Equal(t, "auditor@example.com", released.ReleasedBy)

		stored, err := f.holds.FindByID(ctx, h.ID)
		require.NoError(t, err)
		assert.NotNil(t, stored.ReleasedAt)

		active, err := f.holds.ListActive(ctx)
		require.NoError(t, err)
		assert.Empty(t, active)

		_, err = f.holds.Release(ctx, h.ID, "auditor@example.com")
		assert.Equal(t, allocation.KindInvalidState, kindOf(t, err))

		n, err := f.holds.Place(ctx, allocation.NewIntegrityHold(h.SubjectType, h.SubjectID, allocation.HoldReasonManual, "new finding"))
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("release requires a reviewer", func(t *testing.T) {
		f := newFixture(t)
		h := allocation.NewIntegrityHold(allocation.HoldSubjectPayment, uuid.New(), allocation.HoldReasonManual, "")
		_, err := f.holds.Place(ctx, h)
		require.NoError(t, err)

		_, err = f.holds.Release(ctx, h.ID, "")
		assert.Equal(t, allocation.KindInvalidState, kindOf(t, err))
	})

	t.Run("unknown hold is not found", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.holds.FindByID(ctx, uuid.New())
		assert.Equal(t, allocation.KindNotFound, kindOf(t, err))
		_, err = f.holds.Release(ctx, uuid.New(), "someone")
		assert.Equal(t, allocation.KindNotFound, kindOf(t, err))
	})
}
