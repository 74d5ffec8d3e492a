package persistence

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/erp/paymentalloc/internal/domain/allocation"
	"github.com/erp/paymentalloc/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newMockPostgres(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	dialector := postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	})
	gormDB, err := gorm.Open(dialector, &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)

	return gormDB, mock, mockDB
}

// uuidArg matches a uuid bound as its string form
type uuidArg uuid.UUID

func (a uuidArg) Match(v driver.Value) bool {
	switch s := v.(type) {
	case string:
		return s == uuid.UUID(a).String()
	case []byte:
		return string(s) == uuid.UUID(a).String()
	}
	return false
}

func orderedIDs() (low, high uuid.UUID) {
	low[0], high[0] = 0x01, 0xf0
	low[15], high[15] = 1, 1
	return low, high
}

func TestTxRunner_InTx_SetsLockTimeout(t *testing.T) {
	db, mock, mockDB := newMockPostgres(t)
	defer mockDB.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`SET LOCAL lock_timeout = '2500ms'`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	runner := NewTxRunner(db, 2500*time.Millisecond)
	err := runner.InTx(context.Background(), func(tx *gorm.DB) error { return nil })

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTxRunner_ReadOnly_UsesSnapshot(t *testing.T) {
	db, mock, mockDB := newMockPostgres(t)
	defer mockDB.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`SET TRANSACTION ISOLATION LEVEL REPEATABLE READ READ ONLY`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := NewTxRunner(db, 0).ReadOnly(context.Background(), func(tx *gorm.DB) error { return nil })

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockPayments_LocksInIDOrder(t *testing.T) {
	db, mock, mockDB := newMockPostgres(t)
	defer mockDB.Close()
	low, high := orderedIDs()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "payments" WHERE id IN \(\$1,\$2\) ORDER BY id FOR UPDATE`).
		WithArgs(uuidArg(low), uuidArg(high)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	err := NewTxRunner(db, 0).InTx(context.Background(), func(tx *gorm.DB) error {
		_, err := lockPayments(tx, []uuid.UUID{high, low, high})
		return err
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockObligations_LocksByTypeThenID(t *testing.T) {
	db, mock, mockDB := newMockPostgres(t)
	defer mockDB.Close()
	low, high := orderedIDs()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "credit_sales" WHERE id IN \(\$1\) ORDER BY id FOR UPDATE`).
		WithArgs(uuidArg(high)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`SELECT \* FROM "invoices" WHERE id IN \(\$1,\$2\) ORDER BY id FOR UPDATE`).
		WithArgs(uuidArg(low), uuidArg(high)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`SELECT \* FROM "opening_balances" WHERE id IN \(\$1\) ORDER BY id FOR UPDATE`).
		WithArgs(uuidArg(low)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	refs := []allocation.ObligationRef{
		{Type: allocation.ObligationTypeOpeningBalance, ID: low},
		{Type: allocation.ObligationTypeInvoice, ID: high},
		{Type: allocation.ObligationTypeCreditSale, ID: high},
		{Type: allocation.ObligationTypeInvoice, ID: low},
	}
	err := NewTxRunner(db, 0).InTx(context.Background(), func(tx *gorm.DB) error {
		_, err := lockObligations(tx, refs)
		return err
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTxRunner_InTx_LockWaitBecomesLockTimeout(t *testing.T) {
	db, mock, mockDB := newMockPostgres(t)
	defer mockDB.Close()
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`SET LOCAL lock_timeout`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT \* FROM "payments"`).
		WillReturnError(&pgconn.PgError{Code: "55P03", Message: "canceling statement due to lock timeout"})
	mock.ExpectRollback()

	err := NewTxRunner(db, time.Second).InTx(context.Background(), func(tx *gorm.DB) error {
		_, err := lockPayments(tx, []uuid.UUID{id})
		return err
	})

	ae, ok := allocation.AsError(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, allocation.KindLockTimeout, ae.Kind)
	assert.True(t, ae.Retryable())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTranslateError(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		err      error
		wantKind allocation.ErrorKind
	}{
		{"lock not available", &pgconn.PgError{Code: "55P03"}, allocation.KindLockTimeout},
		{"deadlock", fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "40P01"}), allocation.KindLockTimeout},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, allocation.KindLockTimeout},
		{"deadline", context.DeadlineExceeded, allocation.KindLockTimeout},
		{"sqlite busy", errors.New("database is locked"), allocation.KindLockTimeout},
		{"typed error passes through", allocation.NewNotFoundError("payment", uuid.Nil), allocation.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := translateError(ctx, tt.err)
			assert.Equal(t, tt.wantKind, kindOf(t, got))
		})
	}

	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, translateError(ctx, nil))
	})

	t.Run("domain error passes through", func(t *testing.T) {
		de := shared.NewDomainError("INVALID_REASON", "Void reason is required")
		assert.Same(t, de, translateError(ctx, de))
	})

	t.Run("other errors are wrapped", func(t *testing.T) {
		cause := errors.New("connection reset")
		got := translateError(ctx, cause)
		require.ErrorIs(t, got, cause)
		_, ok := allocation.AsError(got)
		assert.False(t, ok)
	})

	t.Run("cancelled context maps to lock timeout", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		got := translateError(cctx, errors.New("driver: bad connection"))
		assert.Equal(t, allocation.KindLockTimeout, kindOf(t, got))
	})
}

func TestSortedIDs(t *testing.T) {
	low, high := orderedIDs()
	assert.Equal(t, []uuid.UUID{low, high}, sortedIDs([]uuid.UUID{high, low, high, low}))
	assert.Empty(t, sortedIDs(nil))
}
