package persistence

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/erp/paymentalloc/internal/domain/allocation"
	"github.com/erp/paymentalloc/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// fixture wires every repository against one in-memory SQLite database.
// SQLite ignores FOR UPDATE; a single connection serializes transactions.
type fixture struct {
	db          *gorm.DB
	tx          *TxRunner
	payments    *GormPaymentRepository
	obligations *GormObligationSource
	allocator   *GormAllocator
	compensator *GormCompensator
	ledger      *GormLedger
	holds       *GormHoldRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()) + "_" + uuid.NewString()[:8]
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.AllModels()...))

	tx := NewTxRunner(db, time.Second)
	return &fixture{
		db:          db,
		tx:          tx,
		payments:    NewGormPaymentRepository(db, tx),
		obligations: NewGormObligationSource(db),
		allocator:   NewGormAllocator(tx),
		compensator: NewGormCompensator(tx),
		ledger:      NewGormLedger(db, tx),
		holds:       NewGormHoldRepository(db, tx),
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func day(s string) civil.Date {
	d, err := civil.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (f *fixture) customer(t *testing.T, name string) uuid.UUID {
	t.Helper()
	m := &models.CustomerModel{Name: name}
	m.ID = uuid.New()
	m.CreatedAt = time.Now()
	m.UpdatedAt = m.CreatedAt
	require.NoError(t, f.db.Create(m).Error)
	return m.ID
}

func (f *fixture) payment(t *testing.T, customerID uuid.UUID, amount string) *allocation.Payment {
	t.Helper()
	p, err := allocation.NewPayment(customerID, dec(amount), day("2024-06-01"), allocation.PaymentMethodBankTransfer, "UTR-"+uuid.NewString()[:6])
	require.NoError(t, err)
	require.NoError(t, f.payments.Create(context.Background(), p))
	return p
}

func (f *fixture) invoice(t *testing.T, customerID uuid.UUID, date, maxAmount string) allocation.ObligationRef {
	t.Helper()
	m := &models.InvoiceModel{
		InvoiceNumber: "INV-" + uuid.NewString()[:8],
		InvoiceDate:   models.DateColumn(day(date)),
		DueDate:       models.DateColumn(day(date).AddDays(30)),
	}
	m.ID = uuid.New()
	m.CreatedAt = time.Now()
	m.UpdatedAt = m.CreatedAt
	m.CustomerID = customerID
	m.MaxAmount = dec(maxAmount)
	m.AmountSatisfied = decimal.Zero
	require.NoError(t, f.db.Create(m).Error)
	return allocation.ObligationRef{Type: allocation.ObligationTypeInvoice, ID: m.ID}
}

func (f *fixture) openingBalance(t *testing.T, customerID uuid.UUID, maxAmount string) allocation.ObligationRef {
	t.Helper()
	m := &models.OpeningBalanceModel{
		CustomerID:      customerID,
		MaxAmount:       dec(maxAmount),
		AmountSatisfied: decimal.Zero,
		AsOf:            models.DateColumn(day("2023-04-01")),
	}
	m.ID = uuid.New()
	m.CreatedAt = time.Now()
	m.UpdatedAt = m.CreatedAt
	require.NoError(t, f.db.Create(m).Error)
	return allocation.ObligationRef{Type: allocation.ObligationTypeOpeningBalance, ID: m.ID}
}

func (f *fixture) creditSale(t *testing.T, customerID uuid.UUID, date, maxAmount string) allocation.ObligationRef {
	t.Helper()
	m := &models.CreditSaleModel{
		SaleNumber: "CS-" + uuid.NewString()[:8],
		SaleDate:   models.DateColumn(day(date)),
	}
	m.ID = uuid.New()
	m.CreatedAt = time.Now()
	m.UpdatedAt = m.CreatedAt
	m.CustomerID = customerID
	m.MaxAmount = dec(maxAmount)
	m.AmountSatisfied = decimal.Zero
	require.NoError(t, f.db.Create(m).Error)
	return allocation.ObligationRef{Type: allocation.ObligationTypeCreditSale, ID: m.ID}
}

// satisfied reads an obligation's stored amount_satisfied
func (f *fixture) satisfied(t *testing.T, ref allocation.ObligationRef) decimal.Decimal {
	t.Helper()
	var row struct{ AmountSatisfied decimal.Decimal }
	require.NoError(t, f.db.Table(models.ObligationTable(ref.Type)).
		Select("amount_satisfied").Where("id = ?", ref.ID).Scan(&row).Error)
	return row.AmountSatisfied
}

func (f *fixture) reload(t *testing.T, id uuid.UUID) *allocation.Payment {
	t.Helper()
	p, err := f.payments.FindByID(context.Background(), id)
	require.NoError(t, err)
	return p
}

func line(ref allocation.ObligationRef, amount string) allocation.Line {
	return allocation.Line{Ref: ref, Amount: dec(amount)}
}

func kindOf(t *testing.T, err error) allocation.ErrorKind {
	t.Helper()
	ae, ok := allocation.AsError(err)
	require.True(t, ok, "expected allocation error, got %v", err)
	return ae.Kind
}

func assertAmount(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s, got %s %v", want, got.String(), msgAndArgs)
}
