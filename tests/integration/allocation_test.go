package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	allocationapp "github.com/erp/paymentalloc/internal/application/allocation"
	"github.com/erp/paymentalloc/internal/domain/allocation"
	"github.com/erp/paymentalloc/internal/infrastructure/cache"
	"github.com/erp/paymentalloc/internal/infrastructure/persistence"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T, tdb *TestDB, lockTimeout time.Duration) *allocationapp.Service {
	t.Helper()
	idem := cache.NewInMemoryIdempotencyStore()
	t.Cleanup(func() { _ = idem.Close() })

	tx := persistence.NewTxRunner(tdb.DB, lockTimeout)
	return allocationapp.NewService(allocationapp.Deps{
		Payments:    persistence.NewGormPaymentRepository(tdb.DB, tx),
		Obligations: persistence.NewGormObligationSource(tdb.DB),
		Allocator:   persistence.NewGormAllocator(tx),
		Compensator: persistence.NewGormCompensator(tx),
		Ledger:      persistence.NewGormLedger(tdb.DB, tx),
		Holds:       persistence.NewGormHoldRepository(tdb.DB, tx),
		Idempotency: idem,
		JobLock:     cache.NewLocalJobLock(),
	}, allocationapp.Config{
		DefaultStrategy:   allocation.StrategyOpeningFirst,
		RequestTimeout:    10 * time.Second,
		IdempotencyTTL:    time.Hour,
		ReconcileLockTTL:  time.Minute,
		HoldOnDiscrepancy: true,
	})
}

func recordPayment(t *testing.T, svc *allocationapp.Service, customerID uuid.UUID, amount string) uuid.UUID {
	t.Helper()
	resp, err := svc.RecordPayment(context.Background(), allocationapp.RecordPaymentRequest{
		CustomerID:    customerID,
		Amount:        decimal.RequireFromString(amount),
		PaymentDate:   civil.Date{Year: 2024, Month: time.June, Day: 1},
		PaymentMethod: "bank_transfer",
		Reference:     "NEFT-" + uuid.NewString()[:6],
	})
	require.NoError(t, err)
	return resp.ID
}

func invoiceLine(id uuid.UUID, amount string) allocation.Line {
	return allocation.Line{
		Ref:    allocation.ObligationRef{Type: allocation.ObligationTypeInvoice, ID: id},
		Amount: decimal.RequireFromString(amount),
	}
}

// commitAll fires every commit at once and collects the results in order
func commitAll(svc *allocationapp.Service, inputs []allocationapp.CommitInput) []error {
	errs := make([]error, len(inputs))
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := range inputs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = svc.CommitAllocation(context.Background(), inputs[i])
		}(i)
	}
	close(start)
	wg.Wait()
	return errs
}

func TestConcurrentCommits_ObligationCapacity(t *testing.T) {
	tdb := NewTestDB(t)
	svc := newService(t, tdb, 5*time.Second)

	cust := tdb.CreateCustomer("Gupta Hardware")
	inv := tdb.CreateInvoice(cust, civil.Date{Year: 2024, Month: time.March, Day: 5}, "500")

	t.Run("two 400 commits against 500 remaining", func(t *testing.T) {
		p1 := recordPayment(t, svc, cust, "400")
		p2 := recordPayment(t, svc, cust, "400")

		errs := commitAll(svc, []allocationapp.CommitInput{
			{PaymentID: p1, Lines: []allocation.Line{invoiceLine(inv, "400")}},
			{PaymentID: p2, Lines: []allocation.Line{invoiceLine(inv, "400")}},
		})

		var failures []error
		for _, err := range errs {
			if err != nil {
				failures = append(failures, err)
			}
		}
		require.Len(t, failures, 1, "exactly one commit must win")

		ae, ok := allocation.AsError(failures[0])
		require.True(t, ok, failures[0].Error())
		assert.Equal(t, allocation.KindExceedsObligationCapacity, ae.Kind)
		assert.True(t, ae.Available.Equal(decimal.NewFromInt(100)), ae.Available.String())
		assert.True(t, tdb.AmountSatisfied(inv).Equal(decimal.NewFromInt(400)))
	})
}

func TestConcurrentCommits_ManyRacersOneWinner(t *testing.T) {
	tdb := NewTestDB(t)
	svc := newService(t, tdb, 5*time.Second)

	cust := tdb.CreateCustomer("Mehta Textiles")
	inv := tdb.CreateInvoice(cust, civil.Date{Year: 2024, Month: time.April, Day: 1}, "750")

	const racers = 8
	inputs := make([]allocationapp.CommitInput, racers)
	for i := range inputs {
		inputs[i] = allocationapp.CommitInput{
			PaymentID: recordPayment(t, svc, cust, "750"),
			Lines:     []allocation.Line{invoiceLine(inv, "750")},
		}
	}

	errs := commitAll(svc, inputs)

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		ae, ok := allocation.AsError(err)
		require.True(t, ok, err.Error())
		assert.Contains(t,
			[]allocation.ErrorKind{allocation.KindExceedsObligationCapacity, allocation.KindStaleState},
			ae.Kind)
	}
	assert.Equal(t, 1, wins)
	assert.True(t, tdb.AmountSatisfied(inv).Equal(decimal.NewFromInt(750)))
}

func TestConcurrentCommits_PaymentBalance(t *testing.T) {
	tdb := NewTestDB(t)
	svc := newService(t, tdb, 5*time.Second)

	cust := tdb.CreateCustomer("Iyer Foods")
	inv1 := tdb.CreateInvoice(cust, civil.Date{Year: 2024, Month: time.January, Day: 2}, "400")
	inv2 := tdb.CreateInvoice(cust, civil.Date{Year: 2024, Month: time.January, Day: 3}, "400")
	payment := recordPayment(t, svc, cust, "500")

	errs := commitAll(svc, []allocationapp.CommitInput{
		{PaymentID: payment, Lines: []allocation.Line{invoiceLine(inv1, "400")}},
		{PaymentID: payment, Lines: []allocation.Line{invoiceLine(inv2, "400")}},
	})

	var failed error
	for _, err := range errs {
		if err != nil {
			require.Nil(t, failed, "only one commit may fail")
			failed = err
		}
	}
	require.Error(t, failed)
	assert.True(t, allocation.IsKind(failed, allocation.KindOverAllocation), failed.Error())

	got, err := svc.GetPayment(context.Background(), payment)
	require.NoError(t, err)
	assert.Equal(t, "100.00", got.AmountUnapplied)
	assert.Equal(t, "partially_applied", got.Status)
}

func TestCommit_LockTimeout(t *testing.T) {
	tdb := NewTestDB(t)
	svc := newService(t, tdb, 300*time.Millisecond)

	cust := tdb.CreateCustomer("Rao Electricals")
	inv := tdb.CreateInvoice(cust, civil.Date{Year: 2024, Month: time.May, Day: 9}, "900")
	payment := recordPayment(t, svc, cust, "900")

	holder := tdb.DB.Begin()
	require.NoError(t, holder.Error)
	defer holder.Rollback()
	require.NoError(t, holder.Exec("SELECT id FROM invoices WHERE id = ? FOR UPDATE", inv).Error)

	start := time.Now()
	_, err := svc.CommitAllocation(context.Background(), allocationapp.CommitInput{
		PaymentID: payment,
		Lines:     []allocation.Line{invoiceLine(inv, "900")},
	})
	require.Error(t, err)
	ae, ok := allocation.AsError(err)
	require.True(t, ok, err.Error())
	assert.Equal(t, allocation.KindLockTimeout, ae.Kind)
	assert.True(t, ae.Retryable())
	assert.Less(t, time.Since(start), 5*time.Second)

	require.NoError(t, holder.Rollback().Error)

	resp, err := svc.CommitAllocation(context.Background(), allocationapp.CommitInput{
		PaymentID: payment,
		Lines:     []allocation.Line{invoiceLine(inv, "900")},
	})
	require.NoError(t, err, "retry after the lock is released must succeed")
	assert.Equal(t, "fully_applied", resp.Payment.Status)
}

func TestRollbackAndReconcile(t *testing.T) {
	tdb := NewTestDB(t)
	svc := newService(t, tdb, 5*time.Second)
	ctx := context.Background()

	cust := tdb.CreateCustomer("Kapoor Motors")
	inv1 := tdb.CreateInvoice(cust, civil.Date{Year: 2024, Month: time.February, Day: 1}, "600")
	inv2 := tdb.CreateInvoice(cust, civil.Date{Year: 2024, Month: time.February, Day: 2}, "300")
	payment := recordPayment(t, svc, cust, "1000")

	committed, err := svc.CommitAllocation(ctx, allocationapp.CommitInput{
		PaymentID: payment,
		Lines:     []allocation.Line{invoiceLine(inv1, "600"), invoiceLine(inv2, "300")},
	})
	require.NoError(t, err)
	assert.Equal(t, "100.00", committed.Payment.AmountUnapplied)

	report, err := svc.RunReconciliation(ctx)
	require.NoError(t, err)
	assert.True(t, report.Consistent)

	batch := committed.BatchID
	rolled, err := svc.RollbackAllocation(ctx, allocationapp.RollbackInput{BatchID: &batch})
	require.NoError(t, err)
	assert.Len(t, rolled.Reversed, 2)
	assert.True(t, tdb.AmountSatisfied(inv1).IsZero())
	assert.True(t, tdb.AmountSatisfied(inv2).IsZero())

	restored, err := svc.GetPayment(ctx, payment)
	require.NoError(t, err)
	assert.Equal(t, "1000.00", restored.AmountUnapplied)
	assert.Equal(t, "unapplied", restored.Status)

	report, err = svc.RunReconciliation(ctx)
	require.NoError(t, err)
	assert.True(t, report.Consistent, "rollback must leave the ledger consistent")
}

func TestReconcile_DetectsDriftAndHolds(t *testing.T) {
	tdb := NewTestDB(t)
	svc := newService(t, tdb, 5*time.Second)
	ctx := context.Background()

	cust := tdb.CreateCustomer("Nair Pharma")
	inv := tdb.CreateInvoice(cust, civil.Date{Year: 2024, Month: time.July, Day: 1}, "600")
	spare := tdb.CreateInvoice(cust, civil.Date{Year: 2024, Month: time.July, Day: 2}, "200")
	payment := recordPayment(t, svc, cust, "1000")

	_, err := svc.CommitAllocation(ctx, allocationapp.CommitInput{
		PaymentID: payment,
		Lines:     []allocation.Line{invoiceLine(inv, "600")},
	})
	require.NoError(t, err)

	// Simulate a write that bypassed the allocator.
	require.NoError(t, tdb.DB.Exec("UPDATE payments SET amount_unapplied = 500 WHERE id = ?", payment).Error)

	report, err := svc.RunReconciliation(ctx)
	require.NoError(t, err)
	assert.False(t, report.Consistent)
	require.NotEmpty(t, report.Discrepancies)
	assert.Equal(t, string(allocation.DiscrepancyUnapplied), report.Discrepancies[0].Kind)
	assert.Equal(t, payment, report.Discrepancies[0].SubjectID)
	assert.Equal(t, 1, report.HoldsPlaced)

	_, err = svc.CommitAllocation(ctx, allocationapp.CommitInput{
		PaymentID: payment,
		Lines:     []allocation.Line{invoiceLine(spare, "100")},
	})
	require.Error(t, err)
	assert.True(t, allocation.IsKind(err, allocation.KindIntegrityHold), err.Error())

	holds, err := svc.ListHolds(ctx)
	require.NoError(t, err)
	require.Len(t, holds, 1)

	// A second run finds the same drift but does not stack holds.
	report, err = svc.RunReconciliation(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.HoldsPlaced)
}

func TestSchemaRejectsOverCapacity(t *testing.T) {
	tdb := NewTestDB(t)

	cust := tdb.CreateCustomer("Bose Stationers")
	inv := tdb.CreateInvoice(cust, civil.Date{Year: 2024, Month: time.August, Day: 8}, "100")

	err := tdb.DB.Exec("UPDATE invoices SET amount_satisfied = 150 WHERE id = ?", inv).Error
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chk_invoices_capacity")
}
