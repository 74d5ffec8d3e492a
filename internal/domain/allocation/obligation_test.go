package allocation

import (
	"sort"
	"testing"

	"github.com/erp/paymentalloc/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBalance_SatisfyRelease(t *testing.T) {
	inv := invoice(idN(1), "2024-01-01", "500.00", "0")
	assert.Equal(t, InvoiceStatusOutstanding, inv.Status())

	require.NoError(t, inv.Satisfy(dec("400.00")))
	assert.True(t, inv.Remaining().Equal(dec("100")))
	assert.Equal(t, InvoiceStatusPartiallyPaid, inv.Status())

	err := inv.Satisfy(dec("400.00"))
	require.Error(t, err)
	ae, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindExceedsObligationCapacity, ae.Kind)
	assert.True(t, ae.Available.Equal(dec("100")))

	require.NoError(t, inv.Satisfy(dec("100.00")))
	assert.Equal(t, InvoiceStatusPaid, inv.Status())
	assert.True(t, inv.IsSettled())

	require.NoError(t, inv.Release(dec("500.00")))
	assert.True(t, inv.AmountSatisfied.IsZero())

	assert.True(t, IsKind(inv.Release(dec("0.01")), KindPartialRollbackFailure))
	assert.True(t, IsKind(inv.Satisfy(dec("0")), KindInvalidAmount))
}

func TestObligationRef_Less(t *testing.T) {
	refs := []ObligationRef{
		{Type: ObligationTypeOpeningBalance, ID: idN(1)},
		{Type: ObligationTypeInvoice, ID: idN(3)},
		{Type: ObligationTypeCreditSale, ID: idN(9)},
		{Type: ObligationTypeInvoice, ID: idN(2)},
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Less(refs[j]) })

	assert.Equal(t, []ObligationRef{
		{Type: ObligationTypeCreditSale, ID: idN(9)},
		{Type: ObligationTypeInvoice, ID: idN(2)},
		{Type: ObligationTypeInvoice, ID: idN(3)},
		{Type: ObligationTypeOpeningBalance, ID: idN(1)},
	}, refs)
}

func TestCustomerObligations(t *testing.T) {
	c := &CustomerObligations{
		CustomerID:     idN(200),
		Invoices:       []*Invoice{invoice(idN(1), "2024-01-01", "100.00", "25.00")},
		OpeningBalance: opening(idN(2), "40.00"),
		CreditSales:    []*CreditSale{creditSale(idN(3), "2024-01-02", "10.50")},
	}

	all := c.All()
	require.Len(t, all, 3)
	assert.Equal(t, ObligationTypeOpeningBalance, all[0].Ref().Type)
	assert.True(t, c.TotalRemaining().Equal(dec("125.50")))
	assert.True(t, c.RemainingByRef()[all[1].Ref()].Equal(dec("75")))

	empty := &CustomerObligations{}
	assert.Empty(t, empty.All())
	assert.True(t, empty.TotalRemaining().IsZero())
}

func TestError_UnwrapsToDomainError(t *testing.T) {
	var err error = newOverAllocationError(dec("350"), dec("300"))

	var de *shared.DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, string(KindOverAllocation), de.Code)

	assert.False(t, KindOverAllocation.Retryable())
	assert.True(t, KindLockTimeout.Retryable())
	assert.True(t, IsKind(NewLockTimeoutError(nil), KindLockTimeout))
}

func TestIntegrityHold_Release(t *testing.T) {
	h := NewIntegrityHold(HoldSubjectPayment, idN(1), HoldReasonManual, "check")
	assert.True(t, h.IsActive())

	assert.Error(t, h.Release(""))
	require.NoError(t, h.Release("auditor"))
	assert.False(t, h.IsActive())
	assert.Equal(t, "auditor", h.ReleasedBy)
	assert.Error(t, h.Release("auditor"))
}
