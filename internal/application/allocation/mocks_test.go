package allocation

import (
	"context"

	"github.com/erp/paymentalloc/internal/domain/allocation"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockPaymentRepository is a mock implementation of allocation.PaymentRepository
type MockPaymentRepository struct {
	mock.Mock
}

func (m *MockPaymentRepository) Create(ctx context.Context, payment *allocation.Payment) error {
	args := m.Called(ctx, payment)
	return args.Error(0)
}

func (m *MockPaymentRepository) FindByID(ctx context.Context, id uuid.UUID) (*allocation.Payment, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*allocation.Payment), args.Error(1)
}

func (m *MockPaymentRepository) Void(ctx context.Context, id uuid.UUID, reason string) (*allocation.Payment, error) {
	args := m.Called(ctx, id, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*allocation.Payment), args.Error(1)
}

func (m *MockPaymentRepository) ListAllocations(ctx context.Context, paymentID uuid.UUID) ([]*allocation.Allocation, error) {
	args := m.Called(ctx, paymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*allocation.Allocation), args.Error(1)
}

// MockObligationSource is a mock implementation of allocation.ObligationSource
type MockObligationSource struct {
	mock.Mock
}

func (m *MockObligationSource) ListObligations(ctx context.Context, customerID uuid.UUID) (*allocation.CustomerObligations, error) {
	args := m.Called(ctx, customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*allocation.CustomerObligations), args.Error(1)
}

func (m *MockObligationSource) FindObligations(ctx context.Context, refs []allocation.ObligationRef) ([]allocation.Obligation, error) {
	args := m.Called(ctx, refs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]allocation.Obligation), args.Error(1)
}

// MockAllocator is a mock implementation of allocation.Allocator
type MockAllocator struct {
	mock.Mock
}

func (m *MockAllocator) Allocate(ctx context.Context, cmd allocation.AllocateCommand) (*allocation.AllocationResult, error) {
	args := m.Called(ctx, cmd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*allocation.AllocationResult), args.Error(1)
}

// MockCompensator is a mock implementation of allocation.Compensator
type MockCompensator struct {
	mock.Mock
}

func (m *MockCompensator) Rollback(ctx context.Context, sel allocation.RollbackSelector) (*allocation.RollbackResult, error) {
	args := m.Called(ctx, sel)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*allocation.RollbackResult), args.Error(1)
}

// MockLedger is a mock implementation of allocation.Ledger
type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) ListUnapplied(ctx context.Context, filter allocation.UnappliedFilter) ([]*allocation.Payment, int64, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]*allocation.Payment), args.Get(1).(int64), args.Error(2)
}

func (m *MockLedger) UnappliedStats(ctx context.Context) (*allocation.UnappliedStats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*allocation.UnappliedStats), args.Error(1)
}

func (m *MockLedger) Reconcile(ctx context.Context) (*allocation.ReconciliationReport, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*allocation.ReconciliationReport), args.Error(1)
}

// MockHoldRepository is a mock implementation of allocation.HoldRepository
type MockHoldRepository struct {
	mock.Mock
}

func (m *MockHoldRepository) Place(ctx context.Context, holds ...*allocation.IntegrityHold) (int, error) {
	args := m.Called(ctx, holds)
	return args.Int(0), args.Error(1)
}

func (m *MockHoldRepository) FindByID(ctx context.Context, id uuid.UUID) (*allocation.IntegrityHold, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*allocation.IntegrityHold), args.Error(1)
}

func (m *MockHoldRepository) ListActive(ctx context.Context) ([]*allocation.IntegrityHold, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*allocation.IntegrityHold), args.Error(1)
}

func (m *MockHoldRepository) Release(ctx context.Context, id uuid.UUID, by string) (*allocation.IntegrityHold, error) {
	args := m.Called(ctx, id, by)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*allocation.IntegrityHold), args.Error(1)
}
