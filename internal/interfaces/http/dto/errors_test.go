package dto

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/erp/paymentalloc/internal/domain/allocation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetHTTPStatus(t *testing.T) {
	tests := []struct {
		code     string
		expected int
	}{
		{ErrCodeInvalidAmount, http.StatusBadRequest},
		{ErrCodeInvalidStrategy, http.StatusBadRequest},
		{ErrCodeExceedsObligationCapacity, http.StatusUnprocessableEntity},
		{ErrCodeOverAllocation, http.StatusUnprocessableEntity},
		{ErrCodeStaleState, http.StatusConflict},
		{ErrCodeLockTimeout, http.StatusServiceUnavailable},
		{ErrCodeNotFound, http.StatusNotFound},
		{ErrCodeInvalidState, http.StatusUnprocessableEntity},
		{ErrCodeIntegrityHold, http.StatusLocked},
		{ErrCodeDuplicateRequest, http.StatusConflict},
		{ErrCodePartialRollbackFailure, http.StatusInternalServerError},
		{ErrCodeReconcileInProgress, http.StatusConflict},
		{ErrCodeInvalidPaymentDate, http.StatusBadRequest},
		{ErrCodeRequestTooLarge, http.StatusRequestEntityTooLarge},
		// Unknown code should return 500
		{"UNKNOWN_CODE", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetHTTPStatus(tt.code))
		})
	}
}

func TestEveryAllocationKindHasAStatus(t *testing.T) {
	kinds := []allocation.ErrorKind{
		allocation.KindInvalidAmount,
		allocation.KindInvalidStrategy,
		allocation.KindExceedsObligationCapacity,
		allocation.KindOverAllocation,
		allocation.KindStaleState,
		allocation.KindLockTimeout,
		allocation.KindNotFound,
		allocation.KindInvalidState,
		allocation.KindIntegrityHold,
		allocation.KindPartialRollbackFailure,
	}
	for _, k := range kinds {
		_, ok := ErrorCodeHTTPStatus[string(k)]
		assert.True(t, ok, "no status for %s", k)
		assert.Equal(t, k.Retryable(), IsRetryable(string(k)), "retryable mismatch for %s", k)
	}
}

func TestNewErrorResponseWithRequestID(t *testing.T) {
	resp := NewErrorResponseWithRequestID(ErrCodeLockTimeout, "timed out", "req-123")

	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "req-123", resp.Error.RequestID)
	assert.True(t, resp.Error.Retryable)

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":false,"error":{"code":"LOCK_TIMEOUT","message":"timed out","request_id":"req-123","retryable":true}}`, string(data))
}

func TestNewSuccessResponseWithMeta(t *testing.T) {
	resp := NewSuccessResponseWithMeta([]int{1, 2}, 101, 2, 50)

	require.NotNil(t, resp.Meta)
	assert.Equal(t, 3, resp.Meta.TotalPages)
	assert.Equal(t, 2, resp.Meta.Page)

	empty := NewSuccessResponseWithMeta([]int{}, 0, 1, 0)
	assert.Zero(t, empty.Meta.TotalPages)
}

func TestNewValidationErrorResponse(t *testing.T) {
	resp := NewValidationErrorResponse("Request validation failed", "r1", []ValidationDetail{
		{Field: "amount", Message: "Must be a positive amount with at most 2 decimal places"},
	})

	assert.Equal(t, ErrCodeValidation, resp.Error.Code)
	require.Len(t, resp.Error.Fields, 1)
	assert.Equal(t, "amount", resp.Error.Fields[0].Field)
	assert.Equal(t, http.StatusBadRequest, GetHTTPStatus(resp.Error.Code))
}
